package campaigns

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"apex-bridge/internal/chain"
)

const campaignRegistryABIJSON = `[
{"inputs":[],"name":"getCampaignCount","outputs":[{"internalType":"uint256","name":"count","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"uint256","name":"campaignId","type":"uint256"}],"name":"getCampaign","outputs":[{"components":[{"internalType":"uint256","name":"campaignId","type":"uint256"},{"internalType":"uint256","name":"advertiserId","type":"uint256"},{"components":[{"internalType":"uint256","name":"amount","type":"uint256"},{"internalType":"uint256","name":"spent","type":"uint256"},{"internalType":"uint256","name":"cpaAmount","type":"uint256"},{"internalType":"address","name":"tokenAddress","type":"address"}],"internalType":"struct ICampaignRegistry.Budget","name":"budget","type":"tuple"},{"internalType":"uint256","name":"startTime","type":"uint256"},{"internalType":"uint256","name":"expiryTime","type":"uint256"},{"internalType":"bytes","name":"spec","type":"bytes"}],"internalType":"struct ICampaignRegistry.Campaign","name":"campaign","type":"tuple"}],"stateMutability":"view","type":"function"}
]`

var (
	campaignRegistryABI abi.ABI
	stringArgs          abi.Arguments
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(campaignRegistryABIJSON))
	if err != nil {
		panic("failed to parse campaign registry ABI: " + err.Error())
	}
	campaignRegistryABI = parsed

	stringType, err := abi.NewType("string", "", nil)
	if err != nil {
		panic("failed to build string abi type: " + err.Error())
	}
	stringArgs = abi.Arguments{{Type: stringType}}
}

// Registry reads campaign state from the on-chain campaign registry.
type Registry struct {
	reader chain.Reader
	addr   common.Address
}

// NewRegistry builds a registry binding at the given contract address.
func NewRegistry(reader chain.Reader, addr common.Address) *Registry {
	return &Registry{reader: reader, addr: addr}
}

// Count returns the total number of registered campaigns.
func (r *Registry) Count(ctx context.Context) (uint64, error) {
	data, err := campaignRegistryABI.Pack("getCampaignCount")
	if err != nil {
		return 0, err
	}

	res, err := r.reader.Call(ctx, r.addr, data)
	if err != nil {
		return 0, fmt.Errorf("fetch campaign count: %w", err)
	}

	values, err := campaignRegistryABI.Unpack("getCampaignCount", res)
	if err != nil {
		return 0, err
	}
	if len(values) != 1 {
		return 0, errors.New("unexpected getCampaignCount response")
	}
	count, ok := values[0].(*big.Int)
	if !ok {
		return 0, errors.New("failed to decode campaign count")
	}
	return count.Uint64(), nil
}

// Get fetches a single campaign by its 1-indexed identity.
func (r *Registry) Get(ctx context.Context, id uint64) (Campaign, error) {
	data, err := campaignRegistryABI.Pack("getCampaign", new(big.Int).SetUint64(id))
	if err != nil {
		return Campaign{}, err
	}

	res, err := r.reader.Call(ctx, r.addr, data)
	if err != nil {
		return Campaign{}, fmt.Errorf("fetch campaign %d: %w", id, err)
	}

	var out struct {
		Campaign struct {
			CampaignId   *big.Int
			AdvertiserId *big.Int
			Budget       struct {
				Amount       *big.Int
				Spent        *big.Int
				CpaAmount    *big.Int
				TokenAddress common.Address
			}
			StartTime  *big.Int
			ExpiryTime *big.Int
			Spec       []byte
		}
	}
	if err := campaignRegistryABI.UnpackIntoInterface(&out, "getCampaign", res); err != nil {
		return Campaign{}, fmt.Errorf("decode campaign %d: %w", id, err)
	}

	c := out.Campaign
	return Campaign{
		CampaignID:   c.CampaignId,
		AdvertiserID: c.AdvertiserId,
		Budget: Budget{
			Amount:       c.Budget.Amount,
			Spent:        c.Budget.Spent,
			CPAAmount:    c.Budget.CpaAmount,
			TokenAddress: c.Budget.TokenAddress,
		},
		StartTime:  c.StartTime.Uint64(),
		ExpiryTime: c.ExpiryTime.Uint64(),
		Spec:       DecodeSpec(c.Spec),
	}, nil
}

var _ Source = (*Registry)(nil)
