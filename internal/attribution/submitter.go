package attribution

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"apex-bridge/internal/chain"
)

const adRegistryABIJSON = `[
{"inputs":[{"internalType":"uint256","name":"campaignId","type":"uint256"},{"internalType":"uint256","name":"publisherId","type":"uint256"},{"internalType":"uint256","name":"startTime","type":"uint256"},{"internalType":"bytes","name":"metadata","type":"bytes"}],"name":"createAd","outputs":[{"internalType":"uint256","name":"adId","type":"uint256"}],"stateMutability":"nonpayable","type":"function"}
]`

var (
	adRegistryABI abi.ABI
	stringArgs    abi.Arguments
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(adRegistryABIJSON))
	if err != nil {
		panic("failed to parse ad registry ABI: " + err.Error())
	}
	adRegistryABI = parsed

	stringType, err := abi.NewType("string", "", nil)
	if err != nil {
		panic("failed to build string abi type: " + err.Error())
	}
	stringArgs = abi.Arguments{{Type: stringType}}
}

// Kind classifies attribution failures into a stable vocabulary.
type Kind string

const (
	KindCampaignNotFound       Kind = "CampaignNotFound"
	KindCampaignNotActive      Kind = "CampaignNotActive"
	KindPublisherNotRegistered Kind = "PublisherNotRegistered"
	KindUnauthorized           Kind = "Unauthorized"
	KindDuplicateAction        Kind = "DuplicateAction"
	KindTransactionReverted    Kind = "TransactionReverted"
	KindUnknown                Kind = "Unknown"
)

// Error is a structured attribution failure.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("attribution %s: %s", e.Kind, e.Message)
}

// Result identifies the confirmed attribution transaction.
type Result struct {
	TxHash      common.Hash
	BlockNumber uint64
}

// Options parameterise the submitter.
type Options struct {
	Registry    common.Address
	PublisherID uint64
}

// Submitter creates ad-attribution records on the ad registry as this
// operator's publisher identity. It does not deduplicate; the caller owns
// the at-most-once-per-(campaign,user) guarantee.
type Submitter struct {
	writer      chain.Writer
	registry    common.Address
	publisherID *big.Int
	logger      zerolog.Logger
}

// NewSubmitter builds an attribution submitter.
func NewSubmitter(writer chain.Writer, opts Options, logger zerolog.Logger) *Submitter {
	return &Submitter{
		writer:      writer,
		registry:    opts.Registry,
		publisherID: new(big.Int).SetUint64(opts.PublisherID),
		logger:      logger.With().Str("component", "attribution").Logger(),
	}
}

// Create records one attribution for (campaign, this publisher, user). The
// call is simulated first; a rejected simulation fails with a classified
// kind and nothing is submitted.
func (s *Submitter) Create(ctx context.Context, campaignID *big.Int, userWallet string) (Result, error) {
	data, err := s.pack(campaignID, userWallet)
	if err != nil {
		return Result{}, &Error{Kind: KindUnknown, Message: err.Error()}
	}

	if err := s.writer.Simulate(ctx, s.registry, data); err != nil {
		kind := classify(err)
		s.logger.Warn().Err(err).Str("campaign", campaignID.String()).Str("kind", string(kind)).Msg("attribution simulation rejected")
		return Result{}, &Error{Kind: kind, Message: err.Error()}
	}

	txHash, err := s.writer.Submit(ctx, s.registry, data)
	if err != nil {
		return Result{}, &Error{Kind: KindUnknown, Message: err.Error()}
	}

	conf, err := s.writer.WaitConfirmed(ctx, txHash)
	if err != nil {
		return Result{}, &Error{Kind: KindUnknown, Message: err.Error()}
	}
	if conf.Reverted {
		return Result{}, &Error{Kind: KindTransactionReverted, Message: fmt.Sprintf("transaction %s reverted", txHash.Hex())}
	}

	s.logger.Info().Str("campaign", campaignID.String()).Str("tx", txHash.Hex()).Uint64("block", conf.BlockNumber).Msg("attribution recorded")
	return Result{TxHash: txHash, BlockNumber: conf.BlockNumber}, nil
}

// Simulate dry-runs the attribution without submitting anything.
func (s *Submitter) Simulate(ctx context.Context, campaignID *big.Int, userWallet string) error {
	data, err := s.pack(campaignID, userWallet)
	if err != nil {
		return &Error{Kind: KindUnknown, Message: err.Error()}
	}
	if err := s.writer.Simulate(ctx, s.registry, data); err != nil {
		return &Error{Kind: classify(err), Message: err.Error()}
	}
	return nil
}

func (s *Submitter) pack(campaignID *big.Int, userWallet string) ([]byte, error) {
	metadata, err := json.Marshal(map[string]string{"userWallet": userWallet})
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	metadataBytes, err := stringArgs.Pack(string(metadata))
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	startTime := big.NewInt(time.Now().Unix())
	return adRegistryABI.Pack("createAd", campaignID, s.publisherID, startTime, metadataBytes)
}

func classify(err error) Kind {
	switch chain.Classify(err) {
	case chain.CodeCampaignNotFound:
		return KindCampaignNotFound
	case chain.CodeCampaignNotActive, chain.CodeCampaignAlreadyExpired:
		return KindCampaignNotActive
	case chain.CodePublisherNotFound:
		return KindPublisherNotRegistered
	case chain.CodeUnauthorizedCaller:
		return KindUnauthorized
	case chain.CodeActionAlreadyProcessed:
		return KindDuplicateAction
	default:
		return KindUnknown
	}
}
