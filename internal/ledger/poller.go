package ledger

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"apex-bridge/internal/chain"
	"apex-bridge/internal/scheduler"
)

const actionProcessedABIJSON = `[
	{
		"type": "event",
		"name": "ActionProcessed",
		"inputs": [
			{"name": "campaignId", "type": "uint256", "indexed": true},
			{"name": "publisherId", "type": "uint256", "indexed": true},
			{"name": "validatorId", "type": "uint256", "indexed": false},
			{"name": "paymentAmount", "type": "uint256", "indexed": false},
			{"name": "actionHash", "type": "bytes32", "indexed": false}
		]
	}
]`

var actionProcessedABI abi.ABI

func init() {
	var err error
	actionProcessedABI, err = abi.JSON(strings.NewReader(actionProcessedABIJSON))
	if err != nil {
		panic("ledger: invalid ActionProcessed ABI: " + err.Error())
	}
}

// PollerOptions configures a Poller.
type PollerOptions struct {
	Registry       common.Address
	PublisherID    uint64
	Interval       time.Duration
	BackfillBlocks uint64
	TokenDecimals  int32
}

// Poller watches the settlement registry for ActionProcessed events addressed
// to this publisher and records them as revenue.
type Poller struct {
	reader         chain.Reader
	store          *Store
	registry       common.Address
	publisherID    *big.Int
	interval       time.Duration
	backfillBlocks uint64
	tokenDecimals  int32
	logger         zerolog.Logger

	running atomic.Bool

	mu        sync.Mutex
	lastBlock uint64
	primed    bool
}

func NewPoller(reader chain.Reader, store *Store, opts PollerOptions, logger zerolog.Logger) *Poller {
	interval := opts.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	backfill := opts.BackfillBlocks
	if backfill == 0 {
		backfill = 50
	}
	decimals := opts.TokenDecimals
	if decimals == 0 {
		decimals = 6
	}
	return &Poller{
		reader:         reader,
		store:          store,
		registry:       opts.Registry,
		publisherID:    new(big.Int).SetUint64(opts.PublisherID),
		interval:       interval,
		backfillBlocks: backfill,
		tokenDecimals:  decimals,
		logger:         logger.With().Str("component", "revenue_poller").Logger(),
	}
}

// Run polls until ctx is cancelled. Calling Run while another Run is active
// returns immediately.
func (p *Poller) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return nil
	}
	defer p.running.Store(false)

	p.logger.Info().
		Str("registry", p.registry.Hex()).
		Str("publisher_id", p.publisherID.String()).
		Dur("interval", p.interval).
		Msg("revenue poller started")

	sched := scheduler.New(scheduler.Options{Interval: p.interval}, p.logger)
	return sched.Run(ctx, func(ctx context.Context, _ time.Time) error {
		p.tick(ctx)
		return nil
	})
}

// LastPolledBlock returns the block number up to which logs have been scanned.
func (p *Poller) LastPolledBlock() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastBlock
}

// tick scans new blocks once. The cursor only advances after a fully
// successful scan, so a failed RPC round is retried from the same block on
// the next tick.
func (p *Poller) tick(ctx context.Context) {
	current, err := p.reader.BlockNumber(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("failed to read block number")
		return
	}

	p.mu.Lock()
	if !p.primed {
		if current > p.backfillBlocks {
			p.lastBlock = current - p.backfillBlocks
		}
		p.primed = true
	}
	from := p.lastBlock
	p.mu.Unlock()

	if current <= from {
		return
	}

	eventID := actionProcessedABI.Events["ActionProcessed"].ID
	logs, err := p.reader.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from + 1),
		ToBlock:   new(big.Int).SetUint64(current),
		Addresses: []common.Address{p.registry},
		Topics: [][]common.Hash{
			{eventID},
			nil,
			{common.BigToHash(p.publisherID)},
		},
	})
	if err != nil {
		p.logger.Warn().Err(err).
			Uint64("from_block", from+1).
			Uint64("to_block", current).
			Msg("failed to filter settlement logs")
		return
	}

	for _, lg := range logs {
		p.record(ctx, lg)
	}

	p.mu.Lock()
	p.lastBlock = current
	p.mu.Unlock()
}

func (p *Poller) record(ctx context.Context, lg types.Log) {
	txHash := lg.TxHash.Hex()
	if p.store.Seen(txHash) {
		return
	}
	if len(lg.Topics) < 3 {
		p.logger.Warn().Str("tx_hash", txHash).Msg("settlement log missing indexed topics")
		return
	}
	campaignID := new(big.Int).SetBytes(lg.Topics[1].Bytes())

	var decoded struct {
		ValidatorId   *big.Int
		PaymentAmount *big.Int
		ActionHash    [32]byte
	}
	if err := actionProcessedABI.UnpackIntoInterface(&decoded, "ActionProcessed", lg.Data); err != nil {
		p.logger.Warn().Err(err).Str("tx_hash", txHash).Msg("failed to decode settlement log")
		return
	}

	amount := decimal.NewFromBigInt(decoded.PaymentAmount, -p.tokenDecimals)
	p.store.RecordRevenue(ctx, RevenueEvent{
		Timestamp:  time.Now().UTC(),
		CampaignID: campaignID.String(),
		AmountUSD:  amount,
		TxHash:     txHash,
	})
}
