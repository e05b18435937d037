package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var million = decimal.NewFromInt(1_000_000)

// Rates holds USD prices per million tokens.
type Rates struct {
	InputPerMtok  decimal.Decimal
	OutputPerMtok decimal.Decimal
}

// Archiver mirrors ledger entries to durable storage. The store never reads
// them back; archive failures are logged and do not affect the in-memory
// ledgers.
type Archiver interface {
	ArchiveCost(ctx context.Context, ev CostEvent) error
	ArchiveRevenue(ctx context.Context, ev RevenueEvent) error
}

// Options configures a Store.
type Options struct {
	Rates    Rates
	Archiver Archiver
	Logger   zerolog.Logger
}

// Store holds the cost and revenue ledgers. All methods are safe for
// concurrent use.
type Store struct {
	rates    Rates
	archiver Archiver
	logger   zerolog.Logger

	mu      sync.Mutex
	costs   []CostEvent
	revenue []RevenueEvent
	seen    map[string]struct{}
}

func NewStore(opts Options) *Store {
	return &Store{
		rates:    opts.Rates,
		archiver: opts.Archiver,
		logger:   opts.Logger.With().Str("component", "ledger").Logger(),
		seen:     make(map[string]struct{}),
	}
}

// RecordUsage appends a cost event for one generation call and returns it.
func (s *Store) RecordUsage(ctx context.Context, promptTokens, outputTokens int) CostEvent {
	in := decimal.NewFromInt(int64(promptTokens)).Mul(s.rates.InputPerMtok).Div(million)
	out := decimal.NewFromInt(int64(outputTokens)).Mul(s.rates.OutputPerMtok).Div(million)
	ev := CostEvent{
		Timestamp:    time.Now().UTC(),
		PromptTokens: promptTokens,
		OutputTokens: outputTokens,
		TotalTokens:  promptTokens + outputTokens,
		CostUSD:      in.Add(out),
	}

	s.mu.Lock()
	s.costs = append(s.costs, ev)
	s.mu.Unlock()

	s.logger.Debug().
		Int("prompt_tokens", promptTokens).
		Int("output_tokens", outputTokens).
		Str("cost_usd", ev.CostUSD.String()).
		Msg("usage recorded")

	s.archive(ctx, func(a Archiver) error { return a.ArchiveCost(ctx, ev) })
	return ev
}

// RecordRevenue appends a revenue event unless its transaction hash has been
// seen before. It reports whether the event was recorded.
func (s *Store) RecordRevenue(ctx context.Context, ev RevenueEvent) bool {
	s.mu.Lock()
	if _, dup := s.seen[ev.TxHash]; dup {
		s.mu.Unlock()
		return false
	}
	s.seen[ev.TxHash] = struct{}{}
	s.revenue = append(s.revenue, ev)
	s.mu.Unlock()

	s.logger.Info().
		Str("campaign_id", ev.CampaignID).
		Str("amount_usd", ev.AmountUSD.String()).
		Str("tx_hash", ev.TxHash).
		Msg("revenue recorded")

	s.archive(ctx, func(a Archiver) error { return a.ArchiveRevenue(ctx, ev) })
	return true
}

// Seen reports whether a transaction hash is already in the revenue ledger.
func (s *Store) Seen(txHash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[txHash]
	return ok
}

// Summary folds both ledgers into a financial snapshot.
func (s *Store) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out Summary
	for _, ev := range s.costs {
		out.TotalCostUSD = out.TotalCostUSD.Add(ev.CostUSD)
	}
	for _, ev := range s.revenue {
		out.TotalRevenueUSD = out.TotalRevenueUSD.Add(ev.AmountUSD)
	}
	out.NetProfitUSD = out.TotalRevenueUSD.Sub(out.TotalCostUSD)
	if out.TotalRevenueUSD.IsPositive() {
		out.ProfitMarginPct = out.NetProfitUSD.Div(out.TotalRevenueUSD).Mul(decimal.NewFromInt(100))
	}
	out.APICallCount = len(s.costs)
	out.AdsServedCount = len(s.revenue)
	return out
}

// CostEvents returns a copy of the cost ledger in insertion order.
func (s *Store) CostEvents() []CostEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CostEvent, len(s.costs))
	copy(out, s.costs)
	return out
}

// RevenueEvents returns a copy of the revenue ledger in insertion order.
func (s *Store) RevenueEvents() []RevenueEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RevenueEvent, len(s.revenue))
	copy(out, s.revenue)
	return out
}

func (s *Store) archive(ctx context.Context, fn func(Archiver) error) {
	if s.archiver == nil {
		return
	}
	if err := fn(s.archiver); err != nil {
		s.logger.Warn().Err(err).Msg("failed to archive ledger event")
	}
}
