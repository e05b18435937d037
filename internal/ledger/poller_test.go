package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type fakeReader struct {
	block    uint64
	blockErr error
	logs     []types.Log
	logsErr  error

	lastQuery ethereum.FilterQuery
}

func (f *fakeReader) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeReader) BlockNumber(ctx context.Context) (uint64, error) {
	return f.block, f.blockErr
}

func (f *fakeReader) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	f.lastQuery = query
	return f.logs, f.logsErr
}

func settlementLog(t *testing.T, campaignID, publisherID, amount int64, txHash common.Hash) types.Log {
	t.Helper()
	event := actionProcessedABI.Events["ActionProcessed"]
	data, err := event.Inputs.NonIndexed().Pack(
		big.NewInt(42),
		big.NewInt(amount),
		[32]byte{0xaa},
	)
	if err != nil {
		t.Fatalf("pack event data: %v", err)
	}
	return types.Log{
		Topics: []common.Hash{
			event.ID,
			common.BigToHash(big.NewInt(campaignID)),
			common.BigToHash(big.NewInt(publisherID)),
		},
		Data:   data,
		TxHash: txHash,
	}
}

func TestPollerRecordsRevenue(t *testing.T) {
	reader := &fakeReader{
		block: 200,
		logs: []types.Log{
			settlementLog(t, 7, 1, 1_500_000, common.Hash{0x01}),
		},
	}
	store := NewStore(Options{Rates: testRates()})
	poller := NewPoller(reader, store, PollerOptions{
		Registry:    common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		PublisherID: 1,
	}, zerolog.Nop())

	poller.tick(context.Background())

	events := store.RevenueEvents()
	if len(events) != 1 {
		t.Fatalf("got %d revenue events, want 1", len(events))
	}
	if events[0].CampaignID != "7" {
		t.Fatalf("campaign id = %s, want 7", events[0].CampaignID)
	}
	if want := decimal.RequireFromString("1.5"); !events[0].AmountUSD.Equal(want) {
		t.Fatalf("amount = %s, want %s", events[0].AmountUSD, want)
	}
	if poller.LastPolledBlock() != 200 {
		t.Fatalf("last polled block = %d, want 200", poller.LastPolledBlock())
	}

	// First run backfills a bounded window, not the whole chain.
	if got := reader.lastQuery.FromBlock.Uint64(); got != 151 {
		t.Fatalf("from block = %d, want 151", got)
	}
	if topics := reader.lastQuery.Topics; len(topics) != 3 || len(topics[2]) != 1 {
		t.Fatalf("unexpected topic filter: %v", topics)
	}
}

func TestPollerDeduplicatesByTxHash(t *testing.T) {
	reader := &fakeReader{
		block: 100,
		logs: []types.Log{
			settlementLog(t, 7, 1, 1_000_000, common.Hash{0x02}),
		},
	}
	store := NewStore(Options{Rates: testRates()})
	poller := NewPoller(reader, store, PollerOptions{PublisherID: 1}, zerolog.Nop())

	poller.tick(context.Background())
	reader.block = 110
	poller.tick(context.Background())

	if got := len(store.RevenueEvents()); got != 1 {
		t.Fatalf("got %d revenue events, want 1", got)
	}
}

func TestPollerCursorHoldsOnError(t *testing.T) {
	reader := &fakeReader{block: 100}
	store := NewStore(Options{Rates: testRates()})
	poller := NewPoller(reader, store, PollerOptions{PublisherID: 1}, zerolog.Nop())

	poller.tick(context.Background())
	if poller.LastPolledBlock() != 100 {
		t.Fatalf("last polled block = %d, want 100", poller.LastPolledBlock())
	}

	reader.block = 120
	reader.logsErr = errors.New("rpc down")
	poller.tick(context.Background())
	if poller.LastPolledBlock() != 100 {
		t.Fatalf("cursor advanced past failed scan: %d", poller.LastPolledBlock())
	}

	reader.logsErr = nil
	poller.tick(context.Background())
	if poller.LastPolledBlock() != 120 {
		t.Fatalf("last polled block = %d, want 120", poller.LastPolledBlock())
	}
}

func TestPollerSkipsUndecodableLog(t *testing.T) {
	bad := settlementLog(t, 7, 1, 1_000_000, common.Hash{0x03})
	bad.Data = []byte{0x01, 0x02}
	reader := &fakeReader{block: 100, logs: []types.Log{bad}}
	store := NewStore(Options{Rates: testRates()})
	poller := NewPoller(reader, store, PollerOptions{PublisherID: 1}, zerolog.Nop())

	poller.tick(context.Background())

	if got := len(store.RevenueEvents()); got != 0 {
		t.Fatalf("got %d revenue events, want 0", got)
	}
	// The cursor still advances so one bad log cannot wedge the poller.
	if poller.LastPolledBlock() != 100 {
		t.Fatalf("last polled block = %d, want 100", poller.LastPolledBlock())
	}
}
