package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func testRates() Rates {
	return Rates{
		InputPerMtok:  decimal.RequireFromString("0.50"),
		OutputPerMtok: decimal.RequireFromString("3.00"),
	}
}

func TestRecordUsageCost(t *testing.T) {
	store := NewStore(Options{Rates: testRates()})

	ev := store.RecordUsage(context.Background(), 1000, 500)

	want := decimal.RequireFromString("0.002")
	if !ev.CostUSD.Equal(want) {
		t.Fatalf("cost = %s, want %s", ev.CostUSD, want)
	}
	if ev.TotalTokens != 1500 {
		t.Fatalf("total tokens = %d, want 1500", ev.TotalTokens)
	}

	sum := store.Summary()
	if sum.APICallCount != 1 {
		t.Fatalf("api call count = %d, want 1", sum.APICallCount)
	}
	if !sum.TotalCostUSD.Equal(want) {
		t.Fatalf("total cost = %s, want %s", sum.TotalCostUSD, want)
	}
}

func TestRecordRevenueDeduplicates(t *testing.T) {
	store := NewStore(Options{Rates: testRates()})
	ev := RevenueEvent{
		Timestamp:  time.Now(),
		CampaignID: "7",
		AmountUSD:  decimal.RequireFromString("1.25"),
		TxHash:     "0xabc",
	}

	if !store.RecordRevenue(context.Background(), ev) {
		t.Fatal("first record rejected")
	}
	if store.RecordRevenue(context.Background(), ev) {
		t.Fatal("duplicate tx hash accepted")
	}
	if !store.Seen("0xabc") {
		t.Fatal("Seen returned false for recorded hash")
	}

	sum := store.Summary()
	if sum.AdsServedCount != 1 {
		t.Fatalf("ads served = %d, want 1", sum.AdsServedCount)
	}
	if !sum.TotalRevenueUSD.Equal(ev.AmountUSD) {
		t.Fatalf("total revenue = %s, want %s", sum.TotalRevenueUSD, ev.AmountUSD)
	}
}

func TestSummaryMargin(t *testing.T) {
	store := NewStore(Options{Rates: testRates()})

	// No revenue yet: margin stays zero rather than dividing by zero.
	store.RecordUsage(context.Background(), 1000, 500)
	sum := store.Summary()
	if !sum.ProfitMarginPct.IsZero() {
		t.Fatalf("margin with zero revenue = %s, want 0", sum.ProfitMarginPct)
	}
	if !sum.NetProfitUSD.Equal(decimal.RequireFromString("-0.002")) {
		t.Fatalf("net profit = %s, want -0.002", sum.NetProfitUSD)
	}

	store.RecordRevenue(context.Background(), RevenueEvent{
		CampaignID: "1",
		AmountUSD:  decimal.RequireFromString("0.004"),
		TxHash:     "0x1",
	})
	sum = store.Summary()
	if !sum.NetProfitUSD.Equal(decimal.RequireFromString("0.002")) {
		t.Fatalf("net profit = %s, want 0.002", sum.NetProfitUSD)
	}
	if !sum.ProfitMarginPct.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("margin = %s, want 50", sum.ProfitMarginPct)
	}
}

func TestEventCopiesAreIndependent(t *testing.T) {
	store := NewStore(Options{Rates: testRates()})
	store.RecordUsage(context.Background(), 10, 10)

	events := store.CostEvents()
	if len(events) != 1 {
		t.Fatalf("got %d cost events, want 1", len(events))
	}
	events[0].PromptTokens = 999

	if store.CostEvents()[0].PromptTokens != 10 {
		t.Fatal("mutating the returned slice changed the ledger")
	}
}
