package app

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"apex-bridge/internal/ledger"
)

func TestBuildSeriesCumulative(t *testing.T) {
	base := time.Unix(1700000000, 0)
	costs := []ledger.CostEvent{
		{Timestamp: base.Add(1 * time.Minute), CostUSD: decimal.RequireFromString("0.002")},
		{Timestamp: base.Add(3 * time.Minute), CostUSD: decimal.RequireFromString("0.001")},
	}
	revenue := []ledger.RevenueEvent{
		{Timestamp: base.Add(2 * time.Minute), AmountUSD: decimal.RequireFromString("1.5"), TxHash: "0x1"},
	}

	points := buildSeries(costs, revenue)
	if len(points) != 3 {
		t.Fatalf("got %d points, want 3", len(points))
	}

	// Interleaved by timestamp: cost, revenue, cost.
	if points[0].Kind != "cost" || points[1].Kind != "revenue" || points[2].Kind != "cost" {
		t.Fatalf("unexpected ordering: %s %s %s", points[0].Kind, points[1].Kind, points[2].Kind)
	}

	last := points[2]
	if !last.CumCost.Equal(decimal.RequireFromString("0.003")) {
		t.Errorf("cumulative cost = %s", last.CumCost)
	}
	if !last.CumRevenue.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("cumulative revenue = %s", last.CumRevenue)
	}
	if !last.Net.Equal(decimal.RequireFromString("1.497")) {
		t.Errorf("net = %s", last.Net)
	}
}

func TestDownsampleKeepsEndpoints(t *testing.T) {
	points := make([]financialPoint, 100)
	for i := range points {
		points[i].Timestamp = time.Unix(int64(i), 0)
	}

	out := downsample(points, 10)
	if len(out) != 10 {
		t.Fatalf("got %d points, want 10", len(out))
	}
	if !out[0].Timestamp.Equal(points[0].Timestamp) {
		t.Error("first point dropped")
	}
	if !out[9].Timestamp.Equal(points[99].Timestamp) {
		t.Error("last point dropped")
	}

	if got := downsample(points, 200); len(got) != 100 {
		t.Fatalf("downsample should be a no-op when under the limit, got %d", len(got))
	}
}

func TestDownsampleToSinglePoint(t *testing.T) {
	points := make([]financialPoint, 5)
	for i := range points {
		points[i].Timestamp = time.Unix(int64(i), 0)
	}

	out := downsample(points, 1)
	if len(out) != 1 {
		t.Fatalf("got %d points, want 1", len(out))
	}
	if !out[0].Timestamp.Equal(points[4].Timestamp) {
		t.Errorf("single-point downsample kept %s, want the latest point", out[0].Timestamp)
	}
}
