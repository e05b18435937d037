package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"apex-bridge/internal/ledger"
)

// ExportOptions selects the window and output targets for Export.
type ExportOptions struct {
	CSVPath   string
	PNGPath   string
	From      *time.Time
	To        *time.Time
	MaxPoints int
}

// financialPoint is one step of the cumulative profit-and-loss series.
type financialPoint struct {
	Timestamp  time.Time
	Kind       string
	Amount     decimal.Decimal
	CumCost    decimal.Decimal
	CumRevenue decimal.Decimal
	Net        decimal.Decimal
}

// Export renders the archived financial history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-30 * 24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	costs, err := store.ListCostEventsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	revenue, err := store.ListRevenueEventsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	points := buildSeries(costs, revenue)
	if len(points) == 0 {
		a.Logger.Info().Msg("no financial events found for export window")
		return nil
	}

	downsampled := downsample(points, opts.MaxPoints)
	a.Logger.Info().Int("total", len(points)).Int("exported", len(downsampled)).Msg("exporting financial history")

	if opts.CSVPath != "" {
		if err := writeCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writePNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}
	return nil
}

func buildSeries(costs []ledger.CostEvent, revenue []ledger.RevenueEvent) []financialPoint {
	points := make([]financialPoint, 0, len(costs)+len(revenue))
	for _, ev := range costs {
		points = append(points, financialPoint{Timestamp: ev.Timestamp, Kind: "cost", Amount: ev.CostUSD})
	}
	for _, ev := range revenue {
		points = append(points, financialPoint{Timestamp: ev.Timestamp, Kind: "revenue", Amount: ev.AmountUSD})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })

	var cumCost, cumRevenue decimal.Decimal
	for i := range points {
		if points[i].Kind == "cost" {
			cumCost = cumCost.Add(points[i].Amount)
		} else {
			cumRevenue = cumRevenue.Add(points[i].Amount)
		}
		points[i].CumCost = cumCost
		points[i].CumRevenue = cumRevenue
		points[i].Net = cumRevenue.Sub(cumCost)
	}
	return points
}

func downsample(points []financialPoint, max int) []financialPoint {
	if max <= 0 || len(points) <= max {
		return points
	}
	// With a single slot the step formula divides by zero; the latest point
	// carries the full cumulative totals.
	if max == 1 {
		return points[len(points)-1:]
	}

	result := make([]financialPoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writeCSV(path string, points []financialPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"timestamp", "kind", "amount_usd", "cumulative_cost_usd", "cumulative_revenue_usd", "net_usd"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, p := range points {
		record := []string{
			p.Timestamp.UTC().Format(time.RFC3339),
			p.Kind,
			p.Amount.String(),
			p.CumCost.String(),
			p.CumRevenue.String(),
			p.Net.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writePNG(path string, points []financialPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(points))
	cost := make([]float64, len(points))
	revenue := make([]float64, len(points))
	net := make([]float64, len(points))

	for i, p := range points {
		x[i] = p.Timestamp
		cost[i] = p.CumCost.InexactFloat64()
		revenue[i] = p.CumRevenue.InexactFloat64()
		net[i] = p.Net.InexactFloat64()
	}

	usdFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "USD (cumulative)",
			ValueFormatter: usdFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Cost",
				XValues: x,
				YValues: cost,
			},
			chart.TimeSeries{
				Name:    "Revenue",
				XValues: x,
				YValues: revenue,
			},
			chart.TimeSeries{
				Name:    "Net",
				XValues: x,
				YValues: net,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
