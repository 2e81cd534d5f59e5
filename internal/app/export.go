package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"price-ingest-alerts/internal/normalize"
	"price-ingest-alerts/internal/snapshot"
)

// Export renders one product's history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	doc, err := a.newMasterStore().Load(ctx)
	if err != nil {
		return err
	}
	entry, ok := doc.Find(opts.Product)
	if !ok {
		return fmt.Errorf("product %s not found in master store", opts.Product)
	}

	history, err := selectWindow(entry.Chronological(), opts.From, opts.To)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		a.Logger.Info().Str("product", opts.Product.String()).Msg("no observations found for export window")
		return nil
	}

	downsampled := downsample(history, opts.MaxPoints)
	a.Logger.Info().Int("total", len(history)).Int("exported", len(downsampled)).Msg("exporting observations")

	if opts.CSVPath != "" {
		if err := writeHistoryCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeHistoryPNG(opts.PNGPath, opts.Product, downsampled); err != nil {
			return err
		}
	}

	return nil
}

// selectWindow keeps observations whose date falls in [from, to]. Empty bounds are open.
func selectWindow(history []snapshot.Observation, from, to string) ([]snapshot.Observation, error) {
	var err error
	if from != "" {
		if from, err = normalize.ParseDate(from); err != nil {
			return nil, fmt.Errorf("invalid --from value: %w", err)
		}
	}
	if to != "" {
		if to, err = normalize.ParseDate(to); err != nil {
			return nil, fmt.Errorf("invalid --to value: %w", err)
		}
	}
	if from != "" && to != "" && from > to {
		return nil, errors.New("--from must not be after --to")
	}

	selected := make([]snapshot.Observation, 0, len(history))
	for _, obs := range history {
		date := normalize.NormalizeDate(obs.Date)
		if from != "" && date < from {
			continue
		}
		if to != "" && date > to {
			continue
		}
		selected = append(selected, obs)
	}
	return selected, nil
}

func downsample(history []snapshot.Observation, max int) []snapshot.Observation {
	if max <= 0 || len(history) <= max {
		return history
	}
	if max == 1 {
		return history[len(history)-1:]
	}

	result := make([]snapshot.Observation, 0, max)
	step := float64(len(history)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(history) {
			idx = len(history) - 1
		}
		result = append(result, history[idx])
	}
	return result
}

func writeHistoryCSV(path string, history []snapshot.Observation) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	if err := writer.Write([]string{"date", "time", "price"}); err != nil {
		return err
	}
	for _, obs := range history {
		if err := writer.Write([]string{normalize.NormalizeDate(obs.Date), obs.Time, obs.Price.String()}); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeHistoryPNG(path string, product snapshot.Identity, history []snapshot.Observation) error {
	x := make([]time.Time, 0, len(history))
	y := make([]float64, 0, len(history))
	for _, obs := range history {
		day, err := time.Parse("2006-01-02", normalize.NormalizeDate(obs.Date))
		if err != nil {
			continue
		}
		x = append(x, day)
		y = append(y, obs.Price.InexactFloat64())
	}
	if len(x) < 2 {
		return errors.New("png export needs at least two dated observations")
	}

	if err := ensureDir(path); err != nil {
		return err
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  product.String(),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    product.String(),
				XValues: x,
				YValues: y,
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
