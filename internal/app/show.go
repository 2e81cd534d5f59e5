package app

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"price-ingest-alerts/internal/snapshot"
)

// Show prints a per-product summary of the master store.
func (a *App) Show(ctx context.Context, out io.Writer, opts ShowOptions) error {
	doc, err := a.newMasterStore().Load(ctx)
	if err != nil {
		return err
	}
	return renderSummary(out, doc, opts.Limit)
}

func renderSummary(out io.Writer, doc *snapshot.Document, limit int) error {
	if len(doc.Regions) == 0 {
		fmt.Fprintln(out, "master store is empty")
		return nil
	}

	entries := make([]snapshot.Entry, len(doc.Regions))
	copy(entries, doc.Regions)
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Name != entries[j].Name {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].Region < entries[j].Region
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Product\tRegion\tObservations\tLatest Date\tLatest Price\tLast Merged (UTC)")

	for _, entry := range entries {
		latestDate, latestPrice := "-", "-"
		if obs, ok := entry.Latest(); ok {
			latestDate = obs.Date
			latestPrice = obs.Price.StringFixed(2)
		}
		merged := "-"
		if entry.LastMergedAt != nil {
			merged = entry.LastMergedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(writer, "%s\t%s\t%d\t%s\t%s\t%s\n",
			sanitizeInline(entry.Name),
			sanitizeInline(entry.Region),
			len(entry.Data),
			latestDate,
			latestPrice,
			merged,
		)
	}

	if err := writer.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d products, %d observations, version %d\n", len(doc.Regions), doc.ObservationCount(), doc.Version)
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
