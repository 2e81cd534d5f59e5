package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"price-ingest-alerts/internal/collector"
	"price-ingest-alerts/internal/merge"
)

// MergeFile merges a staged document from disk into the master store without
// running the collector.
func (a *App) MergeFile(ctx context.Context, opts MergeOptions) (merge.Summary, error) {
	raw, err := os.ReadFile(opts.Path)
	if err != nil {
		return merge.Summary{}, fmt.Errorf("read staged file: %w", err)
	}

	incoming, err := collector.ParseStaged(raw)
	if err != nil {
		return merge.Summary{}, err
	}

	master := a.newMasterStore()
	existing, err := master.Load(ctx)
	if err != nil {
		return merge.Summary{}, err
	}

	merged, summary := merge.Merge(existing, incoming, time.Now().UTC())
	log := a.Logger.With().Str("file", opts.Path).Logger()
	log.Info().Int("added", summary.Total()).Int("new_products", len(summary.NewProducts)).Msg("merge computed")

	if opts.DryRun {
		log.Warn().Msg("merge dry-run: master store not written")
		return summary, nil
	}

	if summary.Total() > 0 {
		if err := master.Save(ctx, merged); err != nil {
			return summary, err
		}
	}

	if !opts.Sync {
		return summary, nil
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return summary, err
	}
	if store == nil {
		return summary, errors.New("database.dsn not configured; cannot sync")
	}
	defer closeStore()

	backend, closeGateway := a.newGateway(ctx, store)
	defer closeGateway()

	if err := backend.SyncProducts(ctx, merged); err != nil {
		return summary, fmt.Errorf("sync products: %w", err)
	}
	return summary, nil
}
