package alerts

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"price-ingest-alerts/internal/alerting"
	"price-ingest-alerts/internal/scheduler"
)

// CycleStats summarises one evaluation pass.
type CycleStats struct {
	Skipped    bool
	Pending    int
	Triggered  int
	Notified   int
	NotFound   int
	Failed     int
	Reconciled int
}

// Evaluator checks pending alerts against current prices and dispatches
// notifications for the ones whose condition holds.
type Evaluator struct {
	store    Store
	prices   PriceReader
	notifier alerting.Notifier
	logger   zerolog.Logger
	now      func() time.Time

	guard scheduler.Guard

	mu sync.Mutex
	// delivered holds alerts whose notification went out but whose state
	// write failed; they are marked again without a second dispatch.
	delivered map[int64]time.Time
}

// NewEvaluator wires the evaluator collaborators.
func NewEvaluator(store Store, prices PriceReader, notifier alerting.Notifier, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		store:     store,
		prices:    prices,
		notifier:  notifier,
		logger:    logger.With().Str("component", "alert_evaluator").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
		delivered: make(map[int64]time.Time),
	}
}

// Tick adapts RunCycle to the scheduler.
func (e *Evaluator) Tick(ctx context.Context, _ time.Time) error {
	_, err := e.RunCycle(ctx)
	return err
}

// RunCycle runs one evaluation pass. Overlapping calls return immediately with
// Skipped set. Per-alert failures are logged and counted, never returned.
func (e *Evaluator) RunCycle(ctx context.Context) (stats CycleStats, err error) {
	if !e.guard.TryAcquire() {
		e.logger.Info().Msg("previous evaluation still running, skipping")
		return CycleStats{Skipped: true}, nil
	}
	defer e.guard.Release()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("alert evaluation panic: %v", r)
		}
	}()

	pending, err := e.store.ListPending(ctx)
	if err != nil {
		return stats, fmt.Errorf("list pending alerts: %w", err)
	}
	stats.Pending = len(pending)

	for _, alert := range pending {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		e.evaluate(ctx, alert, &stats)
	}

	e.logger.Info().
		Int("pending", stats.Pending).
		Int("triggered", stats.Triggered).
		Int("notified", stats.Notified).
		Int("not_found", stats.NotFound).
		Int("failed", stats.Failed).
		Msg("alert evaluation finished")
	return stats, nil
}

func (e *Evaluator) evaluate(ctx context.Context, alert PendingAlert, stats *CycleStats) {
	log := e.logger.With().
		Int64("alert_id", alert.ID).
		Str("product", alert.Product.Name).
		Str("region", alert.Product.Region).
		Logger()

	var delivered *time.Time
	defer func() {
		if r := recover(); r != nil {
			stats.Failed++
			if delivered != nil {
				e.rememberDelivered(alert.ID, *delivered)
			}
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("alert evaluation panicked")
		}
	}()

	if alert.Notified {
		return
	}

	if at, ok := e.pendingMark(alert.ID); ok {
		if e.mark(ctx, log, alert.ID, at) {
			stats.Reconciled++
		} else {
			stats.Failed++
		}
		return
	}

	current, err := e.prices.CurrentPrice(ctx, alert.Product)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			stats.NotFound++
			log.Warn().Msg("product not found, skipping alert this cycle")
			return
		}
		stats.Failed++
		log.Error().Err(err).Msg("read current price failed")
		return
	}

	if !alert.Condition.Satisfied(current, alert.TargetPrice) {
		return
	}
	stats.Triggered++

	triggeredAt := e.now()
	note := alerting.Notification{
		AlertID:      alert.ID,
		Recipient:    alert.Recipient,
		ProductName:  alert.Product.Name,
		Region:       alert.Product.Region,
		CurrentPrice: current,
		TargetPrice:  alert.TargetPrice,
		Condition:    string(alert.Condition),
		TriggeredAt:  triggeredAt,
	}
	if err := e.notifier.Notify(ctx, note); err != nil {
		stats.Failed++
		log.Error().Err(err).Msg("dispatch failed, alert stays pending")
		return
	}
	delivered = &triggeredAt

	if e.mark(ctx, log, alert.ID, triggeredAt) {
		stats.Notified++
		return
	}
	e.rememberDelivered(alert.ID, triggeredAt)
	stats.Failed++
}

// mark reports whether the alert is now terminal.
func (e *Evaluator) mark(ctx context.Context, log zerolog.Logger, id int64, at time.Time) bool {
	err := e.store.MarkNotified(ctx, id, at)
	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyNotified):
		log.Warn().Msg("alert was already marked notified")
	default:
		log.Error().Err(err).Msg("mark notified failed")
		return false
	}
	e.forgetDelivered(id)
	return true
}

func (e *Evaluator) pendingMark(id int64) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	at, ok := e.delivered[id]
	return at, ok
}

func (e *Evaluator) rememberDelivered(id int64, at time.Time) {
	e.mu.Lock()
	e.delivered[id] = at
	e.mu.Unlock()
}

func (e *Evaluator) forgetDelivered(id int64) {
	e.mu.Lock()
	delete(e.delivered, id)
	e.mu.Unlock()
}
