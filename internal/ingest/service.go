package ingest

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"price-ingest-alerts/internal/broadcast"
	"price-ingest-alerts/internal/collector"
	"price-ingest-alerts/internal/merge"
	"price-ingest-alerts/internal/scheduler"
	"price-ingest-alerts/internal/snapshot"
	"price-ingest-alerts/internal/storage"
)

// Outcome classifies how an ingestion cycle ended.
type Outcome string

const (
	OutcomeSkipped         Outcome = "skipped"
	OutcomeNoData          Outcome = "no_data"
	OutcomeMerged          Outcome = "merged"
	OutcomeCollectorFailed Outcome = "collector_failed"
	OutcomeFormatError     Outcome = "format_error"
	OutcomeStoreFailed     Outcome = "store_failed"
	OutcomeSyncFailed      Outcome = "sync_failed"
)

// Result describes one ingestion cycle.
type Result struct {
	CycleID     string
	Outcome     Outcome
	Added       int
	Changed     []snapshot.Identity
	NewProducts []snapshot.Identity
	Synced      bool
}

// MasterStore is the durable snapshot store.
type MasterStore interface {
	Load(ctx context.Context) (*snapshot.Document, error)
	Save(ctx context.Context, doc *snapshot.Document) error
}

// Service runs ingestion cycles: collect, merge, persist, sync, broadcast.
// At most one cycle runs at a time; a cycle started while another is in
// flight is dropped.
type Service struct {
	collector collector.Collector
	store     MasterStore
	gateway   storage.SyncGateway
	publisher broadcast.Publisher
	logger    zerolog.Logger
	now       func() time.Time

	locker  storage.AdvisoryLocker
	lockKey int64

	guard scheduler.Guard
	// syncPending and unpublished are only touched while guard is held.
	syncPending bool
	unpublished map[snapshot.Identity]int
}

// New constructs the ingestion service. gateway, publisher and locker may be nil.
func New(col collector.Collector, store MasterStore, gateway storage.SyncGateway, publisher broadcast.Publisher, locker storage.AdvisoryLocker, lockKey int64, logger zerolog.Logger) *Service {
	if publisher == nil {
		publisher = broadcast.Discard{}
	}
	return &Service{
		collector:   col,
		store:       store,
		gateway:     gateway,
		publisher:   publisher,
		logger:      logger.With().Str("component", "ingest").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
		locker:      locker,
		lockKey:     lockKey,
		unpublished: make(map[snapshot.Identity]int),
	}
}

// Tick adapts RunCycle to the scheduler.
func (s *Service) Tick(ctx context.Context, _ time.Time) error {
	_, err := s.RunCycle(ctx)
	return err
}

// SyncPending reports whether the last sync attempt failed and awaits a retry.
func (s *Service) SyncPending() bool {
	return s.syncPending
}

// RunCycle executes one ingestion cycle. The store is left untouched on every
// failure before the merge is persisted.
func (s *Service) RunCycle(ctx context.Context) (result Result, err error) {
	if !s.guard.TryAcquire() {
		s.logger.Info().Msg("ingestion already running, skipping")
		return Result{Outcome: OutcomeSkipped}, nil
	}
	defer s.guard.Release()

	result.CycleID = uuid.NewString()
	log := s.logger.With().Str("cycle_id", result.CycleID).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("ingestion cycle panicked")
			err = fmt.Errorf("ingestion cycle panic: %v", r)
		}
	}()

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		result.Outcome = OutcomeSkipped
		return result, err
	}
	if !proceed {
		log.Info().Msg("advisory lock held by another process, skipping")
		result.Outcome = OutcomeSkipped
		return result, nil
	}
	if unlock != nil {
		defer unlock()
	}

	started := s.now()
	result, err = s.execute(ctx, log, result)
	var event *zerolog.Event
	if err != nil {
		event = log.Error().Err(err)
	} else {
		event = log.Info()
	}
	event.Str("outcome", string(result.Outcome)).
		Int("added", result.Added).
		Int("changed_products", len(result.Changed)).
		Bool("synced", result.Synced).
		Dur("elapsed", s.now().Sub(started)).
		Msg("ingestion cycle finished")
	return result, err
}

func (s *Service) execute(ctx context.Context, log zerolog.Logger, result Result) (Result, error) {
	staged, err := s.collector.Collect(ctx)
	if err != nil {
		var formatErr *collector.FormatError
		if errors.As(err, &formatErr) {
			result.Outcome = OutcomeFormatError
			return result, fmt.Errorf("staged data rejected: %w", err)
		}
		result.Outcome = OutcomeCollectorFailed
		return result, fmt.Errorf("collector: %w", err)
	}

	if staged == nil {
		result.Outcome = OutcomeNoData
		if !s.syncPending {
			log.Debug().Msg("collector produced no new data")
			return result, nil
		}
		existing, err := s.store.Load(ctx)
		if err != nil {
			result.Outcome = OutcomeStoreFailed
			return result, fmt.Errorf("load master store: %w", err)
		}
		log.Info().Msg("retrying pending sync")
		return s.sync(ctx, existing, result)
	}

	existing, err := s.store.Load(ctx)
	if err != nil {
		result.Outcome = OutcomeStoreFailed
		return result, fmt.Errorf("load master store: %w", err)
	}

	merged, summary := merge.Merge(existing, staged, s.now())
	result.Added = summary.Total()
	result.Changed = summary.Changed()
	result.NewProducts = summary.NewProducts

	if summary.Total() > 0 || len(summary.NewProducts) > 0 {
		if err := s.store.Save(ctx, merged); err != nil {
			result.Outcome = OutcomeStoreFailed
			return result, fmt.Errorf("save master store: %w", err)
		}
	}

	if err := s.collector.Clear(ctx); err != nil {
		log.Warn().Err(err).Msg("clear staged output failed; next cycle will merge it again")
	}

	for _, id := range result.NewProducts {
		log.Info().Str("product", id.Name).Str("region", id.Region).Msg("new product tracked")
	}

	for _, id := range result.Changed {
		s.unpublished[id] += summary.Added[id]
	}

	result.Outcome = OutcomeMerged
	if summary.Total() == 0 && !s.syncPending {
		return result, nil
	}
	return s.sync(ctx, s.syncScope(merged, result.Changed), result)
}

// syncScope narrows doc to the products that grew this cycle. While an earlier
// sync is still pending the whole document is re-supplied.
func (s *Service) syncScope(doc *snapshot.Document, changed []snapshot.Identity) *snapshot.Document {
	if s.syncPending {
		return doc
	}
	scoped := &snapshot.Document{
		Regions:      make([]snapshot.Entry, 0, len(changed)),
		LastMergedAt: doc.LastMergedAt,
		Version:      doc.Version,
	}
	for _, id := range changed {
		if entry, ok := doc.Find(id); ok {
			scoped.Regions = append(scoped.Regions, *entry)
		}
	}
	return scoped
}

func (s *Service) sync(ctx context.Context, doc *snapshot.Document, result Result) (Result, error) {
	if s.gateway == nil {
		s.publish()
		return result, nil
	}
	if err := s.gateway.SyncProducts(ctx, doc); err != nil {
		s.syncPending = true
		result.Outcome = OutcomeSyncFailed
		return result, fmt.Errorf("sync products: %w", err)
	}
	s.syncPending = false
	result.Synced = true
	s.publish()
	return result, nil
}

// publish announces every product that grew since the last successful sync.
func (s *Service) publish() {
	if len(s.unpublished) == 0 {
		return
	}
	at := s.now()
	for id, added := range s.unpublished {
		s.publisher.Publish(broadcast.PriceUpdated(id, added, at))
		delete(s.unpublished, id)
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
