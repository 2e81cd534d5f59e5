package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"price-ingest-alerts/internal/alerting"
	"price-ingest-alerts/internal/alerts"
	"price-ingest-alerts/internal/broadcast"
	"price-ingest-alerts/internal/collector"
	"price-ingest-alerts/internal/config"
	"price-ingest-alerts/internal/ingest"
	"price-ingest-alerts/internal/pricecache"
	"price-ingest-alerts/internal/scheduler"
	"price-ingest-alerts/internal/snapshot"
	"price-ingest-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newNotifier() alerting.Notifier {
	cfg := a.Config.Dispatch
	var notifier alerting.Notifier
	switch strings.ToLower(cfg.Channel) {
	case config.ChannelTelegram:
		notifier = alerting.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, cfg.Timeout, a.Logger)
	case config.ChannelEmail:
		notifier = alerting.NewEmailNotifier(alerting.EmailOptions{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
			Timeout:  cfg.Timeout,
		}, a.Logger)
	default:
		notifier = alerting.NewLogNotifier(a.Logger)
	}
	return alerting.NewThrottled(notifier, cfg.RatePerSecond, cfg.Burst)
}

func (a *App) newCollector() (collector.Collector, error) {
	cfg := a.Config.Collector
	if cfg.Command == "" {
		return nil, errors.New("collector.command is not configured")
	}
	return collector.NewCommand(collector.CommandOptions{
		Command:     cfg.Command,
		Args:        cfg.Args,
		Dir:         cfg.Dir,
		Env:         cfg.Env,
		StagingPath: cfg.StagingPath,
		Timeout:     cfg.Timeout,
	}, a.Logger), nil
}

func (a *App) newMasterStore() *snapshot.FileStore {
	return snapshot.NewFileStore(a.Config.Snapshot.Path, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool, a.Logger)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// newGateway puts the Redis price cache in front of store when enabled. A
// cache that cannot be reached is logged and skipped.
func (a *App) newGateway(ctx context.Context, store *storage.Store) (pricecache.Backend, func()) {
	cfg := a.Config.Redis
	if !cfg.Enabled {
		return store, func() {}
	}

	cache, err := pricecache.NewRedisCache(ctx, pricecache.RedisOptions{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		Prefix:   cfg.Prefix,
	})
	if err != nil {
		a.Logger.Warn().Err(err).Msg("redis unavailable; price cache disabled")
		return store, func() {}
	}
	closer := func() {
		if err := cache.Close(); err != nil {
			a.Logger.Debug().Err(err).Msg("close redis")
		}
	}
	return pricecache.NewGateway(store, cache, cfg.TTL, a.Logger), closer
}

func (a *App) newIngestService(col collector.Collector, backend pricecache.Backend, store *storage.Store, publisher broadcast.Publisher) *ingest.Service {
	var gateway storage.SyncGateway
	var locker storage.AdvisoryLocker
	if store != nil {
		gateway = backend
		locker = store
	}
	return ingest.New(col, a.newMasterStore(), gateway, publisher, locker, a.Config.Ingest.AdvisoryLockKey, a.Logger)
}

// Run executes the long-running ingestion and alerting service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; sync and alert evaluation disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var backend pricecache.Backend
	if store != nil {
		var closeGateway func()
		backend, closeGateway = a.newGateway(ctx, store)
		defer closeGateway()
	}

	group, gctx := errgroup.WithContext(ctx)
	tasks := 0

	var publisher broadcast.Publisher = broadcast.Discard{}
	if a.Config.Broadcast.Enabled {
		hub := broadcast.NewHub(a.Logger)
		publisher = hub
		server := broadcast.NewServer(a.Config.Broadcast.Addr, hub, a.Logger)
		group.Go(func() error { return server.Run(gctx) })
		tasks++
	}

	if a.Config.Ingest.Enabled {
		col, err := a.newCollector()
		if err != nil {
			a.Logger.Warn().Err(err).Msg("ingestion disabled")
		} else {
			svc := a.newIngestService(col, backend, store, publisher)
			sched := scheduler.New(scheduler.Options{
				Name:         "ingest",
				Interval:     a.Config.Ingest.Interval,
				AlignToStart: a.Config.Ingest.AlignToInterval,
				StartupDelay: a.Config.Ingest.StartupDelay,
				FireOnStart:  true,
			}, a.Logger)
			group.Go(func() error { return sched.Run(gctx, svc.Tick) })
			tasks++
		}
	}

	if a.Config.Alerts.Enabled && store != nil {
		evaluator := alerts.NewEvaluator(store, backend, a.newNotifier(), a.Logger)
		sched := scheduler.New(scheduler.Options{
			Name:         "alerts",
			Interval:     a.Config.Alerts.Interval,
			StartupDelay: a.Config.Alerts.StartupDelay,
			FireOnStart:  true,
		}, a.Logger)
		group.Go(func() error { return sched.Run(gctx, evaluator.Tick) })
		tasks++
	}

	if tasks == 0 {
		return errors.New("nothing to run: enable ingestion, alerts or broadcast")
	}

	a.Logger.Info().Int("tasks", tasks).Msg("starting price ingestion service")
	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("price ingestion service stopped")
	return nil
}

// IngestOnce runs a single ingestion cycle and reports its result.
func (a *App) IngestOnce(ctx context.Context) (ingest.Result, error) {
	col, err := a.newCollector()
	if err != nil {
		return ingest.Result{}, err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return ingest.Result{}, err
	}
	if closeStore != nil {
		defer closeStore()
	}

	var backend pricecache.Backend
	if store != nil {
		var closeGateway func()
		backend, closeGateway = a.newGateway(ctx, store)
		defer closeGateway()
	}

	svc := a.newIngestService(col, backend, store, nil)
	return svc.RunCycle(ctx)
}

// EvaluateOnce runs a single alert evaluation pass.
func (a *App) EvaluateOnce(ctx context.Context) (alerts.CycleStats, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return alerts.CycleStats{}, err
	}
	if store == nil {
		return alerts.CycleStats{}, errors.New("database.dsn not configured; cannot evaluate alerts")
	}
	defer closeStore()

	backend, closeGateway := a.newGateway(ctx, store)
	defer closeGateway()

	evaluator := alerts.NewEvaluator(store, backend, a.newNotifier(), a.Logger)
	return evaluator.RunCycle(ctx)
}

// Migrate applies pending SQL migrations.
func (a *App) Migrate(ctx context.Context) ([]string, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("database.dsn not configured; cannot migrate")
	}
	defer closeStore()

	applied, err := store.Migrate(ctx, a.Config.Database.MigrationsPath)
	if err != nil {
		return applied, fmt.Errorf("migrate: %w", err)
	}
	return applied, nil
}

// AddAlert registers a pending alert.
func (a *App) AddAlert(ctx context.Context, alert alerts.PendingAlert) (alerts.PendingAlert, error) {
	if alert.Product.Name == "" || alert.Product.Region == "" {
		return alerts.PendingAlert{}, errors.New("product name and region are required")
	}
	if !alert.TargetPrice.IsPositive() {
		return alerts.PendingAlert{}, errors.New("target price must be greater than zero")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return alerts.PendingAlert{}, err
	}
	if store == nil {
		return alerts.PendingAlert{}, errors.New("database.dsn not configured; cannot store alerts")
	}
	defer closeStore()

	return store.CreateAlert(ctx, alert)
}

// ExportOptions hold parameters for exporting one product's history.
type ExportOptions struct {
	Product   snapshot.Identity
	From      string
	To        string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// MergeOptions configure an offline merge of a staged file.
type MergeOptions struct {
	Path   string
	DryRun bool
	Sync   bool
}
