package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"gorm.io/gorm"

	appdealsync "github.com/dealsync/backend/internal/application/dealsync"
	"github.com/dealsync/backend/internal/domain/dealsync"
	"github.com/dealsync/backend/internal/infrastructure/cache"
	"github.com/dealsync/backend/internal/infrastructure/config"
	"github.com/dealsync/backend/internal/infrastructure/logger"
	"github.com/dealsync/backend/internal/infrastructure/persistence"
	"github.com/dealsync/backend/internal/infrastructure/ratelimit"
	"github.com/dealsync/backend/internal/infrastructure/scheduler"
	"github.com/dealsync/backend/internal/infrastructure/source"
	"github.com/dealsync/backend/internal/infrastructure/storage"
	"github.com/dealsync/backend/internal/infrastructure/telemetry"
)

// Runtime is the wired object graph a command works with
type Runtime struct {
	Config     *config.Config
	Logger     *zap.Logger
	Partitions dealsync.PartitionRepository
	Ledger     dealsync.FailureLedger
	Sync       *appdealsync.SyncService
	Retry      *appdealsync.RetryService
	Scheduler  *scheduler.PartitionScheduler

	closers  []func(context.Context) error
	flushers []func(context.Context) error
}

// RuntimeBuilder builds the runtime for one command invocation
type RuntimeBuilder func(ctx context.Context, configPath string) (*Runtime, error)

// Components are the outward-facing pieces a runtime is assembled from
type Components struct {
	DB         *gorm.DB
	Source     dealsync.DealSource
	Quarantine dealsync.QuarantineStore
	Locker     cache.BatchLocker
	Metrics    *telemetry.SyncMetrics
	// PartitionLimiter paces partition starts in sequential batches
	PartitionLimiter ratelimit.Limiter
}

// NewRuntime assembles repositories, services and the scheduler over c
func NewRuntime(cfg *config.Config, log *zap.Logger, c Components) (*Runtime, error) {
	epoch, err := dealsync.ParseDate(cfg.Sync.Epoch)
	if err != nil {
		return nil, fmt.Errorf("invalid sync epoch: %w", err)
	}
	if c.PartitionLimiter == nil {
		c.PartitionLimiter = ratelimit.NewUnlimited()
	}
	if c.Quarantine == nil {
		c.Quarantine = storage.NewNopQuarantineStore()
	}

	partitions := persistence.NewGormPartitionRepository(c.DB)
	ledger := persistence.NewGormSyncFailureRepository(c.DB)
	reconciler := persistence.NewGormDealReconciler(c.DB, log)

	syncService := appdealsync.NewSyncService(c.Source, reconciler, ledger, c.Quarantine, c.Metrics, log,
		appdealsync.SyncServiceConfig{DealConcurrency: cfg.Sync.DealConcurrency})
	retryService := appdealsync.NewRetryService(c.Source, reconciler, ledger, partitions, c.Quarantine, c.Metrics, log)

	schedOpts := []scheduler.Option{
		scheduler.WithLimiter(c.PartitionLimiter),
		scheduler.WithMetrics(c.Metrics),
		scheduler.WithLogger(log),
	}
	if c.Locker != nil {
		schedOpts = append(schedOpts, scheduler.WithLocker(c.Locker))
	}
	sched, err := scheduler.NewPartitionScheduler(scheduler.PartitionSchedulerConfig{
		Epoch:        epoch,
		BatchTimeout: cfg.Sync.BatchTimeout,
		LockKey:      cfg.Redis.LockKey,
		LockTTL:      cfg.Redis.LockTTL,
	}, syncService, partitions, schedOpts...)
	if err != nil {
		return nil, err
	}

	return &Runtime{
		Config:     cfg,
		Logger:     log,
		Partitions: partitions,
		Ledger:     ledger,
		Sync:       syncService,
		Retry:      retryService,
		Scheduler:  sched,
	}, nil
}

// OnClose registers fn to run when the runtime closes, in reverse order
func (r *Runtime) OnClose(fn func(context.Context) error) {
	r.closers = append(r.closers, fn)
}

// OnFlush registers fn to run after every scheduled batch
func (r *Runtime) OnFlush(fn func(context.Context) error) {
	r.flushers = append(r.flushers, fn)
}

// Flush pushes buffered telemetry out between scheduled batches
func (r *Runtime) Flush(ctx context.Context) error {
	var errs []error
	for _, fn := range r.flushers {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases everything the runtime opened
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// Bootstrap loads configuration and wires the production runtime: postgres
// with tracing and metrics, the source client, S3 quarantine and the batch lock.
func Bootstrap(ctx context.Context, configPath string) (rt *Runtime, err error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: logger.DefaultTimeFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	log = log.With(zap.String("env", cfg.App.Env))

	var closers []func(context.Context) error
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i](context.WithoutCancel(ctx))
			}
		}
	}()

	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		return nil, err
	}
	closers = append(closers, tp.Shutdown)

	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.MetricsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsExportInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		return nil, err
	}
	closers = append(closers, mp.Shutdown)

	meter := mp.Meter(telemetry.TracerName)
	syncMetrics, err := telemetry.NewSyncMetrics(telemetry.SyncMetricsConfig{Meter: meter, Logger: log})
	if err != nil {
		return nil, err
	}
	dbMetrics, err := telemetry.NewDBMetrics(meter, telemetry.DBMetricsConfig{
		Enabled:            mp.IsEnabled(),
		SlowQueryThreshold: cfg.Telemetry.DBSlowQueryThresh,
	}, log)
	if err != nil {
		return nil, err
	}
	closers = append(closers, func(context.Context) error {
		dbMetrics.Stop()
		return nil
	})

	db, err := persistence.NewDatabase(&cfg.Database,
		persistence.WithGormLogger(logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
			logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh),
			logger.WithIgnoreRecordNotFoundError(true),
			logger.WithFullSQL(cfg.Telemetry.DBLogFullSQL))),
		persistence.WithTracing(telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
			Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
			LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
			SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
			DBSystem:        "postgresql",
		}, log)),
		persistence.WithMetrics(dbMetrics),
	)
	if err != nil {
		return nil, err
	}
	closers = append(closers, func(context.Context) error { return db.Close() })

	var src dealsync.DealSource
	if cfg.Source.BaseURL != "" {
		src, err = source.NewClient(source.Config{
			BaseURL:           cfg.Source.BaseURL,
			Timeout:           cfg.Source.Timeout,
			PageInterval:      cfg.Source.PageInterval,
			WindowConcurrency: cfg.Source.WindowConcurrency,
			MaxPages:          cfg.Source.MaxPages,
		}, source.WithLogger(log))
		if err != nil {
			return nil, err
		}
	} else {
		src = unconfiguredSource{}
	}

	var quarantine dealsync.QuarantineStore = storage.NewNopQuarantineStore()
	if cfg.Storage.Enabled {
		s3Store, err := storage.NewS3QuarantineStore(&cfg.Storage, storage.WithLogger(log))
		if err != nil {
			return nil, err
		}
		quarantine = s3Store
	}

	locker, err := cache.NewBatchLockerFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(cfg.App.Env != "production"),
	).CreateLocker()
	if err != nil {
		return nil, err
	}
	if c, ok := locker.(io.Closer); ok {
		closers = append(closers, func(context.Context) error { return c.Close() })
	}

	rt, err = NewRuntime(cfg, log, Components{
		DB:               db.DB,
		Source:           src,
		Quarantine:       quarantine,
		Locker:           locker,
		Metrics:          syncMetrics,
		PartitionLimiter: ratelimit.NewTokenBucketLimiter(cfg.Sync.PartitionInterval, 1),
	})
	if err != nil {
		return nil, err
	}
	rt.closers = append(closers, func(context.Context) error {
		_ = logger.Sync(log)
		return nil
	})
	rt.OnFlush(tp.ForceFlush)
	rt.OnFlush(mp.ForceFlush)
	return rt, nil
}

// unconfiguredSource lets source-free commands run without source.base_url
type unconfiguredSource struct{}

func (unconfiguredSource) FetchWindow(_ context.Context, _ *dealsync.Partition, w dealsync.Window) *dealsync.WindowResult {
	return &dealsync.WindowResult{SubWindows: []dealsync.SubWindowResult{{Window: w, Err: errSourceNotConfigured}}}
}

func (unconfiguredSource) GetDeal(context.Context, *dealsync.Partition, string) (dealsync.SourceDocument, error) {
	return dealsync.SourceDocument{}, errSourceNotConfigured
}

var errSourceNotConfigured = fmt.Errorf("%w: source.base_url is not configured", dealsync.ErrSourceUnavailable)
