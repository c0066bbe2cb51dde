package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dealsync/backend/internal/domain/dealsync"
	"github.com/dealsync/backend/internal/infrastructure/cache"
	"github.com/dealsync/backend/internal/infrastructure/logger"
	"github.com/dealsync/backend/internal/infrastructure/ratelimit"
	"github.com/dealsync/backend/internal/infrastructure/telemetry"
)

// MaxConcurrency is the upper bound on partitions synced in parallel
const MaxConcurrency = 10

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// PartitionSyncer runs one partition through the sync pipeline
type PartitionSyncer interface {
	SyncPartition(ctx context.Context, partition *dealsync.Partition, window dealsync.Window) *dealsync.PartitionRun
}

// PartitionSchedulerConfig holds configuration for the partition scheduler
type PartitionSchedulerConfig struct {
	// Epoch is the start of the window for partitions that never synced
	Epoch time.Time
	// BatchTimeout bounds a whole batch; zero means no timeout
	BatchTimeout time.Duration
	// LockKey names the batch lock
	LockKey string
	// LockTTL is the lease duration of the batch lock; it is refreshed at half this interval
	LockTTL time.Duration
}

// DefaultPartitionSchedulerConfig returns default configuration
func DefaultPartitionSchedulerConfig() PartitionSchedulerConfig {
	return PartitionSchedulerConfig{
		Epoch:        time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		BatchTimeout: 2 * time.Hour,
		LockKey:      "dealsync:batch",
		LockTTL:      time.Minute,
	}
}

// Validate validates the configuration
func (c *PartitionSchedulerConfig) Validate() error {
	if c.Epoch.IsZero() {
		return fmt.Errorf("%w: epoch is required", ErrInvalidConfig)
	}
	if c.BatchTimeout < 0 {
		return fmt.Errorf("%w: batch timeout must not be negative", ErrInvalidConfig)
	}
	if c.LockKey == "" || c.LockTTL <= 0 {
		return fmt.Errorf("%w: lock key and ttl are required", ErrInvalidConfig)
	}
	return nil
}

// BatchOptions are the per-invocation knobs of a batch run
type BatchOptions struct {
	// ResumeFrom skips every partition sorting before the named one
	ResumeFrom string
	FullSync   bool
	// StartDate and EndDate override the computed window when set
	StartDate time.Time
	EndDate   time.Time
	// Concurrency is the number of partitions synced in parallel; 0 or 1 is sequential
	Concurrency int
	// DetailLimit caps per-partition deal failures kept in the report; 0 keeps all
	DetailLimit int
}

// Validate validates the batch options
func (o BatchOptions) Validate() error {
	if o.Concurrency < 0 || o.Concurrency > MaxConcurrency {
		return ErrInvalidConcurrency
	}
	if !o.StartDate.IsZero() && !o.EndDate.IsZero() && o.EndDate.Before(o.StartDate) {
		return dealsync.ErrInvalidWindow
	}
	return nil
}

// ---------------------------------------------------------------------------
// PartitionScheduler
// ---------------------------------------------------------------------------

// PartitionScheduler runs batches of partitions through a PartitionSyncer and
// records the outcome of each partition
type PartitionScheduler struct {
	config     PartitionSchedulerConfig
	syncer     PartitionSyncer
	partitions dealsync.PartitionRepository
	locker     cache.BatchLocker
	limiter    ratelimit.Limiter
	metrics    *telemetry.SyncMetrics
	logger     *zap.Logger
	now        func() time.Time
}

// Option configures a PartitionScheduler
type Option func(*PartitionScheduler)

// WithLocker sets the batch locker; without one batches are not serialized
func WithLocker(l cache.BatchLocker) Option {
	return func(s *PartitionScheduler) {
		s.locker = l
	}
}

// WithLimiter sets the pacing between partition starts
func WithLimiter(l ratelimit.Limiter) Option {
	return func(s *PartitionScheduler) {
		s.limiter = l
	}
}

// WithMetrics sets the sync metrics
func WithMetrics(m *telemetry.SyncMetrics) Option {
	return func(s *PartitionScheduler) {
		s.metrics = m
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *PartitionScheduler) {
		s.logger = l
	}
}

// WithClock overrides the clock used for window computation
func WithClock(now func() time.Time) Option {
	return func(s *PartitionScheduler) {
		s.now = now
	}
}

// NewPartitionScheduler creates a new partition scheduler
func NewPartitionScheduler(
	config PartitionSchedulerConfig,
	syncer PartitionSyncer,
	partitions dealsync.PartitionRepository,
	opts ...Option,
) (*PartitionScheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &PartitionScheduler{
		config:     config,
		syncer:     syncer,
		partitions: partitions,
		limiter:    ratelimit.NewUnlimited(),
		logger:     zap.NewNop(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RunBatch syncs partitions in name order and returns one run per partition.
//
// Partition-level errors never abort the batch; they are recorded on the
// partition and the batch moves on. An error is returned only when the batch
// could not start: invalid options, an unknown resume cursor, or a batch lock
// held by someone else.
func (s *PartitionScheduler) RunBatch(ctx context.Context, partitions []*dealsync.Partition, opts BatchOptions) (*dealsync.BatchReport, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	ordered := append([]*dealsync.Partition(nil), partitions...)
	dealsync.SortPartitions(ordered)
	ordered, err := dealsync.ResumeFrom(ordered, opts.ResumeFrom)
	if err != nil {
		return nil, err
	}

	report := &dealsync.BatchReport{RunID: uuid.New(), StartedAt: s.now()}
	ctx = logger.WithRunID(ctx, report.RunID.String())
	log := logger.WithLogger(ctx, s.logger)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	release, err := s.acquireLock(ctx, cancel)
	if err != nil {
		return nil, err
	}
	defer release()

	if s.config.BatchTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, s.config.BatchTimeout)
		defer cancelTimeout()
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanBatch,
		telemetry.AttrRunID.String(report.RunID.String()),
		telemetry.AttrPartitionCount.Int(len(ordered)),
	)
	defer span.End()

	log.Info("Sync batch started",
		zap.Int("partitions", len(ordered)),
		zap.String("resume_from", opts.ResumeFrom),
		zap.Bool("full_sync", opts.FullSync),
		zap.Int("concurrency", opts.Concurrency))

	runs := make([]*dealsync.PartitionRun, len(ordered))
	if opts.Concurrency > 1 {
		s.runConcurrent(ctx, ordered, opts, runs)
	} else {
		s.runSequential(ctx, ordered, opts, runs)
	}

	for i, run := range runs {
		if run == nil {
			run = s.notRun(ctx, ordered[i])
		}
		report.Add(run)
	}
	report.TrimDetails(opts.DetailLimit)
	report.FinishedAt = s.now()

	counts := report.CountByStatus()
	if counts[dealsync.PartitionStatusFailed] > 0 {
		span.SetStatus(codes.Error, "one or more partitions failed")
	}
	log.Info("Sync batch finished",
		zap.Int("found", report.Found),
		zap.Int("synced", report.Synced),
		zap.Int("failed", report.Failed),
		zap.Int("partitions_completed", counts[dealsync.PartitionStatusCompleted]),
		zap.Int("partitions_partially_failed", counts[dealsync.PartitionStatusPartiallyFailed]),
		zap.Int("partitions_failed", counts[dealsync.PartitionStatusFailed]),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)))

	return report, nil
}

func (s *PartitionScheduler) runSequential(ctx context.Context, ordered []*dealsync.Partition, opts BatchOptions, runs []*dealsync.PartitionRun) {
	for i, p := range ordered {
		if ctx.Err() != nil {
			return
		}
		if i > 0 {
			if err := s.limiter.Acquire(ctx); err != nil {
				return
			}
		}
		runs[i] = s.runPartition(ctx, p, opts)
	}
}

func (s *PartitionScheduler) runConcurrent(ctx context.Context, ordered []*dealsync.Partition, opts BatchOptions, runs []*dealsync.PartitionRun) {
	var g errgroup.Group
	g.SetLimit(opts.Concurrency)
	for i, p := range ordered {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if err := s.limiter.Acquire(ctx); err != nil {
				return nil
			}
			runs[i] = s.runPartition(ctx, p, opts)
			return nil
		})
	}
	_ = g.Wait()
}

// runPartition syncs one partition and records its terminal state. A panic in
// the pipeline fails only this partition.
func (s *PartitionScheduler) runPartition(ctx context.Context, p *dealsync.Partition, opts BatchOptions) (run *dealsync.PartitionRun) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanPartition,
		telemetry.AttrPartition.String(p.Name),
	)
	defer span.End()
	ctx = logger.WithPartition(ctx, p.Name)
	log := logger.WithLogger(ctx, s.logger)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Partition sync panicked", zap.Any("panic", r), zap.Stack("stack"))
			if run == nil {
				run = dealsync.NewPartitionRun(p)
			}
			run.Fail(fmt.Errorf("%w: %v", ErrPartitionPanicked, r))
		}
		if run == nil {
			run = dealsync.NewPartitionRun(p)
			run.Fail(ErrPartitionNotRun)
		}
		s.finish(ctx, run)
		if run.Status == dealsync.PartitionStatusFailed {
			telemetry.RecordError(span, errors.New(run.Reason))
		}
		span.SetAttributes(telemetry.AttrStatus.String(string(run.Status)))
	}()

	window, err := dealsync.EffectiveWindow(dealsync.WindowRequest{
		Start:    opts.StartDate,
		End:      opts.EndDate,
		FullSync: opts.FullSync,
		Epoch:    s.config.Epoch,
	}, p.LastSyncAt, s.now())
	if err != nil {
		run = dealsync.NewPartitionRun(p)
		run.Fail(err)
		return run
	}

	return s.syncer.SyncPartition(ctx, p, window)
}

// finish records the terminal state of a run and moves the watermark to the
// run's start when no sub-window failed
func (s *PartitionScheduler) finish(ctx context.Context, run *dealsync.PartitionRun) {
	watermark := run.Watermark()

	// the batch context may already be cancelled; the outcome is still recorded
	recordCtx := context.WithoutCancel(ctx)
	if err := s.partitions.RecordRun(recordCtx, run, watermark); err != nil {
		logger.WithLogger(ctx, s.logger).Error("Failed to record partition run",
			zap.String("partition", run.PartitionName),
			zap.Error(err))
	}
	s.metrics.RecordPartitionRun(recordCtx, run.PartitionName, string(run.Status), run.Duration())
}

// notRun builds the failed run of a partition the batch never reached
func (s *PartitionScheduler) notRun(ctx context.Context, p *dealsync.Partition) *dealsync.PartitionRun {
	run := dealsync.NewPartitionRun(p)
	reason := context.Cause(ctx)
	if reason == nil {
		reason = ErrPartitionNotRun
	}
	run.Fail(reason)
	s.finish(ctx, run)
	return run
}

// acquireLock takes the batch lock and keeps it alive until released. Losing
// the lease cancels the batch with ErrLockLost.
func (s *PartitionScheduler) acquireLock(ctx context.Context, cancel context.CancelCauseFunc) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}

	lease, err := s.locker.Obtain(ctx, s.config.LockKey, s.config.LockTTL)
	if err != nil {
		if errors.Is(err, cache.ErrLockNotObtained) {
			return nil, ErrBatchInProgress
		}
		return nil, fmt.Errorf("obtain batch lock: %w", err)
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(s.config.LockTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := lease.Refresh(ctx, s.config.LockTTL); err != nil {
					s.logger.Error("Failed to refresh batch lock", zap.Error(err))
					cancel(ErrLockLost)
					return
				}
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, cache.ErrLockNotHeld) {
			s.logger.Warn("Failed to release batch lock", zap.Error(err))
		}
	}, nil
}

// Compile-time interface check
var _ BatchRunner = (*PartitionScheduler)(nil)
