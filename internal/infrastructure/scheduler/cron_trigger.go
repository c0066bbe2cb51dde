package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dealsync/backend/internal/domain/dealsync"
)

// PartitionProvider lists the partitions a triggered batch should sync
type PartitionProvider interface {
	ListEnabled(ctx context.Context) ([]*dealsync.Partition, error)
}

// BatchRunner runs one batch. Implemented by PartitionScheduler.
type BatchRunner interface {
	RunBatch(ctx context.Context, partitions []*dealsync.Partition, opts BatchOptions) (*dealsync.BatchReport, error)
}

// CronTriggerConfig holds configuration for the cron trigger
type CronTriggerConfig struct {
	// Interval is the time between the end of one batch and the start of the next
	Interval time.Duration
	// RunImmediately starts the first batch without waiting one interval
	RunImmediately bool
	// Options are passed to every batch; ResumeFrom is ignored
	Options BatchOptions
}

// DefaultCronTriggerConfig returns default cron trigger configuration
func DefaultCronTriggerConfig() CronTriggerConfig {
	return CronTriggerConfig{
		Interval:       time.Hour,
		RunImmediately: true,
	}
}

// CronTrigger runs incremental batches on a fixed interval until stopped
type CronTrigger struct {
	config    CronTriggerConfig
	runner    BatchRunner
	provider  PartitionProvider
	logger    *zap.Logger
	onReport  func(*dealsync.BatchReport)
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	runs      int
}

// NewCronTrigger creates a new cron trigger. onReport, when set, receives every finished batch.
func NewCronTrigger(
	config CronTriggerConfig,
	runner BatchRunner,
	provider PartitionProvider,
	logger *zap.Logger,
	onReport func(*dealsync.BatchReport),
) (*CronTrigger, error) {
	if config.Interval <= 0 {
		return nil, ErrInvalidConfig
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.Options.ResumeFrom = ""
	return &CronTrigger{
		config:   config,
		runner:   runner,
		provider: provider,
		logger:   logger,
		onReport: onReport,
	}, nil
}

// Start starts the cron trigger
func (c *CronTrigger) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = true
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.runLoop(ctx)

	c.logger.Info("Cron trigger started",
		zap.Duration("interval", c.config.Interval),
		zap.Bool("run_immediately", c.config.RunImmediately),
	)

	return nil
}

// Stop stops the cron trigger, waiting for a running batch to wind down
func (c *CronTrigger) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = false
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("Cron trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Runs returns how many batches the trigger has started
func (c *CronTrigger) Runs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}

func (c *CronTrigger) runLoop(ctx context.Context) {
	defer c.wg.Done()

	if c.config.RunImmediately {
		c.trigger(ctx)
	}

	timer := time.NewTimer(c.config.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			c.trigger(ctx)
			timer.Reset(c.config.Interval)
		}
	}
}

// trigger runs one batch over the enabled partitions
func (c *CronTrigger) trigger(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	c.mu.Lock()
	c.runs++
	c.mu.Unlock()

	partitions, err := c.provider.ListEnabled(ctx)
	if err != nil {
		c.logger.Error("Failed to list partitions for scheduled batch", zap.Error(err))
		return
	}

	report, err := c.runner.RunBatch(ctx, partitions, c.config.Options)
	if err != nil {
		if errors.Is(err, ErrBatchInProgress) {
			c.logger.Info("Skipping scheduled batch, another batch holds the lock")
			return
		}
		c.logger.Error("Scheduled batch failed to start", zap.Error(err))
		return
	}
	if c.onReport != nil {
		c.onReport(report)
	}
}
