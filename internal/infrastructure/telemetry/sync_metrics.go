package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// SyncMetrics records deal sync activity.
// A nil *SyncMetrics is valid and records nothing.
type SyncMetrics struct {
	logger *zap.Logger

	dealsSynced       metric.Int64Counter
	dealsFailed       metric.Int64Counter
	windowsFailed     metric.Int64Counter
	partitionRuns     metric.Int64Counter
	retriesResolved   metric.Int64Counter
	partitionDuration metric.Float64Histogram
}

// SyncMetricsConfig holds configuration for sync metrics.
type SyncMetricsConfig struct {
	Meter  metric.Meter
	Logger *zap.Logger
}

// NewSyncMetrics declares the sync instruments on cfg.Meter.
func NewSyncMetrics(cfg SyncMetricsConfig) (*SyncMetrics, error) {
	set, err := newInstrumentSet(cfg.Meter)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sm := &SyncMetrics{
		logger:          logger,
		dealsSynced:     set.counter("dealsync_deals_synced_total", "Deals reconciled successfully", "{deal}"),
		dealsFailed:     set.counter("dealsync_deals_failed_total", "Deals that failed to sync, by stage", "{deal}"),
		windowsFailed:   set.counter("dealsync_windows_failed_total", "Sub-window fetches that errored", "{window}"),
		partitionRuns:   set.counter("dealsync_partition_runs_total", "Finished partition runs by terminal status", "{run}"),
		retriesResolved: set.counter("dealsync_retries_resolved_total", "Failure ledger entries resolved by retry", "{deal}"),
		partitionDuration: set.seconds("dealsync_partition_duration_seconds",
			"Wall time of one partition run", RunDurationBuckets),
	}
	if set.err != nil {
		return nil, set.err
	}
	return sm, nil
}

// RecordDealSynced counts a reconciled deal
func (sm *SyncMetrics) RecordDealSynced(ctx context.Context, partition string) {
	if sm == nil {
		return
	}
	sm.dealsSynced.Add(ctx, 1, attrs(AttrPartition.String(partition)))
}

// RecordDealFailed counts a failed deal by the stage it failed at
func (sm *SyncMetrics) RecordDealFailed(ctx context.Context, partition, stage string) {
	if sm == nil {
		return
	}
	sm.dealsFailed.Add(ctx, 1, attrs(AttrPartition.String(partition), AttrStage.String(stage)))
}

// RecordWindowFailed counts an errored sub-window
func (sm *SyncMetrics) RecordWindowFailed(ctx context.Context, partition string) {
	if sm == nil {
		return
	}
	sm.windowsFailed.Add(ctx, 1, attrs(AttrPartition.String(partition)))
}

// RecordPartitionRun counts a finished run and records its duration
func (sm *SyncMetrics) RecordPartitionRun(ctx context.Context, partition, status string, d time.Duration) {
	if sm == nil {
		return
	}
	labels := attrs(AttrPartition.String(partition), AttrStatus.String(status))
	sm.partitionRuns.Add(ctx, 1, labels)
	sm.partitionDuration.Record(ctx, d.Seconds(), labels)
}

// RecordRetryResolved counts ledger entries resolved by a retry run
func (sm *SyncMetrics) RecordRetryResolved(ctx context.Context, n int) {
	if sm == nil || n <= 0 {
		return
	}
	sm.retriesResolved.Add(ctx, int64(n))
}
