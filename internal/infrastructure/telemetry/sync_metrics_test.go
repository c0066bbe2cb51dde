package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/dealsync/backend/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func newCollectingSyncMetrics(t *testing.T) (*telemetry.SyncMetrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	sm, err := telemetry.NewSyncMetrics(telemetry.SyncMetricsConfig{
		Meter:  provider.Meter("test"),
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)
	return sm, reader
}

func sumCounter(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestNewSyncMetrics(t *testing.T) {
	sm, err := telemetry.NewSyncMetrics(telemetry.SyncMetricsConfig{
		Meter: noop.NewMeterProvider().Meter("test"),
	})
	require.NoError(t, err)
	require.NotNil(t, sm)
}

func TestNewSyncMetrics_NilMeter(t *testing.T) {
	sm, err := telemetry.NewSyncMetrics(telemetry.SyncMetricsConfig{})

	assert.ErrorIs(t, err, telemetry.ErrMeterNil)
	assert.Nil(t, sm)
}

func TestSyncMetrics_Counters(t *testing.T) {
	sm, reader := newCollectingSyncMetrics(t)
	ctx := context.Background()

	sm.RecordDealSynced(ctx, "broker-a")
	sm.RecordDealSynced(ctx, "broker-b")
	sm.RecordDealFailed(ctx, "broker-a", "reconcile")
	sm.RecordWindowFailed(ctx, "broker-a")
	sm.RecordPartitionRun(ctx, "broker-a", "partially-failed", 3*time.Second)
	sm.RecordRetryResolved(ctx, 4)
	sm.RecordRetryResolved(ctx, 0)

	assert.Equal(t, int64(2), sumCounter(t, reader, "dealsync_deals_synced_total"))
	assert.Equal(t, int64(1), sumCounter(t, reader, "dealsync_deals_failed_total"))
	assert.Equal(t, int64(1), sumCounter(t, reader, "dealsync_windows_failed_total"))
	assert.Equal(t, int64(1), sumCounter(t, reader, "dealsync_partition_runs_total"))
	assert.Equal(t, int64(4), sumCounter(t, reader, "dealsync_retries_resolved_total"))
}

func TestSyncMetrics_NilIsNoop(t *testing.T) {
	var sm *telemetry.SyncMetrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		sm.RecordDealSynced(ctx, "broker-a")
		sm.RecordDealFailed(ctx, "broker-a", "decode")
		sm.RecordWindowFailed(ctx, "broker-a")
		sm.RecordPartitionRun(ctx, "broker-a", "completed", time.Second)
		sm.RecordRetryResolved(ctx, 1)
	})
}
