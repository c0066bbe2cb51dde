package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func newTestDBMetrics(t *testing.T, cfg DBMetricsConfig) (*DBMetrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := NewDBMetrics(provider.Meter("test"), cfg, zap.NewNop())
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumWhere(t *testing.T, m metricdata.Metrics, kv attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(kv.Key); ok && v == kv.Value {
			total += dp.Value
		}
	}
	return total
}

func TestNewDBMetrics_NilMeter(t *testing.T) {
	_, err := NewDBMetrics(nil, DefaultDBMetricsConfig(), nil)
	assert.ErrorIs(t, err, ErrMeterNil)
}

func TestDBMetrics_RecordQuery(t *testing.T) {
	m, reader := newTestDBMetrics(t, DBMetricsConfig{Enabled: true, SlowQueryThreshold: 100 * time.Millisecond})
	ctx := context.Background()

	tests := []struct {
		name     string
		op       string
		duration time.Duration
		err      error
	}{
		{name: "fast insert", op: "INSERT", duration: time.Millisecond},
		{name: "slow select", op: "SELECT", duration: 150 * time.Millisecond},
		{name: "failed update", op: "UPDATE", duration: time.Millisecond, err: errors.New("constraint")},
	}
	for _, tt := range tests {
		m.RecordQuery(ctx, tt.op, "deals", tt.duration, tt.err)
	}

	metrics := collect(t, reader)
	assert.Equal(t, int64(3), sumWhere(t, metrics["db_query_total"], AttrDBTable.String("deals")))
	assert.Equal(t, int64(1), sumWhere(t, metrics["db_query_total"], AttrStatus.String("error")))
	assert.Equal(t, int64(1), sumWhere(t, metrics["db_slow_query_total"], AttrDBOperation.String("SELECT")))

	hist, ok := metrics["db_query_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count)
}

func TestDBMetrics_Register(t *testing.T) {
	db := setupTestDB(t)
	m, reader := newTestDBMetrics(t, DefaultDBMetricsConfig())
	require.NoError(t, m.Register(db))
	t.Cleanup(m.Stop)

	require.NoError(t, db.Create(&statementModel{Name: "deal"}).Error)
	var found []statementModel
	require.NoError(t, db.Find(&found).Error)

	metrics := collect(t, reader)
	total := metrics["db_query_total"]
	assert.Equal(t, int64(1), sumWhere(t, total, AttrDBOperation.String("INSERT")))
	assert.Equal(t, int64(1), sumWhere(t, total, AttrDBOperation.String("SELECT")))

	pool, ok := metrics["db_pool_connections_max"].Data.(metricdata.Gauge[int64])
	require.True(t, ok, "pool gauge should be observed on collection")
	require.Len(t, pool.DataPoints, 1)
	assert.Equal(t, int64(1), pool.DataPoints[0].Value)
}

func TestDBMetrics_Disabled(t *testing.T) {
	db := setupTestDB(t)
	m, reader := newTestDBMetrics(t, DBMetricsConfig{Enabled: false})
	require.NoError(t, m.Register(db))

	require.NoError(t, db.Create(&statementModel{Name: "deal"}).Error)

	_, recorded := collect(t, reader)["db_query_total"]
	assert.False(t, recorded)
}

func TestDBMetrics_StopIdempotent(t *testing.T) {
	db := setupTestDB(t)
	m, reader := newTestDBMetrics(t, DefaultDBMetricsConfig())
	require.NoError(t, m.Register(db))

	m.Stop()
	m.Stop()

	_, observed := collect(t, reader)["db_pool_connections_max"]
	assert.False(t, observed)
}
