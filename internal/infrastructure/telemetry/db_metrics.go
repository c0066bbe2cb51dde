package telemetry

import (
	"context"
	"database/sql"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBMetricsConfig holds configuration for database metrics collection.
type DBMetricsConfig struct {
	Enabled bool
	// SlowQueryThreshold defines the threshold for slow query counting (default: 200ms).
	SlowQueryThreshold time.Duration
}

// DefaultDBMetricsConfig returns default configuration for database metrics.
func DefaultDBMetricsConfig() DBMetricsConfig {
	return DBMetricsConfig{
		Enabled:            true,
		SlowQueryThreshold: 200 * time.Millisecond,
	}
}

// DBMetrics holds the statement and connection pool instruments.
type DBMetrics struct {
	meter  metric.Meter
	config DBMetricsConfig
	logger *zap.Logger

	queryTotal     metric.Int64Counter
	queryDuration  metric.Float64Histogram
	slowQueryTotal metric.Int64Counter
	poolGauge      metric.Int64ObservableGauge
	poolMaxGauge   metric.Int64ObservableGauge
	registration   metric.Registration
}

// NewDBMetrics declares the database instruments on meter.
func NewDBMetrics(meter metric.Meter, cfg DBMetricsConfig, logger *zap.Logger) (*DBMetrics, error) {
	set, err := newInstrumentSet(meter)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SlowQueryThreshold <= 0 {
		cfg.SlowQueryThreshold = DefaultDBMetricsConfig().SlowQueryThreshold
	}

	m := &DBMetrics{
		meter:          meter,
		config:         cfg,
		logger:         logger,
		queryTotal:     set.counter("db_query_total", "Database statements by operation, table and status", "{query}"),
		queryDuration:  set.seconds("db_query_duration_seconds", "Database statement latency", DBDurationBuckets),
		slowQueryTotal: set.counter("db_slow_query_total", "Statements slower than the configured threshold", "{query}"),
		poolGauge:      set.gauge("db_pool_connections", "Connections in the pool by state", "{connection}"),
		poolMaxGauge:   set.gauge("db_pool_connections_max", "Maximum open connections allowed", "{connection}"),
	}
	if set.err != nil {
		return nil, set.err
	}
	return m, nil
}

// Register hooks statement metrics into db and observes its connection pool.
func (m *DBMetrics) Register(db *gorm.DB) error {
	if !m.config.Enabled {
		return nil
	}
	if err := registerQueryHooks(db, "dealsync_metrics", m.afterStatement); err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return m.ObservePool(sqlDB)
}

// ObservePool reports pool stats from sqlDB on every collection.
func (m *DBMetrics) ObservePool(sqlDB *sql.DB) error {
	reg, err := m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stats := sqlDB.Stats()
		o.ObserveInt64(m.poolGauge, int64(stats.InUse), metric.WithAttributes(AttrDBState.String("in_use")))
		o.ObserveInt64(m.poolGauge, int64(stats.Idle), metric.WithAttributes(AttrDBState.String("idle")))
		o.ObserveInt64(m.poolGauge, int64(stats.OpenConnections), metric.WithAttributes(AttrDBState.String("open")))
		o.ObserveInt64(m.poolMaxGauge, int64(stats.MaxOpenConnections))
		return nil
	}, m.poolGauge, m.poolMaxGauge)
	if err != nil {
		return err
	}
	m.registration = reg
	return nil
}

// Stop unregisters the pool callback.
func (m *DBMetrics) Stop() {
	if m.registration == nil {
		return
	}
	if err := m.registration.Unregister(); err != nil {
		m.logger.Warn("Failed to unregister pool metrics", zap.Error(err))
	}
	m.registration = nil
}

// RecordQuery records one statement.
func (m *DBMetrics) RecordQuery(ctx context.Context, operation, table string, duration time.Duration, err error) {
	status := "ok"
	if isQueryError(err) {
		status = "error"
	}
	op, tbl := AttrDBOperation.String(operation), AttrDBTable.String(table)
	m.queryTotal.Add(ctx, 1, attrs(op, tbl, AttrStatus.String(status)))
	m.queryDuration.Record(ctx, duration.Seconds(), attrs(op, tbl))
	if duration > m.config.SlowQueryThreshold {
		m.slowQueryTotal.Add(ctx, 1, attrs(op, tbl))
	}
}

func (m *DBMetrics) afterStatement(db *gorm.DB, operation string, elapsed time.Duration) {
	ctx := db.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}
	m.RecordQuery(ctx, operation, db.Statement.Table, elapsed, db.Error)
}
