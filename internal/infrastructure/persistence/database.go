package persistence

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dealsync/backend/internal/infrastructure/config"
	"github.com/dealsync/backend/internal/infrastructure/telemetry"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database is the GORM handle shared by the reconciler, ledger and partition
// repositories.
type Database struct {
	DB *gorm.DB
}

// DatabaseOption configures NewDatabase
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	dialector gorm.Dialector
	logger    logger.Interface
	tracing   *telemetry.DBTracingPlugin
	metrics   *telemetry.DBMetrics
}

// WithDialector opens the connection through d instead of postgres at cfg.DSN()
func WithDialector(d gorm.Dialector) DatabaseOption {
	return func(o *databaseOptions) {
		o.dialector = d
	}
}

// WithGormLogger routes GORM logging through the given logger
func WithGormLogger(l logger.Interface) DatabaseOption {
	return func(o *databaseOptions) {
		o.logger = l
	}
}

// WithTracing registers the otelgorm tracing plugin on the connection
func WithTracing(p *telemetry.DBTracingPlugin) DatabaseOption {
	return func(o *databaseOptions) {
		o.tracing = p
	}
}

// WithMetrics records statement and pool metrics for the connection
func WithMetrics(m *telemetry.DBMetrics) DatabaseOption {
	return func(o *databaseOptions) {
		o.metrics = m
	}
}

// NewDatabase opens the sync datastore, installs instrumentation, applies the
// pool limits from cfg and verifies the connection.
func NewDatabase(cfg *config.DatabaseConfig, opts ...DatabaseOption) (*Database, error) {
	o := databaseOptions{logger: logger.Default.LogMode(logger.Silent)}
	for _, opt := range opts {
		opt(&o)
	}
	if o.dialector == nil {
		o.dialector = postgres.Open(cfg.DSN())
	}

	// Reconcile opens its own transaction per deal.
	db, err := gorm.Open(o.dialector, &gorm.Config{
		Logger:                 o.logger,
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := o.instrument(db); err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	applyPoolLimits(sqlDB, cfg)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Database{DB: db}, nil
}

func (o databaseOptions) instrument(db *gorm.DB) error {
	if o.tracing != nil {
		if err := o.tracing.RegisterOtelGorm(db); err != nil {
			return fmt.Errorf("failed to register database tracing: %w", err)
		}
	}
	if o.metrics != nil {
		if err := o.metrics.Register(db); err != nil {
			return fmt.Errorf("failed to register database metrics: %w", err)
		}
	}
	return nil
}

// applyPoolLimits sets the pool limits; zero values keep the driver defaults
func applyPoolLimits(sqlDB *sql.DB, cfg *config.DatabaseConfig) {
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Minute)
	}
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Ping checks if the database connection is alive
func (d *Database) Ping() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Ping()
}

// Stats returns database connection pool statistics
func (d *Database) Stats() (ConnectionStats, error) {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return ConnectionStats{}, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	stats := sqlDB.Stats()
	return ConnectionStats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration,
	}, nil
}

// ConnectionStats holds database connection pool statistics
type ConnectionStats struct {
	MaxOpenConnections int
	OpenConnections    int
	InUse              int
	Idle               int
	WaitCount          int64
	WaitDuration       time.Duration
}

// Transaction executes a function within a database transaction
func (d *Database) Transaction(fn func(tx *gorm.DB) error) error {
	return d.DB.Transaction(fn)
}
