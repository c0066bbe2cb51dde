package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// statementModel is a throwaway table for exercising GORM callbacks
type statementModel struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"size:100"`
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&statementModel{}))
	return db
}

// setupGlobalTracer installs a recording provider for the duration of the test
func setupGlobalTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(original)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func TestDefaultDBTracingConfig(t *testing.T) {
	cfg := DefaultDBTracingConfig()
	assert.False(t, cfg.Enabled)
	assert.False(t, cfg.LogFullSQL, "query variables must stay out of spans by default")
	assert.Equal(t, 200*time.Millisecond, cfg.SlowQueryThresh)
	assert.Equal(t, "postgresql", cfg.DBSystem)
}

func TestNewDBTracingPlugin_AppliesDefaults(t *testing.T) {
	p := NewDBTracingPlugin(DBTracingConfig{Enabled: true}, nil)
	require.NotNil(t, p.logger)
	assert.Equal(t, 200*time.Millisecond, p.config.SlowQueryThresh)
}

func TestDBTracingPlugin_Disabled(t *testing.T) {
	db := setupTestDB(t)
	sr := setupGlobalTracer(t)

	p := NewDBTracingPlugin(DBTracingConfig{Enabled: false}, zap.NewNop())
	require.NoError(t, p.RegisterOtelGorm(db))

	require.NoError(t, db.Create(&statementModel{Name: "a"}).Error)
	assert.Empty(t, sr.Ended())
}

func TestDBTracingPlugin_RecordsStatementSpans(t *testing.T) {
	db := setupTestDB(t)
	sr := setupGlobalTracer(t)

	p := NewDBTracingPlugin(DBTracingConfig{Enabled: true, DBSystem: "sqlite"}, zap.NewNop())
	require.NoError(t, p.RegisterOtelGorm(db))

	ctx, parent := otel.Tracer("test").Start(context.Background(), "reconcile")
	tx := db.WithContext(ctx)
	require.NoError(t, tx.Create(&statementModel{Name: "deal"}).Error)

	var found statementModel
	require.NoError(t, tx.First(&found, "name = ?", "deal").Error)
	parent.End()

	spans := sr.Ended()
	require.GreaterOrEqual(t, len(spans), 3)

	parentID := parent.SpanContext().SpanID()
	children := 0
	for _, s := range spans {
		if s.Parent().SpanID() == parentID {
			children++
		}
	}
	assert.GreaterOrEqual(t, children, 2, "each statement should be a child of the caller's span")
}

func TestDBTracingPlugin_LogsSlowStatements(t *testing.T) {
	db := setupTestDB(t)
	setupGlobalTracer(t)

	core, logs := observer.New(zapcore.InfoLevel)
	p := NewDBTracingPlugin(DBTracingConfig{
		Enabled:         true,
		SlowQueryThresh: time.Nanosecond,
		DBSystem:        "sqlite",
	}, zap.New(core))
	require.NoError(t, p.RegisterOtelGorm(db))

	require.NoError(t, db.Create(&statementModel{Name: "slow"}).Error)

	slow := logs.FilterMessage("Slow database statement").All()
	require.NotEmpty(t, slow)
	fields := slow[0].ContextMap()
	assert.Equal(t, "INSERT", fields["operation"])
	assert.Equal(t, "statement_models", fields["table"])
}

func TestDBTracingPlugin_DoubleRegistration(t *testing.T) {
	db := setupTestDB(t)
	setupGlobalTracer(t)

	p := NewDBTracingPlugin(DBTracingConfig{Enabled: true}, zap.NewNop())
	require.NoError(t, p.RegisterOtelGorm(db))
	assert.Error(t, p.RegisterOtelGorm(db), "otelgorm refuses a second registration")
}
