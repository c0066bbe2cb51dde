package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const (
	loggerKey    contextKey = "logger"
	runIDKey     contextKey = "run_id"
	partitionKey contextKey = "partition"
	loanCodeKey  contextKey = "loan_code"
)

// WithContext returns a new context with the logger attached
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger from context, or a no-op logger
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}

// WithRunID tags ctx with the batch run id
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// WithPartition tags ctx with the partition being synced
func WithPartition(ctx context.Context, partition string) context.Context {
	return context.WithValue(ctx, partitionKey, partition)
}

// WithLoanCode tags ctx with the deal being processed
func WithLoanCode(ctx context.Context, loanCode string) context.Context {
	return context.WithValue(ctx, loanCodeKey, loanCode)
}

// GetRunID retrieves run ID from context
func GetRunID(ctx context.Context) string {
	runID, _ := ctx.Value(runIDKey).(string)
	return runID
}

// GetPartition retrieves partition from context
func GetPartition(ctx context.Context) string {
	partition, _ := ctx.Value(partitionKey).(string)
	return partition
}

// GetLoanCode retrieves loan code from context
func GetLoanCode(ctx context.Context) string {
	loanCode, _ := ctx.Value(loanCodeKey).(string)
	return loanCode
}

// Fields returns the correlation fields carried by ctx: trace_id and span_id
// of the active span, then run_id, partition and loan_code when set.
func Fields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		fields = append(fields,
			zap.String("trace_id", spanCtx.TraceID().String()),
			zap.String("span_id", spanCtx.SpanID().String()),
		)
	}
	if runID := GetRunID(ctx); runID != "" {
		fields = append(fields, zap.String("run_id", runID))
	}
	if partition := GetPartition(ctx); partition != "" {
		fields = append(fields, zap.String("partition", partition))
	}
	if loanCode := GetLoanCode(ctx); loanCode != "" {
		fields = append(fields, zap.String("loan_code", loanCode))
	}
	return fields
}

// ContextLogger logs with the correlation fields of its context attached to
// every entry.
type ContextLogger struct {
	ctx    context.Context
	logger *zap.Logger
}

// L returns a ContextLogger over the logger stored in ctx.
// Usage: logger.L(ctx).Info("message", zap.String("key", "value"))
func L(ctx context.Context) *ContextLogger {
	return &ContextLogger{ctx: ctx, logger: FromContext(ctx)}
}

// WithLogger returns a ContextLogger over an explicit logger
func WithLogger(ctx context.Context, logger *zap.Logger) *ContextLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContextLogger{ctx: ctx, logger: logger}
}

// With creates a child ContextLogger with additional fields
func (cl *ContextLogger) With(fields ...zap.Field) *ContextLogger {
	return &ContextLogger{ctx: cl.ctx, logger: cl.logger.With(fields...)}
}

// Debug logs a debug level message
func (cl *ContextLogger) Debug(msg string, fields ...zap.Field) {
	cl.Zap().Debug(msg, fields...)
}

// Info logs an info level message
func (cl *ContextLogger) Info(msg string, fields ...zap.Field) {
	cl.Zap().Info(msg, fields...)
}

// Warn logs a warning level message
func (cl *ContextLogger) Warn(msg string, fields ...zap.Field) {
	cl.Zap().Warn(msg, fields...)
}

// Error logs an error level message
func (cl *ContextLogger) Error(msg string, fields ...zap.Field) {
	cl.Zap().Error(msg, fields...)
}

// Zap returns the underlying logger with the context fields attached
func (cl *ContextLogger) Zap() *zap.Logger {
	fields := Fields(cl.ctx)
	if len(fields) == 0 {
		return cl.logger
	}
	return cl.logger.With(fields...)
}
