package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of sync spans and meters
const TracerName = "dealsync"

// Span names. A batch span parents one span per partition, and each
// partition span parents one reconcile span per deal.
const (
	SpanBatch     = "dealsync.batch"
	SpanPartition = "dealsync.partition"
	SpanReconcile = "dealsync.reconcile"
)

// Span attribute keys. Metric keys live next to the instruments.
var (
	AttrRunID          = attribute.Key("dealsync.run_id")
	AttrPartitionCount = attribute.Key("dealsync.partitions")
	AttrPartitionID    = attribute.Key("dealsync.partition_id")
	AttrLoanCode       = attribute.Key("dealsync.loan_code")
)

// StartSpan starts an internal span on the global tracer provider. The
// caller ends it, usually through EndSpan.
//
//	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanPartition,
//	    telemetry.AttrPartition.String(p.Name))
//	defer span.End()
func StartSpan(ctx context.Context, name string, kv ...attribute.KeyValue) (context.Context, trace.Span) {
	opts := []trace.SpanStartOption{trace.WithSpanKind(trace.SpanKindInternal)}
	if len(kv) > 0 {
		opts = append(opts, trace.WithAttributes(kv...))
	}
	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, name, opts...)
}

// RecordError records err on the span and marks the span failed.
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// EndSpan records err, if any, and ends the span.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	RecordError(span, err)
	span.End()
}
