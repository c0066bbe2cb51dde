package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

// defaultExportInterval applies when MetricsConfig.ExportInterval is zero
const defaultExportInterval = 60 * time.Second

// ErrMeterNil is returned by instrument constructors given a nil meter.
var ErrMeterNil = errors.New("telemetry: meter is nil")

// Metric attribute keys shared by the sync and database instruments.
var (
	AttrDBOperation = attribute.Key("db.operation")
	AttrDBTable     = attribute.Key("db.table")
	AttrDBState     = attribute.Key("db.pool.state")

	AttrPartition = attribute.Key("partition")
	AttrStage     = attribute.Key("stage")
	AttrStatus    = attribute.Key("status")
)

// Histogram bucket boundaries, in seconds.
var (
	DBDurationBuckets  = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}
	RunDurationBuckets = []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200}
)

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled           bool
	CollectorEndpoint string
	ExportInterval    time.Duration
	ServiceName       string
	Insecure          bool
}

// MeterProvider owns the OTLP metric pipeline. When metrics are disabled it
// hands out meters from the global (no-op) provider.
type MeterProvider struct {
	provider *sdkmetric.MeterProvider
	logger   *zap.Logger
	config   MetricsConfig
}

// MeterOption customizes NewMeterProvider.
type MeterOption func(*meterOptions)

type meterOptions struct {
	reader sdkmetric.Reader
}

// WithMetricReader replaces the periodic OTLP reader, e.g. with a manual
// reader in tests. No exporter is dialled when a reader is supplied.
func WithMetricReader(r sdkmetric.Reader) MeterOption {
	return func(o *meterOptions) {
		o.reader = r
	}
}

// NewMeterProvider builds the metric pipeline and installs it globally.
func NewMeterProvider(ctx context.Context, cfg MetricsConfig, logger *zap.Logger, opts ...MeterOption) (*MeterProvider, error) {
	mp := &MeterProvider{logger: logger, config: cfg}
	if !cfg.Enabled {
		logger.Debug("Metrics disabled, using no-op meter provider")
		return mp, nil
	}

	var o meterOptions
	for _, opt := range opts {
		opt(&o)
	}

	interval := cfg.ExportInterval
	if interval <= 0 {
		interval = defaultExportInterval
	}
	reader := o.reader
	if reader == nil {
		exporterOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.CollectorEndpoint)}
		if cfg.Insecure {
			exporterOpts = append(exporterOpts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err := otlpmetricgrpc.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))
	}

	res, err := serviceResource(cfg.ServiceName)
	if err != nil {
		return nil, err
	}
	mp.provider = sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader))
	otel.SetMeterProvider(mp.provider)

	logger.Info("Metrics export enabled",
		zap.String("collector_endpoint", cfg.CollectorEndpoint),
		zap.Duration("export_interval", interval),
		zap.String("service_name", cfg.ServiceName),
	)
	return mp, nil
}

// ForceFlush exports everything recorded so far. Long-running sync loops call
// it after each batch so a run's counters do not wait for the next interval.
func (mp *MeterProvider) ForceFlush(ctx context.Context) error {
	if mp.provider == nil {
		return nil
	}
	if err := mp.provider.ForceFlush(ctx); err != nil {
		return fmt.Errorf("failed to flush metrics: %w", err)
	}
	return nil
}

// Shutdown flushes pending metrics and stops the provider.
func (mp *MeterProvider) Shutdown(ctx context.Context) error {
	if mp.provider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := mp.provider.Shutdown(ctx); err != nil {
		mp.logger.Error("Error shutting down meter provider", zap.Error(err))
		return fmt.Errorf("failed to shutdown meter provider: %w", err)
	}
	return nil
}

// Meter returns a named meter from the provider.
func (mp *MeterProvider) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if mp.provider == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return mp.provider.Meter(name, opts...)
}

// IsEnabled reports whether metrics are exported.
func (mp *MeterProvider) IsEnabled() bool {
	return mp.config.Enabled && mp.provider != nil
}

// instrumentSet creates instruments on one meter and keeps the first error,
// so constructors declare every instrument and check once at the end. A
// failed instrument is replaced by a no-op so the set stays usable.
type instrumentSet struct {
	meter metric.Meter
	err   error
}

func newInstrumentSet(meter metric.Meter) (*instrumentSet, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	return &instrumentSet{meter: meter}, nil
}

func (s *instrumentSet) fail(name string, err error) {
	if s.err == nil {
		s.err = fmt.Errorf("failed to create instrument %s: %w", name, err)
	}
}

func (s *instrumentSet) counter(name, description, unit string) metric.Int64Counter {
	c, err := s.meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		s.fail(name, err)
		return noop.Int64Counter{}
	}
	return c
}

// seconds creates a duration histogram in seconds with explicit buckets.
func (s *instrumentSet) seconds(name, description string, buckets []float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(description), metric.WithUnit("s")}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := s.meter.Float64Histogram(name, opts...)
	if err != nil {
		s.fail(name, err)
		return noop.Float64Histogram{}
	}
	return h
}

func (s *instrumentSet) gauge(name, description, unit string) metric.Int64ObservableGauge {
	g, err := s.meter.Int64ObservableGauge(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		s.fail(name, err)
		return noop.Int64ObservableGauge{}
	}
	return g
}

func attrs(kv ...attribute.KeyValue) metric.MeasurementOption {
	return metric.WithAttributes(kv...)
}
