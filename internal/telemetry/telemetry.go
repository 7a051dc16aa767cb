// Package telemetry wires OpenTelemetry tracing and RED metrics for
// predictions. With no OTLP endpoint configured every call is a no-op.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/banshee-data/claimtype/internal/monitoring"
)

const instrumentationName = "github.com/banshee-data/claimtype"

// Metric names.
const (
	MetricPredictions = "claimtype.predictions"
	MetricErrors      = "claimtype.prediction.errors"
	MetricDuration    = "claimtype.prediction.duration"
)

var logf = monitoring.Component("telemetry")

// Config configures the exporters.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint is host:port of an OTLP/gRPC collector. Empty disables
	// export.
	OTLPEndpoint string
	Insecure     bool
	// MetricInterval is the export period; zero means 15s.
	MetricInterval time.Duration
}

// Provider owns the trace and metric providers and the RED instruments.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	predictions metric.Int64Counter
	errors      metric.Int64Counter
	duration    metric.Float64Histogram
}

// New sets up exporters for cfg and installs the providers globally. A nil
// cfg or an empty endpoint yields a no-op Provider.
func New(ctx context.Context, cfg *Config) (*Provider, error) {
	p := &Provider{}
	if cfg == nil || cfg.OTLPEndpoint == "" {
		return p, p.initInstruments(otel.Meter(instrumentationName))
	}

	// Schemaless so the merge never conflicts with the SDK default schema.
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	traceExporter, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter),
	)

	metricExporter, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		_ = p.tracerProvider.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	interval := cfg.MetricInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(interval))),
	)

	otel.SetTracerProvider(p.tracerProvider)
	otel.SetMeterProvider(p.meterProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p.tracer = p.tracerProvider.Tracer(instrumentationName, trace.WithInstrumentationVersion(cfg.ServiceVersion))
	if err := p.initInstruments(p.meterProvider.Meter(instrumentationName, metric.WithInstrumentationVersion(cfg.ServiceVersion))); err != nil {
		return nil, err
	}
	logf("exporting to %s (service %s)", cfg.OTLPEndpoint, cfg.ServiceName)
	return p, nil
}

// NewWithProviders builds a Provider over caller-owned SDK providers, as
// used by tests with in-memory readers.
func NewWithProviders(tp *sdktrace.TracerProvider, mp *sdkmetric.MeterProvider) (*Provider, error) {
	p := &Provider{}
	if tp != nil {
		p.tracer = tp.Tracer(instrumentationName)
	}
	meter := otel.Meter(instrumentationName)
	if mp != nil {
		meter = mp.Meter(instrumentationName)
	}
	return p, p.initInstruments(meter)
}

func (p *Provider) initInstruments(meter metric.Meter) error {
	var err error
	p.meter = meter
	p.predictions, err = meter.Int64Counter(MetricPredictions,
		metric.WithDescription("Predictions requested"),
		metric.WithUnit("{prediction}"),
	)
	if err != nil {
		return err
	}
	p.errors, err = meter.Int64Counter(MetricErrors,
		metric.WithDescription("Predictions that failed"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}
	p.duration, err = meter.Float64Histogram(MetricDuration,
		metric.WithDescription("Prediction latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1),
	)
	return err
}

// Tracer returns the configured tracer, or the global one.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return p.tracer
}

// TrackPrediction starts a span and counts a prediction. The returned func
// records the duration and, for a non-nil error, the failure.
func (p *Provider) TrackPrediction(ctx context.Context, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.Tracer().Start(ctx, "claimtype.predict",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	if p != nil && p.predictions != nil {
		p.predictions.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	return ctx, func(err error) {
		if p != nil && p.duration != nil {
			p.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if p != nil && p.errors != nil {
				all := append(attrs, attribute.String("error.type", fmt.Sprintf("%T", err)))
				p.errors.Add(ctx, 1, metric.WithAttributes(all...))
			}
		}
		span.End()
	}
}

// Shutdown flushes and stops the exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			logf("failed to shutdown trace provider: %v", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			logf("failed to shutdown metric provider: %v", err)
		}
	}
	return nil
}
