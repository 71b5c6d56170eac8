// Package observability wires OpenTelemetry tracing and RED metrics
// (rate, errors, duration) around kernel operations.
//
// Telemetry is off by default. When disabled, the global no-op providers
// are used and TrackOperation costs a span start on a no-op tracer.
// Nothing recorded here ever feeds back into kernel output.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
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

	"github.com/Mindburn-Labs/veritas/pkg/kernelerr"
)

const instrumentationName = "github.com/Mindburn-Labs/veritas"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string  // gRPC, e.g. "localhost:4317"
	SampleRate     float64 // 0.0 to 1.0
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns the defaults: telemetry disabled.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "veritas",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
	}
}

// Option overrides exporter wiring. Used to keep telemetry in process.
type Option func(*exporters)

type exporters struct {
	spans   sdktrace.SpanExporter
	metrics sdkmetric.Reader
}

// WithSpanExporter sends spans to exp instead of OTLP.
func WithSpanExporter(exp sdktrace.SpanExporter) Option {
	return func(e *exporters) { e.spans = exp }
}

// WithMetricReader collects metrics with r instead of an OTLP periodic
// reader.
func WithMetricReader(r sdkmetric.Reader) Option {
	return func(e *exporters) { e.metrics = r }
}

// Provider owns the trace and metric providers.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	operations metric.Int64Counter
	failures   metric.Int64Counter
	duration   metric.Float64Histogram
	active     metric.Int64UpDownCounter
}

// New creates a provider. A nil config means DefaultConfig.
func New(ctx context.Context, config *Config, opts ...Option) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}
	if !config.Enabled {
		p.logger.DebugContext(ctx, "observability disabled")
		return p, nil
	}

	var ex exporters
	for _, opt := range opts {
		opt(&ex)
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
		semconv.DeploymentEnvironment(config.Environment),
	)

	if err := p.initTraceProvider(ctx, res, ex.spans); err != nil {
		return nil, fmt.Errorf("trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res, ex.metrics); err != nil {
		return nil, fmt.Errorf("meter provider: %w", err)
	}

	p.tracer = p.tracerProvider.Tracer(instrumentationName,
		trace.WithInstrumentationVersion(config.ServiceVersion),
	)
	p.meter = p.meterProvider.Meter(instrumentationName,
		metric.WithInstrumentationVersion(config.ServiceVersion),
	)
	if err := p.initREDMetrics(); err != nil {
		return nil, fmt.Errorf("operation instruments: %w", err)
	}

	p.logger.DebugContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
	)
	return p, nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource, exp sdktrace.SpanExporter) error {
	spanOpt := sdktrace.WithSyncer(exp)
	if exp == nil {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
		if p.config.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		otlp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return fmt.Errorf("otlp trace exporter: %w", err)
		}
		spanOpt = sdktrace.WithBatcher(otlp, sdktrace.WithBatchTimeout(p.config.BatchTimeout))
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		spanOpt,
		sdktrace.WithSampler(sampler(p.config.SampleRate)),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource, reader sdkmetric.Reader) error {
	if reader == nil {
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
		if p.config.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		otlp, err := otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return fmt.Errorf("otlp metric exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(otlp, sdkmetric.WithInterval(15*time.Second))
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initREDMetrics() error {
	var err error

	p.operations, err = p.meter.Int64Counter("veritas.operations.total",
		metric.WithDescription("Kernel operations started"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return err
	}

	p.failures, err = p.meter.Int64Counter("veritas.errors.total",
		metric.WithDescription("Kernel operations that failed, by error code"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	p.duration, err = p.meter.Float64Histogram("veritas.operation.duration",
		metric.WithDescription("Kernel operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return err
	}

	p.active, err = p.meter.Int64UpDownCounter("veritas.operations.active",
		metric.WithDescription("Kernel operations in progress"),
		metric.WithUnit("{operation}"),
	)
	return err
}

// Shutdown flushes and stops the providers. Both are stopped even if the
// first one fails.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.WarnContext(ctx, "trace provider shutdown", "error", err)
			errs = append(errs, fmt.Errorf("trace provider: %w", err))
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.WarnContext(ctx, "meter provider shutdown", "error", err)
			errs = append(errs, fmt.Errorf("meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Tracer returns the configured tracer, or the global one when disabled.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return p.tracer
}

// Meter returns the configured meter, or the global one when disabled.
func (p *Provider) Meter() metric.Meter {
	if p.meter == nil {
		return otel.Meter(instrumentationName)
	}
	return p.meter
}

// ErrorAttributes describes err for telemetry. Kernel errors are reported
// by code and stage.
func ErrorAttributes(err error) []attribute.KeyValue {
	if ke, ok := kernelerr.As(err); ok {
		return []attribute.KeyValue{
			attribute.String("veritas.error.code", string(ke.Code())),
			attribute.String("veritas.error.stage", string(ke.Stage())),
		}
	}
	return []attribute.KeyValue{attribute.String("error.type", fmt.Sprintf("%T", err))}
}

// TrackOperation starts a span and the RED instruments for one operation.
// Call the returned function with the operation's error when it finishes.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	attrs = append([]attribute.KeyValue{attribute.String("veritas.operation", name)}, attrs...)

	ctx, span := p.Tracer().Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	set := metric.WithAttributes(attrs...)
	if p.active != nil {
		p.active.Add(ctx, 1, set)
	}
	if p.operations != nil {
		p.operations.Add(ctx, 1, set)
	}

	return ctx, func(err error) {
		if p.active != nil {
			p.active.Add(ctx, -1, set)
		}
		if p.duration != nil {
			p.duration.Record(ctx, time.Since(start).Seconds(), set)
		}
		if err != nil {
			errAttrs := ErrorAttributes(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(errAttrs...)
			if p.failures != nil {
				p.failures.Add(ctx, 1, metric.WithAttributes(append(append([]attribute.KeyValue{}, attrs...), errAttrs...)...))
			}
		}
		span.End()
	}
}
