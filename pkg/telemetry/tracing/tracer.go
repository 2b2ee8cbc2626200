package tracing

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials/insecure"

	"mercator-hq/quotaguard/pkg/config"
)

// InstrumentationName prefixes the tracer name of every limiter component.
const InstrumentationName = "mercator-hq/quotaguard"

// Sampler strategies accepted in telemetry.tracing.sampler.
const (
	SamplerAlways = "always"
	SamplerNever  = "never"
	SamplerRatio  = "ratio"
)

// Tracer owns the SDK provider installed for the process. Limiter packages
// never hold it directly; they call Component, which resolves through the
// global provider and is a noop until New installs one.
type Tracer struct {
	provider *sdktrace.TracerProvider
}

// New installs an OTLP gRPC exporting provider when cfg.Enabled is set.
// The exporter connects lazily, so a missing collector does not fail startup.
func New(cfg *config.TracingConfig, version string) (*Tracer, error) {
	if cfg == nil {
		return nil, errors.New("tracing config is nil")
	}
	if !cfg.Enabled {
		return &Tracer{}, nil
	}

	sampler, err := newSampler(cfg.Sampler, cfg.SampleRatio)
	if err != nil {
		return nil, err
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, otlptracegrpc.WithTimeout(cfg.Timeout))
	}
	exporter, err := otlptracegrpc.New(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(version),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{provider: provider}, nil
}

// Enabled reports whether spans are exported.
func (t *Tracer) Enabled() bool {
	return t.provider != nil
}

// Shutdown flushes pending spans.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// Component returns the tracer for one limiter component, e.g. "tiered".
func Component(name string) trace.Tracer {
	return otel.Tracer(InstrumentationName + "/" + name)
}

// SetError records err on span and marks it failed. A nil err is ignored.
func SetError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.SetAttributes(attribute.Bool("error", true))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// newSampler wraps the strategy in ParentBased, so a sampled caller keeps
// its admission spans and an unsampled one does not.
func newSampler(strategy string, ratio float64) (sdktrace.Sampler, error) {
	switch strategy {
	case SamplerAlways:
		return sdktrace.ParentBased(sdktrace.AlwaysSample()), nil
	case SamplerNever:
		return sdktrace.ParentBased(sdktrace.NeverSample()), nil
	case SamplerRatio:
		if ratio < 0 || ratio > 1 {
			return nil, fmt.Errorf("sample ratio must be between 0.0 and 1.0, got %g", ratio)
		}
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio)), nil
	default:
		return nil, fmt.Errorf("unknown sampler strategy %q", strategy)
	}
}
