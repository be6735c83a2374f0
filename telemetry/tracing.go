package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

var tracingEnabled atomic.Bool

// Tracing configures InitTracing.
type Tracing struct {
	ServiceName    string
	ServiceVersion string
	// Endpoint is the OTLP/gRPC collector address; empty disables tracing.
	Endpoint string
	// SampleRatio is the share of root spans kept. Values outside (0,1) keep all.
	SampleRatio float64
}

func (t Tracing) sampler() sdktrace.Sampler {
	if t.SampleRatio > 0 && t.SampleRatio < 1 {
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(t.SampleRatio))
	}
	return sdktrace.ParentBased(sdktrace.AlwaysSample())
}

// InitTracing installs the global tracer provider and returns a shutdown
// func that flushes buffered spans. With no endpoint the provider stays the
// no-op default and shutdown does nothing.
func InitTracing(ctx context.Context, t Tracing) (shutdown func(context.Context) error, err error) {
	if t.Endpoint == "" {
		slog.Info("tracing disabled: OTEL_EXPORTER_OTLP_ENDPOINT not set")
		return func(context.Context) error { return nil }, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(t.Endpoint),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(t.ServiceName),
		semconv.ServiceVersion(t.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("create trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(t.sampler()),
	)
	otel.SetTracerProvider(tp)
	tracingEnabled.Store(true)
	slog.Info("tracing initialized",
		slog.String("service", t.ServiceName),
		slog.String("endpoint", t.Endpoint),
		slog.Float64("sample_ratio", t.SampleRatio))

	return func(ctx context.Context) error {
		tracingEnabled.Store(false)
		if err := tp.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown tracer provider: %w", err)
		}
		return nil
	}, nil
}

// IsTracingEnabled reports whether spans are exported.
func IsTracingEnabled() bool {
	return tracingEnabled.Load()
}

// StartSpan starts a span carrying attrs and the correlation id, if any.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if corr := GetCorrelation(ctx); corr != "" {
		attrs = append(attrs, attribute.String("correlation_id", corr))
	}
	return otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// AddEvent records a named event on the span in ctx, if any.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// RecordError records an error on the span and sets error status.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess sets span status to OK.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
