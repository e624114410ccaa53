// Package tracing wires the plugin's reconciliation loop and effect
// dispatcher into OpenTelemetry spans. When tracing is disabled (the
// common case for a plugin running embedded in the CI server), the
// returned tracer is the otel no-op implementation and all calls are
// near-zero cost.
package tracing

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

var (
	mu       sync.Mutex
	provider *trace.TracerProvider
)

// Configure installs a global TracerProvider exporting spans over OTLP/HTTP
// to otlpEndpoint. Passing enabled=false leaves the global otel no-op
// provider in place. Callers should defer the returned shutdown func.
func Configure(ctx context.Context, enabled bool, otlpEndpoint, serviceName string) (shutdown func(context.Context) error, err error) {
	mu.Lock()
	defer mu.Unlock()

	if !enabled {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithInsecure()}
	if otlpEndpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(otlpEndpoint))
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating otlp exporter: %w", err)
	}

	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
	)

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	provider = tp

	return tp.Shutdown, nil
}

// Tracer returns a named tracer from the currently installed provider.
func Tracer(name string) oteltrace.Tracer {
	return otel.Tracer(name)
}

// StartSpan starts a span named op under the given tracer name.
func StartSpan(ctx context.Context, tracerName, op string) (context.Context, oteltrace.Span) {
	return Tracer(tracerName).Start(ctx, op)
}
