// Package tracing wraps dispatched store operations in OpenTelemetry
// spans exported to Jaeger. It has no HTTP surface of its own — the
// client and replication protocols are plain line-oriented TCP — so
// spans carry operation/key/duration attributes instead of the
// HTTP-shaped semconv ones an HTTP server would use.
package tracing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer produces spans around dispatched commands.
type Tracer struct {
	tracer trace.Tracer
}

// New creates a Tracer that exports to a Jaeger collector at
// endpoint. An empty endpoint disables export but keeps span creation
// working (useful for tests and single-node runs without a collector).
func New(serviceName, endpoint string) (*Tracer, error) {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		)),
	}
	if endpoint != "" {
		exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(endpoint)))
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	return &Tracer{tracer: tp.Tracer(serviceName)}, nil
}

// TraceCommand wraps fn in a span named "dispatch.<op>", recording the
// key and wall duration, and marking the span as errored if fn fails.
func (t *Tracer) TraceCommand(ctx context.Context, op, key string, fn func(context.Context) (string, error)) (string, error) {
	ctx, span := t.tracer.Start(ctx, "dispatch."+op)
	defer span.End()

	start := time.Now()
	result, err := fn(ctx)
	duration := time.Since(start)

	span.SetAttributes(
		attribute.String("kv.operation", op),
		attribute.String("kv.key", key),
		attribute.String("kv.duration", duration.String()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}
