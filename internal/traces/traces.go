// Package traces configures OpenTelemetry tracing and provides span helpers
// used across the service. When no OTLP endpoint is configured, Init is a
// no-op and spans come from the global no-op provider.
package traces

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/clearhold/clearhold"

// Init configures the global tracer provider to export over OTLP/gRPC.
// Returns a shutdown function that flushes pending spans.
func Init(ctx context.Context, serviceName, endpoint, environment string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.DeploymentEnvironment(environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return provider.Shutdown, nil
}

// StartSpan starts a span on the global tracer with the given attributes.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// EscrowID tags a span with the escrow identifier.
func EscrowID(id string) attribute.KeyValue {
	return attribute.String("escrow.id", id)
}

// OrderID tags a span with the order identifier.
func OrderID(id string) attribute.KeyValue {
	return attribute.String("escrow.order_id", id)
}

// Principal tags a span with the acting principal.
func Principal(p string) attribute.KeyValue {
	return attribute.String("escrow.principal", p)
}

// Amount tags a span with a decimal amount string.
func Amount(a string) attribute.KeyValue {
	return attribute.String("escrow.amount", a)
}

// Status tags a span with an escrow status.
func Status(s string) attribute.KeyValue {
	return attribute.String("escrow.status", s)
}
