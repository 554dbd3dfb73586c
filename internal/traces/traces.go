// Package traces provides OpenTelemetry distributed tracing for the
// payment firewall.
package traces

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/agentpay/firewall"

// Init initializes the OpenTelemetry tracer provider. If otlpEndpoint
// is empty, a no-op provider is used. Returns a shutdown function that
// should be called on server stop.
func Init(ctx context.Context, otlpEndpoint string, logger *slog.Logger) (func(context.Context) error, error) {
	if otlpEndpoint == "" {
		logger.Info("tracing disabled (no OTEL_EXPORTER_OTLP_ENDPOINT set)")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(otlpEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("agentpay-firewall"),
			semconv.ServiceVersion("0.1.0"),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled", "endpoint", otlpEndpoint)
	return tp.Shutdown, nil
}

// StartSpan starts a new span with the given name and returns the
// updated context and span.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// Common attribute helpers for consistent span decoration across the
// pipeline.

func IntentID(id string) attribute.KeyValue {
	return attribute.String("intent.id", id)
}

func Protocol(protocol string) attribute.KeyValue {
	return attribute.String("intent.protocol", protocol)
}

func Recipient(recipient string) attribute.KeyValue {
	return attribute.String("intent.recipient", recipient)
}

func Amount(amount string) attribute.KeyValue {
	return attribute.String("intent.amount", amount)
}

func Currency(currency string) attribute.KeyValue {
	return attribute.String("intent.currency", currency)
}

func Layer(layer string) attribute.KeyValue {
	return attribute.String("verdict.layer", layer)
}

func EscrowID(id string) attribute.KeyValue {
	return attribute.String("escrow.id", id)
}
