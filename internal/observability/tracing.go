package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TraceConfig configures the OTLP/gRPC trace exporter. An empty
// Endpoint disables exporting; the global tracer falls back to a
// no-op implementation.
type TraceConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Insecure       bool
}

// InitTracing installs a TracerProvider as the global OpenTelemetry
// tracer, adapted from the teacher's observability.NewTracer, trimmed
// to the one shape cmd/nexus-core needs at startup. The returned
// shutdown func flushes and closes the exporter; it is a no-op if
// config.Endpoint is empty.
func InitTracing(ctx context.Context, config TraceConfig) (func(context.Context) error, error) {
	if config.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	if config.ServiceName == "" {
		config.ServiceName = "nexus-core"
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.Endpoint)}
	if config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
	))
	if err != nil {
		res = resource.Default()
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	return provider.Shutdown, nil
}

var tracer = otel.Tracer("github.com/nexuscore/agent")

// StartToolSpan starts a span for one tool call.
func StartToolSpan(ctx context.Context, toolName string) (context.Context, trace.Span) {
	return tracer.Start(ctx, fmt.Sprintf("tool.%s", toolName), trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("tool.name", toolName)))
}

// StartTurnSpan starts a span for one RunTurn call.
func StartTurnSpan(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "turn", trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("session.id", sessionID)))
}

// StartLLMSpan starts a span for one provider streaming request.
func StartLLMSpan(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	return tracer.Start(ctx, fmt.Sprintf("llm.%s", provider), trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("llm.provider", provider), attribute.String("llm.model", model)))
}

// EndSpan records err on span (if non-nil) and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
