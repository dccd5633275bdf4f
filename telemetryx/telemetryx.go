// Package telemetryx wires OpenTelemetry tracing and metrics into the
// engine: one span per dispatched step, and counters for rate-limiter
// ticket issuance/rejection. It is optional — a Runtime or
// BucketRateLimiter with no Provider attached behaves exactly as before,
// using otel's no-op tracer/meter.
package telemetryx

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Provider holds the SDK-backed tracer/meter for one process and the
// instruments derived from them. It registers itself as the global
// provider on construction, matching the single-process-per-service
// assumption the rest of the engine makes.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	reader         *sdkmetric.ManualReader

	Tracer trace.Tracer
	Meter  metric.Meter

	ticketsIssued   metric.Int64Counter
	ticketsRejected metric.Int64Counter
}

// New builds a Provider for serviceName. No exporter is attached — spans
// and metrics are recorded in-process (metrics into a manual reader held
// by the Provider, which no exported method reads), rather than shipped to
// a collector (out of scope for this engine; see DESIGN.md).
func New(serviceName string) (*Provider, error) {
	res, err := resource.Merge(resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", serviceName)))
	if err != nil {
		return nil, fmt.Errorf("telemetryx: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	tracer := tp.Tracer("github.com/teburns/llmonpy")
	meter := mp.Meter("github.com/teburns/llmonpy")

	issued, err := meter.Int64Counter("llmonpy.ratellmiter.tickets_issued",
		metric.WithDescription("tickets granted by a rate limiter, by provider"))
	if err != nil {
		return nil, fmt.Errorf("telemetryx: build tickets_issued counter: %w", err)
	}
	rejected, err := meter.Int64Counter("llmonpy.ratellmiter.tickets_rejected",
		metric.WithDescription("requests denied a ticket by a rate limiter, by provider and reason"))
	if err != nil {
		return nil, fmt.Errorf("telemetryx: build tickets_rejected counter: %w", err)
	}

	return &Provider{
		tracerProvider:  tp,
		meterProvider:   mp,
		reader:          reader,
		Tracer:          tracer,
		Meter:           meter,
		ticketsIssued:   issued,
		ticketsRejected: rejected,
	}, nil
}

// StartStepSpan starts a span named after the step, tagged with its type.
// Callers must call span.End() (typically via defer) on the returned span.
func (p *Provider) StartStepSpan(ctx context.Context, stepName, stepType string) (context.Context, trace.Span) {
	return p.Tracer.Start(ctx, stepName, trace.WithAttributes(
		attribute.String("llmonpy.step_type", stepType),
	))
}

// RecordTicketIssued increments the issuance counter for provider.
func (p *Provider) RecordTicketIssued(ctx context.Context, provider string) {
	p.ticketsIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordTicketRejected increments the rejection counter for provider,
// tagged with why the ticket was denied ("overflow" or "rate_limited").
func (p *Provider) RecordTicketRejected(ctx context.Context, provider, reason string) {
	p.ticketsRejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("reason", reason),
	))
}

// Shutdown flushes and releases both providers. Safe to call once at
// process exit.
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.tracerProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("telemetryx: shutdown tracer provider: %w", err)
	}
	if err := p.meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("telemetryx: shutdown meter provider: %w", err)
	}
	return nil
}
