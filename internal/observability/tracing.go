package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an OpenTelemetry tracer with save-cache span helpers.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer(name string) *Tracer {
	return &Tracer{tracer: otel.Tracer(name)}
}

// StartOperation starts a span for one aggregate operation.
func (t *Tracer) StartOperation(ctx context.Context, operation, kind, saveID string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "savecache."+operation,
		trace.WithAttributes(
			attribute.String("savecache.operation", operation),
			attribute.String("savecache.kind", kind),
			attribute.String("savecache.save_id", saveID),
		),
	)
	if correlationID := GetCorrelationID(ctx); correlationID != "" {
		span.SetAttributes(attribute.String("correlation_id", correlationID))
	}
	return ctx, span
}

// StartFlush starts a span for a drain pass of one kind.
func (t *Tracer) StartFlush(ctx context.Context, kind string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "savecache.flush",
		trace.WithAttributes(attribute.String("savecache.kind", kind)),
	)
}

// RecordCacheHit marks the span as served with a cached overlay.
func RecordCacheHit(span trace.Span, hit bool) {
	span.SetAttributes(attribute.Bool("savecache.hit", hit))
}

// RecordError records err on the span.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSuccess marks the span as successful.
func SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
