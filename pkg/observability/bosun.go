// Dispatch-specific instrumentation helpers.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Semantic convention attributes for the dispatch pipeline.
var (
	// Draft attributes
	AttrDraftID  = attribute.Key("bosun.draft.id")
	AttrStatus   = attribute.Key("bosun.draft.status")
	AttrPriority = attribute.Key("bosun.draft.priority")

	// Target attributes
	AttrTarget     = attribute.Key("bosun.target")
	AttrTargetKind = attribute.Key("bosun.target.kind")

	// Dispatch attributes
	AttrAttempt   = attribute.Key("bosun.dispatch.attempt")
	AttrSimulated = attribute.Key("bosun.dispatch.simulated")
	AttrReceiptID = attribute.Key("bosun.dispatch.receipt_id")

	// Rate limiter attributes
	AttrLimitGranted = attribute.Key("bosun.limit.granted")
	AttrLimitWaitMs  = attribute.Key("bosun.limit.wait_ms")
)

// DraftOperation creates attributes for draft lifecycle operations.
func DraftOperation(draftID, target, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrDraftID.String(draftID),
		AttrTarget.String(target),
		AttrStatus.String(status),
	}
}

// DispatchOperation creates attributes for one dispatch attempt.
func DispatchOperation(draftID, target string, attempt int, simulated bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrDraftID.String(draftID),
		AttrTarget.String(target),
		AttrAttempt.Int(attempt),
		AttrSimulated.Bool(simulated),
	}
}

// LimiterOperation creates attributes for token bucket decisions.
func LimiterOperation(target string, granted bool, waitMs float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTarget.String(target),
		AttrLimitGranted.Bool(granted),
		AttrLimitWaitMs.Float64(waitMs),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus sets the span status based on error.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
