package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Semantic convention attributes for reconciliation spans and metrics.
var (
	AttrOperation = attribute.Key("mintmodifier.operation")
	AttrOutcome   = attribute.Key("mintmodifier.outcome")

	// Cycle attributes
	AttrCycleID      = attribute.Key("mintmodifier.cycle.id")
	AttrCyclePending = attribute.Key("mintmodifier.cycle.pending")

	// Mint event attributes
	AttrTaskID     = attribute.Key("mintmodifier.task.id")
	AttrTaskStatus = attribute.Key("mintmodifier.task.status")
	AttrTokenID    = attribute.Key("mintmodifier.token.id")

	// Ledger attributes
	AttrTxHash    = attribute.Key("mintmodifier.tx.hash")
	AttrTxAttempt = attribute.Key("mintmodifier.tx.attempt")
)

// Outcomes reported by RecordAcknowledged.
const (
	OutcomeMinted       = "minted"
	OutcomeTaskFailed   = "task_failed"
	OutcomeLedgerFailed = "ledger_failed"
)

// CycleOperation creates attributes for a reconciliation cycle.
func CycleOperation(cycleID string, pending int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrCycleID.String(cycleID),
		AttrCyclePending.Int(pending),
	}
}

// TaskOperation creates attributes for work on a single mint event.
func TaskOperation(taskID string, tokenID int64, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTaskID.String(taskID),
		AttrTokenID.Int64(tokenID),
		AttrTaskStatus.String(status),
	}
}

// LedgerOperation creates attributes for a ledger write.
func LedgerOperation(taskID string, tokenID int64, attempt int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTaskID.String(taskID),
		AttrTokenID.Int64(tokenID),
		AttrTxAttempt.Int(attempt),
	}
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanAttributes sets attributes on the current span.
func SetSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}
