package reconciler

import "log/slog"

// CycleReport summarises one reconciliation cycle.
type CycleReport struct {
	CycleID string
	// Skipped is set when another replica held the poller lease.
	Skipped bool

	Pending  int // unacknowledged events found
	Resolved int // tasks returned by the task service

	Minted         int // acknowledged with a successful ledger write
	TaskFailed     int // acknowledged because the task failed
	LedgerFailed   int // acknowledged after the ledger write budget ran out
	LedgerRetrying int // ledger write failed, left for a later cycle
	Deferred       int // task not finished yet
	Errored        int // transient error, left for a later cycle
	Unmatched      int // task id not in the pending snapshot
}

// Acknowledged returns how many events reached ack=true this cycle.
func (r CycleReport) Acknowledged() int {
	return r.Minted + r.TaskFailed + r.LedgerFailed
}

func (r *CycleReport) add(o outcome) {
	switch o {
	case outcomeMinted:
		r.Minted++
	case outcomeTaskFailed:
		r.TaskFailed++
	case outcomeLedgerFailed:
		r.LedgerFailed++
	case outcomeLedgerRetrying:
		r.LedgerRetrying++
	case outcomeDeferred:
		r.Deferred++
	case outcomeErrored:
		r.Errored++
	case outcomeUnmatched:
		r.Unmatched++
	}
}

// LogValue implements slog.LogValuer.
func (r CycleReport) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("cycle_id", r.CycleID),
		slog.Int("pending", r.Pending),
		slog.Int("resolved", r.Resolved),
		slog.Int("minted", r.Minted),
		slog.Int("task_failed", r.TaskFailed),
		slog.Int("ledger_failed", r.LedgerFailed),
		slog.Int("ledger_retrying", r.LedgerRetrying),
		slog.Int("deferred", r.Deferred),
		slog.Int("errored", r.Errored),
		slog.Int("unmatched", r.Unmatched),
	)
}

type outcome int

const (
	outcomeDeferred outcome = iota
	outcomeMinted
	outcomeTaskFailed
	outcomeLedgerFailed
	outcomeLedgerRetrying
	outcomeErrored
	outcomeUnmatched
)
