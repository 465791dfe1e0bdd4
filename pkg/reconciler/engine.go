// Package reconciler drives mint events to a terminal state.
//
// Each cycle selects the unacknowledged events, asks the task service for
// their status in one batch, and then either acknowledges failed tasks or
// runs the publish pipeline for completed ones: fetch the creation, publish
// its artifact and a metadata document, point the token at the metadata on
// the ledger and acknowledge the event. Work that fails part-way leaves the
// event unacknowledged, so a later cycle retries it from the start.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/abraham-ai/mintmodifier/pkg/chain"
	"github.com/abraham-ai/mintmodifier/pkg/eden"
	"github.com/abraham-ai/mintmodifier/pkg/lease"
	"github.com/abraham-ai/mintmodifier/pkg/observability"
	"github.com/abraham-ai/mintmodifier/pkg/store/mintevents"
)

const DefaultPollInterval = 2 * time.Second

// EventStore is the persistence the engine needs.
type EventStore interface {
	FindPending(ctx context.Context) ([]mintevents.MintEvent, error)
	UpsertByTaskID(ctx context.Context, taskID string, p mintevents.Patch) error
}

// TaskService resolves task status and results.
type TaskService interface {
	GetTasksByIDs(ctx context.Context, ids []string) ([]eden.Task, error)
	GetCreation(ctx context.Context, ref string) (eden.Creation, error)
}

// Publisher uploads artifacts to content-addressed storage.
type Publisher interface {
	PublishBinary(ctx context.Context, r io.Reader, name string) (string, error)
	PublishJSON(ctx context.Context, doc any) (string, error)
	GatewayURI(cid string) string
}

// LedgerWriter points a token at a metadata URI.
type LedgerWriter interface {
	SetMetadata(ctx context.Context, tokenID int64, metadataURI string) (chain.TxResult, error)
}

// LedgerRetryPolicy bounds how many ledger writes an event gets before it is
// acknowledged as failed. MaxAttempts <= 1 acknowledges on the first failure.
type LedgerRetryPolicy struct {
	MaxAttempts int
}

// Exhausted reports whether attempts writes use up the budget.
func (p LedgerRetryPolicy) Exhausted(attempts int) bool {
	return p.MaxAttempts <= 1 || attempts >= p.MaxAttempts
}

// Options tunes an Engine. Zero values select the defaults.
type Options struct {
	PollInterval    time.Duration
	Concurrency     int
	Ledger          LedgerRetryPolicy
	MetadataName    string
	CreationBaseURL string

	Lease lease.Lease
	// LeaseRenewInterval is how often a held lease is renewed while a cycle
	// runs. Zero derives it from the lease TTL when the lease exposes one.
	LeaseRenewInterval time.Duration

	Telemetry *observability.Provider
	Logger    *slog.Logger
}

// Engine runs reconciliation cycles.
type Engine struct {
	store     EventStore
	tasks     TaskService
	publisher Publisher
	ledger    LedgerWriter
	fetcher   SourceFetcher

	pollInterval    time.Duration
	concurrency     int
	ledgerPolicy    LedgerRetryPolicy
	metadataName    string
	creationBaseURL string

	lease      lease.Lease
	leaseRenew time.Duration
	telemetry  *observability.Provider
	logger     *slog.Logger
}

func New(store EventStore, tasks TaskService, publisher Publisher, ledger LedgerWriter, fetcher SourceFetcher, opts Options) *Engine {
	e := &Engine{
		store:           store,
		tasks:           tasks,
		publisher:       publisher,
		ledger:          ledger,
		fetcher:         fetcher,
		pollInterval:    opts.PollInterval,
		concurrency:     opts.Concurrency,
		ledgerPolicy:    opts.Ledger,
		metadataName:    opts.MetadataName,
		creationBaseURL: opts.CreationBaseURL,
		lease:           opts.Lease,
		leaseRenew:      opts.LeaseRenewInterval,
		telemetry:       opts.Telemetry,
		logger:          opts.Logger,
	}
	if e.pollInterval <= 0 {
		e.pollInterval = DefaultPollInterval
	}
	if e.concurrency < 1 {
		e.concurrency = 1
	}
	if e.metadataName == "" {
		e.metadataName = DefaultMetadataName
	}
	if e.creationBaseURL == "" {
		e.creationBaseURL = DefaultCreationBaseURL
	}
	if e.lease == nil {
		e.lease = lease.Always{}
	}
	if ttl, ok := e.lease.(interface{ TTL() time.Duration }); ok && e.leaseRenew == 0 {
		e.leaseRenew = ttl.TTL() / 3
	}
	if e.telemetry == nil {
		e.telemetry = observability.Disabled()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "reconciler")
	return e
}

// Run executes a cycle immediately and then one every PollInterval after the
// previous cycle finished, until ctx is cancelled. Cycle errors are logged and
// never stop the loop. Cancellation returns nil.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "reconciler started", "poll_interval", e.pollInterval, "concurrency", e.concurrency)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			e.release()
			e.logger.Info("reconciler stopped")
			return nil
		case <-timer.C:
		}

		if _, err := e.RunCycle(ctx); err != nil && ctx.Err() == nil {
			e.logger.ErrorContext(ctx, "cycle failed", "error", err)
		}
		timer.Reset(e.pollInterval)
	}
}

// RunCycles executes exactly n cycles back to back and returns their reports.
// It stops early only when ctx is cancelled.
func (e *Engine) RunCycles(ctx context.Context, n int) ([]CycleReport, error) {
	reports := make([]CycleReport, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		r, err := e.RunCycle(ctx)
		reports = append(reports, r)
		if err != nil {
			e.logger.ErrorContext(ctx, "cycle failed", "error", err)
		}
	}
	return reports, nil
}

// RunCycle performs one reconciliation pass. An error means the cycle was
// aborted: before any task was handled, or part-way when ctx ended or the
// poller lease was lost (lease.ErrLost). Per-task errors are only logged.
func (e *Engine) RunCycle(ctx context.Context) (report CycleReport, err error) {
	report.CycleID = uuid.NewString()
	ctx, finish := e.telemetry.TrackOperation(ctx, "mintmodifier.cycle", observability.AttrCycleID.String(report.CycleID))
	defer func() { finish(err) }()

	logger := e.logger.With("cycle_id", report.CycleID)

	held, err := e.lease.Acquire(ctx)
	if err != nil {
		return report, fmt.Errorf("acquire poller lease: %w", err)
	}
	if !held {
		report.Skipped = true
		logger.DebugContext(ctx, "poller lease held elsewhere, skipping cycle")
		return report, nil
	}
	ctx, stopRenew := e.keepLease(ctx, logger)
	defer stopRenew()

	logger.InfoContext(ctx, "fetching unacknowledged mint events")
	pending, err := e.store.FindPending(ctx)
	if err != nil {
		return report, fmt.Errorf("find pending mint events: %w", err)
	}
	report.Pending = len(pending)
	if len(pending) == 0 {
		logger.InfoContext(ctx, "no unacknowledged mint events found")
		return report, nil
	}
	logger.InfoContext(ctx, "found unacknowledged mint events", "count", len(pending))
	observability.SetSpanAttributes(ctx, observability.CycleOperation(report.CycleID, len(pending))...)

	byTask := make(map[string]mintevents.MintEvent, len(pending))
	ids := make([]string, 0, len(pending))
	for _, ev := range pending {
		if _, dup := byTask[ev.TaskID]; dup {
			continue
		}
		byTask[ev.TaskID] = ev
		ids = append(ids, ev.TaskID)
	}

	tasks, err := e.tasks.GetTasksByIDs(ctx, ids)
	if err != nil {
		return report, fmt.Errorf("fetch task status: %w", err)
	}
	report.Resolved = len(tasks)

	var mu sync.Mutex
	record := func(o outcome) {
		mu.Lock()
		report.add(o)
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	seen := make(map[string]bool, len(tasks))

	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		if seen[task.TaskID] {
			continue
		}
		seen[task.TaskID] = true

		ev, ok := byTask[task.TaskID]
		if !ok {
			logger.WarnContext(ctx, "task not in pending snapshot", "task_id", task.TaskID)
			record(outcomeUnmatched)
			continue
		}

		if e.concurrency == 1 {
			record(e.handleTask(ctx, logger, ev, task))
			continue
		}
		g.Go(func() error {
			record(e.handleTask(ctx, logger, ev, task))
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return report, context.Cause(ctx)
	}
	logger.InfoContext(ctx, "cycle complete", "report", report)
	return report, nil
}

// keepLease renews the lease every leaseRenew until stop is called. When a
// renewal fails or finds the lease taken, the returned context is cancelled
// with lease.ErrLost so no further ledger writes start.
func (e *Engine) keepLease(ctx context.Context, logger *slog.Logger) (context.Context, func()) {
	if e.leaseRenew <= 0 {
		return ctx, func() {}
	}
	ctx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(e.leaseRenew)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			held, err := e.lease.Acquire(ctx)
			if err != nil || !held {
				logger.WarnContext(ctx, "poller lease lost, aborting cycle", "error", err)
				cancel(lease.ErrLost)
				return
			}
		}
	}()

	return ctx, func() {
		close(done)
		wg.Wait()
		cancel(nil)
	}
}

// handleTask applies one task's status to its mint event.
func (e *Engine) handleTask(ctx context.Context, logger *slog.Logger, ev mintevents.MintEvent, task eden.Task) outcome {
	logger = logger.With("task_id", task.TaskID, "token_id", ev.TokenID)
	logger.InfoContext(ctx, "task", "status", task.Status)

	switch task.Status {
	case eden.StatusFailed:
		patch := mintevents.Patch{Ack: mintevents.Bool(true), EdenSuccess: mintevents.Bool(false)}
		if err := e.store.UpsertByTaskID(ctx, task.TaskID, patch); err != nil {
			logger.ErrorContext(ctx, "failed to acknowledge failed task", "error", err)
			return outcomeErrored
		}
		observability.AddSpanEvent(ctx, "mint_event.acknowledged",
			observability.AttrTaskID.String(task.TaskID),
			observability.AttrOutcome.String(observability.OutcomeTaskFailed))
		e.telemetry.RecordAcknowledged(ctx, observability.OutcomeTaskFailed)
		return outcomeTaskFailed

	case eden.StatusCompleted:
		o, err := e.publish(ctx, logger, ev, task)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				logger.WarnContext(ctx, "publish interrupted", "error", err)
			} else {
				logger.ErrorContext(ctx, "publish failed", "error", err)
			}
			return outcomeErrored
		}
		return o

	default:
		return outcomeDeferred
	}
}

func (e *Engine) release() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.lease.Release(ctx); err != nil && !errors.Is(err, lease.ErrNotHeld) {
		e.logger.Warn("failed to release poller lease", "error", err)
	}
}
