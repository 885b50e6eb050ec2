package musync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Gohla/musium/internal/catalog"
	"github.com/Gohla/musium/internal/source"
	"github.com/Gohla/musium/internal/util"
)

// Observer produces one source's current observation batch. The local
// scanner and the remote client both implement this.
type Observer interface {
	Observe(ctx context.Context, src *source.Source) (*source.Batch, error)
}

// EventSink receives sync run events. *report.EventLogger satisfies it.
type EventSink interface {
	LogRunStart(runID string, sourceID int64, kind string) error
	LogRunFinish(runID string, sourceID int64, summary *Summary, duration time.Duration, err error) error
	LogDiagnostic(runID string, sourceID int64, diag *source.Diagnostic) error
	LogError(runID string, sourceID int64, err error) error
}

// RunState is where a sync run currently stands.
type RunState string

const (
	RunRunning  RunState = "running"
	RunFinished RunState = "finished"
	RunFailed   RunState = "failed"
)

// RunStatus describes the latest sync run of one source.
type RunStatus struct {
	RunID      string
	SourceID   int64
	State      RunState
	StartedAt  time.Time
	FinishedAt time.Time
	Summary    *Summary
	Err        error
}

// Runner drives observe-reconcile-apply cycles. At most one run per
// source is in flight at a time; a second request while one runs fails
// fast instead of queueing.
type Runner struct {
	store     *catalog.Store
	observers map[source.Kind]Observer
	events    EventSink

	mu     sync.Mutex
	active map[int64]bool
	status map[int64]*RunStatus
}

// NewRunner creates a runner over the given store.
func NewRunner(store *catalog.Store, events EventSink) *Runner {
	return &Runner{
		store:     store,
		observers: make(map[source.Kind]Observer),
		events:    events,
		active:    make(map[int64]bool),
		status:    make(map[int64]*RunStatus),
	}
}

// Register installs the observer for a source kind.
func (r *Runner) Register(kind source.Kind, observer Observer) {
	r.observers[kind] = observer
}

// Status returns the latest run status for a source, or ErrNotFound if
// it has never been synced by this runner. Together with SyncAsync it is
// the polling surface for long-running embedders; the CLI syncs
// synchronously and never consults it.
func (r *Runner) Status(sourceID int64) (*RunStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	status, ok := r.status[sourceID]
	if !ok {
		return nil, fmt.Errorf("no sync run for source %d: %w", sourceID, util.ErrNotFound)
	}

	copied := *status
	return &copied, nil
}

// Sync runs one observe-reconcile-apply cycle for a source and waits
// for it to finish.
func (r *Runner) Sync(ctx context.Context, sourceID int64) (*Summary, error) {
	src, err := r.store.GetSource(sourceID)
	if err != nil {
		return nil, err
	}
	if !src.Enabled {
		return nil, fmt.Errorf("source %d: %w", sourceID, util.ErrSourceDisabled)
	}

	observer, ok := r.observers[src.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: no observer for source kind %q", util.ErrUnsupported, src.Kind)
	}

	if !r.acquire(src.ID) {
		return nil, fmt.Errorf("source %d: %w", src.ID, util.ErrSyncInFlight)
	}
	defer r.release(src.ID)

	r.beginStatus(src.ID)
	return r.run(ctx, src, observer)
}

// SyncAsync starts a sync in the background and returns its run id
// immediately, with progress available through Status. It exists for
// long-running embedders (a server or RPC layer triggering syncs on a
// schedule or on request) where a slow provider must not block the
// caller. The CLI uses the synchronous Sync and exits, so it has no use
// for it: a background run would be abandoned when the process ends.
func (r *Runner) SyncAsync(ctx context.Context, sourceID int64) (string, error) {
	src, err := r.store.GetSource(sourceID)
	if err != nil {
		return "", err
	}
	if !src.Enabled {
		return "", fmt.Errorf("source %d: %w", sourceID, util.ErrSourceDisabled)
	}

	observer, ok := r.observers[src.Kind]
	if !ok {
		return "", fmt.Errorf("%w: no observer for source kind %q", util.ErrUnsupported, src.Kind)
	}

	if !r.acquire(src.ID) {
		return "", fmt.Errorf("source %d: %w", src.ID, util.ErrSyncInFlight)
	}

	runID := r.beginStatus(src.ID)
	go func() {
		defer r.release(src.ID)
		r.run(ctx, src, observer)
	}()

	return runID, nil
}

// SyncAll syncs every enabled source in order, local directories before
// remote accounts, and keeps going past per-source failures.
func (r *Runner) SyncAll(ctx context.Context) (map[int64]*Summary, error) {
	sources, err := r.store.ListEnabledSources()
	if err != nil {
		return nil, err
	}

	summaries := make(map[int64]*Summary, len(sources))
	var firstErr error
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return summaries, err
		}

		summary, err := r.Sync(ctx, src.ID)
		if err != nil {
			util.ErrorLog("Sync of source %d failed: %v", src.ID, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("source %d: %w", src.ID, err)
			}
			continue
		}
		summaries[src.ID] = summary
	}

	return summaries, firstErr
}

func (r *Runner) acquire(sourceID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active[sourceID] {
		return false
	}
	r.active[sourceID] = true
	return true
}

func (r *Runner) release(sourceID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, sourceID)
}

func (r *Runner) beginStatus(sourceID int64) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := &RunStatus{
		RunID:     uuid.NewString(),
		SourceID:  sourceID,
		State:     RunRunning,
		StartedAt: time.Now(),
	}
	r.status[sourceID] = status
	return status.RunID
}

func (r *Runner) finishStatus(sourceID int64, summary *Summary, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	status, ok := r.status[sourceID]
	if !ok {
		return
	}
	status.FinishedAt = time.Now()
	status.Summary = summary
	status.Err = err
	if err != nil {
		status.State = RunFailed
	} else {
		status.State = RunFinished
	}
}

func (r *Runner) run(ctx context.Context, src *source.Source, observer Observer) (*Summary, error) {
	r.mu.Lock()
	runID := r.status[src.ID].RunID
	r.mu.Unlock()

	if r.events != nil {
		r.events.LogRunStart(runID, src.ID, string(src.Kind))
	}
	start := time.Now()
	util.InfoLog("Syncing source %d (%s)", src.ID, src.Kind)

	summary, err := r.cycle(ctx, src, observer, runID)
	r.finishStatus(src.ID, summary, err)

	if r.events != nil {
		if err != nil {
			r.events.LogError(runID, src.ID, err)
		}
		r.events.LogRunFinish(runID, src.ID, summary, time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}

	util.SuccessLog("Source %d synced: %d created, %d relinked, %d updated, %d soft-deleted, %d unchanged",
		src.ID, summary.TracksCreated, summary.TracksRelinked, summary.TracksUpdated,
		summary.TracksSoftDeleted, summary.TracksUnchanged)
	return summary, nil
}

func (r *Runner) cycle(ctx context.Context, src *source.Source, observer Observer, runID string) (*Summary, error) {
	batch, err := observer.Observe(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("observation failed: %w", err)
	}

	snap, err := r.store.Snapshot(src)
	if err != nil {
		return nil, fmt.Errorf("snapshot failed: %w", err)
	}

	ops, summary, err := Reconcile(snap, batch)
	if err != nil {
		return nil, fmt.Errorf("reconciliation failed: %w", err)
	}

	if err := r.store.Apply(ops); err != nil {
		return nil, fmt.Errorf("apply failed: %w", err)
	}

	if r.events != nil {
		for i := range summary.Diagnostics {
			r.events.LogDiagnostic(runID, src.ID, &summary.Diagnostics[i])
		}
	}

	return summary, nil
}
