package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/mailaudit/mailaudit/internal/analyzer"
	"github.com/mailaudit/mailaudit/internal/hub"
	"github.com/mailaudit/mailaudit/internal/model"
	"github.com/mailaudit/mailaudit/internal/scorer"
	"github.com/mailaudit/mailaudit/internal/store"
)

const (
	// DefaultTimeoutS is the default analyzer timeout in seconds.
	DefaultTimeoutS = 60
	// DefaultMaxConcurrent is the default size of the execution pool.
	DefaultMaxConcurrent = 4

	// Pagination bounds for ListRuns.
	defaultPageSize = 20
	maxPageSize     = 100
)

// ErrUnknownKind is returned by Start when the check kind is not one of the
// supported enumeration.
var ErrUnknownKind = errors.New("unknown check kind")

// ConflictError reports that a run for the same (domain, kind) is already in
// flight. BlockingRunID identifies it when it could be resolved.
type ConflictError struct {
	BlockingRunID string
}

func (e *ConflictError) Error() string {
	if e.BlockingRunID == "" {
		return "a run for this domain and check kind is already in flight"
	}
	return fmt.Sprintf("run %s for this domain and check kind is already in flight", e.BlockingRunID)
}

// Options tunes the engine. Zero values take the defaults.
type Options struct {
	// TimeoutS bounds each analyzer invocation, in seconds.
	TimeoutS int
	// MaxConcurrent bounds how many runs execute at once.
	MaxConcurrent int
}

// Engine orchestrates asynchronous check-run execution.
type Engine struct {
	store    store.Store
	registry *analyzer.Registry
	hub      *hub.Hub
	logger   *slog.Logger
	timeout  time.Duration
	sem      *semaphore.Weighted
	wg       sync.WaitGroup
}

// NewEngine creates a new run orchestrator.
func NewEngine(s store.Store, reg *analyzer.Registry, h *hub.Hub, logger *slog.Logger, opts Options) *Engine {
	timeoutS := opts.TimeoutS
	if timeoutS <= 0 {
		timeoutS = DefaultTimeoutS
	}
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Engine{
		store:    s,
		registry: reg,
		hub:      h,
		logger:   logger,
		timeout:  time.Duration(timeoutS) * time.Second,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Start creates a pending run for (domain, kind) and schedules its execution.
// It returns as soon as the pending record is durably created; all later
// transitions are observed via the hub or by re-reading the run.
//
// An absent, inactive, or foreign domain is reported as store.ErrNotFound so
// that existence is not leaked across owners. A run already in flight for the
// same (domain, kind) is reported as *ConflictError.
func (e *Engine) Start(ctx context.Context, principalID, domainID string, kind model.CheckKind) (*model.Run, error) {
	if !model.ValidKind(kind) {
		return nil, ErrUnknownKind
	}

	d, err := e.store.GetDomain(ctx, domainID)
	if err != nil {
		return nil, err
	}
	if d.OwnerID != principalID || !d.Active {
		return nil, store.ErrNotFound
	}

	now := time.Now().UTC()
	run := &model.Run{
		ID:        model.NewID(),
		DomainID:  d.ID,
		Kind:      kind,
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// The store's unique in-flight constraint makes this check-and-insert
	// atomic even across multiple orchestrator instances.
	if err := e.store.CreateRun(ctx, run); err != nil {
		if errors.Is(err, store.ErrRunInFlight) {
			conflict := &ConflictError{}
			if blocking, lookupErr := e.store.GetInFlightRun(ctx, d.ID, kind); lookupErr == nil {
				conflict.BlockingRunID = blocking.ID
			}
			return nil, conflict
		}
		return nil, fmt.Errorf("create run: %w", err)
	}

	runsStarted.WithLabelValues(string(kind)).Inc()

	// Execute on a copy to avoid data races with the caller.
	runCopy := *run
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.execute(&runCopy, d.OwnerID, d.Name)
	}()

	return run, nil
}

// Retry re-arms a failed run on the same record and schedules execution
// again. Only failed runs may be retried; pending, running and completed
// runs are rejected with store.ErrInvalidState.
func (e *Engine) Retry(ctx context.Context, principalID, runID string) (*model.Run, error) {
	run, d, err := e.getOwnedRun(ctx, principalID, runID)
	if err != nil {
		return nil, err
	}

	// Conditional update: concurrent retries of the same run race here and
	// exactly one wins. A newer run for the same (domain, kind) blocks the
	// re-arm the same way it blocks Start.
	if err := e.store.RearmRun(ctx, run.ID); err != nil {
		if errors.Is(err, store.ErrRunInFlight) {
			conflict := &ConflictError{}
			if blocking, lookupErr := e.store.GetInFlightRun(ctx, run.DomainID, run.Kind); lookupErr == nil {
				conflict.BlockingRunID = blocking.ID
			}
			return nil, conflict
		}
		return nil, err
	}

	rearmed, err := e.store.GetRun(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("reload re-armed run: %w", err)
	}

	e.hub.Publish(d.OwnerID, rearmed.ID, hub.Event{Type: hub.EventUpdated, Run: rearmed})
	runsStarted.WithLabelValues(string(rearmed.Kind)).Inc()

	runCopy := *rearmed
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.execute(&runCopy, d.OwnerID, d.Name)
	}()

	return rearmed, nil
}

// GetRun returns the run when it belongs to a domain owned by principalID,
// and store.ErrNotFound otherwise.
func (e *Engine) GetRun(ctx context.Context, principalID, runID string) (*model.Run, error) {
	run, _, err := e.getOwnedRun(ctx, principalID, runID)
	return run, err
}

// ListRuns returns one page of the owner's run history plus the total count.
// page is 1-based; limit is clamped to [1, 100].
func (e *Engine) ListRuns(ctx context.Context, principalID string, f store.RunFilter, page, limit int) ([]*model.Run, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > maxPageSize {
		limit = defaultPageSize
	}
	return e.store.ListRunsForOwner(ctx, principalID, f, limit, (page-1)*limit)
}

// ListPending returns every non-terminal run, for operational introspection.
func (e *Engine) ListPending(ctx context.Context) ([]*model.Run, error) {
	return e.store.ListPendingRuns(ctx)
}

// Wait blocks until all in-flight run goroutines complete.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// getOwnedRun loads a run and its domain, collapsing foreign ownership into
// store.ErrNotFound.
func (e *Engine) getOwnedRun(ctx context.Context, principalID, runID string) (*model.Run, *model.Domain, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	d, err := e.store.GetDomain(ctx, run.DomainID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve run domain: %w", err)
	}
	if d.OwnerID != principalID {
		return nil, nil, store.ErrNotFound
	}
	return run, d, nil
}

// execute drives one run through its lifecycle. It never blocks Start or
// Retry; suspension happens only around the analyzer call and store writes.
// A failed notification push never fails the underlying transition.
func (e *Engine) execute(run *model.Run, ownerID, domainName string) {
	if err := e.sem.Acquire(context.Background(), 1); err != nil {
		return
	}
	defer e.sem.Release(1)

	// Transition to running and stamp the execution time.
	if err := e.store.MarkRunning(context.Background(), run.ID); err != nil {
		e.logger.Error("failed to transition to running", "run_id", run.ID, "error", err)
		e.finishFailed(run, ownerID, fmt.Sprintf("failed to start: %v", err))
		return
	}
	start := time.Now().UTC()
	run.Status = model.StatusRunning
	run.ExecutedAt = &start
	run.UpdatedAt = start
	e.hub.Publish(ownerID, run.ID, hub.Event{Type: hub.EventStarted, Run: run})

	prober, err := e.registry.Resolve(run.Kind)
	if err != nil {
		e.finishFailed(run, ownerID, fmt.Sprintf("resolve prober: %v", err))
		return
	}

	// The timeout is the only safeguard against a stuck analyzer; without it
	// a run would be orphaned in running forever.
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	result, err := prober.Probe(ctx, domainName)
	if err != nil {
		reason := err.Error()
		if ctx.Err() == context.DeadlineExceeded {
			reason = fmt.Sprintf("analyzer timed out after %s", e.timeout)
		}
		e.finishFailed(run, ownerID, reason)
		return
	}

	// Problems processing a successful probe fail the run, not the engine.
	raw, err := json.Marshal(result)
	if err != nil {
		e.finishFailed(run, ownerID, fmt.Sprintf("encode analyzer payload: %v", err))
		return
	}
	score, recommendations := scorer.Score(run.Kind, result)

	if err := e.store.CompleteRun(context.Background(), run.ID, raw, score, recommendations); err != nil {
		e.logger.Error("failed to update completed run", "run_id", run.ID, "error", err)
		return
	}

	now := time.Now().UTC()
	run.Status = model.StatusCompleted
	run.RawResult = raw
	run.Score = &score
	run.Recommendations = recommendations
	run.UpdatedAt = now

	runsCompleted.WithLabelValues(string(run.Kind)).Inc()
	runDuration.WithLabelValues(string(run.Kind)).Observe(time.Since(start).Seconds())
	e.hub.Publish(ownerID, run.ID, hub.Event{Type: hub.EventCompleted, Run: run})
}

// finishFailed marks a run as failed with the given reason and notifies.
func (e *Engine) finishFailed(run *model.Run, ownerID, reason string) {
	if err := e.store.FailRun(context.Background(), run.ID, reason); err != nil {
		e.logger.Error("failed to update failed run", "run_id", run.ID, "error", err)
		return
	}

	now := time.Now().UTC()
	run.Status = model.StatusFailed
	run.RawResult = nil
	run.Score = nil
	run.Recommendations = nil
	run.FailureReason = reason
	run.UpdatedAt = now

	runsFailed.WithLabelValues(string(run.Kind)).Inc()
	e.hub.Publish(ownerID, run.ID, hub.Event{Type: hub.EventFailed, Run: run})
}
