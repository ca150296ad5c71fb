package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aksrustagi/settle"
	"github.com/aksrustagi/settle/id"
	"github.com/aksrustagi/settle/signal"
)

// RunEmitter emits saga-level lifecycle events.
// This interface is satisfied by hook.Registry (via an adapter in the
// engine package) to break the import cycle between saga and hook.
type RunEmitter interface {
	StepEmitter
	EmitSagaStarted(ctx context.Context, run *Run)
	EmitSagaCompleted(ctx context.Context, run *Run, elapsed time.Duration)
	EmitSagaFailed(ctx context.Context, run *Run, err error)
	EmitSagaCancelled(ctx context.Context, run *Run)
}

// Runner orchestrates saga execution: creating runs, building the
// Execution context, invoking handlers, running compensations, and
// managing terminal state.
type Runner struct {
	registry *Registry
	store    Store
	signals  *signal.Bus
	invoker  Invoker
	emitter  RunEmitter
	logger   *slog.Logger
}

// NewRunner creates a saga runner.
func NewRunner(
	registry *Registry,
	store Store,
	signals *signal.Bus,
	invoker Invoker,
	emitter RunEmitter,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		registry: registry,
		store:    store,
		signals:  signals,
		invoker:  invoker,
		emitter:  emitter,
		logger:   logger,
	}
}

// Registry returns the saga registry.
func (r *Runner) Registry() *Registry { return r.registry }

// Store returns the underlying saga store.
func (r *Runner) Store() Store { return r.store }

// Signals returns the signal bus.
func (r *Runner) Signals() *signal.Bus { return r.signals }

// Start starts a new saga run with a typed input and blocks until it
// reaches a terminal state. The input is JSON-marshaled and stored on
// the Run.
func Start[T any](ctx context.Context, runner *Runner, name string, input T) (*Run, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal input for saga %q: %w", name, err)
	}
	return runner.StartRaw(ctx, name, data)
}

// StartRaw starts a saga run with pre-serialized JSON input and blocks
// until it reaches a terminal state.
func (r *Runner) StartRaw(ctx context.Context, name string, input []byte) (*Run, error) {
	return r.start(ctx, id.NewRunID(), name, input, false)
}

// StartWithID starts a saga run under a caller-chosen run ID, blocking
// until terminal. If a run with that ID already exists, the existing
// run is returned unchanged and no new execution begins: the run ID is
// the idempotency key for duplicate submissions.
func (r *Runner) StartWithID(ctx context.Context, runID id.RunID, name string, input []byte) (*Run, error) {
	existing, err := r.store.GetRun(ctx, runID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, settle.ErrRunNotFound) {
		return nil, fmt.Errorf("check existing run %s: %w", runID, err)
	}
	return r.start(ctx, runID, name, input, false)
}

// StartAsync starts a saga run in a background goroutine and returns
// as soon as the run record is persisted. Use Await or Query to follow
// its progress, and Signal to feed it while it executes.
func (r *Runner) StartAsync(ctx context.Context, name string, input []byte) (*Run, error) {
	return r.start(ctx, id.NewRunID(), name, input, true)
}

func (r *Runner) start(ctx context.Context, runID id.RunID, name string, input []byte, async bool) (*Run, error) {
	handler, ok := r.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("no saga registered for %q", name)
	}

	now := time.Now().UTC()
	run := &Run{
		Entity:    settle.NewEntity(),
		ID:        runID,
		Name:      name,
		State:     RunStateRunning,
		Input:     input,
		StartedAt: now,
	}

	if err := r.store.CreateRun(ctx, run); err != nil {
		if errors.Is(err, settle.ErrRunAlreadyExists) {
			// Lost a race with a duplicate submission; defer to the winner.
			return r.store.GetRun(ctx, runID)
		}
		return nil, fmt.Errorf("create run for saga %q: %w", name, err)
	}

	r.emitter.EmitSagaStarted(ctx, run)

	if async {
		go r.executeRun(context.WithoutCancel(ctx), run, handler, input)
		return run, nil
	}

	r.executeRun(ctx, run, handler, input)
	return run, nil
}

// executeRun runs the saga handler and handles completion, failure,
// and cancellation. Compensations run before a run is marked failed or
// cancelled.
func (r *Runner) executeRun(ctx context.Context, run *Run, handler HandlerFunc, input []byte) {
	start := time.Now()

	ex := NewExecution(ctx, run, r.store, r.signals, r.invoker, r.emitter, r.logger)

	err := handler(ex, input)
	elapsed := time.Since(start)

	now := time.Now().UTC()

	if err != nil {
		if len(ex.Compensations()) > 0 {
			r.logger.Info("running compensations",
				slog.String("run_id", run.ID.String()),
				slog.Int("count", len(ex.Compensations())),
			)
			if compErr := ex.RunCompensations(); compErr != nil {
				r.logger.Error("compensation errors during saga unwind",
					slog.String("run_id", run.ID.String()),
					slog.String("error", compErr.Error()),
				)
			}
		}

		if errors.Is(err, ErrCancelled) {
			run.State = RunStateCancelled
		} else {
			run.State = RunStateFailed
		}
		run.Error = err.Error()
		run.CompletedAt = &now
		if updateErr := r.store.UpdateRun(ctx, run); updateErr != nil {
			r.logger.Error("failed to persist terminal run state",
				slog.String("run_id", run.ID.String()),
				slog.String("error", updateErr.Error()),
			)
		}
		if run.State == RunStateCancelled {
			r.emitter.EmitSagaCancelled(ctx, run)
		} else {
			r.emitter.EmitSagaFailed(ctx, run, err)
		}
		return
	}

	run.State = RunStateCompleted
	run.CompletedAt = &now
	if updateErr := r.store.UpdateRun(ctx, run); updateErr != nil {
		r.logger.Error("failed to persist completed run",
			slog.String("run_id", run.ID.String()),
			slog.String("error", updateErr.Error()),
		)
	}
	r.emitter.EmitSagaCompleted(ctx, run, elapsed)
}

// Resume resumes a saga run that was in "running" state (crash
// recovery). It re-executes the handler; steps with checkpoints are
// skipped automatically, so external effects are not repeated.
func (r *Runner) Resume(ctx context.Context, runID id.RunID) error {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("get run %s: %w", runID, err)
	}
	if run.State != RunStateRunning {
		return fmt.Errorf("%w: run %s is %q, not running", settle.ErrInvalidState, runID, run.State)
	}

	handler, ok := r.registry.Get(run.Name)
	if !ok {
		return fmt.Errorf("no saga registered for %q (run %s)", run.Name, runID)
	}

	r.executeRun(ctx, run, handler, run.Input)
	return nil
}

// ResumeAll finds all runs in "running" state and resumes them with
// bounded concurrency. Called at startup for crash recovery.
func (r *Runner) ResumeAll(ctx context.Context, concurrency int) error {
	runs, err := r.store.ListRuns(ctx, ListOpts{State: RunStateRunning})
	if err != nil {
		return fmt.Errorf("list running saga runs: %w", err)
	}

	if concurrency <= 0 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, run := range runs {
		g.Go(func() error {
			r.logger.Info("resuming saga run",
				slog.String("run_id", run.ID.String()),
				slog.String("saga", run.Name),
			)
			if resumeErr := r.Resume(gctx, run.ID); resumeErr != nil {
				r.logger.Error("failed to resume saga run",
					slog.String("run_id", run.ID.String()),
					slog.String("error", resumeErr.Error()),
				)
			}
			return nil
		})
	}

	return g.Wait()
}

// Signal delivers a named signal with a JSON payload to a run's
// mailbox. Signals arriving before the run waits are queued and
// delivered in arrival order when the wait begins. Signalling a
// terminal run is a no-op beyond persistence of the signal.
func (r *Runner) Signal(ctx context.Context, runID id.RunID, name string, payload []byte) error {
	if _, err := r.store.GetRun(ctx, runID); err != nil {
		return fmt.Errorf("signal run %s: %w", runID, err)
	}
	if _, err := r.signals.Publish(ctx, runID, name, payload); err != nil {
		return fmt.Errorf("signal run %s: %w", runID, err)
	}
	return nil
}

// RequestCancel records a cancellation request for a run. The flag is
// sticky; a cancel signal is also published so a blocked wait wakes
// immediately. Requesting cancellation of a terminal run is a no-op.
func (r *Runner) RequestCancel(ctx context.Context, runID id.RunID) error {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("cancel run %s: %w", runID, err)
	}
	if run.State.Terminal() {
		return nil
	}
	if err := r.store.RequestCancel(ctx, runID); err != nil {
		return fmt.Errorf("cancel run %s: %w", runID, err)
	}
	if _, err := r.signals.Publish(ctx, runID, signal.Cancel, nil); err != nil {
		return fmt.Errorf("cancel run %s: publish wake-up: %w", runID, err)
	}
	return nil
}

// Query returns the queryable snapshot of a run, served entirely from
// persisted state: lifecycle state, domain status, published vars, and
// the output or error once terminal.
func (r *Runner) Query(ctx context.Context, runID id.RunID) (*Snapshot, error) {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return run.Snapshot(), nil
}

// Await polls until the run reaches a terminal state or the context
// expires, returning the final run.
func (r *Runner) Await(ctx context.Context, runID id.RunID) (*Run, error) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		run, err := r.store.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run.State.Terminal() {
			return run, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
