package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aksrustagi/settle/signal"
)

// StepEmitter is called by the Execution to emit step lifecycle events.
// This interface is satisfied by hook.Registry (via an adapter in the
// engine package) to break the import cycle between saga and hook.
type StepEmitter interface {
	EmitStepCompleted(ctx context.Context, run *Run, stepName string, elapsed time.Duration)
	EmitStepFailed(ctx context.Context, run *Run, stepName string, err error)
	EmitCompensationFailed(ctx context.Context, run *Run, stepName string, err error)
}

// Compensation is a registered undo action for a completed step.
type Compensation struct {
	StepName   string
	Compensate func(ctx context.Context) error
}

// Execution is the context passed to saga handler functions. It
// provides durable step execution, activity invocation, signal waits,
// and durable sleep. Each method checkpoints its result so crash
// recovery replays skip completed work.
type Execution struct {
	ctx      context.Context
	run      *Run
	store    Store
	signals  *signal.Bus
	invoker  Invoker
	emitter  StepEmitter
	logger   *slog.Logger
	shielded bool

	compensations []Compensation
}

// NewExecution creates a saga execution context.
// This is called by the Runner, not by users.
func NewExecution(
	ctx context.Context,
	run *Run,
	store Store,
	signals *signal.Bus,
	invoker Invoker,
	emitter StepEmitter,
	logger *slog.Logger,
) *Execution {
	return &Execution{
		ctx:     ctx,
		run:     run,
		store:   store,
		signals: signals,
		invoker: invoker,
		emitter: emitter,
		logger:  logger,
	}
}

// Context returns the underlying context.Context.
func (e *Execution) Context() context.Context { return e.ctx }

// Run returns the saga run.
func (e *Execution) Run() *Run { return e.run }

// RunID returns the saga run ID as a string, for use in idempotency
// keys and log fields.
func (e *Execution) RunID() string { return e.run.ID.String() }

// CancelRequested reports whether cancellation has been requested for
// this run. The flag is sticky: it refreshes from the store on first
// query and never resets within an execution.
func (e *Execution) CancelRequested() bool {
	if e.run.CancelRequested {
		return true
	}
	fresh, err := e.store.GetRun(e.ctx, e.run.ID)
	if err != nil {
		return false
	}
	if fresh.CancelRequested {
		e.run.CancelRequested = true
	}
	return e.run.CancelRequested
}

// checkCancel returns ErrCancelled at a step boundary when a
// cancellation request is pending and the execution is not shielded.
func (e *Execution) checkCancel() error {
	if e.shielded {
		return nil
	}
	if e.CancelRequested() {
		return ErrCancelled
	}
	return nil
}

// Shield runs fn with cancellation observation suppressed: step
// boundaries inside fn never return ErrCancelled. Use it for sections
// that must run to completion once begun, such as the final leg of a
// transfer.
func (e *Execution) Shield(fn func() error) error {
	prev := e.shielded
	e.shielded = true
	defer func() { e.shielded = prev }()
	return fn()
}

// SetStatus records the domain-level progress of the run and persists
// it immediately so queries observe it.
func (e *Execution) SetStatus(status string) error {
	e.run.Status = status
	if err := e.store.UpdateRun(e.ctx, e.run); err != nil {
		return fmt.Errorf("saga %s: persist status %q: %w", e.run.Name, status, err)
	}
	return nil
}

// SetVar publishes a named run variable, JSON-encoded and persisted
// immediately. Setting the same key twice overwrites.
func (e *Execution) SetVar(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("saga %s: marshal var %q: %w", e.run.Name, key, err)
	}
	if e.run.Vars == nil {
		e.run.Vars = make(map[string]json.RawMessage)
	}
	e.run.Vars[key] = data
	if err := e.store.UpdateRun(e.ctx, e.run); err != nil {
		return fmt.Errorf("saga %s: persist var %q: %w", e.run.Name, key, err)
	}
	return nil
}

// SetOutput records the saga's result value, JSON-encoded. It is
// persisted with the terminal run state and served by Query.
func (e *Execution) SetOutput(value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("saga %s: marshal output: %w", e.run.Name, err)
	}
	e.run.Output = data
	return nil
}

// Step executes a named step function. If a checkpoint exists for this
// step name, the step is skipped (idempotent replay). Otherwise the
// function is executed and a checkpoint is saved on success.
func (e *Execution) Step(name string, fn func(ctx context.Context) error) error {
	data, err := e.store.GetCheckpoint(e.ctx, e.run.ID, name)
	if err != nil {
		return fmt.Errorf("saga %s: get checkpoint %q: %w", e.run.Name, name, err)
	}
	if data != nil {
		e.logger.Debug("skipping checkpointed step",
			slog.String("run_id", e.run.ID.String()),
			slog.String("step", name),
		)
		return nil
	}

	if err := e.checkCancel(); err != nil {
		return err
	}

	start := time.Now()
	stepErr := fn(e.ctx)
	elapsed := time.Since(start)

	if stepErr != nil {
		e.emitter.EmitStepFailed(e.ctx, e.run, name, stepErr)
		return fmt.Errorf("saga %s step %q: %w", e.run.Name, name, stepErr)
	}

	if saveErr := e.store.SaveCheckpoint(e.ctx, e.run.ID, name, []byte{}); saveErr != nil {
		return fmt.Errorf("saga %s: save checkpoint %q: %w", e.run.Name, name, saveErr)
	}

	e.emitter.EmitStepCompleted(e.ctx, e.run, name, elapsed)
	return nil
}

// StepWithResult executes a named step that returns a typed value. The
// result is checkpointed as JSON (domain types carry typeid fields,
// which have no exported fields and cannot be gob-encoded). On resume
// the cached result is returned without re-executing the function.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func StepWithResult[T any](e *Execution, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	data, err := e.store.GetCheckpoint(e.ctx, e.run.ID, name)
	if err != nil {
		return zero, fmt.Errorf("saga %s: get checkpoint %q: %w", e.run.Name, name, err)
	}
	if data != nil {
		var result T
		if decErr := json.Unmarshal(data, &result); decErr != nil {
			return zero, fmt.Errorf("saga %s: decode checkpoint %q: %w", e.run.Name, name, decErr)
		}
		e.logger.Debug("returning checkpointed result",
			slog.String("run_id", e.run.ID.String()),
			slog.String("step", name),
		)
		return result, nil
	}

	if err := e.checkCancel(); err != nil {
		return zero, err
	}

	start := time.Now()
	result, stepErr := fn(e.ctx)
	elapsed := time.Since(start)

	if stepErr != nil {
		e.emitter.EmitStepFailed(e.ctx, e.run, name, stepErr)
		return zero, fmt.Errorf("saga %s step %q: %w", e.run.Name, name, stepErr)
	}

	buf, encErr := json.Marshal(result)
	if encErr != nil {
		return zero, fmt.Errorf("saga %s: encode checkpoint %q: %w", e.run.Name, name, encErr)
	}
	if saveErr := e.store.SaveCheckpoint(e.ctx, e.run.ID, name, buf); saveErr != nil {
		return zero, fmt.Errorf("saga %s: save checkpoint %q: %w", e.run.Name, name, saveErr)
	}

	e.emitter.EmitStepCompleted(e.ctx, e.run, name, elapsed)
	return result, nil
}

// StepWithCompensation executes a named step with an associated
// compensation function. If the step succeeds, the compensation is
// pushed onto a LIFO stack. When the saga later fails or is cancelled,
// all registered compensations run in reverse order to undo completed
// work.
func (e *Execution) StepWithCompensation(
	name string,
	execute func(ctx context.Context) error,
	compensate func(ctx context.Context) error,
) error {
	if err := e.Step(name, execute); err != nil {
		return err
	}
	e.compensations = append(e.compensations, Compensation{
		StepName:   name,
		Compensate: compensate,
	})
	return nil
}

// StepWithResultAndCompensation executes a named step that returns a
// typed value, with an associated compensation function.
func StepWithResultAndCompensation[T any](
	e *Execution,
	name string,
	execute func(ctx context.Context) (T, error),
	compensate func(ctx context.Context) error,
) (T, error) {
	result, err := StepWithResult(e, name, execute)
	if err != nil {
		return result, err
	}
	e.compensations = append(e.compensations, Compensation{
		StepName:   name,
		Compensate: compensate,
	})
	return result, nil
}

// Compensations returns the registered compensation stack.
func (e *Execution) Compensations() []Compensation { return e.compensations }

// RunCompensations executes registered compensations in reverse
// registration order. Cancellation of the surrounding context does not
// stop them: a partially-undone run is worse than a slow one. Failures
// are emitted individually and joined into the returned error; one
// failed compensation does not stop the rest.
func (e *Execution) RunCompensations() error {
	ctx := context.WithoutCancel(e.ctx)

	var errs []error
	for i := len(e.compensations) - 1; i >= 0; i-- {
		comp := e.compensations[i]
		e.logger.Info("running compensation",
			slog.String("run_id", e.run.ID.String()),
			slog.String("step", comp.StepName),
		)
		if err := comp.Compensate(ctx); err != nil {
			e.emitter.EmitCompensationFailed(ctx, e.run, comp.StepName, err)
			errs = append(errs, fmt.Errorf("compensate %q: %w", comp.StepName, err))
		}
	}
	return errors.Join(errs...)
}

// Sleep pauses the saga for the specified duration. On crash recovery,
// if a checkpoint exists for this sleep step, it is skipped
// immediately. Unless shielded, a cancellation request wakes the sleep
// early with ErrCancelled instead of waiting out the duration.
func (e *Execution) Sleep(name string, d time.Duration) error {
	stepName := "sleep:" + name

	data, err := e.store.GetCheckpoint(e.ctx, e.run.ID, stepName)
	if err != nil {
		return fmt.Errorf("saga %s: get sleep checkpoint %q: %w", e.run.Name, name, err)
	}
	if data != nil {
		e.logger.Debug("skipping checkpointed sleep",
			slog.String("run_id", e.run.ID.String()),
			slog.String("step", name),
		)
		return nil
	}

	if err := e.checkCancel(); err != nil {
		return err
	}

	if e.shielded {
		select {
		case <-time.After(d):
		case <-e.ctx.Done():
			return e.ctx.Err()
		}
	} else {
		// Listen for the cancel signal while sleeping, so a
		// cancellation request wakes the sleep instead of waiting it
		// out.
		sig, waitErr := e.signals.Next(e.ctx, e.run.ID, []string{signal.Cancel}, d)
		if waitErr != nil {
			return fmt.Errorf("saga %s sleep %q: %w", e.run.Name, name, waitErr)
		}
		if sig != nil {
			e.run.CancelRequested = true
			e.ackSignal(sig)
			return ErrCancelled
		}
	}

	return e.store.SaveCheckpoint(e.ctx, e.run.ID, stepName, []byte{})
}
