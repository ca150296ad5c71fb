package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/aksrustagi/settle/activity"
	"github.com/aksrustagi/settle/saga"
)

// Named entry types pair a hook implementation with the hook name
// captured at registration time. This avoids type-asserting back to
// Hook inside the emit methods.
type sagaStartedEntry struct {
	name string
	hook SagaStarted
}

type sagaCompletedEntry struct {
	name string
	hook SagaCompleted
}

type sagaFailedEntry struct {
	name string
	hook SagaFailed
}

type sagaCancelledEntry struct {
	name string
	hook SagaCancelled
}

type stepCompletedEntry struct {
	name string
	hook StepCompleted
}

type stepFailedEntry struct {
	name string
	hook StepFailed
}

type compensationFailedEntry struct {
	name string
	hook CompensationFailed
}

type activityRetryingEntry struct {
	name string
	hook ActivityRetrying
}

type activityFailedEntry struct {
	name string
	hook ActivityFailed
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered hooks and dispatches lifecycle events to
// them. It type-caches hooks at registration time so emit calls iterate
// only over hooks that implement the relevant interface.
type Registry struct {
	hooks  []Hook
	logger *slog.Logger

	// Type-cached slices for each lifecycle hook.
	sagaStarted        []sagaStartedEntry
	sagaCompleted      []sagaCompletedEntry
	sagaFailed         []sagaFailedEntry
	sagaCancelled      []sagaCancelledEntry
	stepCompleted      []stepCompletedEntry
	stepFailed         []stepFailedEntry
	compensationFailed []compensationFailedEntry
	activityRetrying   []activityRetryingEntry
	activityFailed     []activityFailedEntry
	shutdown           []shutdownEntry
}

// NewRegistry creates a hook registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds a hook and type-asserts it into all applicable caches.
// Hooks are notified in registration order.
func (r *Registry) Register(h Hook) {
	r.hooks = append(r.hooks, h)
	name := h.Name()

	if hk, ok := h.(SagaStarted); ok {
		r.sagaStarted = append(r.sagaStarted, sagaStartedEntry{name, hk})
	}
	if hk, ok := h.(SagaCompleted); ok {
		r.sagaCompleted = append(r.sagaCompleted, sagaCompletedEntry{name, hk})
	}
	if hk, ok := h.(SagaFailed); ok {
		r.sagaFailed = append(r.sagaFailed, sagaFailedEntry{name, hk})
	}
	if hk, ok := h.(SagaCancelled); ok {
		r.sagaCancelled = append(r.sagaCancelled, sagaCancelledEntry{name, hk})
	}
	if hk, ok := h.(StepCompleted); ok {
		r.stepCompleted = append(r.stepCompleted, stepCompletedEntry{name, hk})
	}
	if hk, ok := h.(StepFailed); ok {
		r.stepFailed = append(r.stepFailed, stepFailedEntry{name, hk})
	}
	if hk, ok := h.(CompensationFailed); ok {
		r.compensationFailed = append(r.compensationFailed, compensationFailedEntry{name, hk})
	}
	if hk, ok := h.(ActivityRetrying); ok {
		r.activityRetrying = append(r.activityRetrying, activityRetryingEntry{name, hk})
	}
	if hk, ok := h.(ActivityFailed); ok {
		r.activityFailed = append(r.activityFailed, activityFailedEntry{name, hk})
	}
	if hk, ok := h.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, hk})
	}
}

// Hooks returns all registered hooks.
func (r *Registry) Hooks() []Hook { return r.hooks }

// EmitSagaStarted notifies all hooks that implement SagaStarted.
func (r *Registry) EmitSagaStarted(ctx context.Context, run *saga.Run) {
	for _, e := range r.sagaStarted {
		if err := e.hook.OnSagaStarted(ctx, run); err != nil {
			r.logHookError("OnSagaStarted", e.name, err)
		}
	}
}

// EmitSagaCompleted notifies all hooks that implement SagaCompleted.
func (r *Registry) EmitSagaCompleted(ctx context.Context, run *saga.Run, elapsed time.Duration) {
	for _, e := range r.sagaCompleted {
		if err := e.hook.OnSagaCompleted(ctx, run, elapsed); err != nil {
			r.logHookError("OnSagaCompleted", e.name, err)
		}
	}
}

// EmitSagaFailed notifies all hooks that implement SagaFailed.
func (r *Registry) EmitSagaFailed(ctx context.Context, run *saga.Run, runErr error) {
	for _, e := range r.sagaFailed {
		if err := e.hook.OnSagaFailed(ctx, run, runErr); err != nil {
			r.logHookError("OnSagaFailed", e.name, err)
		}
	}
}

// EmitSagaCancelled notifies all hooks that implement SagaCancelled.
func (r *Registry) EmitSagaCancelled(ctx context.Context, run *saga.Run) {
	for _, e := range r.sagaCancelled {
		if err := e.hook.OnSagaCancelled(ctx, run); err != nil {
			r.logHookError("OnSagaCancelled", e.name, err)
		}
	}
}

// EmitStepCompleted notifies all hooks that implement StepCompleted.
func (r *Registry) EmitStepCompleted(ctx context.Context, run *saga.Run, stepName string, elapsed time.Duration) {
	for _, e := range r.stepCompleted {
		if err := e.hook.OnStepCompleted(ctx, run, stepName, elapsed); err != nil {
			r.logHookError("OnStepCompleted", e.name, err)
		}
	}
}

// EmitStepFailed notifies all hooks that implement StepFailed.
func (r *Registry) EmitStepFailed(ctx context.Context, run *saga.Run, stepName string, stepErr error) {
	for _, e := range r.stepFailed {
		if err := e.hook.OnStepFailed(ctx, run, stepName, stepErr); err != nil {
			r.logHookError("OnStepFailed", e.name, err)
		}
	}
}

// EmitCompensationFailed notifies all hooks that implement CompensationFailed.
func (r *Registry) EmitCompensationFailed(ctx context.Context, run *saga.Run, stepName string, compErr error) {
	for _, e := range r.compensationFailed {
		if err := e.hook.OnCompensationFailed(ctx, run, stepName, compErr); err != nil {
			r.logHookError("OnCompensationFailed", e.name, err)
		}
	}
}

// EmitActivityRetrying notifies all hooks that implement ActivityRetrying.
func (r *Registry) EmitActivityRetrying(ctx context.Context, inv *activity.Invocation, invErr error, delay time.Duration) {
	for _, e := range r.activityRetrying {
		if err := e.hook.OnActivityRetrying(ctx, inv, invErr, delay); err != nil {
			r.logHookError("OnActivityRetrying", e.name, err)
		}
	}
}

// EmitActivityFailed notifies all hooks that implement ActivityFailed.
func (r *Registry) EmitActivityFailed(ctx context.Context, inv *activity.Invocation, invErr error) {
	for _, e := range r.activityFailed {
		if err := e.hook.OnActivityFailed(ctx, inv, invErr); err != nil {
			r.logHookError("OnActivityFailed", e.name, err)
		}
	}
}

// EmitShutdown notifies all hooks that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block runs.
func (r *Registry) logHookError(hookName, name string, err error) {
	r.logger.Warn("lifecycle hook error",
		slog.String("hook", hookName),
		slog.String("name", name),
		slog.String("error", err.Error()),
	)
}
