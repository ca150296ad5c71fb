// Package hook defines the lifecycle hook system. Hooks are notified
// of saga and activity lifecycle events and can react to them —
// auditing, alerting, metrics.
//
// Each lifecycle hook is a separate interface so implementations opt in
// only to the events they care about.
package hook

import (
	"context"
	"time"

	"github.com/aksrustagi/settle/activity"
	"github.com/aksrustagi/settle/saga"
)

// Hook is the base interface all hooks must implement.
type Hook interface {
	// Name returns a unique human-readable name for the hook.
	Name() string
}

// SagaStarted is called when a saga run begins.
type SagaStarted interface {
	OnSagaStarted(ctx context.Context, run *saga.Run) error
}

// SagaCompleted is called after a saga run finishes successfully.
type SagaCompleted interface {
	OnSagaCompleted(ctx context.Context, run *saga.Run, elapsed time.Duration) error
}

// SagaFailed is called when a saga run fails terminally, after
// compensations have run.
type SagaFailed interface {
	OnSagaFailed(ctx context.Context, run *saga.Run, err error) error
}

// SagaCancelled is called when a cancellation request is honored,
// after compensations have run.
type SagaCancelled interface {
	OnSagaCancelled(ctx context.Context, run *saga.Run) error
}

// StepCompleted is called after a saga step completes.
type StepCompleted interface {
	OnStepCompleted(ctx context.Context, run *saga.Run, stepName string, elapsed time.Duration) error
}

// StepFailed is called when a saga step fails.
type StepFailed interface {
	OnStepFailed(ctx context.Context, run *saga.Run, stepName string, err error) error
}

// CompensationFailed is called when a compensation errors during a
// saga unwind. These are the runs that need operator attention: the
// system could not restore the pre-saga state on its own.
type CompensationFailed interface {
	OnCompensationFailed(ctx context.Context, run *saga.Run, stepName string, err error) error
}

// ActivityRetrying is called when an activity attempt fails but
// another attempt will follow.
type ActivityRetrying interface {
	OnActivityRetrying(ctx context.Context, inv *activity.Invocation, err error, delay time.Duration) error
}

// ActivityFailed is called when an activity exhausts its retry policy
// or fails terminally.
type ActivityFailed interface {
	OnActivityFailed(ctx context.Context, inv *activity.Invocation, err error) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
