package saga_test

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/aksrustagi/settle/activity"
	"github.com/aksrustagi/settle/saga"
	"github.com/aksrustagi/settle/signal"
	"github.com/aksrustagi/settle/store/memory"
)

// testLogger returns a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// noopEmitter satisfies saga.RunEmitter without doing anything.
type noopEmitter struct{}

func (noopEmitter) EmitStepCompleted(context.Context, *saga.Run, string, time.Duration)  {}
func (noopEmitter) EmitStepFailed(context.Context, *saga.Run, string, error)             {}
func (noopEmitter) EmitCompensationFailed(context.Context, *saga.Run, string, error)     {}
func (noopEmitter) EmitSagaStarted(context.Context, *saga.Run)                           {}
func (noopEmitter) EmitSagaCompleted(context.Context, *saga.Run, time.Duration)          {}
func (noopEmitter) EmitSagaFailed(context.Context, *saga.Run, error)                     {}
func (noopEmitter) EmitSagaCancelled(context.Context, *saga.Run)                         {}

// newTestRunnerWithStore creates a runner using an explicit store, with
// a live activity executor so ExecuteActivity works in tests.
func newTestRunnerWithStore(s *memory.Store) (*saga.Runner, *saga.Registry, *activity.Registry) {
	reg := saga.NewRegistry()
	actReg := activity.NewRegistry()
	invoker := activity.NewExecutor(actReg, activity.WithLogger(testLogger()))
	runner := saga.NewRunner(reg, s, signal.NewBus(s), invoker, noopEmitter{}, testLogger())
	return runner, reg, actReg
}

// newTestRunner creates a runner over a fresh memory store.
func newTestRunner() (*saga.Runner, *saga.Registry, *memory.Store) {
	s := memory.New()
	runner, reg, _ := newTestRunnerWithStore(s)
	return runner, reg, s
}
