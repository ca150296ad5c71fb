package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aksrustagi/settle/activity"
)

// Invoker executes activity invocations. Satisfied by
// *activity.Executor; defined here so tests can substitute a fake.
type Invoker interface {
	Execute(ctx context.Context, inv *activity.Invocation) ([]byte, error)
}

// ExecuteActivity invokes a registered activity as a checkpointed step.
// The step key derives the invocation id, which downstream systems use
// as an idempotency key: a replayed or retried invocation presents the
// same identity. On resume the checkpointed result is decoded and
// returned without re-invoking.
//
// I is the input type, O the output type (both JSON-serializable).
func ExecuteActivity[I, O any](e *Execution, step, name string, input I) (O, error) {
	var zero O
	stepName := "activity:" + step

	data, err := e.store.GetCheckpoint(e.ctx, e.run.ID, stepName)
	if err != nil {
		return zero, fmt.Errorf("saga %s: get activity checkpoint %q: %w", e.run.Name, step, err)
	}
	if data != nil {
		var result O
		if len(data) > 0 {
			if decErr := json.Unmarshal(data, &result); decErr != nil {
				return zero, fmt.Errorf("saga %s: decode activity checkpoint %q: %w", e.run.Name, step, decErr)
			}
		}
		return result, nil
	}

	if err := e.checkCancel(); err != nil {
		return zero, err
	}

	if e.invoker == nil {
		return zero, fmt.Errorf("saga %s: activity invoker not configured", e.run.Name)
	}

	inputData, marshalErr := json.Marshal(input)
	if marshalErr != nil {
		return zero, fmt.Errorf("saga %s: marshal activity input %q: %w", e.run.Name, step, marshalErr)
	}

	inv := &activity.Invocation{
		ID:    activity.InvocationID(e.run.ID, step),
		RunID: e.run.ID,
		Saga:  e.run.Name,
		Name:  name,
		Input: inputData,
	}

	start := time.Now()
	output, invErr := e.invoker.Execute(e.ctx, inv)
	elapsed := time.Since(start)

	if invErr != nil {
		e.emitter.EmitStepFailed(e.ctx, e.run, stepName, invErr)
		return zero, fmt.Errorf("saga %s activity %q: %w", e.run.Name, step, invErr)
	}

	chk := output
	if chk == nil {
		chk = []byte{}
	}
	if saveErr := e.store.SaveCheckpoint(e.ctx, e.run.ID, stepName, chk); saveErr != nil {
		return zero, fmt.Errorf("saga %s: save activity checkpoint %q: %w", e.run.Name, step, saveErr)
	}
	e.emitter.EmitStepCompleted(e.ctx, e.run, stepName, elapsed)

	var result O
	if len(output) > 0 {
		if decErr := json.Unmarshal(output, &result); decErr != nil {
			return zero, fmt.Errorf("saga %s: decode activity output %q: %w", e.run.Name, step, decErr)
		}
	}
	return result, nil
}

// ExecuteActivityWithCompensation invokes an activity as a checkpointed
// step and, on success, registers a compensation on the LIFO stack.
func ExecuteActivityWithCompensation[I, O any](
	e *Execution,
	step, name string,
	input I,
	compensate func(ctx context.Context) error,
) (O, error) {
	result, err := ExecuteActivity[I, O](e, step, name, input)
	if err != nil {
		return result, err
	}
	e.compensations = append(e.compensations, Compensation{
		StepName:   step,
		Compensate: compensate,
	})
	return result, nil
}
