package activity

import (
	"time"

	"github.com/aksrustagi/settle/id"
)

// Invocation is a single at-least-once call to an external system. Its
// ID is deterministic — derived from the run id and the saga call site —
// so a retried or replayed invocation presents the same identity to the
// external system, which deduplicates on it.
type Invocation struct {
	// ID is "<runID>:<step>". Stable across retries and replays.
	ID string `json:"id"`

	// RunID is the saga run this invocation belongs to.
	RunID id.RunID `json:"run_id"`

	// Saga is the saga type name, for logging and tracing.
	Saga string `json:"saga"`

	// Name is the registered activity name.
	Name string `json:"name"`

	// Input is the JSON-encoded input payload.
	Input []byte `json:"input"`

	// Attempt is the current attempt number, 1-indexed. Set by the
	// Executor before each attempt.
	Attempt int `json:"attempt"`

	// Timeout is the per-attempt deadline resolved from the activity
	// options and the executor default.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// InvocationID builds the deterministic invocation id for a run and
// call site. External idempotency keys are derived from this value.
func InvocationID(runID id.RunID, step string) string {
	return runID.String() + ":" + step
}
