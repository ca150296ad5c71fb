package saga

import (
	"time"

	"github.com/aksrustagi/settle/id"
)

// Checkpoint stores the serialized result of a completed saga step,
// enabling crash recovery by skipping the step on replay.
type Checkpoint struct {
	ID        id.CheckpointID `json:"id"`
	RunID     id.RunID        `json:"run_id"`
	StepName  string          `json:"step_name"`
	Data      []byte          `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}
