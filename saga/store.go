package saga

import (
	"context"
	"time"

	"github.com/aksrustagi/settle/id"
)

// ListOpts controls filtering and pagination for run list queries.
type ListOpts struct {
	// Limit is the maximum number of runs to return. Zero means no limit.
	Limit int
	// Offset is the number of runs to skip.
	Offset int
	// State filters by run state. Empty means all states.
	State RunState
	// Name filters by saga name. Empty means all sagas.
	Name string
}

// Store defines the persistence contract for saga runs and checkpoints.
type Store interface {
	// CreateRun persists a new saga run. Returns
	// settle.ErrRunAlreadyExists if a run with the same ID exists.
	CreateRun(ctx context.Context, run *Run) error

	// GetRun retrieves a saga run by ID.
	GetRun(ctx context.Context, runID id.RunID) (*Run, error)

	// UpdateRun persists changes to an existing saga run. It must never
	// clear CancelRequested once set, even if the given run carries a
	// stale false value.
	UpdateRun(ctx context.Context, run *Run) error

	// ListRuns returns saga runs matching the given options.
	ListRuns(ctx context.Context, opts ListOpts) ([]*Run, error)

	// RequestCancel sets the sticky cancellation flag on a run.
	RequestCancel(ctx context.Context, runID id.RunID) error

	// SaveCheckpoint persists checkpoint data for a saga step. If a
	// checkpoint already exists for the same run/step, it is replaced.
	SaveCheckpoint(ctx context.Context, runID id.RunID, stepName string, data []byte) error

	// GetCheckpoint retrieves checkpoint data for a specific saga step.
	// Returns nil data if no checkpoint exists.
	GetCheckpoint(ctx context.Context, runID id.RunID, stepName string) ([]byte, error)

	// ListCheckpoints returns all checkpoints for a saga run in
	// creation order.
	ListCheckpoints(ctx context.Context, runID id.RunID) ([]*Checkpoint, error)

	// PurgeRuns deletes terminal runs (and their checkpoints) that
	// completed before the cutoff. Returns the number of runs removed.
	PurgeRuns(ctx context.Context, before time.Time) (int, error)
}
