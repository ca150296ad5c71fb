package saga

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/aksrustagi/settle"
	"github.com/aksrustagi/settle/id"
)

// ErrCancelled is returned from step boundaries and signal waits once a
// cancellation request has been observed. The runner converts it into
// the cancelled terminal state after compensations have run.
var ErrCancelled = errors.New("settle: saga cancelled")

// RunState represents the lifecycle state of a saga run.
type RunState string

const (
	// RunStateRunning means the saga is executing or awaiting a signal.
	RunStateRunning RunState = "running"
	// RunStateCompleted means the saga finished successfully.
	RunStateCompleted RunState = "completed"
	// RunStateFailed means the saga failed terminally after compensations.
	RunStateFailed RunState = "failed"
	// RunStateCancelled means a cancellation request was honored and
	// compensations have run.
	RunStateCancelled RunState = "cancelled"
)

// Terminal reports whether the state is one of the three end states.
func (s RunState) Terminal() bool {
	return s == RunStateCompleted || s == RunStateFailed || s == RunStateCancelled
}

// Run represents a single execution of a saga.
//
// State is the substrate lifecycle; Status is the domain-level progress
// string a saga reports through SetStatus ("placing-hold",
// "awaiting-fill", ...). Vars are domain variables published through
// SetVar; both are persisted on every change so queries read them
// without touching the handler.
type Run struct {
	settle.Entity

	ID     id.RunID `json:"id"`
	Name   string   `json:"name"`
	State  RunState `json:"state"`
	Status string   `json:"status,omitempty"`

	Input  []byte `json:"input,omitempty"`
	Output []byte `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`

	Vars map[string]json.RawMessage `json:"vars,omitempty"`

	// CancelRequested is a sticky flag: once set it is never cleared,
	// so replays after a crash observe the request again.
	CancelRequested bool `json:"cancel_requested"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Snapshot is the queryable view of a run, served entirely from
// persisted state.
type Snapshot struct {
	ID              id.RunID                   `json:"id"`
	Name            string                     `json:"name"`
	State           RunState                   `json:"state"`
	Status          string                     `json:"status,omitempty"`
	Vars            map[string]json.RawMessage `json:"vars,omitempty"`
	Error           string                     `json:"error,omitempty"`
	Output          json.RawMessage            `json:"output,omitempty"`
	CancelRequested bool                       `json:"cancel_requested"`
	StartedAt       time.Time                  `json:"started_at"`
	CompletedAt     *time.Time                 `json:"completed_at,omitempty"`
}

// Snapshot builds the queryable view of the run.
func (r *Run) Snapshot() *Snapshot {
	vars := make(map[string]json.RawMessage, len(r.Vars))
	for k, v := range r.Vars {
		vars[k] = v
	}
	return &Snapshot{
		ID:              r.ID,
		Name:            r.Name,
		State:           r.State,
		Status:          r.Status,
		Vars:            vars,
		Error:           r.Error,
		Output:          r.Output,
		CancelRequested: r.CancelRequested,
		StartedAt:       r.StartedAt,
		CompletedAt:     r.CompletedAt,
	}
}

// Var decodes the named run variable into out. Returns false if the
// variable has never been set.
func (s *Snapshot) Var(key string, out any) (bool, error) {
	raw, ok := s.Vars[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, err
	}
	return true, nil
}
