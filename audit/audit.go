// Package audit provides the append-only audit trail. Every saga
// lifecycle transition is recorded as a structured entry; compliance
// reads the trail, nothing in the execution path ever depends on it.
package audit

import (
	"context"
	"time"

	"github.com/aksrustagi/settle/id"
)

// Severity levels for audit entries.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcomes for audit entries.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Audit entry actions. Each constant corresponds to one lifecycle hook
// and becomes the Action field of the entry.
const (
	ActionSagaStarted        = "saga.started"
	ActionSagaCompleted      = "saga.completed"
	ActionSagaFailed         = "saga.failed"
	ActionSagaCancelled      = "saga.cancelled"
	ActionStepCompleted      = "saga.step_completed"
	ActionStepFailed         = "saga.step_failed"
	ActionCompensationFailed = "saga.compensation_failed"
	ActionActivityRetrying   = "activity.retrying"
	ActionActivityFailed     = "activity.failed"
)

// Entry is a single immutable audit record.
type Entry struct {
	ID         id.AuditID     `json:"id"`
	Action     string         `json:"action"`
	Saga       string         `json:"saga"`
	RunID      id.RunID       `json:"run_id"`
	Account    string         `json:"account,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// ListOpts controls filtering and pagination for audit queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// RunID filters by run. Nil value means all runs.
	RunID id.RunID
	// Account filters by the account the run acted on. Empty means
	// all accounts.
	Account string
	// Action filters by action. Empty means all actions.
	Action string
}

// Store defines the persistence contract for the audit trail.
type Store interface {
	// AppendAudit persists a new audit entry. Entries are never
	// updated or deleted through this interface.
	AppendAudit(ctx context.Context, entry *Entry) error

	// ListAudit returns audit entries matching the given options in
	// recording order.
	ListAudit(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// CountAudit returns the total number of audit entries.
	CountAudit(ctx context.Context) (int64, error)
}
