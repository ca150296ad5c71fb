// Package review provides the manual review queue. Runs that the
// system cannot resolve on its own — fraud flags, failed
// compensations, transfers stuck past their poll budget — land here
// for an operator to inspect and resolve.
package review

import (
	"context"
	"time"

	"github.com/aksrustagi/settle/id"
)

// Entry kinds classify why a run needs human attention.
const (
	KindFraudFlag           = "fraud-flag"
	KindCompensationFailure = "compensation-failure"
	KindUnreconciled        = "unreconciled-transfer"
	KindPollExhausted       = "poll-exhausted"
)

// Entry statuses.
const (
	StatusPending  = "pending"
	StatusResolved = "resolved"
)

// Entry represents a run flagged for manual review.
type Entry struct {
	ID         id.ReviewID    `json:"id"`
	RunID      id.RunID       `json:"run_id"`
	Saga       string         `json:"saga"`
	Kind       string         `json:"kind"`
	Subject    string         `json:"subject,omitempty"`
	Error      string         `json:"error,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Status     string         `json:"status"`
	Resolution string         `json:"resolution,omitempty"`
	FlaggedAt  time.Time      `json:"flagged_at"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
}

// ListOpts controls filtering and pagination for review queue queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// Kind filters by entry kind. Empty means all kinds.
	Kind string
	// Status filters by status. Empty means all statuses.
	Status string
}

// Store defines the persistence contract for the review queue.
type Store interface {
	// PushReview adds an entry to the review queue.
	PushReview(ctx context.Context, entry *Entry) error

	// GetReview retrieves a review entry by ID.
	GetReview(ctx context.Context, entryID id.ReviewID) (*Entry, error)

	// ListReview returns review entries matching the given options in
	// flag order.
	ListReview(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// ResolveReview marks an entry resolved with an operator note.
	ResolveReview(ctx context.Context, entryID id.ReviewID, resolution string) error

	// CountReview returns the number of pending review entries.
	CountReview(ctx context.Context) (int64, error)
}
