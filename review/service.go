package review

import (
	"context"
	"time"

	"github.com/aksrustagi/settle/id"
)

// Service provides high-level review queue operations over a Store.
type Service struct {
	store Store
}

// NewService creates a review service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Flag builds a review Entry and persists it. The error may be nil for
// flags that do not stem from a failure (fraud holds, for example).
func (s *Service) Flag(ctx context.Context, runID id.RunID, sagaName, kind, subject string, flagErr error, details map[string]any) (*Entry, error) {
	entry := &Entry{
		ID:        id.NewReviewID(),
		RunID:     runID,
		Saga:      sagaName,
		Kind:      kind,
		Subject:   subject,
		Details:   details,
		Status:    StatusPending,
		FlaggedAt: time.Now().UTC(),
	}
	if flagErr != nil {
		entry.Error = flagErr.Error()
	}
	if err := s.store.PushReview(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Resolve marks an entry resolved with an operator note.
func (s *Service) Resolve(ctx context.Context, entryID id.ReviewID, resolution string) error {
	return s.store.ResolveReview(ctx, entryID, resolution)
}

// Store returns the underlying review store for direct access to
// List, Get, and Count operations.
func (s *Service) Store() Store {
	return s.store
}
