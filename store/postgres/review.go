package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aksrustagi/settle"
	"github.com/aksrustagi/settle/id"
	"github.com/aksrustagi/settle/review"
)

// PushReview adds an entry to the review queue.
func (s *Store) PushReview(ctx context.Context, entry *review.Entry) error {
	details, err := marshalJSONB(entry.Details)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO settle_review (
			id, run_id, saga, kind, subject, error, details,
			status, resolution, flagged_at, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID.String(), entry.RunID.String(), entry.Saga, entry.Kind,
		entry.Subject, entry.Error, details, entry.Status, entry.Resolution,
		entry.FlaggedAt, entry.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("settle/postgres: push review: %w", err)
	}
	return nil
}

// GetReview retrieves a review entry by ID.
func (s *Store) GetReview(ctx context.Context, entryID id.ReviewID) (*review.Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, run_id, saga, kind, subject, error, details,
		       status, resolution, flagged_at, resolved_at
		FROM settle_review
		WHERE id = $1`,
		entryID.String(),
	)

	entry, err := scanReview(row)
	if err != nil {
		if isNoRows(err) {
			return nil, settle.ErrEntryNotFound
		}
		return nil, fmt.Errorf("settle/postgres: get review: %w", err)
	}
	return entry, nil
}

// ListReview returns review entries matching the given options in flag
// order.
func (s *Store) ListReview(ctx context.Context, opts review.ListOpts) ([]*review.Entry, error) {
	query := `
		SELECT id, run_id, saga, kind, subject, error, details,
		       status, resolution, flagged_at, resolved_at
		FROM settle_review
		WHERE ($1 = '' OR kind = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY flagged_at ASC`
	args := []any{opts.Kind, opts.Status}

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("settle/postgres: list review: %w", err)
	}
	defer rows.Close()

	var entries []*review.Entry
	for rows.Next() {
		entry, scanErr := scanReview(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("settle/postgres: list review: %w", scanErr)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ResolveReview marks an entry resolved with an operator note.
func (s *Store) ResolveReview(ctx context.Context, entryID id.ReviewID, resolution string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE settle_review
		SET status = $2, resolution = $3, resolved_at = NOW()
		WHERE id = $1`,
		entryID.String(), review.StatusResolved, resolution,
	)
	if err != nil {
		return fmt.Errorf("settle/postgres: resolve review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return settle.ErrEntryNotFound
	}
	return nil
}

// CountReview returns the number of pending review entries.
func (s *Store) CountReview(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM settle_review WHERE status = $1`,
		review.StatusPending,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("settle/postgres: count review: %w", err)
	}
	return count, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanReview(row scannable) (*review.Entry, error) {
	var entry review.Entry
	var entryID, runID string
	var details []byte
	err := row.Scan(
		&entryID, &runID, &entry.Saga, &entry.Kind, &entry.Subject,
		&entry.Error, &details, &entry.Status, &entry.Resolution,
		&entry.FlaggedAt, &entry.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}

	if entry.ID, err = id.ParseReviewID(entryID); err != nil {
		return nil, fmt.Errorf("parse review id %q: %w", entryID, err)
	}
	if entry.RunID, err = id.ParseRunID(runID); err != nil {
		return nil, fmt.Errorf("parse run id %q: %w", runID, err)
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &entry.Details); err != nil {
			return nil, fmt.Errorf("decode review details: %w", err)
		}
	}
	return &entry, nil
}
