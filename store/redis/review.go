package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aksrustagi/settle"
	"github.com/aksrustagi/settle/id"
	"github.com/aksrustagi/settle/review"
)

// PushReview adds an entry to the review queue.
func (s *Store) PushReview(ctx context.Context, entry *review.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("settle/redis: encode review entry: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, reviewKey(entry.ID.String()), data, 0)
	pipe.SAdd(ctx, reviewIDsKey, entry.ID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("settle/redis: push review: %w", err)
	}
	return nil
}

// GetReview retrieves a review entry by ID.
func (s *Store) GetReview(ctx context.Context, entryID id.ReviewID) (*review.Entry, error) {
	data, err := s.client.Get(ctx, reviewKey(entryID.String())).Bytes()
	if err == redis.Nil {
		return nil, settle.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("settle/redis: get review: %w", err)
	}

	var entry review.Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("settle/redis: decode review entry: %w", err)
	}
	return &entry, nil
}

// ListReview returns review entries matching the given options in flag
// order.
func (s *Store) ListReview(ctx context.Context, opts review.ListOpts) ([]*review.Entry, error) {
	ids, err := s.client.SMembers(ctx, reviewIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("settle/redis: list review: %w", err)
	}

	var entries []*review.Entry
	for _, raw := range ids {
		entryID, parseErr := id.ParseReviewID(raw)
		if parseErr != nil {
			return nil, fmt.Errorf("settle/redis: list review: %w", parseErr)
		}
		entry, getErr := s.GetReview(ctx, entryID)
		if getErr == settle.ErrEntryNotFound {
			continue
		}
		if getErr != nil {
			return nil, getErr
		}
		if opts.Kind != "" && entry.Kind != opts.Kind {
			continue
		}
		if opts.Status != "" && entry.Status != opts.Status {
			continue
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].FlaggedAt.Before(entries[j].FlaggedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(entries) {
			return nil, nil
		}
		entries = entries[opts.Offset:]
	}
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// ResolveReview marks an entry resolved with an operator note.
func (s *Store) ResolveReview(ctx context.Context, entryID id.ReviewID, resolution string) error {
	entry, err := s.GetReview(ctx, entryID)
	if err != nil {
		return err
	}

	now := time.Now()
	entry.Status = review.StatusResolved
	entry.Resolution = resolution
	entry.ResolvedAt = &now

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("settle/redis: encode review entry: %w", err)
	}
	if err := s.client.Set(ctx, reviewKey(entryID.String()), data, 0).Err(); err != nil {
		return fmt.Errorf("settle/redis: resolve review: %w", err)
	}
	return nil
}

// CountReview returns the number of pending review entries.
func (s *Store) CountReview(ctx context.Context) (int64, error) {
	entries, err := s.ListReview(ctx, review.ListOpts{Status: review.StatusPending})
	if err != nil {
		return 0, err
	}
	return int64(len(entries)), nil
}
