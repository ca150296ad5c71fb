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
	"github.com/aksrustagi/settle/saga"
)

// CreateRun persists a new saga run.
func (s *Store) CreateRun(ctx context.Context, run *saga.Run) error {
	exists, err := s.client.Exists(ctx, runKey(run.ID.String())).Result()
	if err != nil {
		return fmt.Errorf("settle/redis: create run: %w", err)
	}
	if exists > 0 {
		return settle.ErrRunAlreadyExists
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("settle/redis: encode run: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, runKey(run.ID.String()), data, 0)
	pipe.SAdd(ctx, runIDsKey, run.ID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("settle/redis: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a saga run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*saga.Run, error) {
	data, err := s.client.Get(ctx, runKey(runID.String())).Bytes()
	if err == redis.Nil {
		return nil, settle.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("settle/redis: get run: %w", err)
	}

	var run saga.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("settle/redis: decode run: %w", err)
	}
	return &run, nil
}

// UpdateRun persists changes to an existing saga run. The sticky
// CancelRequested flag is merged from the stored copy so a stale caller
// can never clear it.
func (s *Store) UpdateRun(ctx context.Context, run *saga.Run) error {
	existing, err := s.GetRun(ctx, run.ID)
	if err != nil {
		return err
	}
	if existing.CancelRequested {
		run.CancelRequested = true
	}
	run.Touch()

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("settle/redis: encode run: %w", err)
	}
	if err := s.client.Set(ctx, runKey(run.ID.String()), data, 0).Err(); err != nil {
		return fmt.Errorf("settle/redis: update run: %w", err)
	}
	return nil
}

// ListRuns returns saga runs matching the given options in creation
// order. Enumeration is via the run ID set with in-memory filtering.
func (s *Store) ListRuns(ctx context.Context, opts saga.ListOpts) ([]*saga.Run, error) {
	ids, err := s.client.SMembers(ctx, runIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("settle/redis: list runs: %w", err)
	}

	var runs []*saga.Run
	for _, raw := range ids {
		runID, parseErr := id.ParseRunID(raw)
		if parseErr != nil {
			return nil, fmt.Errorf("settle/redis: list runs: %w", parseErr)
		}
		run, getErr := s.GetRun(ctx, runID)
		if getErr == settle.ErrRunNotFound {
			continue
		}
		if getErr != nil {
			return nil, getErr
		}
		if opts.State != "" && run.State != opts.State {
			continue
		}
		if opts.Name != "" && run.Name != opts.Name {
			continue
		}
		runs = append(runs, run)
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(runs) {
			return nil, nil
		}
		runs = runs[opts.Offset:]
	}
	if opts.Limit > 0 && len(runs) > opts.Limit {
		runs = runs[:opts.Limit]
	}
	return runs, nil
}

// RequestCancel sets the sticky cancellation flag on a run.
func (s *Store) RequestCancel(ctx context.Context, runID id.RunID) error {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	run.CancelRequested = true
	run.Touch()

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("settle/redis: encode run: %w", err)
	}
	if err := s.client.Set(ctx, runKey(runID.String()), data, 0).Err(); err != nil {
		return fmt.Errorf("settle/redis: request cancel: %w", err)
	}
	return nil
}

// SaveCheckpoint persists checkpoint data for a saga step, replacing
// any existing checkpoint for the same run/step.
func (s *Store) SaveCheckpoint(ctx context.Context, runID id.RunID, stepName string, data []byte) error {
	cp := saga.Checkpoint{
		ID:        id.NewCheckpointID(),
		RunID:     runID,
		StepName:  stepName,
		Data:      data,
		CreatedAt: time.Now(),
	}
	encoded, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("settle/redis: encode checkpoint: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, checkpointKey(runID.String(), stepName), encoded, 0)
	pipe.SAdd(ctx, checkpointIndexKey(runID.String()), stepName)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("settle/redis: save checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint retrieves checkpoint data for a saga step. Returns nil
// data if no checkpoint exists.
func (s *Store) GetCheckpoint(ctx context.Context, runID id.RunID, stepName string) ([]byte, error) {
	encoded, err := s.client.Get(ctx, checkpointKey(runID.String(), stepName)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("settle/redis: get checkpoint: %w", err)
	}

	var cp saga.Checkpoint
	if err := json.Unmarshal(encoded, &cp); err != nil {
		return nil, fmt.Errorf("settle/redis: decode checkpoint: %w", err)
	}
	if cp.Data == nil {
		// An existing checkpoint with no payload still counts as a
		// checkpoint.
		return []byte{}, nil
	}
	return cp.Data, nil
}

// ListCheckpoints returns all checkpoints for a saga run in creation
// order.
func (s *Store) ListCheckpoints(ctx context.Context, runID id.RunID) ([]*saga.Checkpoint, error) {
	steps, err := s.client.SMembers(ctx, checkpointIndexKey(runID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("settle/redis: list checkpoints: %w", err)
	}

	var checkpoints []*saga.Checkpoint
	for _, step := range steps {
		encoded, getErr := s.client.Get(ctx, checkpointKey(runID.String(), step)).Bytes()
		if getErr == redis.Nil {
			continue
		}
		if getErr != nil {
			return nil, fmt.Errorf("settle/redis: list checkpoints: %w", getErr)
		}
		var cp saga.Checkpoint
		if err := json.Unmarshal(encoded, &cp); err != nil {
			return nil, fmt.Errorf("settle/redis: decode checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, &cp)
	}

	sort.SliceStable(checkpoints, func(i, j int) bool {
		return checkpoints[i].CreatedAt.Before(checkpoints[j].CreatedAt)
	})
	return checkpoints, nil
}

// PurgeRuns deletes terminal runs that completed before the cutoff,
// along with their checkpoints and signal mailboxes.
func (s *Store) PurgeRuns(ctx context.Context, before time.Time) (int, error) {
	ids, err := s.client.SMembers(ctx, runIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("settle/redis: purge runs: %w", err)
	}

	purged := 0
	for _, raw := range ids {
		runID, parseErr := id.ParseRunID(raw)
		if parseErr != nil {
			return purged, fmt.Errorf("settle/redis: purge runs: %w", parseErr)
		}
		run, getErr := s.GetRun(ctx, runID)
		if getErr == settle.ErrRunNotFound {
			continue
		}
		if getErr != nil {
			return purged, getErr
		}
		if !run.State.Terminal() || run.CompletedAt == nil || !run.CompletedAt.Before(before) {
			continue
		}
		if err := s.deleteRun(ctx, runID); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

// deleteRun removes a run and everything hanging off it.
func (s *Store) deleteRun(ctx context.Context, runID id.RunID) error {
	raw := runID.String()

	steps, err := s.client.SMembers(ctx, checkpointIndexKey(raw)).Result()
	if err != nil {
		return fmt.Errorf("settle/redis: purge runs: %w", err)
	}
	sigIDs, err := s.client.LRange(ctx, mailboxKey(raw), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("settle/redis: purge runs: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, step := range steps {
		pipe.Del(ctx, checkpointKey(raw, step))
	}
	pipe.Del(ctx, checkpointIndexKey(raw))
	for _, sigID := range sigIDs {
		pipe.Del(ctx, signalKey(sigID))
	}
	pipe.Del(ctx, mailboxKey(raw))
	pipe.Del(ctx, runKey(raw))
	pipe.SRem(ctx, runIDsKey, raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("settle/redis: purge runs: %w", err)
	}
	return nil
}
