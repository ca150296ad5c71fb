package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aksrustagi/settle"
	"github.com/aksrustagi/settle/id"
	"github.com/aksrustagi/settle/saga"
)

// CreateRun persists a new saga run.
func (s *Store) CreateRun(ctx context.Context, run *saga.Run) error {
	vars, err := marshalJSONB(run.Vars)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO settle_runs (
			id, name, state, status, input, output, error, vars,
			cancel_requested, started_at, completed_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13
		)`,
		run.ID.String(), run.Name, string(run.State), run.Status,
		run.Input, run.Output, run.Error, vars,
		run.CancelRequested, run.StartedAt, run.CompletedAt,
		run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return settle.ErrRunAlreadyExists
		}
		return fmt.Errorf("settle/postgres: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a saga run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*saga.Run, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			id, name, state, status, input, output, error, vars,
			cancel_requested, started_at, completed_at, created_at, updated_at
		FROM settle_runs
		WHERE id = $1`,
		runID.String(),
	)

	run, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, settle.ErrRunNotFound
		}
		return nil, fmt.Errorf("settle/postgres: get run: %w", err)
	}
	return run, nil
}

// UpdateRun persists changes to an existing saga run. The sticky
// CancelRequested flag survives updates carrying a stale false value:
// the column is OR-ed, never overwritten.
func (s *Store) UpdateRun(ctx context.Context, run *saga.Run) error {
	vars, err := marshalJSONB(run.Vars)
	if err != nil {
		return err
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE settle_runs SET
			name = $2, state = $3, status = $4, input = $5, output = $6,
			error = $7, vars = $8,
			cancel_requested = cancel_requested OR $9,
			started_at = $10, completed_at = $11, updated_at = NOW()
		WHERE id = $1
		RETURNING cancel_requested`,
		run.ID.String(), run.Name, string(run.State), run.Status,
		run.Input, run.Output, run.Error, vars,
		run.CancelRequested, run.StartedAt, run.CompletedAt,
	)

	var cancelRequested bool
	if err := row.Scan(&cancelRequested); err != nil {
		if isNoRows(err) {
			return settle.ErrRunNotFound
		}
		return fmt.Errorf("settle/postgres: update run: %w", err)
	}
	run.CancelRequested = cancelRequested
	return nil
}

// ListRuns returns saga runs matching the given options in creation
// order.
func (s *Store) ListRuns(ctx context.Context, opts saga.ListOpts) ([]*saga.Run, error) {
	query := `
		SELECT
			id, name, state, status, input, output, error, vars,
			cancel_requested, started_at, completed_at, created_at, updated_at
		FROM settle_runs
		WHERE ($1 = '' OR state = $1)
		  AND ($2 = '' OR name = $2)
		ORDER BY created_at ASC`
	args := []any{string(opts.State), opts.Name}

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("settle/postgres: list runs: %w", err)
	}
	defer rows.Close()

	var runs []*saga.Run
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("settle/postgres: list runs: %w", scanErr)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RequestCancel sets the sticky cancellation flag on a run.
func (s *Store) RequestCancel(ctx context.Context, runID id.RunID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE settle_runs
		SET cancel_requested = TRUE, updated_at = NOW()
		WHERE id = $1`,
		runID.String(),
	)
	if err != nil {
		return fmt.Errorf("settle/postgres: request cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return settle.ErrRunNotFound
	}
	return nil
}

// SaveCheckpoint persists checkpoint data for a saga step. If a
// checkpoint already exists for the same run/step, it is replaced.
func (s *Store) SaveCheckpoint(ctx context.Context, runID id.RunID, stepName string, data []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO settle_checkpoints (id, run_id, step_name, data, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (run_id, step_name) DO UPDATE
		SET data = EXCLUDED.data, created_at = EXCLUDED.created_at`,
		id.NewCheckpointID().String(), runID.String(), stepName, data,
	)
	if err != nil {
		return fmt.Errorf("settle/postgres: save checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint retrieves checkpoint data for a specific saga step.
// Returns nil data if no checkpoint exists.
func (s *Store) GetCheckpoint(ctx context.Context, runID id.RunID, stepName string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `
		SELECT data FROM settle_checkpoints
		WHERE run_id = $1 AND step_name = $2`,
		runID.String(), stepName,
	).Scan(&data)
	if err != nil {
		if isNoRows(err) {
			return nil, nil // no checkpoint is not an error
		}
		return nil, fmt.Errorf("settle/postgres: get checkpoint: %w", err)
	}
	// Distinguish "checkpoint with empty data" from "no checkpoint".
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// ListCheckpoints returns all checkpoints for a saga run in creation
// order.
func (s *Store) ListCheckpoints(ctx context.Context, runID id.RunID) ([]*saga.Checkpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, run_id, step_name, data, created_at
		FROM settle_checkpoints
		WHERE run_id = $1
		ORDER BY created_at ASC`,
		runID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("settle/postgres: list checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []*saga.Checkpoint
	for rows.Next() {
		var cp saga.Checkpoint
		var cpID, cpRunID string
		if scanErr := rows.Scan(&cpID, &cpRunID, &cp.StepName, &cp.Data, &cp.CreatedAt); scanErr != nil {
			return nil, fmt.Errorf("settle/postgres: list checkpoints: %w", scanErr)
		}
		if cp.ID, err = id.Parse(cpID); err != nil {
			return nil, fmt.Errorf("settle/postgres: list checkpoints: %w", err)
		}
		if cp.RunID, err = id.ParseRunID(cpRunID); err != nil {
			return nil, fmt.Errorf("settle/postgres: list checkpoints: %w", err)
		}
		checkpoints = append(checkpoints, &cp)
	}
	return checkpoints, rows.Err()
}

// PurgeRuns deletes terminal runs, their checkpoints (via cascade), and
// their signals that completed before the cutoff.
func (s *Store) PurgeRuns(ctx context.Context, before time.Time) (int, error) {
	var purged int
	err := s.pool.QueryRow(ctx, `
		WITH purged AS (
			DELETE FROM settle_runs
			WHERE state IN ('completed', 'failed', 'cancelled')
			  AND completed_at IS NOT NULL
			  AND completed_at < $1
			RETURNING id
		), purged_signals AS (
			DELETE FROM settle_signals
			WHERE run_id IN (SELECT id FROM purged)
		)
		SELECT COUNT(*) FROM purged`,
		before,
	).Scan(&purged)
	if err != nil {
		return 0, fmt.Errorf("settle/postgres: purge runs: %w", err)
	}
	return purged, nil
}

// scanRun reads one settle_runs row into a saga.Run.
func scanRun(row pgx.Row) (*saga.Run, error) {
	var run saga.Run
	var runID, state string
	var vars []byte
	err := row.Scan(
		&runID, &run.Name, &state, &run.Status, &run.Input, &run.Output,
		&run.Error, &vars, &run.CancelRequested, &run.StartedAt,
		&run.CompletedAt, &run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if run.ID, err = id.ParseRunID(runID); err != nil {
		return nil, fmt.Errorf("parse run id %q: %w", runID, err)
	}
	run.State = saga.RunState(state)
	if len(vars) > 0 {
		if err := json.Unmarshal(vars, &run.Vars); err != nil {
			return nil, fmt.Errorf("decode run vars: %w", err)
		}
	}
	return &run, nil
}
