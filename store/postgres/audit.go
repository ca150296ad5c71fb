package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aksrustagi/settle/audit"
	"github.com/aksrustagi/settle/id"
)

// AppendAudit persists a new audit entry. Entries are never updated or
// deleted through this interface.
func (s *Store) AppendAudit(ctx context.Context, entry *audit.Entry) error {
	metadata, err := marshalJSONB(entry.Metadata)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO settle_audit (
			id, action, saga, run_id, account, outcome, severity, reason, metadata, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID.String(), entry.Action, entry.Saga, entry.RunID.String(), entry.Account,
		entry.Outcome, entry.Severity, entry.Reason, metadata, entry.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("settle/postgres: append audit: %w", err)
	}
	return nil
}

// ListAudit returns audit entries matching the given options in
// recording order.
func (s *Store) ListAudit(ctx context.Context, opts audit.ListOpts) ([]*audit.Entry, error) {
	query := `
		SELECT id, action, saga, run_id, account, outcome, severity, reason, metadata, recorded_at
		FROM settle_audit
		WHERE ($1 = '' OR run_id = $1)
		  AND ($2 = '' OR account = $2)
		  AND ($3 = '' OR action = $3)
		ORDER BY recorded_at ASC`
	args := []any{opts.RunID.String(), opts.Account, opts.Action}

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("settle/postgres: list audit: %w", err)
	}
	defer rows.Close()

	var entries []*audit.Entry
	for rows.Next() {
		var entry audit.Entry
		var entryID, runID string
		var metadata []byte
		if scanErr := rows.Scan(
			&entryID, &entry.Action, &entry.Saga, &runID, &entry.Account, &entry.Outcome,
			&entry.Severity, &entry.Reason, &metadata, &entry.RecordedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("settle/postgres: list audit: %w", scanErr)
		}

		if entry.ID, err = id.ParseAuditID(entryID); err != nil {
			return nil, fmt.Errorf("settle/postgres: list audit: %w", err)
		}
		if entry.RunID, err = id.ParseRunID(runID); err != nil {
			return nil, fmt.Errorf("settle/postgres: list audit: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("settle/postgres: decode audit metadata: %w", err)
			}
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// CountAudit returns the total number of audit entries.
func (s *Store) CountAudit(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM settle_audit`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("settle/postgres: count audit: %w", err)
	}
	return count, nil
}
