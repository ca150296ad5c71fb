package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/aksrustagi/settle"
	"github.com/aksrustagi/settle/id"
	"github.com/aksrustagi/settle/signal"
)

// signalPollInterval is how often NextSignal re-checks the mailbox.
const signalPollInterval = 100 * time.Millisecond

// PublishSignal persists a new signal addressed to a run instance.
// Arrival order comes from the identity column, not the timestamp.
func (s *Store) PublishSignal(ctx context.Context, sig *signal.Signal) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO settle_signals (id, run_id, name, payload, acked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		sig.ID.String(), sig.RunID.String(), sig.Name, sig.Payload,
		sig.Acked, sig.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("settle/postgres: publish signal: %w", err)
	}
	return nil
}

// NextSignal waits for the oldest unacked signal addressed to the run
// whose name is in names. Poll-based: re-queries until a signal is
// available or the timeout expires, returning nil on timeout.
func (s *Store) NextSignal(ctx context.Context, runID id.RunID, names []string, timeout time.Duration) (*signal.Signal, error) {
	deadline := time.Now().Add(timeout)

	for {
		sig, err := s.oldestUnacked(ctx, runID, names)
		if err != nil {
			return nil, err
		}
		if sig != nil {
			return sig, nil
		}

		if time.Now().After(deadline) {
			return nil, nil
		}

		wait := signalPollInterval
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *Store) oldestUnacked(ctx context.Context, runID id.RunID, names []string) (*signal.Signal, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, run_id, name, payload, acked, created_at
		FROM settle_signals
		WHERE run_id = $1
		  AND NOT acked
		  AND (cardinality($2::text[]) = 0 OR name = ANY($2))
		ORDER BY seq ASC
		LIMIT 1`,
		runID.String(), names,
	)

	var sig signal.Signal
	var sigID, sigRunID string
	err := row.Scan(&sigID, &sigRunID, &sig.Name, &sig.Payload, &sig.Acked, &sig.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("settle/postgres: next signal: %w", err)
	}

	if sig.ID, err = id.ParseSignalID(sigID); err != nil {
		return nil, fmt.Errorf("settle/postgres: next signal: %w", err)
	}
	if sig.RunID, err = id.ParseRunID(sigRunID); err != nil {
		return nil, fmt.Errorf("settle/postgres: next signal: %w", err)
	}
	return &sig, nil
}

// AckSignal acknowledges a signal, marking it as consumed.
func (s *Store) AckSignal(ctx context.Context, sigID id.SignalID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE settle_signals SET acked = TRUE WHERE id = $1`,
		sigID.String(),
	)
	if err != nil {
		return fmt.Errorf("settle/postgres: ack signal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return settle.ErrSignalNotFound
	}
	return nil
}

// SaveCorrelation records a provider correlation id for a run. Saving
// the same correlation id again repoints it.
func (s *Store) SaveCorrelation(ctx context.Context, correlationID string, runID id.RunID) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO settle_correlations (correlation_id, run_id)
		VALUES ($1, $2)
		ON CONFLICT (correlation_id) DO UPDATE SET run_id = EXCLUDED.run_id`,
		correlationID, runID.String(),
	)
	if err != nil {
		return fmt.Errorf("settle/postgres: save correlation: %w", err)
	}
	return nil
}

// ResolveCorrelation returns the run registered for the correlation id.
func (s *Store) ResolveCorrelation(ctx context.Context, correlationID string) (id.RunID, error) {
	var raw string
	err := s.pool.QueryRow(ctx, `
		SELECT run_id FROM settle_correlations WHERE correlation_id = $1`,
		correlationID,
	).Scan(&raw)
	if err != nil {
		if isNoRows(err) {
			return id.Nil, settle.ErrNoMatch
		}
		return id.Nil, fmt.Errorf("settle/postgres: resolve correlation: %w", err)
	}

	runID, err := id.ParseRunID(raw)
	if err != nil {
		return id.Nil, fmt.Errorf("settle/postgres: resolve correlation: %w", err)
	}
	return runID, nil
}

// DeleteCorrelation removes a correlation registration. Deleting an
// unknown correlation id is not an error.
func (s *Store) DeleteCorrelation(ctx context.Context, correlationID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM settle_correlations WHERE correlation_id = $1`,
		correlationID,
	)
	if err != nil {
		return fmt.Errorf("settle/postgres: delete correlation: %w", err)
	}
	return nil
}
