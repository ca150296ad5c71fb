package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aksrustagi/settle"
	"github.com/aksrustagi/settle/id"
	"github.com/aksrustagi/settle/signal"
)

// signalPollInterval is how often NextSignal re-checks the mailbox.
const signalPollInterval = 100 * time.Millisecond

// PublishSignal persists a new signal and appends it to the run's
// mailbox List, which preserves arrival order.
func (s *Store) PublishSignal(ctx context.Context, sig *signal.Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("settle/redis: encode signal: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, signalKey(sig.ID.String()), data, 0)
	pipe.RPush(ctx, mailboxKey(sig.RunID.String()), sig.ID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("settle/redis: publish signal: %w", err)
	}
	return nil
}

// NextSignal waits for the oldest unacked signal addressed to the run
// whose name is in names. Poll-based: re-scans the mailbox until a
// signal is available or the timeout expires, returning nil on timeout.
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
	sigIDs, err := s.client.LRange(ctx, mailboxKey(runID.String()), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("settle/redis: next signal: %w", err)
	}

	for _, sigID := range sigIDs {
		data, getErr := s.client.Get(ctx, signalKey(sigID)).Bytes()
		if getErr == redis.Nil {
			continue
		}
		if getErr != nil {
			return nil, fmt.Errorf("settle/redis: next signal: %w", getErr)
		}
		var sig signal.Signal
		if err := json.Unmarshal(data, &sig); err != nil {
			return nil, fmt.Errorf("settle/redis: decode signal: %w", err)
		}
		if sig.Acked {
			continue
		}
		if len(names) > 0 && !slices.Contains(names, sig.Name) {
			continue
		}
		return &sig, nil
	}
	return nil, nil
}

// AckSignal acknowledges a signal, marking it as consumed and dropping
// it from the run's mailbox.
func (s *Store) AckSignal(ctx context.Context, sigID id.SignalID) error {
	data, err := s.client.Get(ctx, signalKey(sigID.String())).Bytes()
	if err == redis.Nil {
		return settle.ErrSignalNotFound
	}
	if err != nil {
		return fmt.Errorf("settle/redis: ack signal: %w", err)
	}

	var sig signal.Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		return fmt.Errorf("settle/redis: decode signal: %w", err)
	}
	sig.Acked = true
	updated, err := json.Marshal(&sig)
	if err != nil {
		return fmt.Errorf("settle/redis: encode signal: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, signalKey(sigID.String()), updated, 0)
	pipe.LRem(ctx, mailboxKey(sig.RunID.String()), 1, sigID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("settle/redis: ack signal: %w", err)
	}
	return nil
}

// SaveCorrelation records a provider correlation id for a run. Saving
// the same correlation id again repoints it.
func (s *Store) SaveCorrelation(ctx context.Context, correlationID string, runID id.RunID) error {
	err := s.client.Set(ctx, correlationKey(correlationID), runID.String(), 0).Err()
	if err != nil {
		return fmt.Errorf("settle/redis: save correlation: %w", err)
	}
	return nil
}

// ResolveCorrelation returns the run registered for the correlation id.
func (s *Store) ResolveCorrelation(ctx context.Context, correlationID string) (id.RunID, error) {
	raw, err := s.client.Get(ctx, correlationKey(correlationID)).Result()
	if err == redis.Nil {
		return id.Nil, settle.ErrNoMatch
	}
	if err != nil {
		return id.Nil, fmt.Errorf("settle/redis: resolve correlation: %w", err)
	}

	runID, err := id.ParseRunID(raw)
	if err != nil {
		return id.Nil, fmt.Errorf("settle/redis: resolve correlation: %w", err)
	}
	return runID, nil
}

// DeleteCorrelation removes a correlation registration. Deleting an
// unknown correlation id is not an error.
func (s *Store) DeleteCorrelation(ctx context.Context, correlationID string) error {
	if err := s.client.Del(ctx, correlationKey(correlationID)).Err(); err != nil {
		return fmt.Errorf("settle/redis: delete correlation: %w", err)
	}
	return nil
}
