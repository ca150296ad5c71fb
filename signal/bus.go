// Package signal provides the per-instance signal mailbox sagas wait on,
// and the correlation index that routes provider webhook callbacks to
// the one run that subscribed for them.
package signal

import (
	"context"
	"time"

	"github.com/aksrustagi/settle/id"
)

// Bus provides high-level publish/consume operations over a signal
// Store. Sagas consume signals via their Execution context; external
// code (API handlers, webhook translators) publishes through the Bus.
type Bus struct {
	store Store
}

// NewBus creates a signal bus backed by the given store.
func NewBus(store Store) *Bus {
	return &Bus{store: store}
}

// Publish creates and persists a new signal addressed to a run.
func (b *Bus) Publish(ctx context.Context, runID id.RunID, name string, payload []byte) (*Signal, error) {
	sig := &Signal{
		ID:        id.NewSignalID(),
		RunID:     runID,
		Name:      name,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := b.store.PublishSignal(ctx, sig); err != nil {
		return nil, err
	}
	return sig, nil
}

// Next waits for the oldest unacked signal for the run matching one of
// names. Returns nil on timeout.
func (b *Bus) Next(ctx context.Context, runID id.RunID, names []string, timeout time.Duration) (*Signal, error) {
	return b.store.NextSignal(ctx, runID, names, timeout)
}

// Ack acknowledges a signal, marking it as consumed.
func (b *Bus) Ack(ctx context.Context, sigID id.SignalID) error {
	return b.store.AckSignal(ctx, sigID)
}

// Correlate registers a provider correlation id for a run. A saga calls
// this (through its Execution) before waiting for a webhook-derived
// signal, so the webhook translator can address the signal without
// scanning running instances.
func (b *Bus) Correlate(ctx context.Context, correlationID string, runID id.RunID) error {
	return b.store.SaveCorrelation(ctx, correlationID, runID)
}

// DeliverCorrelated resolves the run registered for correlationID and
// publishes the signal to it, returning the target run id. Returns
// settle.ErrNoMatch if no run registered the correlation id — the
// caller reports "no match" to the provider rather than dropping the
// callback silently.
func (b *Bus) DeliverCorrelated(ctx context.Context, correlationID, name string, payload []byte) (id.RunID, error) {
	runID, err := b.store.ResolveCorrelation(ctx, correlationID)
	if err != nil {
		return id.Nil, err
	}
	if _, err := b.Publish(ctx, runID, name, payload); err != nil {
		return id.Nil, err
	}
	return runID, nil
}

// Store returns the underlying signal store.
func (b *Bus) Store() Store { return b.store }
