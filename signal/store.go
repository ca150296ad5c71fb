package signal

import (
	"context"
	"time"

	"github.com/aksrustagi/settle/id"
)

// Store defines the persistence contract for signals and the
// correlation index used to route provider webhooks to waiting runs.
type Store interface {
	// PublishSignal persists a new signal addressed to a run instance.
	PublishSignal(ctx context.Context, sig *Signal) error

	// NextSignal waits for the oldest unacked signal addressed to the
	// run whose name is in names (arrival order across names). Blocks
	// until a signal is available or the timeout expires. Returns nil
	// if no signal arrives within the timeout.
	NextSignal(ctx context.Context, runID id.RunID, names []string, timeout time.Duration) (*Signal, error)

	// AckSignal acknowledges a signal, marking it as consumed.
	AckSignal(ctx context.Context, sigID id.SignalID) error

	// SaveCorrelation records that inbound messages carrying the given
	// provider correlation id belong to the given run.
	SaveCorrelation(ctx context.Context, correlationID string, runID id.RunID) error

	// ResolveCorrelation returns the run registered for the correlation
	// id, or settle.ErrNoMatch if none is registered.
	ResolveCorrelation(ctx context.Context, correlationID string) (id.RunID, error)

	// DeleteCorrelation removes a correlation registration. Deleting an
	// unknown correlation id is not an error.
	DeleteCorrelation(ctx context.Context, correlationID string) error
}
