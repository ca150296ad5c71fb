package signal

import (
	"time"

	"github.com/aksrustagi/settle/id"
)

// Signal is an asynchronous, out-of-band message delivered to a running
// saga instance: a two-factor code, an identity-verification outcome, an
// external completion notice, or a cancellation request. Signals are
// queued per instance and consumed in arrival order; a signal published
// before the saga starts waiting is found when the wait begins.
type Signal struct {
	ID        id.SignalID `json:"id"`
	RunID     id.RunID    `json:"run_id"`
	Name      string      `json:"name"`
	Payload   []byte      `json:"payload,omitempty"`
	Acked     bool        `json:"acked"`
	CreatedAt time.Time   `json:"created_at"`
}

// Cancel is the reserved signal name used to request cooperative
// cancellation of a saga instance.
const Cancel = "saga.cancel"
