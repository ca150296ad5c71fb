package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aksrustagi/settle/signal"
)

// WaitForSignal blocks until a signal with the given name arrives in
// this run's mailbox or the timeout expires. Signals published before
// the wait began are delivered immediately in arrival order. On receipt
// the signal is acknowledged and checkpointed; on timeout an empty
// checkpoint is saved and nil is returned. On resume from checkpoint
// the cached signal is returned without re-waiting.
//
// A pending cancellation request interrupts the wait with ErrCancelled
// unless the execution is shielded or the wait is itself for the cancel
// signal.
func (e *Execution) WaitForSignal(name string, timeout time.Duration) (*signal.Signal, error) {
	return e.waitForSignals("wait:"+name, []string{name}, timeout)
}

// WaitForAnySignal blocks until a signal matching ANY of the given
// names arrives, or the timeout expires. Returns the first matching
// signal, or nil on timeout.
func (e *Execution) WaitForAnySignal(names []string, timeout time.Duration) (*signal.Signal, error) {
	return e.waitForSignals("waitany:"+strings.Join(names, ","), names, timeout)
}

func (e *Execution) waitForSignals(stepName string, names []string, timeout time.Duration) (*signal.Signal, error) {
	data, err := e.store.GetCheckpoint(e.ctx, e.run.ID, stepName)
	if err != nil {
		return nil, fmt.Errorf("saga %s: get wait checkpoint %q: %w", e.run.Name, stepName, err)
	}
	if data != nil {
		if len(data) == 0 {
			// Timeout case recorded on a previous execution.
			return nil, nil
		}
		var sig signal.Signal
		if decErr := json.Unmarshal(data, &sig); decErr != nil {
			return nil, fmt.Errorf("saga %s: decode wait checkpoint %q: %w", e.run.Name, stepName, decErr)
		}
		return &sig, nil
	}

	if err := e.checkCancel(); err != nil {
		return nil, err
	}

	// Listen for the cancel signal too, so a cancellation request
	// wakes a blocked wait instead of waiting out the timeout.
	waitNames := names
	if !e.shielded && !contains(names, signal.Cancel) {
		waitNames = append(append([]string(nil), names...), signal.Cancel)
	}

	sig, waitErr := e.signals.Next(e.ctx, e.run.ID, waitNames, timeout)
	if waitErr != nil {
		return nil, fmt.Errorf("saga %s wait %q: %w", e.run.Name, stepName, waitErr)
	}

	if sig == nil {
		// Timeout — save empty checkpoint so replays do not re-wait.
		if saveErr := e.store.SaveCheckpoint(e.ctx, e.run.ID, stepName, []byte{}); saveErr != nil {
			return nil, saveErr
		}
		return nil, nil
	}

	if sig.Name == signal.Cancel && !contains(names, signal.Cancel) {
		// Woken by cancellation: ack the wake-up but leave the wait
		// un-checkpointed. The sticky flag on the run is authoritative.
		e.run.CancelRequested = true
		e.ackSignal(sig)
		return nil, ErrCancelled
	}

	e.ackSignal(sig)

	sigData, encErr := json.Marshal(sig)
	if encErr != nil {
		return nil, fmt.Errorf("saga %s: encode wait result %q: %w", e.run.Name, stepName, encErr)
	}
	if saveErr := e.store.SaveCheckpoint(e.ctx, e.run.ID, stepName, sigData); saveErr != nil {
		return nil, saveErr
	}

	return sig, nil
}

// Correlate registers a provider correlation id for this run, as a
// checkpointed step so replays do not re-register. Call it before
// waiting for a webhook-derived signal; the webhook translator then
// routes the callback to this run by correlation id alone.
func (e *Execution) Correlate(step, correlationID string) error {
	return e.Step(step, func(ctx context.Context) error {
		return e.signals.Correlate(ctx, correlationID, e.run.ID)
	})
}

func (e *Execution) ackSignal(sig *signal.Signal) {
	if err := e.signals.Ack(e.ctx, sig.ID); err != nil {
		e.logger.Warn("failed to ack signal",
			slog.String("signal_id", sig.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
