package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aksrustagi/settle/activity"
	"github.com/aksrustagi/settle/id"
	"github.com/aksrustagi/settle/saga"
)

// Hook bridges saga lifecycle events to the audit trail. Register it
// on the engine's hook registry; every transition becomes an Entry.
// Entries carry the account the run acted on, and terminal entries
// carry the run's recorded output verbatim, so the trail alone can
// reconstruct who moved how much even after the run is purged.
type Hook struct {
	store  Store
	logger *slog.Logger
}

// NewHook creates an audit hook writing to the given store.
func NewHook(store Store, logger *slog.Logger) *Hook {
	return &Hook{store: store, logger: logger}
}

// Name identifies this hook in registry logs.
func (h *Hook) Name() string { return "audit" }

func (h *Hook) OnSagaStarted(ctx context.Context, run *saga.Run) error {
	return h.record(ctx, ActionSagaStarted, SeverityInfo, OutcomeSuccess, run.Name, run.ID, accountOf(run), "", nil)
}

func (h *Hook) OnSagaCompleted(ctx context.Context, run *saga.Run, elapsed time.Duration) error {
	meta := map[string]any{"elapsed_ms": elapsed.Milliseconds(), "status": run.Status}
	addEffect(meta, run)
	return h.record(ctx, ActionSagaCompleted, SeverityInfo, OutcomeSuccess, run.Name, run.ID, accountOf(run), "", meta)
}

func (h *Hook) OnSagaFailed(ctx context.Context, run *saga.Run, err error) error {
	meta := map[string]any{"status": run.Status}
	addEffect(meta, run)
	return h.record(ctx, ActionSagaFailed, SeverityCritical, OutcomeFailure, run.Name, run.ID, accountOf(run), err.Error(), meta)
}

func (h *Hook) OnSagaCancelled(ctx context.Context, run *saga.Run) error {
	meta := map[string]any{"status": run.Status}
	addEffect(meta, run)
	return h.record(ctx, ActionSagaCancelled, SeverityWarning, OutcomeSuccess, run.Name, run.ID, accountOf(run), "", meta)
}

func (h *Hook) OnStepCompleted(ctx context.Context, run *saga.Run, stepName string, elapsed time.Duration) error {
	return h.record(ctx, ActionStepCompleted, SeverityInfo, OutcomeSuccess, run.Name, run.ID, accountOf(run), "",
		map[string]any{"step": stepName, "elapsed_ms": elapsed.Milliseconds()})
}

func (h *Hook) OnStepFailed(ctx context.Context, run *saga.Run, stepName string, err error) error {
	return h.record(ctx, ActionStepFailed, SeverityWarning, OutcomeFailure, run.Name, run.ID, accountOf(run), err.Error(),
		map[string]any{"step": stepName})
}

func (h *Hook) OnCompensationFailed(ctx context.Context, run *saga.Run, stepName string, err error) error {
	return h.record(ctx, ActionCompensationFailed, SeverityCritical, OutcomeFailure, run.Name, run.ID, accountOf(run), err.Error(),
		map[string]any{"step": stepName})
}

func (h *Hook) OnActivityRetrying(ctx context.Context, inv *activity.Invocation, err error, delay time.Duration) error {
	return h.record(ctx, ActionActivityRetrying, SeverityWarning, OutcomeFailure, inv.Saga, inv.RunID, "", err.Error(),
		map[string]any{"activity": inv.Name, "invocation": inv.ID, "attempt": inv.Attempt, "delay_ms": delay.Milliseconds()})
}

func (h *Hook) OnActivityFailed(ctx context.Context, inv *activity.Invocation, err error) error {
	return h.record(ctx, ActionActivityFailed, SeverityCritical, OutcomeFailure, inv.Saga, inv.RunID, "", err.Error(),
		map[string]any{"activity": inv.Name, "invocation": inv.ID, "attempt": inv.Attempt})
}

func (h *Hook) record(ctx context.Context, action, severity, outcome, sagaName string, runID id.RunID, account, reason string, meta map[string]any) error {
	entry := &Entry{
		ID:         id.NewAuditID(),
		Action:     action,
		Saga:       sagaName,
		RunID:      runID,
		Account:    account,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
		Metadata:   meta,
		RecordedAt: time.Now().UTC(),
	}
	if err := h.store.AppendAudit(ctx, entry); err != nil {
		h.logger.Warn("failed to record audit entry",
			slog.String("action", action),
			slog.String("run_id", runID.String()),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// accountOf extracts the account a run acts on from its input payload.
// Sagas without a single account, such as settlement across positions,
// yield an empty string; their per-position effects are recoverable
// through the run's step entries.
func accountOf(run *saga.Run) string {
	if len(run.Input) == 0 {
		return ""
	}
	var in struct {
		Account string `json:"account"`
	}
	if err := json.Unmarshal(run.Input, &in); err != nil {
		return ""
	}
	return in.Account
}

// addEffect attaches the run's output, the record of its financial
// effect, to a terminal entry's metadata.
func addEffect(meta map[string]any, run *saga.Run) {
	if len(run.Output) > 0 {
		meta["effect"] = json.RawMessage(run.Output)
	}
}
