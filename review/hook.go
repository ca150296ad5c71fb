package review

import (
	"context"
	"log/slog"

	"github.com/aksrustagi/settle/saga"
)

// Hook flags runs whose compensations failed during an unwind. Such a
// run left the system in a state it could not undo; an operator has to
// reconcile it by hand.
type Hook struct {
	service *Service
	logger  *slog.Logger
}

// NewHook creates a review hook writing through the given service.
func NewHook(service *Service, logger *slog.Logger) *Hook {
	return &Hook{service: service, logger: logger}
}

// Name identifies this hook in registry logs.
func (h *Hook) Name() string { return "review" }

// OnCompensationFailed pushes a compensation-failure entry to the
// review queue.
func (h *Hook) OnCompensationFailed(ctx context.Context, run *saga.Run, stepName string, err error) error {
	if _, flagErr := h.service.Flag(ctx, run.ID, run.Name, KindCompensationFailure, stepName, err, nil); flagErr != nil {
		h.logger.Error("failed to flag compensation failure for review",
			slog.String("run_id", run.ID.String()),
			slog.String("step", stepName),
			slog.String("error", flagErr.Error()),
		)
		return flagErr
	}
	return nil
}
