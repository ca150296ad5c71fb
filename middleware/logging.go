package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/aksrustagi/settle/activity"
)

// Logging returns middleware that logs activity start and completion.
func Logging(logger *slog.Logger) activity.Middleware {
	return func(next activity.Handler) activity.Handler {
		return func(ctx context.Context, input []byte) ([]byte, error) {
			inv, _ := activity.FromContext(ctx)
			log := logger
			if inv != nil {
				log = logger.With(
					slog.String("activity", inv.Name),
					slog.String("invocation", inv.ID),
					slog.Int("attempt", inv.Attempt),
				)
			}

			log.Info("activity started")

			start := time.Now()
			out, err := next(ctx, input)
			elapsed := time.Since(start)

			if err != nil {
				log.Error("activity failed",
					slog.Duration("elapsed", elapsed),
					slog.String("error", err.Error()),
				)
			} else {
				log.Info("activity completed",
					slog.Duration("elapsed", elapsed),
				)
			}

			return out, err
		}
	}
}
