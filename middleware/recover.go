package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/aksrustagi/settle/activity"
)

// Recover returns middleware that recovers from panics in the handler
// chain. Panics are converted to errors and logged with a stack trace.
func Recover(logger *slog.Logger) activity.Middleware {
	return func(next activity.Handler) activity.Handler {
		return func(ctx context.Context, input []byte) (out []byte, retErr error) {
			defer func() {
				if r := recover(); r != nil {
					name := "unknown"
					if inv, ok := activity.FromContext(ctx); ok {
						name = inv.Name
					}
					logger.Error("activity handler panicked",
						slog.String("activity", name),
						slog.Any("panic", r),
						slog.String("stack", string(debug.Stack())),
					)
					retErr = fmt.Errorf("panic in activity %s: %v", name, r)
				}
			}()
			return next(ctx, input)
		}
	}
}
