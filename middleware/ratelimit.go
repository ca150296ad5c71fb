package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/aksrustagi/settle/activity"
)

// RateLimit returns middleware that throttles activity execution with
// a shared token bucket. Providers with strict call quotas (banking
// rails, identity vendors) get one limiter each; waiting respects the
// caller's context so a cancelled run never blocks on a token.
func RateLimit(limiter *rate.Limiter) activity.Middleware {
	return func(next activity.Handler) activity.Handler {
		return func(ctx context.Context, input []byte) ([]byte, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, err
			}
			return next(ctx, input)
		}
	}
}
