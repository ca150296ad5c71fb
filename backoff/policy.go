package backoff

import (
	"math"
	"time"
)

// Policy is the bounded retry policy applied to activity invocations:
// an exponential schedule described by an initial interval, a growth
// coefficient, a maximum interval, and a maximum attempt count.
type Policy struct {
	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration

	// Coefficient multiplies the interval after each attempt.
	Coefficient float64

	// MaxInterval caps the computed delay. Zero means uncapped.
	MaxInterval time.Duration

	// MaxAttempts is the total number of attempts (initial + retries).
	// Zero or one means no retries.
	MaxAttempts int
}

// DefaultPolicy returns the retry policy activities use unless they
// override it: 1s initial, doubling, 1m cap, 5 attempts.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: 1 * time.Second,
		Coefficient:     2.0,
		MaxInterval:     1 * time.Minute,
		MaxAttempts:     5,
	}
}

// NoRetry returns a policy that makes exactly one attempt.
func NoRetry() Policy {
	return Policy{MaxAttempts: 1}
}

// Delay returns how long to wait before retry attempt n (1-indexed).
// Implements Strategy.
func (p Policy) Delay(attempt int) time.Duration {
	coeff := p.Coefficient
	if coeff <= 0 {
		coeff = 2.0
	}
	d := time.Duration(float64(p.InitialInterval) * math.Pow(coeff, float64(attempt-1)))
	if p.MaxInterval > 0 && d > p.MaxInterval {
		return p.MaxInterval
	}
	return d
}

// Exhausted reports whether the given attempt number (1-indexed) has
// consumed the attempt budget.
func (p Policy) Exhausted(attempt int) bool {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return attempt >= maxAttempts
}
