package activity

import (
	"time"

	"github.com/aksrustagi/settle/backoff"
)

// Options configures per-activity behavior.
type Options struct {
	// Retry is the bounded retry policy for transient failures.
	Retry backoff.Policy

	// Timeout is the per-attempt deadline. Zero means the executor
	// default applies.
	Timeout time.Duration
}

// DefaultOptions returns Options with the default retry policy.
func DefaultOptions() Options {
	return Options{
		Retry: backoff.DefaultPolicy(),
	}
}

// Option is a functional option for configuring an activity definition.
type Option func(*Options)

// WithRetryPolicy sets the retry policy.
func WithRetryPolicy(p backoff.Policy) Option {
	return func(o *Options) {
		o.Retry = p
	}
}

// WithNoRetry makes the activity attempt exactly once.
func WithNoRetry() Option {
	return func(o *Options) {
		o.Retry = backoff.NoRetry()
	}
}

// WithTimeout sets the per-attempt deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}
