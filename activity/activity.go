package activity

import (
	"context"
	"errors"
)

// Definition is a typed activity definition with a handler function.
// I is the input type, O the output type (both JSON-serializable).
type Definition[I, O any] struct {
	// Name is the unique identifier for this activity type.
	Name string

	// Handler performs the external call.
	Handler func(ctx context.Context, input I) (O, error)

	// Opts configures the retry policy and per-attempt timeout.
	Opts Options
}

// NewActivity creates a typed activity definition.
func NewActivity[I, O any](name string, handler func(ctx context.Context, input I) (O, error), opts ...Option) *Definition[I, O] {
	def := &Definition[I, O]{
		Name:    name,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}

// terminalError marks an error as non-retryable.
type terminalError struct {
	err error
}

func (t *terminalError) Error() string { return t.err.Error() }

func (t *terminalError) Unwrap() error { return t.err }

// Terminal wraps an error so the Executor fails immediately instead of
// retrying: validation errors, policy denials, compliance flags.
// Wrapping nil returns nil.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal reports whether any error in the chain was marked Terminal.
func IsTerminal(err error) bool {
	var t *terminalError
	return errors.As(err, &t)
}
