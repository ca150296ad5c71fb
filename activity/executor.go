package activity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aksrustagi/settle"
)

// Middleware wraps a Handler with cross-cutting behavior. Implementations
// live in the middleware package; the type is declared here so both the
// Executor and the middleware package can reference it without a cycle.
type Middleware func(next Handler) Handler

// Chain composes middlewares so the first one listed is the outermost.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Emitter receives executor lifecycle notifications. The engine adapts
// its hook registry to this interface.
type Emitter interface {
	// ActivityRetrying fires after a failed attempt when another
	// attempt will follow, before the backoff delay.
	ActivityRetrying(ctx context.Context, inv *Invocation, err error, delay time.Duration)

	// ActivityFailed fires when all attempts are exhausted or a
	// terminal error short-circuits the retry loop.
	ActivityFailed(ctx context.Context, inv *Invocation, err error)
}

type noopEmitter struct{}

func (noopEmitter) ActivityRetrying(context.Context, *Invocation, error, time.Duration) {}
func (noopEmitter) ActivityFailed(context.Context, *Invocation, error)                  {}

// Executor runs activity invocations with retries, per-attempt
// timeouts, and a middleware chain.
type Executor struct {
	registry       *Registry
	emitter        Emitter
	logger         *slog.Logger
	middleware     []Middleware
	defaultTimeout time.Duration
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithEmitter sets the lifecycle emitter.
func WithEmitter(e Emitter) ExecutorOption {
	return func(x *Executor) {
		x.emitter = e
	}
}

// WithLogger sets the executor logger.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(x *Executor) {
		x.logger = l
	}
}

// WithMiddleware appends middlewares to the chain. The first middleware
// added is the outermost.
func WithMiddleware(mws ...Middleware) ExecutorOption {
	return func(x *Executor) {
		x.middleware = append(x.middleware, mws...)
	}
}

// WithDefaultTimeout sets the per-attempt deadline used when an
// activity does not declare its own.
func WithDefaultTimeout(d time.Duration) ExecutorOption {
	return func(x *Executor) {
		x.defaultTimeout = d
	}
}

// NewExecutor creates an Executor over the given registry.
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	x := &Executor{
		registry:       registry,
		emitter:        noopEmitter{},
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		defaultTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Execute runs the named activity through the middleware chain with the
// registered retry policy. Transient failures are retried with backoff;
// terminal errors and context cancellation stop immediately. When the
// policy is exhausted the last error is wrapped with
// settle.ErrMaxAttemptsReached.
func (x *Executor) Execute(ctx context.Context, inv *Invocation) ([]byte, error) {
	handler, opts, ok := x.registry.Get(inv.Name)
	if !ok {
		return nil, Terminal(fmt.Errorf("activity %q not registered", inv.Name))
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = x.defaultTimeout
	}
	inv.Timeout = timeout

	handler = Chain(handler, x.middleware...)

	var lastErr error
	for attempt := 1; ; attempt++ {
		inv.Attempt = attempt

		output, err := x.attempt(ctx, handler, inv, timeout)
		if err == nil {
			return output, nil
		}
		lastErr = err

		if IsTerminal(err) {
			x.logger.Error("activity failed terminally",
				"invocation", inv.ID,
				"activity", inv.Name,
				"attempt", attempt,
				"error", err)
			x.emitter.ActivityFailed(ctx, inv, err)
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if opts.Retry.Exhausted(attempt) {
			break
		}

		delay := opts.Retry.Delay(attempt)
		x.logger.Warn("activity attempt failed, retrying",
			"invocation", inv.ID,
			"activity", inv.Name,
			"attempt", attempt,
			"delay", delay,
			"error", err)
		x.emitter.ActivityRetrying(ctx, inv, err, delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	err := fmt.Errorf("activity %q: %w after %d attempts: %w",
		inv.Name, settle.ErrMaxAttemptsReached, opts.Retry.MaxAttempts, lastErr)
	x.logger.Error("activity exhausted retries",
		"invocation", inv.ID,
		"activity", inv.Name,
		"error", lastErr)
	x.emitter.ActivityFailed(ctx, inv, err)
	return nil, err
}

// attempt runs one handler invocation under the per-attempt deadline,
// converting a deadline hit into a plain (retryable) error.
func (x *Executor) attempt(ctx context.Context, handler Handler, inv *Invocation, timeout time.Duration) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(withInvocation(ctx, inv), timeout)
	defer cancel()

	output, err := handler(attemptCtx, inv.Input)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("activity %q attempt %d timed out after %s", inv.Name, inv.Attempt, timeout)
		}
		return nil, err
	}
	return output, nil
}

type invocationKey struct{}

// withInvocation stores the invocation on the context for middleware.
func withInvocation(ctx context.Context, inv *Invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

// FromContext returns the Invocation attached to a handler context.
// Middleware uses this to tag logs, spans, and metrics.
func FromContext(ctx context.Context) (*Invocation, bool) {
	inv, ok := ctx.Value(invocationKey{}).(*Invocation)
	return inv, ok
}
