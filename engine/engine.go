package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/aksrustagi/settle"
	"github.com/aksrustagi/settle/activity"
	"github.com/aksrustagi/settle/audit"
	"github.com/aksrustagi/settle/hook"
	"github.com/aksrustagi/settle/id"
	mw "github.com/aksrustagi/settle/middleware"
	"github.com/aksrustagi/settle/review"
	"github.com/aksrustagi/settle/saga"
	"github.com/aksrustagi/settle/signal"
	"github.com/aksrustagi/settle/store"
)

// runEmitter adapts *hook.Registry to satisfy saga.RunEmitter.
// This breaks the import cycle: saga defines the interface,
// hook.Registry provides the implementation, and the engine layer
// plugs them together.
type runEmitter struct {
	r *hook.Registry
}

func (a *runEmitter) EmitStepCompleted(ctx context.Context, run *saga.Run, stepName string, elapsed time.Duration) {
	a.r.EmitStepCompleted(ctx, run, stepName, elapsed)
}

func (a *runEmitter) EmitStepFailed(ctx context.Context, run *saga.Run, stepName string, err error) {
	a.r.EmitStepFailed(ctx, run, stepName, err)
}

func (a *runEmitter) EmitCompensationFailed(ctx context.Context, run *saga.Run, stepName string, err error) {
	a.r.EmitCompensationFailed(ctx, run, stepName, err)
}

func (a *runEmitter) EmitSagaStarted(ctx context.Context, run *saga.Run) {
	a.r.EmitSagaStarted(ctx, run)
}

func (a *runEmitter) EmitSagaCompleted(ctx context.Context, run *saga.Run, elapsed time.Duration) {
	a.r.EmitSagaCompleted(ctx, run, elapsed)
}

func (a *runEmitter) EmitSagaFailed(ctx context.Context, run *saga.Run, err error) {
	a.r.EmitSagaFailed(ctx, run, err)
}

func (a *runEmitter) EmitSagaCancelled(ctx context.Context, run *saga.Run) {
	a.r.EmitSagaCancelled(ctx, run)
}

// activityEmitter adapts *hook.Registry to satisfy activity.Emitter.
type activityEmitter struct {
	r *hook.Registry
}

func (a *activityEmitter) ActivityRetrying(ctx context.Context, inv *activity.Invocation, err error, delay time.Duration) {
	a.r.EmitActivityRetrying(ctx, inv, err, delay)
}

func (a *activityEmitter) ActivityFailed(ctx context.Context, inv *activity.Invocation, err error) {
	a.r.EmitActivityFailed(ctx, inv, err)
}

// Engine owns the saga runner, activity executor, signal bus, hook
// registry, and review service over a single store backend.
// Use New() to create one.
type Engine struct {
	store  store.Store
	cfg    settle.Config
	logger *slog.Logger

	hooks      *hook.Registry
	userHooks  []hook.Hook
	activities *activity.Registry
	sagas      *saga.Registry
	bus        *signal.Bus
	executor   *activity.Executor
	runner     *saga.Runner
	reviews    *review.Service
	mws        []activity.Middleware

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets engine-level configuration. If not set,
// settle.DefaultConfig() is used.
func WithConfig(cfg settle.Config) Option {
	return func(eng *Engine) {
		eng.cfg = cfg
	}
}

// WithLogger sets the structured logger for the engine and every
// subsystem it builds.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) {
		eng.logger = l
	}
}

// WithHook registers a lifecycle hook with the engine. Hooks are
// notified after the built-in audit and review hooks, in registration
// order.
func WithHook(h hook.Hook) Option {
	return func(eng *Engine) {
		eng.userHooks = append(eng.userHooks, h)
	}
}

// WithMiddleware adds middleware to the activity execution chain, after
// the default recover/tracing/metrics/logging stack.
func WithMiddleware(m activity.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the
// global one. If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, the metrics middleware uses this provider instead of the
// global one. If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// New creates an Engine over the given store. The store must not be
// nil; the caller owns its lifecycle.
func New(st store.Store, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, errors.New("settle/engine: store is required")
	}

	eng := &Engine{
		store:      st,
		cfg:        settle.DefaultConfig(),
		logger:     slog.Default(),
		activities: activity.NewRegistry(),
		sagas:      saga.NewRegistry(),
	}
	for _, opt := range opts {
		opt(eng)
	}

	// Build the hook registry: audit and review first so the trail is
	// written before user hooks observe an event.
	eng.hooks = hook.NewRegistry(eng.logger)
	eng.reviews = review.NewService(st)
	eng.hooks.Register(audit.NewHook(st, eng.logger))
	eng.hooks.Register(review.NewHook(eng.reviews, eng.logger))
	for _, h := range eng.userHooks {
		eng.hooks.Register(h)
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw activity.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/aksrustagi/settle")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw activity.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/aksrustagi/settle")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → tracing → metrics → logging.
	allMws := make([]activity.Middleware, 0, 4+len(eng.mws))
	allMws = append(allMws,
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
	)
	allMws = append(allMws, eng.mws...)

	eng.executor = activity.NewExecutor(eng.activities,
		activity.WithEmitter(&activityEmitter{r: eng.hooks}),
		activity.WithLogger(eng.logger),
		activity.WithDefaultTimeout(eng.cfg.ActivityTimeout),
		activity.WithMiddleware(allMws...),
	)

	eng.bus = signal.NewBus(st)
	eng.runner = saga.NewRunner(eng.sagas, st, eng.bus, eng.executor,
		&runEmitter{r: eng.hooks}, eng.logger)

	return eng, nil
}

// Start verifies store connectivity and resumes any runs left in
// "running" state by a previous process (crash recovery). Resume
// failures are logged per run inside ResumeAll; an aggregate error is
// non-fatal.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.store.Ping(ctx); err != nil {
		return fmt.Errorf("settle/engine: store ping: %w", err)
	}

	if err := eng.runner.ResumeAll(ctx, eng.cfg.ResumeConcurrency); err != nil {
		eng.logger.Warn("failed to resume interrupted runs",
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// Stop gracefully shuts down the engine, notifying shutdown hooks.
// The store itself is closed by its owner, not here.
func (eng *Engine) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, eng.cfg.ShutdownTimeout)
	defer cancel()

	eng.hooks.EmitShutdown(ctx)
	return nil
}

// StartSaga starts a saga run with a typed input and blocks until it
// reaches a terminal state.
func StartSaga[T any](ctx context.Context, eng *Engine, name string, input T) (*saga.Run, error) {
	return saga.Start(ctx, eng.runner, name, input)
}

// StartSagaAsync starts a saga run with a typed input and returns as
// soon as the run is persisted. Track progress with Query or Await.
func StartSagaAsync[T any](ctx context.Context, eng *Engine, name string, input T) (*saga.Run, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal input for saga %q: %w", name, err)
	}
	return eng.runner.StartAsync(ctx, name, data)
}

// Signal delivers a named signal to a running saga.
func (eng *Engine) Signal(ctx context.Context, runID id.RunID, name string, payload []byte) error {
	return eng.runner.Signal(ctx, runID, name, payload)
}

// DeliverCorrelated routes an external callback to the run registered
// for the correlation id and returns that run's id. Webhook handlers
// call this with the provider's reference. Returns settle.ErrNoMatch
// when no run has claimed the correlation id.
func (eng *Engine) DeliverCorrelated(ctx context.Context, correlationID, name string, payload []byte) (id.RunID, error) {
	return eng.bus.DeliverCorrelated(ctx, correlationID, name, payload)
}

// Cancel requests cooperative cancellation of a run. The request is
// sticky; the run observes it at its next step boundary or wait.
func (eng *Engine) Cancel(ctx context.Context, runID id.RunID) error {
	return eng.runner.RequestCancel(ctx, runID)
}

// Query returns the persisted snapshot of a run: lifecycle state,
// domain status, published vars, and output.
func (eng *Engine) Query(ctx context.Context, runID id.RunID) (*saga.Snapshot, error) {
	return eng.runner.Query(ctx, runID)
}

// Await blocks until the run reaches a terminal state and returns it.
func (eng *Engine) Await(ctx context.Context, runID id.RunID) (*saga.Run, error) {
	return eng.runner.Await(ctx, runID)
}

// Resume re-executes an interrupted run from its checkpoints.
func (eng *Engine) Resume(ctx context.Context, runID id.RunID) error {
	return eng.runner.Resume(ctx, runID)
}

// Purge deletes terminal runs older than the configured retention
// window, along with their checkpoints and signals. Returns the number
// of runs removed.
func (eng *Engine) Purge(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-eng.cfg.RetentionWindow)
	n, err := eng.store.PurgeRuns(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("settle/engine: purge runs: %w", err)
	}
	if n > 0 {
		eng.logger.Info("purged terminal runs",
			slog.Int("count", n),
			slog.Time("cutoff", cutoff),
		)
	}
	return n, nil
}

// Store returns the backing store.
func (eng *Engine) Store() store.Store { return eng.store }

// Runner returns the saga runner.
func (eng *Engine) Runner() *saga.Runner { return eng.runner }

// Sagas returns the saga registry for definition registration.
func (eng *Engine) Sagas() *saga.Registry { return eng.sagas }

// Activities returns the activity registry for handler registration.
func (eng *Engine) Activities() *activity.Registry { return eng.activities }

// Executor returns the activity executor.
func (eng *Engine) Executor() *activity.Executor { return eng.executor }

// Signals returns the signal bus.
func (eng *Engine) Signals() *signal.Bus { return eng.bus }

// Hooks returns the hook registry.
func (eng *Engine) Hooks() *hook.Registry { return eng.hooks }

// Reviews returns the manual-review service.
func (eng *Engine) Reviews() *review.Service { return eng.reviews }
