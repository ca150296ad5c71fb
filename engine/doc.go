// Package engine wires all settle subsystems together and provides the
// application-level API for registering sagas and starting runs.
//
// The engine package exists to break a fundamental import cycle: the
// root settle package defines Entity (imported by saga, signal, audit,
// etc.) and therefore cannot import those packages back. Engine sits
// above all subsystem packages and below the application layer.
//
// # Building an Engine
//
//	st := memory.New()
//	eng, err := engine.New(st,
//	    engine.WithLogger(logger),
//	    engine.WithHook(myAlertHook),
//	    engine.WithMiddleware(middleware.RateLimit(bankLimiter)),
//	)
//
// # Registering Work
//
//	activities.Register(eng.Activities(), activities.Deps{...})
//	sagas.RegisterAll(eng.Sagas(), sagas.DefaultConfig(), sagas.Deps{
//	    Reviews: eng.Reviews(),
//	})
//
// # Running Sagas
//
//	eng.Start(ctx) // resumes any interrupted runs
//
//	run, err := engine.StartSaga(ctx, eng, sagas.SagaOrder, input)
//
// Webhook callbacks from external providers are routed to waiting runs
// through DeliverCorrelated; user-supplied signals (step-up codes,
// cancellation) go through Signal and Cancel.
//
// # Options
//
//   - [WithConfig] — set engine-level tuning (resume concurrency, timeouts)
//   - [WithLogger] — set the structured logger
//   - [WithHook] — register a lifecycle hook
//   - [WithMiddleware] — add a middleware to the activity chain
//   - [WithTracerProvider] — set the OpenTelemetry tracer provider
//   - [WithMeterProvider] — set the OpenTelemetry meter provider
package engine
