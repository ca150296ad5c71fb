// Package settle provides durable saga orchestration for a trading venue
// integration layer. User-initiated financial actions — placing an order,
// depositing cash, withdrawing cash, settling a resolved market — execute
// as long-running, crash-resilient transactions spanning an internal
// ledger, an external execution venue, and optional human-in-the-loop
// steps (step-up confirmation, cooling-off windows).
//
// Settle is a library, not a service. Wire a store, register the sagas,
// and drive them from your API layer:
//
//	st := memory.New()
//	eng, err := engine.New(st)
//	activities.Register(eng.Activities(), activities.Deps{...})
//	sagas.RegisterAll(eng.Sagas(), sagas.DefaultConfig(), sagas.Deps{
//	    Reviews: eng.Reviews(),
//	})
//	eng.Start(ctx) // resumes any in-flight runs
//
//	run, err := engine.StartSaga(ctx, eng, sagas.SagaOrder, input)
//
// # Architecture
//
// Each subsystem defines its own store interface (saga runs and
// checkpoints, signals, audit log, review queue); a single backend
// implements all of them. Saga handlers are ordinary Go functions whose
// steps are checkpointed: after a crash, a resumed run re-executes only
// the control flow and skips every step that already completed. External
// side effects go through activities, which are retried with bounded
// backoff and addressed by deterministic invocation ids so downstream
// systems can deduplicate.
//
// All entity IDs are TypeIDs — prefix-qualified, K-sortable, URL-safe.
package settle
