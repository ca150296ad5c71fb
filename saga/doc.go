// Package saga is the durable execution substrate. A saga is an
// ordinary Go function that advances a run through checkpointed steps:
// on crash recovery the handler is re-executed from the top and every
// step that already has a checkpoint is skipped, so external effects
// happen at most once per step key.
//
// The Execution context provides checkpointed steps, typed results,
// compensation registration (LIFO undo stack), durable sleeps, and
// signal waits. The Runner owns run lifecycle: starting, resuming
// after a crash, signalling, cancellation, and queries.
package saga
