// Package activity provides the at-least-once invocation layer between
// sagas and external systems. An activity is an ordinary Go function
// registered under a name; the Executor runs it through a middleware
// chain with a bounded retry policy, and every invocation carries a
// deterministic id (run id + call site) that downstream systems use as
// an idempotency key.
//
// Activities must tolerate at-least-once delivery: the substrate may
// re-invoke after an ambiguous failure (timeout, crash before the
// result was checkpointed). Errors wrapped with Terminal are never
// retried — use it for validation and policy denials.
package activity
