// Package middleware provides composable middleware for activity
// execution. Middleware wraps handler calls synchronously and can
// modify execution (recover from panics, log, trace, meter, rate-limit
// calls to external providers).
//
// The activity.Middleware type itself lives in the activity package so
// the executor can apply a chain without importing this package.
package middleware
