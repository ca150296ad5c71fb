// Package store defines the aggregate persistence interface. Each
// subsystem (saga, signal, audit, review) defines its own store
// interface; the composite Store composes them all. Backends:
// Postgres, Redis, and Memory.
package store

import (
	"context"

	"github.com/aksrustagi/settle/audit"
	"github.com/aksrustagi/settle/review"
	"github.com/aksrustagi/settle/saga"
	"github.com/aksrustagi/settle/signal"
)

// Store is the aggregate persistence interface. A single backend
// (postgres, redis, memory) implements all subsystem stores.
type Store interface {
	saga.Store
	signal.Store
	audit.Store
	review.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
