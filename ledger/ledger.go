// Package ledger defines the client interface for the internal ledger
// and the Hold type used to reserve funds while a saga is in flight.
//
// Every mutating call carries an idempotency key. Callers derive the key
// from their deterministic invocation id, so a retried call after an
// ambiguous failure applies its effect at most once.
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aksrustagi/settle/id"
)

// HoldStatus describes the lifecycle of a hold.
type HoldStatus string

const (
	// HoldStatusHeld means the funds are reserved and unavailable.
	HoldStatusHeld HoldStatus = "held"
	// HoldStatusReleased means the full amount was returned to the
	// available balance.
	HoldStatusReleased HoldStatus = "released"
	// HoldStatusCaptured means part or all of the hold was converted
	// into a debit and the remainder returned.
	HoldStatusCaptured HoldStatus = "captured"
)

// Hold is a provisional reservation against an account's available
// balance. It is placed before any irreversible external action and is
// released or captured exactly once when the actual consumed amount is
// known.
type Hold struct {
	ID        id.HoldID       `json:"id"`
	Account   string          `json:"account"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
	Status    HoldStatus      `json:"status"`
	// Captured is the portion converted into a debit. Zero unless
	// Status is captured.
	Captured  decimal.Decimal `json:"captured"`
	CreatedAt time.Time       `json:"created_at"`
	ClosedAt  *time.Time      `json:"closed_at,omitempty"`
}

// PlaceHoldRequest describes a new hold.
type PlaceHoldRequest struct {
	Account string          `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
	// Reference ties the hold back to the saga run that placed it.
	Reference      string `json:"reference,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Client is the ledger boundary consumed by activities. Implementations
// must be safe for concurrent use and idempotent on the supplied keys.
type Client interface {
	// Balance returns the available (spendable) balance for an account.
	// Held funds are not included.
	Balance(ctx context.Context, account string) (decimal.Decimal, error)

	// Held returns the total amount currently held for an account.
	Held(ctx context.Context, account string) (decimal.Decimal, error)

	// PlaceHold reserves funds, moving them out of the available
	// balance. Returns settle.ErrInsufficientFunds when the available
	// balance does not cover the amount.
	PlaceHold(ctx context.Context, req PlaceHoldRequest) (*Hold, error)

	// GetHold returns a hold by id, or settle.ErrHoldNotFound.
	GetHold(ctx context.Context, holdID id.HoldID) (*Hold, error)

	// ReleaseHold returns the full held amount to the available
	// balance. Releasing an already-released hold is a no-op; releasing
	// a captured hold returns settle.ErrHoldReleased.
	ReleaseHold(ctx context.Context, holdID id.HoldID, idempotencyKey string) error

	// CaptureHold converts amount of the hold into a debit and returns
	// the remainder to the available balance. amount must not exceed
	// the held amount.
	CaptureHold(ctx context.Context, holdID id.HoldID, amount decimal.Decimal, idempotencyKey string) error

	// Credit adds funds to the available balance.
	Credit(ctx context.Context, account string, amount decimal.Decimal, idempotencyKey string) error

	// Debit removes funds from the available balance. Returns
	// settle.ErrInsufficientFunds when the balance does not cover the
	// amount.
	Debit(ctx context.Context, account string, amount decimal.Decimal, idempotencyKey string) error
}
