// Package transfer defines the external money-movement boundary (ACH
// rails) used by the deposit and withdrawal sagas: initiate a transfer,
// then poll it to a terminal status.
package transfer

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aksrustagi/settle/id"
)

// Direction distinguishes pull (deposit) from push (withdrawal)
// transfers.
type Direction string

const (
	DirectionDeposit    Direction = "deposit"
	DirectionWithdrawal Direction = "withdrawal"
)

// Status is the provider-side lifecycle of a transfer.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSettled    Status = "settled"
	StatusReturned   Status = "returned"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status is final at the provider.
func (s Status) Terminal() bool {
	switch s {
	case StatusSettled, StatusReturned, StatusFailed:
		return true
	default:
		return false
	}
}

// Transfer is the provider's view of a money movement.
type Transfer struct {
	ID          id.TransferID   `json:"id"`
	Account     string          `json:"account"`
	Amount      decimal.Decimal `json:"amount"`
	Direction   Direction       `json:"direction"`
	Destination string          `json:"destination,omitempty"`
	Status      Status          `json:"status"`
	// Reason carries the return/failure code on terminal failure.
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// InitiateRequest describes a new transfer.
type InitiateRequest struct {
	Account     string          `json:"account"`
	Amount      decimal.Decimal `json:"amount"`
	Direction   Direction       `json:"direction"`
	Destination string          `json:"destination,omitempty"`
	// Reference ties the transfer back to the saga run.
	Reference      string `json:"reference,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Provider is the transfer boundary consumed by activities.
type Provider interface {
	// Initiate starts a transfer, idempotent on IdempotencyKey.
	Initiate(ctx context.Context, req InitiateRequest) (*Transfer, error)

	// Get returns the current transfer state, or
	// settle.ErrTransferNotFound.
	Get(ctx context.Context, transferID id.TransferID) (*Transfer, error)
}
