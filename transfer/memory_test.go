package transfer

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/aksrustagi/settle"
	"github.com/aksrustagi/settle/id"
)

func TestInitiateIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	req := InitiateRequest{
		Account:        "acct-1",
		Amount:         decimal.NewFromInt(500),
		Direction:      DirectionDeposit,
		IdempotencyKey: "key-1",
	}

	first, err := m.Initiate(ctx, req)
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	second, err := m.Initiate(ctx, req)
	if err != nil {
		t.Fatalf("replayed Initiate: %v", err)
	}

	if first.ID.String() != second.ID.String() {
		t.Errorf("replay created a new transfer: %s vs %s", first.ID, second.ID)
	}
	if m.TransferCount() != 1 {
		t.Errorf("transfers = %d, want 1", m.TransferCount())
	}
}

func TestStatusProgression(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	xfer, _ := m.Initiate(ctx, InitiateRequest{
		Account:        "acct-1",
		Amount:         decimal.NewFromInt(500),
		Direction:      DirectionDeposit,
		IdempotencyKey: "key-1",
	})

	if xfer.Status != StatusPending {
		t.Fatalf("initial status = %q, want pending", xfer.Status)
	}

	if err := m.SetStatus(xfer.ID, StatusReturned, "R01 insufficient funds"); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	got, err := m.Get(ctx, xfer.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusReturned {
		t.Errorf("status = %q, want returned", got.Status)
	}
	if got.Reason != "R01 insufficient funds" {
		t.Errorf("reason = %q", got.Reason)
	}
	if !got.Status.Terminal() {
		t.Error("returned should be terminal")
	}
}

func TestGetNotFound(t *testing.T) {
	m := NewMemory()

	_, err := m.Get(context.Background(), id.NewTransferID())
	if !errors.Is(err, settle.ErrTransferNotFound) {
		t.Fatalf("err = %v, want ErrTransferNotFound", err)
	}
}
