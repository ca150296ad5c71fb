package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/aksrustagi/settle"
	"github.com/aksrustagi/settle/id"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}

	return d
}

func TestPlaceHoldMovesFundsOutOfAvailable(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.SetBalance("acct-1", dec("100"))

	hold, err := m.PlaceHold(ctx, PlaceHoldRequest{
		Account:        "acct-1",
		Amount:         dec("5.50"),
		IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("PlaceHold: %v", err)
	}

	balance, _ := m.Balance(ctx, "acct-1")
	if !balance.Equal(dec("94.50")) {
		t.Errorf("balance = %s, want 94.50", balance)
	}

	held, _ := m.Held(ctx, "acct-1")
	if !held.Equal(dec("5.50")) {
		t.Errorf("held = %s, want 5.50", held)
	}

	if hold.Status != HoldStatusHeld {
		t.Errorf("status = %q, want held", hold.Status)
	}
}

func TestPlaceHoldInsufficientFunds(t *testing.T) {
	m := NewMemory()
	m.SetBalance("acct-1", dec("1"))

	_, err := m.PlaceHold(context.Background(), PlaceHoldRequest{
		Account:        "acct-1",
		Amount:         dec("2"),
		IdempotencyKey: "key-1",
	})
	if !errors.Is(err, settle.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
}

func TestPlaceHoldIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.SetBalance("acct-1", dec("100"))

	first, err := m.PlaceHold(ctx, PlaceHoldRequest{
		Account: "acct-1", Amount: dec("10"), IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("first PlaceHold: %v", err)
	}

	second, err := m.PlaceHold(ctx, PlaceHoldRequest{
		Account: "acct-1", Amount: dec("10"), IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("replayed PlaceHold: %v", err)
	}

	if first.ID.String() != second.ID.String() {
		t.Errorf("replay produced a new hold: %s vs %s", first.ID, second.ID)
	}

	balance, _ := m.Balance(ctx, "acct-1")
	if !balance.Equal(dec("90")) {
		t.Errorf("balance = %s, want 90 (hold applied once)", balance)
	}
}

func TestReleaseHoldRestoresBalance(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.SetBalance("acct-1", dec("100"))

	hold, _ := m.PlaceHold(ctx, PlaceHoldRequest{
		Account: "acct-1", Amount: dec("25"), IdempotencyKey: "hold-key",
	})

	if err := m.ReleaseHold(ctx, hold.ID, "release-key"); err != nil {
		t.Fatalf("ReleaseHold: %v", err)
	}

	// Releasing again is a no-op, with or without the original key.
	if err := m.ReleaseHold(ctx, hold.ID, "release-key"); err != nil {
		t.Fatalf("replayed ReleaseHold: %v", err)
	}
	if err := m.ReleaseHold(ctx, hold.ID, "other-key"); err != nil {
		t.Fatalf("second ReleaseHold: %v", err)
	}

	balance, _ := m.Balance(ctx, "acct-1")
	if !balance.Equal(dec("100")) {
		t.Errorf("balance = %s, want 100", balance)
	}
}

func TestCaptureHoldPartial(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.SetBalance("acct-1", dec("100"))

	hold, _ := m.PlaceHold(ctx, PlaceHoldRequest{
		Account: "acct-1", Amount: dec("5.50"), IdempotencyKey: "hold-key",
	})

	if err := m.CaptureHold(ctx, hold.ID, dec("4.80"), "capture-key"); err != nil {
		t.Fatalf("CaptureHold: %v", err)
	}

	// 100 - 5.50 hold + 0.70 remainder back = 95.20.
	balance, _ := m.Balance(ctx, "acct-1")
	if !balance.Equal(dec("95.20")) {
		t.Errorf("balance = %s, want 95.20", balance)
	}

	got, err := m.GetHold(ctx, hold.ID)
	if err != nil {
		t.Fatalf("GetHold: %v", err)
	}
	if got.Status != HoldStatusCaptured {
		t.Errorf("status = %q, want captured", got.Status)
	}
	if !got.Captured.Equal(dec("4.80")) {
		t.Errorf("captured = %s, want 4.80", got.Captured)
	}

	// A captured hold cannot be released.
	if err := m.ReleaseHold(ctx, hold.ID, "late-release"); !errors.Is(err, settle.ErrHoldReleased) {
		t.Errorf("release after capture: err = %v, want ErrHoldReleased", err)
	}
}

func TestCaptureHoldOverAmountRejected(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.SetBalance("acct-1", dec("100"))

	hold, _ := m.PlaceHold(ctx, PlaceHoldRequest{
		Account: "acct-1", Amount: dec("5"), IdempotencyKey: "hold-key",
	})

	if err := m.CaptureHold(ctx, hold.ID, dec("6"), "capture-key"); err == nil {
		t.Fatal("expected error capturing more than held")
	}
}

func TestCreditAndDebitIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for range 2 {
		if err := m.Credit(ctx, "acct-1", dec("50"), "credit-key"); err != nil {
			t.Fatalf("Credit: %v", err)
		}
	}

	balance, _ := m.Balance(ctx, "acct-1")
	if !balance.Equal(dec("50")) {
		t.Errorf("balance = %s, want 50 (credit applied once)", balance)
	}

	for range 2 {
		if err := m.Debit(ctx, "acct-1", dec("20"), "debit-key"); err != nil {
			t.Fatalf("Debit: %v", err)
		}
	}

	balance, _ = m.Balance(ctx, "acct-1")
	if !balance.Equal(dec("30")) {
		t.Errorf("balance = %s, want 30 (debit applied once)", balance)
	}
}

func TestDebitInsufficientFunds(t *testing.T) {
	m := NewMemory()
	m.SetBalance("acct-1", dec("10"))

	err := m.Debit(context.Background(), "acct-1", dec("11"), "debit-key")
	if !errors.Is(err, settle.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
}

func TestGetHoldNotFound(t *testing.T) {
	m := NewMemory()

	_, err := m.GetHold(context.Background(), id.NewHoldID())
	if !errors.Is(err, settle.ErrHoldNotFound) {
		t.Fatalf("err = %v, want ErrHoldNotFound", err)
	}
}
