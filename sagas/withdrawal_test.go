package sagas_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aksrustagi/settle/activities"
	"github.com/aksrustagi/settle/review"
	"github.com/aksrustagi/settle/saga"
	"github.com/aksrustagi/settle/sagas"
	"github.com/aksrustagi/settle/transfer"
)

func withdrawal(account, amount, destination string) sagas.WithdrawalInput {
	return sagas.WithdrawalInput{
		Account:     account,
		Amount:      dec(amount),
		Destination: destination,
	}
}

func TestWithdrawalSmallAmountSkipsGates(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.ledger.SetBalance("acct-1", dec("500"))

	run := h.startAsync(sagas.SagaWithdrawal, withdrawal("acct-1", "100", "bank-1"))

	transferID := h.awaitTransferID(run.ID)
	if err := h.transfers.SetStatus(transferID, transfer.StatusSettled, ""); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	final := h.await(run.ID)
	if final.State != saga.RunStateCompleted {
		t.Fatalf("run state = %q, want completed (error: %s)", final.State, final.Error)
	}
	if final.Status != sagas.StatusCompleted {
		t.Fatalf("status = %q, want completed", final.Status)
	}

	out := decodeOutput[sagas.WithdrawalResult](t, final)
	if !out.Amount.Equal(dec("100")) {
		t.Errorf("amount = %s, want 100", out.Amount)
	}
	if out.Refunded {
		t.Error("refunded = true for a delivered withdrawal")
	}

	if got := h.balance("acct-1"); !got.Equal(dec("400")) {
		t.Errorf("balance = %s, want 400", got)
	}
	if got := h.held("acct-1"); !got.IsZero() {
		t.Errorf("held = %s, want 0", got)
	}

	sent := h.notifier.Sent()
	if len(sent) == 0 || sent[len(sent)-1].Template != "withdrawal.completed" {
		t.Errorf("notifications = %+v, want final withdrawal.completed", sent)
	}
}

func TestWithdrawalLargeAmountPassesGatesThenDelivers(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.ledger.SetBalance("acct-1", dec("20000"))

	run := h.startAsync(sagas.SagaWithdrawal, withdrawal("acct-1", "15000", "bank-1"))

	// The cooling-off wait elapses, then the run parks for the step-up
	// code.
	h.awaitStatus(run.ID, sagas.StatusAwaiting2FA)
	h.signal(run.ID, sagas.SignalMFACode, sagas.MFACodePayload{Code: testMFACode})

	transferID := h.awaitTransferID(run.ID)
	if err := h.transfers.SetStatus(transferID, transfer.StatusSettled, ""); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	final := h.await(run.ID)
	if final.State != saga.RunStateCompleted || final.Status != sagas.StatusCompleted {
		t.Fatalf("run = %q/%q, want completed/completed (error: %s)",
			final.State, final.Status, final.Error)
	}

	if got := h.balance("acct-1"); !got.Equal(dec("5000")) {
		t.Errorf("balance = %s, want 5000", got)
	}
	if got := h.held("acct-1"); !got.IsZero() {
		t.Errorf("held = %s, want 0", got)
	}
}

func TestWithdrawalWrongCodeRejectsAndReleases(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.ledger.SetBalance("acct-1", dec("20000"))

	run := h.startAsync(sagas.SagaWithdrawal, withdrawal("acct-1", "15000", "bank-1"))

	h.awaitStatus(run.ID, sagas.StatusAwaiting2FA)
	h.signal(run.ID, sagas.SignalMFACode, sagas.MFACodePayload{Code: "000000"})

	final := h.await(run.ID)
	if final.State != saga.RunStateCompleted || final.Status != sagas.StatusRejected {
		t.Fatalf("run = %q/%q, want completed/rejected", final.State, final.Status)
	}

	out := decodeOutput[sagas.WithdrawalResult](t, final)
	if out.Reason != "invalid step-up code" {
		t.Errorf("reason = %q", out.Reason)
	}

	if got := h.balance("acct-1"); !got.Equal(dec("20000")) {
		t.Errorf("balance = %s, want 20000 restored", got)
	}
	if got := h.held("acct-1"); !got.IsZero() {
		t.Errorf("held = %s, want 0", got)
	}
	if h.transfers.TransferCount() != 0 {
		t.Errorf("transfers = %d, want 0: rejected before execution", h.transfers.TransferCount())
	}
}

func TestWithdrawalStepUpTimeoutCancelsAndReleases(t *testing.T) {
	cfg := fastConfig()
	cfg.MFAWait = 50 * time.Millisecond

	h := newHarness(t, cfg)
	h.ledger.SetBalance("acct-1", dec("20000"))

	run := h.startAsync(sagas.SagaWithdrawal, withdrawal("acct-1", "15000", "bank-1"))

	final := h.await(run.ID)
	if final.State != saga.RunStateCompleted || final.Status != sagas.StatusCancelled {
		t.Fatalf("run = %q/%q, want completed/cancelled", final.State, final.Status)
	}

	out := decodeOutput[sagas.WithdrawalResult](t, final)
	if out.Reason != "step-up confirmation timed out" {
		t.Errorf("reason = %q", out.Reason)
	}

	if got := h.balance("acct-1"); !got.Equal(dec("20000")) {
		t.Errorf("balance = %s, want 20000 restored", got)
	}
	if h.transfers.TransferCount() != 0 {
		t.Errorf("transfers = %d, want 0", h.transfers.TransferCount())
	}
}

func TestWithdrawalCancelDuringCoolingOff(t *testing.T) {
	cfg := fastConfig()
	cfg.CoolingOffPeriod = 2 * time.Second

	h := newHarness(t, cfg)
	h.ledger.SetBalance("acct-1", dec("20000"))

	run := h.startAsync(sagas.SagaWithdrawal, withdrawal("acct-1", "15000", "bank-1"))

	h.awaitStatus(run.ID, sagas.StatusCoolingPeriod)
	h.cancel(run.ID)

	final := h.await(run.ID)
	if final.State != saga.RunStateCompleted || final.Status != sagas.StatusCancelled {
		t.Fatalf("run = %q/%q, want completed/cancelled", final.State, final.Status)
	}

	out := decodeOutput[sagas.WithdrawalResult](t, final)
	if out.Reason != "cancelled during cooling-off" {
		t.Errorf("reason = %q", out.Reason)
	}

	if got := h.balance("acct-1"); !got.Equal(dec("20000")) {
		t.Errorf("balance = %s, want 20000 restored", got)
	}
	if got := h.held("acct-1"); !got.IsZero() {
		t.Errorf("held = %s, want 0", got)
	}
}

func TestWithdrawalCancelAfterCodeEntryReleases(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.ledger.SetBalance("acct-1", dec("20000"))

	run := h.startAsync(sagas.SagaWithdrawal, withdrawal("acct-1", "15000", "bank-1"))

	h.awaitStatus(run.ID, sagas.StatusAwaiting2FA)

	// Set the sticky flag directly on the store, without the wake-up
	// signal a runner cancel publishes, then deliver the correct code.
	// The pending cancellation is observed at the next step boundary —
	// after the code has been consumed, right before verification.
	if err := h.store.RequestCancel(context.Background(), run.ID); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	h.signal(run.ID, sagas.SignalMFACode, sagas.MFACodePayload{Code: testMFACode})

	final := h.await(run.ID)
	if final.State != saga.RunStateCompleted || final.Status != sagas.StatusCancelled {
		t.Fatalf("run = %q/%q, want completed/cancelled (error: %s)",
			final.State, final.Status, final.Error)
	}

	out := decodeOutput[sagas.WithdrawalResult](t, final)
	if out.Reason != "cancelled awaiting step-up" {
		t.Errorf("reason = %q", out.Reason)
	}

	if got := h.balance("acct-1"); !got.Equal(dec("20000")) {
		t.Errorf("balance = %s, want 20000 restored", got)
	}
	if got := h.held("acct-1"); !got.IsZero() {
		t.Errorf("held = %s, want 0", got)
	}
	if h.transfers.TransferCount() != 0 {
		t.Errorf("transfers = %d, want 0: cancelled before execution", h.transfers.TransferCount())
	}
}

func TestWithdrawalFraudFlaggedRejects(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.ledger.SetBalance("acct-1", dec("500"))
	h.risk.Result = activities.RiskResult{Flagged: true, Score: 0.93, Reason: "destination velocity"}

	run, err := h.start(sagas.SagaWithdrawal, withdrawal("acct-1", "100", "bank-1"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if run.State != saga.RunStateCompleted || run.Status != sagas.StatusRejected {
		t.Fatalf("run = %q/%q, want completed/rejected", run.State, run.Status)
	}

	out := decodeOutput[sagas.WithdrawalResult](t, run)
	if out.Reason != "flagged for manual review" {
		t.Errorf("reason = %q", out.Reason)
	}

	entries := h.reviewEntries(review.KindFraudFlag)
	if len(entries) != 1 {
		t.Fatalf("fraud-flag review entries = %d, want 1", len(entries))
	}
	if entries[0].Subject != "acct-1" {
		t.Errorf("review subject = %q, want acct-1", entries[0].Subject)
	}

	// A compliance rejection never touches funds.
	if got := h.balance("acct-1"); !got.Equal(dec("500")) {
		t.Errorf("balance = %s, want 500 untouched", got)
	}
	if h.transfers.TransferCount() != 0 {
		t.Errorf("transfers = %d, want 0", h.transfers.TransferCount())
	}
}

func TestWithdrawalReturnedTransferRefunds(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.ledger.SetBalance("acct-1", dec("500"))

	run := h.startAsync(sagas.SagaWithdrawal, withdrawal("acct-1", "100", "bank-1"))

	transferID := h.awaitTransferID(run.ID)
	if err := h.transfers.SetStatus(transferID, transfer.StatusReturned, "R01 insufficient funds"); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	final := h.await(run.ID)
	if final.State != saga.RunStateFailed {
		t.Fatalf("run state = %q, want failed", final.State)
	}
	if final.Status != sagas.StatusFailed {
		t.Fatalf("status = %q, want failed", final.Status)
	}

	out := decodeOutput[sagas.WithdrawalResult](t, final)
	if !out.Refunded {
		t.Error("refunded = false, want true for a returned transfer")
	}
	if !strings.Contains(out.Reason, "R01 insufficient funds") {
		t.Errorf("reason = %q, want return code", out.Reason)
	}

	// Debit then full refund: the balance round-trips.
	if got := h.balance("acct-1"); !got.Equal(dec("500")) {
		t.Errorf("balance = %s, want 500 after refund", got)
	}
	if got := h.held("acct-1"); !got.IsZero() {
		t.Errorf("held = %s, want 0", got)
	}
}

func TestWithdrawalPollExhaustedNeverAutoRefunds(t *testing.T) {
	cfg := fastConfig()
	cfg.WithdrawalPollCap = 3

	h := newHarness(t, cfg)
	h.ledger.SetBalance("acct-1", dec("500"))

	// The transfer never reaches a terminal status.
	run := h.startAsync(sagas.SagaWithdrawal, withdrawal("acct-1", "100", "bank-1"))

	final := h.await(run.ID)
	if final.State != saga.RunStateFailed {
		t.Fatalf("run state = %q, want failed", final.State)
	}
	if !strings.Contains(final.Error, "still pending") {
		t.Errorf("error = %q, want pending-transfer error", final.Error)
	}

	// The funds may yet deliver: the debit stands until an operator
	// reconciles.
	if got := h.balance("acct-1"); !got.Equal(dec("400")) {
		t.Errorf("balance = %s, want 400 with no automatic refund", got)
	}

	entries := h.reviewEntries(review.KindUnreconciled)
	if len(entries) != 1 {
		t.Fatalf("unreconciled review entries = %d, want 1", len(entries))
	}
	if entries[0].RunID != run.ID {
		t.Errorf("review entry run = %s, want %s", entries[0].RunID, run.ID)
	}
}

func TestWithdrawalInvalidInputRejects(t *testing.T) {
	tests := []struct {
		name   string
		input  sagas.WithdrawalInput
		reason string
	}{
		{"zero amount", withdrawal("acct-1", "0", "bank-1"), "amount must be positive"},
		{"missing destination", withdrawal("acct-1", "100", ""), "destination is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, fastConfig())
			h.ledger.SetBalance("acct-1", dec("500"))

			run, err := h.start(sagas.SagaWithdrawal, tt.input)
			if err != nil {
				t.Fatalf("start: %v", err)
			}

			if run.State != saga.RunStateCompleted || run.Status != sagas.StatusRejected {
				t.Fatalf("run = %q/%q, want completed/rejected", run.State, run.Status)
			}
			out := decodeOutput[sagas.WithdrawalResult](t, run)
			if out.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", out.Reason, tt.reason)
			}
			if got := h.balance("acct-1"); !got.Equal(dec("500")) {
				t.Errorf("balance = %s, want 500 untouched", got)
			}
		})
	}
}
