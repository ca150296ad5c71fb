package sagas_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/aksrustagi/settle"
	"github.com/aksrustagi/settle/id"
	"github.com/aksrustagi/settle/market"
	"github.com/aksrustagi/settle/saga"
	"github.com/aksrustagi/settle/sagas"
)

func resolvedMarket(marketID string) *market.Market {
	return &market.Market{
		ID:             marketID,
		Title:          "CPI above 3% in August",
		Outcomes:       []string{"yes", "no"},
		PayoutPerShare: dec("1.00"),
		Status:         market.MarketStatusResolved,
	}
}

func TestSettlementPaysWinnersAndClosesLosers(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.markets.AddMarket(resolvedMarket("mkt-1"))

	winA := h.markets.AddPosition("acct-a", "mkt-1", "yes", 10)
	loser := h.markets.AddPosition("acct-b", "mkt-1", "no", 5)
	winC := h.markets.AddPosition("acct-c", "mkt-1", "yes", 3)

	run, err := h.start(sagas.SagaSettlement, sagas.SettlementInput{
		MarketID:       "mkt-1",
		WinningOutcome: "yes",
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if run.State != saga.RunStateCompleted {
		t.Fatalf("run state = %q, want completed (error: %s)", run.State, run.Error)
	}
	if run.Status != sagas.StatusCompleted {
		t.Fatalf("status = %q, want completed", run.Status)
	}

	out := decodeOutput[sagas.SettlementResult](t, run)
	if out.Positions != 3 {
		t.Errorf("positions = %d, want 3", out.Positions)
	}
	if !out.Paid.Equal(dec("13")) {
		t.Errorf("paid = %s, want 13", out.Paid)
	}
	if len(out.Errors) != 0 {
		t.Errorf("errors = %v, want none", out.Errors)
	}

	// Winners receive payout-per-share times quantity; losers receive
	// nothing.
	if got := h.balance("acct-a"); !got.Equal(dec("10")) {
		t.Errorf("acct-a balance = %s, want 10", got)
	}
	if got := h.balance("acct-b"); !got.IsZero() {
		t.Errorf("acct-b balance = %s, want 0", got)
	}
	if got := h.balance("acct-c"); !got.Equal(dec("3")) {
		t.Errorf("acct-c balance = %s, want 3", got)
	}

	for name, posID := range map[string]id.PositionID{"winA": winA, "loser": loser, "winC": winC} {
		pos, ok := h.markets.Position(posID)
		if !ok || !pos.Closed {
			t.Errorf("position %s not closed", name)
		}
	}

	mkt, err := h.markets.GetMarket(context.Background(), "mkt-1")
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if mkt.Status != market.MarketStatusSettled {
		t.Errorf("market status = %q, want settled", mkt.Status)
	}
}

func TestSettlementIsolatesPositionFailures(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.markets.AddMarket(resolvedMarket("mkt-1"))

	winner := h.markets.AddPosition("acct-a", "mkt-1", "yes", 10)
	broken := h.markets.AddPosition("acct-b", "mkt-1", "no", 5)
	h.markets.FailClose(broken, fmt.Errorf("corrupt position row: %w", settle.ErrEntryNotFound))

	run, err := h.start(sagas.SagaSettlement, sagas.SettlementInput{
		MarketID:       "mkt-1",
		WinningOutcome: "yes",
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// One bad position must not block payout to everyone else, and must
	// not block the market from settling.
	if run.State != saga.RunStateCompleted {
		t.Fatalf("run state = %q, want completed (error: %s)", run.State, run.Error)
	}
	if run.Status != sagas.StatusCompletedWithErrors {
		t.Fatalf("status = %q, want completed_with_errors", run.Status)
	}

	out := decodeOutput[sagas.SettlementResult](t, run)
	if len(out.Errors) != 1 {
		t.Fatalf("errors = %v, want exactly one", out.Errors)
	}
	if !out.Paid.Equal(dec("10")) {
		t.Errorf("paid = %s, want 10", out.Paid)
	}

	if got := h.balance("acct-a"); !got.Equal(dec("10")) {
		t.Errorf("acct-a balance = %s, want 10", got)
	}

	pos, ok := h.markets.Position(winner)
	if !ok || !pos.Closed {
		t.Error("winner position not closed")
	}

	mkt, err := h.markets.GetMarket(context.Background(), "mkt-1")
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if mkt.Status != market.MarketStatusSettled {
		t.Errorf("market status = %q, want settled despite position failure", mkt.Status)
	}
}

func TestSettlementAlreadySettledFails(t *testing.T) {
	h := newHarness(t, fastConfig())

	mkt := resolvedMarket("mkt-1")
	mkt.Status = market.MarketStatusSettled
	h.markets.AddMarket(mkt)

	run, err := h.start(sagas.SagaSettlement, sagas.SettlementInput{
		MarketID:       "mkt-1",
		WinningOutcome: "yes",
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if run.State != saga.RunStateFailed || run.Status != sagas.StatusFailed {
		t.Fatalf("run = %q/%q, want failed/failed", run.State, run.Status)
	}
}

func TestSettlementUnknownOutcomeFails(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.markets.AddMarket(resolvedMarket("mkt-1"))

	run, err := h.start(sagas.SagaSettlement, sagas.SettlementInput{
		MarketID:       "mkt-1",
		WinningOutcome: "maybe",
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if run.State != saga.RunStateFailed || run.Status != sagas.StatusFailed {
		t.Fatalf("run = %q/%q, want failed/failed", run.State, run.Status)
	}

	// Nothing settled, nothing paid.
	mkt, err := h.markets.GetMarket(context.Background(), "mkt-1")
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if mkt.Status == market.MarketStatusSettled {
		t.Error("market settled despite invalid outcome")
	}
}

func TestSettlementReplayDoesNotDoublePay(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.markets.AddMarket(resolvedMarket("mkt-1"))
	h.markets.AddPosition("acct-a", "mkt-1", "yes", 10)

	run, err := h.start(sagas.SagaSettlement, sagas.SettlementInput{
		MarketID:       "mkt-1",
		WinningOutcome: "yes",
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if run.State != saga.RunStateCompleted {
		t.Fatalf("run state = %q, want completed (error: %s)", run.State, run.Error)
	}

	replayed := h.resume(run)
	if replayed.State != saga.RunStateCompleted {
		t.Fatalf("replayed run state = %q, want completed", replayed.State)
	}

	if got := h.balance("acct-a"); !got.Equal(dec("10")) {
		t.Errorf("balance = %s, want 10 after replay", got)
	}
}
