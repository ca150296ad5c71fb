package activities_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/aksrustagi/settle"
	"github.com/aksrustagi/settle/activities"
	"github.com/aksrustagi/settle/activity"
	"github.com/aksrustagi/settle/id"
	"github.com/aksrustagi/settle/ledger"
	"github.com/aksrustagi/settle/market"
	"github.com/aksrustagi/settle/transfer"
	"github.com/aksrustagi/settle/venue"
)

type fixture struct {
	ledger   *ledger.Memory
	venue    *venue.Memory
	markets  *market.Memory
	executor *activity.Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		ledger:  ledger.NewMemory(),
		venue:   venue.NewMemory(),
		markets: market.NewMemory(),
	}

	reg := activity.NewRegistry()
	activities.Register(reg, activities.Deps{
		Ledger:    f.ledger,
		Venue:     f.venue,
		Transfers: transfer.NewMemory(),
		Markets:   f.markets,
		Identity:  activities.ApproveAll(),
		Risk:      activities.ClearAll(),
		MFA:       activities.NewStubMFA("123456"),
		Notifier:  activities.NewRecordingNotifier(),
	})

	f.executor = activity.NewExecutor(reg)

	return f
}

// invoke runs one activity through the executor with a deterministic
// invocation id, the way the saga substrate does.
func invoke[I, O any](t *testing.T, f *fixture, runID id.RunID, step, name string, input I) (O, error) {
	t.Helper()

	var out O

	payload, err := json.Marshal(input)
	if err != nil {
		t.Fatalf("marshal input: %v", err)
	}

	raw, err := f.executor.Execute(context.Background(), &activity.Invocation{
		ID:    activity.InvocationID(runID, step),
		RunID: runID,
		Name:  name,
		Input: payload,
	})
	if err != nil {
		return out, err
	}

	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}

	return out, nil
}

func TestPlaceHoldReplaySameInvocationID(t *testing.T) {
	f := newFixture(t)
	f.ledger.SetBalance("acct-1", decimal.NewFromInt(100))
	runID := id.NewRunID()

	first, err := invoke[activities.PlaceHoldInput, activities.PlaceHoldOutput](
		t, f, runID, "hold", activities.NamePlaceHold,
		activities.PlaceHoldInput{Account: "acct-1", Amount: decimal.NewFromInt(10)})
	if err != nil {
		t.Fatalf("place hold: %v", err)
	}

	// Same run and step: the ledger must not move funds twice.
	second, err := invoke[activities.PlaceHoldInput, activities.PlaceHoldOutput](
		t, f, runID, "hold", activities.NamePlaceHold,
		activities.PlaceHoldInput{Account: "acct-1", Amount: decimal.NewFromInt(10)})
	if err != nil {
		t.Fatalf("replayed place hold: %v", err)
	}

	if first.HoldID.String() != second.HoldID.String() {
		t.Errorf("replay produced a new hold: %s vs %s", first.HoldID, second.HoldID)
	}

	balance, _ := f.ledger.Balance(context.Background(), "acct-1")
	if !balance.Equal(decimal.NewFromInt(90)) {
		t.Errorf("balance = %s, want 90", balance)
	}
}

func TestPlaceHoldInsufficientFundsIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.ledger.SetBalance("acct-1", decimal.NewFromInt(1))

	_, err := invoke[activities.PlaceHoldInput, activities.PlaceHoldOutput](
		t, f, id.NewRunID(), "hold", activities.NamePlaceHold,
		activities.PlaceHoldInput{Account: "acct-1", Amount: decimal.NewFromInt(50)})

	if !errors.Is(err, settle.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	// Terminal errors must not burn the retry budget.
	if errors.Is(err, settle.ErrMaxAttemptsReached) {
		t.Error("insufficient funds was retried; want terminal short-circuit")
	}
}

func TestSubmitOrderCarriesClientOrderID(t *testing.T) {
	f := newFixture(t)
	runID := id.NewRunID()

	out, err := invoke[activities.SubmitOrderInput, activities.SubmitOrderOutput](
		t, f, runID, "submit", activities.NameSubmitOrder,
		activities.SubmitOrderInput{
			ClientOrderID: runID.String() + ":submit",
			Account:       "acct-1",
			Market:        "mkt-1",
			Outcome:       "yes",
			Side:          venue.SideBuy,
			Type:          venue.OrderTypeMarket,
			Quantity:      10,
		})
	if err != nil {
		t.Fatalf("submit order: %v", err)
	}
	if out.Status != venue.OrderStatusWorking {
		t.Errorf("status = %q, want working", out.Status)
	}

	// Replay with the same client order id: one order at the venue.
	_, err = invoke[activities.SubmitOrderInput, activities.SubmitOrderOutput](
		t, f, runID, "submit", activities.NameSubmitOrder,
		activities.SubmitOrderInput{
			ClientOrderID: runID.String() + ":submit",
			Account:       "acct-1",
			Market:        "mkt-1",
			Outcome:       "yes",
			Side:          venue.SideBuy,
			Type:          venue.OrderTypeMarket,
			Quantity:      10,
		})
	if err != nil {
		t.Fatalf("replayed submit: %v", err)
	}
	if f.venue.OrderCount() != 1 {
		t.Errorf("orders at venue = %d, want 1", f.venue.OrderCount())
	}
}

func TestSettlePositionWinnerPaysAndCloses(t *testing.T) {
	f := newFixture(t)
	posID := f.markets.AddPosition("acct-1", "mkt-1", "yes", 10)
	runID := id.NewRunID()

	input := activities.SettlePositionInput{
		Position: market.Position{
			ID: posID, Account: "acct-1", MarketID: "mkt-1", Outcome: "yes", Quantity: 10,
		},
		WinningOutcome: "yes",
		PayoutPerShare: decimal.NewFromInt(1),
	}

	out, err := invoke[activities.SettlePositionInput, activities.SettlePositionOutput](
		t, f, runID, "settle:"+posID.String(), activities.NameSettlePosition, input)
	if err != nil {
		t.Fatalf("settle position: %v", err)
	}
	if !out.Paid.Equal(decimal.NewFromInt(10)) {
		t.Errorf("paid = %s, want 10", out.Paid)
	}

	// Replay must not double-pay.
	if _, err := invoke[activities.SettlePositionInput, activities.SettlePositionOutput](
		t, f, runID, "settle:"+posID.String(), activities.NameSettlePosition, input); err != nil {
		t.Fatalf("replayed settle: %v", err)
	}

	balance, _ := f.ledger.Balance(context.Background(), "acct-1")
	if !balance.Equal(decimal.NewFromInt(10)) {
		t.Errorf("balance = %s, want 10 (paid once)", balance)
	}

	pos, _ := f.markets.Position(posID)
	if !pos.Closed {
		t.Error("position not closed")
	}
}

func TestSettlePositionLoserClosesWithoutPayment(t *testing.T) {
	f := newFixture(t)
	posID := f.markets.AddPosition("acct-2", "mkt-1", "no", 5)

	out, err := invoke[activities.SettlePositionInput, activities.SettlePositionOutput](
		t, f, id.NewRunID(), "settle:"+posID.String(), activities.NameSettlePosition,
		activities.SettlePositionInput{
			Position: market.Position{
				ID: posID, Account: "acct-2", MarketID: "mkt-1", Outcome: "no", Quantity: 5,
			},
			WinningOutcome: "yes",
			PayoutPerShare: decimal.NewFromInt(1),
		})
	if err != nil {
		t.Fatalf("settle position: %v", err)
	}
	if !out.Paid.IsZero() {
		t.Errorf("paid = %s, want 0", out.Paid)
	}

	balance, _ := f.ledger.Balance(context.Background(), "acct-2")
	if !balance.IsZero() {
		t.Errorf("balance = %s, want 0", balance)
	}

	pos, _ := f.markets.Position(posID)
	if !pos.Closed {
		t.Error("loser position not closed")
	}
}

func TestMarkSettledReplayIsNoop(t *testing.T) {
	f := newFixture(t)
	f.markets.AddMarket(&market.Market{
		ID:             "mkt-1",
		Outcomes:       []string{"yes", "no"},
		PayoutPerShare: decimal.NewFromInt(1),
		Status:         market.MarketStatusResolved,
		WinningOutcome: "yes",
	})
	runID := id.NewRunID()

	for range 2 {
		if _, err := invoke[activities.MarkSettledInput, activities.MarkSettledOutput](
			t, f, runID, "mark-settled", activities.NameMarkSettled,
			activities.MarkSettledInput{MarketID: "mkt-1"}); err != nil {
			t.Fatalf("mark settled: %v", err)
		}
	}
}
