package sagas

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aksrustagi/settle"
	"github.com/aksrustagi/settle/activities"
	"github.com/aksrustagi/settle/id"
	"github.com/aksrustagi/settle/review"
	"github.com/aksrustagi/settle/saga"
	"github.com/aksrustagi/settle/venue"
)

// OrderInput starts an order-execution run.
type OrderInput struct {
	Account    string          `json:"account"`
	AssetClass string          `json:"asset_class"`
	Market     string          `json:"market"`
	Outcome    string          `json:"outcome"`
	Side       venue.Side      `json:"side"`
	Type       venue.OrderType `json:"type"`
	Quantity   int64           `json:"quantity"`
	// LimitPrice prices a limit order exactly.
	LimitPrice decimal.Decimal `json:"limit_price"`
	// EstimatedPrice prices a market order; the hold adds the
	// configured buffer on top.
	EstimatedPrice decimal.Decimal `json:"estimated_price"`
}

// OrderResult is the terminal outcome recorded as the run output.
type OrderResult struct {
	Status         string          `json:"status"`
	OrderID        id.OrderID      `json:"order_id,omitzero"`
	HoldID         id.HoldID       `json:"hold_id,omitzero"`
	HoldAmount     decimal.Decimal `json:"hold_amount"`
	FilledQuantity int64           `json:"filled_quantity"`
	Cost           decimal.Decimal `json:"cost"`
	Released       decimal.Decimal `json:"released"`
	Reason         string          `json:"reason,omitempty"`
}

// NewOrderSaga builds the order-execution saga: validate eligibility,
// reserve funds, submit to the venue, poll to a terminal venue status,
// settle fills against the ledger, release the unused reservation.
func NewOrderSaga(cfg Config, deps Deps) *saga.Definition[OrderInput] {
	return saga.NewSaga(SagaOrder, func(e *saga.Execution, in OrderInput) error {
		return runOrder(e, cfg, deps, in)
	})
}

func runOrder(e *saga.Execution, cfg Config, deps Deps, in OrderInput) error {
	if err := e.SetStatus(StatusValidating); err != nil {
		return err
	}

	estimate := estimateCost(cfg, in)

	elig, err := saga.ExecuteActivity[activities.EligibilityInput, activities.EligibilityResult](
		e, "eligibility", activities.NameCheckEligibility, activities.EligibilityInput{
			Account:    in.Account,
			AssetClass: in.AssetClass,
			Notional:   estimate,
		})
	if err != nil {
		return err
	}

	switch elig.Decision {
	case activities.DecisionApproved:
	case activities.DecisionDenied:
		return finishOrder(e, in, OrderResult{Status: StatusRejected, Reason: elig.Reason})
	case activities.DecisionPendingVerification:
		approved, reason, verr := awaitVerification(e, cfg, elig.CorrelationID)
		if verr != nil {
			return verr
		}
		if !approved {
			return finishOrder(e, in, OrderResult{Status: StatusRejected, Reason: reason})
		}
	default:
		return fmt.Errorf("order: unknown eligibility decision %q", elig.Decision)
	}

	if err := e.SetStatus(StatusHoldingFunds); err != nil {
		return err
	}

	hold, err := saga.ExecuteActivity[activities.PlaceHoldInput, activities.PlaceHoldOutput](
		e, "place-hold", activities.NamePlaceHold, activities.PlaceHoldInput{
			Account:   in.Account,
			Amount:    estimate,
			Reference: e.RunID(),
		})
	if err != nil {
		if errors.Is(err, settle.ErrInsufficientFunds) {
			return finishOrder(e, in, OrderResult{
				Status: StatusRejected,
				Reason: "insufficient available balance",
			})
		}

		return err
	}
	if err := e.SetVar(VarHoldID, hold.HoldID); err != nil {
		return err
	}

	// Cancellation before submission: release the full hold, zero
	// fills.
	if e.CancelRequested() {
		return settleOrder(e, in, hold, nil, StatusCancelled, "cancelled before submission")
	}

	if err := e.SetStatus(StatusSubmitted); err != nil {
		return err
	}

	// The submission is the irreversible step: a cancel arriving while
	// it is in flight is honored at the next checkpoint after it.
	var submitted activities.SubmitOrderOutput
	if err := e.Shield(func() error {
		out, serr := saga.ExecuteActivity[activities.SubmitOrderInput, activities.SubmitOrderOutput](
			e, "submit", activities.NameSubmitOrder, activities.SubmitOrderInput{
				ClientOrderID: e.RunID() + ":submit",
				Account:       in.Account,
				Market:        in.Market,
				Outcome:       in.Outcome,
				Side:          in.Side,
				Type:          in.Type,
				Quantity:      in.Quantity,
				LimitPrice:    in.LimitPrice,
			})
		submitted = out

		return serr
	}); err != nil {
		return failOrder(e, in, hold, err)
	}

	if err := e.SetVar(VarOrderID, submitted.OrderID); err != nil {
		return err
	}
	if err := e.SetStatus(StatusPending); err != nil {
		return err
	}

	final, pollErr := pollVenueOrder(e, cfg, submitted.OrderID)
	switch {
	case pollErr == nil:
		return settleOrder(e, in, hold, final, orderStatusFor(final.Status), final.Reason)

	case errors.Is(pollErr, saga.ErrCancelled):
		// Best-effort venue cancel, then settle whatever filled
		// before the cancel took effect.
		var afterCancel *venue.Order
		if err := e.Shield(func() error {
			out, cerr := saga.ExecuteActivity[activities.OrderInput, activities.OrderOutput](
				e, "cancel-order", activities.NameCancelOrder,
				activities.OrderInput{OrderID: submitted.OrderID})
			if cerr != nil {
				return cerr
			}
			afterCancel = &out.Order

			return nil
		}); err != nil {
			return failOrder(e, in, hold, err)
		}

		return settleOrder(e, in, hold, afterCancel, StatusCancelled, "cancelled by request")

	case errors.Is(pollErr, settle.ErrMaxAttemptsReached):
		// Poll budget exhausted without a terminal venue status:
		// settle what is known, fail the run, and route the order to
		// manual review.
		if _, _, err := settleFills(e, hold, final); err != nil {
			return failOrder(e, in, hold, err)
		}
		flagReview(e, deps.Reviews, "flag-poll-exhausted", review.KindPollExhausted,
			submitted.OrderID.String(), pollErr, map[string]any{"market": in.Market})
		if err := e.SetStatus(StatusFailed); err != nil {
			return err
		}

		return pollErr

	default:
		return failOrder(e, in, hold, pollErr)
	}
}

// estimateCost computes the amount to reserve: exact for limit orders,
// estimated price plus buffer for market orders.
func estimateCost(cfg Config, in OrderInput) decimal.Decimal {
	qty := decimal.NewFromInt(in.Quantity)
	if in.Type == venue.OrderTypeLimit {
		return in.LimitPrice.Mul(qty)
	}

	return in.EstimatedPrice.Mul(qty).Mul(decimal.NewFromInt(1).Add(cfg.MarketOrderBuffer))
}

// awaitVerification parks the run until the identity provider's
// webhook-derived signal arrives, matched by correlation id.
func awaitVerification(e *saga.Execution, cfg Config, correlationID string) (bool, string, error) {
	if err := e.SetStatus(StatusPendingVerification); err != nil {
		return false, "", err
	}
	if err := e.SetVar(VarCorrelationID, correlationID); err != nil {
		return false, "", err
	}
	if err := e.Correlate("correlate-verification", correlationID); err != nil {
		return false, "", err
	}

	sig, err := e.WaitForSignal(SignalIdentityVerified, cfg.VerificationWait)
	if err != nil {
		return false, "", err
	}
	if sig == nil {
		return false, "identity verification timed out", nil
	}

	var payload IdentityVerifiedPayload
	if err := json.Unmarshal(sig.Payload, &payload); err != nil {
		return false, "", fmt.Errorf("order: decode verification payload: %w", err)
	}

	if payload.Outcome != VerificationApproved {
		reason := payload.Reason
		if reason == "" {
			reason = "identity verification " + payload.Outcome
		}

		return false, reason, nil
	}

	return true, "", nil
}

// pollVenueOrder polls the venue on an exponential schedule until a
// terminal order status, returning the last observed order. On budget
// exhaustion the last order is returned with ErrMaxAttemptsReached.
func pollVenueOrder(e *saga.Execution, cfg Config, orderID id.OrderID) (*venue.Order, error) {
	interval := cfg.OrderPollInitial
	var last *venue.Order

	for attempt := 1; attempt <= cfg.OrderPollCap; attempt++ {
		if err := e.SetVar(VarPollAttempt, attempt); err != nil {
			return last, err
		}
		if err := e.SetVar(VarPollInterval, interval.String()); err != nil {
			return last, err
		}

		if err := e.Sleep(fmt.Sprintf("poll-%d", attempt), interval); err != nil {
			return last, err
		}

		out, err := saga.ExecuteActivity[activities.OrderInput, activities.OrderOutput](
			e, fmt.Sprintf("poll-order-%d", attempt), activities.NameGetOrder,
			activities.OrderInput{OrderID: orderID})
		if err != nil {
			return last, err
		}

		order := out.Order
		last = &order

		if err := e.SetVar(VarFilledQuantity, order.FilledQuantity()); err != nil {
			return last, err
		}
		if order.Status == venue.OrderStatusPartiallyFilled {
			if err := e.SetStatus(StatusPartiallyFilled); err != nil {
				return last, err
			}
		}

		if order.Status.Terminal() {
			return last, nil
		}

		interval = nextInterval(interval, cfg.OrderPollMax)
	}

	return last, fmt.Errorf("order %s: no terminal venue status after %d polls: %w",
		orderID, cfg.OrderPollCap, settle.ErrMaxAttemptsReached)
}

func nextInterval(current, maxInterval time.Duration) time.Duration {
	next := current * 2
	if maxInterval > 0 && next > maxInterval {
		return maxInterval
	}

	return next
}

func orderStatusFor(status venue.OrderStatus) string {
	switch status {
	case venue.OrderStatusFilled:
		return StatusFilled
	case venue.OrderStatusCancelled:
		return StatusCancelled
	case venue.OrderStatusRejected:
		return StatusRejected
	default:
		return StatusFailed
	}
}

// settleFills converts the actual cost into a debit and returns the
// unused reservation: capture when anything filled, full release
// otherwise. Shielded; settlement of known fills proceeds even while a
// cancellation is pending.
func settleFills(e *saga.Execution, hold activities.PlaceHoldOutput, final *venue.Order) (decimal.Decimal, decimal.Decimal, error) {
	cost := decimal.Zero
	if final != nil {
		cost = final.Cost()
	}

	err := e.Shield(func() error {
		if cost.GreaterThan(decimal.Zero) {
			_, cerr := saga.ExecuteActivity[activities.CaptureHoldInput, activities.CaptureHoldOutput](
				e, "capture-hold", activities.NameCaptureHold, activities.CaptureHoldInput{
					HoldID: hold.HoldID,
					Amount: cost,
				})

			return cerr
		}

		_, rerr := saga.ExecuteActivity[activities.ReleaseHoldInput, activities.ReleaseHoldOutput](
			e, "release-hold", activities.NameReleaseHold,
			activities.ReleaseHoldInput{HoldID: hold.HoldID})

		return rerr
	})
	if err != nil {
		return cost, decimal.Zero, err
	}

	released := hold.Amount.Sub(cost)
	if err := e.SetVar(VarCost, cost); err != nil {
		return cost, released, err
	}

	return cost, released, nil
}

// settleOrder runs the shared terminal path: settle fills, record the
// result, notify the user.
func settleOrder(e *saga.Execution, in OrderInput, hold activities.PlaceHoldOutput, final *venue.Order, status, reason string) error {
	cost, released, err := settleFills(e, hold, final)
	if err != nil {
		return failOrder(e, in, hold, err)
	}

	result := OrderResult{
		Status:     status,
		HoldID:     hold.HoldID,
		HoldAmount: hold.Amount,
		Cost:       cost,
		Released:   released,
		Reason:     reason,
	}
	if final != nil {
		result.OrderID = final.ID
		result.FilledQuantity = final.FilledQuantity()
	}

	return finishOrder(e, in, result)
}

// finishOrder records the terminal status and output and notifies the
// user. Domain outcomes (filled, rejected, cancelled) are completed
// runs distinguished by status.
func finishOrder(e *saga.Execution, in OrderInput, result OrderResult) error {
	if err := e.SetStatus(result.Status); err != nil {
		return err
	}
	if err := e.SetOutput(result); err != nil {
		return err
	}

	notifyUser(e, "notify", activities.Notification{
		Account:  in.Account,
		Template: "order." + result.Status,
		Metadata: map[string]string{
			"market": in.Market,
			"status": result.Status,
			"reason": result.Reason,
		},
	})

	return nil
}

// failOrder releases the hold before propagating an unexpected
// failure, so no reservation outlives the run.
func failOrder(e *saga.Execution, in OrderInput, hold activities.PlaceHoldOutput, cause error) error {
	relErr := e.Shield(func() error {
		_, err := saga.ExecuteActivity[activities.ReleaseHoldInput, activities.ReleaseHoldOutput](
			e, "release-hold", activities.NameReleaseHold,
			activities.ReleaseHoldInput{HoldID: hold.HoldID})

		return err
	})
	if relErr != nil && !errors.Is(relErr, settle.ErrHoldReleased) {
		return errors.Join(cause, relErr)
	}

	if err := e.SetStatus(StatusFailed); err != nil {
		return err
	}

	notifyUser(e, "notify", activities.Notification{
		Account:  in.Account,
		Template: "order." + StatusFailed,
		Metadata: map[string]string{"market": in.Market, "reason": cause.Error()},
	})

	return cause
}

// notifyUser dispatches a notification as a shielded checkpointed
// activity. Delivery problems surface through step hooks; they never
// change the saga outcome.
func notifyUser(e *saga.Execution, step string, n activities.Notification) {
	_ = e.Shield(func() error {
		_, err := saga.ExecuteActivity[activities.Notification, activities.NotifyOutput](
			e, step, activities.NameNotify, n)

		return err
	})
}
