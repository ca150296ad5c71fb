package sagas

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/aksrustagi/settle"
	"github.com/aksrustagi/settle/activities"
	"github.com/aksrustagi/settle/market"
	"github.com/aksrustagi/settle/saga"
)

// SettlementInput starts a settlement run, triggered once per resolved
// market.
type SettlementInput struct {
	MarketID       string `json:"market_id"`
	WinningOutcome string `json:"winning_outcome"`
}

// SettlementResult is the terminal outcome recorded as the run output.
type SettlementResult struct {
	Status    string          `json:"status"`
	MarketID  string          `json:"market_id"`
	Positions int             `json:"positions"`
	Paid      decimal.Decimal `json:"paid"`
	Errors    []string        `json:"errors,omitempty"`
}

// NewSettlementSaga builds the settlement saga: validate the market and
// outcome, then process every open position independently so one bad
// position cannot block payout to everyone else. The market is marked
// settled only after every position has been attempted.
func NewSettlementSaga(cfg Config, deps Deps) *saga.Definition[SettlementInput] {
	return saga.NewSaga(SagaSettlement, func(e *saga.Execution, in SettlementInput) error {
		return runSettlement(e, cfg, deps, in)
	})
}

func runSettlement(e *saga.Execution, _ Config, _ Deps, in SettlementInput) error {
	if err := e.SetStatus(StatusPending); err != nil {
		return err
	}

	mkt, err := saga.ExecuteActivity[activities.GetMarketInput, activities.GetMarketOutput](
		e, "market", activities.NameGetMarket,
		activities.GetMarketInput{MarketID: in.MarketID})
	if err != nil {
		return err
	}

	if mkt.Market.Status == market.MarketStatusSettled {
		if serr := e.SetStatus(StatusFailed); serr != nil {
			return serr
		}

		return fmt.Errorf("settlement: market %s: %w", in.MarketID, settle.ErrMarketSettled)
	}
	if !mkt.Market.HasOutcome(in.WinningOutcome) {
		if serr := e.SetStatus(StatusFailed); serr != nil {
			return serr
		}

		return fmt.Errorf("settlement: %q is not a defined outcome of market %s",
			in.WinningOutcome, in.MarketID)
	}

	if err := e.SetStatus(StatusProcessing); err != nil {
		return err
	}

	listed, err := saga.ExecuteActivity[activities.ListPositionsInput, activities.ListPositionsOutput](
		e, "positions", activities.NameListPositions,
		activities.ListPositionsInput{MarketID: in.MarketID})
	if err != nil {
		return err
	}

	paid := decimal.Zero
	var positionErrs []string

	for _, pos := range listed.Positions {
		out, perr := saga.ExecuteActivity[activities.SettlePositionInput, activities.SettlePositionOutput](
			e, "settle:"+pos.ID.String(), activities.NameSettlePosition,
			activities.SettlePositionInput{
				Position:       pos,
				WinningOutcome: in.WinningOutcome,
				PayoutPerShare: mkt.Market.PayoutPerShare,
			})
		if perr != nil {
			if errors.Is(perr, saga.ErrCancelled) {
				return perr
			}

			// Per-position isolation: capture the failure and keep
			// going.
			positionErrs = append(positionErrs, fmt.Sprintf("%s: %v", pos.ID, perr))
			if verr := e.SetVar(VarErrors, positionErrs); verr != nil {
				return verr
			}

			continue
		}

		paid = paid.Add(out.Paid)
	}

	// Settled only after every position was attempted.
	if _, err := saga.ExecuteActivity[activities.MarkSettledInput, activities.MarkSettledOutput](
		e, "mark-settled", activities.NameMarkSettled,
		activities.MarkSettledInput{MarketID: in.MarketID}); err != nil {
		return err
	}

	status := StatusCompleted
	if len(positionErrs) > 0 {
		status = StatusCompletedWithErrors
	}

	if err := e.SetStatus(status); err != nil {
		return err
	}

	return e.SetOutput(SettlementResult{
		Status:    status,
		MarketID:  in.MarketID,
		Positions: len(listed.Positions),
		Paid:      paid,
		Errors:    positionErrs,
	})
}
