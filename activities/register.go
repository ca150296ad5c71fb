package activities

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/aksrustagi/settle"
	"github.com/aksrustagi/settle/activity"
	"github.com/aksrustagi/settle/ledger"
	"github.com/aksrustagi/settle/market"
	"github.com/aksrustagi/settle/transfer"
	"github.com/aksrustagi/settle/venue"
)

// Deps carries the external clients the activity handlers call.
// Clients are constructed once per process and injected here; handlers
// never reach for globals.
type Deps struct {
	Ledger    ledger.Client
	Venue     venue.Client
	Transfers transfer.Provider
	Markets   market.Store
	Identity  Identity
	Risk      Risk
	MFA       MFA
	Notifier  Notifier
}

// Register binds every activity in the library onto reg. Handlers read
// their idempotency key from the invocation carried in the context.
func Register(reg *activity.Registry, deps Deps) {
	registerIdentity(reg, deps)
	registerLedger(reg, deps)
	registerVenue(reg, deps)
	registerTransfer(reg, deps)
	registerMFA(reg, deps)
	registerNotify(reg, deps)
	registerMarket(reg, deps)
}

// idemKey returns the deterministic idempotency key for the current
// invocation, optionally suffixed when one handler performs several
// external effects.
func idemKey(ctx context.Context, suffix string) string {
	inv, ok := activity.FromContext(ctx)
	if !ok {
		return suffix
	}

	if suffix == "" {
		return inv.ID
	}

	return inv.ID + ":" + suffix
}

func registerIdentity(reg *activity.Registry, deps Deps) {
	activity.RegisterDefinition(reg, activity.NewActivity(NameCheckEligibility,
		func(ctx context.Context, in EligibilityInput) (EligibilityResult, error) {
			result, err := deps.Identity.CheckEligibility(ctx, in)
			if err != nil {
				return EligibilityResult{}, fmt.Errorf("check eligibility: %w", err)
			}

			return *result, nil
		}))

	activity.RegisterDefinition(reg, activity.NewActivity(NameScoreWithdrawal,
		func(ctx context.Context, in ScoreWithdrawalInput) (RiskResult, error) {
			result, err := deps.Risk.ScoreWithdrawal(ctx, in)
			if err != nil {
				return RiskResult{}, fmt.Errorf("score withdrawal: %w", err)
			}

			return *result, nil
		}))
}

func registerLedger(reg *activity.Registry, deps Deps) {
	activity.RegisterDefinition(reg, activity.NewActivity(NamePlaceHold,
		func(ctx context.Context, in PlaceHoldInput) (PlaceHoldOutput, error) {
			hold, err := deps.Ledger.PlaceHold(ctx, ledger.PlaceHoldRequest{
				Account:        in.Account,
				Amount:         in.Amount,
				Reference:      in.Reference,
				IdempotencyKey: idemKey(ctx, ""),
			})
			if err != nil {
				// Insufficient balance is a policy outcome, not a
				// transient fault.
				if errors.Is(err, settle.ErrInsufficientFunds) {
					return PlaceHoldOutput{}, activity.Terminal(err)
				}

				return PlaceHoldOutput{}, err
			}

			return PlaceHoldOutput{HoldID: hold.ID, Amount: hold.Amount}, nil
		}))

	activity.RegisterDefinition(reg, activity.NewActivity(NameReleaseHold,
		func(ctx context.Context, in ReleaseHoldInput) (ReleaseHoldOutput, error) {
			err := deps.Ledger.ReleaseHold(ctx, in.HoldID, idemKey(ctx, ""))
			if err != nil {
				if errors.Is(err, settle.ErrHoldNotFound) || errors.Is(err, settle.ErrHoldReleased) {
					return ReleaseHoldOutput{}, activity.Terminal(err)
				}

				return ReleaseHoldOutput{}, err
			}

			return ReleaseHoldOutput{}, nil
		}))

	activity.RegisterDefinition(reg, activity.NewActivity(NameCaptureHold,
		func(ctx context.Context, in CaptureHoldInput) (CaptureHoldOutput, error) {
			hold, err := deps.Ledger.GetHold(ctx, in.HoldID)
			if err != nil {
				if errors.Is(err, settle.ErrHoldNotFound) {
					return CaptureHoldOutput{}, activity.Terminal(err)
				}

				return CaptureHoldOutput{}, err
			}

			if err := deps.Ledger.CaptureHold(ctx, in.HoldID, in.Amount, idemKey(ctx, "")); err != nil {
				if errors.Is(err, settle.ErrHoldReleased) {
					return CaptureHoldOutput{}, activity.Terminal(err)
				}

				return CaptureHoldOutput{}, err
			}

			return CaptureHoldOutput{Released: hold.Amount.Sub(in.Amount)}, nil
		}))

	activity.RegisterDefinition(reg, activity.NewActivity(NameCredit,
		func(ctx context.Context, in CreditInput) (CreditOutput, error) {
			if err := deps.Ledger.Credit(ctx, in.Account, in.Amount, idemKey(ctx, "")); err != nil {
				return CreditOutput{}, err
			}

			return CreditOutput{}, nil
		}))

	activity.RegisterDefinition(reg, activity.NewActivity(NameDebit,
		func(ctx context.Context, in DebitInput) (DebitOutput, error) {
			if err := deps.Ledger.Debit(ctx, in.Account, in.Amount, idemKey(ctx, "")); err != nil {
				if errors.Is(err, settle.ErrInsufficientFunds) {
					return DebitOutput{}, activity.Terminal(err)
				}

				return DebitOutput{}, err
			}

			return DebitOutput{}, nil
		}))

	activity.RegisterDefinition(reg, activity.NewActivity(NameGetBalance,
		func(ctx context.Context, in GetBalanceInput) (GetBalanceOutput, error) {
			balance, err := deps.Ledger.Balance(ctx, in.Account)
			if err != nil {
				return GetBalanceOutput{}, err
			}

			return GetBalanceOutput{Balance: balance}, nil
		}))
}

func registerVenue(reg *activity.Registry, deps Deps) {
	activity.RegisterDefinition(reg, activity.NewActivity(NameSubmitOrder,
		func(ctx context.Context, in SubmitOrderInput) (SubmitOrderOutput, error) {
			order, err := deps.Venue.SubmitOrder(ctx, venue.SubmitRequest{
				ClientOrderID: in.ClientOrderID,
				Account:       in.Account,
				Market:        in.Market,
				Outcome:       in.Outcome,
				Side:          in.Side,
				Type:          in.Type,
				Quantity:      in.Quantity,
				LimitPrice:    in.LimitPrice,
			})
			if err != nil {
				return SubmitOrderOutput{}, fmt.Errorf("submit order: %w", err)
			}

			return SubmitOrderOutput{OrderID: order.ID, Status: order.Status}, nil
		}))

	activity.RegisterDefinition(reg, activity.NewActivity(NameCancelOrder,
		func(ctx context.Context, in OrderInput) (OrderOutput, error) {
			order, err := deps.Venue.CancelOrder(ctx, in.OrderID)
			if err != nil {
				if errors.Is(err, settle.ErrOrderNotFound) {
					return OrderOutput{}, activity.Terminal(err)
				}

				return OrderOutput{}, err
			}

			return OrderOutput{Order: *order}, nil
		}))

	activity.RegisterDefinition(reg, activity.NewActivity(NameGetOrder,
		func(ctx context.Context, in OrderInput) (OrderOutput, error) {
			order, err := deps.Venue.GetOrder(ctx, in.OrderID)
			if err != nil {
				if errors.Is(err, settle.ErrOrderNotFound) {
					return OrderOutput{}, activity.Terminal(err)
				}

				return OrderOutput{}, err
			}

			return OrderOutput{Order: *order}, nil
		}))
}

func registerTransfer(reg *activity.Registry, deps Deps) {
	activity.RegisterDefinition(reg, activity.NewActivity(NameInitiateTransfer,
		func(ctx context.Context, in InitiateTransferInput) (InitiateTransferOutput, error) {
			xfer, err := deps.Transfers.Initiate(ctx, transfer.InitiateRequest{
				Account:        in.Account,
				Amount:         in.Amount,
				Direction:      in.Direction,
				Destination:    in.Destination,
				Reference:      in.Reference,
				IdempotencyKey: idemKey(ctx, ""),
			})
			if err != nil {
				return InitiateTransferOutput{}, fmt.Errorf("initiate transfer: %w", err)
			}

			return InitiateTransferOutput{TransferID: xfer.ID, Status: xfer.Status}, nil
		}))

	activity.RegisterDefinition(reg, activity.NewActivity(NameGetTransfer,
		func(ctx context.Context, in GetTransferInput) (GetTransferOutput, error) {
			xfer, err := deps.Transfers.Get(ctx, in.TransferID)
			if err != nil {
				if errors.Is(err, settle.ErrTransferNotFound) {
					return GetTransferOutput{}, activity.Terminal(err)
				}

				return GetTransferOutput{}, err
			}

			return GetTransferOutput{Transfer: *xfer}, nil
		}))
}

func registerMFA(reg *activity.Registry, deps Deps) {
	activity.RegisterDefinition(reg, activity.NewActivity(NameMFAChallenge,
		func(ctx context.Context, in MFAChallengeInput) (MFAChallengeOutput, error) {
			challengeID, err := deps.MFA.Challenge(ctx, in.Account)
			if err != nil {
				return MFAChallengeOutput{}, fmt.Errorf("mfa challenge: %w", err)
			}

			return MFAChallengeOutput{ChallengeID: challengeID}, nil
		}))

	activity.RegisterDefinition(reg, activity.NewActivity(NameMFAVerify,
		func(ctx context.Context, in MFAVerifyInput) (MFAVerifyOutput, error) {
			verified, err := deps.MFA.Verify(ctx, in.ChallengeID, in.Code)
			if err != nil {
				return MFAVerifyOutput{}, fmt.Errorf("mfa verify: %w", err)
			}

			return MFAVerifyOutput{Verified: verified}, nil
		}))
}

func registerNotify(reg *activity.Registry, deps Deps) {
	activity.RegisterDefinition(reg, activity.NewActivity(NameNotify,
		func(ctx context.Context, in Notification) (NotifyOutput, error) {
			if err := deps.Notifier.Send(ctx, in); err != nil {
				return NotifyOutput{}, fmt.Errorf("notify: %w", err)
			}

			return NotifyOutput{}, nil
		}))
}

func registerMarket(reg *activity.Registry, deps Deps) {
	activity.RegisterDefinition(reg, activity.NewActivity(NameGetMarket,
		func(ctx context.Context, in GetMarketInput) (GetMarketOutput, error) {
			mkt, err := deps.Markets.GetMarket(ctx, in.MarketID)
			if err != nil {
				if errors.Is(err, settle.ErrMarketNotFound) {
					return GetMarketOutput{}, activity.Terminal(err)
				}

				return GetMarketOutput{}, err
			}

			return GetMarketOutput{Market: *mkt}, nil
		}))

	activity.RegisterDefinition(reg, activity.NewActivity(NameListPositions,
		func(ctx context.Context, in ListPositionsInput) (ListPositionsOutput, error) {
			positions, err := deps.Markets.ListOpenPositions(ctx, in.MarketID)
			if err != nil {
				return ListPositionsOutput{}, fmt.Errorf("list positions: %w", err)
			}

			out := ListPositionsOutput{Positions: make([]market.Position, 0, len(positions))}
			for _, pos := range positions {
				out.Positions = append(out.Positions, *pos)
			}

			return out, nil
		}))

	activity.RegisterDefinition(reg, activity.NewActivity(NameSettlePosition,
		func(ctx context.Context, in SettlePositionInput) (SettlePositionOutput, error) {
			paid := decimal.Zero

			if in.Position.Outcome == in.WinningOutcome {
				paid = in.PayoutPerShare.Mul(decimal.NewFromInt(in.Position.Quantity))
				if err := deps.Ledger.Credit(ctx, in.Position.Account, paid, idemKey(ctx, "credit")); err != nil {
					return SettlePositionOutput{}, fmt.Errorf("payout position %s: %w", in.Position.ID, err)
				}
			}

			// Losers are closed without ledger movement: the stake was
			// collected at trade time.
			if err := deps.Markets.ClosePosition(ctx, in.Position.ID, idemKey(ctx, "close")); err != nil {
				if errors.Is(err, settle.ErrEntryNotFound) {
					return SettlePositionOutput{}, activity.Terminal(fmt.Errorf("close position %s: %w", in.Position.ID, err))
				}

				return SettlePositionOutput{}, fmt.Errorf("close position %s: %w", in.Position.ID, err)
			}

			return SettlePositionOutput{Paid: paid}, nil
		}))

	activity.RegisterDefinition(reg, activity.NewActivity(NameMarkSettled,
		func(ctx context.Context, in MarkSettledInput) (MarkSettledOutput, error) {
			if err := deps.Markets.MarkSettled(ctx, in.MarketID); err != nil {
				// Already settled means a replayed attempt; the effect
				// stands.
				if errors.Is(err, settle.ErrMarketSettled) {
					return MarkSettledOutput{}, nil
				}

				return MarkSettledOutput{}, err
			}

			return MarkSettledOutput{}, nil
		}))
}
