package sagas

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/aksrustagi/settle"
	"github.com/aksrustagi/settle/activities"
	"github.com/aksrustagi/settle/id"
	"github.com/aksrustagi/settle/review"
	"github.com/aksrustagi/settle/saga"
	"github.com/aksrustagi/settle/transfer"
)

// WithdrawalInput starts a withdrawal run.
type WithdrawalInput struct {
	Account     string          `json:"account"`
	Amount      decimal.Decimal `json:"amount"`
	Destination string          `json:"destination"`
}

// WithdrawalResult is the terminal outcome recorded as the run output.
type WithdrawalResult struct {
	Status     string          `json:"status"`
	HoldID     id.HoldID       `json:"hold_id,omitzero"`
	TransferID id.TransferID   `json:"transfer_id,omitzero"`
	Amount     decimal.Decimal `json:"amount"`
	Refunded   bool            `json:"refunded"`
	Reason     string          `json:"reason,omitempty"`
}

// NewWithdrawalSaga builds the withdrawal saga: validate, fraud-screen,
// reserve funds, enforce the cooling-off wait and step-up confirmation
// for large amounts, debit, execute the transfer, monitor to a terminal
// state, refund on delivery failure.
func NewWithdrawalSaga(cfg Config, deps Deps) *saga.Definition[WithdrawalInput] {
	return saga.NewSaga(SagaWithdrawal, func(e *saga.Execution, in WithdrawalInput) error {
		return runWithdrawal(e, cfg, deps, in)
	})
}

func runWithdrawal(e *saga.Execution, cfg Config, deps Deps, in WithdrawalInput) error {
	if err := e.SetStatus(StatusValidating); err != nil {
		return err
	}

	if !in.Amount.GreaterThan(decimal.Zero) {
		return finishWithdrawal(e, in, WithdrawalResult{
			Status: StatusRejected, Amount: in.Amount, Reason: "amount must be positive",
		})
	}
	if in.Destination == "" {
		return finishWithdrawal(e, in, WithdrawalResult{
			Status: StatusRejected, Amount: in.Amount, Reason: "destination is required",
		})
	}

	if err := e.SetStatus(StatusFraudCheck); err != nil {
		return err
	}

	risk, err := saga.ExecuteActivity[activities.ScoreWithdrawalInput, activities.RiskResult](
		e, "fraud-check", activities.NameScoreWithdrawal, activities.ScoreWithdrawalInput{
			Account:     in.Account,
			Amount:      in.Amount,
			Destination: in.Destination,
		})
	if err != nil {
		return err
	}

	if risk.Flagged {
		// Compliance rejection: manual review path, never proceeds to
		// fund movement and is never retried.
		flagReview(e, deps.Reviews, "flag-fraud", review.KindFraudFlag, in.Account,
			fmt.Errorf("fraud score %.2f: %s", risk.Score, risk.Reason),
			map[string]any{"amount": in.Amount.String(), "destination": in.Destination})

		return finishWithdrawal(e, in, WithdrawalResult{
			Status: StatusRejected, Amount: in.Amount, Reason: "flagged for manual review",
		})
	}

	hold, err := saga.ExecuteActivity[activities.PlaceHoldInput, activities.PlaceHoldOutput](
		e, "place-hold", activities.NamePlaceHold, activities.PlaceHoldInput{
			Account:   in.Account,
			Amount:    in.Amount,
			Reference: e.RunID(),
		})
	if err != nil {
		if errors.Is(err, settle.ErrInsufficientFunds) {
			return finishWithdrawal(e, in, WithdrawalResult{
				Status: StatusRejected, Amount: in.Amount, Reason: "insufficient available balance",
			})
		}

		return err
	}
	if err := e.SetVar(VarHoldID, hold.HoldID); err != nil {
		return err
	}

	// Large withdrawals pass two gates before any money moves: the
	// cooling-off wait, then a verified step-up code.
	if in.Amount.GreaterThanOrEqual(cfg.LargeWithdrawalThreshold) {
		done, gerr := largeWithdrawalGates(e, cfg, in, hold)
		if gerr != nil {
			return failWithdrawalPreDebit(e, in, hold, gerr)
		}
		if done {
			return nil
		}
	}

	// From here the run is committed: the debit and everything after
	// it proceed even if a cancellation request arrives.
	return e.Shield(func() error {
		return executeWithdrawal(e, cfg, deps, in, hold)
	})
}

// largeWithdrawalGates runs the cooling-off wait and the step-up
// confirmation. It reports done=true when the saga reached a terminal
// outcome inside a gate (cancelled, timed out, or wrong code).
func largeWithdrawalGates(e *saga.Execution, cfg Config, in WithdrawalInput, hold activities.PlaceHoldOutput) (bool, error) {
	if err := e.SetStatus(StatusCoolingPeriod); err != nil {
		return false, err
	}

	if err := e.Sleep("cooling-off", cfg.CoolingOffPeriod); err != nil {
		if errors.Is(err, saga.ErrCancelled) {
			return true, releaseAndFinish(e, in, hold, StatusCancelled, "cancelled during cooling-off")
		}

		return false, err
	}

	if e.CancelRequested() {
		return true, releaseAndFinish(e, in, hold, StatusCancelled, "cancelled during cooling-off")
	}

	if err := e.SetStatus(StatusAwaiting2FA); err != nil {
		return false, err
	}

	challenge, err := saga.ExecuteActivity[activities.MFAChallengeInput, activities.MFAChallengeOutput](
		e, "mfa-challenge", activities.NameMFAChallenge,
		activities.MFAChallengeInput{Account: in.Account})
	if err != nil {
		if errors.Is(err, saga.ErrCancelled) {
			return true, releaseAndFinish(e, in, hold, StatusCancelled, "cancelled awaiting step-up")
		}

		return false, err
	}

	sig, err := e.WaitForSignal(SignalMFACode, cfg.MFAWait)
	if err != nil {
		if errors.Is(err, saga.ErrCancelled) {
			return true, releaseAndFinish(e, in, hold, StatusCancelled, "cancelled awaiting step-up")
		}

		return false, err
	}
	if sig == nil {
		return true, releaseAndFinish(e, in, hold, StatusCancelled, "step-up confirmation timed out")
	}

	var payload MFACodePayload
	if err := json.Unmarshal(sig.Payload, &payload); err != nil {
		return false, fmt.Errorf("withdrawal: decode step-up payload: %w", err)
	}

	verified, err := saga.ExecuteActivity[activities.MFAVerifyInput, activities.MFAVerifyOutput](
		e, "mfa-verify", activities.NameMFAVerify, activities.MFAVerifyInput{
			ChallengeID: challenge.ChallengeID,
			Code:        payload.Code,
		})
	if err != nil {
		if errors.Is(err, saga.ErrCancelled) {
			return true, releaseAndFinish(e, in, hold, StatusCancelled, "cancelled awaiting step-up")
		}

		return false, err
	}
	if !verified.Verified {
		return true, releaseAndFinish(e, in, hold, StatusRejected, "invalid step-up code")
	}

	return false, nil
}

// executeWithdrawal converts the hold into a debit, executes the
// transfer, and monitors it to a terminal state. Runs shielded: after
// the debit the only ways out are delivery, refund, or manual review.
func executeWithdrawal(e *saga.Execution, cfg Config, deps Deps, in WithdrawalInput, hold activities.PlaceHoldOutput) error {
	if err := e.SetStatus(StatusExecuting); err != nil {
		return err
	}

	if _, err := saga.ExecuteActivity[activities.CaptureHoldInput, activities.CaptureHoldOutput](
		e, "capture-hold", activities.NameCaptureHold, activities.CaptureHoldInput{
			HoldID: hold.HoldID,
			Amount: in.Amount,
		}); err != nil {
		// Nothing moved; the reservation must not outlive the run.
		return failWithdrawalPreDebit(e, in, hold, err)
	}

	xfer, err := saga.ExecuteActivity[activities.InitiateTransferInput, activities.InitiateTransferOutput](
		e, "initiate-transfer", activities.NameInitiateTransfer, activities.InitiateTransferInput{
			Account:     in.Account,
			Amount:      in.Amount,
			Direction:   transfer.DirectionWithdrawal,
			Destination: in.Destination,
			Reference:   e.RunID(),
		})
	if err != nil {
		// Debited but never handed to the rails: refund in full.
		return refundAndFail(e, in, hold, nil, err)
	}

	if err := e.SetVar(VarTransferID, xfer.TransferID); err != nil {
		return err
	}
	if err := e.SetStatus(StatusPending); err != nil {
		return err
	}

	for attempt := 1; attempt <= cfg.WithdrawalPollCap; attempt++ {
		if err := e.SetVar(VarPollAttempt, attempt); err != nil {
			return err
		}
		if err := e.Sleep(fmt.Sprintf("poll-%d", attempt), cfg.WithdrawalPollInterval); err != nil {
			return err
		}

		out, err := saga.ExecuteActivity[activities.GetTransferInput, activities.GetTransferOutput](
			e, fmt.Sprintf("poll-transfer-%d", attempt), activities.NameGetTransfer,
			activities.GetTransferInput{TransferID: xfer.TransferID})
		if err != nil {
			// The transfer may still deliver; never refund blind.
			flagReview(e, deps.Reviews, "flag-unreconciled", review.KindUnreconciled,
				xfer.TransferID.String(), err, map[string]any{"amount": in.Amount.String()})
			if serr := e.SetStatus(StatusFailed); serr != nil {
				return serr
			}

			return err
		}

		switch out.Transfer.Status {
		case transfer.StatusSettled:
			return finishWithdrawal(e, in, WithdrawalResult{
				Status:     StatusCompleted,
				HoldID:     hold.HoldID,
				TransferID: xfer.TransferID,
				Amount:     in.Amount,
			})

		case transfer.StatusReturned, transfer.StatusFailed:
			// Debited but not delivered: credit the ledger back.
			return refundAndFail(e, in, hold, &xfer.TransferID,
				fmt.Errorf("withdrawal: transfer %s %s: %s",
					xfer.TransferID, out.Transfer.Status, out.Transfer.Reason))

		default:
			// Still in flight.
		}
	}

	// Poll budget exhausted with the transfer still pending. The funds
	// may yet deliver, so there is no automatic refund; an operator
	// reconciles via the review queue and the audit log.
	exhausted := fmt.Errorf("withdrawal: transfer %s still pending after %d polls: %w",
		xfer.TransferID, cfg.WithdrawalPollCap, settle.ErrMaxAttemptsReached)
	flagReview(e, deps.Reviews, "flag-unreconciled", review.KindUnreconciled,
		xfer.TransferID.String(), exhausted, map[string]any{"amount": in.Amount.String()})
	if err := e.SetStatus(StatusFailed); err != nil {
		return err
	}

	return exhausted
}

// refundAndFail credits the debited amount back and fails the run.
func refundAndFail(e *saga.Execution, in WithdrawalInput, hold activities.PlaceHoldOutput, transferID *id.TransferID, cause error) error {
	if _, err := saga.ExecuteActivity[activities.CreditInput, activities.CreditOutput](
		e, "refund", activities.NameCredit, activities.CreditInput{
			Account: in.Account,
			Amount:  in.Amount,
		}); err != nil {
		return errors.Join(cause, err)
	}

	result := WithdrawalResult{
		Status:   StatusFailed,
		HoldID:   hold.HoldID,
		Amount:   in.Amount,
		Refunded: true,
		Reason:   cause.Error(),
	}
	if transferID != nil {
		result.TransferID = *transferID
	}

	if err := e.SetStatus(StatusFailed); err != nil {
		return err
	}
	if err := e.SetOutput(result); err != nil {
		return err
	}

	notifyUser(e, "notify", activities.Notification{
		Account:  in.Account,
		Template: "withdrawal." + StatusFailed,
		Metadata: map[string]string{"reason": cause.Error(), "refunded": "true"},
	})

	return cause
}

// releaseAndFinish releases the hold and records a terminal domain
// outcome (cancelled or rejected) before any money moved.
func releaseAndFinish(e *saga.Execution, in WithdrawalInput, hold activities.PlaceHoldOutput, status, reason string) error {
	err := e.Shield(func() error {
		_, rerr := saga.ExecuteActivity[activities.ReleaseHoldInput, activities.ReleaseHoldOutput](
			e, "release-hold", activities.NameReleaseHold,
			activities.ReleaseHoldInput{HoldID: hold.HoldID})

		return rerr
	})
	if err != nil {
		return err
	}

	return finishWithdrawal(e, in, WithdrawalResult{
		Status: status,
		HoldID: hold.HoldID,
		Amount: in.Amount,
		Reason: reason,
	})
}

// failWithdrawalPreDebit releases the hold before propagating an
// unexpected failure that happened before any debit. A cancellation
// surfacing here records a cancelled status, not a failed one, so the
// domain status agrees with the run's lifecycle state.
func failWithdrawalPreDebit(e *saga.Execution, in WithdrawalInput, hold activities.PlaceHoldOutput, cause error) error {
	relErr := e.Shield(func() error {
		_, err := saga.ExecuteActivity[activities.ReleaseHoldInput, activities.ReleaseHoldOutput](
			e, "release-hold", activities.NameReleaseHold,
			activities.ReleaseHoldInput{HoldID: hold.HoldID})

		return err
	})
	if relErr != nil && !errors.Is(relErr, settle.ErrHoldReleased) {
		return errors.Join(cause, relErr)
	}

	status := StatusFailed
	if errors.Is(cause, saga.ErrCancelled) {
		status = StatusCancelled
	}
	if err := e.SetStatus(status); err != nil {
		return err
	}

	return cause
}

// finishWithdrawal records the terminal status and output and notifies
// the user.
func finishWithdrawal(e *saga.Execution, in WithdrawalInput, result WithdrawalResult) error {
	if err := e.SetStatus(result.Status); err != nil {
		return err
	}
	if err := e.SetOutput(result); err != nil {
		return err
	}

	notifyUser(e, "notify", activities.Notification{
		Account:  in.Account,
		Template: "withdrawal." + result.Status,
		Metadata: map[string]string{
			"amount": in.Amount.String(),
			"status": result.Status,
			"reason": result.Reason,
		},
	})

	return nil
}
