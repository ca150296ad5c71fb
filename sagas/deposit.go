package sagas

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/aksrustagi/settle"
	"github.com/aksrustagi/settle/activities"
	"github.com/aksrustagi/settle/id"
	"github.com/aksrustagi/settle/saga"
	"github.com/aksrustagi/settle/transfer"
)

// DepositInput starts a deposit run.
type DepositInput struct {
	Account string          `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
	// Source identifies the external funding source to pull from.
	Source string `json:"source"`
}

// DepositResult is the terminal outcome recorded as the run output.
type DepositResult struct {
	Status     string          `json:"status"`
	TransferID id.TransferID   `json:"transfer_id,omitzero"`
	Amount     decimal.Decimal `json:"amount"`
	Credited   bool            `json:"credited"`
	Reason     string          `json:"reason,omitempty"`
}

// NewDepositSaga builds the deposit saga: validate, initiate a
// pull-transfer, poll on a fixed interval to a terminal status, credit
// the ledger on settlement or record the return. No hold is needed;
// funds arrive rather than leave.
func NewDepositSaga(cfg Config, _ Deps) *saga.Definition[DepositInput] {
	return saga.NewSaga(SagaDeposit, func(e *saga.Execution, in DepositInput) error {
		return runDeposit(e, cfg, in)
	})
}

func runDeposit(e *saga.Execution, cfg Config, in DepositInput) error {
	if err := e.SetStatus(StatusValidating); err != nil {
		return err
	}

	if !in.Amount.GreaterThan(decimal.Zero) {
		return finishDeposit(e, in, DepositResult{
			Status: StatusFailed, Amount: in.Amount, Reason: "amount must be positive",
		})
	}
	if in.Source == "" {
		return finishDeposit(e, in, DepositResult{
			Status: StatusFailed, Amount: in.Amount, Reason: "funding source is required",
		})
	}

	if err := e.SetStatus(StatusInitiating); err != nil {
		return err
	}

	xfer, err := saga.ExecuteActivity[activities.InitiateTransferInput, activities.InitiateTransferOutput](
		e, "initiate-transfer", activities.NameInitiateTransfer, activities.InitiateTransferInput{
			Account:     in.Account,
			Amount:      in.Amount,
			Direction:   transfer.DirectionDeposit,
			Destination: in.Source,
			Reference:   e.RunID(),
		})
	if err != nil {
		return err
	}

	if err := e.SetVar(VarTransferID, xfer.TransferID); err != nil {
		return err
	}
	if err := e.SetStatus(StatusPending); err != nil {
		return err
	}

	for attempt := 1; attempt <= cfg.DepositPollCap; attempt++ {
		if err := e.SetVar(VarPollAttempt, attempt); err != nil {
			return err
		}
		if err := e.Sleep(fmt.Sprintf("poll-%d", attempt), cfg.DepositPollInterval); err != nil {
			return err
		}

		out, err := saga.ExecuteActivity[activities.GetTransferInput, activities.GetTransferOutput](
			e, fmt.Sprintf("poll-transfer-%d", attempt), activities.NameGetTransfer,
			activities.GetTransferInput{TransferID: xfer.TransferID})
		if err != nil {
			return err
		}

		switch out.Transfer.Status {
		case transfer.StatusProcessing:
			if err := e.SetStatus(StatusProcessing); err != nil {
				return err
			}

		case transfer.StatusSettled:
			// Credit exactly once: the credit is a checkpointed
			// activity keyed by this run and step.
			if _, cerr := saga.ExecuteActivity[activities.CreditInput, activities.CreditOutput](
				e, "credit", activities.NameCredit, activities.CreditInput{
					Account: in.Account,
					Amount:  in.Amount,
				}); cerr != nil {
				return cerr
			}

			return finishDeposit(e, in, DepositResult{
				Status:     StatusCompleted,
				TransferID: xfer.TransferID,
				Amount:     in.Amount,
				Credited:   true,
			})

		case transfer.StatusReturned:
			// The ledger is never credited for a returned transfer.
			return finishDeposit(e, in, DepositResult{
				Status:     StatusReturned,
				TransferID: xfer.TransferID,
				Amount:     in.Amount,
				Reason:     out.Transfer.Reason,
			})

		case transfer.StatusFailed:
			return finishDeposit(e, in, DepositResult{
				Status:     StatusFailed,
				TransferID: xfer.TransferID,
				Amount:     in.Amount,
				Reason:     out.Transfer.Reason,
			})

		default:
			// Still pending.
		}
	}

	// No terminal status inside the poll budget is itself a terminal
	// failure: reported, never silently retried forever.
	if err := e.SetStatus(StatusFailed); err != nil {
		return err
	}
	notifyUser(e, "notify", activities.Notification{
		Account:  in.Account,
		Template: "deposit." + StatusFailed,
		Metadata: map[string]string{"reason": "transfer did not reach a terminal status"},
	})

	return fmt.Errorf("deposit: transfer %s still pending after %d polls: %w",
		xfer.TransferID, cfg.DepositPollCap, settle.ErrMaxAttemptsReached)
}

// finishDeposit records the terminal status and output and notifies
// the user with the reason.
func finishDeposit(e *saga.Execution, in DepositInput, result DepositResult) error {
	if err := e.SetStatus(result.Status); err != nil {
		return err
	}
	if err := e.SetOutput(result); err != nil {
		return err
	}

	notifyUser(e, "notify", activities.Notification{
		Account:  in.Account,
		Template: "deposit." + result.Status,
		Metadata: map[string]string{
			"amount": in.Amount.String(),
			"status": result.Status,
			"reason": result.Reason,
		},
	})

	return nil
}
