// Package sagas defines the four durable workflows of the venue
// integration layer: order execution, withdrawal, deposit, and
// settlement. Each saga is a deterministic handler over the saga
// substrate; all external effects go through the activity library so
// replays after a crash skip completed work.
package sagas

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aksrustagi/settle/review"
	"github.com/aksrustagi/settle/saga"
)

// Saga names used to start runs.
const (
	SagaOrder      = "order-execution"
	SagaWithdrawal = "withdrawal"
	SagaDeposit    = "deposit"
	SagaSettlement = "settlement"
)

// Signal names the sagas wait on. Cancellation uses the substrate's
// reserved signal.
const (
	// SignalIdentityVerified carries the outcome of an async identity
	// verification, routed to the waiting run by correlation id.
	SignalIdentityVerified = "identity.verified"

	// SignalMFACode carries the user-provided step-up code.
	SignalMFACode = "mfa.code"
)

// IdentityVerifiedPayload is the body of SignalIdentityVerified.
type IdentityVerifiedPayload struct {
	CorrelationID string `json:"correlation_id"`
	Outcome       string `json:"outcome"`
	Reason        string `json:"reason,omitempty"`
}

// VerificationApproved is the outcome value that lets a pending order
// proceed.
const VerificationApproved = "approved"

// MFACodePayload is the body of SignalMFACode.
type MFACodePayload struct {
	Code string `json:"code"`
}

// Saga-specific status values, surfaced through queries. These are
// distinct from the substrate's run lifecycle state: a rejected
// withdrawal is a completed run whose status is "rejected".
const (
	StatusValidating          = "validating"
	StatusPendingVerification = "pending_verification"
	StatusHoldingFunds        = "holding_funds"
	StatusSubmitted           = "submitted"
	StatusPending             = "pending"
	StatusPartiallyFilled     = "partially_filled"
	StatusFilled              = "filled"
	StatusFraudCheck          = "fraud_check"
	StatusCoolingPeriod       = "cooling_period"
	StatusAwaiting2FA         = "awaiting_2fa"
	StatusExecuting           = "executing"
	StatusInitiating          = "initiating"
	StatusProcessing          = "processing"
	StatusCompleted           = "completed"
	StatusCompletedWithErrors = "completed_with_errors"
	StatusReturned            = "returned"
	StatusCancelled           = "cancelled"
	StatusRejected            = "rejected"
	StatusFailed              = "failed"
)

// Var keys exposed through query snapshots.
const (
	VarHoldID         = "hold_id"
	VarOrderID        = "order_id"
	VarTransferID     = "transfer_id"
	VarCorrelationID  = "verification_correlation_id"
	VarFilledQuantity = "filled_quantity"
	VarCost           = "cost"
	VarPollAttempt    = "poll_attempt"
	VarPollInterval   = "poll_interval"
	VarErrors         = "errors"
)

// Config tunes the sagas' thresholds, waits, and poll budgets.
type Config struct {
	// MarketOrderBuffer is the safety margin applied to a market
	// order's estimated cost before placing the hold.
	MarketOrderBuffer decimal.Decimal

	// OrderPollInitial/OrderPollMax bound the exponential schedule for
	// venue order polling; OrderPollCap bounds the attempt count.
	OrderPollInitial time.Duration
	OrderPollMax     time.Duration
	OrderPollCap     int

	// VerificationWait bounds the wait for an async identity
	// verification outcome.
	VerificationWait time.Duration

	// LargeWithdrawalThreshold is the amount at or above which a
	// withdrawal requires the cooling-off wait and step-up
	// confirmation.
	LargeWithdrawalThreshold decimal.Decimal

	// CoolingOffPeriod is the mandatory wait before a large withdrawal
	// executes.
	CoolingOffPeriod time.Duration

	// MFAWait bounds the wait for the step-up code.
	MFAWait time.Duration

	// WithdrawalPollInterval/WithdrawalPollCap bound transfer polling
	// after a withdrawal executes.
	WithdrawalPollInterval time.Duration
	WithdrawalPollCap      int

	// DepositPollInterval/DepositPollCap bound transfer polling for
	// deposits.
	DepositPollInterval time.Duration
	DepositPollCap      int
}

// DefaultConfig returns production-shaped defaults: $10k large-amount
// threshold, 24h cooling-off, 15m step-up window, 10% market-order
// buffer, hourly deposit polls for five days.
func DefaultConfig() Config {
	return Config{
		MarketOrderBuffer:        decimal.NewFromFloat(0.10),
		OrderPollInitial:         time.Second,
		OrderPollMax:             time.Minute,
		OrderPollCap:             720,
		VerificationWait:         24 * time.Hour,
		LargeWithdrawalThreshold: decimal.NewFromInt(10_000),
		CoolingOffPeriod:         24 * time.Hour,
		MFAWait:                  15 * time.Minute,
		WithdrawalPollInterval:   time.Minute,
		WithdrawalPollCap:        120,
		DepositPollInterval:      time.Hour,
		DepositPollCap:           120,
	}
}

// Deps carries the collaborators the saga handlers use directly.
// Activities get their own dependencies at registration time.
type Deps struct {
	// Reviews receives fraud flags and unreconciled-transfer entries.
	// Optional; nil disables review routing.
	Reviews *review.Service
}

// RegisterAll registers the four sagas on reg.
func RegisterAll(reg *saga.Registry, cfg Config, deps Deps) {
	saga.RegisterDefinition(reg, NewOrderSaga(cfg, deps))
	saga.RegisterDefinition(reg, NewWithdrawalSaga(cfg, deps))
	saga.RegisterDefinition(reg, NewDepositSaga(cfg, deps))
	saga.RegisterDefinition(reg, NewSettlementSaga(cfg, deps))
}

// flagReview pushes a manual-review entry as a checkpointed step, so a
// replay does not file the same entry twice.
func flagReview(e *saga.Execution, reviews *review.Service, step, kind, subject string, flagErr error, details map[string]any) {
	if reviews == nil {
		return
	}

	// Review routing is best-effort; failures surface through step
	// hooks and never change the saga outcome. Shielded so the entry
	// is filed even when the run is unwinding a cancellation.
	_ = e.Shield(func() error {
		return e.Step(step, func(ctx context.Context) error {
			_, err := reviews.Flag(ctx, e.Run().ID, e.Run().Name, kind, subject, flagErr, details)

			return err
		})
	})
}
