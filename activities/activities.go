// Package activities provides the typed activity library the sagas
// invoke: identity and risk checks, ledger holds and movements, venue
// order management, transfer initiation and polling, step-up
// verification, and notification dispatch.
//
// Every handler derives its idempotency key from the deterministic
// invocation id, so an at-least-once retry never applies a side effect
// twice at an external system that honors the key.
package activities

import (
	"github.com/shopspring/decimal"

	"github.com/aksrustagi/settle/id"
	"github.com/aksrustagi/settle/market"
	"github.com/aksrustagi/settle/transfer"
	"github.com/aksrustagi/settle/venue"
)

// Activity names, grouped by the external system they touch.
const (
	NameCheckEligibility = "identity.check-eligibility"
	NameScoreWithdrawal  = "risk.score-withdrawal"

	NamePlaceHold   = "ledger.place-hold"
	NameReleaseHold = "ledger.release-hold"
	NameCaptureHold = "ledger.capture-hold"
	NameCredit      = "ledger.credit"
	NameDebit       = "ledger.debit"
	NameGetBalance  = "ledger.get-balance"

	NameSubmitOrder = "venue.submit-order"
	NameCancelOrder = "venue.cancel-order"
	NameGetOrder    = "venue.get-order"

	NameInitiateTransfer = "transfer.initiate"
	NameGetTransfer      = "transfer.get"

	NameMFAChallenge = "mfa.challenge"
	NameMFAVerify    = "mfa.verify"

	NameNotify = "notify.send"

	NameGetMarket      = "market.get"
	NameListPositions  = "market.list-positions"
	NameSettlePosition = "market.settle-position"
	NameMarkSettled    = "market.mark-settled"
)

// Eligibility decisions returned by the identity provider.
const (
	DecisionApproved = "approved"
	DecisionDenied   = "denied"
	// DecisionPendingVerification means the provider opened an async
	// verification case; the result arrives later as a correlated
	// signal.
	DecisionPendingVerification = "pending_verification"
)

// EligibilityInput asks whether an account may trade a given notional
// in an asset class.
type EligibilityInput struct {
	Account    string          `json:"account"`
	AssetClass string          `json:"asset_class"`
	Notional   decimal.Decimal `json:"notional"`
}

// EligibilityResult is the provider's decision. CorrelationID is set
// only for pending verifications and keys the later webhook signal.
type EligibilityResult struct {
	Decision      string `json:"decision"`
	Reason        string `json:"reason,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// ScoreWithdrawalInput asks the fraud engine to score a withdrawal.
type ScoreWithdrawalInput struct {
	Account     string          `json:"account"`
	Amount      decimal.Decimal `json:"amount"`
	Destination string          `json:"destination,omitempty"`
}

// RiskResult is the fraud engine's verdict.
type RiskResult struct {
	Flagged bool    `json:"flagged"`
	Score   float64 `json:"score"`
	Reason  string  `json:"reason,omitempty"`
}

// PlaceHoldInput reserves funds for a saga run.
type PlaceHoldInput struct {
	Account   string          `json:"account"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
}

// PlaceHoldOutput carries the hold id the saga releases or captures
// later.
type PlaceHoldOutput struct {
	HoldID id.HoldID       `json:"hold_id"`
	Amount decimal.Decimal `json:"amount"`
}

// ReleaseHoldInput returns held funds to the available balance.
type ReleaseHoldInput struct {
	HoldID id.HoldID `json:"hold_id"`
}

// ReleaseHoldOutput is empty; the operation either applied or errored.
type ReleaseHoldOutput struct{}

// CaptureHoldInput converts part of a hold into a debit.
type CaptureHoldInput struct {
	HoldID id.HoldID       `json:"hold_id"`
	Amount decimal.Decimal `json:"amount"`
}

// CaptureHoldOutput reports the remainder released back.
type CaptureHoldOutput struct {
	Released decimal.Decimal `json:"released"`
}

// CreditInput adds funds to an account.
type CreditInput struct {
	Account string          `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
}

// CreditOutput is empty.
type CreditOutput struct{}

// DebitInput removes funds from an account.
type DebitInput struct {
	Account string          `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
}

// DebitOutput is empty.
type DebitOutput struct{}

// GetBalanceInput reads an account's available balance.
type GetBalanceInput struct {
	Account string `json:"account"`
}

// GetBalanceOutput carries the available balance.
type GetBalanceOutput struct {
	Balance decimal.Decimal `json:"balance"`
}

// SubmitOrderInput places an order at the venue. ClientOrderID is the
// idempotency key the venue honors.
type SubmitOrderInput struct {
	ClientOrderID string          `json:"client_order_id"`
	Account       string          `json:"account"`
	Market        string          `json:"market"`
	Outcome       string          `json:"outcome"`
	Side          venue.Side      `json:"side"`
	Type          venue.OrderType `json:"type"`
	Quantity      int64           `json:"quantity"`
	LimitPrice    decimal.Decimal `json:"limit_price"`
}

// SubmitOrderOutput records the venue's order id.
type SubmitOrderOutput struct {
	OrderID id.OrderID        `json:"order_id"`
	Status  venue.OrderStatus `json:"status"`
}

// OrderInput addresses an existing venue order.
type OrderInput struct {
	OrderID id.OrderID `json:"order_id"`
}

// OrderOutput carries the full venue order state including fills.
type OrderOutput struct {
	Order venue.Order `json:"order"`
}

// InitiateTransferInput starts a money movement.
type InitiateTransferInput struct {
	Account     string             `json:"account"`
	Amount      decimal.Decimal    `json:"amount"`
	Direction   transfer.Direction `json:"direction"`
	Destination string             `json:"destination,omitempty"`
	Reference   string             `json:"reference,omitempty"`
}

// InitiateTransferOutput records the provider's transfer id.
type InitiateTransferOutput struct {
	TransferID id.TransferID   `json:"transfer_id"`
	Status     transfer.Status `json:"status"`
}

// GetTransferInput addresses an existing transfer.
type GetTransferInput struct {
	TransferID id.TransferID `json:"transfer_id"`
}

// GetTransferOutput carries the current transfer state.
type GetTransferOutput struct {
	Transfer transfer.Transfer `json:"transfer"`
}

// MFAChallengeInput sends a step-up code to the account's device.
type MFAChallengeInput struct {
	Account string `json:"account"`
}

// MFAChallengeOutput identifies the challenge for later verification.
type MFAChallengeOutput struct {
	ChallengeID string `json:"challenge_id"`
}

// MFAVerifyInput checks a user-provided code against a challenge.
type MFAVerifyInput struct {
	ChallengeID string `json:"challenge_id"`
	Code        string `json:"code"`
}

// MFAVerifyOutput reports whether the code matched.
type MFAVerifyOutput struct {
	Verified bool `json:"verified"`
}

// Notification is a user-facing message about a saga outcome.
type Notification struct {
	Account  string            `json:"account"`
	Template string            `json:"template"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NotifyOutput is empty.
type NotifyOutput struct{}

// GetMarketInput addresses a market.
type GetMarketInput struct {
	MarketID string `json:"market_id"`
}

// GetMarketOutput carries the market record.
type GetMarketOutput struct {
	Market market.Market `json:"market"`
}

// ListPositionsInput lists open positions for a market.
type ListPositionsInput struct {
	MarketID string `json:"market_id"`
}

// ListPositionsOutput carries the open positions in deterministic
// order.
type ListPositionsOutput struct {
	Positions []market.Position `json:"positions"`
}

// SettlePositionInput pays out or recognizes loss for one position and
// closes it.
type SettlePositionInput struct {
	Position       market.Position `json:"position"`
	WinningOutcome string          `json:"winning_outcome"`
	PayoutPerShare decimal.Decimal `json:"payout_per_share"`
}

// SettlePositionOutput reports the amount credited (zero for losers).
type SettlePositionOutput struct {
	Paid decimal.Decimal `json:"paid"`
}

// MarkSettledInput marks a market settled after all positions were
// attempted.
type MarkSettledInput struct {
	MarketID string `json:"market_id"`
}

// MarkSettledOutput is empty.
type MarkSettledOutput struct{}
