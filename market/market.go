// Package market defines the market and position store consumed by the
// settlement saga: resolved markets, open positions, per-position close
// with idempotent replay.
package market

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aksrustagi/settle/id"
)

// MarketStatus is the lifecycle of a market.
type MarketStatus string

const (
	MarketStatusOpen     MarketStatus = "open"
	MarketStatusResolved MarketStatus = "resolved"
	MarketStatusSettled  MarketStatus = "settled"
)

// Market is an event users trade on. Once resolved with a winning
// outcome it is settled exactly once.
type Market struct {
	ID       string   `json:"id"`
	Title    string   `json:"title,omitempty"`
	Outcomes []string `json:"outcomes"`
	// PayoutPerShare is the amount paid per winning share.
	PayoutPerShare decimal.Decimal `json:"payout_per_share"`
	Status         MarketStatus    `json:"status"`
	WinningOutcome string          `json:"winning_outcome,omitempty"`
	SettledAt      *time.Time      `json:"settled_at,omitempty"`
}

// HasOutcome reports whether outcome is one of the market's defined
// outcomes.
func (m *Market) HasOutcome(outcome string) bool {
	for _, o := range m.Outcomes {
		if o == outcome {
			return true
		}
	}

	return false
}

// Position is a user's open stake on a market outcome. Read by the
// settlement saga and closed after settlement regardless of win/loss.
type Position struct {
	ID       id.PositionID `json:"id"`
	Account  string        `json:"account"`
	MarketID string        `json:"market_id"`
	Outcome  string        `json:"outcome"`
	Quantity int64         `json:"quantity"`
	Closed   bool          `json:"closed"`
}

// Store is the market/position boundary consumed by activities.
type Store interface {
	// GetMarket returns a market by id, or settle.ErrMarketNotFound.
	GetMarket(ctx context.Context, marketID string) (*Market, error)

	// MarkSettled records that settlement completed for the market.
	// Returns settle.ErrMarketSettled when already settled.
	MarkSettled(ctx context.Context, marketID string) error

	// ListOpenPositions returns all open positions for a market.
	ListOpenPositions(ctx context.Context, marketID string) ([]*Position, error)

	// ClosePosition closes a position, idempotent on the supplied key.
	ClosePosition(ctx context.Context, positionID id.PositionID, idempotencyKey string) error
}
