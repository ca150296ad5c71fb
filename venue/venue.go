// Package venue defines the execution venue client boundary: order
// submission, cancellation, and status polling. Submission is
// idempotent on a caller-chosen client order id, so a retried submit
// after an ambiguous network failure creates exactly one order.
package venue

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aksrustagi/settle/id"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType distinguishes limit from market orders.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderStatus is the venue-side lifecycle of an order.
type OrderStatus string

const (
	OrderStatusWorking         OrderStatus = "working"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Terminal reports whether the status is final at the venue.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// Fill is one execution against an order. Fill ids are unique per
// order; consumers record seen ids so a re-polled fill is never
// applied twice.
type Fill struct {
	ID       string          `json:"id"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	FilledAt time.Time       `json:"filled_at"`
}

// Order is the venue's view of a submitted order.
type Order struct {
	ID            id.OrderID      `json:"id"`
	ClientOrderID string          `json:"client_order_id"`
	Account       string          `json:"account"`
	Market        string          `json:"market"`
	Outcome       string          `json:"outcome"`
	Side          Side            `json:"side"`
	Type          OrderType       `json:"type"`
	Quantity      int64           `json:"quantity"`
	LimitPrice    decimal.Decimal `json:"limit_price"`
	Status        OrderStatus     `json:"status"`
	Reason        string          `json:"reason,omitempty"`
	Fills         []Fill          `json:"fills,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// FilledQuantity sums the quantities of all fills.
func (o *Order) FilledQuantity() int64 {
	var total int64
	for _, f := range o.Fills {
		total += f.Quantity
	}

	return total
}

// Cost sums quantity x price across all fills.
func (o *Order) Cost() decimal.Decimal {
	total := decimal.Zero
	for _, f := range o.Fills {
		total = total.Add(f.Price.Mul(decimal.NewFromInt(f.Quantity)))
	}

	return total
}

// SubmitRequest describes an order to place at the venue.
type SubmitRequest struct {
	// ClientOrderID is the caller's idempotency key. Submitting the
	// same id twice returns the original order.
	ClientOrderID string          `json:"client_order_id"`
	Account       string          `json:"account"`
	Market        string          `json:"market"`
	Outcome       string          `json:"outcome"`
	Side          Side            `json:"side"`
	Type          OrderType       `json:"type"`
	Quantity      int64           `json:"quantity"`
	LimitPrice    decimal.Decimal `json:"limit_price"`
}

// Client is the venue boundary consumed by activities.
type Client interface {
	// SubmitOrder places an order, idempotent on ClientOrderID.
	SubmitOrder(ctx context.Context, req SubmitRequest) (*Order, error)

	// CancelOrder requests cancellation. Best effort: the returned
	// order reflects whatever state the venue reached, which may be
	// filled if the order executed before the cancel arrived.
	CancelOrder(ctx context.Context, orderID id.OrderID) (*Order, error)

	// GetOrder returns the current order state including fills, or
	// settle.ErrOrderNotFound.
	GetOrder(ctx context.Context, orderID id.OrderID) (*Order, error)
}
