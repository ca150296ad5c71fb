package venue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aksrustagi/settle"
	"github.com/aksrustagi/settle/id"
)

// compile-time interface check
var _ Client = (*Memory)(nil)

// Memory is an in-memory venue used by tests and development. Tests
// drive order progress with Fill and Reject; the sagas observe it
// through the Client interface only.
type Memory struct {
	mu       sync.RWMutex
	orders   map[string]*Order
	byClient map[string]string // client order id -> order id
	submits  int
	fillSeq  int
}

// NewMemory returns an empty in-memory venue.
func NewMemory() *Memory {
	return &Memory{
		orders:   make(map[string]*Order),
		byClient: make(map[string]string),
	}
}

func (m *Memory) SubmitOrder(_ context.Context, req SubmitRequest) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.submits++

	if orderID, ok := m.byClient[req.ClientOrderID]; ok {
		return copyOrder(m.orders[orderID]), nil
	}

	order := &Order{
		ID:            id.NewOrderID(),
		ClientOrderID: req.ClientOrderID,
		Account:       req.Account,
		Market:        req.Market,
		Outcome:       req.Outcome,
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      req.Quantity,
		LimitPrice:    req.LimitPrice,
		Status:        OrderStatusWorking,
		CreatedAt:     time.Now().UTC(),
	}

	m.orders[order.ID.String()] = order
	m.byClient[req.ClientOrderID] = order.ID.String()

	return copyOrder(order), nil
}

func (m *Memory) CancelOrder(_ context.Context, orderID id.OrderID) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID.String()]
	if !ok {
		return nil, fmt.Errorf("venue: cancel order %s: %w", orderID, settle.ErrOrderNotFound)
	}

	if !order.Status.Terminal() {
		order.Status = OrderStatusCancelled
	}

	return copyOrder(order), nil
}

func (m *Memory) GetOrder(_ context.Context, orderID id.OrderID) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, ok := m.orders[orderID.String()]
	if !ok {
		return nil, fmt.Errorf("venue: order %s: %w", orderID, settle.ErrOrderNotFound)
	}

	return copyOrder(order), nil
}

// Fill appends an execution to an order. Test helper. The order moves
// to partially_filled, or filled once the full quantity executes.
func (m *Memory) Fill(orderID id.OrderID, quantity int64, price decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID.String()]
	if !ok {
		return fmt.Errorf("venue: fill order %s: %w", orderID, settle.ErrOrderNotFound)
	}

	m.fillSeq++
	order.Fills = append(order.Fills, Fill{
		ID:       fmt.Sprintf("fill-%d", m.fillSeq),
		Quantity: quantity,
		Price:    price,
		FilledAt: time.Now().UTC(),
	})

	if order.FilledQuantity() >= order.Quantity {
		order.Status = OrderStatusFilled
	} else {
		order.Status = OrderStatusPartiallyFilled
	}

	return nil
}

// Reject marks an order rejected with a reason. Test helper.
func (m *Memory) Reject(orderID id.OrderID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID.String()]
	if !ok {
		return fmt.Errorf("venue: reject order %s: %w", orderID, settle.ErrOrderNotFound)
	}

	order.Status = OrderStatusRejected
	order.Reason = reason

	return nil
}

// SubmitCalls returns how many SubmitOrder calls were received,
// counting idempotent replays. Test helper.
func (m *Memory) SubmitCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.submits
}

// OrderCount returns how many distinct orders exist. Test helper.
func (m *Memory) OrderCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.orders)
}

func copyOrder(o *Order) *Order {
	if o == nil {
		return nil
	}

	dup := *o
	dup.Fills = make([]Fill, len(o.Fills))
	copy(dup.Fills, o.Fills)

	return &dup
}
