package ledger

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

// Memory is an in-memory ledger used by tests and development. Mutating
// operations record their idempotency key; a replayed call with a key
// that already applied returns the original outcome without moving
// funds again.
type Memory struct {
	mu       sync.RWMutex
	balances map[string]decimal.Decimal
	holds    map[string]*Hold
	// applied maps an idempotency key to the hold id it produced (empty
	// for operations that do not create a hold).
	applied map[string]string
}

// NewMemory returns an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		balances: make(map[string]decimal.Decimal),
		holds:    make(map[string]*Hold),
		applied:  make(map[string]string),
	}
}

// SetBalance seeds an account's available balance. Test helper; not
// part of the Client interface.
func (m *Memory) SetBalance(account string, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[account] = amount
}

func (m *Memory) Balance(_ context.Context, account string) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.balances[account], nil
}

func (m *Memory) Held(_ context.Context, account string) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := decimal.Zero
	for _, h := range m.holds {
		if h.Account == account && h.Status == HoldStatusHeld {
			total = total.Add(h.Amount)
		}
	}

	return total, nil
}

func (m *Memory) PlaceHold(_ context.Context, req PlaceHoldRequest) (*Hold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if holdID, ok := m.applied[req.IdempotencyKey]; ok {
		return copyHold(m.holds[holdID]), nil
	}

	available := m.balances[req.Account]
	if available.LessThan(req.Amount) {
		return nil, fmt.Errorf("ledger: hold %s for %s (available %s): %w",
			req.Amount, req.Account, available, settle.ErrInsufficientFunds)
	}

	hold := &Hold{
		ID:        id.NewHoldID(),
		Account:   req.Account,
		Amount:    req.Amount,
		Reference: req.Reference,
		Status:    HoldStatusHeld,
		Captured:  decimal.Zero,
		CreatedAt: time.Now().UTC(),
	}

	m.balances[req.Account] = available.Sub(req.Amount)
	m.holds[hold.ID.String()] = hold
	m.applied[req.IdempotencyKey] = hold.ID.String()

	return copyHold(hold), nil
}

func (m *Memory) GetHold(_ context.Context, holdID id.HoldID) (*Hold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hold, ok := m.holds[holdID.String()]
	if !ok {
		return nil, fmt.Errorf("ledger: hold %s: %w", holdID, settle.ErrHoldNotFound)
	}

	return copyHold(hold), nil
}

func (m *Memory) ReleaseHold(_ context.Context, holdID id.HoldID, idempotencyKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.applied[idempotencyKey]; ok {
		return nil
	}

	hold, ok := m.holds[holdID.String()]
	if !ok {
		return fmt.Errorf("ledger: release hold %s: %w", holdID, settle.ErrHoldNotFound)
	}

	switch hold.Status {
	case HoldStatusReleased:
		// Releasing twice is safe regardless of key.
		return nil
	case HoldStatusCaptured:
		return fmt.Errorf("ledger: release hold %s: %w", holdID, settle.ErrHoldReleased)
	}

	now := time.Now().UTC()
	hold.Status = HoldStatusReleased
	hold.ClosedAt = &now
	m.balances[hold.Account] = m.balances[hold.Account].Add(hold.Amount)
	m.applied[idempotencyKey] = ""

	return nil
}

func (m *Memory) CaptureHold(_ context.Context, holdID id.HoldID, amount decimal.Decimal, idempotencyKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.applied[idempotencyKey]; ok {
		return nil
	}

	hold, ok := m.holds[holdID.String()]
	if !ok {
		return fmt.Errorf("ledger: capture hold %s: %w", holdID, settle.ErrHoldNotFound)
	}

	if hold.Status != HoldStatusHeld {
		return fmt.Errorf("ledger: capture hold %s: %w", holdID, settle.ErrHoldReleased)
	}

	if amount.GreaterThan(hold.Amount) {
		return fmt.Errorf("ledger: capture %s exceeds held %s on hold %s", amount, hold.Amount, holdID)
	}

	now := time.Now().UTC()
	hold.Status = HoldStatusCaptured
	hold.Captured = amount
	hold.ClosedAt = &now

	// Captured funds leave the account; the remainder goes back to the
	// available balance.
	remainder := hold.Amount.Sub(amount)
	m.balances[hold.Account] = m.balances[hold.Account].Add(remainder)
	m.applied[idempotencyKey] = ""

	return nil
}

func (m *Memory) Credit(_ context.Context, account string, amount decimal.Decimal, idempotencyKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.applied[idempotencyKey]; ok {
		return nil
	}

	m.balances[account] = m.balances[account].Add(amount)
	m.applied[idempotencyKey] = ""

	return nil
}

func (m *Memory) Debit(_ context.Context, account string, amount decimal.Decimal, idempotencyKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.applied[idempotencyKey]; ok {
		return nil
	}

	available := m.balances[account]
	if available.LessThan(amount) {
		return fmt.Errorf("ledger: debit %s from %s (available %s): %w",
			amount, account, available, settle.ErrInsufficientFunds)
	}

	m.balances[account] = available.Sub(amount)
	m.applied[idempotencyKey] = ""

	return nil
}

func copyHold(h *Hold) *Hold {
	if h == nil {
		return nil
	}

	dup := *h
	if h.ClosedAt != nil {
		closedAt := *h.ClosedAt
		dup.ClosedAt = &closedAt
	}

	return &dup
}
