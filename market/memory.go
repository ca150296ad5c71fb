package market

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aksrustagi/settle"
	"github.com/aksrustagi/settle/id"
)

// compile-time interface check
var _ Store = (*Memory)(nil)

// Memory is an in-memory market/position store for tests and
// development.
type Memory struct {
	mu        sync.RWMutex
	markets   map[string]*Market
	positions map[string]*Position
	applied   map[string]struct{}
	failClose map[string]error
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		markets:   make(map[string]*Market),
		positions: make(map[string]*Position),
		applied:   make(map[string]struct{}),
		failClose: make(map[string]error),
	}
}

// AddMarket registers a market. Test helper.
func (m *Memory) AddMarket(mkt *Market) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dup := *mkt
	m.markets[mkt.ID] = &dup
}

// AddPosition registers an open position and returns its id. Test
// helper.
func (m *Memory) AddPosition(account, marketID, outcome string, quantity int64) id.PositionID {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos := &Position{
		ID:       id.NewPositionID(),
		Account:  account,
		MarketID: marketID,
		Outcome:  outcome,
		Quantity: quantity,
	}
	m.positions[pos.ID.String()] = pos

	return pos.ID
}

func (m *Memory) GetMarket(_ context.Context, marketID string) (*Market, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mkt, ok := m.markets[marketID]
	if !ok {
		return nil, fmt.Errorf("market: %s: %w", marketID, settle.ErrMarketNotFound)
	}

	dup := *mkt

	return &dup, nil
}

func (m *Memory) MarkSettled(_ context.Context, marketID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mkt, ok := m.markets[marketID]
	if !ok {
		return fmt.Errorf("market: settle %s: %w", marketID, settle.ErrMarketNotFound)
	}

	if mkt.Status == MarketStatusSettled {
		return fmt.Errorf("market: settle %s: %w", marketID, settle.ErrMarketSettled)
	}

	now := time.Now().UTC()
	mkt.Status = MarketStatusSettled
	mkt.SettledAt = &now

	return nil
}

func (m *Memory) ListOpenPositions(_ context.Context, marketID string) ([]*Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Position
	for _, pos := range m.positions {
		if pos.MarketID == marketID && !pos.Closed {
			dup := *pos
			out = append(out, &dup)
		}
	}

	// Deterministic order for replay-stable iteration.
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})

	return out, nil
}

func (m *Memory) ClosePosition(_ context.Context, positionID id.PositionID, idempotencyKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.failClose[positionID.String()]; ok {
		return err
	}

	if _, ok := m.applied[idempotencyKey]; ok {
		return nil
	}

	pos, ok := m.positions[positionID.String()]
	if !ok {
		return fmt.Errorf("market: close position %s: %w", positionID, settle.ErrEntryNotFound)
	}

	pos.Closed = true
	m.applied[idempotencyKey] = struct{}{}

	return nil
}

// FailClose makes every ClosePosition call for the given position
// return err. Test helper.
func (m *Memory) FailClose(positionID id.PositionID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failClose[positionID.String()] = err
}

// Position returns a position by id. Test helper.
func (m *Memory) Position(positionID id.PositionID) (*Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pos, ok := m.positions[positionID.String()]
	if !ok {
		return nil, false
	}

	dup := *pos

	return &dup, true
}
