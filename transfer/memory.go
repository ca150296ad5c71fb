package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aksrustagi/settle"
	"github.com/aksrustagi/settle/id"
)

// compile-time interface check
var _ Provider = (*Memory)(nil)

// Memory is an in-memory transfer provider for tests and development.
// Transfers start pending; tests advance them with SetStatus.
type Memory struct {
	mu        sync.RWMutex
	transfers map[string]*Transfer
	byKey     map[string]string // idempotency key -> transfer id
	initiates int
}

// NewMemory returns an empty in-memory provider.
func NewMemory() *Memory {
	return &Memory{
		transfers: make(map[string]*Transfer),
		byKey:     make(map[string]string),
	}
}

func (m *Memory) Initiate(_ context.Context, req InitiateRequest) (*Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.initiates++

	if transferID, ok := m.byKey[req.IdempotencyKey]; ok {
		return copyTransfer(m.transfers[transferID]), nil
	}

	xfer := &Transfer{
		ID:          id.NewTransferID(),
		Account:     req.Account,
		Amount:      req.Amount,
		Direction:   req.Direction,
		Destination: req.Destination,
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}

	m.transfers[xfer.ID.String()] = xfer
	m.byKey[req.IdempotencyKey] = xfer.ID.String()

	return copyTransfer(xfer), nil
}

func (m *Memory) Get(_ context.Context, transferID id.TransferID) (*Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	xfer, ok := m.transfers[transferID.String()]
	if !ok {
		return nil, fmt.Errorf("transfer: %s: %w", transferID, settle.ErrTransferNotFound)
	}

	return copyTransfer(xfer), nil
}

// SetStatus advances a transfer. Test helper.
func (m *Memory) SetStatus(transferID id.TransferID, status Status, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	xfer, ok := m.transfers[transferID.String()]
	if !ok {
		return fmt.Errorf("transfer: %s: %w", transferID, settle.ErrTransferNotFound)
	}

	xfer.Status = status
	xfer.Reason = reason

	return nil
}

// InitiateCalls returns how many Initiate calls were received,
// counting idempotent replays. Test helper.
func (m *Memory) InitiateCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.initiates
}

// TransferCount returns how many distinct transfers exist. Test helper.
func (m *Memory) TransferCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.transfers)
}

func copyTransfer(t *Transfer) *Transfer {
	if t == nil {
		return nil
	}

	dup := *t

	return &dup
}
