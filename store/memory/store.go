package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aksrustagi/settle"
	"github.com/aksrustagi/settle/audit"
	"github.com/aksrustagi/settle/id"
	"github.com/aksrustagi/settle/review"
	"github.com/aksrustagi/settle/saga"
	"github.com/aksrustagi/settle/signal"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ saga.Store   = (*Store)(nil)
	_ signal.Store = (*Store)(nil)
	_ audit.Store  = (*Store)(nil)
	_ review.Store = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	runs         map[string]*saga.Run
	checkpoints  map[string]*saga.Checkpoint // key: "runID:stepName"
	signals      map[string]*signal.Signal
	correlations map[string]id.RunID
	audits       []*audit.Entry
	reviews      map[string]*review.Entry

	// seq orders signals with identical timestamps.
	seq     uint64
	sigSeqs map[string]uint64
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		runs:         make(map[string]*saga.Run),
		checkpoints:  make(map[string]*saga.Checkpoint),
		signals:      make(map[string]*signal.Signal),
		correlations: make(map[string]id.RunID),
		reviews:      make(map[string]*review.Entry),
		sigSeqs:      make(map[string]uint64),
	}
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Saga Store
// ──────────────────────────────────────────────────

// CreateRun persists a new saga run.
func (m *Store) CreateRun(_ context.Context, run *saga.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := run.ID.String()
	if _, exists := m.runs[key]; exists {
		return settle.ErrRunAlreadyExists
	}
	cp := *run
	m.runs[key] = &cp
	return nil
}

// GetRun retrieves a saga run by ID.
func (m *Store) GetRun(_ context.Context, runID id.RunID) (*saga.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return nil, settle.ErrRunNotFound
	}
	cp := *r
	return &cp, nil
}

// UpdateRun persists changes to an existing saga run. The sticky
// CancelRequested flag survives updates carrying a stale false value.
func (m *Store) UpdateRun(_ context.Context, run *saga.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := run.ID.String()
	existing, ok := m.runs[key]
	if !ok {
		return settle.ErrRunNotFound
	}
	cp := *run
	if existing.CancelRequested {
		cp.CancelRequested = true
		run.CancelRequested = true
	}
	cp.UpdatedAt = time.Now().UTC()
	m.runs[key] = &cp
	return nil
}

// ListRuns returns saga runs matching the given options.
func (m *Store) ListRuns(_ context.Context, opts saga.ListOpts) ([]*saga.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*saga.Run, 0, len(m.runs))
	for _, r := range m.runs {
		if opts.State != "" && r.State != opts.State {
			continue
		}
		if opts.Name != "" && r.Name != opts.Name {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// RequestCancel sets the sticky cancellation flag on a run.
func (m *Store) RequestCancel(_ context.Context, runID id.RunID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return settle.ErrRunNotFound
	}
	r.CancelRequested = true
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// checkpointKey builds a composite map key for a checkpoint.
func checkpointKey(runID id.RunID, stepName string) string {
	return runID.String() + ":" + stepName
}

// SaveCheckpoint persists checkpoint data for a saga step.
func (m *Store) SaveCheckpoint(_ context.Context, runID id.RunID, stepName string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := checkpointKey(runID, stepName)
	m.checkpoints[key] = &saga.Checkpoint{
		ID:        id.NewCheckpointID(),
		RunID:     runID,
		StepName:  stepName,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

// GetCheckpoint retrieves checkpoint data for a specific saga step.
func (m *Store) GetCheckpoint(_ context.Context, runID id.RunID, stepName string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, ok := m.checkpoints[checkpointKey(runID, stepName)]
	if !ok {
		return nil, nil // no checkpoint is not an error
	}
	return cp.Data, nil
}

// ListCheckpoints returns all checkpoints for a saga run.
func (m *Store) ListCheckpoints(_ context.Context, runID id.RunID) ([]*saga.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := runID.String() + ":"
	var result []*saga.Checkpoint
	for k, cp := range m.checkpoints {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			result = append(result, cp)
		}
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	return result, nil
}

// PurgeRuns deletes terminal runs (and their checkpoints and signals)
// that completed before the cutoff.
func (m *Store) PurgeRuns(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var purged int
	for key, r := range m.runs {
		if !r.State.Terminal() || r.CompletedAt == nil || !r.CompletedAt.Before(before) {
			continue
		}
		delete(m.runs, key)
		purged++

		prefix := key + ":"
		for ck := range m.checkpoints {
			if len(ck) > len(prefix) && ck[:len(prefix)] == prefix {
				delete(m.checkpoints, ck)
			}
		}
		for sk, sig := range m.signals {
			if sig.RunID.String() == key {
				delete(m.signals, sk)
				delete(m.sigSeqs, sk)
			}
		}
	}
	return purged, nil
}

// ──────────────────────────────────────────────────
// Signal Store
// ──────────────────────────────────────────────────

// PublishSignal persists a new signal addressed to a run instance.
func (m *Store) PublishSignal(_ context.Context, sig *signal.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *sig
	key := cp.ID.String()
	m.signals[key] = &cp
	m.seq++
	m.sigSeqs[key] = m.seq
	return nil
}

// NextSignal waits for the oldest unacked signal addressed to the run
// whose name is in names. Poll-based: loops with 10ms sleep until a
// signal is available or the timeout expires, returning nil on timeout.
func (m *Store) NextSignal(ctx context.Context, runID id.RunID, names []string, timeout time.Duration) (*signal.Signal, error) {
	nameSet := make(map[string]struct{}, len(names))
	for _, n := range names {
		nameSet[n] = struct{}{}
	}

	deadline := time.Now().Add(timeout)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if sig := m.oldestUnacked(runID, nameSet); sig != nil {
			return sig, nil
		}

		if time.Now().After(deadline) {
			return nil, nil
		}

		// Brief sleep to avoid busy-waiting.
		time.Sleep(10 * time.Millisecond)
	}
}

// oldestUnacked returns a copy of the oldest matching unacked signal,
// ordered by publish sequence.
func (m *Store) oldestUnacked(runID id.RunID, names map[string]struct{}) *signal.Signal {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *signal.Signal
	var bestSeq uint64
	for key, sig := range m.signals {
		if sig.Acked || sig.RunID.String() != runID.String() {
			continue
		}
		if len(names) > 0 {
			if _, ok := names[sig.Name]; !ok {
				continue
			}
		}
		seq := m.sigSeqs[key]
		if best == nil || seq < bestSeq {
			best = sig
			bestSeq = seq
		}
	}
	if best == nil {
		return nil
	}
	cp := *best
	return &cp
}

// AckSignal acknowledges a signal, marking it as consumed.
func (m *Store) AckSignal(_ context.Context, sigID id.SignalID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sig, ok := m.signals[sigID.String()]
	if !ok {
		return settle.ErrSignalNotFound
	}
	sig.Acked = true
	return nil
}

// SaveCorrelation records a provider correlation id for a run.
func (m *Store) SaveCorrelation(_ context.Context, correlationID string, runID id.RunID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.correlations[correlationID] = runID
	return nil
}

// ResolveCorrelation returns the run registered for the correlation id.
func (m *Store) ResolveCorrelation(_ context.Context, correlationID string) (id.RunID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runID, ok := m.correlations[correlationID]
	if !ok {
		return id.Nil, settle.ErrNoMatch
	}
	return runID, nil
}

// DeleteCorrelation removes a correlation registration.
func (m *Store) DeleteCorrelation(_ context.Context, correlationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.correlations, correlationID)
	return nil
}

// ──────────────────────────────────────────────────
// Audit Store
// ──────────────────────────────────────────────────

// AppendAudit persists a new audit entry.
func (m *Store) AppendAudit(_ context.Context, entry *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.audits = append(m.audits, &cp)
	return nil
}

// ListAudit returns audit entries matching the given options in
// recording order.
func (m *Store) ListAudit(_ context.Context, opts audit.ListOpts) ([]*audit.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*audit.Entry, 0, len(m.audits))
	for _, e := range m.audits {
		if !opts.RunID.IsNil() && e.RunID.String() != opts.RunID.String() {
			continue
		}
		if opts.Account != "" && e.Account != opts.Account {
			continue
		}
		if opts.Action != "" && e.Action != opts.Action {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// CountAudit returns the total number of audit entries.
func (m *Store) CountAudit(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.audits)), nil
}

// ──────────────────────────────────────────────────
// Review Store
// ──────────────────────────────────────────────────

// PushReview adds an entry to the review queue.
func (m *Store) PushReview(_ context.Context, entry *review.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.reviews[entry.ID.String()] = &cp
	return nil
}

// GetReview retrieves a review entry by ID.
func (m *Store) GetReview(_ context.Context, entryID id.ReviewID) (*review.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.reviews[entryID.String()]
	if !ok {
		return nil, settle.ErrEntryNotFound
	}
	cp := *e
	return &cp, nil
}

// ListReview returns review entries matching the given options.
func (m *Store) ListReview(_ context.Context, opts review.ListOpts) ([]*review.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*review.Entry, 0, len(m.reviews))
	for _, e := range m.reviews {
		if opts.Kind != "" && e.Kind != opts.Kind {
			continue
		}
		if opts.Status != "" && e.Status != opts.Status {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].FlaggedAt.Before(result[k].FlaggedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// ResolveReview marks an entry resolved with an operator note.
func (m *Store) ResolveReview(_ context.Context, entryID id.ReviewID, resolution string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.reviews[entryID.String()]
	if !ok {
		return settle.ErrEntryNotFound
	}
	now := time.Now().UTC()
	e.Status = review.StatusResolved
	e.Resolution = resolution
	e.ResolvedAt = &now
	return nil
}

// CountReview returns the number of pending review entries.
func (m *Store) CountReview(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, e := range m.reviews {
		if e.Status == review.StatusPending {
			count++
		}
	}
	return count, nil
}
