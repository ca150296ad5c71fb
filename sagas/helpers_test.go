package sagas_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aksrustagi/settle"
	"github.com/aksrustagi/settle/activities"
	"github.com/aksrustagi/settle/activity"
	"github.com/aksrustagi/settle/id"
	"github.com/aksrustagi/settle/ledger"
	"github.com/aksrustagi/settle/market"
	"github.com/aksrustagi/settle/review"
	"github.com/aksrustagi/settle/saga"
	"github.com/aksrustagi/settle/sagas"
	"github.com/aksrustagi/settle/signal"
	"github.com/aksrustagi/settle/store/memory"
	"github.com/aksrustagi/settle/transfer"
	"github.com/aksrustagi/settle/venue"
)

const testMFACode = "424242"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type noopEmitter struct{}

func (noopEmitter) EmitStepCompleted(context.Context, *saga.Run, string, time.Duration) {}
func (noopEmitter) EmitStepFailed(context.Context, *saga.Run, string, error)            {}
func (noopEmitter) EmitCompensationFailed(context.Context, *saga.Run, string, error)    {}
func (noopEmitter) EmitSagaStarted(context.Context, *saga.Run)                          {}
func (noopEmitter) EmitSagaCompleted(context.Context, *saga.Run, time.Duration)         {}
func (noopEmitter) EmitSagaFailed(context.Context, *saga.Run, error)                    {}
func (noopEmitter) EmitSagaCancelled(context.Context, *saga.Run)                        {}

// fastConfig shrinks every wait and poll budget so the sagas run in
// milliseconds under the poll-based memory store.
func fastConfig() sagas.Config {
	cfg := sagas.DefaultConfig()
	cfg.OrderPollInitial = time.Millisecond
	cfg.OrderPollMax = 2 * time.Millisecond
	cfg.OrderPollCap = 25
	cfg.VerificationWait = 2 * time.Second
	cfg.CoolingOffPeriod = 20 * time.Millisecond
	cfg.MFAWait = 2 * time.Second
	cfg.WithdrawalPollInterval = time.Millisecond
	cfg.WithdrawalPollCap = 25
	cfg.DepositPollInterval = time.Millisecond
	cfg.DepositPollCap = 25

	return cfg
}

// gatedLedger wraps the memory ledger so a test can block the saga
// inside PlaceHold and inject a cancellation while the hold is in
// flight. entered is signalled when the call arrives; the call then
// waits for gate before proceeding.
type gatedLedger struct {
	ledger.Client
	entered chan struct{}
	gate    chan struct{}
}

func (g *gatedLedger) PlaceHold(ctx context.Context, req ledger.PlaceHoldRequest) (*ledger.Hold, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}

	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return g.Client.PlaceHold(ctx, req)
}

type harness struct {
	t         *testing.T
	runner    *saga.Runner
	store     *memory.Store
	bus       *signal.Bus
	ledger    *ledger.Memory
	venue     *venue.Memory
	transfers *transfer.Memory
	markets   *market.Memory
	identity  *activities.StubIdentity
	risk      *activities.StubRisk
	notifier  *activities.RecordingNotifier
	reviews   *review.Service

	// holdEntered receives once the saga is blocked inside PlaceHold;
	// holdGate must be closed to let the call proceed. Both are nil
	// unless withHoldGate was used.
	holdEntered chan struct{}
	holdGate    chan struct{}
}

type harnessOption func(*harness)

// withHoldGate installs the gated ledger wrapper.
func withHoldGate() harnessOption {
	return func(h *harness) {
		h.holdEntered = make(chan struct{}, 1)
		h.holdGate = make(chan struct{})
	}
}

func newHarness(t *testing.T, cfg sagas.Config, opts ...harnessOption) *harness {
	t.Helper()

	st := memory.New()
	h := &harness{
		t:         t,
		store:     st,
		ledger:    ledger.NewMemory(),
		venue:     venue.NewMemory(),
		transfers: transfer.NewMemory(),
		markets:   market.NewMemory(),
		identity:  activities.ApproveAll(),
		risk:      activities.ClearAll(),
		notifier:  activities.NewRecordingNotifier(),
		reviews:   review.NewService(st),
	}

	for _, opt := range opts {
		opt(h)
	}

	var ledgerClient ledger.Client = h.ledger
	if h.holdGate != nil {
		ledgerClient = &gatedLedger{Client: h.ledger, entered: h.holdEntered, gate: h.holdGate}
	}

	actReg := activity.NewRegistry()
	activities.Register(actReg, activities.Deps{
		Ledger:    ledgerClient,
		Venue:     h.venue,
		Transfers: h.transfers,
		Markets:   h.markets,
		Identity:  h.identity,
		Risk:      h.risk,
		MFA:       activities.NewStubMFA(testMFACode),
		Notifier:  h.notifier,
	})

	invoker := activity.NewExecutor(actReg, activity.WithLogger(testLogger()))

	sagaReg := saga.NewRegistry()
	sagas.RegisterAll(sagaReg, cfg, sagas.Deps{Reviews: h.reviews})

	h.bus = signal.NewBus(st)
	h.runner = saga.NewRunner(sagaReg, st, h.bus, invoker, noopEmitter{}, testLogger())

	return h
}

func (h *harness) start(name string, input any) (*saga.Run, error) {
	h.t.Helper()

	data, err := json.Marshal(input)
	if err != nil {
		h.t.Fatalf("marshal input: %v", err)
	}

	return h.runner.StartRaw(context.Background(), name, data)
}

func (h *harness) startAsync(name string, input any) *saga.Run {
	h.t.Helper()

	data, err := json.Marshal(input)
	if err != nil {
		h.t.Fatalf("marshal input: %v", err)
	}

	run, err := h.runner.StartAsync(context.Background(), name, data)
	if err != nil {
		h.t.Fatalf("StartAsync: %v", err)
	}

	return run
}

// await blocks until the run reaches a terminal lifecycle state.
func (h *harness) await(runID id.RunID) *saga.Run {
	h.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	run, err := h.runner.Await(ctx, runID)
	if err != nil {
		h.t.Fatalf("Await: %v", err)
	}

	return run
}

// awaitStatus polls the query snapshot until the saga status matches.
func (h *harness) awaitStatus(runID id.RunID, status string) {
	h.t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := h.runner.Query(context.Background(), runID)
		if err == nil && snap.Status == status {
			return
		}
		time.Sleep(time.Millisecond)
	}

	h.t.Fatalf("run %s never reached status %q", runID, status)
}

// awaitVar polls the query snapshot until the named run variable is
// published, decoding it into out.
func (h *harness) awaitVar(runID id.RunID, key string, out any) {
	h.t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := h.runner.Query(context.Background(), runID)
		if err == nil {
			if ok, verr := snap.Var(key, out); verr != nil {
				h.t.Fatalf("decode var %q: %v", key, verr)
			} else if ok {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}

	h.t.Fatalf("run %s never published var %q", runID, key)
}

// awaitOrderID waits for the run to record its venue order id.
func (h *harness) awaitOrderID(runID id.RunID) id.OrderID {
	h.t.Helper()

	var orderID id.OrderID
	h.awaitVar(runID, sagas.VarOrderID, &orderID)

	return orderID
}

// awaitTransferID waits for the run to record its transfer id.
func (h *harness) awaitTransferID(runID id.RunID) id.TransferID {
	h.t.Helper()

	var transferID id.TransferID
	h.awaitVar(runID, sagas.VarTransferID, &transferID)

	return transferID
}

// deliverCorrelated routes a provider callback to whichever run
// registered the correlation id, retrying while the registration is
// still in flight.
func (h *harness) deliverCorrelated(correlationID, name string, payload any) id.RunID {
	h.t.Helper()

	data, err := json.Marshal(payload)
	if err != nil {
		h.t.Fatalf("marshal payload: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		runID, derr := h.bus.DeliverCorrelated(context.Background(), correlationID, name, data)
		if derr == nil {
			return runID
		}
		if !errors.Is(derr, settle.ErrNoMatch) {
			h.t.Fatalf("DeliverCorrelated: %v", derr)
		}
		time.Sleep(time.Millisecond)
	}

	h.t.Fatalf("correlation %q never registered", correlationID)

	return id.Nil
}

// reviewEntries returns the review queue entries of the given kind.
func (h *harness) reviewEntries(kind string) []*review.Entry {
	h.t.Helper()

	entries, err := h.store.ListReview(context.Background(), review.ListOpts{Kind: kind})
	if err != nil {
		h.t.Fatalf("ListReview: %v", err)
	}

	return entries
}

func (h *harness) signal(runID id.RunID, name string, payload any) {
	h.t.Helper()

	data, err := json.Marshal(payload)
	if err != nil {
		h.t.Fatalf("marshal signal payload: %v", err)
	}
	if err := h.runner.Signal(context.Background(), runID, name, data); err != nil {
		h.t.Fatalf("Signal: %v", err)
	}
}

func (h *harness) cancel(runID id.RunID) {
	h.t.Helper()

	if err := h.runner.RequestCancel(context.Background(), runID); err != nil {
		h.t.Fatalf("RequestCancel: %v", err)
	}
}

func (h *harness) balance(account string) decimal.Decimal {
	h.t.Helper()

	balance, err := h.ledger.Balance(context.Background(), account)
	if err != nil {
		h.t.Fatalf("Balance: %v", err)
	}

	return balance
}

func (h *harness) held(account string) decimal.Decimal {
	h.t.Helper()

	held, err := h.ledger.Held(context.Background(), account)
	if err != nil {
		h.t.Fatalf("Held: %v", err)
	}

	return held
}

// resume flips a terminal run back to running and replays it, the way
// crash recovery would.
func (h *harness) resume(run *saga.Run) *saga.Run {
	h.t.Helper()

	run.State = saga.RunStateRunning
	run.Error = ""
	run.CompletedAt = nil
	if err := h.store.UpdateRun(context.Background(), run); err != nil {
		h.t.Fatalf("UpdateRun: %v", err)
	}
	if err := h.runner.Resume(context.Background(), run.ID); err != nil {
		h.t.Fatalf("Resume: %v", err)
	}

	return h.await(run.ID)
}

func decodeOutput[T any](t *testing.T, run *saga.Run) T {
	t.Helper()

	var out T
	if len(run.Output) == 0 {
		t.Fatalf("run %s has no output", run.ID)
	}
	if err := json.Unmarshal(run.Output, &out); err != nil {
		t.Fatalf("decode output: %v", err)
	}

	return out
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}

	return d
}
