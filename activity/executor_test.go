package activity

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aksrustagi/settle"
	"github.com/aksrustagi/settle/backoff"
	"github.com/aksrustagi/settle/id"
)

func fastRetry(attempts int) Option {
	return WithRetryPolicy(backoff.Policy{
		InitialInterval: time.Millisecond,
		Coefficient:     1.0,
		MaxInterval:     time.Millisecond,
		MaxAttempts:     attempts,
	})
}

func newInvocation(name string, input []byte) *Invocation {
	runID := id.NewRunID()
	return &Invocation{
		ID:    InvocationID(runID, "step-1"),
		RunID: runID,
		Name:  name,
		Input: input,
	}
}

func TestExecuteSuccess(t *testing.T) {
	reg := NewRegistry()
	RegisterDefinition(reg, NewActivity("double", func(_ context.Context, n int) (int, error) {
		return n * 2, nil
	}))
	x := NewExecutor(reg)

	out, err := x.Execute(context.Background(), newInvocation("double", []byte(`21`)))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var n int
	if err := json.Unmarshal(out, &n); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	if n != 42 {
		t.Errorf("output = %d, want 42", n)
	}
}

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	var calls int
	reg := NewRegistry()
	RegisterDefinition(reg, NewActivity("flaky", func(_ context.Context, _ struct{}) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	}, fastRetry(5)))
	x := NewExecutor(reg)

	out, err := x.Execute(context.Background(), newInvocation("flaky", nil))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if string(out) != `"ok"` {
		t.Errorf("output = %s, want %q", out, `"ok"`)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestExecuteExhaustsRetries(t *testing.T) {
	var calls int
	reg := NewRegistry()
	RegisterDefinition(reg, NewActivity("broken", func(_ context.Context, _ struct{}) (struct{}, error) {
		calls++
		return struct{}{}, errors.New("still broken")
	}, fastRetry(3)))
	x := NewExecutor(reg)

	_, err := x.Execute(context.Background(), newInvocation("broken", nil))
	if !errors.Is(err, settle.ErrMaxAttemptsReached) {
		t.Fatalf("err = %v, want ErrMaxAttemptsReached", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestExecuteTerminalShortCircuits(t *testing.T) {
	denied := errors.New("policy denied")
	var calls int
	reg := NewRegistry()
	RegisterDefinition(reg, NewActivity("gated", func(_ context.Context, _ struct{}) (struct{}, error) {
		calls++
		return struct{}{}, Terminal(denied)
	}, fastRetry(5)))
	x := NewExecutor(reg)

	_, err := x.Execute(context.Background(), newInvocation("gated", nil))
	if !errors.Is(err, denied) {
		t.Fatalf("err = %v, want wrapped %v", err, denied)
	}
	if !IsTerminal(err) {
		t.Error("expected terminal error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retries on terminal)", calls)
	}
}

func TestExecuteUnregistered(t *testing.T) {
	x := NewExecutor(NewRegistry())
	_, err := x.Execute(context.Background(), newInvocation("nope", nil))
	if err == nil {
		t.Fatal("expected error for unregistered activity")
	}
	if !IsTerminal(err) {
		t.Error("unregistered activity should be terminal")
	}
}

func TestExecuteContextCancelled(t *testing.T) {
	reg := NewRegistry()
	RegisterDefinition(reg, NewActivity("slow", func(ctx context.Context, _ struct{}) (struct{}, error) {
		return struct{}{}, errors.New("transient")
	}, WithRetryPolicy(backoff.Policy{
		InitialInterval: time.Minute,
		Coefficient:     1.0,
		MaxInterval:     time.Minute,
		MaxAttempts:     5,
	})))
	x := NewExecutor(reg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := x.Execute(ctx, newInvocation("slow", nil))
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Execute did not return after cancel")
	}
}

func TestExecuteAttemptTimeout(t *testing.T) {
	var calls int
	reg := NewRegistry()
	RegisterDefinition(reg, NewActivity("hang", func(ctx context.Context, _ struct{}) (struct{}, error) {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return struct{}{}, ctx.Err()
		}
		return struct{}{}, nil
	}, fastRetry(3), WithTimeout(20*time.Millisecond)))
	x := NewExecutor(reg)

	_, err := x.Execute(context.Background(), newInvocation("hang", nil))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (timeout then success)", calls)
	}
}

func TestExecuteMiddlewareOrder(t *testing.T) {
	var order []string
	var mu sync.Mutex
	tag := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, input []byte) ([]byte, error) {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return next(ctx, input)
			}
		}
	}

	reg := NewRegistry()
	RegisterDefinition(reg, NewActivity("noop", func(_ context.Context, _ struct{}) (struct{}, error) {
		return struct{}{}, nil
	}))
	x := NewExecutor(reg, WithMiddleware(tag("outer"), tag("inner")))

	if _, err := x.Execute(context.Background(), newInvocation("noop", nil)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(order) != 2 || order[0] != "outer" || order[1] != "inner" {
		t.Errorf("middleware order = %v, want [outer inner]", order)
	}
}

func TestExecuteEmitsRetryEvents(t *testing.T) {
	em := &recordingEmitter{}
	reg := NewRegistry()
	var calls int
	RegisterDefinition(reg, NewActivity("flaky", func(_ context.Context, _ struct{}) (struct{}, error) {
		calls++
		if calls < 2 {
			return struct{}{}, errors.New("transient")
		}
		return struct{}{}, nil
	}, fastRetry(3)))
	x := NewExecutor(reg, WithEmitter(em))

	if _, err := x.Execute(context.Background(), newInvocation("flaky", nil)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if em.retries != 1 {
		t.Errorf("retries emitted = %d, want 1", em.retries)
	}
	if em.failures != 0 {
		t.Errorf("failures emitted = %d, want 0", em.failures)
	}
}

func TestInvocationIDStable(t *testing.T) {
	runID := id.NewRunID()
	a := InvocationID(runID, "place-hold")
	b := InvocationID(runID, "place-hold")
	if a != b {
		t.Errorf("InvocationID not stable: %q != %q", a, b)
	}
	if c := InvocationID(runID, "release-hold"); c == a {
		t.Error("different steps must yield different invocation ids")
	}
}

func TestFromContext(t *testing.T) {
	reg := NewRegistry()
	var seen *Invocation
	RegisterDefinition(reg, NewActivity("probe", func(ctx context.Context, _ struct{}) (struct{}, error) {
		seen, _ = FromContext(ctx)
		return struct{}{}, nil
	}))
	x := NewExecutor(reg)

	inv := newInvocation("probe", nil)
	if _, err := x.Execute(context.Background(), inv); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if seen == nil || seen.ID != inv.ID {
		t.Errorf("FromContext = %+v, want invocation %q", seen, inv.ID)
	}
}

type recordingEmitter struct {
	mu       sync.Mutex
	retries  int
	failures int
}

func (r *recordingEmitter) ActivityRetrying(_ context.Context, _ *Invocation, _ error, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries++
}

func (r *recordingEmitter) ActivityFailed(_ context.Context, _ *Invocation, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures++
}
