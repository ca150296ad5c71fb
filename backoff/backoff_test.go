package backoff_test

import (
	"testing"
	"time"

	"github.com/aksrustagi/settle/backoff"
)

func TestConstant(t *testing.T) {
	c := backoff.NewConstant(5 * time.Second)
	for _, attempt := range []int{1, 2, 10} {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want 5s", attempt, got)
		}
	}
}

func TestLinear(t *testing.T) {
	l := backoff.NewLinear(1*time.Second, 5*time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 3 * time.Second},
		{5, 5 * time.Second},
		{10, 5 * time.Second}, // capped
	}

	for _, tt := range tests {
		if got := l.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential(t *testing.T) {
	e := backoff.NewExponential(1*time.Second, 10*time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // capped
		{10, 10 * time.Second},
	}

	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponentialWithJitter_Bounds(t *testing.T) {
	e := backoff.NewExponentialWithJitter(1*time.Second, 8*time.Second)

	for attempt := 1; attempt <= 6; attempt++ {
		got := e.Delay(attempt)
		if got < 0 {
			t.Errorf("Delay(%d) = %v, want >= 0", attempt, got)
		}
		if got > 8*time.Second {
			t.Errorf("Delay(%d) = %v, want <= cap", attempt, got)
		}
	}
}

func TestPolicy_Delay(t *testing.T) {
	p := backoff.Policy{
		InitialInterval: 1 * time.Second,
		Coefficient:     2.0,
		MaxInterval:     30 * time.Second,
		MaxAttempts:     6,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second}, // capped
	}

	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestPolicy_Exhausted(t *testing.T) {
	p := backoff.Policy{MaxAttempts: 3}
	if p.Exhausted(2) {
		t.Error("Exhausted(2) = true, want false")
	}
	if !p.Exhausted(3) {
		t.Error("Exhausted(3) = false, want true")
	}

	single := backoff.NoRetry()
	if !single.Exhausted(1) {
		t.Error("NoRetry().Exhausted(1) = false, want true")
	}
}
