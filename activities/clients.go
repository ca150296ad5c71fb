package activities

import (
	"context"
	"fmt"
	"sync"
)

// Identity is the KYC/accreditation provider boundary.
type Identity interface {
	CheckEligibility(ctx context.Context, in EligibilityInput) (*EligibilityResult, error)
}

// Risk is the fraud-scoring boundary.
type Risk interface {
	ScoreWithdrawal(ctx context.Context, in ScoreWithdrawalInput) (*RiskResult, error)
}

// MFA is the step-up confirmation boundary.
type MFA interface {
	// Challenge delivers a one-time code and returns the challenge id.
	Challenge(ctx context.Context, account string) (string, error)
	// Verify checks a user-provided code against a challenge.
	Verify(ctx context.Context, challengeID, code string) (bool, error)
}

// Notifier delivers user-facing messages.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// ──────────────────────────────────────────────────
// In-memory implementations for tests and development
// ──────────────────────────────────────────────────

// StubIdentity returns a fixed eligibility result.
type StubIdentity struct {
	Result EligibilityResult
	Err    error
}

// ApproveAll returns an identity provider that approves everything.
func ApproveAll() *StubIdentity {
	return &StubIdentity{Result: EligibilityResult{Decision: DecisionApproved}}
}

func (s *StubIdentity) CheckEligibility(_ context.Context, _ EligibilityInput) (*EligibilityResult, error) {
	if s.Err != nil {
		return nil, s.Err
	}

	result := s.Result

	return &result, nil
}

// StubRisk returns a fixed fraud verdict.
type StubRisk struct {
	Result RiskResult
	Err    error
}

// ClearAll returns a risk engine that clears everything.
func ClearAll() *StubRisk {
	return &StubRisk{}
}

func (s *StubRisk) ScoreWithdrawal(_ context.Context, _ ScoreWithdrawalInput) (*RiskResult, error) {
	if s.Err != nil {
		return nil, s.Err
	}

	result := s.Result

	return &result, nil
}

// StubMFA accepts exactly one code for every challenge.
type StubMFA struct {
	mu sync.Mutex
	// AcceptCode is the code Verify treats as correct.
	AcceptCode string
	seq        int
}

// NewStubMFA returns an MFA provider accepting the given code.
func NewStubMFA(acceptCode string) *StubMFA {
	return &StubMFA{AcceptCode: acceptCode}
}

func (s *StubMFA) Challenge(_ context.Context, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++

	return fmt.Sprintf("chal-%d", s.seq), nil
}

func (s *StubMFA) Verify(_ context.Context, _, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return code == s.AcceptCode, nil
}

// RecordingNotifier captures every notification sent.
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

// NewRecordingNotifier returns an empty recorder.
func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

func (r *RecordingNotifier) Send(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sent = append(r.sent, n)

	return nil
}

// Sent returns a copy of all captured notifications.
func (r *RecordingNotifier) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Notification, len(r.sent))
	copy(out, r.sent)

	return out
}
