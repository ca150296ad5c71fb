package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/aksrustagi/settle/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"RunID", id.NewRunID, "run_"},
		{"CheckpointID", id.NewCheckpointID, "ckpt_"},
		{"SignalID", id.NewSignalID, "sig_"},
		{"HoldID", id.NewHoldID, "hold_"},
		{"OrderID", id.NewOrderID, "ord_"},
		{"TransferID", id.NewTransferID, "xfer_"},
		{"AuditID", id.NewAuditID, "audit_"},
		{"ReviewID", id.NewReviewID, "review_"},
		{"PositionID", id.NewPositionID, "pos_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
	}{
		{"RunID", id.NewRunID, id.ParseRunID},
		{"SignalID", id.NewSignalID, id.ParseSignalID},
		{"HoldID", id.NewHoldID, id.ParseHoldID},
		{"OrderID", id.NewOrderID, id.ParseOrderID},
		{"TransferID", id.NewTransferID, id.ParseTransferID},
		{"AuditID", id.NewAuditID, id.ParseAuditID},
		{"ReviewID", id.NewReviewID, id.ParseReviewID},
		{"PositionID", id.NewPositionID, id.ParsePositionID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		parseFn func(string) (id.ID, error)
	}{
		{"ParseRunID rejects hold_", id.NewHoldID().String(), id.ParseRunID},
		{"ParseHoldID rejects ord_", id.NewOrderID().String(), id.ParseHoldID},
		{"ParseOrderID rejects xfer_", id.NewTransferID().String(), id.ParseOrderID},
		{"ParseSignalID rejects run_", id.NewRunID().String(), id.ParseSignalID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.parseFn(tt.input)
			if err == nil {
				t.Errorf("expected error for cross-type parse of %q, got nil", tt.input)
			}
		})
	}
}

func TestJSONRoundTrip(t *testing.T) {
	original := id.NewRunID()

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var parsed id.ID
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if parsed.String() != original.String() {
		t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
	}
}

func TestNilID(t *testing.T) {
	if !id.Nil.IsNil() {
		t.Error("Nil.IsNil() = false")
	}
	if id.Nil.String() != "" {
		t.Errorf("Nil.String() = %q, want empty", id.Nil.String())
	}
	if _, err := id.Parse(""); err == nil {
		t.Error("Parse(\"\") should fail")
	}
}
