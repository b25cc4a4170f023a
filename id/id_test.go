package id_test

import (
	"strings"
	"testing"

	"github.com/xraph/passledger/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"PassTokenID", id.NewPassTokenID, "ptok_"},
		{"AuditID", id.NewAuditID, "saud_"},
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
		{"PassTokenID", id.NewPassTokenID, id.ParsePassTokenID},
		{"AuditID", id.NewAuditID, id.ParseAuditID},
		{"Any", id.NewPassTokenID, id.ParseAny},
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
	if _, err := id.ParsePassTokenID(id.NewAuditID().String()); err == nil {
		t.Error("ParsePassTokenID accepted a saud_ id")
	}
	if _, err := id.ParseAuditID(id.NewPassTokenID().String()); err == nil {
		t.Error("ParseAuditID accepted a ptok_ id")
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Error("expected error for empty string")
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero-value ID should be nil")
	}
	if i.String() != "" {
		t.Errorf("expected empty string, got %q", i.String())
	}
	v, err := i.Value()
	if err != nil || v != nil {
		t.Errorf("expected NULL value, got %v (%v)", v, err)
	}
}

func TestScan(t *testing.T) {
	original := id.NewPassTokenID()

	var fromString id.ID
	if err := fromString.Scan(original.String()); err != nil {
		t.Fatalf("Scan(string) failed: %v", err)
	}
	if fromString.String() != original.String() {
		t.Errorf("mismatch: %q != %q", fromString.String(), original.String())
	}

	var fromBytes id.ID
	if err := fromBytes.Scan([]byte(original.String())); err != nil {
		t.Fatalf("Scan([]byte) failed: %v", err)
	}

	var fromNil id.ID
	if err := fromNil.Scan(nil); err != nil || !fromNil.IsNil() {
		t.Errorf("Scan(nil) should produce Nil, got %q (%v)", fromNil.String(), err)
	}

	var bad id.ID
	if err := bad.Scan(42); err == nil {
		t.Error("expected error scanning int")
	}
}

func TestMarshalUnmarshalText(t *testing.T) {
	original := id.NewPassTokenID()
	data, err := original.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}

	var restored id.ID
	if err := restored.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if restored.String() != original.String() {
		t.Errorf("mismatch: %q != %q", restored.String(), original.String())
	}

	var nilID id.ID
	data, err = nilID.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText(nil) failed: %v", err)
	}
	var restored2 id.ID
	if err := restored2.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText(nil) failed: %v", err)
	}
	if !restored2.IsNil() {
		t.Error("expected nil after round-trip of nil ID")
	}
}
