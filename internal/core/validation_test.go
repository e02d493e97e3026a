package core_test

import (
	"strings"
	"testing"

	"github.com/JonMunkholm/crmport/internal/core"
)

// candidate builds a record through Set, failing the test on rejected values.
func candidate(t *testing.T, cfg *core.EntityConfig, values map[string]any) *core.CandidateRecord {
	t.Helper()
	rec := core.NewCandidateRecord(cfg)
	for k, v := range values {
		if err := rec.Set(k, v); err != nil {
			t.Fatalf("Set(%s) error = %v", k, err)
		}
	}
	return rec
}

// =============================================================================
// CandidateRecord Tests
// =============================================================================

func TestCandidateRecord_Set(t *testing.T) {
	deals := mustEntity(t, "deals")

	tests := []struct {
		name    string
		field   string
		value   any
		want    any
		wantErr bool
	}{
		{"text", "deal_name", "Acme", "Acme", false},
		{"enum canonicalized", "stage", "won", "Won", false},
		{"enum rejected", "stage", "Whatever", nil, true},
		{"enum wrong type", "stage", 3, nil, true},
		{"unknown column", "colour", "red", nil, true},
		{"system column", "created_by", "alice", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := core.NewCandidateRecord(deals)
			err := rec.Set(tt.field, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Set() error = %v, wantErr %v", err, tt.wantErr)
			}
			got, ok := rec.Get(tt.field)
			if tt.wantErr {
				if ok {
					t.Errorf("rejected value stored: %v", got)
				}
				return
			}
			if got != tt.want {
				t.Errorf("Get(%s) = %v, want %v", tt.field, got, tt.want)
			}
		})
	}
}

func TestCandidateRecord_NilRemoves(t *testing.T) {
	rec := candidate(t, mustEntity(t, "deals"), map[string]any{"deal_name": "Acme", "notes": "x"})
	if err := rec.Set("notes", nil); err != nil {
		t.Fatal(err)
	}
	if rec.Has("notes") || rec.Len() != 1 {
		t.Errorf("Fields() = %v, want [deal_name]", rec.Fields())
	}
}

func TestCandidateRecord_Has(t *testing.T) {
	rec := candidate(t, mustEntity(t, "contacts"), map[string]any{
		"contact_name": "   ",
		"tags":         []string{},
		"email":        "a@b.c",
	})

	tests := []struct {
		field string
		want  bool
	}{
		{"contact_name", false},
		{"tags", false},
		{"email", true},
		{"phone", false},
	}
	for _, tt := range tests {
		if got := rec.Has(tt.field); got != tt.want {
			t.Errorf("Has(%s) = %v, want %v", tt.field, got, tt.want)
		}
	}
}

// =============================================================================
// ValidateRecord Tests
// =============================================================================

func TestValidateRecord(t *testing.T) {
	tests := []struct {
		name       string
		entity     string
		values     map[string]any
		wantValid  bool
		wantReason string
	}{
		{
			name:      "valid deal",
			entity:    "deals",
			values:    map[string]any{"deal_name": "Acme", "stage": "Lead", "probability": 40.0, "priority": int64(3)},
			wantValid: true,
		},
		{
			name:       "missing deal_name",
			entity:     "deals",
			values:     map[string]any{"stage": "Lead"},
			wantReason: "missing deal_name",
		},
		{
			name:       "blank deal_name",
			entity:     "deals",
			values:     map[string]any{"deal_name": "  ", "stage": "Lead"},
			wantReason: "missing deal_name",
		},
		{
			name:       "missing stage",
			entity:     "deals",
			values:     map[string]any{"deal_name": "Acme"},
			wantReason: "missing stage",
		},
		{
			name:       "probability out of range",
			entity:     "deals",
			values:     map[string]any{"deal_name": "Acme", "stage": "Won", "probability": 150.0},
			wantReason: "probability 150 out of range [0, 100]",
		},
		{
			name:       "priority out of range",
			entity:     "deals",
			values:     map[string]any{"deal_name": "Acme", "stage": "Won", "priority": int64(0)},
			wantReason: "priority 0 out of range [1, 5]",
		},
		{
			name:       "non-numeric probability",
			entity:     "deals",
			values:     map[string]any{"deal_name": "Acme", "stage": "Won", "probability": "lots"},
			wantReason: "invalid number for probability",
		},
		{
			name:       "missing contact_name",
			entity:     "contacts",
			values:     map[string]any{"email": "a@b.c"},
			wantReason: "missing contact_name",
		},
		{
			name:      "valid lead without status",
			entity:    "leads",
			values:    map[string]any{"lead_name": "Ann"},
			wantValid: true,
		},
		{
			name:       "meeting needs start_time",
			entity:     "meetings",
			values:     map[string]any{"title": "Kickoff"},
			wantReason: "missing start_time",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := mustEntity(t, tt.entity)
			res := core.ValidateRecord(cfg, candidate(t, cfg, tt.values))
			if res.Valid != tt.wantValid {
				t.Fatalf("Valid = %v, want %v (reason %q)", res.Valid, tt.wantValid, res.Reason())
			}
			if !tt.wantValid && !strings.Contains(res.Reason(), tt.wantReason) {
				t.Errorf("Reason() = %q, want containing %q", res.Reason(), tt.wantReason)
			}
		})
	}
}

func TestValidateRecord_CollectsAllErrors(t *testing.T) {
	deals := mustEntity(t, "deals")
	res := core.ValidateRecord(deals, candidate(t, deals, map[string]any{"probability": -1.0}))

	if res.Valid || len(res.Errors) != 3 {
		t.Fatalf("Errors = %v, want 3", res.Errors)
	}
	if got := res.Reason(); got != "missing deal_name; missing stage; probability -1 out of range [0, 100]" {
		t.Errorf("Reason() = %q", got)
	}
}

func TestValidateRecord_Nil(t *testing.T) {
	res := core.ValidateRecord(mustEntity(t, "deals"), nil)
	if res.Valid {
		t.Error("nil record should be invalid")
	}
}
