package store

import (
	"context"
	"errors"
	"testing"

	"github.com/JonMunkholm/crmport/internal/core"
)

func TestMemory_InsertAssignsID(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	rec, err := m.Insert(ctx, "deals", core.Record{"deal_name": "Acme"})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if rec.ID() == "" {
		t.Fatal("Insert() returned record without id")
	}
	if got := m.Len("deals"); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}

	if _, err := m.Insert(ctx, "deals", core.Record{"id": rec.ID()}); err == nil {
		t.Error("Insert() with existing id should fail")
	}
}

func TestMemory_UpdateIsSparse(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	rec, _ := m.Insert(ctx, "deals", core.Record{"deal_name": "Acme", "priority": int64(2)})

	got, err := m.Update(ctx, "deals", rec.ID(), core.Record{"stage": "Won"})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got["deal_name"] != "Acme" || got["priority"] != int64(2) || got["stage"] != "Won" {
		t.Errorf("Update() = %v, want untouched fields kept", got)
	}

	_, err = m.Update(ctx, "deals", "missing", core.Record{"stage": "Won"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMemory_Select(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	a, _ := m.Insert(ctx, "deals", core.Record{"deal_name": "Acme Rollout", "probability": 50.0})
	b, _ := m.Insert(ctx, "deals", core.Record{"deal_name": "Beta", "probability": 75.0})
	m.Insert(ctx, "deals", core.Record{"deal_name": "Gamma"})

	tests := []struct {
		name    string
		query   core.Query
		wantIDs []string
	}{
		{
			name:    "all in insertion order",
			query:   core.Query{},
			wantIDs: nil, // checked by count below
		},
		{
			name:    "by id",
			query:   core.Query{IDs: []string{b.ID()}},
			wantIDs: []string{b.ID()},
		},
		{
			name:    "case-insensitive text",
			query:   core.Query{Conditions: []core.Condition{{Field: "deal_name", Value: "ACME ROLLOUT", Fold: true}}},
			wantIDs: []string{a.ID()},
		},
		{
			name:    "case-sensitive text misses",
			query:   core.Query{Conditions: []core.Condition{{Field: "deal_name", Value: "ACME ROLLOUT"}}},
			wantIDs: []string{},
		},
		{
			name:    "numeric across types",
			query:   core.Query{Conditions: []core.Condition{{Field: "probability", Value: int64(75)}}},
			wantIDs: []string{b.ID()},
		},
		{
			name:    "limit",
			query:   core.Query{Limit: 1},
			wantIDs: []string{a.ID()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := m.Select(ctx, "deals", tt.query)
			if err != nil {
				t.Fatalf("Select() error = %v", err)
			}
			if tt.wantIDs == nil {
				if len(rows) != 3 {
					t.Errorf("Select() returned %d rows, want 3", len(rows))
				}
				return
			}
			if len(rows) != len(tt.wantIDs) {
				t.Fatalf("Select() returned %d rows, want %d", len(rows), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if rows[i].ID() != id {
					t.Errorf("row %d id = %s, want %s", i, rows[i].ID(), id)
				}
			}
		})
	}
}

func TestMemory_ReturnsCopies(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	rec, _ := m.Insert(ctx, "meetings", core.Record{"participants": []string{"Ann", "Bob"}})
	rec["participants"].([]string)[0] = "Mallory"

	rows, _ := m.Select(ctx, "meetings", core.Query{})
	if got := rows[0]["participants"].([]string)[0]; got != "Ann" {
		t.Errorf("stored participant = %q, want Ann", got)
	}
}

func TestMemory_Delete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	rec, _ := m.Insert(ctx, "contacts", core.Record{"contact_name": "Ann"})
	if err := m.Delete(ctx, "contacts", rec.ID()); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got := m.Len("contacts"); got != 0 {
		t.Errorf("Len() after Delete = %d, want 0", got)
	}
	if err := m.Delete(ctx, "contacts", rec.ID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "oracle", "", PoolOptions{}); err == nil {
		t.Error("Open(oracle) should fail")
	}
	b, err := Open(context.Background(), "", "", PoolOptions{})
	if err != nil {
		t.Fatalf("Open(\"\") error = %v", err)
	}
	if _, ok := b.(*Memory); !ok {
		t.Errorf("Open(\"\") = %T, want *Memory", b)
	}
}
