package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/JonMunkholm/crmport/internal/core"
)

// Memory is an in-process Backend. Records are copied on the way in and out.
type Memory struct {
	mu     sync.RWMutex
	tables map[string]*memTable
}

type memTable struct {
	order []string
	rows  map[string]core.Record
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{tables: make(map[string]*memTable)}
}

func (m *Memory) table(name string) *memTable {
	t, ok := m.tables[name]
	if !ok {
		t = &memTable{rows: make(map[string]core.Record)}
		m.tables[name] = t
	}
	return t
}

// Insert stores a record. A caller-supplied id is kept if unused.
func (m *Memory) Insert(_ context.Context, table string, rec core.Record) (core.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.table(table)
	row := copyRecord(rec)

	id := row.ID()
	if id == "" {
		id = uuid.New().String()
	} else if _, exists := t.rows[id]; exists {
		return nil, fmt.Errorf("insert %s: duplicate key id=%s", table, id)
	}
	row["id"] = id

	t.rows[id] = row
	t.order = append(t.order, id)
	return copyRecord(row), nil
}

// Update merges patch into the record with the given id.
func (m *Memory) Update(_ context.Context, table, id string, patch core.Record) (core.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.table(table).rows[id]
	if !ok {
		return nil, notFound(table, id)
	}
	for k, v := range copyRecord(patch) {
		if k == "id" {
			continue
		}
		row[k] = v
	}
	return copyRecord(row), nil
}

// Select returns matching records in insertion order.
func (m *Memory) Select(_ context.Context, table string, q core.Query) ([]core.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tables[table]
	if !ok {
		return nil, nil
	}

	var ids map[string]bool
	if len(q.IDs) > 0 {
		ids = make(map[string]bool, len(q.IDs))
		for _, id := range q.IDs {
			ids[id] = true
		}
	}

	var out []core.Record
	for _, id := range t.order {
		if ids != nil && !ids[id] {
			continue
		}
		row := t.rows[id]
		if !matches(row, q.Conditions) {
			continue
		}
		out = append(out, copyRecord(row))
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// Delete removes a record.
func (m *Memory) Delete(_ context.Context, table, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.table(table)
	if _, ok := t.rows[id]; !ok {
		return notFound(table, id)
	}
	delete(t.rows, id)
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return nil
}

// Len returns the number of records in a table.
func (m *Memory) Len(table string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.tables[table]; ok {
		return len(t.rows)
	}
	return 0
}

func (m *Memory) EnsureSchema(context.Context, []*core.EntityConfig) error { return nil }
func (m *Memory) Ping(context.Context) error                              { return nil }
func (m *Memory) Close() error                                            { return nil }

func matches(row core.Record, conds []core.Condition) bool {
	for _, c := range conds {
		if !valuesEqual(row[c.Field], c.Value, c.Fold) {
			return false
		}
	}
	return true
}

// valuesEqual compares numbers numerically and everything else by text.
func valuesEqual(stored, want any, fold bool) bool {
	if stored == nil || want == nil {
		return stored == nil && want == nil
	}
	if _, isString := stored.(string); !isString {
		if a, ok := asFloat(stored); ok {
			if b, ok := asFloat(want); ok {
				return a == b
			}
		}
	}
	a, b := asText(stored), asText(want)
	if fold {
		return strings.EqualFold(a, b)
	}
	return a == b
}

func copyRecord(rec core.Record) core.Record {
	out := make(core.Record, len(rec))
	for k, v := range rec {
		if list, ok := v.([]string); ok {
			v = append([]string(nil), list...)
		}
		out[k] = v
	}
	return out
}
