package core

// duplicates.go decides whether an incoming record already exists.
//
// Lookup order:
//  1. id, when the record carries one
//  2. each natural key group of the entity, in declaration order
//     (deals: deal_name case-insensitively, then project_name + customer_name)
//
// A natural key group is only tried when every field in it has a value.
// Store errors are logged and treated as "not a duplicate": the row is
// inserted rather than dropped.

import (
	"context"
	"log/slog"
	"strings"
)

// DuplicateMatch describes an existing record that matches a candidate.
type DuplicateMatch struct {
	Found bool
	ID    string // Matched record id
	Key   string // Fields that matched, e.g. "deal_name" or "email+contact_name"
}

// DuplicateChecker looks up candidates in a Store.
type DuplicateChecker struct {
	store  Store
	logger *slog.Logger
}

// NewDuplicateChecker creates a checker. A nil logger uses slog.Default().
func NewDuplicateChecker(store Store, logger *slog.Logger) *DuplicateChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &DuplicateChecker{store: store, logger: logger}
}

// Check reports whether rec matches a stored record.
func (d *DuplicateChecker) Check(ctx context.Context, cfg *EntityConfig, rec *CandidateRecord) DuplicateMatch {
	return d.CheckBatch(ctx, cfg, rec, nil)
}

// CheckBatch is Check with an in-run index consulted before the store for
// every natural key, so rows earlier in the same file count as existing.
func (d *DuplicateChecker) CheckBatch(ctx context.Context, cfg *EntityConfig, rec *CandidateRecord, batch *BatchIndex) DuplicateMatch {
	if id := rec.String("id"); id != "" {
		if m := d.lookup(ctx, cfg, "id", Query{IDs: []string{id}, Limit: 1}); m.Found {
			return m
		}
	}

	for _, nk := range cfg.NaturalKeys {
		conds, ok := keyConditions(nk, rec)
		if !ok {
			continue
		}
		name := strings.Join(nk.Fields, "+")

		if batch != nil {
			if id, ok := batch.get(cfg, nk, rec); ok {
				return DuplicateMatch{Found: true, ID: id, Key: name}
			}
		}

		if m := d.lookup(ctx, cfg, name, Query{Conditions: conds, Limit: 1}); m.Found {
			return m
		}
	}

	return DuplicateMatch{}
}

func (d *DuplicateChecker) lookup(ctx context.Context, cfg *EntityConfig, key string, q Query) DuplicateMatch {
	rows, err := d.store.Select(ctx, cfg.Table, q)
	if err != nil {
		d.logger.Warn("duplicate check failed, treating as new record",
			"entity", cfg.Name,
			"key", key,
			"error", err,
		)
		return DuplicateMatch{}
	}
	if len(rows) == 0 {
		return DuplicateMatch{}
	}
	return DuplicateMatch{Found: true, ID: rows[0].ID(), Key: key}
}

func keyConditions(nk NaturalKey, rec *CandidateRecord) ([]Condition, bool) {
	conds := make([]Condition, 0, len(nk.Fields))
	for _, f := range nk.Fields {
		if !rec.Has(f) {
			return nil, false
		}
		v, _ := rec.Get(f)
		conds = append(conds, Condition{Field: f, Value: v, Fold: nk.CaseInsensitive})
	}
	return conds, true
}

// BatchIndex remembers the natural keys written during one import run.
type BatchIndex struct {
	ids map[string]string
}

// NewBatchIndex returns an empty index.
func NewBatchIndex() *BatchIndex {
	return &BatchIndex{ids: make(map[string]string)}
}

// Remember records every natural key of rec as belonging to id.
func (b *BatchIndex) Remember(cfg *EntityConfig, rec *CandidateRecord, id string) {
	if id == "" {
		return
	}
	for _, nk := range cfg.NaturalKeys {
		if key, ok := batchKey(nk, rec); ok {
			b.ids[key] = id
		}
	}
}

// Len returns the number of remembered keys.
func (b *BatchIndex) Len() int { return len(b.ids) }

func (b *BatchIndex) get(cfg *EntityConfig, nk NaturalKey, rec *CandidateRecord) (string, bool) {
	key, ok := batchKey(nk, rec)
	if !ok {
		return "", false
	}
	id, found := b.ids[key]
	return id, found
}

func batchKey(nk NaturalKey, rec *CandidateRecord) (string, bool) {
	var b strings.Builder
	for i, f := range nk.Fields {
		if !rec.Has(f) {
			return "", false
		}
		v := rec.String(f)
		if nk.CaseInsensitive {
			v = strings.ToLower(v)
		}
		if i > 0 {
			b.WriteByte('\x1f')
		}
		b.WriteString(f)
		b.WriteByte('=')
		b.WriteString(v)
	}
	return b.String(), true
}
