package core

import (
	"fmt"
	"sort"
	"strings"
)

// CandidateRecord is a converted CSV row keyed by canonical field name.
// Set is its only mutator and rejects fields outside the entity's columns
// and enum values outside the legal set.
type CandidateRecord struct {
	cfg    *EntityConfig
	values map[string]any
}

// NewCandidateRecord returns an empty record for an entity.
func NewCandidateRecord(cfg *EntityConfig) *CandidateRecord {
	return &CandidateRecord{cfg: cfg, values: make(map[string]any)}
}

// BuildCandidate converts one raw row using a header mapping. Cells that
// convert to null are omitted.
func BuildCandidate(cfg *EntityConfig, mapping HeaderMapping, row []string) *CandidateRecord {
	rec := NewCandidateRecord(cfg)
	for i, field := range mapping.Fields {
		if field == "" || i >= len(row) {
			continue
		}
		spec, _ := cfg.Field(field)
		if v, ok := ConvertValue(spec, row[i]); ok {
			rec.values[field] = v
		}
	}
	return rec
}

// Entity returns the record's entity config.
func (r *CandidateRecord) Entity() *EntityConfig { return r.cfg }

// Set stores a value for a canonical field. A nil value removes the field.
func (r *CandidateRecord) Set(field string, value any) error {
	spec, ok := r.cfg.Field(field)
	if !ok {
		return fmt.Errorf("%s is not a %s column", field, r.cfg.Name)
	}
	if value == nil {
		delete(r.values, field)
		return nil
	}
	if spec.Type == FieldEnum {
		s, isString := value.(string)
		if !isString {
			return fmt.Errorf("%s must be a string", field)
		}
		canonical, ok := ToEnum(s, spec.EnumValues)
		if !ok {
			return fmt.Errorf("invalid %s %q", field, s)
		}
		value = canonical
	}
	r.values[field] = value
	return nil
}

// Get returns a field's value.
func (r *CandidateRecord) Get(field string) (any, bool) {
	v, ok := r.values[field]
	return v, ok
}

// String returns a field's value as text, or "" if absent.
func (r *CandidateRecord) String(field string) string {
	v, ok := r.values[field]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Has reports whether a field is present with a non-empty value.
func (r *CandidateRecord) Has(field string) bool {
	v, ok := r.values[field]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t) != ""
	case []string:
		return len(t) > 0
	}
	return true
}

// Len returns the number of non-null fields.
func (r *CandidateRecord) Len() int { return len(r.values) }

// Fields returns the present field names, sorted.
func (r *CandidateRecord) Fields() []string {
	out := make([]string, 0, len(r.values))
	for k := range r.values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Record copies the values into a store record.
func (r *CandidateRecord) Record() Record {
	out := make(Record, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}
