package core

// mapper.go maps free-form CSV header text to canonical field names.
//
// Matching runs in a fixed order and stops at the first hit:
//  1. exact, case-insensitive match on a canonical column
//  2. normalized match (whitespace and hyphens folded to underscores)
//  3. the entity's synonym table
//
// Anything else is unmapped and the column is dropped.

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// MatchRule names the step that resolved (or failed to resolve) a header.
type MatchRule string

const (
	RuleExact      MatchRule = "exact"
	RuleNormalized MatchRule = "normalized"
	RuleSynonym    MatchRule = "synonym"
	RuleUnmapped   MatchRule = "unmapped"
	RuleDuplicate  MatchRule = "duplicate" // Field already claimed by an earlier column
)

// TraceEvent records one header mapping decision.
type TraceEvent struct {
	Entity string    `json:"entity"`
	Header string    `json:"header"`
	Field  string    `json:"field,omitempty"`
	Rule   MatchRule `json:"rule"`
}

// HeaderMapper resolves headers for one entity. Safe for concurrent use.
type HeaderMapper struct {
	cfg        *EntityConfig
	exact      map[string]string
	normalized map[string]string
	synonyms   map[string]string
	tracer     func(TraceEvent)
	logger     *slog.Logger
}

// MapperOption configures a HeaderMapper.
type MapperOption func(*HeaderMapper)

// WithTracer registers a hook invoked for every mapping decision.
func WithTracer(fn func(TraceEvent)) MapperOption {
	return func(m *HeaderMapper) { m.tracer = fn }
}

// WithMapperLogger logs every mapping decision at DEBUG.
func WithMapperLogger(logger *slog.Logger) MapperOption {
	return func(m *HeaderMapper) { m.logger = logger }
}

// NewHeaderMapper builds the lookup tables for an entity once.
func NewHeaderMapper(cfg *EntityConfig, opts ...MapperOption) *HeaderMapper {
	m := &HeaderMapper{
		cfg:        cfg,
		exact:      make(map[string]string, len(cfg.Fields)),
		normalized: make(map[string]string, len(cfg.Fields)),
		synonyms:   make(map[string]string),
	}

	for _, f := range cfg.Fields {
		m.exact[foldHeader(f.Name)] = f.Name
		m.normalized[normalizeHeader(f.Name)] = f.Name
		for _, syn := range f.Synonyms {
			m.synonyms[foldHeader(syn)] = f.Name
			m.synonyms[normalizeHeader(syn)] = f.Name
		}
	}

	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Map returns the canonical field for a header, or false if it is unmapped.
// A returned field is always one of the entity's allowed columns.
func (m *HeaderMapper) Map(header string) (string, bool) {
	field, rule := m.resolve(header)
	m.trace(TraceEvent{Entity: m.cfg.Name, Header: header, Field: field, Rule: rule})
	return field, rule != RuleUnmapped
}

func (m *HeaderMapper) resolve(header string) (string, MatchRule) {
	folded := foldHeader(header)
	if folded == "" {
		return "", RuleUnmapped
	}
	if field, ok := m.exact[folded]; ok {
		return field, RuleExact
	}

	normalized := normalizeHeader(header)
	if field, ok := m.normalized[normalized]; ok {
		return field, RuleNormalized
	}

	if field, ok := m.synonyms[normalized]; ok {
		return field, RuleSynonym
	}
	if field, ok := m.synonyms[folded]; ok {
		return field, RuleSynonym
	}

	return "", RuleUnmapped
}

func (m *HeaderMapper) trace(ev TraceEvent) {
	if m.tracer != nil {
		m.tracer(ev)
	}
	if m.logger != nil {
		m.logger.Debug("header mapping",
			"entity", ev.Entity,
			"header", ev.Header,
			"field", ev.Field,
			"rule", ev.Rule,
		)
	}
}

// HeaderMapping is the result of mapping a full header row.
type HeaderMapping struct {
	Fields   []string     // Canonical field per column index, "" if unmapped
	Unmapped []string     // Original text of unmapped headers
	Trace    []TraceEvent // One decision per column
}

// Mapped returns the number of columns that resolved to a field.
func (hm HeaderMapping) Mapped() int {
	n := 0
	for _, f := range hm.Fields {
		if f != "" {
			n++
		}
	}
	return n
}

// MapHeaders maps every header of a CSV header row.
// When two headers resolve to the same field the first one wins.
func (m *HeaderMapper) MapHeaders(headers []string) HeaderMapping {
	hm := HeaderMapping{
		Fields: make([]string, len(headers)),
		Trace:  make([]TraceEvent, 0, len(headers)),
	}
	claimed := make(map[string]bool, len(headers))

	for i, h := range headers {
		field, rule := m.resolve(h)
		if rule != RuleUnmapped && claimed[field] {
			rule = RuleDuplicate
		}

		ev := TraceEvent{Entity: m.cfg.Name, Header: h, Field: field, Rule: rule}
		m.trace(ev)
		hm.Trace = append(hm.Trace, ev)

		switch rule {
		case RuleUnmapped, RuleDuplicate:
			hm.Unmapped = append(hm.Unmapped, h)
		default:
			hm.Fields[i] = field
			claimed[field] = true
		}
	}

	return hm
}

// foldHeader trims and case-folds a header after removing CSV artifacts.
func foldHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = CleanCell(h)
	return cases.Fold().String(h)
}

// normalizeHeader folds a header, strips diacritics, and turns runs of
// whitespace, hyphens and underscores into a single underscore.
func normalizeHeader(h string) string {
	h = stripDiacritics(foldHeader(h))

	var b strings.Builder
	b.Grow(len(h))
	pendingSep := false
	for _, r := range h {
		if unicode.IsSpace(r) || r == '-' || r == '_' {
			pendingSep = true
			continue
		}
		if pendingSep && b.Len() > 0 {
			b.WriteByte('_')
		}
		pendingSep = false
		b.WriteRune(r)
	}
	return b.String()
}

// stripDiacritics removes combining marks after NFD decomposition.
func stripDiacritics(s string) string {
	decomposed := norm.NFD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// checkSynonyms rejects synonym tables where one header variant would resolve
// to two different fields, or would shadow another field's own name.
func (c *EntityConfig) checkSynonyms() error {
	owner := make(map[string]string)
	for _, f := range c.Fields {
		owner[normalizeHeader(f.Name)] = f.Name
	}

	for _, f := range c.Fields {
		for _, syn := range f.Synonyms {
			key := normalizeHeader(syn)
			if key == "" {
				return fmt.Errorf("field %s has an empty synonym", f.Name)
			}
			if prev, ok := owner[key]; ok && prev != f.Name {
				return fmt.Errorf("synonym %q of %s collides with %s", syn, f.Name, prev)
			}
			owner[key] = f.Name
		}
	}
	return nil
}
