package core

import (
	"context"
	"strconv"
	"time"
)

// FieldType represents the expected data type for a CSV field.
type FieldType int

const (
	FieldText FieldType = iota
	FieldEnum
	FieldDate
	FieldDateTime
	FieldNumber
	FieldInteger
	FieldBool
	FieldList
)

// FieldSpec defines conversion rules for a single entity column.
type FieldSpec struct {
	Name       string    // Canonical field name (storage column)
	Type       FieldType // Expected data type
	Required   bool      // Must be present and non-empty after conversion
	EnumValues []string  // Legal values for FieldEnum, canonical casing
	Min        *float64  // Optional lower clamp bound for numeric fields
	Max        *float64  // Optional upper clamp bound for numeric fields
	Synonyms   []string  // Accepted header variants besides the canonical name
}

// Numeric reports whether the field holds a number.
func (f FieldSpec) Numeric() bool {
	return f.Type == FieldNumber || f.Type == FieldInteger
}

// TimestampFields names the audit timestamp columns an entity stamps on write.
type TimestampFields struct {
	Created  string
	Modified string
}

// NaturalKey is a group of fields that identifies the same real-world record
// across imports.
type NaturalKey struct {
	Fields          []string
	CaseInsensitive bool
}

// EntityConfig is the immutable column configuration for one entity.
type EntityConfig struct {
	Name              string
	Table             string
	Fields            []FieldSpec
	NaturalKeys       []NaturalKey
	ExportFields      []string
	Timestamps        TimestampFields
	UpdateOnDuplicate bool

	index map[string]int
}

// AllowedColumns returns the canonical field names in declaration order.
func (c *EntityConfig) AllowedColumns() []string {
	cols := make([]string, len(c.Fields))
	for i, f := range c.Fields {
		cols[i] = f.Name
	}
	return cols
}

// RequiredFields returns the names of required fields.
func (c *EntityConfig) RequiredFields() []string {
	var req []string
	for _, f := range c.Fields {
		if f.Required {
			req = append(req, f.Name)
		}
	}
	return req
}

// EnumConstraints returns field -> legal values for every enum field.
func (c *EntityConfig) EnumConstraints() map[string][]string {
	out := make(map[string][]string)
	for _, f := range c.Fields {
		if f.Type == FieldEnum {
			out[f.Name] = f.EnumValues
		}
	}
	return out
}

// Field returns the spec for a canonical field name.
func (c *EntityConfig) Field(name string) (FieldSpec, bool) {
	i, ok := c.index[name]
	if !ok {
		return FieldSpec{}, false
	}
	return c.Fields[i], true
}

// HasField reports whether name is one of the allowed columns.
func (c *EntityConfig) HasField(name string) bool {
	_, ok := c.index[name]
	return ok
}

// SystemFields returns the store-managed columns that are not importable.
func (c *EntityConfig) SystemFields() []string {
	return []string{"created_by", "modified_by", c.Timestamps.Created, c.Timestamps.Modified}
}

// IsSystemField reports whether a header names a store-managed column of any entity.
func IsSystemField(name string) bool {
	switch name {
	case "created_by", "modified_by", "created_at", "modified_at", "created_time", "modified_time":
		return true
	}
	return false
}

// Record is the stored form of an entity as returned by a Store.
type Record map[string]any

// ID returns the record's id as a string, or "" if absent.
func (r Record) ID() string {
	if v, ok := r["id"].(string); ok {
		return v
	}
	return ""
}

// Condition is a single equality predicate on a stored field.
type Condition struct {
	Field string
	Value any
	Fold  bool // Case-insensitive comparison for text values
}

// Query selects records: all Conditions must hold, and if IDs is set the id
// must be one of them. Limit <= 0 means no limit.
type Query struct {
	Conditions []Condition
	IDs        []string
	Limit      int
}

// Store is the persistence collaborator. Each method addresses one entity table.
// Implementations assign ids on Insert and apply sparse patches on Update.
type Store interface {
	Insert(ctx context.Context, table string, rec Record) (Record, error)
	Update(ctx context.Context, table string, id string, patch Record) (Record, error)
	Select(ctx context.Context, table string, q Query) ([]Record, error)
	Delete(ctx context.Context, table string, id string) error
}

// ImportPhase indicates the current stage of an import run.
type ImportPhase string

const (
	PhaseStarting   ImportPhase = "starting"
	PhaseReading    ImportPhase = "reading"
	PhaseProcessing ImportPhase = "processing"
	PhaseComplete   ImportPhase = "complete"
	PhaseFailed     ImportPhase = "failed"
	PhaseCancelled  ImportPhase = "cancelled"
)

// ImportProgress represents the current state of an import run.
type ImportProgress struct {
	ImportID   string      `json:"import_id"`
	Entity     string      `json:"entity"`
	Phase      ImportPhase `json:"phase"`
	FileName   string      `json:"file_name"`
	TotalRows  int         `json:"total_rows"`
	CurrentRow int         `json:"current_row"`
	Error      string      `json:"error,omitempty"`
}

// Percent returns the progress as a percentage (0-100).
func (p ImportProgress) Percent() int {
	if p.TotalRows <= 0 {
		return 0
	}
	pct := (p.CurrentRow * 100) / p.TotalRows
	if pct > 100 {
		return 100
	}
	return pct
}

// ProgressFunc is called after each processed row with (processed, total).
type ProgressFunc func(processed, total int)

// RowError is a per-row failure. Row is the 1-based data row number.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

func (e RowError) String() string {
	return "Row " + strconv.Itoa(e.Row) + ": " + e.Message
}

// ProcessingResult aggregates the outcome of one import run.
type ProcessingResult struct {
	ImportID       string        `json:"import_id,omitempty"`
	Entity         string        `json:"entity"`
	FileName       string        `json:"file_name,omitempty"`
	TotalRows      int           `json:"total_rows"`
	Processed      int           `json:"processed"`
	SuccessCount   int           `json:"success_count"`
	UpdateCount    int           `json:"update_count"`
	DuplicateCount int           `json:"duplicate_count"`
	ErrorCount     int           `json:"error_count"`
	Errors         []RowError    `json:"errors"`
	Warnings       []string      `json:"warnings,omitempty"`
	Cancelled      bool          `json:"cancelled,omitempty"`
	DryRun         bool          `json:"dry_run,omitempty"`
	Duration       time.Duration `json:"duration"`
	Error          string        `json:"error,omitempty"` // Non-empty if the run failed structurally
}

// ErrorMessages returns the per-row errors formatted as "Row N: message".
func (r *ProcessingResult) ErrorMessages() []string {
	out := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		out[i] = e.String()
	}
	return out
}

func (r *ProcessingResult) addError(row int, msg string) {
	r.ErrorCount++
	r.Errors = append(r.Errors, RowError{Row: row, Message: msg})
}
