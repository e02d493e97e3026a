package core

// validation.go is the entity-level gate a candidate record must pass before
// it is persisted.
//
// Checks, in field order:
//  1. Required fields are present and non-empty
//  2. Enum fields hold one of their legal values
//  3. Numeric fields lie within their declared bounds
//
// For deals this covers deal_name, the eight pipeline stages, probability
// 0-100 and priority 1-5, all declared in the entity table.

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidationError represents a single validation error for a field.
type ValidationError struct {
	Field   string // Field/column name
	Value   string // The invalid value
	Message string // Human-readable error message
}

func (e ValidationError) Error() string {
	if e.Field != "" && !strings.Contains(e.Message, e.Field) {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// ValidationResult contains the result of validating a record.
type ValidationResult struct {
	Valid  bool              // True if all validations passed
	Errors []ValidationError // List of validation errors (empty if Valid)
}

// Reason joins all error messages into a single line.
func (v ValidationResult) Reason() string {
	msgs := make([]string, len(v.Errors))
	for i, e := range v.Errors {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// ValidateRecord checks a candidate record against its entity config.
// It never panics; failures are reported in the result.
func ValidateRecord(cfg *EntityConfig, rec *CandidateRecord) ValidationResult {
	result := ValidationResult{Valid: true}
	fail := func(field, value, msg string) {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{Field: field, Value: value, Message: msg})
	}

	if rec == nil {
		fail("", "", "empty record")
		return result
	}

	for _, spec := range cfg.Fields {
		v, present := rec.Get(spec.Name)
		if !present || !rec.Has(spec.Name) {
			if spec.Required {
				fail(spec.Name, "", "missing "+spec.Name)
			}
			continue
		}

		switch {
		case spec.Type == FieldEnum:
			s, _ := v.(string)
			if _, ok := ToEnum(s, spec.EnumValues); !ok {
				fail(spec.Name, s, fmt.Sprintf("invalid %s %q (must be one of: %s)",
					spec.Name, s, strings.Join(spec.EnumValues, ", ")))
			}
		case spec.Numeric():
			f, ok := toFloat(v)
			if !ok {
				fail(spec.Name, fmt.Sprint(v), "invalid number for "+spec.Name)
				continue
			}
			if outOfBounds(f, spec) {
				fail(spec.Name, formatNumber(f), fmt.Sprintf("%s %s out of range %s",
					spec.Name, formatNumber(f), boundsText(spec)))
			}
		}
	}

	return result
}

func outOfBounds(f float64, spec FieldSpec) bool {
	return (spec.Min != nil && f < *spec.Min) || (spec.Max != nil && f > *spec.Max)
}

func boundsText(spec FieldSpec) string {
	lo, hi := "-inf", "+inf"
	if spec.Min != nil {
		lo = formatNumber(*spec.Min)
	}
	if spec.Max != nil {
		hi = formatNumber(*spec.Max)
	}
	return "[" + lo + ", " + hi + "]"
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// String returns the field type name used in entity tables.
func (ft FieldType) String() string {
	switch ft {
	case FieldText:
		return "text"
	case FieldEnum:
		return "enum"
	case FieldDate:
		return "date"
	case FieldDateTime:
		return "datetime"
	case FieldNumber:
		return "number"
	case FieldInteger:
		return "integer"
	case FieldBool:
		return "bool"
	case FieldList:
		return "list"
	default:
		return "value"
	}
}
