package core

// convert.go turns raw CSV cells into typed field values.
//
// These functions handle the messy reality of user-provided CSV data:
//   - Multiple date formats (US, EU, ISO, etc.)
//   - Currency symbols, percent signs and thousand separators in numbers
//   - Various boolean representations (yes/no, true/false, 1/0)
//   - Excel formula prefixes (="value")
//
// Every converter returns ok=false for empty or unusable input. Callers treat
// that as null and leave the field out of the record.

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// numericRegex validates that a string is a valid numeric format after cleanup.
// Matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would result in dates more than this many years in the future
// are assumed to be in the previous century.
var TwoDigitYearPivot = 20

// Date layouts split by year format for proper 2-digit year handling
var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		"2006-01-02", "2006/01/02", "2006.01.02",
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"Jan 2, 2006", "January 2, 2006", "2 Jan 2006", "2 January 2006",
		"20060102",
	}
	dateTimeLayouts = []string{
		time.RFC3339, time.RFC3339Nano,
		"2006-01-02T15:04:05", "2006-01-02T15:04",
		"2006-01-02 15:04:05", "2006-01-02 15:04",
		"1/2/2006 15:04:05", "1/2/2006 15:04", "1/2/2006 3:04 PM", "01/02/2006 03:04 PM",
	}
)

// CleanCell removes common CSV artifacts from a cell value:
// - Trims whitespace
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") && len(s) >= 3 {
		s = s[2 : len(s)-1]
	}

	if len(s) >= 2 && (s[0] == '"' && s[len(s)-1] == '"' || s[0] == '\'' && s[len(s)-1] == '\'') {
		s = s[1 : len(s)-1]
	}

	return strings.TrimSpace(s)
}

// ToText trims a cell. Empty input is null. Quotes are part of the value
// for free text, so no artifact stripping happens here.
func ToText(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, s != ""
}

// ToEnum matches s against the legal values, preferring an exact match and
// falling back to a case-insensitive one. Returns the canonical casing.
func ToEnum(s string, values []string) (string, bool) {
	s = CleanCell(s)
	if s == "" {
		return "", false
	}
	for _, v := range values {
		if v == s {
			return v, true
		}
	}
	for _, v := range values {
		if strings.EqualFold(v, s) {
			return v, true
		}
	}
	return "", false
}

// ToNumber parses a number, handling currency symbols, percent signs,
// thousands separators and accounting format (parentheses for negative).
func ToNumber(s string) (float64, bool) {
	s = CleanCell(s)
	if s == "" {
		return 0, false
	}

	isNegative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		isNegative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "€", "") // Euro
	s = strings.ReplaceAll(s, "£", "") // Pound
	s = strings.ReplaceAll(s, "%", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	if isNegative {
		s = "-" + strings.TrimPrefix(s, "-")
	}

	if !numericRegex.MatchString(s) {
		return 0, false
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// Clamp bounds f into [min, max]; nil bounds are open.
func Clamp(f float64, min, max *float64) float64 {
	if min != nil && f < *min {
		return *min
	}
	if max != nil && f > *max {
		return *max
	}
	return f
}

// ToDate parses a calendar date and returns it as YYYY-MM-DD.
// Supports multiple date formats and handles 2-digit years with pivot.
func ToDate(s string) (string, bool) {
	t, ok := parseDate(s)
	if !ok {
		return "", false
	}
	return t.Format(time.DateOnly), true
}

func parseDate(s string) (time.Time, bool) {
	s = CleanCell(s)
	if s == "" {
		return time.Time{}, false
	}

	// Try 4-digit year layouts first (unambiguous)
	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	// Timestamps keep their calendar date
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	// Try 2-digit year layouts with pivot year adjustment
	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return t, true
		}
	}

	return time.Time{}, false
}

// ToDateTime parses a timestamp and returns it in RFC 3339. A bare date is
// read as midnight UTC.
func ToDateTime(s string) (string, bool) {
	clean := CleanCell(s)
	if clean == "" {
		return "", false
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, clean); err == nil {
			return t.Format(time.RFC3339), true
		}
	}
	if t, ok := parseDate(clean); ok {
		return t.Format(time.RFC3339), true
	}
	return "", false
}

// ToBool converts a string to a bool.
// Accepts various representations: true/false, yes/no, t/f, y/n, 1/0.
func ToBool(s string) (bool, bool) {
	switch strings.ToLower(CleanCell(s)) {
	case "true", "t", "yes", "y", "1":
		return true, true
	case "false", "f", "no", "n", "0":
		return false, true
	default:
		return false, false
	}
}

// ToList splits a cell on commas or semicolons, dropping empty items.
func ToList(s string) ([]string, bool) {
	s = CleanCell(s)
	if s == "" {
		return nil, false
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, len(out) > 0
}

// maxInt64Float is 2^63, the first float64 that does not fit in an int64.
const maxInt64Float = float64(1 << 63)

// ConvertValue converts a raw cell for a field. ok=false means null.
// Numeric values are clamped into the field's bounds; integers are rounded,
// and an integer that cannot be represented as int64 is null.
func ConvertValue(spec FieldSpec, raw string) (any, bool) {
	switch spec.Type {
	case FieldEnum:
		return ToEnum(raw, spec.EnumValues)
	case FieldNumber:
		f, ok := ToNumber(raw)
		if !ok {
			return nil, false
		}
		return Clamp(f, spec.Min, spec.Max), true
	case FieldInteger:
		f, ok := ToNumber(raw)
		if !ok {
			return nil, false
		}
		r := math.Round(Clamp(f, spec.Min, spec.Max))
		if r >= maxInt64Float || r < -maxInt64Float {
			return nil, false
		}
		return int64(r), true
	case FieldDate:
		return ToDate(raw)
	case FieldDateTime:
		return ToDateTime(raw)
	case FieldBool:
		return ToBool(raw)
	case FieldList:
		return ToList(raw)
	default:
		return ToText(raw)
	}
}

// toFloat reads a stored numeric value of any common Go type.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		return ToNumber(n)
	default:
		return 0, false
	}
}
