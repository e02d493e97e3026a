package core

// export.go renders stored records back to CSV, the inverse of import.
//
// Cells are rendered per field type so that an exported file re-imports to
// the same values:
//   - Date: YYYY-MM-DD
//   - DateTime and time.Time: RFC 3339
//   - List: items joined with ", "
//   - Bool: "true" / "false"
//   - Number: shortest decimal form
//
// Output is the ExportFields header followed by one line per record, joined
// with "\n" and without a trailing newline.

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ExportScope names which records an export covers. It only affects the filename;
// selection itself is done by the caller.
type ExportScope string

const (
	ScopeAll      ExportScope = "all"
	ScopeSelected ExportScope = "selected"
	ScopeFiltered ExportScope = "filtered"
)

// ErrInvalidScope is returned for an unrecognized export scope.
var ErrInvalidScope = errors.New("invalid export scope")

// ParseExportScope parses a scope name. An empty string means ScopeAll.
func ParseExportScope(s string) (ExportScope, error) {
	switch ExportScope(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScopeAll:
		return ScopeAll, nil
	case ScopeSelected:
		return ScopeSelected, nil
	case ScopeFiltered:
		return ScopeFiltered, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidScope, s)
}

// ExportFormat is the file format of an export.
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatXLSX ExportFormat = "xlsx"
)

// ErrUnsupportedFormat is returned for an unrecognized export format.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// ParseExportFormat parses a format name. An empty string means FormatCSV.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch ExportFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// ContentType returns the MIME type for the format.
func (f ExportFormat) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// ExportFilename returns "{entity}-{scope}-{YYYY-MM-DD}.csv".
func ExportFilename(entity string, scope ExportScope, date time.Time) string {
	return exportFilename(entity, scope, FormatCSV, date)
}

func exportFilename(entity string, scope ExportScope, format ExportFormat, date time.Time) string {
	return fmt.Sprintf("%s-%s-%s.%s", entity, scope, date.Format(time.DateOnly), format)
}

// Downloader delivers rendered export content to the user. It returns where
// the content can be fetched from, if anywhere.
type Downloader interface {
	Deliver(ctx context.Context, content []byte, filename, contentType string) (string, error)
}

// EscapeCSVCell quotes a cell containing a comma, quote or line break,
// doubling embedded quotes.
func EscapeCSVCell(s string) string {
	if !strings.ContainsAny(s, ",\"\n\r") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// FormatCell renders a stored value for export. Nil renders as "".
func FormatCell(spec FieldSpec, v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		if spec.Type == FieldDate {
			if d, ok := ToDate(t); ok {
				return d
			}
		}
		return t
	case time.Time:
		if spec.Type == FieldDate {
			return t.Format(time.DateOnly)
		}
		return t.UTC().Format(time.RFC3339)
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case []string:
		return strings.Join(t, ", ")
	case []any:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = FormatCell(FieldSpec{}, item)
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(t)
	}
}

// exportSpec returns the spec used to render an export column. System fields
// are not declared columns and render by value type.
func exportSpec(cfg *EntityConfig, name string) FieldSpec {
	if spec, ok := cfg.Field(name); ok {
		return spec
	}
	return FieldSpec{Name: name, Type: FieldText}
}

// ExportRows renders records as string rows in ExportFields order, header first.
func ExportRows(cfg *EntityConfig, records []Record) [][]string {
	rows := make([][]string, 0, len(records)+1)
	rows = append(rows, append([]string(nil), cfg.ExportFields...))

	for _, rec := range records {
		row := make([]string, len(cfg.ExportFields))
		for i, name := range cfg.ExportFields {
			row[i] = FormatCell(exportSpec(cfg, name), rec[name])
		}
		rows = append(rows, row)
	}
	return rows
}

// ExportCSV renders records as CSV text.
func ExportCSV(cfg *EntityConfig, records []Record) string {
	rows := ExportRows(cfg, records)
	lines := make([]string, len(rows))
	for i, row := range rows {
		cells := make([]string, len(row))
		for j, cell := range row {
			cells[j] = EscapeCSVCell(cell)
		}
		lines[i] = strings.Join(cells, ",")
	}
	return strings.Join(lines, "\n")
}
