package core_test

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/crmport/internal/core"
	"github.com/JonMunkholm/crmport/internal/store"
)

// =============================================================================
// Cell Rendering
// =============================================================================

func TestEscapeCSVCell(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"", ""},
		{"a,b", `"a,b"`},
		{`He said, "hi"`, `"He said, ""hi"""`},
		{"two\nlines", "\"two\nlines\""},
		{"cr\rhere", "\"cr\rhere\""},
		{`just "quotes"`, `"just ""quotes"""`},
	}

	for _, tt := range tests {
		if got := core.EscapeCSVCell(tt.in); got != tt.want {
			t.Errorf("EscapeCSVCell(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatCell(t *testing.T) {
	date := core.FieldSpec{Type: core.FieldDate}
	text := core.FieldSpec{Type: core.FieldText}
	ts := time.Date(2024, 3, 15, 9, 30, 0, 0, time.FixedZone("CET", 3600))

	tests := []struct {
		name string
		spec core.FieldSpec
		in   any
		want string
	}{
		{"nil", text, nil, ""},
		{"text", text, "Acme", "Acme"},
		{"date string normalized", date, "3/15/2024", "2024-03-15"},
		{"date from time", date, ts, "2024-03-15"},
		{"timestamp in utc", text, ts, "2024-03-15T08:30:00Z"},
		{"bool", text, true, "true"},
		{"float without trailing zeros", text, 40.0, "40"},
		{"fraction", text, 12.5, "12.5"},
		{"int64", text, int64(3), "3"},
		{"string list", text, []string{"Ann", "Bob"}, "Ann, Bob"},
		{"any list", text, []any{"Ann", 2.0}, "Ann, 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := core.FormatCell(tt.spec, tt.in); got != tt.want {
				t.Errorf("FormatCell(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExportCSV(t *testing.T) {
	cfg := mustEntity(t, "contacts")
	records := []core.Record{
		{"id": "c-1", "contact_name": "Ann Lee", "email": "ann@example.com", "tags": []string{"vip", "eu"}},
		{"id": "c-2", "contact_name": `Bob "B" Ray`, "notes": "met at expo, follow up"},
	}

	out := core.ExportCSV(cfg, records)
	lines := strings.Split(out, "\n")

	if strings.HasSuffix(out, "\n") {
		t.Error("output ends with a newline")
	}
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3:\n%s", len(lines), out)
	}
	if lines[0] != strings.Join(cfg.ExportFields, ",") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], `c-1,Ann Lee,ann@example.com,,,,,,,"vip, eu",`) {
		t.Errorf("row 1 = %q", lines[1])
	}
	if !strings.Contains(lines[2], `"Bob ""B"" Ray"`) || !strings.Contains(lines[2], `"met at expo, follow up"`) {
		t.Errorf("row 2 = %q", lines[2])
	}
}

func TestExportCSV_NoRecords(t *testing.T) {
	cfg := mustEntity(t, "leads")
	if got := core.ExportCSV(cfg, nil); got != strings.Join(cfg.ExportFields, ",") {
		t.Errorf("ExportCSV(nil) = %q, want header only", got)
	}
}

func TestExportFilename(t *testing.T) {
	date := time.Date(2024, 3, 15, 23, 0, 0, 0, time.UTC)
	if got := core.ExportFilename("deals", core.ScopeFiltered, date); got != "deals-filtered-2024-03-15.csv" {
		t.Errorf("ExportFilename() = %q", got)
	}
}

func TestParseExportScopeAndFormat(t *testing.T) {
	scopes := []struct {
		in      string
		want    core.ExportScope
		wantErr bool
	}{
		{"", core.ScopeAll, false},
		{"ALL", core.ScopeAll, false},
		{" selected ", core.ScopeSelected, false},
		{"filtered", core.ScopeFiltered, false},
		{"some", "", true},
	}
	for _, tt := range scopes {
		got, err := core.ParseExportScope(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseExportScope(%q) = (%q, %v)", tt.in, got, err)
		}
		if tt.wantErr && !errors.Is(err, core.ErrInvalidScope) {
			t.Errorf("ParseExportScope(%q) error = %v, want ErrInvalidScope", tt.in, err)
		}
	}

	formats := []struct {
		in      string
		want    core.ExportFormat
		wantErr bool
	}{
		{"", core.FormatCSV, false},
		{"xlsx", core.FormatXLSX, false},
		{"XLSX", core.FormatXLSX, false},
		{"pdf", "", true},
	}
	for _, tt := range formats {
		got, err := core.ParseExportFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseExportFormat(%q) = (%q, %v)", tt.in, got, err)
		}
	}
}

// =============================================================================
// Round Trips
// =============================================================================

const roundTripDeals = `Deal Name,Project,Customer,Stage,Probability,Priority,Value,Close Date,Owner,Notes
Acme Rollout,Rollout,"Acme, Inc.",won,"75.5",2,"$1,200.50",3/15/2024,Ann,"said ""yes""
on the call"
Beta Pilot,Pilot,Beta,Qualified,40,5,300,2024-06-01,Bob,
`

// Export then re-import into an empty store reproduces the stored values.
// Ids are reassigned by the store on insert.
func TestExport_ReimportRoundTrip(t *testing.T) {
	cfg := mustEntity(t, "deals")
	first := store.NewMemory()
	process(t, newProcessor(first), "deals", roundTripDeals, core.ImportOptions{})
	original := selectAll(t, first, "deals")

	exported := core.ExportCSV(cfg, original)

	second := store.NewMemory()
	res := process(t, newProcessor(second), "deals", exported, core.ImportOptions{})
	if res.SuccessCount != len(original) || len(res.Warnings) != 0 {
		t.Fatalf("re-import = %+v, warnings %v", countsOf(res), res.Warnings)
	}
	reimported := selectAll(t, second, "deals")

	for i := range original {
		for _, f := range cfg.Fields {
			if f.Name == "id" {
				continue
			}
			want := core.FormatCell(f, original[i][f.Name])
			got := core.FormatCell(f, reimported[i][f.Name])
			if got != want {
				t.Errorf("record %d %s = %q, want %q", i, f.Name, got, want)
			}
		}
	}
}

func TestExport_ReimportKeepsQuotedText(t *testing.T) {
	cfg := mustEntity(t, "deals")
	records := []core.Record{
		{"deal_name": `"Alpha"`, "notes": "'draft'"},
		{"deal_name": "Beta", "notes": `="00123"`},
	}

	exported := core.ExportCSV(cfg, records)

	mem := store.NewMemory()
	res := process(t, newProcessor(mem), "deals", exported, core.ImportOptions{})
	if res.SuccessCount != len(records) {
		t.Fatalf("re-import = %+v, errors %v", countsOf(res), res.ErrorMessages())
	}

	got := selectAll(t, mem, "deals")
	for i, want := range records {
		for _, field := range []string{"deal_name", "notes"} {
			if got[i][field] != want[field] {
				t.Errorf("record %d %s = %#v, want %#v", i, field, got[i][field], want[field])
			}
		}
	}
}

func TestExportXLSX_ParseRoundTrip(t *testing.T) {
	cfg := mustEntity(t, "deals")
	records := []core.Record{
		{"id": "d-1", "deal_name": "Acme", "stage": "Won", "probability": 40.5, "priority": int64(3), "expected_close_date": "2024-03-15"},
	}

	content, err := core.ExportXLSX(cfg, records)
	if err != nil {
		t.Fatalf("ExportXLSX() error = %v", err)
	}
	parsed, err := core.ParseXLSX(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("ParseXLSX() error = %v", err)
	}

	if !reflect.DeepEqual(parsed.Header, cfg.ExportFields) {
		t.Errorf("Header = %v", parsed.Header)
	}
	if len(parsed.Rows) != 1 {
		t.Fatalf("Rows = %d, want 1", len(parsed.Rows))
	}

	row := parsed.Rows[0]
	want := map[string]string{
		"id":                  "d-1",
		"deal_name":           "Acme",
		"stage":               "Won",
		"probability":         "40.5",
		"priority":            "3",
		"expected_close_date": "2024-03-15",
	}
	for i, name := range cfg.ExportFields {
		w, ok := want[name]
		if !ok {
			continue
		}
		if i >= len(row) || row[i] != w {
			t.Errorf("%s = %q, want %q", name, cellAt(row, i), w)
		}
	}
}

func TestProcess_XLSXUpload(t *testing.T) {
	cfg := mustEntity(t, "leads")
	content, err := core.ExportXLSX(cfg, []core.Record{{"lead_name": "Ann", "email": "ann@example.com", "status": "New"}})
	if err != nil {
		t.Fatal(err)
	}

	mem := store.NewMemory()
	res, err := newProcessor(mem).Process(context.Background(), "leads", bytes.NewReader(content), core.ImportOptions{FileName: "leads.xlsx"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.SuccessCount != 1 {
		t.Errorf("counts = %+v, errors %v", countsOf(res), res.ErrorMessages())
	}
	if got := selectAll(t, mem, "leads")[0]["status"]; got != "New" {
		t.Errorf("status = %v", got)
	}
}

func cellAt(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}
