package core_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/crmport/internal/core"
	"github.com/JonMunkholm/crmport/internal/store"
)

func newService(t *testing.T, cfg core.ServiceConfig) (*core.Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return core.NewService(mem, cfg), mem
}

func waitResult(t *testing.T, svc *core.Service, id string) *core.ProcessingResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := svc.GetResult(ctx, id)
	if err != nil {
		t.Fatalf("GetResult() error = %v", err)
	}
	return res
}

func leadRows(n int) string {
	var b strings.Builder
	b.WriteString("Lead Name,Email\n")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "Lead %d,lead%d@example.com\n", i, i)
	}
	return b.String()
}

// =============================================================================
// Async Import Tests
// =============================================================================

func TestService_StartImport(t *testing.T) {
	svc, mem := newService(t, core.ServiceConfig{})

	id, err := svc.StartImport(context.Background(), "leads", "leads.csv", strings.NewReader(leadRows(3)), core.ImportOptions{Actor: "alice"})
	if err != nil {
		t.Fatalf("StartImport() error = %v", err)
	}

	res := waitResult(t, svc, id)
	if res.ImportID != id || res.FileName != "leads.csv" || res.SuccessCount != 3 {
		t.Errorf("result = %+v", res)
	}
	if mem.Len("leads") != 3 {
		t.Errorf("stored = %d, want 3", mem.Len("leads"))
	}

	progress, err := svc.GetProgress(id)
	if err != nil {
		t.Fatal(err)
	}
	if progress.Phase != core.PhaseComplete || progress.CurrentRow != 3 || progress.Percent() != 100 {
		t.Errorf("progress = %+v", progress)
	}
	if len(svc.ActiveImports()) != 0 {
		t.Errorf("ActiveImports() = %v after completion", svc.ActiveImports())
	}
}

func TestService_SubscribeProgress(t *testing.T) {
	svc, _ := newService(t, core.ServiceConfig{})

	id, err := svc.StartImport(context.Background(), "leads", "leads.csv", strings.NewReader(leadRows(3)), core.ImportOptions{})
	if err != nil {
		t.Fatal(err)
	}
	ch, err := svc.SubscribeProgress(id)
	if err != nil {
		t.Fatal(err)
	}

	var last core.ImportProgress
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case p, ok := <-ch:
			if !ok {
				done = true
				break
			}
			if p.ImportID != id {
				t.Errorf("update for %s, want %s", p.ImportID, id)
			}
			last = p
		case <-timeout:
			t.Fatal("progress channel never closed")
		}
	}

	if last.Phase != core.PhaseComplete || last.TotalRows != 3 {
		t.Errorf("last update = %+v", last)
	}
}

func TestService_StructuralErrorFailsRun(t *testing.T) {
	svc, _ := newService(t, core.ServiceConfig{})

	id, err := svc.StartImport(context.Background(), "deals", "deals.csv", strings.NewReader("Deal Name,Stage\n"), core.ImportOptions{})
	if err != nil {
		t.Fatalf("StartImport() error = %v", err)
	}

	res := waitResult(t, svc, id)
	if !strings.Contains(res.Error, core.ErrNoDataRows.Error()) {
		t.Errorf("Error = %q, want no data rows", res.Error)
	}
	if p, _ := svc.GetProgress(id); p.Phase != core.PhaseFailed {
		t.Errorf("Phase = %s, want failed", p.Phase)
	}
}

func TestService_CancelImport(t *testing.T) {
	svc, mem := newService(t, core.ServiceConfig{
		Throttle: core.Throttle{Every: 1, Delay: 20 * time.Millisecond},
	})

	id, err := svc.StartImport(context.Background(), "leads", "leads.csv", strings.NewReader(leadRows(50)), core.ImportOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.CancelImport(id); err != nil {
		t.Fatalf("CancelImport() error = %v", err)
	}

	res := waitResult(t, svc, id)
	if !res.Cancelled || res.Processed >= 50 {
		t.Errorf("result = %+v, want cancelled early", countsOf(res))
	}
	if got := mem.Len("leads"); got != res.SuccessCount {
		t.Errorf("stored = %d, want %d written before cancel", got, res.SuccessCount)
	}
	if p, _ := svc.GetProgress(id); p.Phase != core.PhaseCancelled {
		t.Errorf("Phase = %s, want cancelled", p.Phase)
	}
}

func TestService_UnknownImport(t *testing.T) {
	svc, _ := newService(t, core.ServiceConfig{})

	checks := map[string]error{}
	_, checks["GetResult"] = svc.GetResult(context.Background(), "nope")
	_, checks["GetProgress"] = svc.GetProgress("nope")
	_, checks["SubscribeProgress"] = svc.SubscribeProgress("nope")
	checks["CancelImport"] = svc.CancelImport("nope")

	for name, err := range checks {
		if !errors.Is(err, core.ErrImportNotFound) {
			t.Errorf("%s error = %v, want ErrImportNotFound", name, err)
		}
	}
}

func TestService_LimiterRejectsWhenFull(t *testing.T) {
	svc, _ := newService(t, core.ServiceConfig{
		MaxConcurrent: 1,
		MaxWait:       10 * time.Millisecond,
		Throttle:      core.Throttle{Every: 1, Delay: 20 * time.Millisecond},
	})
	ctx := context.Background()

	id, err := svc.StartImport(ctx, "leads", "a.csv", strings.NewReader(leadRows(50)), core.ImportOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if st := svc.LimiterStatus(); st.Active != 1 || st.Available != 0 || st.MaxConcurrent != 1 {
		t.Errorf("LimiterStatus() = %+v", st)
	}

	_, err = svc.StartImport(ctx, "leads", "b.csv", strings.NewReader(leadRows(1)), core.ImportOptions{})
	if !errors.Is(err, core.ErrTooManyImports) {
		t.Errorf("second StartImport() error = %v, want ErrTooManyImports", err)
	}
	if _, err := svc.Import(ctx, "leads", "c.csv", strings.NewReader(leadRows(1)), core.ImportOptions{}); !errors.Is(err, core.ErrTooManyImports) {
		t.Errorf("Import() error = %v, want ErrTooManyImports", err)
	}

	if err := svc.CancelImport(id); err != nil {
		t.Fatal(err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := svc.WaitForImports(waitCtx); err != nil {
		t.Fatalf("WaitForImports() error = %v", err)
	}
	if st := svc.LimiterStatus(); st.Active != 0 {
		t.Errorf("Active = %d after drain", st.Active)
	}
}

func TestService_MaxFileSize(t *testing.T) {
	svc, mem := newService(t, core.ServiceConfig{MaxFileSize: 32})
	ctx := context.Background()

	if _, err := svc.StartImport(ctx, "leads", "big.csv", strings.NewReader(leadRows(10)), core.ImportOptions{}); !errors.Is(err, core.ErrFileTooLarge) {
		t.Errorf("StartImport() error = %v, want ErrFileTooLarge", err)
	}
	if _, err := svc.Import(ctx, "leads", "big.csv", strings.NewReader(leadRows(10)), core.ImportOptions{}); !errors.Is(err, core.ErrFileTooLarge) {
		t.Errorf("Import() error = %v, want ErrFileTooLarge", err)
	}
	if mem.Len("leads") != 0 {
		t.Error("oversized upload wrote records")
	}

	res, err := svc.Import(ctx, "leads", "small.csv", strings.NewReader("Lead Name\nAnn\n"), core.ImportOptions{})
	if err != nil || res.SuccessCount != 1 {
		t.Errorf("small Import() = %v, %v", res, err)
	}
}

func TestService_ImportFallsBack(t *testing.T) {
	svc, mem := newService(t, core.ServiceConfig{})

	res, err := svc.Import(context.Background(), "widgets", "w.csv", strings.NewReader("Deal Name\nAcme\n"), core.ImportOptions{})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if res.Entity != "deals" || res.ImportID == "" || len(res.Warnings) == 0 {
		t.Errorf("result = %+v", res)
	}
	if mem.Len("deals") != 1 {
		t.Errorf("stored = %d, want 1", mem.Len("deals"))
	}
}

// =============================================================================
// Export Tests
// =============================================================================

type recordingDownloader struct {
	name    string
	content []byte
	err     error
}

func (d *recordingDownloader) Deliver(_ context.Context, content []byte, filename, _ string) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	d.name = filename
	d.content = content
	return "mem://" + filename, nil
}

func seedDeals(t *testing.T, svc *core.Service) {
	t.Helper()
	csv := "Deal Name,Stage,Owner\nAcme,Won,Ann\nBeta,Lead,Bob\nGamma,Won,Bob\n"
	if _, err := svc.Import(context.Background(), "deals", "deals.csv", strings.NewReader(csv), core.ImportOptions{}); err != nil {
		t.Fatal(err)
	}
}

func TestService_Export(t *testing.T) {
	svc, mem := newService(t, core.ServiceConfig{})
	seedDeals(t, svc)
	all := selectAll(t, mem, "deals")

	tests := []struct {
		name      string
		req       core.ExportRequest
		wantRows  int
		wantNames []string
	}{
		{"all", core.ExportRequest{}, 3, []string{"Acme", "Beta", "Gamma"}},
		{"selected", core.ExportRequest{Scope: core.ScopeSelected, IDs: []string{all[2].ID(), all[0].ID()}}, 2, []string{"Acme", "Gamma"}},
		{"selected none", core.ExportRequest{Scope: core.ScopeSelected}, 0, nil},
		{"filtered enum folded", core.ExportRequest{Scope: core.ScopeFiltered, Filters: map[string]string{"stage": "won"}}, 2, []string{"Acme", "Gamma"}},
		{"filtered two fields", core.ExportRequest{Scope: core.ScopeFiltered, Filters: map[string]string{"stage": "Won", "owner": "bob"}}, 1, []string{"Gamma"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file, err := svc.Export(context.Background(), "deals", tt.req)
			if err != nil {
				t.Fatalf("Export() error = %v", err)
			}
			if file.Rows != tt.wantRows {
				t.Errorf("Rows = %d, want %d", file.Rows, tt.wantRows)
			}

			lines := strings.Split(string(file.Content), "\n")
			if len(lines) != tt.wantRows+1 {
				t.Fatalf("lines = %d, want %d", len(lines), tt.wantRows+1)
			}
			for i, name := range tt.wantNames {
				if !strings.Contains(lines[i+1], ","+name+",") {
					t.Errorf("line %d = %q, want %s", i+1, lines[i+1], name)
				}
			}

			scope := tt.req.Scope
			if scope == "" {
				scope = core.ScopeAll
			}
			if !strings.HasPrefix(file.FileName, "deals-"+string(scope)+"-") || !strings.HasSuffix(file.FileName, ".csv") {
				t.Errorf("FileName = %q", file.FileName)
			}
		})
	}
}

func TestService_ExportErrors(t *testing.T) {
	svc, _ := newService(t, core.ServiceConfig{})
	ctx := context.Background()

	tests := []struct {
		name    string
		entity  string
		req     core.ExportRequest
		wantErr error
	}{
		{"unknown entity", "widgets", core.ExportRequest{}, core.ErrUnknownEntity},
		{"bad scope", "deals", core.ExportRequest{Scope: "some"}, core.ErrInvalidScope},
		{"bad format", "deals", core.ExportRequest{Format: "pdf"}, core.ErrUnsupportedFormat},
		{"unknown filter field", "deals", core.ExportRequest{Scope: core.ScopeFiltered, Filters: map[string]string{"colour": "red"}}, nil},
		{"unconvertible filter", "deals", core.ExportRequest{Scope: core.ScopeFiltered, Filters: map[string]string{"probability": "lots"}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Export(ctx, tt.entity, tt.req)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestService_ExportXLSX(t *testing.T) {
	svc, _ := newService(t, core.ServiceConfig{})
	seedDeals(t, svc)

	file, err := svc.Export(context.Background(), "deals", core.ExportRequest{Format: core.FormatXLSX})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if !strings.HasSuffix(file.FileName, ".xlsx") || file.ContentType != core.FormatXLSX.ContentType() {
		t.Errorf("file = %s (%s)", file.FileName, file.ContentType)
	}
	if !strings.HasPrefix(string(file.Content), "PK") {
		t.Error("content is not a zip container")
	}
}

func TestService_ExportTo(t *testing.T) {
	svc, _ := newService(t, core.ServiceConfig{})
	seedDeals(t, svc)
	ctx := context.Background()

	d := &recordingDownloader{}
	location, file, err := svc.ExportTo(ctx, "deals", core.ExportRequest{}, d)
	if err != nil {
		t.Fatalf("ExportTo() error = %v", err)
	}
	if location != "mem://"+file.FileName || d.name != file.FileName || len(d.content) != len(file.Content) {
		t.Errorf("delivered %q to %q", d.name, location)
	}

	failing := &recordingDownloader{err: errors.New("bucket gone")}
	if _, _, err := svc.ExportTo(ctx, "deals", core.ExportRequest{}, failing); err == nil || !strings.Contains(err.Error(), "bucket gone") {
		t.Errorf("ExportTo() error = %v", err)
	}
}
