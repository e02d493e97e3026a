package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/crmport/internal/core"
	_ "github.com/JonMunkholm/crmport/internal/core/entities"
	"github.com/JonMunkholm/crmport/internal/store"
)

type fakeImporter struct {
	gotEntity string
	gotFile   string
	gotBody   string
	gotOpts   core.ImportOptions
	gotActor  string
	result    *core.ProcessingResult
	err       error
}

func (f *fakeImporter) Import(ctx context.Context, entity, fileName string, r io.Reader, opts core.ImportOptions) (*core.ProcessingResult, error) {
	b, _ := io.ReadAll(r)
	f.gotEntity, f.gotFile, f.gotBody, f.gotOpts = entity, fileName, string(b), opts
	f.gotActor = core.ActorFromContext(ctx)
	return f.result, f.err
}

func encode(t *testing.T, job ImportJob) []byte {
	t.Helper()
	b, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal job: %v", err)
	}
	return b
}

// =============================================================================
// DecodeJob
// =============================================================================

func TestDecodeJob(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "valid", body: `{"id":"j1","entity":"deals","file_name":"a.csv","content":"YSxiCjEsMgo="}`},
		{name: "not json", body: `deals.csv`, wantErr: true},
		{name: "missing id", body: `{"entity":"deals","content":"YQ=="}`, wantErr: true},
		{name: "missing entity", body: `{"id":"j1","content":"YQ=="}`, wantErr: true},
		{name: "empty content", body: `{"id":"j1","entity":"deals"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeJob([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeJob() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidJob) {
				t.Errorf("DecodeJob() error = %v, want ErrInvalidJob", err)
			}
		})
	}
}

// =============================================================================
// Handler
// =============================================================================

func TestHandler_Success(t *testing.T) {
	imp := &fakeImporter{result: &core.ProcessingResult{Entity: "deals", SuccessCount: 2}}
	h := NewHandler(imp, nil)

	body := encode(t, ImportJob{
		ID: "job-1", Entity: "deals", FileName: "q1.csv", Actor: "alice",
		DryRun: true, Content: []byte("Deal Name\nAcme\n"),
	})

	res, outcome := h.Handle(context.Background(), body)
	if outcome != Ack {
		t.Fatalf("outcome = %v, want Ack", outcome)
	}
	if res == nil || res.JobID != "job-1" || res.Result.SuccessCount != 2 || res.Error != "" {
		t.Fatalf("result = %+v", res)
	}
	if imp.gotEntity != "deals" || imp.gotFile != "q1.csv" {
		t.Errorf("Import called with entity=%q file=%q", imp.gotEntity, imp.gotFile)
	}
	if !strings.HasPrefix(imp.gotBody, "Deal Name") {
		t.Errorf("Import body = %q", imp.gotBody)
	}
	if !imp.gotOpts.DryRun || imp.gotOpts.ImportID != "job-1" {
		t.Errorf("Import opts = %+v", imp.gotOpts)
	}
	if imp.gotActor != "alice" {
		t.Errorf("actor in context = %q, want alice", imp.gotActor)
	}
}

func TestHandler_Outcomes(t *testing.T) {
	valid := ImportJob{ID: "job-2", Entity: "contacts", FileName: "c.csv", Content: []byte("x")}

	tests := []struct {
		name        string
		body        []byte
		err         error
		wantOutcome Outcome
		wantResult  bool
	}{
		{name: "garbage body", body: []byte("{"), wantOutcome: Reject},
		{name: "no header", err: core.ErrNoHeader, wantOutcome: Reject, wantResult: true},
		{name: "limiter full", err: core.ErrTooManyImports, wantOutcome: Requeue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := tt.body
			if body == nil {
				body = encode(t, valid)
			}
			h := NewHandler(&fakeImporter{err: tt.err}, nil)

			res, outcome := h.Handle(context.Background(), body)
			if outcome != tt.wantOutcome {
				t.Errorf("outcome = %v, want %v", outcome, tt.wantOutcome)
			}
			if (res != nil) != tt.wantResult {
				t.Fatalf("result = %+v, wantResult %v", res, tt.wantResult)
			}
			if res != nil && !strings.Contains(res.Error, "FILE003") {
				t.Errorf("result error = %q, want FILE003 code", res.Error)
			}
		})
	}
}

func TestHandler_InterruptedImportRequeues(t *testing.T) {
	mem := store.NewMemory()
	svc := core.NewService(mem, core.ServiceConfig{
		Throttle: core.Throttle{Every: 1, Delay: 50 * time.Millisecond},
	})
	h := NewHandler(svc, nil)

	var b strings.Builder
	b.WriteString("Deal Name\n")
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&b, "Deal %d\n", i)
	}
	body := encode(t, ImportJob{ID: "job-9", Entity: "deals", FileName: "deals.csv", Content: []byte(b.String())})

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	result, outcome := h.Handle(ctx, body)
	if outcome != Requeue {
		t.Fatalf("outcome = %v, want Requeue", outcome)
	}
	if result != nil {
		t.Errorf("result = %+v, want nil so nothing is published", result)
	}

	stored, err := mem.Select(context.Background(), "deals", core.Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) >= 10 {
		t.Errorf("stored = %d rows, want the run cut short", len(stored))
	}
}

func TestHandler_CancelledContextRequeues(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	imp := &fakeImporter{}
	h := NewHandler(imp, nil)
	body := encode(t, ImportJob{ID: "job-3", Entity: "deals", Content: []byte("x")})

	if _, outcome := h.Handle(ctx, body); outcome != Requeue {
		t.Errorf("outcome = %v, want Requeue", outcome)
	}
	if imp.gotEntity != "" {
		t.Error("Import should not run with a cancelled context")
	}
}
