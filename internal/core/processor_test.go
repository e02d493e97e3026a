package core_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/crmport/internal/core"
	_ "github.com/JonMunkholm/crmport/internal/core/entities"
	"github.com/JonMunkholm/crmport/internal/store"
)

var fixedNow = time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

func newProcessor(s core.Store, opts ...core.ProcessorOption) *core.Processor {
	opts = append([]core.ProcessorOption{core.WithClock(func() time.Time { return fixedNow })}, opts...)
	return core.NewProcessor(s, opts...)
}

func process(t *testing.T, p *core.Processor, entity, csv string, opts core.ImportOptions) *core.ProcessingResult {
	t.Helper()
	res, err := p.Process(context.Background(), entity, strings.NewReader(csv), opts)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	return res
}

func selectAll(t *testing.T, mem *store.Memory, table string) []core.Record {
	t.Helper()
	rows, err := mem.Select(context.Background(), table, core.Query{})
	if err != nil {
		t.Fatal(err)
	}
	return rows
}

type counts struct {
	success, update, duplicate, errors int
}

func countsOf(r *core.ProcessingResult) counts {
	return counts{r.SuccessCount, r.UpdateCount, r.DuplicateCount, r.ErrorCount}
}

// =============================================================================
// End-to-End Scenarios
// =============================================================================

func TestProcess_Scenarios(t *testing.T) {
	tests := []struct {
		name       string
		entity     string
		csv        string
		want       counts
		wantErrors []string
		check      func(t *testing.T, rows []core.Record)
	}{
		{
			name:   "one deal imports",
			entity: "deals",
			csv:    "Deal Name,Stage\nAcme Rollout,Lead\n",
			want:   counts{success: 1},
			check: func(t *testing.T, rows []core.Record) {
				if len(rows) != 1 || rows[0]["deal_name"] != "Acme Rollout" || rows[0]["stage"] != "Lead" {
					t.Errorf("stored = %v", rows)
				}
			},
		},
		{
			name:       "empty deal name is a row error",
			entity:     "deals",
			csv:        "deal_name,stage\n,Lead\n",
			want:       counts{errors: 1},
			wantErrors: []string{"Row 1: missing deal_name"},
		},
		{
			name:   "priority is clamped not rejected",
			entity: "deals",
			csv:    "Deal Name,Priority\nAcme,\"7\"\n",
			want:   counts{success: 1},
			check: func(t *testing.T, rows []core.Record) {
				if rows[0]["priority"] != int64(5) {
					t.Errorf("priority = %#v, want 5", rows[0]["priority"])
				}
			},
		},
		{
			name:   "deal defaults",
			entity: "deals",
			csv:    "Project,Customer\nRollout,Acme\n",
			want:   counts{success: 1},
			check: func(t *testing.T, rows []core.Record) {
				if rows[0]["deal_name"] != "Rollout" || rows[0]["stage"] != "Lead" {
					t.Errorf("stored = %v, want deal_name from project and stage Lead", rows[0])
				}
			},
		},
		{
			name:   "unknown stage defaults to lead",
			entity: "deals",
			csv:    "Deal Name,Stage\nAcme,Whatever\n",
			want:   counts{success: 1},
			check: func(t *testing.T, rows []core.Record) {
				if rows[0]["stage"] != "Lead" {
					t.Errorf("stage = %v, want Lead", rows[0]["stage"])
				}
			},
		},
		{
			name:       "row with no mappable values",
			entity:     "contacts",
			csv:        "Name,Favourite Colour\n,blue\nAnn,red\n",
			want:       counts{success: 1, errors: 1},
			wantErrors: []string{"Row 1: no mappable values"},
		},
		{
			name:   "meeting participants and timestamps",
			entity: "meetings",
			csv:    "Subject,Starts At,Attendees,Recurring\nKickoff,2024-03-20 10:00,\"Ann, Bob\",yes\n",
			want:   counts{success: 1},
			check: func(t *testing.T, rows []core.Record) {
				r := rows[0]
				if r["start_time"] != "2024-03-20T10:00:00Z" {
					t.Errorf("start_time = %v", r["start_time"])
				}
				if p, _ := r["participants"].([]string); len(p) != 2 || p[1] != "Bob" {
					t.Errorf("participants = %#v", r["participants"])
				}
				if r["is_recurring"] != "Yes" {
					t.Errorf("is_recurring = %v", r["is_recurring"])
				}
				if r["created_time"] != fixedNow || r["modified_time"] != fixedNow {
					t.Errorf("timestamps = %v / %v", r["created_time"], r["modified_time"])
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := store.NewMemory()
			res := process(t, newProcessor(mem), tt.entity, tt.csv, core.ImportOptions{Actor: "tester"})

			if got := countsOf(res); got != tt.want {
				t.Errorf("counts = %+v, want %+v (errors %v)", got, tt.want, res.ErrorMessages())
			}
			if tt.wantErrors != nil && strings.Join(res.ErrorMessages(), "|") != strings.Join(tt.wantErrors, "|") {
				t.Errorf("errors = %v, want %v", res.ErrorMessages(), tt.wantErrors)
			}
			if tt.check != nil {
				tt.check(t, selectAll(t, mem, tt.entity))
			}
		})
	}
}

func TestProcess_StampsActorAndTimestamps(t *testing.T) {
	mem := store.NewMemory()
	process(t, newProcessor(mem), "deals", "Deal Name\nAcme\n", core.ImportOptions{Actor: "alice"})

	row := selectAll(t, mem, "deals")[0]
	if row["created_by"] != "alice" || row["modified_by"] != "alice" {
		t.Errorf("actor = %v / %v, want alice", row["created_by"], row["modified_by"])
	}
	if row["created_at"] != fixedNow || row["modified_at"] != fixedNow {
		t.Errorf("timestamps = %v / %v", row["created_at"], row["modified_at"])
	}
	if row.ID() == "" {
		t.Error("store did not assign an id")
	}
}

func TestProcess_ActorFromContext(t *testing.T) {
	mem := store.NewMemory()
	ctx := core.ContextWithActor(context.Background(), "bob")
	if _, err := newProcessor(mem).Process(ctx, "leads", strings.NewReader("Lead Name\nAnn\n"), core.ImportOptions{}); err != nil {
		t.Fatal(err)
	}
	if got := selectAll(t, mem, "leads")[0]["created_by"]; got != "bob" {
		t.Errorf("created_by = %v, want bob", got)
	}
}

// =============================================================================
// Duplicate Handling
// =============================================================================

func TestProcess_Idempotent(t *testing.T) {
	tests := []struct {
		name       string
		entity     string
		csv        string
		wantSecond counts
	}{
		{
			name:       "deals update",
			entity:     "deals",
			csv:        "Deal Name,Stage\nAcme,Lead\nBeta,Won\n",
			wantSecond: counts{update: 2},
		},
		{
			name:       "contacts skip",
			entity:     "contacts",
			csv:        "Name,Email\nAnn,ann@example.com\nBob,bob@example.com\n",
			wantSecond: counts{duplicate: 2},
		},
		{
			name:       "leads skip",
			entity:     "leads",
			csv:        "Lead Name,Email\nAnn,ann@example.com\n",
			wantSecond: counts{duplicate: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := store.NewMemory()
			p := newProcessor(mem)

			first := process(t, p, tt.entity, tt.csv, core.ImportOptions{})
			second := process(t, p, tt.entity, tt.csv, core.ImportOptions{})

			if first.UpdateCount+first.DuplicateCount != 0 {
				t.Errorf("first run = %+v, want only inserts", countsOf(first))
			}
			if got := countsOf(second); got != tt.wantSecond {
				t.Errorf("second run = %+v, want %+v", got, tt.wantSecond)
			}
			if got := mem.Len(tt.entity); got != first.SuccessCount {
				t.Errorf("stored = %d, want %d", got, first.SuccessCount)
			}
		})
	}
}

func TestProcess_DealUpdateIsSparse(t *testing.T) {
	mem := store.NewMemory()
	p := newProcessor(mem)

	process(t, p, "deals", "Deal Name,Stage,Owner\nAcme,Lead,Ann\n", core.ImportOptions{Actor: "first"})
	res := process(t, p, "deals", "Deal Name,Stage\nacme,Won\n", core.ImportOptions{Actor: "second"})

	if res.UpdateCount != 1 {
		t.Fatalf("counts = %+v", countsOf(res))
	}
	row := selectAll(t, mem, "deals")[0]
	if row["stage"] != "Won" || row["deal_name"] != "acme" || row["owner"] != "Ann" {
		t.Errorf("row = %v, want imported fields written and owner kept", row)
	}
	if row["created_by"] != "first" || row["modified_by"] != "second" {
		t.Errorf("actors = %v / %v", row["created_by"], row["modified_by"])
	}
}

func TestProcess_IntraBatchDuplicates(t *testing.T) {
	tests := []struct {
		name   string
		entity string
		csv    string
		want   counts
		stored int
	}{
		{"deals collapse into one", "deals", "Deal Name,Stage\nAcme,Lead\nACME,Won\n", counts{success: 1, update: 1}, 1},
		{"contacts second is duplicate", "contacts", "Name,Email\nAnn,a@x.io\nann,A@X.IO\n", counts{success: 1, duplicate: 1}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := store.NewMemory()
			res := process(t, newProcessor(mem), tt.entity, tt.csv, core.ImportOptions{})
			if got := countsOf(res); got != tt.want {
				t.Errorf("counts = %+v, want %+v", got, tt.want)
			}
			if got := mem.Len(tt.entity); got != tt.stored {
				t.Errorf("stored = %d, want %d", got, tt.stored)
			}
		})
	}
}

// =============================================================================
// Run Control
// =============================================================================

func TestProcess_Progress(t *testing.T) {
	var calls [][2]int
	res := process(t, newProcessor(store.NewMemory()), "leads", "Lead Name\nA\nB\nC\n", core.ImportOptions{
		OnProgress: func(done, total int) { calls = append(calls, [2]int{done, total}) },
	})

	want := [][2]int{{1, 3}, {2, 3}, {3, 3}}
	if len(calls) != len(want) {
		t.Fatalf("progress calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %v, want %v", i, calls[i], want[i])
		}
	}
	if res.Processed != 3 || res.TotalRows != 3 {
		t.Errorf("Processed/TotalRows = %d/%d", res.Processed, res.TotalRows)
	}
}

func TestProcess_CancelBetweenRows(t *testing.T) {
	mem := store.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := newProcessor(mem).Process(ctx, "leads", strings.NewReader("Lead Name\nA\nB\nC\nD\nE\n"), core.ImportOptions{
		OnProgress: func(done, _ int) {
			if done == 2 {
				cancel()
			}
		},
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !res.Cancelled || res.Processed != 2 || res.SuccessCount != 2 {
		t.Errorf("result = %+v, want cancelled after 2 rows", res)
	}
	if mem.Len("leads") != 2 {
		t.Errorf("stored = %d, want 2", mem.Len("leads"))
	}
}

func TestProcess_Throttle(t *testing.T) {
	p := newProcessor(store.NewMemory(), core.WithThrottle(core.Throttle{Every: 1, Delay: 10 * time.Millisecond}))

	start := time.Now()
	process(t, p, "leads", "Lead Name\nA\nB\nC\n", core.ImportOptions{})

	// Pauses follow rows 1 and 2, not the last row.
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("elapsed = %v, want >= 20ms", elapsed)
	}
}

func TestProcess_DryRun(t *testing.T) {
	mem := store.NewMemory()
	p := newProcessor(mem)
	process(t, p, "deals", "Deal Name\nAcme\n", core.ImportOptions{})

	res := process(t, p, "deals", "Deal Name\nacme\nBeta\nBETA\n,\n", core.ImportOptions{DryRun: true})
	if got := countsOf(res); got != (counts{success: 1, update: 2}) {
		t.Errorf("counts = %+v", got)
	}
	if !res.DryRun {
		t.Error("DryRun not reported")
	}
	if mem.Len("deals") != 1 {
		t.Errorf("dry run wrote records: %d", mem.Len("deals"))
	}
}

// =============================================================================
// Warnings and Structural Errors
// =============================================================================

func TestProcess_Warnings(t *testing.T) {
	res := process(t, newProcessor(store.NewMemory()), "opportunities", "Deal Name,Colour,created_at\nAcme,red,2024-01-01\n", core.ImportOptions{})

	if len(res.Warnings) != 2 {
		t.Fatalf("Warnings = %v, want fallback and unmapped column", res.Warnings)
	}
	if !strings.Contains(res.Warnings[0], `unknown entity "opportunities"`) {
		t.Errorf("Warnings[0] = %q, want fallback first", res.Warnings[0])
	}
	if !strings.Contains(res.Warnings[1], `"Colour"`) {
		t.Errorf("Warnings[1] = %q", res.Warnings[1])
	}
	if res.Entity != "deals" || res.SuccessCount != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestProcess_DuplicateColumnWarning(t *testing.T) {
	mem := store.NewMemory()
	res := process(t, newProcessor(mem), "deals", "Deal Name,deal_name\nAcme,Other\n", core.ImportOptions{})

	if len(res.Warnings) != 1 {
		t.Fatalf("Warnings = %v, want one", res.Warnings)
	}
	w := res.Warnings[0]
	if !strings.Contains(w, `"deal_name"`) || !strings.Contains(w, "earlier column") {
		t.Errorf("Warnings[0] = %q, want duplicate column message", w)
	}
	if strings.Contains(w, "is not a deals field") {
		t.Errorf("Warnings[0] = %q, duplicate reported as unknown column", w)
	}
	if got := selectAll(t, mem, "deals")[0]["deal_name"]; got != "Acme" {
		t.Errorf("deal_name = %v, want first column's value", got)
	}
}

func TestProcess_StructuralErrors(t *testing.T) {
	tests := []struct {
		name    string
		csv     string
		wantErr error
	}{
		{"empty", "", core.ErrNoHeader},
		{"header only", "Deal Name,Stage\n", core.ErrNoDataRows},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := store.NewMemory()
			_, err := newProcessor(mem).Process(context.Background(), "deals", strings.NewReader(tt.csv), core.ImportOptions{})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if mem.Len("deals") != 0 {
				t.Error("structural error wrote records")
			}
		})
	}
}

// flakyStore fails inserts whose deal_name starts with "fail".
type flakyStore struct {
	*store.Memory
	mu    sync.Mutex
	tries int
}

func (f *flakyStore) Insert(ctx context.Context, table string, rec core.Record) (core.Record, error) {
	f.mu.Lock()
	f.tries++
	f.mu.Unlock()
	if name, _ := rec["deal_name"].(string); strings.HasPrefix(name, "fail") {
		return nil, errors.New("connection reset by peer")
	}
	return f.Memory.Insert(ctx, table, rec)
}

func TestProcess_PersistenceErrorsAreRowErrors(t *testing.T) {
	fs := &flakyStore{Memory: store.NewMemory()}
	res := process(t, newProcessor(fs), "deals", "Deal Name\nAcme\nfail-1\nBeta\n", core.ImportOptions{})

	if got := countsOf(res); got != (counts{success: 2, errors: 1}) {
		t.Errorf("counts = %+v", got)
	}
	if msgs := res.ErrorMessages(); len(msgs) != 1 || !strings.Contains(msgs[0], "Row 2: insert failed: connection reset by peer") {
		t.Errorf("errors = %v", msgs)
	}
	if fs.tries != 3 {
		t.Errorf("insert attempts = %d, want 3", fs.tries)
	}
}

func TestProcess_TraceEvents(t *testing.T) {
	var events []core.TraceEvent
	process(t, newProcessor(store.NewMemory()), "contacts", "Full Name,E-Mail,Shoe Size\nAnn,a@x.io,9\n", core.ImportOptions{
		Tracer: func(ev core.TraceEvent) { events = append(events, ev) },
	})

	want := []core.MatchRule{core.RuleSynonym, core.RuleSynonym, core.RuleUnmapped}
	if len(events) != len(want) {
		t.Fatalf("events = %+v", events)
	}
	for i, rule := range want {
		if events[i].Rule != rule || events[i].Entity != "contacts" {
			t.Errorf("events[%d] = %+v, want rule %s", i, events[i], rule)
		}
	}
}
