package core

// processor.go orchestrates one CSV import run.
//
// The flow for a run:
//  1. Decode and parse the CSV (structural errors are returned, nothing is written)
//  2. Map the header row once
//  3. For each data row, in order: convert, apply entity defaults, validate,
//     resolve duplicates, then insert or update
//  4. Report progress after every row and pause per the throttle
//
// Per-row problems never abort the run; they are collected in the
// ProcessingResult. Cancelling the context stops the run between rows and the
// result reflects the rows handled so far.

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Throttle pauses for Delay after every Every rows, easing load on the store.
// A zero value disables throttling.
type Throttle struct {
	Every int
	Delay time.Duration
}

func (t Throttle) pause(ctx context.Context, processed int) error {
	if t.Every <= 0 || t.Delay <= 0 || processed%t.Every != 0 {
		return nil
	}
	timer := time.NewTimer(t.Delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ImportOptions are per-run settings.
type ImportOptions struct {
	ImportID   string           // Correlates log entries; optional
	FileName   string           // Reported in the result; optional
	Actor      string           // Stamped into created_by/modified_by
	DryRun     bool             // Resolve every row but write nothing
	OnProgress ProgressFunc     // Called after each row
	Tracer     func(TraceEvent) // Receives header mapping decisions
}

// Processor runs imports against a Store.
type Processor struct {
	store    Store
	checker  *DuplicateChecker
	logger   *slog.Logger
	throttle Throttle
	now      func() time.Time
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithLogger sets the processor's logger.
func WithLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = logger }
}

// WithThrottle sets the inter-row throttle.
func WithThrottle(t Throttle) ProcessorOption {
	return func(p *Processor) { p.throttle = t }
}

// WithClock overrides the time source used for audit timestamps.
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = now }
}

// NewProcessor creates a processor writing to store.
func NewProcessor(store Store, opts ...ProcessorOption) *Processor {
	p := &Processor{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.checker = NewDuplicateChecker(store, p.logger)
	return p
}

// Process imports CSV content for an entity. An unknown entity name falls
// back to DefaultEntity with a warning. A FileName ending in .xlsx is read as
// a workbook. Returns an error only for structural problems (unreadable file,
// no header, no data rows).
func (p *Processor) Process(ctx context.Context, entity string, r io.Reader, opts ImportOptions) (*ProcessingResult, error) {
	cfg, fellBack, err := Lookup(entity, p.logger)
	if err != nil {
		return nil, err
	}

	parsed, err := ParseUpload(opts.FileName, r)
	if err != nil {
		return nil, err
	}

	result, err := p.ProcessParsed(ctx, cfg, parsed, opts)
	if err != nil {
		return nil, err
	}
	if fellBack {
		result.Warnings = append([]string{fallbackWarning(entity, cfg.Name)}, result.Warnings...)
	}
	return result, nil
}

// ProcessParsed imports already parsed CSV content.
func (p *Processor) ProcessParsed(ctx context.Context, cfg *EntityConfig, parsed *ParsedCSV, opts ImportOptions) (*ProcessingResult, error) {
	if parsed == nil || len(parsed.Header) == 0 {
		return nil, ErrNoHeader
	}
	if len(parsed.Rows) == 0 {
		return nil, ErrNoDataRows
	}

	if opts.Actor == "" {
		opts.Actor = ActorFromContext(ctx)
	}

	start := time.Now()
	logger := p.logger.With("entity", cfg.Name)
	if opts.ImportID != "" {
		logger = logger.With("import_id", opts.ImportID)
	}

	mapperOpts := []MapperOption{WithMapperLogger(logger)}
	if opts.Tracer != nil {
		mapperOpts = append(mapperOpts, WithTracer(opts.Tracer))
	}
	mapping := NewHeaderMapper(cfg, mapperOpts...).MapHeaders(parsed.Header)

	result := &ProcessingResult{
		ImportID:  opts.ImportID,
		Entity:    cfg.Name,
		FileName:  opts.FileName,
		TotalRows: len(parsed.Rows),
		Errors:    []RowError{},
		DryRun:    opts.DryRun,
	}

	for _, ev := range mapping.Trace {
		switch ev.Rule {
		case RuleUnmapped:
			if IsSystemField(normalizeHeader(ev.Header)) {
				continue
			}
			logger.Warn("unmapped column ignored", "header", ev.Header)
			result.Warnings = append(result.Warnings, fmt.Sprintf("column %q is not a %s field and was ignored", ev.Header, cfg.Name))
		case RuleDuplicate:
			logger.Warn("duplicate column ignored", "header", ev.Header, "field", ev.Field)
			result.Warnings = append(result.Warnings, fmt.Sprintf("column %q maps to %s, which an earlier column already fills; it was ignored", ev.Header, ev.Field))
		}
	}

	logger.Info("import started",
		"rows", result.TotalRows,
		"mapped_columns", mapping.Mapped(),
		"dry_run", opts.DryRun,
	)

	run := &importRun{
		Processor: p,
		cfg:       cfg,
		mapping:   mapping,
		batch:     NewBatchIndex(),
		opts:      opts,
		result:    result,
		logger:    logger,
	}

	total := len(parsed.Rows)
	for i, row := range parsed.Rows {
		if ctx.Err() != nil {
			result.Cancelled = true
			break
		}

		run.processRow(ctx, i+1, row)

		result.Processed = i + 1
		if opts.OnProgress != nil {
			opts.OnProgress(i+1, total)
		}

		if i+1 < total {
			if err := p.throttle.pause(ctx, i+1); err != nil {
				result.Cancelled = true
				break
			}
		}
	}

	result.Duration = time.Since(start)
	logger.Info("import finished",
		"processed", result.Processed,
		"inserted", result.SuccessCount,
		"updated", result.UpdateCount,
		"duplicates", result.DuplicateCount,
		"errors", result.ErrorCount,
		"cancelled", result.Cancelled,
		"duration_ms", result.Duration.Milliseconds(),
	)

	return result, nil
}

// importRun holds the state of a single run.
type importRun struct {
	*Processor
	cfg     *EntityConfig
	mapping HeaderMapping
	batch   *BatchIndex
	opts    ImportOptions
	result  *ProcessingResult
	logger  *slog.Logger
}

func (r *importRun) processRow(ctx context.Context, rowNum int, row []string) {
	rec := BuildCandidate(r.cfg, r.mapping, row)
	if rec.Len() == 0 {
		r.result.addError(rowNum, "no mappable values")
		return
	}

	applyDefaults(r.cfg, rec)

	if v := ValidateRecord(r.cfg, rec); !v.Valid {
		r.result.addError(rowNum, v.Reason())
		return
	}

	match := r.checker.CheckBatch(ctx, r.cfg, rec, r.batch)
	if match.Found {
		if !r.cfg.UpdateOnDuplicate {
			r.result.DuplicateCount++
			r.logger.Debug("duplicate skipped", "row", rowNum, "id", match.ID, "key", match.Key)
			return
		}
		r.update(ctx, rowNum, rec, match)
		return
	}

	r.insert(ctx, rowNum, rec)
}

func (r *importRun) update(ctx context.Context, rowNum int, rec *CandidateRecord, match DuplicateMatch) {
	if !r.opts.DryRun {
		patch := rec.Record()
		delete(patch, "id")
		patch["modified_by"] = r.opts.Actor
		patch[r.cfg.Timestamps.Modified] = r.now().UTC()

		if _, err := r.store.Update(ctx, r.cfg.Table, match.ID, patch); err != nil {
			r.logger.Warn("update failed", "row", rowNum, "id", match.ID, "error", err)
			r.result.addError(rowNum, fmt.Sprintf("update failed: %v", err))
			return
		}
	}

	r.result.UpdateCount++
	r.batch.Remember(r.cfg, rec, match.ID)
}

func (r *importRun) insert(ctx context.Context, rowNum int, rec *CandidateRecord) {
	id := fmt.Sprintf("row-%d", rowNum)

	if !r.opts.DryRun {
		now := r.now().UTC()
		values := rec.Record()
		delete(values, "id")
		values["created_by"] = r.opts.Actor
		values["modified_by"] = r.opts.Actor
		values[r.cfg.Timestamps.Created] = now
		values[r.cfg.Timestamps.Modified] = now

		stored, err := r.store.Insert(ctx, r.cfg.Table, values)
		if err != nil {
			r.logger.Warn("insert failed", "row", rowNum, "error", err)
			r.result.addError(rowNum, fmt.Sprintf("insert failed: %v", err))
			return
		}
		id = stored.ID()
	}

	r.result.SuccessCount++
	r.batch.Remember(r.cfg, rec, id)
}

func fallbackWarning(requested, used string) string {
	return fmt.Sprintf("unknown entity %q, imported as %s", requested, used)
}

// applyDefaults fills entity-specific fallbacks before validation.
func applyDefaults(cfg *EntityConfig, rec *CandidateRecord) {
	switch cfg.Name {
	case "deals":
		if !rec.Has("deal_name") && rec.Has("project_name") {
			_ = rec.Set("deal_name", rec.String("project_name"))
		}
		if !rec.Has("stage") {
			_ = rec.Set("stage", "Lead")
		}
	}
}
