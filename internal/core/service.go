package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrImportNotFound is returned for an unknown or expired import id.
var ErrImportNotFound = errors.New("import not found")

// ServiceConfig tunes the import service. Zero values use defaults.
type ServiceConfig struct {
	MaxConcurrent int           // Parallel import runs
	MaxWait       time.Duration // How long StartImport waits for a free slot
	Timeout       time.Duration // Upper bound for one import run
	Retention     time.Duration // How long finished runs stay queryable
	Throttle      Throttle
	MaxFileSize   int64 // Upload size limit in bytes, 0 for none
	Logger        *slog.Logger
}

const (
	defaultImportTimeout = 10 * time.Minute
	defaultRetention     = 5 * time.Minute
)

// Service runs imports asynchronously and renders exports.
// It is safe for concurrent use.
type Service struct {
	store     Store
	processor *Processor
	limiter   *ImportLimiter
	timeout   time.Duration
	retention time.Duration
	maxSize   int64
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.RWMutex
	imports map[string]*activeImport
}

type activeImport struct {
	ID       string
	Entity   string
	FileName string
	Cancel   context.CancelFunc
	Result   *ProcessingResult
	Done     chan struct{}

	mu        sync.Mutex
	progress  ImportProgress
	listeners []chan ImportProgress
}

// NewService creates an import service writing to store.
func NewService(store Store, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultImportTimeout
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = defaultRetention
	}

	return &Service{
		store:     store,
		processor: NewProcessor(store, WithLogger(logger), WithThrottle(cfg.Throttle)),
		limiter:   NewImportLimiter(cfg.MaxConcurrent, cfg.MaxWait),
		timeout:   timeout,
		retention: retention,
		maxSize:   cfg.MaxFileSize,
		logger:    logger,
		now:       time.Now,
		imports:   make(map[string]*activeImport),
	}
}

// Processor returns the processor used for import runs.
func (s *Service) Processor() *Processor { return s.processor }

// StartImport begins an asynchronous import and returns its id immediately.
// The content is read fully before returning. Use SubscribeProgress or
// GetResult to follow the run.
//
// Returns ErrTooManyImports if no slot becomes available in time.
func (s *Service) StartImport(ctx context.Context, entity, fileName string, r io.Reader, opts ImportOptions) (string, error) {
	cfg, fellBack, err := Lookup(entity, s.logger)
	if err != nil {
		return "", err
	}

	data, err := readUpload(r, s.maxSize)
	if err != nil {
		return "", err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	if opts.Actor == "" {
		opts.Actor = ActorFromContext(ctx)
	}
	importID := uuid.New().String()
	opts.ImportID = importID
	opts.FileName = fileName

	runCtx, cancel := context.WithTimeout(context.Background(), s.timeout)

	imp := &activeImport{
		ID:       importID,
		Entity:   cfg.Name,
		FileName: fileName,
		Cancel:   cancel,
		Done:     make(chan struct{}),
		progress: ImportProgress{
			ImportID: importID,
			Entity:   cfg.Name,
			Phase:    PhaseStarting,
			FileName: fileName,
		},
	}

	s.mu.Lock()
	s.imports[importID] = imp
	s.mu.Unlock()

	go func() {
		defer s.limiter.Release()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic in import",
					"import_id", importID,
					"entity", cfg.Name,
					"panic", r,
				)
				msg := fmt.Sprintf("internal error: %v", r)
				imp.Result = &ProcessingResult{ImportID: importID, Entity: cfg.Name, FileName: fileName, Errors: []RowError{}, Error: msg}
				imp.update(func(p *ImportProgress) {
					p.Phase = PhaseFailed
					p.Error = msg
				})
				s.finish(imp)
			}
		}()
		s.run(runCtx, imp, cfg, fellBack, entity, data, opts)
	}()

	return importID, nil
}

func (s *Service) run(ctx context.Context, imp *activeImport, cfg *EntityConfig, fellBack bool, requested string, data []byte, opts ImportOptions) {
	start := time.Now()

	imp.update(func(p *ImportProgress) { p.Phase = PhaseReading })

	parsed, err := ParseUpload(imp.FileName, bytes.NewReader(data))
	if err != nil {
		s.logger.Warn("import rejected", "import_id", imp.ID, "entity", cfg.Name, "error", err)
		imp.Result = &ProcessingResult{
			ImportID: imp.ID,
			Entity:   cfg.Name,
			FileName: imp.FileName,
			Errors:   []RowError{},
			DryRun:   opts.DryRun,
			Duration: time.Since(start),
			Error:    err.Error(),
		}
		imp.update(func(p *ImportProgress) {
			p.Phase = PhaseFailed
			p.Error = err.Error()
		})
		s.finish(imp)
		return
	}

	imp.update(func(p *ImportProgress) {
		p.Phase = PhaseProcessing
		p.TotalRows = len(parsed.Rows)
	})

	userProgress := opts.OnProgress
	opts.OnProgress = func(processed, total int) {
		imp.update(func(p *ImportProgress) { p.CurrentRow = processed })
		if userProgress != nil {
			userProgress(processed, total)
		}
	}

	result, err := s.processor.ProcessParsed(ctx, cfg, parsed, opts)
	if err != nil {
		imp.Result = &ProcessingResult{ImportID: imp.ID, Entity: cfg.Name, FileName: imp.FileName, Errors: []RowError{}, Error: err.Error()}
		imp.update(func(p *ImportProgress) {
			p.Phase = PhaseFailed
			p.Error = err.Error()
		})
		s.finish(imp)
		return
	}
	if fellBack {
		result.Warnings = append([]string{fallbackWarning(requested, cfg.Name)}, result.Warnings...)
	}

	imp.Result = result
	imp.update(func(p *ImportProgress) {
		if result.Cancelled {
			p.Phase = PhaseCancelled
			return
		}
		p.Phase = PhaseComplete
	})
	s.finish(imp)
}

// finish closes the run's listeners and schedules its removal.
func (s *Service) finish(imp *activeImport) {
	imp.markDone()
	s.cleanup(imp.ID, s.retention)
}

// Import runs an import synchronously, bounded by the same limiter as
// StartImport.
func (s *Service) Import(ctx context.Context, entity, fileName string, r io.Reader, opts ImportOptions) (*ProcessingResult, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	data, err := readUpload(r, s.maxSize)
	if err != nil {
		return nil, err
	}

	if opts.ImportID == "" {
		opts.ImportID = uuid.New().String()
	}
	opts.FileName = fileName
	return s.processor.Process(ctx, entity, bytes.NewReader(data), opts)
}

// SubscribeProgress returns a channel that receives progress updates.
// The current progress is sent first. The channel is closed when the run ends.
func (s *Service) SubscribeProgress(importID string) (<-chan ImportProgress, error) {
	imp, err := s.get(importID)
	if err != nil {
		return nil, err
	}

	ch := make(chan ImportProgress, 10)

	imp.mu.Lock()
	defer imp.mu.Unlock()

	ch <- imp.progress
	select {
	case <-imp.Done:
		close(ch)
	default:
		imp.listeners = append(imp.listeners, ch)
	}
	return ch, nil
}

// GetProgress returns the current progress without blocking.
func (s *Service) GetProgress(importID string) (ImportProgress, error) {
	imp, err := s.get(importID)
	if err != nil {
		return ImportProgress{}, err
	}
	imp.mu.Lock()
	defer imp.mu.Unlock()
	return imp.progress, nil
}

// GetResult returns the result of a run, blocking until it finishes or ctx
// is done.
func (s *Service) GetResult(ctx context.Context, importID string) (*ProcessingResult, error) {
	imp, err := s.get(importID)
	if err != nil {
		return nil, err
	}

	select {
	case <-imp.Done:
		return imp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CancelImport cancels a running import. Rows already written stay written.
func (s *Service) CancelImport(importID string) error {
	imp, err := s.get(importID)
	if err != nil {
		return err
	}
	imp.Cancel()
	return nil
}

// ActiveImports returns the ids of runs that have not finished, sorted.
func (s *Service) ActiveImports() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, imp := range s.imports {
		select {
		case <-imp.Done:
		default:
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// WaitForImports blocks until all running imports finish or ctx is done.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// LimiterStatus returns the import limiter's current state.
func (s *Service) LimiterStatus() ImportLimiterStatus {
	return s.limiter.Status()
}

func (s *Service) get(importID string) (*activeImport, error) {
	s.mu.RLock()
	imp, ok := s.imports[importID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrImportNotFound, importID)
	}
	return imp, nil
}

// cleanup removes the run from tracking after a delay.
func (s *Service) cleanup(importID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.imports, importID)
		s.mu.Unlock()
	})
}

// update applies fn to the progress and sends the new state to all listeners.
func (imp *activeImport) update(fn func(*ImportProgress)) {
	imp.mu.Lock()
	defer imp.mu.Unlock()

	fn(&imp.progress)
	for _, ch := range imp.listeners {
		select {
		case ch <- imp.progress:
		default:
			// Listener is slow, skip this update
		}
	}
}

// markDone closes Done and all listener channels.
func (imp *activeImport) markDone() {
	imp.mu.Lock()
	defer imp.mu.Unlock()

	close(imp.Done)
	for _, ch := range imp.listeners {
		close(ch)
	}
	imp.listeners = nil
}
