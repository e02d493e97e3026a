package queue

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/JonMunkholm/crmport/internal/core"
)

// Importer runs one import synchronously. *core.Service satisfies it.
type Importer interface {
	Import(ctx context.Context, entity, fileName string, r io.Reader, opts core.ImportOptions) (*core.ProcessingResult, error)
}

// Outcome tells the consumer what to do with a delivery.
type Outcome int

const (
	Ack     Outcome = iota // Done, publish the result
	Reject                 // Never retry
	Requeue                // Try again later
)

// Handler turns message bodies into import runs.
type Handler struct {
	importer Importer
	logger   *slog.Logger
	now      func() time.Time
}

// NewHandler creates a handler. A nil logger uses slog.Default().
func NewHandler(importer Importer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{importer: importer, logger: logger, now: time.Now}
}

// Handle processes one message body. The result is nil only for bodies that
// could not be decoded.
func (h *Handler) Handle(ctx context.Context, body []byte) (*ImportJobResult, Outcome) {
	job, err := DecodeJob(body)
	if err != nil {
		h.logger.Warn("rejecting import job", "error", err)
		if job.ID == "" {
			return nil, Reject
		}
		return h.failed(job, err), Reject
	}

	logger := h.logger.With("job_id", job.ID, "entity", job.Entity, "file", job.FileName)

	if ctx.Err() != nil {
		return nil, Requeue
	}

	if job.Actor != "" {
		ctx = core.ContextWithActor(ctx, job.Actor)
	}

	result, err := h.importer.Import(ctx, job.Entity, job.FileName, bytes.NewReader(job.Content), core.ImportOptions{
		ImportID: job.ID,
		FileName: job.FileName,
		Actor:    job.Actor,
		DryRun:   job.DryRun,
	})
	switch {
	case errors.Is(err, core.ErrTooManyImports):
		logger.Info("import limiter full, requeueing job")
		return nil, Requeue
	case err != nil && ctx.Err() != nil:
		logger.Info("import interrupted, requeueing job", "error", err)
		return nil, Requeue
	case err != nil:
		logger.Warn("import job failed", "error", err)
		return h.failed(job, err), Reject
	case result.Cancelled && ctx.Err() != nil:
		// Rows already written are matched as duplicates or updates on the retry.
		logger.Info("import stopped part way, requeueing job",
			"processed", result.Processed,
			"total", result.TotalRows,
		)
		return nil, Requeue
	}

	logger.Info("import job finished",
		"inserted", result.SuccessCount,
		"updated", result.UpdateCount,
		"errors", result.ErrorCount,
	)
	return &ImportJobResult{
		JobID:      job.ID,
		Entity:     result.Entity,
		FileName:   job.FileName,
		Result:     result,
		FinishedAt: h.now().UTC(),
	}, Ack
}

func (h *Handler) failed(job ImportJob, err error) *ImportJobResult {
	return &ImportJobResult{
		JobID:      job.ID,
		Entity:     job.Entity,
		FileName:   job.FileName,
		Error:      core.FormatUserError(err),
		FinishedAt: h.now().UTC(),
	}
}
