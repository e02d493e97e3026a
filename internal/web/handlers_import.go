package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/crmport/internal/core"
	"github.com/JonMunkholm/crmport/internal/logging"
	"github.com/JonMunkholm/crmport/internal/web/templates"
)

// maxFormMemory is how much of a multipart upload is buffered in memory
// before spilling to disk.
const maxFormMemory = 32 << 20

// maxSummaryErrors caps the row errors shown in the HTML summary.
const maxSummaryErrors = 20

// handleImport accepts a multipart CSV or XLSX upload.
//
// Form fields:
//   - file: the upload (required)
//   - dry_run: "true" resolves every row without writing
//   - wait: "true" runs synchronously and returns the result
//
// Without wait the response is 202 with the import id.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")

	file, header, err := s.readUpload(w, r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	defer file.Close()

	opts := core.ImportOptions{
		DryRun: formBool(r, "dry_run"),
		Actor:  core.ActorFromContext(r.Context()),
	}
	logger := logging.WithFields(r.Context(), "entity", entity, "file", header.Filename)

	if formBool(r, "wait") {
		result, err := s.service.Import(r.Context(), entity, header.Filename, file, opts)
		if err != nil {
			s.respondError(w, r, err, 0)
			return
		}
		logger.Info("import completed", "import_id", result.ImportID, "errors", result.ErrorCount)
		s.renderResult(w, r, http.StatusOK, result)
		return
	}

	importID, err := s.service.StartImport(r.Context(), entity, header.Filename, file, opts)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	logger.Info("import accepted", "import_id", importID, "size", header.Size)

	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusAccepted)
		templates.ImportStarted(importID).Render(r.Context(), w)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"import_id": importID})
}

func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, fmt.Errorf("%w: limit is %d bytes", core.ErrFileTooLarge, maxSize)
		}
		return nil, nil, fmt.Errorf("%w: %v", errInvalidForm, err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, nil, errNoFile
	}
	return file, header, nil
}

func formBool(r *http.Request, name string) bool {
	v := r.FormValue(name)
	if v == "" {
		v = r.URL.Query().Get(name)
	}
	b, _ := strconv.ParseBool(v)
	return b
}

// handleImportProgress streams progress via Server-Sent Events.
//
// Each update is an "event: progress" whose id is the percentage, so a client
// reconnecting with lastEventId skips what it has seen. When the run ends a
// final "event: complete" carries the result.
func (s *Server) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")

	lastEventIDStr := r.URL.Query().Get("lastEventId")
	if lastEventIDStr == "" {
		lastEventIDStr = r.Header.Get("Last-Event-ID")
	}
	lastEventID, _ := strconv.Atoi(lastEventIDStr)

	progressCh, err := s.service.SubscribeProgress(importID)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				result, err := s.service.GetResult(r.Context(), importID)
				if err != nil {
					return
				}
				data, _ := json.Marshal(result)
				fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
				rc.Flush()
				return
			}

			pct := progress.Percent()
			if lastEventIDStr != "" && pct <= lastEventID {
				continue
			}

			data, _ := json.Marshal(progress)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", pct, data)
			if err := rc.Flush(); err != nil {
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}

// handleImportResult returns the result of a run. With wait=true it blocks
// until the run finishes; otherwise an unfinished run answers 202 with its
// current progress.
func (s *Server) handleImportResult(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")

	if r.URL.Query().Get("wait") != "true" {
		progress, err := s.service.GetProgress(importID)
		if err != nil {
			s.respondError(w, r, err, 0)
			return
		}
		if !terminal(progress.Phase) {
			writeJSON(w, http.StatusAccepted, progress)
			return
		}
	}

	result, err := s.service.GetResult(r.Context(), importID)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	s.renderResult(w, r, http.StatusOK, result)
}

func terminal(p core.ImportPhase) bool {
	return p == core.PhaseComplete || p == core.PhaseFailed || p == core.PhaseCancelled
}

func (s *Server) renderResult(w http.ResponseWriter, r *http.Request, status int, result *core.ProcessingResult) {
	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		templates.ImportSummary(result, maxSummaryErrors).Render(r.Context(), w)
		return
	}
	writeJSON(w, status, result)
}

// handleCancelImport cancels a running import. Rows already written stay.
func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")

	if err := s.service.CancelImport(importID); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	logging.FromContext(r.Context()).Info("import cancel requested", "import_id", importID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// handleImportStatus reports limiter usage and the ids of running imports.
func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"limiter": s.service.LimiterStatus(),
		"active":  s.service.ActiveImports(),
	})
}
