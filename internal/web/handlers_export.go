package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/crmport/internal/blob"
	"github.com/JonMunkholm/crmport/internal/core"
	"github.com/JonMunkholm/crmport/internal/logging"
	"github.com/JonMunkholm/crmport/internal/web/templates"
)

// reservedExportParams are query parameters that are not field filters.
var reservedExportParams = map[string]bool{"scope": true, "ids": true, "format": true}

// exportRequest reads scope, ids, format and field filters from the query.
//
//	GET /api/export/deals?scope=filtered&stage=won&format=xlsx
//	GET /api/export/contacts?scope=selected&ids=a,b,c
func exportRequest(r *http.Request) (core.ExportRequest, error) {
	q := r.URL.Query()

	scope, err := core.ParseExportScope(q.Get("scope"))
	if err != nil {
		return core.ExportRequest{}, err
	}
	format, err := core.ParseExportFormat(q.Get("format"))
	if err != nil {
		return core.ExportRequest{}, err
	}

	req := core.ExportRequest{Scope: scope, Format: format}
	for _, id := range strings.Split(q.Get("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			req.IDs = append(req.IDs, id)
		}
	}
	if scope == core.ScopeFiltered {
		req.Filters = make(map[string]string)
		for key, vals := range q {
			if reservedExportParams[key] || len(vals) == 0 {
				continue
			}
			req.Filters[key] = vals[0]
		}
	}
	return req, nil
}

// handleExport streams an export as a file download.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")

	req, err := exportRequest(r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	if _, _, err := s.service.ExportTo(r.Context(), entity, req, attachment{w}); err != nil {
		s.respondError(w, r, err, statusForExport(err))
		return
	}
}

// handleArchiveExport uploads an export to object storage and returns a
// time-limited download link.
func (s *Server) handleArchiveExport(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		s.respondError(w, r, blob.ErrNotConfigured, 0)
		return
	}
	entity := chi.URLParam(r, "entity")

	req, err := exportRequest(r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	url, file, err := s.service.ExportTo(r.Context(), entity, req, s.archive)
	if err != nil {
		s.respondError(w, r, err, statusForExport(err))
		return
	}

	logging.FromContext(r.Context()).Info("export archived",
		"entity", entity,
		"file", file.FileName,
		"rows", file.Rows,
	)

	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		templates.ExportLink(file.FileName, url, file.Rows).Render(r.Context(), w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"url":       url,
		"file_name": file.FileName,
		"rows":      file.Rows,
	})
}

// statusForExport treats unmapped export errors (bad filters) as client errors.
func statusForExport(err error) int {
	if status := statusFor(err); status != http.StatusInternalServerError {
		return status
	}
	if strings.Contains(err.Error(), "filter") {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// attachment delivers an export as the HTTP response body.
type attachment struct {
	w http.ResponseWriter
}

func (a attachment) Deliver(_ context.Context, content []byte, filename, contentType string) (string, error) {
	a.w.Header().Set("Content-Type", contentType)
	a.w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	a.w.Header().Set("Content-Length", fmt.Sprint(len(content)))
	if _, err := a.w.Write(content); err != nil {
		return "", err
	}
	return filename, nil
}
