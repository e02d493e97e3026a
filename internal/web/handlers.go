package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/crmport/internal/core"
)

// EntityInfo describes an importable entity.
type EntityInfo struct {
	Name           string              `json:"name"`
	Columns        []string            `json:"columns"`
	RequiredFields []string            `json:"required_fields"`
	Enums          map[string][]string `json:"enums,omitempty"`
	NaturalKeys    [][]string          `json:"natural_keys,omitempty"`
	ExportFields   []string            `json:"export_fields"`
	Fields         []FieldInfo         `json:"fields,omitempty"`
}

// FieldInfo describes one column.
type FieldInfo struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Required bool     `json:"required,omitempty"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Synonyms []string `json:"synonyms,omitempty"`
}

func entityInfo(cfg *core.EntityConfig, detailed bool) EntityInfo {
	info := EntityInfo{
		Name:           cfg.Name,
		Columns:        cfg.AllowedColumns(),
		RequiredFields: cfg.RequiredFields(),
		Enums:          cfg.EnumConstraints(),
		ExportFields:   cfg.ExportFields,
	}
	for _, nk := range cfg.NaturalKeys {
		info.NaturalKeys = append(info.NaturalKeys, nk.Fields)
	}
	if detailed {
		for _, f := range cfg.Fields {
			info.Fields = append(info.Fields, FieldInfo{
				Name:     f.Name,
				Type:     f.Type.String(),
				Required: f.Required,
				Min:      f.Min,
				Max:      f.Max,
				Synonyms: f.Synonyms,
			})
		}
	}
	return info
}

// handleListEntities returns every registered entity.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	all := core.All()
	out := make([]EntityInfo, len(all))
	for i, cfg := range all {
		out[i] = entityInfo(cfg, false)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetEntity returns one entity with its field details.
func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	cfg, ok := core.Get(chi.URLParam(r, "entity"))
	if !ok {
		s.respondError(w, r, core.ErrUnknownEntity, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, entityInfo(cfg, true))
}

// handleHealth reports liveness and, when a health check is configured, store reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":   "ok",
		"entities": core.EntityCount(),
		"imports":  s.service.LimiterStatus(),
	}
	if s.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ping(ctx); err != nil {
			status["status"] = "degraded"
			status["store"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
	}
	writeJSON(w, http.StatusOK, status)
}
