package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// ExportRequest selects and formats an export.
type ExportRequest struct {
	Scope   ExportScope
	IDs     []string          // Records to export for ScopeSelected
	Filters map[string]string // field -> raw value for ScopeFiltered
	Format  ExportFormat
}

// ExportFile is a rendered export.
type ExportFile struct {
	FileName    string
	ContentType string
	Content     []byte
	Rows        int
}

// Export selects records of an entity and renders them as CSV or XLSX.
func (s *Service) Export(ctx context.Context, entity string, req ExportRequest) (*ExportFile, error) {
	cfg, ok := Get(entity)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}

	scope := req.Scope
	if scope == "" {
		scope = ScopeAll
	}
	format := req.Format
	if format == "" {
		format = FormatCSV
	}

	q, err := exportQuery(cfg, scope, req)
	if err != nil {
		return nil, err
	}

	var records []Record
	if scope != ScopeSelected || len(req.IDs) > 0 {
		records, err = s.store.Select(ctx, cfg.Table, q)
		if err != nil {
			return nil, fmt.Errorf("select %s: %w", cfg.Name, err)
		}
	}

	file := &ExportFile{
		FileName:    exportFilename(cfg.Name, scope, format, s.now()),
		ContentType: format.ContentType(),
		Rows:        len(records),
	}

	switch format {
	case FormatXLSX:
		file.Content, err = ExportXLSX(cfg, records)
		if err != nil {
			return nil, err
		}
	case FormatCSV:
		file.Content = []byte(ExportCSV(cfg, records))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	s.logger.Info("export rendered",
		"entity", cfg.Name,
		"scope", scope,
		"format", format,
		"rows", file.Rows,
	)
	return file, nil
}

// ExportTo renders an export and hands it to a Downloader, returning the
// location it reports.
func (s *Service) ExportTo(ctx context.Context, entity string, req ExportRequest, d Downloader) (string, *ExportFile, error) {
	file, err := s.Export(ctx, entity, req)
	if err != nil {
		return "", nil, err
	}
	location, err := d.Deliver(ctx, file.Content, file.FileName, file.ContentType)
	if err != nil {
		return "", nil, fmt.Errorf("deliver %s: %w", file.FileName, err)
	}
	return location, file, nil
}

func exportQuery(cfg *EntityConfig, scope ExportScope, req ExportRequest) (Query, error) {
	switch scope {
	case ScopeAll:
		return Query{}, nil
	case ScopeSelected:
		return Query{IDs: req.IDs}, nil
	case ScopeFiltered:
		return filterQuery(cfg, req.Filters)
	}
	return Query{}, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
}

// filterQuery converts raw filter values with the same rules as import, so
// "won" matches a stored "Won" and "$1,000" matches 1000.
func filterQuery(cfg *EntityConfig, filters map[string]string) (Query, error) {
	fields := make([]string, 0, len(filters))
	for f := range filters {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var q Query
	for _, name := range fields {
		raw := filters[name]
		if name == "id" {
			q.IDs = append(q.IDs, strings.TrimSpace(raw))
			continue
		}

		spec, ok := cfg.Field(name)
		if !ok {
			if !IsSystemField(name) {
				return Query{}, fmt.Errorf("cannot filter %s by %q: not a field", cfg.Name, name)
			}
			spec = FieldSpec{Name: name, Type: FieldText}
		}

		value, ok := ConvertValue(spec, raw)
		if !ok {
			return Query{}, fmt.Errorf("invalid filter value %s=%q", name, raw)
		}
		fold := spec.Type == FieldText || spec.Type == FieldEnum
		q.Conditions = append(q.Conditions, Condition{Field: name, Value: value, Fold: fold})
	}
	return q, nil
}
