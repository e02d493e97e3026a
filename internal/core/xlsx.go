package core

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// ExportXLSX renders records into a single-sheet workbook with a bold
// header row. Cells hold the same text as ExportCSV; numeric fields are
// written as numbers.
func ExportXLSX(cfg *EntityConfig, records []Record) ([]byte, error) {
	wb := excelize.NewFile()
	defer wb.Close()

	sheet := cfg.Name
	if err := wb.SetSheetName(wb.GetSheetName(0), sheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]any, len(cfg.ExportFields))
	for i, name := range cfg.ExportFields {
		header[i] = name
	}
	if err := wb.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	bold, err := wb.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}
	if err := wb.SetRowStyle(sheet, 1, 1, bold); err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}

	for r, rec := range records {
		row := make([]any, len(cfg.ExportFields))
		for i, name := range cfg.ExportFields {
			spec := exportSpec(cfg, name)
			if f, ok := toFloat(rec[name]); ok && spec.Numeric() {
				row[i] = f
				continue
			}
			row[i] = FormatCell(spec, rec[name])
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return nil, err
		}
		if err := wb.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", r+1, err)
		}
	}

	if n := len(cfg.ExportFields); n > 0 {
		last, err := excelize.ColumnNumberToName(n)
		if err != nil {
			return nil, err
		}
		if err := wb.SetColWidth(sheet, "A", last, 18); err != nil {
			return nil, fmt.Errorf("column width: %w", err)
		}
	}

	buf, err := wb.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseXLSX reads the first sheet of a workbook as header and data rows,
// with the same blank-row handling as ParseCSV.
func ParseXLSX(r io.Reader) (*ParsedCSV, error) {
	wb, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("invalid xlsx: %w", err)
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoHeader
	}

	rows, err := wb.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("invalid xlsx: %w", err)
	}

	var parsed ParsedCSV
	for _, row := range rows {
		if isEmptyRow(row) {
			continue
		}
		if parsed.Header == nil {
			parsed.Header = row
			continue
		}
		parsed.Rows = append(parsed.Rows, row)
	}

	if parsed.Header == nil {
		return nil, ErrNoHeader
	}
	if len(parsed.Rows) == 0 {
		return nil, ErrNoDataRows
	}
	return &parsed, nil
}
