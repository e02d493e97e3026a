package core

// csvread.go decodes and parses uploaded CSV content.
//
// Input is decoded to UTF-8 before parsing:
//   - A UTF-8 or UTF-16 BOM selects that encoding and is removed
//   - Otherwise content that looks like UTF-8 is read as UTF-8, with
//     invalid bytes replaced by U+FFFD
//   - Anything else is read as Windows-1252, the usual Excel export on Windows

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	// ErrNoHeader is returned when the CSV has no usable header row.
	ErrNoHeader = errors.New("csv has no header row")

	// ErrNoDataRows is returned when the CSV has a header but no data rows.
	ErrNoDataRows = errors.New("csv has no data rows")
)

// sniffSize is how many bytes are inspected to guess the encoding.
const sniffSize = 64 * 1024

// NewDecodingReader wraps r so that it yields UTF-8 text.
func NewDecodingReader(r io.Reader) io.Reader {
	br := bufio.NewReaderSize(r, sniffSize)
	peek, _ := br.Peek(sniffSize)

	var fallback transform.Transformer = unicode.UTF8.NewDecoder()
	if !hasBOM(peek) && !looksUTF8(peek) {
		fallback = charmap.Windows1252.NewDecoder()
	}

	return transform.NewReader(br, unicode.BOMOverride(fallback))
}

func hasBOM(p []byte) bool {
	switch {
	case len(p) >= 3 && p[0] == 0xEF && p[1] == 0xBB && p[2] == 0xBF:
		return true
	case len(p) >= 2 && (p[0] == 0xFF && p[1] == 0xFE || p[0] == 0xFE && p[1] == 0xFF):
		return true
	}
	return false
}

// looksUTF8 reports whether p is valid UTF-8, allowing a rune cut off at the end.
func looksUTF8(p []byte) bool {
	for len(p) > 0 {
		r, size := utf8.DecodeRune(p)
		if r == utf8.RuneError && size == 1 {
			return !utf8.FullRune(p)
		}
		p = p[size:]
	}
	return true
}

// ParsedCSV holds a header row and its data rows.
type ParsedCSV struct {
	Header []string
	Rows   [][]string
}

// ParseCSV decodes and parses CSV content. Quoted fields may contain commas,
// doubled quotes and newlines. Blank lines are skipped. Returns ErrNoHeader or
// ErrNoDataRows for structurally empty input.
func ParseCSV(r io.Reader) (*ParsedCSV, error) {
	cr := csv.NewReader(NewDecodingReader(r))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var parsed ParsedCSV
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid csv: %w", err)
		}
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

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// ParseUpload parses an uploaded file, choosing the reader by file extension.
// Files ending in .xlsx are read as workbooks, everything else as CSV.
func ParseUpload(fileName string, r io.Reader) (*ParsedCSV, error) {
	if strings.EqualFold(filepath.Ext(fileName), ".xlsx") {
		return ParseXLSX(r)
	}
	return ParseCSV(r)
}
