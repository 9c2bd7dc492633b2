package table

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ParseError reports malformed or unreadable raw input. It carries the
// source path (when known) and the 1-based line number of the offending
// row when the problem is row-level.
type ParseError struct {
	Path string
	Line int
	Msg  string
	Err  error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString("parse")
	if e.Path != "" {
		fmt.Fprintf(&b, " %s", e.Path)
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, " line %d", e.Line)
	}
	b.WriteString(": ")
	b.WriteString(e.Msg)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ParseError) Unwrap() error { return e.Err }

// Load reads a delimited text file into a Table, skipping the first
// skipRows lines before the header.
func Load(path string, skipRows int) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Msg: "read file", Err: err}
	}
	t, err := Parse(data, skipRows)
	if err != nil {
		if pe, ok := err.(*ParseError); ok {
			pe.Path = path
		}
		return nil, err
	}
	return t, nil
}

// Parse parses raw CSV bytes into a Table. The first skipRows lines are
// discarded, the next non-blank record is the header, and every data
// row must have exactly as many fields as the header. Rows with a
// mismatched field count are rejected rather than padded or truncated.
// Blank rows are skipped. Invalid UTF-8 is replaced with U+FFFD.
func Parse(data []byte, skipRows int) (*Table, error) {
	if skipRows < 0 {
		skipRows = 0
	}

	data = sanitizeUTF8(data)
	data = skipLines(data, skipRows)

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, &ParseError{Msg: "invalid csv", Err: err}
	}

	// Drop leading blank records before the header.
	headerAt := -1
	for i, rec := range records {
		if !isBlankRow(rec) {
			headerAt = i
			break
		}
	}
	if headerAt < 0 {
		return nil, &ParseError{Msg: "empty input"}
	}

	header := make([]string, len(records[headerAt]))
	for i, cell := range records[headerAt] {
		header[i] = cleanCell(cell)
	}

	t := &Table{Header: header}
	for i, rec := range records[headerAt+1:] {
		if isBlankRow(rec) {
			continue
		}
		if len(rec) != len(header) {
			return nil, &ParseError{
				Line: skipRows + headerAt + i + 2,
				Msg:  fmt.Sprintf("expected %d fields, got %d", len(header), len(rec)),
			}
		}
		row := make([]string, len(rec))
		for j, cell := range rec {
			row[j] = cleanCell(cell)
		}
		t.Rows = append(t.Rows, row)
	}

	return t, nil
}

// Save serializes the table back to delimited text at path, creating
// parent directories as needed and overwriting existing content.
func (t *Table) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, row := range t.Rows {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode csv: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// skipLines drops the first n lines from data. Lines are terminated by
// '\n'; the preamble being skipped is assumed not to contain quoted
// embedded newlines.
func skipLines(data []byte, n int) []byte {
	for ; n > 0; n-- {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			return nil
		}
		data = data[idx+1:]
	}
	return data
}

// cleanCell trims whitespace and byte-order marks from a cell value.
func cleanCell(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "\ufeff")
	return strings.TrimSpace(s)
}

func isBlankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune('\uFFFD')
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}

	return buf.Bytes()
}
