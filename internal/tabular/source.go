// Package tabular holds the in-memory form of one parsed dialogue CSV file.
package tabular

import (
	"fmt"
	"strings"

	"dialogdb/internal/ident"
)

// Row is one data record aligned to Source.Columns. A nil cell means the
// value was empty or missing in the file; every other cell is a string.
type Row []any

// Source is an immutable parsed CSV file: ordered column labels plus rows.
//
// Row 0 conventionally carries a human-readable label and row 2 historically
// carried a type hint. Neither is treated specially; all persisted columns
// are text.
type Source struct {
	// Name is the file path the source was read from (informational).
	Name    string
	Columns []string
	Rows    []Row
}

// New validates that every row is aligned to columns and returns a Source.
func New(name string, columns []string, rows []Row) (*Source, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("tabular: %s: no columns", name)
	}
	for i, r := range rows {
		if len(r) != len(columns) {
			return nil, fmt.Errorf("tabular: %s: row %d has %d cells, want %d", name, i, len(r), len(columns))
		}
	}
	return &Source{Name: name, Columns: columns, Rows: rows}, nil
}

// KeyLabel returns the label of the first column, whose value identifies a row.
func (s *Source) KeyLabel() string {
	if len(s.Columns) == 0 {
		return ""
	}
	return s.Columns[0]
}

// Key returns the row key (first cell) of row i.
func (s *Source) Key(i int) any {
	return s.Rows[i][0]
}

// KeyText renders the row key as text. nil renders as "".
func (s *Source) KeyText(i int) string {
	return Text(s.Key(i))
}

// IsComment reports whether row i is a comment row: its first cell, as text,
// starts with '#'.
func (s *Source) IsComment(i int) bool {
	return strings.HasPrefix(s.KeyText(i), "#")
}

// CanonicalColumns returns the canonical identifiers of every column.
func (s *Source) CanonicalColumns() []string {
	return ident.CanonicalAll(s.Columns)
}

// Bindings maps each raw column label to row i's cell.
func (s *Source) Bindings(i int) map[string]any {
	out := make(map[string]any, len(s.Columns))
	for j, c := range s.Columns {
		out[c] = s.Rows[i][j]
	}
	return out
}

// CanonicalBindings maps each canonical column identifier to row i's cell.
func (s *Source) CanonicalBindings(i int) map[string]any {
	out := make(map[string]any, len(s.Columns))
	for j, c := range s.Columns {
		out[ident.Canonical(c)] = s.Rows[i][j]
	}
	return out
}

// Text renders a cell value as text the way a row key is compared.
func Text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(v)
	}
}
