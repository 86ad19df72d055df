package ingest

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"dialogdb/internal/storage"
	"dialogdb/internal/tabular"
)

// LoadBaseline drops table (with dependants), recreates it with every
// canonical column of src typed as text and inserts every row of src.
// Empty cells are stored as NULL. The caller owns sess and commits it.
func LoadBaseline(ctx context.Context, sess storage.Session, table string, src *tabular.Source, opts Options) (Stats, error) {
	opts = opts.withDefaults()
	st := Stats{Table: table, Rows: len(src.Rows)}

	cols := src.CanonicalColumns()
	if err := checkCollisions(src.Columns, cols, sess.FoldsColumnCase()); err != nil {
		return st, fmt.Errorf("baseline %s: %w", table, err)
	}

	if err := sess.ReplaceTable(ctx, table, cols); err != nil {
		return st, fmt.Errorf("baseline %s: %w", table, err)
	}

	rows := make([][]any, len(src.Rows))
	for i := range src.Rows {
		b := src.CanonicalBindings(i)
		r := make([]any, len(cols))
		for j, c := range cols {
			r[j] = b[c]
		}
		rows[i] = r
	}
	n, err := sess.InsertRows(ctx, table, cols, rows)
	st.Inserted = n
	if err != nil {
		return st, fmt.Errorf("baseline %s: %w", table, err)
	}

	st.DuplicateKeys = countDuplicateKeys(src)
	if st.DuplicateKeys > 0 {
		opts.Logger.Warn("baseline has duplicate row keys; merges will update every match",
			zap.String("table", table), zap.Int("duplicate_keys", st.DuplicateKeys))
	}
	return st, nil
}

// checkCollisions rejects sources whose distinct labels sanitize to the same
// identifier, compared case-insensitively when the backend folds case.
func checkCollisions(labels, canonical []string, foldCase bool) error {
	seen := make(map[string]string, len(canonical))
	for i, c := range canonical {
		k := c
		if foldCase {
			k = strings.ToLower(c)
		}
		if prev, ok := seen[k]; ok {
			return fmt.Errorf("columns %q and %q both map to %q", prev, labels[i], c)
		}
		seen[k] = labels[i]
	}
	return nil
}

// countDuplicateKeys counts keys that occur on more than one non-comment row.
func countDuplicateKeys(src *tabular.Source) int {
	counts := make(map[string]int, len(src.Rows))
	for i := range src.Rows {
		if src.IsComment(i) || src.Key(i) == nil {
			continue
		}
		counts[storage.NormalizeKey(src.Key(i))]++
	}
	dups := 0
	for _, n := range counts {
		if n > 1 {
			dups++
		}
	}
	return dups
}
