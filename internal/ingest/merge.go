package ingest

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"dialogdb/internal/ident"
	"dialogdb/internal/script"
	"dialogdb/internal/storage"
	"dialogdb/internal/tabular"
)

// MergeImport copies the Japanese cells of src into shadow columns of table.
//
// Per row, in source order:
//   - rows whose key starts with '#' are skipped;
//   - rows without any Japanese cell are skipped;
//   - each Japanese cell's shadow column is added when missing;
//   - one UPDATE sets every shadow column of the row, matched on the key.
//
// The table's column set is read once, on the first row that needs it, and
// kept current as columns are added. Column names are compared the way the
// backend compares them (see storage.Session.FoldsColumnCase). Values are
// bound by their raw source labels. The caller owns sess and commits it.
func MergeImport(ctx context.Context, sess storage.Session, table string, src *tabular.Source, opts Options) (Stats, error) {
	opts = opts.withDefaults()
	log := opts.Logger.With(zap.String("table", table))
	st := Stats{Table: table, Rows: len(src.Rows)}

	keyLabel := src.KeyLabel()
	keyColumn := ident.Canonical(keyLabel)
	colKey := func(c string) string {
		if sess.FoldsColumnCase() {
			return strings.ToLower(c)
		}
		return c
	}

	var known map[string]bool
	for i, row := range src.Rows {
		if src.IsComment(i) {
			st.Comments++
			continue
		}
		qualifying := script.QualifyingIndexes(row)
		if len(qualifying) == 0 {
			st.NoJapanese++
			continue
		}

		if known == nil {
			cols, err := sess.TableColumns(ctx, table)
			if err != nil {
				return st, fmt.Errorf("merge %s: %w", table, err)
			}
			if len(cols) == 0 {
				return st, fmt.Errorf("merge %s: %w", table, ErrTableMissing)
			}
			known = make(map[string]bool, len(cols))
			for _, c := range cols {
				known[colKey(c)] = true
			}
		}

		spec := storage.UpdateSpec{
			Table:  table,
			Where:  storage.Assignment{Column: keyColumn, Param: keyLabel},
			Params: src.Bindings(i),
		}
		for _, j := range qualifying {
			label := src.Columns[j]
			shadow := ident.Shadow(ident.Canonical(label))
			if hasColumn(spec.Set, shadow, colKey) {
				log.Warn("labels share a shadow column; keeping the first",
					zap.String("label", label), zap.String("column", shadow))
				continue
			}
			if !known[colKey(shadow)] {
				if err := sess.AddTextColumn(ctx, table, shadow); err != nil {
					return st, fmt.Errorf("merge %s: %w", table, err)
				}
				known[colKey(shadow)] = true
				st.ShadowColumnsAdded++
				log.Info("added shadow column", zap.String("column", shadow))
			}
			spec.Set = append(spec.Set, storage.Assignment{Column: shadow, Param: label})
		}

		n, err := sess.UpdateByKey(ctx, spec)
		if err != nil {
			return st, fmt.Errorf("merge %s: row %d: %w", table, i, err)
		}
		st.Updated += n

		switch {
		case n == 0:
			st.Orphans++
			key := src.KeyText(i)
			switch opts.OrphanPolicy {
			case OrphanError:
				return st, fmt.Errorf("merge %s: row %d key %q: %w", table, i, key, ErrOrphanKey)
			case OrphanWarn:
				log.Warn("row key not in baseline", zap.Int("row", i), zap.String("key", key))
			}
		case n > 1 && opts.DuplicatePolicy == DuplicatesReject:
			return st, fmt.Errorf("merge %s: row %d key %q matched %d rows: %w", table, i, src.KeyText(i), n, ErrDuplicateKey)
		}
	}
	return st, nil
}

func hasColumn(set []storage.Assignment, column string, key func(string) string) bool {
	for _, a := range set {
		if key(a.Column) == key(column) {
			return true
		}
	}
	return false
}
