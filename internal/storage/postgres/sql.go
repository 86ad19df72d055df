package postgres

import (
	"fmt"
	"strings"

	"dialogdb/internal/storage"
)

func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// pgTable folds a table name to lower case before quoting it.
func pgTable(name string) string {
	return pgIdent(strings.ToLower(name))
}

func buildDropSQL(table string) string {
	return "DROP TABLE IF EXISTS " + pgTable(table) + " CASCADE"
}

// buildCreateSQL renders CREATE TABLE with every column typed TEXT.
func buildCreateSQL(table string, columns []string) (string, error) {
	if strings.TrimSpace(table) == "" {
		return "", fmt.Errorf("table name is empty")
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("%s: no columns", table)
	}
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = pgIdent(c) + " TEXT"
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", pgTable(table), strings.Join(parts, ",\n  ")), nil
}

// buildInsertSQL constructs a single INSERT statement and its args for Postgres.
//
// It is pure and deterministic so placeholder numbering can be unit tested
// without a database.
//
// Constraints:
//   - every row must have exactly len(columns) values.
//   - columns must be non-empty.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any, error) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgTable(table))
	b.WriteString(" (")

	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if len(row) != len(columns) {
			return "", nil, fmt.Errorf("insert into %s: row %d has %d values, want %d", table, i, len(row), len(columns))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(fmt.Sprintf("$%d", p))
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return b.String(), args, nil
}

func buildColumnsSQL() string {
	return `SELECT column_name::text FROM information_schema.columns ` +
		`WHERE table_schema = current_schema() AND table_name = lower($1) ` +
		`ORDER BY ordinal_position`
}

func buildAddColumnSQL(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s TEXT", pgTable(table), pgIdent(column))
}

func buildUpdateSQL(spec storage.UpdateSpec) (string, []any, error) {
	if err := spec.Validate(); err != nil {
		return "", nil, err
	}
	set, where, args := spec.BindParams(func(n int) string { return fmt.Sprintf("$%d", n) }, true)

	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(pgTable(spec.Table))
	b.WriteString(" SET ")
	for i, a := range spec.Set {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(a.Column))
		b.WriteString(" = ")
		b.WriteString(set[i])
	}
	b.WriteString(" WHERE ")
	b.WriteString(pgIdent(spec.Where.Column))
	b.WriteString(" = ")
	b.WriteString(where)
	return b.String(), args, nil
}
