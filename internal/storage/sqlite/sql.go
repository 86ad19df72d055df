package sqlite

import (
	"fmt"
	"strings"

	"dialogdb/internal/storage"
)

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func buildDropSQL(table string) string {
	return "DROP TABLE IF EXISTS " + sqlIdent(table)
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
		parts[i] = sqlIdent(c) + " TEXT"
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", sqlIdent(table), strings.Join(parts, ",\n  ")), nil
}

// buildInsertSQL constructs a single multi-row INSERT and its args.
//
// Constraints:
//   - every row must have exactly len(columns) values.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any, error) {
	colList := make([]string, len(columns))
	for i, c := range columns {
		colList[i] = sqlIdent(c)
	}
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(colList, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if len(row) != len(columns) {
			return "", nil, fmt.Errorf("insert into %s: row %d has %d values, want %d", table, i, len(row), len(columns))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		args = append(args, row...)
	}
	return b.String(), args, nil
}

func buildColumnsSQL() string {
	return "SELECT name FROM pragma_table_info(?) ORDER BY cid"
}

func buildAddColumnSQL(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", sqlIdent(table), sqlIdent(column))
}

// buildUpdateSQL uses numbered ?NNN placeholders so a parameter referenced by
// both SET and WHERE is bound once.
func buildUpdateSQL(spec storage.UpdateSpec) (string, []any, error) {
	if err := spec.Validate(); err != nil {
		return "", nil, err
	}
	set, where, args := spec.BindParams(func(n int) string { return fmt.Sprintf("?%d", n) }, true)

	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(sqlIdent(spec.Table))
	b.WriteString(" SET ")
	for i, a := range spec.Set {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(a.Column))
		b.WriteString(" = ")
		b.WriteString(set[i])
	}
	b.WriteString(" WHERE ")
	b.WriteString(sqlIdent(spec.Where.Column))
	b.WriteString(" = ")
	b.WriteString(where)
	return b.String(), args, nil
}
