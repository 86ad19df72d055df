package mssql

import (
	"fmt"
	"strings"

	"dialogdb/internal/storage"
)

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func buildDropSQL(table string) string {
	return "DROP TABLE IF EXISTS " + mssqlIdent(table)
}

func buildCreateSQL(table string, columns []string) (string, error) {
	if strings.TrimSpace(table) == "" {
		return "", fmt.Errorf("mssql: table name is empty")
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("mssql: %s: no columns", table)
	}
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = mssqlIdent(c) + " NVARCHAR(MAX) NULL"
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", mssqlIdent(table), strings.Join(parts, ",\n  ")), nil
}

// buildBulkInsertSQL constructs one INSERT ... VALUES statement with @pN
// placeholders.
func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any, error) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlIdent(table))
	b.WriteString(" (")

	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if len(row) != len(columns) {
			return "", nil, fmt.Errorf("mssql: insert into %s: row %d has %d values, want %d", table, i, len(row), len(columns))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(fmt.Sprintf("@p%d", p))
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	return b.String(), args, nil
}

func buildColumnsSQL() string {
	return "SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS " +
		"WHERE TABLE_SCHEMA = SCHEMA_NAME() AND LOWER(TABLE_NAME) = LOWER(@p1) " +
		"ORDER BY ORDINAL_POSITION"
}

// buildAddColumnSQL adds column only when COL_LENGTH reports it missing.
func buildAddColumnSQL(table, column string) (string, []any) {
	q := fmt.Sprintf("IF COL_LENGTH(@p1, @p2) IS NULL ALTER TABLE %s ADD %s NVARCHAR(MAX) NULL",
		mssqlIdent(table), mssqlIdent(column))
	return q, []any{table, column}
}

func buildUpdateSQL(spec storage.UpdateSpec) (string, []any, error) {
	if err := spec.Validate(); err != nil {
		return "", nil, err
	}
	set, where, args := spec.BindParams(func(n int) string { return fmt.Sprintf("@p%d", n) }, true)

	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(mssqlIdent(spec.Table))
	b.WriteString(" SET ")
	for i, a := range spec.Set {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(a.Column))
		b.WriteString(" = ")
		b.WriteString(set[i])
	}
	b.WriteString(" WHERE ")
	b.WriteString(mssqlIdent(spec.Where.Column))
	b.WriteString(" = ")
	b.WriteString(where)
	return b.String(), args, nil
}
