package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"
	"go.uber.org/zap"

	"dialogdb/internal/storage"
)

const (
	// SQL Server has a hard limit of 2100 parameters and 1000 rows per
	// VALUES list. We stay comfortably below both.
	maxParams = 2000
	maxRows   = 1000
)

// Repo implements storage.Repository for Microsoft SQL Server.
//
// Notes:
//   - Text columns are NVARCHAR(MAX) NULL so Japanese text round-trips.
//   - DROP TABLE IF EXISTS needs SQL Server 2016 or later. SQL Server has no
//     DROP ... CASCADE; a referencing foreign key fails the drop.
//   - AddTextColumn uses IF COL_LENGTH(...) IS NULL, which is atomic per
//     statement.
//   - Catalog lookups compare LOWER(TABLE_NAME) so they work under
//     case-sensitive collations too.
type Repo struct {
	db  dbConn
	log *zap.Logger
}

func init() {
	storage.Register("mssql", New)
}

// New constructs a Repo using database/sql and the "sqlserver" driver.
//
// This method validates connectivity via PingContext.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Repo{db: &sqlDB{db: raw}, log: log}, nil
}

func (r *Repo) Kind() string { return "mssql" }

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

func (r *Repo) Begin(ctx context.Context) (storage.Session, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("mssql: begin: %w", err)
	}
	return &session{tx: tx, log: r.log}, nil
}

func (r *Repo) TableColumns(ctx context.Context, table string) ([]string, error) {
	return queryColumns(ctx, r.db, r.log, table)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryColumns(ctx context.Context, q queryer, log *zap.Logger, table string) ([]string, error) {
	query := buildColumnsSQL()
	storage.LogStatement(log, "mssql", query, 1)

	rows, err := q.QueryContext(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("mssql: columns of %s: %w", table, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

type session struct {
	tx  txConn
	log *zap.Logger
}

func (s *session) exec(ctx context.Context, query string, args ...any) (int64, error) {
	storage.LogStatement(s.log, "mssql", query, len(args))
	res, err := s.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *session) ReplaceTable(ctx context.Context, table string, columns []string) error {
	createSQL, err := buildCreateSQL(table, columns)
	if err != nil {
		return err
	}
	if _, err := s.exec(ctx, buildDropSQL(table)); err != nil {
		return fmt.Errorf("mssql: drop table %s: %w", table, err)
	}
	if _, err := s.exec(ctx, createSQL); err != nil {
		return fmt.Errorf("mssql: create table %s: %w", table, err)
	}
	return nil
}

func (s *session) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("mssql: insert into %s: columns is empty", table)
	}

	chunk := storage.RowsPerStatement(len(columns), maxParams, maxRows)
	var total int64
	for start := 0; start < len(rows); start += chunk {
		end := start + chunk
		if end > len(rows) {
			end = len(rows)
		}
		q, args, err := buildBulkInsertSQL(table, columns, rows[start:end])
		if err != nil {
			return total, err
		}
		n, err := s.exec(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("mssql: insert into %s: %w", table, err)
		}
		total += n
	}
	return total, nil
}

func (s *session) TableColumns(ctx context.Context, table string) ([]string, error) {
	return queryColumns(ctx, s.tx, s.log, table)
}

func (s *session) AddTextColumn(ctx context.Context, table, column string) error {
	q, args := buildAddColumnSQL(table, column)
	if _, err := s.exec(ctx, q, args...); err != nil {
		return fmt.Errorf("mssql: add column %s.%s: %w", table, column, err)
	}
	return nil
}

func (s *session) FoldsColumnCase() bool { return true }

func (s *session) UpdateByKey(ctx context.Context, spec storage.UpdateSpec) (int64, error) {
	q, args, err := buildUpdateSQL(spec)
	if err != nil {
		return 0, err
	}
	n, err := s.exec(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("mssql: update %s: %w", spec.Table, err)
	}
	return n, nil
}

func (s *session) Commit(context.Context) error {
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("mssql: commit: %w", err)
	}
	return nil
}

func (s *session) Rollback(context.Context) error {
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("mssql: rollback: %w", err)
	}
	return nil
}

// ---- database/sql seam types ----

// dbConn is a small interface over *sql.DB used to make this package testable.
type dbConn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is a small interface over *sql.Tx used for testability.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	Commit() error
	Rollback() error
}

// sqlDB wraps *sql.DB to implement dbConn.
type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

// BeginTx begins a transaction and returns a txConn wrapper.
func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

var (
	_ dbConn             = (*sqlDB)(nil)
	_ txConn             = (*sql.Tx)(nil)
	_ storage.Repository = (*Repo)(nil)
)
