package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"dialogdb/internal/storage"
)

const (
	// SQLITE_MAX_VARIABLE_NUMBER defaults to 32766 in modernc.org/sqlite.
	maxParams = 32000
	maxRows   = 500
)

// Repo implements storage.Repository for SQLite.
//
// Key design points vs Postgres:
//   - SQLite has no DROP ... CASCADE; dependants are left to the engine.
//   - SQLite has no ADD COLUMN IF NOT EXISTS. AddTextColumn checks the
//     catalog first, inside the session's transaction, so a single writer
//     is race-free.
//   - Table and column names are case-insensitive in SQLite, so catalog
//     lookups need no lower-casing.
type Repo struct {
	db  *sql.DB
	log *zap.Logger
}

func init() {
	storage.Register("sqlite", New)
}

// New opens the database named by cfg.DSN (a file path or a modernc DSN).
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Repo{db: db, log: log}, nil
}

func (r *Repo) Kind() string { return "sqlite" }

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) Begin(ctx context.Context) (storage.Session, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin: %w", err)
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
	storage.LogStatement(log, "sqlite", query, 1)

	rows, err := q.QueryContext(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("sqlite: columns of %s: %w", table, err)
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
	tx  *sql.Tx
	log *zap.Logger
}

func (s *session) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	storage.LogStatement(s.log, "sqlite", query, len(args))
	return s.tx.ExecContext(ctx, query, args...)
}

func (s *session) ReplaceTable(ctx context.Context, table string, columns []string) error {
	createSQL, err := buildCreateSQL(table, columns)
	if err != nil {
		return err
	}
	if _, err := s.exec(ctx, buildDropSQL(table)); err != nil {
		return fmt.Errorf("sqlite: drop table %s: %w", table, err)
	}
	if _, err := s.exec(ctx, createSQL); err != nil {
		return fmt.Errorf("sqlite: create table %s: %w", table, err)
	}
	return nil
}

func (s *session) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("sqlite: insert into %s: columns is empty", table)
	}

	chunk := storage.RowsPerStatement(len(columns), maxParams, maxRows)
	var total int64
	for start := 0; start < len(rows); start += chunk {
		end := start + chunk
		if end > len(rows) {
			end = len(rows)
		}
		q, args, err := buildInsertSQL(table, columns, rows[start:end])
		if err != nil {
			return total, err
		}
		res, err := s.exec(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("sqlite: insert into %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (s *session) TableColumns(ctx context.Context, table string) ([]string, error) {
	return queryColumns(ctx, s.tx, s.log, table)
}

func (s *session) AddTextColumn(ctx context.Context, table, column string) error {
	existing, err := s.TableColumns(ctx, table)
	if err != nil {
		return err
	}
	for _, c := range existing {
		if strings.EqualFold(c, column) {
			return nil
		}
	}
	if _, err := s.exec(ctx, buildAddColumnSQL(table, column)); err != nil {
		return fmt.Errorf("sqlite: add column %s.%s: %w", table, column, err)
	}
	return nil
}

func (s *session) FoldsColumnCase() bool { return true }

func (s *session) UpdateByKey(ctx context.Context, spec storage.UpdateSpec) (int64, error) {
	q, args, err := buildUpdateSQL(spec)
	if err != nil {
		return 0, err
	}
	res, err := s.exec(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: update %s: %w", spec.Table, err)
	}
	return res.RowsAffected()
}

func (s *session) Commit(context.Context) error {
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func (s *session) Rollback(context.Context) error {
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("sqlite: rollback: %w", err)
	}
	return nil
}

var _ storage.Repository = (*Repo)(nil)
