package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"dialogdb/internal/storage"
)

const (
	// Postgres accepts at most 65535 bind parameters per statement.
	maxParams = 60000
	maxRows   = 1000
)

/*
Repo implements storage.Repository for Postgres.

Identifiers are always double-quoted, so column case is preserved exactly.
Table names are folded to lower case before quoting, which keeps them
addressable by unquoted SQL and matches the catalog lookup
(information_schema ... table_name = lower($1)).
*/
type Repo struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func init() {
	storage.Register("postgres", New)
}

// New creates a pgx connection pool for cfg.DSN and verifies connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Repo{pool: pool, log: log}, nil
}

func (r *Repo) Kind() string { return "postgres" }

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

// Begin starts a transaction. Postgres DDL is transactional, so a rolled-back
// session also discards dropped/created tables and added columns.
func (r *Repo) Begin(ctx context.Context) (storage.Session, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	return &session{tx: tx, log: r.log}, nil
}

func (r *Repo) TableColumns(ctx context.Context, table string) ([]string, error) {
	return queryColumns(ctx, r.pool, r.log, table)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryColumns(ctx context.Context, q querier, log *zap.Logger, table string) ([]string, error) {
	query := buildColumnsSQL()
	storage.LogStatement(log, "postgres", query, 1)

	rows, err := q.Query(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("postgres: columns of %s: %w", table, err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: columns of %s: %w", table, err)
	}
	return names, nil
}

type session struct {
	tx  pgx.Tx
	log *zap.Logger
}

func (s *session) exec(ctx context.Context, sql string, args ...any) (int64, error) {
	storage.LogStatement(s.log, "postgres", sql, len(args))
	cmd, err := s.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (s *session) ReplaceTable(ctx context.Context, table string, columns []string) error {
	createSQL, err := buildCreateSQL(table, columns)
	if err != nil {
		return err
	}
	if _, err := s.exec(ctx, buildDropSQL(table)); err != nil {
		return fmt.Errorf("postgres: drop table %s: %w", table, err)
	}
	if _, err := s.exec(ctx, createSQL); err != nil {
		return fmt.Errorf("postgres: create table %s: %w", table, err)
	}
	return nil
}

func (s *session) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("postgres: insert into %s: columns is empty", table)
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
		n, err := s.exec(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("postgres: insert into %s: %w", table, err)
		}
		total += n
	}
	return total, nil
}

func (s *session) TableColumns(ctx context.Context, table string) ([]string, error) {
	return queryColumns(ctx, s.tx, s.log, table)
}

// AddTextColumn relies on ADD COLUMN IF NOT EXISTS, which is atomic.
func (s *session) AddTextColumn(ctx context.Context, table, column string) error {
	if _, err := s.exec(ctx, buildAddColumnSQL(table, column)); err != nil {
		return fmt.Errorf("postgres: add column %s.%s: %w", table, column, err)
	}
	return nil
}

func (s *session) FoldsColumnCase() bool { return false }

func (s *session) UpdateByKey(ctx context.Context, spec storage.UpdateSpec) (int64, error) {
	q, args, err := buildUpdateSQL(spec)
	if err != nil {
		return 0, err
	}
	n, err := s.exec(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("postgres: update %s: %w", spec.Table, err)
	}
	return n, nil
}

func (s *session) Commit(ctx context.Context) error {
	if err := s.tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (s *session) Rollback(ctx context.Context) error {
	if err := s.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("postgres: rollback: %w", err)
	}
	return nil
}

var _ storage.Repository = (*Repo)(nil)
