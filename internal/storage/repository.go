package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrUnsupportedKind is returned by New when no backend is registered under
// the configured kind.
var ErrUnsupportedKind = errors.New("unsupported storage kind")

// Config is the minimal configuration needed to open a Repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
//   - A nil Logger is replaced by zap.NewNop().
type Config struct {
	Kind   string
	DSN    string
	Logger *zap.Logger
}

// Repository is one connection pool / database handle for a run.
//
// Backends implement the dialect details (quoting, placeholders, catalog
// lookups, add-column-if-missing) in their own idiomatic way. Callers only
// pass bare identifiers; every backend quotes them itself.
type Repository interface {
	// Kind reports the registered backend name ("postgres", "sqlite", "mssql").
	Kind() string

	// Begin opens a Session. One Session covers exactly one source file.
	Begin(ctx context.Context) (Session, error)

	// TableColumns reads a table's column names from the catalog outside any
	// session. A missing table yields no columns and no error.
	TableColumns(ctx context.Context, table string) ([]string, error)

	// Close releases backend resources. Treat Close as "call once".
	Close()
}

// Session is a unit of work over a single transaction. Nothing written
// through a Session is visible to other sessions until Commit.
type Session interface {
	// ReplaceTable drops table (and dependants, where the dialect supports it)
	// and recreates it with every column typed as open-ended text.
	ReplaceTable(ctx context.Context, table string, columns []string) error

	// InsertRows inserts rows aligned to columns. nil values become NULL.
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	// TableColumns reads the table's current column names from the catalog.
	// Table names are matched case-insensitively. A missing table yields no
	// columns and no error.
	TableColumns(ctx context.Context, table string) ([]string, error)

	// AddTextColumn adds a nullable text column. Adding a column that already
	// exists is not an error.
	AddTextColumn(ctx context.Context, table, column string) error

	// UpdateByKey runs one UPDATE built from spec and returns the number of
	// rows it matched.
	UpdateByKey(ctx context.Context, spec UpdateSpec) (int64, error)

	// FoldsColumnCase reports whether column names that differ only in case
	// name the same column. Postgres keeps quoted names apart; SQLite and
	// SQL Server (default collation) do not.
	FoldsColumnCase() bool

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Assignment binds a column to a named parameter.
type Assignment struct {
	Column string
	Param  string
}

// UpdateSpec describes
//
//	UPDATE Table SET Set[0].Column = :Set[0].Param, ... WHERE Where.Column = :Where.Param
//
// Params holds the values by parameter name. Parameter names are free-form
// source labels; backends translate them to positional placeholders.
type UpdateSpec struct {
	Table  string
	Set    []Assignment
	Where  Assignment
	Params map[string]any
}

// Validate checks that every referenced parameter is bound.
func (u UpdateSpec) Validate() error {
	if strings.TrimSpace(u.Table) == "" {
		return fmt.Errorf("storage: update: table is empty")
	}
	if len(u.Set) == 0 {
		return fmt.Errorf("storage: update %s: no assignments", u.Table)
	}
	if u.Where.Column == "" {
		return fmt.Errorf("storage: update %s: where column is empty", u.Table)
	}
	for _, a := range append(append([]Assignment(nil), u.Set...), u.Where) {
		if a.Column == "" {
			return fmt.Errorf("storage: update %s: empty column", u.Table)
		}
		if _, ok := u.Params[a.Param]; !ok {
			return fmt.Errorf("storage: update %s: parameter %q is not bound", u.Table, a.Param)
		}
	}
	return nil
}

// BindParams turns the named parameters of u into positional arguments.
// placeholder renders the n-th (1-based) placeholder. A parameter referenced
// more than once is bound once when the dialect supports numbered
// placeholders (reuse=true) and repeated otherwise.
func (u UpdateSpec) BindParams(placeholder func(n int) string, reuse bool) (set []string, where string, args []any) {
	seen := map[string]string{}
	bind := func(name string) string {
		if reuse {
			if ph, ok := seen[name]; ok {
				return ph
			}
		}
		args = append(args, u.Params[name])
		ph := placeholder(len(args))
		seen[name] = ph
		return ph
	}
	set = make([]string, len(u.Set))
	for i, a := range u.Set {
		set[i] = bind(a.Param)
	}
	where = bind(u.Where.Param)
	return set, where, args
}

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// Kinds lists registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New constructs a Repository using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty.
//   - Returns ErrUnsupportedKind if cfg.Kind is not registered.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing storage.kind")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("%w: storage.kind=%s (registered: %s)", ErrUnsupportedKind, cfg.Kind, strings.Join(Kinds(), ", "))
	}
	return f(ctx, cfg)
}

// LogStatement reports a generated statement at debug level.
func LogStatement(log *zap.Logger, backend, sql string, nargs int) {
	log.Debug("statement", zap.String("backend", backend), zap.String("sql", sql), zap.Int("args", nargs))
}

// RowsPerStatement returns how many rows of ncols values fit in one
// multi-row INSERT given the backend's parameter and row limits.
func RowsPerStatement(ncols, maxParams, maxRows int) int {
	if ncols <= 0 {
		return maxRows
	}
	n := maxParams / ncols
	if n < 1 {
		n = 1
	}
	if maxRows > 0 && n > maxRows {
		n = maxRows
	}
	return n
}
