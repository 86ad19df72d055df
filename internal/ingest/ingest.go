// Package ingest writes parsed dialogue files into a relational store.
//
// LoadBaseline replaces a table with the English rows of a file.
// MergeImport then walks the Japanese file of the same name and, for every
// row carrying Japanese text, copies the Japanese cells into "shadow"
// columns (_<col>_JP) of the baseline row with the same key.
package ingest

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"dialogdb/internal/discovery"
	"dialogdb/internal/storage"
)

var (
	// ErrTableMissing means a merge found no columns for its target table.
	// The baseline pass for that file has not run.
	ErrTableMissing = errors.New("target table has no columns")

	// ErrOrphanKey is returned under OrphanError when an update matches no row.
	ErrOrphanKey = errors.New("row key not present in baseline")

	// ErrDuplicateKey is returned under DuplicatesReject when an update
	// matches more than one row.
	ErrDuplicateKey = errors.New("row key matches more than one baseline row")
)

// IsConfigError reports whether err stems from configuration or run order
// rather than from the data or the database.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrTableMissing) ||
		errors.Is(err, discovery.ErrUnsupportedLanguage) ||
		errors.Is(err, storage.ErrUnsupportedKind)
}

// OrphanPolicy decides what happens when a Japanese row's key matches no
// baseline row.
type OrphanPolicy string

const (
	OrphanIgnore OrphanPolicy = "ignore"
	OrphanWarn   OrphanPolicy = "warn"
	OrphanError  OrphanPolicy = "error"
)

func ParseOrphanPolicy(s string) (OrphanPolicy, error) {
	switch p := OrphanPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case OrphanIgnore, OrphanWarn, OrphanError:
		return p, nil
	case "":
		return OrphanWarn, nil
	default:
		return "", fmt.Errorf("ingest: unknown orphan policy %q", s)
	}
}

// DuplicatePolicy decides what happens when a key matches several rows.
type DuplicatePolicy string

const (
	DuplicatesAll    DuplicatePolicy = "all"
	DuplicatesReject DuplicatePolicy = "reject"
)

func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch p := DuplicatePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case DuplicatesAll, DuplicatesReject:
		return p, nil
	case "":
		return DuplicatesAll, nil
	default:
		return "", fmt.Errorf("ingest: unknown duplicate key policy %q", s)
	}
}

type Options struct {
	Logger          *zap.Logger
	OrphanPolicy    OrphanPolicy
	DuplicatePolicy DuplicatePolicy
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.OrphanPolicy == "" {
		o.OrphanPolicy = OrphanWarn
	}
	if o.DuplicatePolicy == "" {
		o.DuplicatePolicy = DuplicatesAll
	}
	return o
}

// Stats summarizes one file.
type Stats struct {
	Table string
	Rows  int

	// baseline
	Inserted      int64
	DuplicateKeys int

	// merge
	Comments           int
	NoJapanese         int
	Updated            int64
	Orphans            int
	ShadowColumnsAdded int
}

// Fields renders s as zap fields for the per-file summary line.
func (s Stats) Fields() []zap.Field {
	return []zap.Field{
		zap.String("table", s.Table),
		zap.Int("rows", s.Rows),
		zap.Int64("inserted", s.Inserted),
		zap.Int("duplicate_keys", s.DuplicateKeys),
		zap.Int("comments", s.Comments),
		zap.Int("no_japanese", s.NoJapanese),
		zap.Int64("updated", s.Updated),
		zap.Int("orphans", s.Orphans),
		zap.Int("shadow_columns_added", s.ShadowColumnsAdded),
	}
}
