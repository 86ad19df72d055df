package config

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap/zapcore"

	"dialogdb/internal/discovery"
	"dialogdb/internal/ingest"
	csvparser "dialogdb/internal/parser/csv"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path is the config key it concerns.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// StorageKinds are the backend kinds dialogdb ships.
var StorageKinds = []string{"mssql", "postgres", "sqlite"}

// Validate checks c and returns every issue found. Errors make the
// configuration unusable; warnings are informational.
func Validate(c Config) []Issue {
	var out []Issue
	add := func(sev Severity, path, format string, a ...any) {
		out = append(out, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	if strings.TrimSpace(c.BaseDir) == "" {
		add(SeverityError, KeyBaseDir, "is required")
	} else if fi, err := os.Stat(c.BaseDir); err != nil {
		add(SeverityError, KeyBaseDir, "%v", err)
	} else if !fi.IsDir() {
		add(SeverityError, KeyBaseDir, "%s is not a directory", c.BaseDir)
	}

	if len(c.Categories) == 0 {
		add(SeverityWarning, KeyCategories, "empty; using %s and %s", discovery.Quest, discovery.Cutscene)
	}
	for i, cat := range c.Categories {
		switch discovery.Category(strings.TrimSpace(cat)) {
		case discovery.Quest, discovery.Cutscene:
		default:
			add(SeverityError, fmt.Sprintf("%s[%d]", KeyCategories, i), "unknown category %q", cat)
		}
	}

	if !contains(StorageKinds, c.Storage.Kind) {
		add(SeverityError, KeyStorageKind, "must be one of %s, got %q", strings.Join(StorageKinds, "|"), c.Storage.Kind)
	}
	if strings.TrimSpace(c.Storage.DSN) == "" {
		add(SeverityError, KeyStorageDSN, "is required")
	}

	if !csvparser.SupportedEncoding(c.CSV.Encoding) {
		add(SeverityError, KeyCSVEncoding, "unsupported encoding %q", c.CSV.Encoding)
	}
	if c.CSV.Comma != "" && utf8.RuneCountInString(c.CSV.Comma) != 1 {
		add(SeverityError, KeyCSVComma, "must be a single character, got %q", c.CSV.Comma)
	}
	if c.CSV.Comma == "\"" || c.CSV.Comma == "\n" || c.CSV.Comma == "\r" {
		add(SeverityError, KeyCSVComma, "%q cannot be used as a delimiter", c.CSV.Comma)
	}

	if _, err := ingest.ParseOrphanPolicy(c.Merge.OrphanPolicy); err != nil {
		add(SeverityError, KeyOrphanPolicy, "must be ignore|warn|error, got %q", c.Merge.OrphanPolicy)
	}
	if _, err := ingest.ParseDuplicatePolicy(c.Merge.DuplicateKeyPolicy); err != nil {
		add(SeverityError, KeyDuplicateKeyPolicy, "must be all|reject, got %q", c.Merge.DuplicateKeyPolicy)
	}

	switch c.Metrics.Backend {
	case "", "none":
	case "datadog":
		if os.Getenv("DD_API_KEY") == "" {
			add(SeverityWarning, KeyMetricsBackend, "datadog selected but DD_API_KEY is not set; submissions will fail")
		}
		if c.Metrics.FlushEvery < 0 {
			add(SeverityError, KeyMetricsFlushEvery, "must not be negative")
		}
	default:
		add(SeverityError, KeyMetricsBackend, "must be none|datadog, got %q", c.Metrics.Backend)
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		add(SeverityError, KeyLogLevel, "%v", err)
	}

	return out
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

func contains(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
