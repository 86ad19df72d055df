// Package metrics is the process-wide metrics seam. Library code records
// through the package-level helpers; the CLI installs a concrete Backend
// (e.g. datadog) with SetBackend. Until then every call is a no-op.
package metrics

import (
	"sync"
	"time"
)

// Metric names recorded by dialogdb.
const (
	StepTotal           = "dialogdb_step_total"
	StepDurationSeconds = "dialogdb_step_duration_seconds"
	RecordsTotal        = "dialogdb_records_total"
	FilesTotal          = "dialogdb_files_total"
	FileRows            = "dialogdb_file_rows"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric observations.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nop struct{}

func (nop) IncCounter(string, float64, Labels) {}
func (nop) ObserveHistogram(string, float64, Labels) {}
func (nop) Flush() error { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nop{}
)

// SetBackend installs b as the process backend. A nil b restores the no-op
// backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		backend = nop{}
		return
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter adds delta to the named counter.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample of the named histogram.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush asks the backend to submit buffered data.
func Flush() error {
	return current().Flush()
}

// RecordStep counts one step execution and its duration.
// status is "ok" or "error".
func RecordStep(step, status string, d time.Duration) {
	l := Labels{"step": step, "status": status}
	IncCounter(StepTotal, 1, l)
	ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// RecordRecords adds n to the per-kind record counter
// (inserted, updated, skipped_comment, skipped_no_japanese, orphan, shadow_column).
func RecordRecords(kind string, n int) {
	if n <= 0 {
		return
	}
	IncCounter(RecordsTotal, float64(n), Labels{"kind": kind})
}

// RecordFile counts one processed file and observes its row count.
func RecordFile(lang, status string, rows int) {
	IncCounter(FilesTotal, 1, Labels{"lang": lang, "status": status})
	ObserveHistogram(FileRows, float64(rows), Labels{"lang": lang})
}
