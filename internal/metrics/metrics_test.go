package metrics

import (
	"sync"
	"testing"
	"time"
)

type call struct {
	kind   string
	name   string
	value  float64
	labels Labels
}

type recorder struct {
	mu      sync.Mutex
	calls   []call
	flushes int
}

func (r *recorder) IncCounter(name string, delta float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{"counter", name, delta, labels})
}

func (r *recorder) ObserveHistogram(name string, value float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{"histogram", name, value, labels})
}

func (r *recorder) Flush() error {
	r.flushes++
	return nil
}

// Tests in this file mutate the process backend and must not run in parallel.

func TestDefaultBackendIsNop(t *testing.T) {
	SetBackend(nil)
	IncCounter(StepTotal, 1, nil)
	ObserveHistogram(StepDurationSeconds, 1, nil)
	if err := Flush(); err != nil {
		t.Fatalf("Flush on nop backend: %v", err)
	}
}

func TestRecordHelpers(t *testing.T) {
	r := &recorder{}
	SetBackend(r)
	t.Cleanup(func() { SetBackend(nil) })

	RecordStep("merge", "ok", 1500*time.Millisecond)
	RecordRecords("updated", 3)
	RecordRecords("orphan", 0)
	RecordFile("jp", "ok", 83)
	if err := Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if len(r.calls) != 5 {
		t.Fatalf("calls=%d, want 5: %+v", len(r.calls), r.calls)
	}
	if r.calls[0].name != StepTotal || r.calls[0].labels["step"] != "merge" || r.calls[0].labels["status"] != "ok" {
		t.Fatalf("unexpected step counter: %+v", r.calls[0])
	}
	if r.calls[1].name != StepDurationSeconds || r.calls[1].value != 1.5 {
		t.Fatalf("unexpected step duration: %+v", r.calls[1])
	}
	if r.calls[2].name != RecordsTotal || r.calls[2].value != 3 || r.calls[2].labels["kind"] != "updated" {
		t.Fatalf("unexpected records counter: %+v", r.calls[2])
	}
	if r.calls[3].name != FilesTotal || r.calls[3].labels["lang"] != "jp" {
		t.Fatalf("unexpected files counter: %+v", r.calls[3])
	}
	if r.calls[4].name != FileRows || r.calls[4].value != 83 {
		t.Fatalf("unexpected rows histogram: %+v", r.calls[4])
	}
	if r.flushes != 1 {
		t.Fatalf("flushes=%d, want 1", r.flushes)
	}
}
