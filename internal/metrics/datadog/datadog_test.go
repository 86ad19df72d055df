package datadog

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"dialogdb/internal/metrics"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

var fixedNow = time.Unix(1760000000, 0)

type recordingSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (r *recordingSubmitter) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, r.err
}

func (r *recordingSubmitter) submitted() []datadogV2.MetricPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]datadogV2.MetricPayload(nil), r.payloads...)
}

// newImportBackend installs a backend that never ticks on its own and routes
// the package-level metrics helpers to it.
func newImportBackend(t *testing.T, sub *recordingSubmitter, tags ...string) *Backend {
	t.Helper()
	t.Setenv("ENV", "ci")
	b, err := NewBackend(context.Background(), Options{
		Tags:       tags,
		FlushEvery: time.Hour,
		now:        func() time.Time { return fixedNow },
		submitter:  sub,
	})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	metrics.SetBackend(b)
	t.Cleanup(func() { metrics.SetBackend(nil) })
	return b
}

// pointsByKey flattens a payload into "metric{tag,tag}" -> value, dropping
// the base tags so keys stay readable.
func pointsByKey(t *testing.T, p datadogV2.MetricPayload, base []string) map[string]float64 {
	t.Helper()
	out := make(map[string]float64, len(p.Series))
	for _, s := range p.Series {
		if len(s.Points) != 1 {
			t.Fatalf("%s: %d points, want 1", s.Metric, len(s.Points))
		}
		if got := s.Points[0].GetTimestamp(); got != fixedNow.Unix() {
			t.Fatalf("%s: timestamp = %d, want %d", s.Metric, got, fixedNow.Unix())
		}
		if !reflect.DeepEqual(s.Tags[:len(base)], base) {
			t.Fatalf("%s: tags %v do not start with %v", s.Metric, s.Tags, base)
		}
		key := s.Metric + "{" + strings.Join(s.Tags[len(base):], ",") + "}"
		if _, dup := out[key]; dup {
			t.Fatalf("duplicate series %s", key)
		}
		out[key] = s.Points[0].GetValue()
	}
	return out
}

func TestFlush_ImportRunSeries(t *testing.T) {
	sub := &recordingSubmitter{}
	b := newImportBackend(t, sub)
	defer b.Close()

	metrics.RecordStep("baseline", "ok", 2*time.Second)
	metrics.RecordStep("baseline", "ok", 4*time.Second)
	metrics.RecordStep("merge", "error", 500*time.Millisecond)
	metrics.RecordRecords("inserted", 83)
	metrics.RecordRecords("updated", 40)
	metrics.RecordRecords("orphan", 0)
	metrics.RecordFile("eng", "ok", 83)
	metrics.RecordFile("jp", "ok", 40)

	if err := metrics.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	payloads := sub.submitted()
	if len(payloads) != 1 {
		t.Fatalf("submissions = %d, want 1", len(payloads))
	}

	got := pointsByKey(t, payloads[0], []string{"env:ci", "job:dialogdb"})
	want := map[string]float64{
		"dialogdb.step.total{step:baseline,status:ok}": 2,
		"dialogdb.step.total{step:merge,status:error}": 1,
		"dialogdb.records.total{kind:inserted}":        83,
		"dialogdb.records.total{kind:updated}":         40,
		"dialogdb.files.total{lang:eng,status:ok}":     1,
		"dialogdb.files.total{lang:jp,status:ok}":      1,

		"dialogdb.step.duration_seconds.p50{step:baseline,status:ok}":     4,
		"dialogdb.step.duration_seconds.p90{step:baseline,status:ok}":     4,
		"dialogdb.step.duration_seconds.p95{step:baseline,status:ok}":     4,
		"dialogdb.step.duration_seconds.p99{step:baseline,status:ok}":     4,
		"dialogdb.step.duration_seconds.max{step:baseline,status:ok}":     4,
		"dialogdb.step.duration_seconds.samples{step:baseline,status:ok}": 2,

		"dialogdb.step.duration_seconds.p50{step:merge,status:error}":     0.5,
		"dialogdb.step.duration_seconds.p90{step:merge,status:error}":     0.5,
		"dialogdb.step.duration_seconds.p95{step:merge,status:error}":     0.5,
		"dialogdb.step.duration_seconds.p99{step:merge,status:error}":     0.5,
		"dialogdb.step.duration_seconds.max{step:merge,status:error}":     0.5,
		"dialogdb.step.duration_seconds.samples{step:merge,status:error}": 1,

		"dialogdb.file.rows.p50{lang:eng}":     83,
		"dialogdb.file.rows.p90{lang:eng}":     83,
		"dialogdb.file.rows.p95{lang:eng}":     83,
		"dialogdb.file.rows.p99{lang:eng}":     83,
		"dialogdb.file.rows.max{lang:eng}":     83,
		"dialogdb.file.rows.samples{lang:eng}": 1,

		"dialogdb.file.rows.p50{lang:jp}":     40,
		"dialogdb.file.rows.p90{lang:jp}":     40,
		"dialogdb.file.rows.p95{lang:jp}":     40,
		"dialogdb.file.rows.p99{lang:jp}":     40,
		"dialogdb.file.rows.max{lang:jp}":     40,
		"dialogdb.file.rows.samples{lang:jp}": 1,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("series mismatch\n got: %v\nwant: %v", sortedKeys(got), sortedKeys(want))
	}

	for _, s := range payloads[0].Series {
		wantType := datadogV2.METRICINTAKETYPE_GAUGE
		if strings.HasSuffix(s.Metric, ".total") {
			wantType = datadogV2.METRICINTAKETYPE_COUNT
		}
		if s.GetType() != wantType {
			t.Fatalf("%s: type = %v, want %v", s.Metric, s.GetType(), wantType)
		}
	}
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestFlush_FileRowPercentiles(t *testing.T) {
	sub := &recordingSubmitter{}
	b := newImportBackend(t, sub)
	defer b.Close()

	// Recorded out of order; nearest rank over 1..10.
	for _, rows := range []int{7, 3, 10, 1, 5, 9, 2, 8, 6, 4} {
		metrics.RecordFile("jp", "ok", rows)
	}
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	got := pointsByKey(t, sub.submitted()[0], []string{"env:ci", "job:dialogdb"})
	for suffix, want := range map[string]float64{
		"p50": 6, "p90": 9, "p95": 10, "p99": 10, "max": 10, "samples": 10,
	} {
		key := "dialogdb.file.rows." + suffix + "{lang:jp}"
		if got[key] != want {
			t.Fatalf("%s = %v, want %v", key, got[key], want)
		}
	}
	if got["dialogdb.files.total{lang:jp,status:ok}"] != 10 {
		t.Fatalf("files.total = %v, want 10", got["dialogdb.files.total{lang:jp,status:ok}"])
	}
}

func TestFlush_MissingLabelsBecomeUnknown(t *testing.T) {
	sub := &recordingSubmitter{}
	b := newImportBackend(t, sub)
	defer b.Close()

	metrics.RecordFile("", "", 3)
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	got := pointsByKey(t, sub.submitted()[0], []string{"env:ci", "job:dialogdb"})
	if got["dialogdb.files.total{lang:unknown,status:unknown}"] != 1 {
		t.Fatalf("series = %v", sortedKeys(got))
	}
	if got["dialogdb.file.rows.max{lang:unknown}"] != 3 {
		t.Fatalf("series = %v", sortedKeys(got))
	}
}

func TestFlush_IgnoredObservationsSubmitNothing(t *testing.T) {
	sub := &recordingSubmitter{}
	b := newImportBackend(t, sub)
	defer b.Close()

	metrics.IncCounter("dialogdb_unknown_total", 1, nil)
	metrics.ObserveHistogram("dialogdb_unknown_seconds", 1, nil)
	metrics.IncCounter(metrics.StepTotal, 0, metrics.Labels{"step": "merge", "status": "ok"})
	metrics.IncCounter(metrics.RecordsTotal, 5, metrics.Labels{})
	metrics.ObserveHistogram(metrics.FileRows, -1, metrics.Labels{"lang": "jp"})
	metrics.RecordRecords("inserted", -3)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n := len(sub.submitted()); n != 0 {
		t.Fatalf("submissions = %d, want 0", n)
	}
}

func TestFlush_ResetsBuffersWhenSubmitFails(t *testing.T) {
	boom := errors.New("intake unavailable")
	sub := &recordingSubmitter{err: boom}
	b := newImportBackend(t, sub)
	defer b.Close()

	metrics.RecordRecords("shadow_column", 2)
	if err := b.Flush(); !errors.Is(err, boom) {
		t.Fatalf("Flush err = %v, want %v", err, boom)
	}
	if err := b.Flush(); err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	if n := len(sub.submitted()); n != 1 {
		t.Fatalf("submissions = %d, want 1", n)
	}
}

func TestClose_SubmitsRemainingSeries(t *testing.T) {
	sub := &recordingSubmitter{}
	b := newImportBackend(t, sub, "service:dialogdb")

	metrics.RecordStep("scan", "ok", time.Second)
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	payloads := sub.submitted()
	if len(payloads) != 1 {
		t.Fatalf("submissions = %d, want 1", len(payloads))
	}
	got := pointsByKey(t, payloads[0], []string{"env:ci", "job:dialogdb", "service:dialogdb"})
	if got["dialogdb.step.total{step:scan,status:ok}"] != 1 {
		t.Fatalf("series = %v", sortedKeys(got))
	}
}

func TestNewBackend_EnvAndJobTags(t *testing.T) {
	tests := []struct {
		name  string
		env   string
		ddEnv string
		job   string
		want  []string
	}{
		{name: "env_wins", env: "prod", ddEnv: "staging", want: []string{"env:prod", "job:dialogdb"}},
		{name: "dd_env_fallback", env: "  ", ddEnv: "staging", want: []string{"env:staging", "job:dialogdb"}},
		{name: "unknown", job: "nightly-import", want: []string{"env:unknown", "job:nightly-import"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ENV", tt.env)
			t.Setenv("DD_ENV", tt.ddEnv)
			b, err := NewBackend(context.Background(), Options{
				JobName:   tt.job,
				submitter: &recordingSubmitter{},
			})
			if err != nil {
				t.Fatalf("NewBackend: %v", err)
			}
			defer b.Close()

			if b.flushEvery != 60*time.Second {
				t.Fatalf("flushEvery = %v, want 60s", b.flushEvery)
			}
			if !reflect.DeepEqual(b.baseTags, tt.want) {
				t.Fatalf("baseTags = %v, want %v", b.baseTags, tt.want)
			}
		})
	}
}

func TestParseTagsCSV(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{in: "", want: nil},
		{in: "env:prod", want: []string{"env:prod"}},
		{in: " env:prod , service:dialogdb ,,", want: []string{"env:prod", "service:dialogdb"}},
		{in: " , ", want: []string{}},
	}
	for _, tt := range tests {
		if got := ParseTagsCSV(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("ParseTagsCSV(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestWrapInitErr(t *testing.T) {
	if WrapInitErr(nil) != nil {
		t.Fatalf("WrapInitErr(nil) should be nil")
	}
	base := errors.New("no api key")
	err := WrapInitErr(base)
	if !errors.Is(err, base) {
		t.Fatalf("wrapped error lost its cause: %v", err)
	}
	if err.Error() != "datadog metrics init: no api key" {
		t.Fatalf("message = %q", err.Error())
	}
}
