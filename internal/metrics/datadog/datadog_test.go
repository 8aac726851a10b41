package datadog

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"profiler/internal/metrics"
)

// fakeSubmitter records submitted payloads in place of the real API.
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) submitted() []datadogV2.MetricPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]datadogV2.MetricPayload(nil), f.payloads...)
}

// stoppedTicker returns a ticker that never fires, so tests control every
// flush explicitly.
func stoppedTicker(time.Duration) *time.Ticker {
	t := time.NewTicker(time.Hour)
	t.Stop()
	return t
}

func newTestBackend(t *testing.T, opts Options) (*Backend, *fakeSubmitter) {
	t.Helper()
	fake := &fakeSubmitter{}
	opts.submitter = fake
	opts.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	opts.newTicker = stoppedTicker
	b, err := NewBackend(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	return b, fake
}

func seriesByMetric(payloads []datadogV2.MetricPayload) map[string]datadogV2.MetricSeries {
	out := map[string]datadogV2.MetricSeries{}
	for _, p := range payloads {
		for _, s := range p.Series {
			out[s.Metric] = s
		}
	}
	return out
}

func TestFlushSubmitsBufferedMetrics(t *testing.T) {
	t.Parallel()

	b, fake := newTestBackend(t, Options{JobName: "nightly"})
	defer b.Close()

	b.IncCounter(metrics.RunsTotal, 1, metrics.Labels{"status": "ok"})
	b.IncCounter(metrics.RowsTotal, 12345, nil)
	b.IncCounter(metrics.AlertsTotal, 2, metrics.Labels{"severity": "CRITICAL"})
	b.ObserveHistogram(metrics.StageDurationSeconds, 0.25,
		metrics.Labels{"stage": "scalar", "status": "ok"})

	if err := b.Flush(); err != nil {
		t.Fatal(err)
	}

	series := seriesByMetric(fake.submitted())

	runs, ok := series["profiler.runs.total"]
	if !ok {
		t.Fatal("runs series missing")
	}
	if *runs.Points[0].Value != 1 {
		t.Errorf("runs value = %v", *runs.Points[0].Value)
	}
	if !hasTag(runs.Tags, "status:ok") || !hasTag(runs.Tags, "job:nightly") {
		t.Errorf("runs tags = %v", runs.Tags)
	}

	alerts := series["profiler.alerts.total"]
	if !hasTag(alerts.Tags, "severity:critical") {
		t.Errorf("alert severity tag not lowered: %v", alerts.Tags)
	}

	if rows := series["profiler.rows.total"]; *rows.Points[0].Value != 12345 {
		t.Errorf("rows value = %v", *rows.Points[0].Value)
	}

	dur := series["profiler.stage.duration_seconds.p50"]
	if *dur.Points[0].Value != 0.25 {
		t.Errorf("p50 = %v", *dur.Points[0].Value)
	}
	if !hasTag(dur.Tags, "stage:scalar") {
		t.Errorf("stage tag missing: %v", dur.Tags)
	}
}

func TestFlushEmptyIsNoop(t *testing.T) {
	t.Parallel()

	b, fake := newTestBackend(t, Options{})
	defer b.Close()

	if err := b.Flush(); err != nil {
		t.Fatal(err)
	}
	if len(fake.submitted()) != 0 {
		t.Fatal("empty flush submitted a payload")
	}
}

func TestFlushResetsBuffers(t *testing.T) {
	t.Parallel()

	b, fake := newTestBackend(t, Options{})
	defer b.Close()

	b.IncCounter(metrics.RunsTotal, 1, metrics.Labels{"status": "ok"})
	if err := b.Flush(); err != nil {
		t.Fatal(err)
	}
	if err := b.Flush(); err != nil {
		t.Fatal(err)
	}
	if got := len(fake.submitted()); got != 1 {
		t.Fatalf("got %d payloads, want 1 (second flush must see empty buffers)", got)
	}
}

func TestFlushResetsEvenOnFailure(t *testing.T) {
	t.Parallel()

	fake := &fakeSubmitter{err: errors.New("intake unavailable")}
	b, err := NewBackend(context.Background(), Options{
		submitter: fake,
		now:       func() time.Time { return time.Unix(1_700_000_000, 0) },
		newTicker: stoppedTicker,
	})
	if err != nil {
		t.Fatal(err)
	}

	b.IncCounter(metrics.RunsTotal, 1, metrics.Labels{"status": "ok"})
	if err := b.Flush(); err == nil {
		t.Fatal("expected submission error")
	}
	fake.err = nil
	if err := b.Flush(); err != nil {
		t.Fatal(err)
	}
	if got := len(fake.submitted()); got != 1 {
		t.Fatalf("got %d successful payloads, want 1 (failed data is dropped)", got)
	}
	_ = b.Close()
}

func TestCloseFlushesOnce(t *testing.T) {
	t.Parallel()

	b, fake := newTestBackend(t, Options{})
	b.IncCounter(metrics.RowsTotal, 10, nil)
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if len(fake.submitted()) != 1 {
		t.Fatalf("Close submitted %d payloads, want 1", len(fake.submitted()))
	}
}

func TestIgnoredInputs(t *testing.T) {
	t.Parallel()

	b, fake := newTestBackend(t, Options{})
	defer b.Close()

	b.IncCounter("some.other.metric", 1, nil)
	b.IncCounter(metrics.RunsTotal, -1, metrics.Labels{"status": "ok"})
	b.IncCounter(metrics.AlertsTotal, 1, nil) // no severity label
	b.ObserveHistogram(metrics.StageDurationSeconds, -0.5,
		metrics.Labels{"stage": "scalar", "status": "ok"})
	b.ObserveHistogram("some.other.histogram", 1, nil)

	if err := b.Flush(); err != nil {
		t.Fatal(err)
	}
	if len(fake.submitted()) != 0 {
		t.Fatalf("ignored inputs produced a payload: %+v", fake.submitted())
	}
}

func TestBuildSeriesPercentiles(t *testing.T) {
	t.Parallel()

	b, _ := newTestBackend(t, Options{})
	defer b.Close()

	samples := make([]float64, 100)
	for i := range samples {
		samples[i] = float64(i + 1) // 1..100
	}
	snap := snapshot{stageDur: map[string][]float64{
		stageStatusKey("topk", "ok"): samples,
	}}

	series := b.buildSeries(snap, 123)
	byName := map[string]float64{}
	for _, s := range series {
		byName[s.Metric] = *s.Points[0].Value
	}

	if byName["profiler.stage.duration_seconds.max"] != 100 {
		t.Errorf("max = %v", byName["profiler.stage.duration_seconds.max"])
	}
	if byName["profiler.stage.duration_seconds.samples"] != 100 {
		t.Errorf("samples = %v", byName["profiler.stage.duration_seconds.samples"])
	}
	p50 := byName["profiler.stage.duration_seconds.p50"]
	if p50 < 49 || p50 > 52 {
		t.Errorf("p50 = %v, want near the median", p50)
	}
	p99 := byName["profiler.stage.duration_seconds.p99"]
	if p99 < 98 || p99 > 100 {
		t.Errorf("p99 = %v", p99)
	}
}

func TestPercentileNearestRank(t *testing.T) {
	t.Parallel()

	s := []float64{1, 2, 3, 4}
	sort.Float64s(s)

	cases := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{0.5, 3},
		{1, 4},
	}
	for _, tc := range cases {
		if got := percentileNearestRank(s, tc.p); got != tc.want {
			t.Errorf("percentile(%v) = %v, want %v", tc.p, got, tc.want)
		}
	}
	if got := percentileNearestRank(nil, 0.5); got != 0 {
		t.Errorf("empty percentile = %v, want 0", got)
	}
}

func TestParseTagsCSV(t *testing.T) {
	t.Parallel()

	got := ParseTagsCSV(" env:prod , service:profiler ,, ")
	want := []string{"env:prod", "service:profiler"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("ParseTagsCSV = %v, want %v", got, want)
	}
	if ParseTagsCSV("") != nil {
		t.Fatal("empty input should parse to nil")
	}
}

func TestStageStatusKeyRoundTrip(t *testing.T) {
	t.Parallel()

	stage, status := splitStageStatusKey(stageStatusKey("correlation", "failed"))
	if stage != "correlation" || status != "failed" {
		t.Fatalf("round trip = %q, %q", stage, status)
	}
	stage, status = splitStageStatusKey("bare")
	if stage != "bare" || status != "unknown" {
		t.Fatalf("malformed key = %q, %q", stage, status)
	}
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}
