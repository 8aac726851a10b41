package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"profiler/internal/frame"
	"profiler/internal/frame/memframe"
	"profiler/internal/metrics"
)

// testDataset covers every flattening shape: a plain numeric column, a nested
// record, a sequence and a categorical column.
func testDataset(t *testing.T) *memframe.Dataset {
	t.Helper()
	d, err := memframe.NewDataset("people", []memframe.Column{
		{
			Def:    frame.Column{Name: "age", Kind: frame.KindNumeric},
			Values: []any{int64(25), int64(30), int64(35), nil, int64(25)},
		},
		{
			Def: frame.Column{Name: "user", Kind: frame.KindNested, Fields: []frame.Column{
				{Name: "name", Kind: frame.KindText},
			}},
			Values: []any{
				map[string]any{"name": "ann"},
				map[string]any{"name": "bob"},
				nil,
				map[string]any{"name": "cy"},
				map[string]any{"name": "dee"},
			},
		},
		{
			Def:    frame.Column{Name: "tags", Kind: frame.KindSequence},
			Values: []any{[]any{"a", "b"}, []any{"a"}, []any{}, []any{"a", "b", "c"}, []any{"b"}},
		},
		{
			Def:    frame.Column{Name: "status", Kind: frame.KindCategorical},
			Values: []any{"active", "active", "idle", "active", "idle"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return d
}

// flakyTable wraps a real table and fails selected plan shapes, for exercising
// the degraded-pass paths.
type flakyTable struct {
	inner frame.Table

	failSchema     bool
	failScalar     bool
	failProjection bool
	failTopK       bool
}

func (f *flakyTable) Schema(ctx context.Context) (frame.Schema, error) {
	if f.failSchema {
		return nil, errors.New("schema unavailable")
	}
	return f.inner.Schema(ctx)
}

func (f *flakyTable) Collect(ctx context.Context, p frame.Plan) (frame.RowSet, error) {
	switch p.(type) {
	case frame.ScalarPlan:
		if f.failScalar {
			return frame.RowSet{}, errors.New("scalar query lost")
		}
	case frame.ProjectionPlan:
		if f.failProjection {
			return frame.RowSet{}, errors.New("projection query lost")
		}
	case frame.TopKPlan:
		if f.failTopK {
			return frame.RowSet{}, errors.New("topk query lost")
		}
	}
	return f.inner.Collect(ctx, p)
}

func (f *flakyTable) CollectAll(ctx context.Context, plans []frame.Plan) ([]frame.BatchResult, error) {
	out := make([]frame.BatchResult, len(plans))
	for i, p := range plans {
		rs, err := f.Collect(ctx, p)
		out[i] = frame.BatchResult{RowSet: rs, Err: err}
	}
	return out, nil
}

// recordingBackend captures metric calls for assertion.
type recordingBackend struct {
	counters   map[string]float64
	histograms []string
}

func newRecordingBackend() *recordingBackend {
	return &recordingBackend{counters: make(map[string]float64)}
}

func counterKey(name string, labels metrics.Labels) string {
	key := name
	for _, lk := range []string{"status", "severity", "stage"} {
		if v, ok := labels[lk]; ok {
			key += "/" + lk + "=" + v
		}
	}
	return key
}

func (b *recordingBackend) IncCounter(name string, delta float64, labels metrics.Labels) {
	b.counters[counterKey(name, labels)] += delta
}

func (b *recordingBackend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	b.histograms = append(b.histograms, counterKey(name, labels))
}

func TestTableEndToEnd(t *testing.T) {
	d := testDataset(t)

	fixed := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	restoreNow, restoreID := now, newRunID
	now = func() time.Time { return fixed }
	newRunID = func() string { return "run-fixed" }
	defer func() { now, newRunID = restoreNow, restoreID }()

	rec, err := Table(context.Background(), d, Options{})
	if err != nil {
		t.Fatalf("Table: %v", err)
	}

	if rec.RowCount != 5 {
		t.Errorf("RowCount = %d, want 5", rec.RowCount)
	}

	names := make([]string, 0, 4)
	for _, cs := range rec.Columns() {
		names = append(names, cs.Name)
	}
	want := []string{"age", "user_name", "tags_len", "status"}
	if fmt.Sprint(names) != fmt.Sprint(want) {
		t.Fatalf("columns = %v, want %v", names, want)
	}

	age, _ := rec.Lookup("age")
	if age.NullCount != 1 || age.Numeric == nil {
		t.Fatalf("age stats = %+v", age)
	}
	if age.Numeric.Mean == nil || *age.Numeric.Mean != 28.75 {
		t.Errorf("age mean = %v, want 28.75", age.Numeric.Mean)
	}
	if age.Histogram == nil {
		t.Error("age has no histogram")
	}

	userName, _ := rec.Lookup("user_name")
	if userName.Text == nil || userName.Text.Min == nil || *userName.Text.Min != "ann" {
		t.Errorf("user_name text stats = %+v", userName.Text)
	}
	if userName.TopK == nil {
		t.Error("user_name has no top-k")
	}

	tagsLen, _ := rec.Lookup("tags_len")
	if tagsLen.Numeric == nil || tagsLen.NullCount != 0 {
		t.Fatalf("tags_len stats = %+v", tagsLen)
	}
	if tagsLen.Numeric.Max == nil || *tagsLen.Numeric.Max != 3 {
		t.Errorf("tags_len max = %v, want 3", tagsLen.Numeric.Max)
	}

	status, _ := rec.Lookup("status")
	if status.Distinct != 2 || len(status.TopK) != 2 {
		t.Errorf("status stats = %+v", status)
	}

	// Two numeric columns (age and tags_len) means correlations are present.
	if rec.Correlations == nil {
		t.Fatal("correlations missing")
	}
	if fmt.Sprint(rec.Correlations.Columns) != fmt.Sprint([]string{"age", "tags_len"}) {
		t.Errorf("correlation columns = %v", rec.Correlations.Columns)
	}

	if !rec.AlertsComputed {
		t.Error("diagnostics never ran")
	}

	meta := rec.Meta
	if meta.RunID != "run-fixed" {
		t.Errorf("RunID = %q", meta.RunID)
	}
	if !meta.GeneratedAt.Equal(fixed) {
		t.Errorf("GeneratedAt = %v", meta.GeneratedAt)
	}
	if meta.EngineTime != 0 {
		t.Errorf("EngineTime = %v, want 0 under a frozen clock", meta.EngineTime)
	}
	if meta.CorrelationMethod != "exact" {
		t.Errorf("CorrelationMethod = %q, want exact", meta.CorrelationMethod)
	}
	if meta.Version != "0.3.0" {
		t.Errorf("Version = %q", meta.Version)
	}
	if len(meta.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", meta.Warnings)
	}
}

func TestTableScalarFailureIsFatal(t *testing.T) {
	t.Parallel()

	tbl := &flakyTable{inner: testDataset(t), failScalar: true}
	rec, err := Table(context.Background(), tbl, Options{})
	if err == nil {
		t.Fatal("expected error from a failed scalar pass")
	}
	if rec != nil {
		t.Fatal("failed run still returned a record")
	}
}

func TestTableSchemaFailureIsFatal(t *testing.T) {
	t.Parallel()

	tbl := &flakyTable{inner: testDataset(t), failSchema: true}
	if _, err := Table(context.Background(), tbl, Options{}); err == nil {
		t.Fatal("expected error from an unreadable schema")
	}
}

func TestTableDegradedPasses(t *testing.T) {
	t.Parallel()

	tbl := &flakyTable{inner: testDataset(t), failProjection: true, failTopK: true}
	rec, err := Table(context.Background(), tbl, Options{})
	if err != nil {
		t.Fatalf("degraded run should still succeed: %v", err)
	}

	age, _ := rec.Lookup("age")
	if age.Histogram != nil {
		t.Error("histogram present although every projection failed")
	}
	status, _ := rec.Lookup("status")
	if status.TopK != nil {
		t.Error("top-k present although every frequency query failed")
	}
	if rec.Correlations != nil {
		t.Error("correlations present although the projection failed")
	}
	if !rec.AlertsComputed {
		t.Error("diagnostics skipped; it should run on the degraded record")
	}

	if len(rec.Meta.Warnings) == 0 {
		t.Fatal("degraded passes left no warnings")
	}
	joined := strings.Join(rec.Meta.Warnings, "\n")
	for _, frag := range []string{"histogram age", "top-k status", "correlation"} {
		if !strings.Contains(joined, frag) {
			t.Errorf("warnings missing %q:\n%s", frag, joined)
		}
	}
	if rec.Meta.CorrelationMethod != "" {
		t.Errorf("CorrelationMethod = %q, want empty after a failed pass", rec.Meta.CorrelationMethod)
	}
}

func TestTableNoProfilableColumns(t *testing.T) {
	t.Parallel()

	d, err := memframe.NewDataset("t", []memframe.Column{
		{Def: frame.Column{Name: "blob", Kind: frame.KindNested}, Values: []any{nil}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Table(context.Background(), d, Options{}); err == nil {
		t.Fatal("expected error for a schema with no profilable columns")
	}
}

func TestTableZeroRows(t *testing.T) {
	t.Parallel()

	d, err := memframe.NewDataset("t", []memframe.Column{
		{Def: frame.Column{Name: "a", Kind: frame.KindNumeric}},
		{Def: frame.Column{Name: "s", Kind: frame.KindText}},
	})
	if err != nil {
		t.Fatal(err)
	}

	rec, err := Table(context.Background(), d, Options{})
	if err != nil {
		t.Fatalf("Table: %v", err)
	}
	if rec.RowCount != 0 {
		t.Errorf("RowCount = %d, want 0", rec.RowCount)
	}
	if !rec.AlertsComputed || len(rec.Alerts) != 0 {
		t.Errorf("zero-row alerts = %v, want computed-but-empty", rec.Alerts)
	}

	// No rows means no frequency groups; the column must not carry an empty
	// top-K list and the wire output must omit the key entirely.
	cs, ok := rec.Lookup("s")
	if !ok {
		t.Fatal("column s missing from the record")
	}
	if cs.TopK != nil {
		t.Errorf("zero-row TopK = %v, want nil", cs.TopK)
	}
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatal(err)
	}
	if _, ok := m["s_top_k"]; ok {
		t.Error("s_top_k key present for a zero-row table")
	}
}

func TestTableCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Table(ctx, testDataset(t), Options{}); err == nil {
		t.Fatal("expected error under a cancelled context")
	}
}

func TestTableEmitsMetrics(t *testing.T) {
	t.Parallel()

	backend := newRecordingBackend()
	rec, err := Table(context.Background(), testDataset(t), Options{Metrics: backend})
	if err != nil {
		t.Fatal(err)
	}

	if got := backend.counters[metrics.RunsTotal+"/status=ok"]; got != 1 {
		t.Errorf("runs ok = %v, want 1", got)
	}
	if got := backend.counters[metrics.RowsTotal]; got != float64(rec.RowCount) {
		t.Errorf("rows total = %v, want %d", got, rec.RowCount)
	}

	// One stage-duration observation per stage.
	stages := 0
	for _, h := range backend.histograms {
		if strings.HasPrefix(h, metrics.StageDurationSeconds) {
			stages++
		}
	}
	if stages != 5 {
		t.Errorf("stage observations = %d, want 5", stages)
	}
}

func TestTableErrorMetrics(t *testing.T) {
	t.Parallel()

	backend := newRecordingBackend()
	tbl := &flakyTable{inner: testDataset(t), failScalar: true}
	if _, err := Table(context.Background(), tbl, Options{Metrics: backend}); err == nil {
		t.Fatal("expected error")
	}
	if got := backend.counters[metrics.RunsTotal+"/status=error"]; got != 1 {
		t.Errorf("runs error = %v, want 1", got)
	}
}

func TestTableStageLogs(t *testing.T) {
	t.Parallel()

	var lines []string
	logger := logFunc(func(format string, v ...any) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	if _, err := Table(context.Background(), testDataset(t), Options{Logger: logger}); err != nil {
		t.Fatal(err)
	}

	joined := strings.Join(lines, "\n")
	for _, stage := range []string{"scalar", "histogram", "topk", "correlation", "diagnostics"} {
		if !strings.Contains(joined, "stage="+stage+" ok") {
			t.Errorf("missing ok log for stage %s:\n%s", stage, joined)
		}
	}
}

type logFunc func(format string, v ...any)

func (f logFunc) Printf(format string, v ...any) { f(format, v...) }
