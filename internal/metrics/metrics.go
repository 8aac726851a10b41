// Package metrics defines the minimal instrumentation surface the profiler
// emits into. Concrete backends (Datadog, test fakes) live in subpackages;
// core code depends only on Backend so no vendor SDK leaks inward.
package metrics

// Labels are free-form metric dimensions (e.g. {"stage": "scalar"}).
type Labels map[string]string

// Backend receives metric events. Implementations must be safe for
// concurrent use.
type Backend interface {
	// IncCounter adds delta to a named counter.
	IncCounter(name string, delta float64, labels Labels)

	// ObserveHistogram records one sample of a named distribution.
	ObserveHistogram(name string, value float64, labels Labels)
}

// Metric names emitted by the profiler. Backends route on these.
const (
	// RunsTotal counts profiling runs, labeled status=ok|error.
	RunsTotal = "profiler_runs_total"

	// AlertsTotal counts emitted alerts, labeled severity.
	AlertsTotal = "profiler_alerts_total"

	// RowsTotal counts rows profiled per run.
	RowsTotal = "profiler_rows_total"

	// StageDurationSeconds samples per-stage wall time, labeled stage and
	// status=ok|failed.
	StageDurationSeconds = "profiler_stage_duration_seconds"
)

// Nop discards everything. It is the default backend.
type Nop struct{}

func (Nop) IncCounter(string, float64, Labels)       {}
func (Nop) ObserveHistogram(string, float64, Labels) {}

var _ Backend = Nop{}
