// Package report holds the profile record: the typed, ordered result of one
// profiling session.
//
// Internally everything is strongly typed and addressed by column. The flat
// "{column}_{metric}" string-keyed mapping the rest of the world sees is
// strictly a serialization concern, produced by MarshalJSON (see wire.go).
package report

import (
	"time"

	"profiler/internal/frame"
)

// Version tags every record produced by this module.
const Version = "0.3.0"

// Record is the complete result of one profiling session.
//
// Lifecycle: created empty, populated pass by pass by the executor, stamped
// with metadata, handed once to the diagnostic engine, then treated as
// immutable by every consumer.
type Record struct {
	// RowCount is the table row count from the scalar pass. A record only
	// exists when the scalar pass succeeded, so this is always valid.
	RowCount int64

	columns []*ColumnStats
	index   map[string]*ColumnStats

	// Correlations is nil when the correlation pass was skipped or failed.
	Correlations *Correlations

	// Alerts is only meaningful when AlertsComputed is true: a run with no
	// findings has an empty-but-present alert list, while a failed
	// diagnostics stage leaves the key absent entirely.
	Alerts         []Alert
	AlertsComputed bool

	Meta Meta
}

// New returns an empty record.
func New() *Record {
	return &Record{index: make(map[string]*ColumnStats)}
}

// AddColumn appends a column entry and returns it. Adding a duplicate name
// returns the existing entry: per-column keys are unique by contract.
func (r *Record) AddColumn(name string, kind frame.Kind) *ColumnStats {
	if cs, ok := r.index[name]; ok {
		return cs
	}
	cs := &ColumnStats{Name: name, Kind: kind}
	r.columns = append(r.columns, cs)
	r.index[name] = cs
	return cs
}

// Columns returns the per-column stats in schema order.
func (r *Record) Columns() []*ColumnStats { return r.columns }

// Lookup returns the stats for one column, if present.
func (r *Record) Lookup(name string) (*ColumnStats, bool) {
	cs, ok := r.index[name]
	return cs, ok
}

// ColumnStats carries everything computed for one flattened column.
type ColumnStats struct {
	Name string
	Kind frame.Kind

	// NullCount and Distinct come from the scalar pass and are present on
	// every column of a returned record. Distinct is an estimate.
	NullCount int64
	Distinct  int64

	// Numeric is set for numeric columns only. Individual fields are nil
	// when the column had no non-null values.
	Numeric *NumericStats

	// Text is set for text and categorical columns only.
	Text *TextStats

	// Histogram is nil when the histogram pass failed for this column or
	// never ran.
	Histogram []Bin

	// TopK is nil when the top-K pass failed for this column or never ran.
	TopK []TopKEntry
}

// NumericStats are the scalar-pass numeric aggregates. Pointer fields
// distinguish "computed as null" (fully-null column) from zero.
type NumericStats struct {
	Mean     *float64
	Min      *float64
	Max      *float64
	Std      *float64
	Skew     *float64
	Kurtosis *float64
	P25      *float64
	P50      *float64
	P75      *float64
}

// TextStats are the scalar-pass text aggregates: lexicographic (byte order)
// min/max and character-length stats over non-null values.
type TextStats struct {
	Min        *string
	Max        *string
	MinLength  *int64
	MaxLength  *int64
	MeanLength *float64
}

// Bin is one equal-width histogram bucket.
type Bin struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int64   `json:"count"`
}

// TopKEntry is one frequent-value entry, descending by count. A nil Value is
// the null group, which counts like any other value.
type TopKEntry struct {
	Value *string `json:"value"`
	Count int64   `json:"count"`
}

// Correlations holds both correlation matrices over the same column order.
type Correlations struct {
	Columns  []string
	Pearson  Matrix
	Spearman Matrix
}

// Matrix is a square correlation matrix aligned with Correlations.Columns.
// nil cells are undefined correlations (zero variance); NaN never appears.
type Matrix [][]*float64

// Severity ranks an alert. Order (for display): CRITICAL, WARNING, INFO.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityWarning  Severity = "WARNING"
	SeverityInfo     Severity = "INFO"
)

// rank orders severities for display sorting; unknown severities sink last.
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	case SeverityInfo:
		return 2
	default:
		return 3
	}
}

// Rank exposes the display order of a severity (lower sorts first).
func (s Severity) Rank() int { return s.rank() }

// Alert is one data-quality finding. Column holds either a column name or a
// canonical "A <-> B" pair label for relationship alerts.
type Alert struct {
	Column   string   `json:"column"`
	Type     string   `json:"type"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Value    *float64 `json:"value,omitempty"`
}

// Meta is the execution metadata stamped onto every record.
type Meta struct {
	GeneratedAt time.Time
	EngineTime  time.Duration
	Warnings    []string
	// CorrelationMethod is "exact", "sampled (n=...)" or empty (serialized
	// as null) when the correlation pass was skipped or failed.
	CorrelationMethod string
	Version           string
	RunID             string
}
