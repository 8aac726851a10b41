// Package diagnose evaluates data-quality rules against a finished profile
// record.
//
// The rule engine is pure: it reads the record, never mutates it, and never
// touches an engine. All thresholds live in Config so callers can tune them
// without forking the rules.
package diagnose

import (
	"fmt"
	"sort"

	"github.com/spf13/cast"

	"profiler/internal/report"
)

// Alert type labels. The label set is part of the output contract; consumers
// match on these strings.
const (
	TypeEmptyColumn     = "EMPTY_COLUMN"
	TypeHighNulls       = "HIGH_NULLS"
	TypeConstant        = "CONSTANT"
	TypeAllDistinct     = "ALL_DISTINCT"
	TypeHighCardinality = "HIGH_CARDINALITY"
	TypeSkewed          = "SKEWED"
	TypeZeroInflated    = "ZERO_INFLATED"
	TypePossibleNumeric = "POSSIBLE_NUMERIC"
	TypeHighCorrelation = "HIGH_CORRELATION"
)

// Config carries every rule threshold.
type Config struct {
	// EmptyRatio and HighNullRatio gate the two null alerts. A column over
	// EmptyRatio fires EMPTY_COLUMN only, never both.
	EmptyRatio    float64
	HighNullRatio float64

	// AllDistinctRatio and AllDistinctMinRows gate ALL_DISTINCT: the rule
	// stays quiet on small tables where every row being distinct is normal.
	AllDistinctRatio   float64
	AllDistinctMinRows int64

	// HighCardinality is the distinct-count floor for HIGH_CARDINALITY on
	// non-numeric columns.
	HighCardinality int64

	// SkewLimit is the absolute skewness above which SKEWED fires.
	SkewLimit float64

	// ZeroShare is the share of rows a zero value must exceed for
	// ZERO_INFLATED.
	ZeroShare float64

	// NumericSampleSize is how many leading top-K values POSSIBLE_NUMERIC
	// inspects.
	NumericSampleSize int

	// CorrLimit is the absolute correlation above which HIGH_CORRELATION
	// fires for a column pair.
	CorrLimit float64
}

// Default returns the stock thresholds.
func Default() Config {
	return Config{
		EmptyRatio:         0.95,
		HighNullRatio:      0.50,
		AllDistinctRatio:   0.99,
		AllDistinctMinRows: 100,
		HighCardinality:    10_000,
		SkewLimit:          2.0,
		ZeroShare:          0.10,
		NumericSampleSize:  5,
		CorrLimit:          0.99,
	}
}

// Run evaluates every rule and returns the findings sorted for display:
// CRITICAL first, then WARNING, then INFO, stable within a severity.
//
// Edge cases:
//   - An empty table (zero rows) produces no alerts at all.
//   - Missing inputs (no histogram, no top-K, nil skew) silently skip the
//     rules that need them.
func Run(rec *report.Record, cfg Config) []report.Alert {
	alerts := []report.Alert{}
	if rec == nil || rec.RowCount == 0 {
		return alerts
	}

	for _, cs := range rec.Columns() {
		alerts = append(alerts, columnAlerts(rec.RowCount, cs, cfg)...)
	}
	alerts = append(alerts, correlationAlerts(rec.Correlations, cfg)...)

	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Severity.Rank() < alerts[j].Severity.Rank()
	})
	return alerts
}

func columnAlerts(rowCount int64, cs *report.ColumnStats, cfg Config) []report.Alert {
	var out []report.Alert
	rows := float64(rowCount)

	// Null saturation. The two rules are mutually exclusive by construction:
	// a near-empty column reports only EMPTY_COLUMN.
	nullRatio := float64(cs.NullCount) / rows
	switch {
	case nullRatio > cfg.EmptyRatio:
		out = append(out, alert(cs.Name, TypeEmptyColumn, report.SeverityCritical,
			fmt.Sprintf("column is %.1f%% null", nullRatio*100), nullRatio))
	case nullRatio > cfg.HighNullRatio:
		out = append(out, alert(cs.Name, TypeHighNulls, report.SeverityCritical,
			fmt.Sprintf("column is %.1f%% null", nullRatio*100), nullRatio))
	}

	if cs.Distinct == 1 {
		out = append(out, alert(cs.Name, TypeConstant, report.SeverityCritical,
			"column has a single distinct value", 1))
	}

	if rowCount > cfg.AllDistinctMinRows &&
		float64(cs.Distinct) > rows*cfg.AllDistinctRatio {
		// Distinct counts are estimates and can nudge past the row count;
		// never report more than 100%.
		ratio := float64(cs.Distinct) / rows
		if ratio > 1 {
			ratio = 1
		}
		out = append(out, alert(cs.Name, TypeAllDistinct, report.SeverityInfo,
			fmt.Sprintf("%.1f%% of values are distinct, likely an identifier", ratio*100),
			ratio))
	}

	if cs.Numeric == nil &&
		cs.Distinct > cfg.HighCardinality && cs.Distinct < rowCount {
		out = append(out, alert(cs.Name, TypeHighCardinality, report.SeverityWarning,
			fmt.Sprintf("column has %d distinct values", cs.Distinct),
			float64(cs.Distinct)))
	}

	if n := cs.Numeric; n != nil && n.Skew != nil {
		if sk := *n.Skew; sk > cfg.SkewLimit || sk < -cfg.SkewLimit {
			out = append(out, alert(cs.Name, TypeSkewed, report.SeverityWarning,
				fmt.Sprintf("distribution is heavily skewed (skewness %.2f)", sk), sk))
		}
	}

	if a, ok := zeroInflated(rowCount, cs, cfg); ok {
		out = append(out, a)
	}
	if a, ok := possibleNumeric(cs, cfg); ok {
		out = append(out, a)
	}

	return out
}

// zeroInflated checks whether the first zero-valued top-K entry carries more
// than the configured share of rows. Only the first zero entry is consulted;
// later duplicates (e.g. "0" and "0.0" as distinct strings) do not stack.
func zeroInflated(rowCount int64, cs *report.ColumnStats, cfg Config) (report.Alert, bool) {
	for _, e := range cs.TopK {
		if e.Value == nil {
			continue
		}
		f, err := cast.ToFloat64E(*e.Value)
		if err != nil || f != 0 {
			continue
		}
		share := float64(e.Count) / float64(rowCount)
		if share > cfg.ZeroShare {
			return alert(cs.Name, TypeZeroInflated, report.SeverityWarning,
				fmt.Sprintf("%.1f%% of values are zero", share*100), share), true
		}
		return report.Alert{}, false
	}
	return report.Alert{}, false
}

// possibleNumeric flags a non-numeric column whose leading frequent values
// all parse as numbers. It needs at least one non-null sample; an all-null
// top-K proves nothing.
func possibleNumeric(cs *report.ColumnStats, cfg Config) (report.Alert, bool) {
	if cs.Numeric != nil || len(cs.TopK) == 0 {
		return report.Alert{}, false
	}

	sampled := 0
	for _, e := range cs.TopK {
		if e.Value == nil {
			continue
		}
		if _, err := cast.ToFloat64E(*e.Value); err != nil {
			return report.Alert{}, false
		}
		sampled++
		if sampled == cfg.NumericSampleSize {
			break
		}
	}
	if sampled == 0 {
		return report.Alert{}, false
	}
	return alert(cs.Name, TypePossibleNumeric, report.SeverityInfo,
		"values look numeric but the column is typed as text", float64(sampled)), true
}

// correlationAlerts evaluates each matrix on its own: every unordered column
// pair is visited once per method, labeled "A <-> B", so a pair hot under
// both Pearson and Spearman yields two alerts, each naming its method.
func correlationAlerts(c *report.Correlations, cfg Config) []report.Alert {
	if c == nil {
		return nil
	}

	var out []report.Alert
	out = append(out, matrixAlerts(c.Columns, c.Pearson, "pearson", cfg)...)
	out = append(out, matrixAlerts(c.Columns, c.Spearman, "spearman", cfg)...)
	return out
}

func matrixAlerts(cols []string, m report.Matrix, method string, cfg Config) []report.Alert {
	var out []report.Alert
	for i := range m {
		for j := i + 1; j < len(m[i]); j++ {
			if m[i][j] == nil {
				continue
			}
			v := *m[i][j]
			if v <= cfg.CorrLimit && v >= -cfg.CorrLimit {
				continue
			}
			pair := cols[i] + " <-> " + cols[j]
			out = append(out, alert(pair, TypeHighCorrelation, report.SeverityWarning,
				fmt.Sprintf("columns are highly correlated (%.3f) via %s", v, method), v))
		}
	}
	return out
}

func alert(column, typ string, sev report.Severity, msg string, value float64) report.Alert {
	v := value
	return report.Alert{Column: column, Type: typ, Severity: sev, Message: msg, Value: &v}
}
