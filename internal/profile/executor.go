package profile

import (
	"context"
	"fmt"

	"profiler/internal/correlate"
	"profiler/internal/diagnose"
	"profiler/internal/frame"
	"profiler/internal/report"
)

// executor runs the pass pipeline against one table. It is built per run and
// discarded; all cross-pass state lives here, not in the packages it calls.
type executor struct {
	tbl  frame.Table
	opts Options

	schema frame.Schema // flattened
	rec    *report.Record

	corrMethod string
	warnings   []string
}

// warn records a non-fatal pass failure. The run continues; the message ends
// up in the record's metadata warnings.
func (x *executor) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	x.warnings = append(x.warnings, msg)
	x.opts.Logger.Printf("warn %s", msg)
}

// prepare resolves and flattens the schema. An unreadable or fully
// non-profilable schema is fatal: there is nothing to report on.
func (x *executor) prepare(ctx context.Context) error {
	raw, err := x.tbl.Schema(ctx)
	if err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	x.schema = Flatten(raw)
	if len(x.schema) == 0 {
		return fmt.Errorf("schema: no profilable columns")
	}
	return nil
}

// runScalar executes the batched aggregate pass and seeds the record. This is
// the only fatal pass: every later pass amends a record that already exists.
func (x *executor) runScalar(ctx context.Context) error {
	rs, err := x.tbl.Collect(ctx, scalarPlan(x.schema))
	if err != nil {
		return fmt.Errorf("scalar pass: %w", err)
	}

	rowCount, ok := frame.Int64(rs.Value(0, rowCountAlias))
	if !ok {
		return fmt.Errorf("scalar pass: missing row count")
	}

	rec := report.New()
	rec.RowCount = rowCount

	for _, c := range x.schema {
		cs := rec.AddColumn(c.Name, c.Kind)
		cs.NullCount = intValue(rs, alias(c.Name, "null_count"))
		cs.Distinct = intValue(rs, alias(c.Name, "n_unique"))

		if c.Kind == frame.KindNumeric {
			cs.Numeric = &report.NumericStats{
				Mean:     floatValue(rs, alias(c.Name, "mean")),
				Min:      floatValue(rs, alias(c.Name, "min")),
				Max:      floatValue(rs, alias(c.Name, "max")),
				Std:      floatValue(rs, alias(c.Name, "std")),
				Skew:     floatValue(rs, alias(c.Name, "skew")),
				Kurtosis: floatValue(rs, alias(c.Name, "kurtosis")),
				P25:      floatValue(rs, alias(c.Name, "p25")),
				P50:      floatValue(rs, alias(c.Name, "p50")),
				P75:      floatValue(rs, alias(c.Name, "p75")),
			}
			continue
		}

		cs.Text = &report.TextStats{
			Min:        stringValue(rs, alias(c.Name, "min")),
			Max:        stringValue(rs, alias(c.Name, "max")),
			MinLength:  intPtrValue(rs, alias(c.Name, "min_length")),
			MaxLength:  intPtrValue(rs, alias(c.Name, "max_length")),
			MeanLength: floatValue(rs, alias(c.Name, "mean_length")),
		}
	}

	x.rec = rec
	return nil
}

// runHistograms materializes each numeric column and bins it. Per-column
// failures cost only that column's histogram.
func (x *executor) runHistograms(ctx context.Context) error {
	plans := histogramPlans(x.schema)
	if len(plans) == 0 {
		return nil
	}

	results, err := x.tbl.CollectAll(ctx, rawPlans(plans))
	if err != nil {
		return err
	}

	for i, res := range results {
		name := plans[i].column
		if res.Err != nil {
			x.warn("histogram %s: %v", name, res.Err)
			continue
		}

		values := make([]float64, 0, res.RowSet.Len())
		for _, row := range res.RowSet.Rows {
			if len(row) == 0 || row[0] == nil {
				continue
			}
			if f, ok := frame.Float64(row[0]); ok {
				values = append(values, f)
			}
		}

		if cs, ok := x.rec.Lookup(name); ok {
			cs.Histogram = histogram(values, x.opts.Bins)
		}
	}
	return nil
}

// runTopK computes the frequency tables of text and categorical columns.
func (x *executor) runTopK(ctx context.Context) error {
	plans := topKPlans(x.schema, x.opts.TopK)
	if len(plans) == 0 {
		return nil
	}

	results, err := x.tbl.CollectAll(ctx, rawPlans(plans))
	if err != nil {
		return err
	}

	for i, res := range results {
		name := plans[i].column
		if res.Err != nil {
			x.warn("top-k %s: %v", name, res.Err)
			continue
		}

		entries := make([]report.TopKEntry, 0, res.RowSet.Len())
		for row := range res.RowSet.Rows {
			var e report.TopKEntry
			if v := res.RowSet.Value(row, "value"); v != nil {
				s := frame.Stringify(v)
				e.Value = &s
			}
			e.Count, _ = frame.Int64(res.RowSet.Value(row, "count"))
			entries = append(entries, e)
		}

		// An empty table yields no frequency groups; leave TopK nil so the
		// wire output omits the key instead of carrying an empty list.
		if len(entries) == 0 {
			continue
		}
		if cs, ok := x.rec.Lookup(name); ok {
			cs.TopK = entries
		}
	}
	return nil
}

// runCorrelation projects every numeric column and hands the rows to the
// sampler. Fewer than two numeric columns skips the pass without a warning;
// that is the normal shape of many tables, not a failure.
func (x *executor) runCorrelation(ctx context.Context) error {
	plan, cols, ok := correlationPlan(x.schema)
	if !ok {
		return nil
	}

	rs, err := x.tbl.Collect(ctx, plan)
	if err != nil {
		return err
	}

	rows := make([][]*float64, rs.Len())
	for i, src := range rs.Rows {
		row := make([]*float64, len(cols))
		for j := range cols {
			if j >= len(src) || src[j] == nil {
				continue
			}
			if f, fok := frame.Float64(src[j]); fok {
				v := f
				row[j] = &v
			}
		}
		rows[i] = row
	}

	res, ok := correlate.Compute(cols, rows, correlate.Options{
		Threshold: x.opts.SampleThreshold,
		Rand:      x.opts.Rand,
	})
	if !ok {
		return nil
	}

	x.rec.Correlations = res.Correlations
	x.corrMethod = res.Method
	return nil
}

// runDiagnostics evaluates the rule engine over the finished record. A rule
// panic is downgraded to a warning; the record then ships without an alerts
// key rather than not at all.
func (x *executor) runDiagnostics(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule panic: %v", r)
		}
	}()

	cfg := diagnose.Default()
	if x.opts.Diagnostics != nil {
		cfg = *x.opts.Diagnostics
	}
	x.rec.Alerts = diagnose.Run(x.rec, cfg)
	x.rec.AlertsComputed = true
	return nil
}

func rawPlans(plans []columnPlan) []frame.Plan {
	out := make([]frame.Plan, len(plans))
	for i, p := range plans {
		out[i] = p.plan
	}
	return out
}

// ---- row-set value helpers ----

func intValue(rs frame.RowSet, name string) int64 {
	n, _ := frame.Int64(rs.Value(0, name))
	return n
}

func intPtrValue(rs frame.RowSet, name string) *int64 {
	v := rs.Value(0, name)
	if v == nil {
		return nil
	}
	if n, ok := frame.Int64(v); ok {
		return &n
	}
	return nil
}

func floatValue(rs frame.RowSet, name string) *float64 {
	v := rs.Value(0, name)
	if v == nil {
		return nil
	}
	if f, ok := frame.Float64(v); ok {
		return &f
	}
	return nil
}

func stringValue(rs frame.RowSet, name string) *string {
	v := rs.Value(0, name)
	if v == nil {
		return nil
	}
	s := frame.Stringify(v)
	return &s
}
