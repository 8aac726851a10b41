package profile

import "profiler/internal/frame"

// Plan construction for the four passes. Builders are pure functions of the
// flattened schema: they never touch the table, so a plan can be inspected
// (and tested) without an engine.

// rowCountAlias is the alias of the table-wide row count inside the scalar
// plan. Column aliases use the "{column}_{metric}" convention throughout.
const rowCountAlias = "table_row_count"

func alias(column, metric string) string { return column + "_" + metric }

// scalarPlan builds the single batched aggregate plan of the scalar pass:
// the row count, null count and distinct estimate for every column, plus the
// kind-specific aggregate set (moments and quantiles for numeric columns,
// lexicographic and length stats for text).
func scalarPlan(s frame.Schema) frame.ScalarPlan {
	aggs := []frame.Agg{{Name: rowCountAlias, Op: frame.OpRowCount}}

	for _, c := range s {
		in := c.Access()
		aggs = append(aggs,
			frame.Agg{Name: alias(c.Name, "null_count"), Op: frame.OpNullCount, Input: in},
			frame.Agg{Name: alias(c.Name, "n_unique"), Op: frame.OpDistinct, Input: in},
		)

		if c.Kind == frame.KindNumeric {
			aggs = append(aggs,
				frame.Agg{Name: alias(c.Name, "mean"), Op: frame.OpMean, Input: in},
				frame.Agg{Name: alias(c.Name, "min"), Op: frame.OpMin, Input: in},
				frame.Agg{Name: alias(c.Name, "max"), Op: frame.OpMax, Input: in},
				frame.Agg{Name: alias(c.Name, "std"), Op: frame.OpStd, Input: in},
				frame.Agg{Name: alias(c.Name, "skew"), Op: frame.OpSkew, Input: in},
				frame.Agg{Name: alias(c.Name, "kurtosis"), Op: frame.OpKurtosis, Input: in},
				frame.Agg{Name: alias(c.Name, "p25"), Op: frame.OpQuantile, Input: in, Q: 0.25},
				frame.Agg{Name: alias(c.Name, "p50"), Op: frame.OpQuantile, Input: in, Q: 0.50},
				frame.Agg{Name: alias(c.Name, "p75"), Op: frame.OpQuantile, Input: in, Q: 0.75},
			)
			continue
		}

		aggs = append(aggs,
			frame.Agg{Name: alias(c.Name, "min"), Op: frame.OpMin, Input: in},
			frame.Agg{Name: alias(c.Name, "max"), Op: frame.OpMax, Input: in},
			frame.Agg{Name: alias(c.Name, "min_length"), Op: frame.OpMinLength, Input: in},
			frame.Agg{Name: alias(c.Name, "mean_length"), Op: frame.OpMeanLength, Input: in},
			frame.Agg{Name: alias(c.Name, "max_length"), Op: frame.OpMaxLength, Input: in},
		)
	}

	return frame.ScalarPlan{Aggs: aggs}
}

// columnPlan ties one per-column plan to the column it serves, so batch
// results can be routed (and per-column failures attributed) by name.
type columnPlan struct {
	column string
	plan   frame.Plan
}

// histogramPlans builds one single-column float projection per numeric
// column. Each column gets its own plan: a failed projection must only cost
// that column its histogram.
func histogramPlans(s frame.Schema) []columnPlan {
	var out []columnPlan
	for _, c := range s {
		if c.Kind != frame.KindNumeric {
			continue
		}
		out = append(out, columnPlan{
			column: c.Name,
			plan: frame.ProjectionPlan{Columns: []frame.Proj{
				{Name: c.Name, Source: c.Access(), CastFloat: true},
			}},
		})
	}
	return out
}

// topKPlans builds one frequency plan per text and categorical column.
func topKPlans(s frame.Schema, k int) []columnPlan {
	var out []columnPlan
	for _, c := range s {
		if c.Kind != frame.KindText && c.Kind != frame.KindCategorical {
			continue
		}
		out = append(out, columnPlan{
			column: c.Name,
			plan:   frame.TopKPlan{Name: c.Name, Source: c.Access(), K: k},
		})
	}
	return out
}

// correlationPlan builds the all-numeric-columns projection feeding the
// correlation sampler. Correlation needs at least two columns; below that
// the pass is skipped, which is not an error.
func correlationPlan(s frame.Schema) (frame.ProjectionPlan, []string, bool) {
	var (
		projs []frame.Proj
		cols  []string
	)
	for _, c := range s {
		if c.Kind != frame.KindNumeric {
			continue
		}
		projs = append(projs, frame.Proj{Name: c.Name, Source: c.Access(), CastFloat: true})
		cols = append(cols, c.Name)
	}
	if len(cols) < 2 {
		return frame.ProjectionPlan{}, nil, false
	}
	return frame.ProjectionPlan{Columns: projs}, cols, true
}
