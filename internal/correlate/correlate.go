// Package correlate computes Pearson and Spearman correlation matrices over
// a numeric projection, deciding between exact and sampled computation.
//
// This package is pure math: it never talks to an engine and never allocates
// more than the (possibly sampled) projection it is given.
package correlate

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"profiler/internal/report"
)

// DefaultThreshold is the row count above which correlation switches from
// exact to sampled computation.
const DefaultThreshold = 100_000

// Options control sampling behavior.
type Options struct {
	// Threshold is the maximum row count computed exactly. <= 0 means
	// DefaultThreshold.
	Threshold int

	// Rand drives sample selection. Nil means a time-seeded source. Tests
	// and callers that need reproducible sampling inject their own.
	Rand *rand.Rand
}

// Result is a computed correlation set plus the method label recorded in the
// profile metadata ("exact" or "sampled (n=<threshold>)").
type Result struct {
	Correlations *report.Correlations
	Method       string
}

// Compute builds both matrices from a row-major numeric projection. rows[i]
// is one source row aligned with cols; nil cells are nulls.
//
// Behavior (in order):
//  1. Fewer than two columns: skipped (nil result, false).
//  2. More rows than the threshold: exactly threshold rows are drawn
//     uniformly without replacement.
//  3. Listwise deletion: any (possibly sampled) row containing a null is
//     dropped entirely.
//  4. Zero surviving rows: skipped (nil result, false).
//
// Matrices are symmetric with an exact 1.0 diagonal. Zero-variance pairs
// yield nil cells, never NaN.
func Compute(cols []string, rows [][]*float64, opts Options) (*Result, bool) {
	if len(cols) < 2 {
		return nil, false
	}

	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	method := "exact"
	if len(rows) > threshold {
		rows = sampleRows(rows, threshold, opts.Rand)
		method = fmt.Sprintf("sampled (n=%d)", threshold)
	}

	vectors := completeColumns(cols, rows)
	if vectors == nil {
		return nil, false
	}

	pearson := pearsonMatrix(vectors)

	ranked := make([][]float64, len(vectors))
	for i, v := range vectors {
		ranked[i] = ranks(v)
	}
	spearman := pearsonMatrix(ranked)

	return &Result{
		Correlations: &report.Correlations{
			Columns:  append([]string(nil), cols...),
			Pearson:  pearson,
			Spearman: spearman,
		},
		Method: method,
	}, true
}

// sampleRows draws exactly n rows uniformly without replacement. The result
// keeps the shuffled draw order; correlation is order-insensitive.
func sampleRows(rows [][]*float64, n int, rng *rand.Rand) [][]*float64 {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	idx := rng.Perm(len(rows))[:n]
	out := make([][]*float64, n)
	for i, j := range idx {
		out[i] = rows[j]
	}
	return out
}

// completeColumns transposes the projection into per-column vectors after
// listwise deletion. Returns nil when no complete row survives.
func completeColumns(cols []string, rows [][]*float64) [][]float64 {
	vectors := make([][]float64, len(cols))

	for _, row := range rows {
		complete := len(row) == len(cols)
		for _, v := range row {
			if v == nil {
				complete = false
				break
			}
		}
		if !complete {
			continue
		}
		for i, v := range row {
			vectors[i] = append(vectors[i], *v)
		}
	}

	if len(vectors[0]) == 0 {
		return nil
	}
	return vectors
}

// pearsonMatrix computes the symmetric Pearson matrix of the given column
// vectors. The diagonal is pinned to exactly 1.0 regardless of variance.
func pearsonMatrix(vectors [][]float64) report.Matrix {
	k := len(vectors)
	m := make(report.Matrix, k)
	for i := range m {
		m[i] = make([]*float64, k)
	}

	one := 1.0
	for i := 0; i < k; i++ {
		m[i][i] = &one
		for j := i + 1; j < k; j++ {
			if r, ok := pearson(vectors[i], vectors[j]); ok {
				v := r
				m[i][j] = &v
				m[j][i] = &v
			}
		}
	}
	return m
}

// pearson returns the correlation of two equal-length vectors. Zero variance
// on either side makes the correlation undefined.
func pearson(x, y []float64) (float64, bool) {
	n := float64(len(x))
	if len(x) != len(y) || len(x) == 0 {
		return 0, false
	}

	var sx, sy float64
	for i := range x {
		sx += x[i]
		sy += y[i]
	}
	mx, my := sx/n, sy/n

	var cov, vx, vy float64
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0, false
	}

	r := cov / math.Sqrt(vx*vy)
	// Floating error can push |r| a hair past 1; clamp so downstream
	// threshold checks stay sane.
	if r > 1 {
		r = 1
	} else if r < -1 {
		r = -1
	}
	return r, true
}

// ranks converts values to 1-based ranks, assigning tied values the average
// of the ranks they span.
func ranks(xs []float64) []float64 {
	n := len(xs)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return xs[idx[a]] < xs[idx[b]] })

	out := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && xs[idx[j+1]] == xs[idx[i]] {
			j++
		}
		// Average of ranks i+1..j+1.
		avg := float64(i+j+2) / 2
		for k := i; k <= j; k++ {
			out[idx[k]] = avg
		}
		i = j + 1
	}
	return out
}
