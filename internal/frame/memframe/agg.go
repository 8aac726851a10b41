package memframe

import (
	"fmt"
	"math"
	"sort"
	"unicode/utf8"

	"github.com/axiomhq/hyperloglog"

	"profiler/internal/frame"
)

// collectScalar evaluates every aggregate of the plan into a one-row RowSet.
//
// Aggregates over the same expression share one pass over the column: the
// plan builder emits many aggregates per column, and re-walking the values
// per aggregate would turn a single scan into a dozen.
func (d *Dataset) collectScalar(p frame.ScalarPlan) (frame.RowSet, error) {
	rs := frame.RowSet{
		Columns: make([]string, 0, len(p.Aggs)),
		Rows:    [][]any{make([]any, len(p.Aggs))},
	}

	summaries := make(map[frame.Expr]*columnSummary)

	for i, a := range p.Aggs {
		rs.Columns = append(rs.Columns, a.Name)

		if a.Op == frame.OpRowCount {
			rs.Rows[0][i] = int64(d.rows)
			continue
		}

		sum := summaries[a.Input]
		if sum == nil {
			s, err := d.summarize(a.Input)
			if err != nil {
				return frame.RowSet{}, err
			}
			summaries[a.Input] = s
			sum = s
		}

		v, err := sum.value(a)
		if err != nil {
			return frame.RowSet{}, err
		}
		rs.Rows[0][i] = v
	}

	return rs, nil
}

// columnSummary is the single-pass digest of one expression's values.
type columnSummary struct {
	nulls  int64
	sketch *hyperloglog.Sketch

	// Numeric state: sorted non-null float values.
	floats []float64

	// Text state: byte-order min/max and character lengths.
	minStr, maxStr *string
	lenMin, lenMax int64
	lenSum         int64
	texts          int64
}

// summarize walks the column once and captures everything any scalar
// aggregate may later ask for. Numeric and text state accumulate
// independently; the plan only requests the aggregates that match the
// column's kind, so mixed state is harmless.
func (d *Dataset) summarize(e frame.Expr) (*columnSummary, error) {
	s := &columnSummary{sketch: hyperloglog.New14()}

	for row := 0; row < d.rows; row++ {
		v, err := d.eval(e, row)
		if err != nil {
			return nil, err
		}
		if v == nil {
			s.nulls++
			continue
		}

		s.sketch.Insert([]byte(frame.Stringify(v)))

		switch t := v.(type) {
		case int64:
			s.floats = append(s.floats, float64(t))
		case float64:
			s.floats = append(s.floats, t)
		case bool:
			if t {
				s.floats = append(s.floats, 1)
			} else {
				s.floats = append(s.floats, 0)
			}
		case string:
			sv := t
			n := int64(utf8.RuneCountInString(sv))
			if s.texts == 0 {
				s.minStr, s.maxStr = &sv, &sv
				s.lenMin, s.lenMax = n, n
			} else {
				if sv < *s.minStr {
					s.minStr = &sv
				}
				if sv > *s.maxStr {
					s.maxStr = &sv
				}
				if n < s.lenMin {
					s.lenMin = n
				}
				if n > s.lenMax {
					s.lenMax = n
				}
			}
			s.lenSum += n
			s.texts++
		}
	}

	sort.Float64s(s.floats)
	return s, nil
}

// value answers one aggregate from the digest. Aggregates over empty inputs
// answer nil, never NaN.
func (s *columnSummary) value(a frame.Agg) (any, error) {
	switch a.Op {
	case frame.OpNullCount:
		return s.nulls, nil

	case frame.OpDistinct:
		return int64(s.sketch.Estimate()), nil

	case frame.OpMean:
		if len(s.floats) == 0 {
			return nil, nil
		}
		return mean(s.floats), nil

	case frame.OpMin:
		if len(s.floats) > 0 {
			return s.floats[0], nil
		}
		if s.minStr != nil {
			return *s.minStr, nil
		}
		return nil, nil

	case frame.OpMax:
		if len(s.floats) > 0 {
			return s.floats[len(s.floats)-1], nil
		}
		if s.maxStr != nil {
			return *s.maxStr, nil
		}
		return nil, nil

	case frame.OpStd:
		return nilOrFloat(sampleStd(s.floats)), nil

	case frame.OpSkew:
		return nilOrFloat(skewness(s.floats)), nil

	case frame.OpKurtosis:
		return nilOrFloat(kurtosis(s.floats)), nil

	case frame.OpQuantile:
		if len(s.floats) == 0 {
			return nil, nil
		}
		return quantile(s.floats, a.Q), nil

	case frame.OpMinLength:
		if s.texts == 0 {
			return nil, nil
		}
		return s.lenMin, nil

	case frame.OpMaxLength:
		if s.texts == 0 {
			return nil, nil
		}
		return s.lenMax, nil

	case frame.OpMeanLength:
		if s.texts == 0 {
			return nil, nil
		}
		return float64(s.lenSum) / float64(s.texts), nil

	default:
		return nil, fmt.Errorf("memframe: unsupported aggregate op %d", a.Op)
	}
}

func nilOrFloat(f float64, ok bool) any {
	if !ok {
		return nil
	}
	return f
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// centralMoments returns the 2nd, 3rd and 4th central moments.
func centralMoments(xs []float64) (m2, m3, m4 float64) {
	mu := mean(xs)
	for _, x := range xs {
		d := x - mu
		d2 := d * d
		m2 += d2
		m3 += d2 * d
		m4 += d2 * d2
	}
	n := float64(len(xs))
	return m2 / n, m3 / n, m4 / n
}

// sampleStd is the n-1 denominator standard deviation. Undefined below two
// values.
func sampleStd(xs []float64) (float64, bool) {
	n := len(xs)
	if n < 2 {
		return 0, false
	}
	m2, _, _ := centralMoments(xs)
	return math.Sqrt(m2 * float64(n) / float64(n-1)), true
}

// skewness is the population skewness g1. Undefined for constant input.
func skewness(xs []float64) (float64, bool) {
	if len(xs) < 2 {
		return 0, false
	}
	m2, m3, _ := centralMoments(xs)
	if m2 == 0 {
		return 0, false
	}
	return m3 / math.Pow(m2, 1.5), true
}

// kurtosis is the population excess kurtosis g2. Undefined for constant input.
func kurtosis(xs []float64) (float64, bool) {
	if len(xs) < 2 {
		return 0, false
	}
	m2, _, m4 := centralMoments(xs)
	if m2 == 0 {
		return 0, false
	}
	return m4/(m2*m2) - 3, true
}

// quantile interpolates linearly between order statistics. xs must be sorted
// and non-empty.
func quantile(xs []float64, q float64) float64 {
	if q <= 0 {
		return xs[0]
	}
	if q >= 1 {
		return xs[len(xs)-1]
	}
	pos := q * float64(len(xs)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return xs[lo]
	}
	frac := pos - float64(lo)
	return xs[lo]*(1-frac) + xs[hi]*frac
}
