// Package sqlstat derives higher statistical moments from SQL power sums.
//
// No mainstream SQL dialect ships skewness or kurtosis aggregates, but every
// one of them can compute SUM(x), SUM(x*x), SUM(x^3) and SUM(x^4) in a single
// scan. The SQL backends fetch those power sums and finish the arithmetic
// here, so the three dialects share one set of formulas (and one set of
// edge-case rules).
package sqlstat

import "math"

// Moments holds the count and raw power sums of a numeric column, nulls
// excluded.
type Moments struct {
	N              int64
	S1, S2, S3, S4 float64
}

// central returns the 2nd..4th central moments. Raw power-sum expansion can
// go slightly negative on m2 from float cancellation; it is clamped at zero.
func (m Moments) central() (m2, m3, m4 float64) {
	n := float64(m.N)
	mu := m.S1 / n
	m2 = m.S2/n - mu*mu
	m3 = m.S3/n - 3*mu*m.S2/n + 2*mu*mu*mu
	m4 = m.S4/n - 4*mu*m.S3/n + 6*mu*mu*m.S2/n - 3*mu*mu*mu*mu
	if m2 < 0 {
		m2 = 0
	}
	return m2, m3, m4
}

// Mean returns the arithmetic mean, undefined for an empty column.
func (m Moments) Mean() (float64, bool) {
	if m.N == 0 {
		return 0, false
	}
	return m.S1 / float64(m.N), true
}

// SampleStd returns the n-1 denominator standard deviation, undefined below
// two values.
func (m Moments) SampleStd() (float64, bool) {
	if m.N < 2 {
		return 0, false
	}
	m2, _, _ := m.central()
	n := float64(m.N)
	return math.Sqrt(m2 * n / (n - 1)), true
}

// Skewness returns the population skewness g1, undefined for constant or
// near-empty input.
func (m Moments) Skewness() (float64, bool) {
	if m.N < 2 {
		return 0, false
	}
	m2, m3, _ := m.central()
	if m2 == 0 {
		return 0, false
	}
	return m3 / math.Pow(m2, 1.5), true
}

// Kurtosis returns the population excess kurtosis g2, undefined for constant
// or near-empty input.
func (m Moments) Kurtosis() (float64, bool) {
	if m.N < 2 {
		return 0, false
	}
	m2, _, m4 := m.central()
	if m2 == 0 {
		return 0, false
	}
	return m4/(m2*m2) - 3, true
}

// QuantilePos maps a quantile in [0, 1] onto the linear-interpolation
// position over n sorted values: the lower 0-based index and the fraction of
// the next value to blend in.
func QuantilePos(n int64, q float64) (lo int64, frac float64) {
	if n <= 1 || q <= 0 {
		return 0, 0
	}
	if q >= 1 {
		return n - 1, 0
	}
	pos := q * float64(n-1)
	lo = int64(math.Floor(pos))
	return lo, pos - float64(lo)
}

// Interpolate blends two adjacent order statistics.
func Interpolate(lo, hi, frac float64) float64 {
	return lo*(1-frac) + hi*frac
}
