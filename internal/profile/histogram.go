package profile

import "profiler/internal/report"

// histogram buckets values into n equal-width bins over [min, max].
//
// Edge cases:
//   - No values or n <= 0: nil (the column gets no histogram key).
//   - All values equal: a single full-range bin, width zero.
//   - The maximum value belongs to the last bin, not a phantom (n+1)th.
func histogram(values []float64, n int) []report.Bin {
	if len(values) == 0 || n <= 0 {
		return nil
	}

	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}

	if lo == hi {
		return []report.Bin{{Lower: lo, Upper: hi, Count: int64(len(values))}}
	}

	width := (hi - lo) / float64(n)
	bins := make([]report.Bin, n)
	for i := range bins {
		bins[i].Lower = lo + width*float64(i)
		bins[i].Upper = lo + width*float64(i+1)
	}
	// Pin the last edge to the true max so accumulated float error cannot
	// leave a value outside the range.
	bins[n-1].Upper = hi

	for _, v := range values {
		idx := int((v - lo) / width)
		if idx >= n {
			idx = n - 1
		}
		bins[idx].Count++
	}
	return bins
}
