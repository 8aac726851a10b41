package profile

import (
	"testing"
)

func TestHistogram(t *testing.T) {
	t.Parallel()

	bins := histogram([]float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 10}, 5)
	if len(bins) != 5 {
		t.Fatalf("got %d bins, want 5", len(bins))
	}

	var total int64
	for _, b := range bins {
		total += b.Count
	}
	if total != 10 {
		t.Fatalf("bins hold %d values, want all 10", total)
	}

	if bins[0].Lower != 0 {
		t.Errorf("first edge = %v, want 0", bins[0].Lower)
	}
	if bins[4].Upper != 10 {
		t.Errorf("last edge = %v, want the true max", bins[4].Upper)
	}
	// The max value lands in the last bin, not past it.
	if bins[4].Count == 0 {
		t.Error("last bin is empty; the max fell out of range")
	}
}

func TestHistogramConstantValues(t *testing.T) {
	t.Parallel()

	bins := histogram([]float64{3, 3, 3}, 20)
	if len(bins) != 1 {
		t.Fatalf("got %d bins, want a single zero-width bin", len(bins))
	}
	if bins[0].Lower != 3 || bins[0].Upper != 3 || bins[0].Count != 3 {
		t.Fatalf("bin = %+v", bins[0])
	}
}

func TestHistogramDegenerateInputs(t *testing.T) {
	t.Parallel()

	if got := histogram(nil, 20); got != nil {
		t.Errorf("empty input produced bins: %+v", got)
	}
	if got := histogram([]float64{1, 2}, 0); got != nil {
		t.Errorf("zero bin count produced bins: %+v", got)
	}
}

func TestHistogramEdgesAreContiguous(t *testing.T) {
	t.Parallel()

	bins := histogram([]float64{-5, 0, 5, 15}, 4)
	for i := 1; i < len(bins); i++ {
		if bins[i].Lower != bins[i-1].Upper {
			t.Fatalf("gap between bins %d and %d: %v vs %v",
				i-1, i, bins[i-1].Upper, bins[i].Lower)
		}
	}
}
