package correlate

import (
	"math"
	"math/rand"
	"testing"
)

func fp(v float64) *float64 { return &v }

// rowsOf builds a row-major projection from per-column vectors.
func rowsOf(cols ...[]*float64) [][]*float64 {
	n := len(cols[0])
	rows := make([][]*float64, n)
	for i := 0; i < n; i++ {
		row := make([]*float64, len(cols))
		for j, c := range cols {
			row[j] = c[i]
		}
		rows[i] = row
	}
	return rows
}

func cell(t *testing.T, m [][]*float64, i, j int) float64 {
	t.Helper()
	if m[i][j] == nil {
		t.Fatalf("cell (%d,%d) is nil", i, j)
	}
	return *m[i][j]
}

func TestComputePerfectCorrelation(t *testing.T) {
	t.Parallel()

	rows := rowsOf(
		[]*float64{fp(1), fp(2), fp(3), fp(4)},
		[]*float64{fp(10), fp(20), fp(30), fp(40)},
		[]*float64{fp(8), fp(6), fp(4), fp(2)},
	)

	res, ok := Compute([]string{"a", "b", "c"}, rows, Options{})
	if !ok {
		t.Fatal("Compute skipped a valid projection")
	}
	if res.Method != "exact" {
		t.Errorf("Method = %q, want exact", res.Method)
	}

	p := res.Correlations.Pearson
	if got := cell(t, p, 0, 1); math.Abs(got-1) > 1e-12 {
		t.Errorf("pearson(a,b) = %v, want 1", got)
	}
	if got := cell(t, p, 0, 2); math.Abs(got+1) > 1e-12 {
		t.Errorf("pearson(a,c) = %v, want -1", got)
	}
	for i := 0; i < 3; i++ {
		if got := cell(t, p, i, i); got != 1.0 {
			t.Errorf("diagonal (%d,%d) = %v, want exactly 1.0", i, i, got)
		}
	}
	if cell(t, p, 0, 1) != cell(t, p, 1, 0) {
		t.Error("matrix is not symmetric")
	}

	s := res.Correlations.Spearman
	if got := cell(t, s, 0, 1); math.Abs(got-1) > 1e-12 {
		t.Errorf("spearman(a,b) = %v, want 1", got)
	}
	if got := cell(t, s, 0, 2); math.Abs(got+1) > 1e-12 {
		t.Errorf("spearman(a,c) = %v, want -1", got)
	}
}

func TestComputeConstantColumn(t *testing.T) {
	t.Parallel()

	rows := rowsOf(
		[]*float64{fp(1), fp(2), fp(3)},
		[]*float64{fp(5), fp(5), fp(5)},
	)

	res, ok := Compute([]string{"a", "const"}, rows, Options{})
	if !ok {
		t.Fatal("Compute skipped")
	}

	p := res.Correlations.Pearson
	if p[0][1] != nil || p[1][0] != nil {
		t.Error("zero-variance pair should yield nil cells")
	}
	if p[1][1] == nil || *p[1][1] != 1.0 {
		t.Error("constant column diagonal should still be exactly 1.0")
	}
}

func TestComputeListwiseDeletion(t *testing.T) {
	t.Parallel()

	// Row with the null must be dropped entirely; the remainder correlates
	// perfectly.
	rows := rowsOf(
		[]*float64{fp(1), fp(2), fp(100), fp(3)},
		[]*float64{fp(2), fp(4), nil, fp(6)},
	)

	res, ok := Compute([]string{"a", "b"}, rows, Options{})
	if !ok {
		t.Fatal("Compute skipped")
	}
	if got := cell(t, res.Correlations.Pearson, 0, 1); math.Abs(got-1) > 1e-12 {
		t.Errorf("pearson = %v, want 1 after dropping the null row", got)
	}
}

func TestComputeSkips(t *testing.T) {
	t.Parallel()

	if _, ok := Compute([]string{"only"}, rowsOf([]*float64{fp(1), fp(2)}), Options{}); ok {
		t.Error("single column should be skipped")
	}

	rows := rowsOf(
		[]*float64{nil, fp(2)},
		[]*float64{fp(1), nil},
	)
	if _, ok := Compute([]string{"a", "b"}, rows, Options{}); ok {
		t.Error("projection with no complete row should be skipped")
	}

	if _, ok := Compute([]string{"a", "b"}, nil, Options{}); ok {
		t.Error("empty projection should be skipped")
	}
}

func TestComputeSamplesAboveThreshold(t *testing.T) {
	t.Parallel()

	const n = 500
	a := make([]*float64, n)
	b := make([]*float64, n)
	for i := 0; i < n; i++ {
		a[i] = fp(float64(i))
		b[i] = fp(float64(3*i + 7))
	}

	res, ok := Compute([]string{"a", "b"}, rowsOf(a, b), Options{
		Threshold: 100,
		Rand:      rand.New(rand.NewSource(1)),
	})
	if !ok {
		t.Fatal("Compute skipped")
	}
	if res.Method != "sampled (n=100)" {
		t.Errorf("Method = %q, want sampled (n=100)", res.Method)
	}
	// Perfectly linear data stays perfectly linear under any sample.
	if got := cell(t, res.Correlations.Pearson, 0, 1); math.Abs(got-1) > 1e-12 {
		t.Errorf("sampled pearson = %v, want 1", got)
	}
}

func TestComputeAtThresholdStaysExact(t *testing.T) {
	t.Parallel()

	rows := rowsOf(
		[]*float64{fp(1), fp(2), fp(3)},
		[]*float64{fp(4), fp(9), fp(2)},
	)
	res, ok := Compute([]string{"a", "b"}, rows, Options{Threshold: 3})
	if !ok {
		t.Fatal("Compute skipped")
	}
	if res.Method != "exact" {
		t.Errorf("Method = %q, want exact at the threshold boundary", res.Method)
	}
}

func TestRanksAverageTies(t *testing.T) {
	t.Parallel()

	got := ranks([]float64{30, 10, 20, 10})
	want := []float64{4, 1.5, 3, 1.5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ranks = %v, want %v", got, want)
		}
	}
}

func TestSpearmanMonotonicNonlinear(t *testing.T) {
	t.Parallel()

	// y = x^3 is monotonic but not linear: Spearman hits 1, Pearson does not.
	rows := rowsOf(
		[]*float64{fp(1), fp(2), fp(3), fp(4), fp(5)},
		[]*float64{fp(1), fp(8), fp(27), fp(64), fp(125)},
	)
	res, ok := Compute([]string{"x", "y"}, rows, Options{})
	if !ok {
		t.Fatal("Compute skipped")
	}
	if got := cell(t, res.Correlations.Spearman, 0, 1); math.Abs(got-1) > 1e-12 {
		t.Errorf("spearman = %v, want 1", got)
	}
	if got := cell(t, res.Correlations.Pearson, 0, 1); got >= 1 {
		t.Errorf("pearson = %v, want < 1 for nonlinear data", got)
	}
}
