package pgframe

import (
	"testing"

	"profiler/internal/frame"
)

func TestSplitQualified(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, schema, table string
	}{
		{"orders", "", "orders"},
		{"analytics.orders", "analytics", "orders"},
		{"a.b.c", "a", "b.c"},
	}
	for _, tc := range cases {
		schema, table := splitQualified(tc.in)
		if schema != tc.schema || table != tc.table {
			t.Errorf("splitQualified(%q) = %q, %q; want %q, %q",
				tc.in, schema, table, tc.schema, tc.table)
		}
	}
}

func TestNumericTypes(t *testing.T) {
	t.Parallel()

	for _, typ := range []string{
		"smallint", "integer", "bigint", "numeric", "real",
		"double precision", "boolean", "money",
	} {
		if !numericTypes[typ] {
			t.Errorf("%s should be numeric", typ)
		}
	}
	for _, typ := range []string{"text", "character varying", "uuid", "timestamp with time zone", "jsonb"} {
		if numericTypes[typ] {
			t.Errorf("%s should not be numeric", typ)
		}
	}
}

func TestColumnRejectsNestedAccessors(t *testing.T) {
	t.Parallel()

	if _, err := column(frame.Field("user", "age")); err == nil {
		t.Error("field accessor should be rejected")
	}
	if _, err := column(frame.Len("tags")); err == nil {
		t.Error("length accessor should be rejected")
	}
	if got, err := column(frame.Col("age")); err != nil || got != `"age"` {
		t.Errorf("column = %q, %v", got, err)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, want any
	}{
		{nil, nil},
		{int16(3), int64(3)},
		{int32(4), int64(4)},
		{5, int64(5)},
		{float32(1.5), float64(1.5)},
		{[]byte("x"), "x"},
		{"s", "s"},
		{int64(9), int64(9)},
		{2.5, 2.5},
	}
	for _, tc := range cases {
		if got := normalize(tc.in); got != tc.want {
			t.Errorf("normalize(%v %T) = %v (%T), want %v", tc.in, tc.in, got, got, tc.want)
		}
	}
}

func TestMomentValueConstantColumn(t *testing.T) {
	t.Parallel()

	m := momentIdx{n: 0, s1: 1, s2: 2, s3: 3, s4: 4}
	constant := []any{int64(3), 21.0, 147.0, 1029.0, 7203.0}

	if v, err := momentValue(frame.OpSkew, m, constant); err != nil || v != nil {
		t.Errorf("constant skew = %v, %v; want nil", v, err)
	}
	if v, err := momentValue(frame.OpKurtosis, m, constant); err != nil || v != nil {
		t.Errorf("constant kurtosis = %v, %v; want nil", v, err)
	}

	empty := []any{int64(0), nil, nil, nil, nil}
	if v, err := momentValue(frame.OpSkew, m, empty); err != nil || v != nil {
		t.Errorf("empty skew = %v, %v; want nil", v, err)
	}

	if _, err := momentValue(frame.OpMean, m, constant); err == nil {
		t.Error("mean is not a derived moment here and should be rejected")
	}
}
