package load

import (
	"context"
	"strings"
	"testing"

	"profiler/internal/frame"
)

func TestJSONArray(t *testing.T) {
	t.Parallel()

	in := `[
		{"id": 1, "name": "ann", "score": 1.5},
		{"id": 2, "name": "bob"},
		{"id": 3, "name": "cy", "score": 3.25}
	]`

	d, err := JSON(strings.NewReader(in), "t")
	if err != nil {
		t.Fatal(err)
	}
	if d.Rows() != 3 {
		t.Fatalf("Rows() = %d, want 3", d.Rows())
	}

	s := schemaOf(t, d)
	if s["id"].Kind != frame.KindNumeric {
		t.Errorf("id kind = %s, want numeric", s["id"].Kind)
	}
	if s["score"].Kind != frame.KindNumeric {
		t.Errorf("score kind = %s, want numeric", s["score"].Kind)
	}

	ids := colValues(t, d, "id")
	if ids[0] != int64(1) {
		t.Errorf("integral number = %v (%T), want int64", ids[0], ids[0])
	}
	scores := colValues(t, d, "score")
	if scores[0] != 1.5 {
		t.Errorf("fractional number = %v (%T), want float64", scores[0], scores[0])
	}
	if scores[1] != nil {
		t.Errorf("absent key = %v, want nil", scores[1])
	}
}

func TestJSONNewlineDelimited(t *testing.T) {
	t.Parallel()

	in := "{\"a\": 1}\n{\"a\": 2, \"b\": \"x\"}\n{\"a\": 3}\n"
	d, err := JSON(strings.NewReader(in), "t")
	if err != nil {
		t.Fatal(err)
	}
	if d.Rows() != 3 {
		t.Fatalf("Rows() = %d, want 3", d.Rows())
	}
	if vals := colValues(t, d, "b"); vals[0] != nil || vals[1] != "x" {
		t.Fatalf("b = %v", vals)
	}
}

func TestJSONNestedAndSequence(t *testing.T) {
	t.Parallel()

	in := `[
		{"user": {"Age": 30, "name": "ann"}, "tags": ["a", "b"]},
		{"user": {"age": 31}, "tags": []}
	]`

	d, err := JSON(strings.NewReader(in), "t")
	if err != nil {
		t.Fatal(err)
	}

	s := schemaOf(t, d)
	user := s["user"]
	if user.Kind != frame.KindNested {
		t.Fatalf("user kind = %s, want nested", user.Kind)
	}

	// Nested field names normalize, so "Age" and "age" are one field.
	fieldKinds := map[string]frame.Kind{}
	for _, f := range user.Fields {
		fieldKinds[f.Name] = f.Kind
	}
	if len(fieldKinds) != 2 {
		t.Fatalf("user fields = %v, want age and name", fieldKinds)
	}
	if fieldKinds["age"] != frame.KindNumeric || fieldKinds["name"] != frame.KindText {
		t.Errorf("field kinds = %v", fieldKinds)
	}

	if s["tags"].Kind != frame.KindSequence {
		t.Errorf("tags kind = %s, want sequence", s["tags"].Kind)
	}

	// Flattened access works end to end.
	rs, err := d.Collect(context.Background(), frame.ProjectionPlan{Columns: []frame.Proj{
		{Name: "user_age", Source: frame.Field("user", "age")},
		{Name: "tags_len", Source: frame.Len("tags")},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if rs.Rows[0][0] != int64(30) || rs.Rows[1][0] != int64(31) {
		t.Errorf("user.age = %v, %v", rs.Rows[0][0], rs.Rows[1][0])
	}
	if rs.Rows[0][1] != int64(2) || rs.Rows[1][1] != int64(0) {
		t.Errorf("len(tags) = %v, %v", rs.Rows[0][1], rs.Rows[1][1])
	}
}

func TestJSONAllNullColumn(t *testing.T) {
	t.Parallel()

	d, err := JSON(strings.NewReader(`[{"a": null}, {"a": null}]`), "t")
	if err != nil {
		t.Fatal(err)
	}
	if got := schemaOf(t, d)["a"].Kind; got != frame.KindText {
		t.Fatalf("all-null kind = %s, want text", got)
	}
}

func TestJSONMixedScalarFallsBackToText(t *testing.T) {
	t.Parallel()

	d, err := JSON(strings.NewReader(`[{"v": 1}, {"v": "x"}]`), "t")
	if err != nil {
		t.Fatal(err)
	}
	if got := schemaOf(t, d)["v"].Kind; got != frame.KindText {
		t.Fatalf("mixed kind = %s, want text", got)
	}
}

func TestJSONErrors(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "[]", "not json", `[{"a": 1}, "oops"]`} {
		if _, err := JSON(strings.NewReader(in), "t"); err == nil {
			t.Errorf("JSON(%q) succeeded, want error", in)
		}
	}
}
