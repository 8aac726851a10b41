// Package frame defines the tabular query capability the profiler core runs
// against.
//
// The frame package is responsible for:
//   - Logical column descriptors and ordered schemas
//   - Physical value accessors (plain column, nested leaf field, sequence length)
//   - Declarative computation plans (scalar aggregates, projections, top-K)
//   - The Engine/Table interfaces every backend implements
//   - A kind-keyed backend registry (see engine.go)
//
// Design constraints:
//   - Plans are purely declarative; nothing in this package executes anything.
//   - A Table must be schema-inspectable without materializing the source.
//   - Backends own all execution detail (SQL dialects, parallelism, memory).
package frame

import (
	"fmt"
	"strconv"
)

// Kind is the logical type of a column.
type Kind int

const (
	// KindNumeric covers integer and floating columns.
	KindNumeric Kind = iota
	// KindText covers free-form string columns.
	KindText
	// KindCategorical covers low-cardinality string columns.
	KindCategorical
	// KindNested covers record/struct columns with named fields.
	KindNested
	// KindSequence covers variable-length list columns.
	KindSequence
)

func (k Kind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindText:
		return "text"
	case KindCategorical:
		return "categorical"
	case KindNested:
		return "nested"
	case KindSequence:
		return "sequence"
	default:
		return "unknown"
	}
}

// Scalar reports whether columns of this kind can be profiled directly.
// Nested and sequence columns must be flattened first.
func (k Kind) Scalar() bool {
	return k == KindNumeric || k == KindText || k == KindCategorical
}

// Expr addresses a physical value in a scanned source. Exactly one shape is
// meaningful per expression:
//
//   - plain column:          Col("age")
//   - nested leaf field:     Field("user", "age")
//   - sequence length:       Len("tags")
//
// Backends that cannot evaluate a shape (SQL backends have no nested types)
// must reject it with an error rather than guessing.
type Expr struct {
	// Column is the physical source column. Always set.
	Column string
	// Field selects a leaf field inside a nested column. Optional.
	Field string
	// Length, when true, evaluates to the element count of a sequence column.
	Length bool
}

// Col returns an expression addressing a plain column.
func Col(name string) Expr { return Expr{Column: name} }

// Field returns an expression addressing a leaf field of a nested column.
func Field(column, field string) Expr { return Expr{Column: column, Field: field} }

// Len returns an expression addressing the element count of a sequence column.
func Len(column string) Expr { return Expr{Column: column, Length: true} }

func (e Expr) String() string {
	if e.Length {
		return "len(" + e.Column + ")"
	}
	if e.Field != "" {
		return e.Column + "." + e.Field
	}
	return e.Column
}

// Column describes one logical column of a source schema.
type Column struct {
	Name string
	Kind Kind

	// Fields holds the leaf fields of a KindNested column; empty otherwise.
	Fields []Column

	// Source is the physical accessor behind this column. The zero value
	// means "the column itself"; flattened columns carry field/length
	// expressions here.
	Source Expr
}

// Access returns the physical accessor for the column, defaulting to the
// column itself when no explicit source was set.
func (c Column) Access() Expr {
	if c.Source == (Expr{}) {
		return Col(c.Name)
	}
	return c.Source
}

// Schema is an ordered set of columns. Order is meaningful: it drives result
// ordering in the profile record.
type Schema []Column

// Lookup returns the column with the given name, if present.
func (s Schema) Lookup(name string) (Column, bool) {
	for _, c := range s {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// RowSet is one materialized plan result: a small, fully-buffered table.
//
// Values use a narrow dynamic vocabulary: nil (null), int64, float64, string
// and bool. Backends must not leak driver-specific types.
type RowSet struct {
	Columns []string
	Rows    [][]any
}

// Len returns the number of rows.
func (rs RowSet) Len() int { return len(rs.Rows) }

// Col returns the index of a named column, or -1 when absent.
func (rs RowSet) Col(name string) int {
	for i, c := range rs.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Value returns the value at (row, named column). It returns nil both for
// SQL nulls and for columns that are absent from the result.
func (rs RowSet) Value(row int, name string) any {
	i := rs.Col(name)
	if i < 0 || row < 0 || row >= len(rs.Rows) || i >= len(rs.Rows[row]) {
		return nil
	}
	return rs.Rows[row][i]
}

// Float64 coerces a row-set value to float64.
//
// Edge cases:
//   - nil returns (0, false).
//   - Numeric strings are accepted: some engines only speak text.
func Float64(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case int:
		return float64(t), true
	case uint64:
		return float64(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(string(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Int64 coerces a row-set value to int64, truncating floats.
func Int64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int32:
		return int64(t), true
	case int:
		return int64(t), true
	case uint64:
		return int64(t), true
	case float64:
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	case []byte:
		n, err := strconv.ParseInt(string(t), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// Stringify renders a row-set value in its canonical string form, used by
// top-K results and anywhere values cross into the string-keyed wire format.
// Nulls have no string form; the caller must branch on nil first.
func Stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
