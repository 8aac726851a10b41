package frame

// Op enumerates the aggregate operations a scalar plan can request.
type Op int

const (
	// OpRowCount counts all rows of the source. Input is ignored.
	OpRowCount Op = iota
	// OpNullCount counts null values.
	OpNullCount
	// OpDistinct estimates the number of distinct non-null values. Backends
	// may answer exactly or approximately (sub-linear memory preferred).
	OpDistinct
	// OpMean, OpMin, OpMax, OpStd, OpSkew and OpKurtosis are numeric
	// aggregates over non-null values, coerced to a common floating type.
	// Std is the sample standard deviation; Skew and Kurtosis are the
	// population g1 / excess g2 moments.
	OpMean
	OpMin
	OpMax
	OpStd
	OpSkew
	OpKurtosis
	// OpQuantile computes the Agg.Q quantile of non-null numeric values.
	// The interpolation method is backend-specific.
	OpQuantile
	// OpMinLength, OpMeanLength and OpMaxLength aggregate character lengths
	// of non-null text values.
	OpMinLength
	OpMeanLength
	OpMaxLength
)

// Agg is one aggregate request inside a ScalarPlan.
//
// Name is the alias the result is published under in the RowSet, so a single
// plan can carry many aggregates over many columns without collisions.
type Agg struct {
	Name  string
	Op    Op
	Input Expr
	// Q is the quantile in (0, 1); OpQuantile only.
	Q float64
}

// Plan is the sealed set of declarative computations an Engine can
// materialize. The three variants cover everything the profiler needs:
// one-row aggregate summaries, raw value projections and frequency tables.
type Plan interface {
	isPlan()
}

// ScalarPlan computes a single row of aggregate values. The result RowSet has
// exactly one row and one column per Agg, named by Agg.Name.
type ScalarPlan struct {
	Aggs []Agg
}

// Proj selects one output column of a ProjectionPlan.
type Proj struct {
	Name   string
	Source Expr
	// CastFloat coerces values to float64; values that cannot be coerced
	// become null. Null inputs stay null.
	CastFloat bool
}

// ProjectionPlan materializes raw column values, one result row per source
// row. Used for histogram extraction and the correlation projection.
type ProjectionPlan struct {
	Columns []Proj
}

// TopKPlan computes the K most frequent distinct values of one column.
//
// Result shape: columns ["value", "count"], ordered by count descending.
// Values are rendered in string form; the null group is a regular entry with
// a nil value. Tie order is backend-specific (the in-memory backend uses
// first-seen order).
type TopKPlan struct {
	Name   string
	Source Expr
	K      int
}

func (ScalarPlan) isPlan()     {}
func (ProjectionPlan) isPlan() {}
func (TopKPlan) isPlan()       {}

// BatchResult pairs one plan of a CollectAll batch with its outcome, keeping
// per-plan failures isolated from the rest of the batch.
type BatchResult struct {
	RowSet RowSet
	Err    error
}
