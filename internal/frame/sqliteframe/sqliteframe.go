// Package sqliteframe implements the frame capability over SQLite files via
// modernc.org/sqlite (pure Go, no cgo).
//
// SQLite specifics that shape this backend:
//   - There are no skewness/kurtosis aggregates; power sums are fetched and
//     finished in Go (see internal/frame/sqlstat).
//   - There is no percentile aggregate either; quantiles run as ordered
//     LIMIT/OFFSET queries and interpolate client-side.
//   - A single file connection serializes writers, so CollectAll runs plans
//     sequentially rather than fanning out.
package sqliteframe

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	_ "modernc.org/sqlite"

	"profiler/internal/frame"
	"profiler/internal/frame/sqlstat"
)

func init() {
	frame.Register("sqlite", New)
}

// Engine is a handle on one SQLite database file.
type Engine struct {
	db *sql.DB
}

// New opens the database at cfg.DSN and verifies connectivity.
func New(ctx context.Context, cfg frame.Config) (frame.Engine, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Engine{db: db}, nil
}

// Close closes the underlying connection.
func (e *Engine) Close() error { return e.db.Close() }

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Scan implements frame.Engine. The table must exist; profiling a typo'd
// name should fail here, not as an opaque SQL error three passes in.
func (e *Engine) Scan(ctx context.Context, source string) (frame.Table, error) {
	if !identRE.MatchString(source) {
		return nil, fmt.Errorf("sqliteframe: invalid table name %q", source)
	}
	var n int
	err := e.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, source,
	).Scan(&n)
	if err != nil {
		return nil, fmt.Errorf("sqliteframe: lookup table %s: %w", source, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("sqliteframe: no such table %q", source)
	}
	return &Table{db: e.db, name: source}, nil
}

// Table is a lazy handle on one SQLite table.
type Table struct {
	db   *sql.DB
	name string
}

// Schema implements frame.Table using PRAGMA table_info. Column kinds follow
// SQLite type affinity: numeric affinities map to KindNumeric, everything
// else to KindText. SQLite has no nested or sequence types.
func (t *Table) Schema(ctx context.Context) (frame.Schema, error) {
	rows, err := t.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, sqlIdent(t.name)))
	if err != nil {
		return nil, fmt.Errorf("sqliteframe: table_info %s: %w", t.name, err)
	}
	defer rows.Close()

	var out frame.Schema
	for rows.Next() {
		var (
			cid       int
			name, typ string
			notnull   int
			dflt      any
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		kind := frame.KindText
		if numericAffinity(typ) {
			kind = frame.KindNumeric
		}
		out = append(out, frame.Column{Name: name, Kind: kind})
	}
	return out, rows.Err()
}

// numericAffinity applies SQLite's affinity rules: INT anywhere in the
// declared type means INTEGER affinity; REAL/FLOA/DOUB mean REAL.
func numericAffinity(declared string) bool {
	u := strings.ToUpper(declared)
	return strings.Contains(u, "INT") ||
		strings.Contains(u, "REAL") ||
		strings.Contains(u, "FLOA") ||
		strings.Contains(u, "DOUB") ||
		strings.Contains(u, "NUMERIC") ||
		strings.Contains(u, "DECIMAL")
}

// Collect implements frame.Table.
func (t *Table) Collect(ctx context.Context, p frame.Plan) (frame.RowSet, error) {
	switch p := p.(type) {
	case frame.ScalarPlan:
		return t.collectScalar(ctx, p)
	case frame.ProjectionPlan:
		return t.collectProjection(ctx, p)
	case frame.TopKPlan:
		return t.collectTopK(ctx, p)
	default:
		return frame.RowSet{}, fmt.Errorf("sqliteframe: unsupported plan type %T", p)
	}
}

// CollectAll implements frame.Table. Plans run one after another: SQLite
// serializes access to the file anyway, so fan-out buys nothing here.
func (t *Table) CollectAll(ctx context.Context, plans []frame.Plan) ([]frame.BatchResult, error) {
	out := make([]frame.BatchResult, len(plans))
	for i, p := range plans {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rs, err := t.Collect(ctx, p)
		out[i] = frame.BatchResult{RowSet: rs, Err: err}
	}
	return out, nil
}

// column renders an accessor as SQL. SQLite tables are flat; field and
// length expressions can never resolve here.
func column(e frame.Expr) (string, error) {
	if e.Field != "" || e.Length {
		return "", fmt.Errorf("sqliteframe: expression %s: nested accessors are not supported", e)
	}
	return sqlIdent(e.Column), nil
}

// collectScalar batches every non-quantile aggregate into one SELECT and
// finishes quantiles with per-quantile ordered queries.
func (t *Table) collectScalar(ctx context.Context, p frame.ScalarPlan) (frame.RowSet, error) {
	rs := frame.RowSet{
		Columns: make([]string, len(p.Aggs)),
		Rows:    [][]any{make([]any, len(p.Aggs))},
	}
	for i, a := range p.Aggs {
		rs.Columns[i] = a.Name
	}

	var (
		selects []string
		seen    = map[string]int{}
	)
	// item registers one select expression, deduplicated by SQL text, and
	// returns its position in the scanned row.
	item := func(expr string) int {
		if i, ok := seen[expr]; ok {
			return i
		}
		i := len(selects)
		selects = append(selects, expr)
		seen[expr] = i
		return i
	}

	type quantileReq struct {
		agg   int
		col   string
		count int
		q     float64
	}

	type assign struct {
		agg int
		fn  func(vals []any) (any, error)
	}

	var (
		assigns   []assign
		quantiles []quantileReq
	)

	for i, a := range p.Aggs {
		if a.Op == frame.OpRowCount {
			idx := item(`COUNT(*)`)
			assigns = append(assigns, assign{i, func(vals []any) (any, error) {
				n, _ := frame.Int64(vals[idx])
				return n, nil
			}})
			continue
		}

		col, err := column(a.Input)
		if err != nil {
			return frame.RowSet{}, err
		}

		switch a.Op {
		case frame.OpNullCount:
			total := item(`COUNT(*)`)
			nonNull := item(fmt.Sprintf(`COUNT(%s)`, col))
			assigns = append(assigns, assign{i, func(vals []any) (any, error) {
				t, _ := frame.Int64(vals[total])
				nn, _ := frame.Int64(vals[nonNull])
				return t - nn, nil
			}})

		case frame.OpDistinct:
			idx := item(fmt.Sprintf(`COUNT(DISTINCT %s)`, col))
			assigns = append(assigns, assign{i, func(vals []any) (any, error) {
				n, _ := frame.Int64(vals[idx])
				return n, nil
			}})

		case frame.OpMin:
			idx := item(fmt.Sprintf(`MIN(%s)`, col))
			assigns = append(assigns, assign{i, passthrough(idx)})

		case frame.OpMax:
			idx := item(fmt.Sprintf(`MAX(%s)`, col))
			assigns = append(assigns, assign{i, passthrough(idx)})

		case frame.OpMean, frame.OpStd, frame.OpSkew, frame.OpKurtosis:
			m := t.momentItems(col, item)
			op := a.Op
			assigns = append(assigns, assign{i, func(vals []any) (any, error) {
				return momentValue(op, m, vals)
			}})

		case frame.OpQuantile:
			count := item(fmt.Sprintf(`COUNT(%s)`, col))
			quantiles = append(quantiles, quantileReq{agg: i, col: col, count: count, q: a.Q})

		case frame.OpMinLength:
			idx := item(fmt.Sprintf(`MIN(LENGTH(%s))`, col))
			assigns = append(assigns, assign{i, passthrough(idx)})

		case frame.OpMaxLength:
			idx := item(fmt.Sprintf(`MAX(LENGTH(%s))`, col))
			assigns = append(assigns, assign{i, passthrough(idx)})

		case frame.OpMeanLength:
			idx := item(fmt.Sprintf(`AVG(LENGTH(%s))`, col))
			assigns = append(assigns, assign{i, passthrough(idx)})

		default:
			return frame.RowSet{}, fmt.Errorf("sqliteframe: unsupported aggregate op %d", a.Op)
		}
	}

	q := fmt.Sprintf(`SELECT %s FROM %s`, strings.Join(selects, ", "), sqlIdent(t.name))
	vals := make([]any, len(selects))
	dests := make([]any, len(selects))
	for i := range vals {
		dests[i] = &vals[i]
	}
	if err := t.db.QueryRowContext(ctx, q).Scan(dests...); err != nil {
		return frame.RowSet{}, fmt.Errorf("sqliteframe: scalar query: %w", err)
	}

	row := rs.Rows[0]
	for _, as := range assigns {
		v, err := as.fn(vals)
		if err != nil {
			return frame.RowSet{}, err
		}
		row[as.agg] = v
	}

	for _, qr := range quantiles {
		n, _ := frame.Int64(vals[qr.count])
		v, err := t.quantile(ctx, qr.col, n, qr.q)
		if err != nil {
			return frame.RowSet{}, err
		}
		row[qr.agg] = v
	}

	return rs, nil
}

// momentIdx locates the power-sum items of one column inside the scanned row.
type momentIdx struct {
	n, s1, s2, s3, s4 int
}

func (t *Table) momentItems(col string, item func(string) int) momentIdx {
	f := fmt.Sprintf(`CAST(%s AS REAL)`, col)
	return momentIdx{
		n:  item(fmt.Sprintf(`COUNT(%s)`, col)),
		s1: item(fmt.Sprintf(`SUM(%s)`, f)),
		s2: item(fmt.Sprintf(`SUM(%s * %s)`, f, f)),
		s3: item(fmt.Sprintf(`SUM(%s * %s * %s)`, f, f, f)),
		s4: item(fmt.Sprintf(`SUM(%s * %s * %s * %s)`, f, f, f, f)),
	}
}

func momentValue(op frame.Op, m momentIdx, vals []any) (any, error) {
	n, _ := frame.Int64(vals[m.n])
	if n == 0 {
		return nil, nil
	}
	mom := sqlstat.Moments{N: n}
	mom.S1, _ = frame.Float64(vals[m.s1])
	mom.S2, _ = frame.Float64(vals[m.s2])
	mom.S3, _ = frame.Float64(vals[m.s3])
	mom.S4, _ = frame.Float64(vals[m.s4])

	var (
		v  float64
		ok bool
	)
	switch op {
	case frame.OpMean:
		v, ok = mom.Mean()
	case frame.OpStd:
		v, ok = mom.SampleStd()
	case frame.OpSkew:
		v, ok = mom.Skewness()
	case frame.OpKurtosis:
		v, ok = mom.Kurtosis()
	default:
		return nil, fmt.Errorf("sqliteframe: op %d is not a moment", op)
	}
	if !ok {
		return nil, nil
	}
	return v, nil
}

func passthrough(idx int) func([]any) (any, error) {
	return func(vals []any) (any, error) { return normalize(vals[idx]), nil }
}

// quantile fetches the two order statistics around the interpolation position
// and blends them. n is the non-null count from the main aggregate query.
func (t *Table) quantile(ctx context.Context, col string, n int64, q float64) (any, error) {
	if n == 0 {
		return nil, nil
	}
	lo, frac := sqlstat.QuantilePos(n, q)

	rows, err := t.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT CAST(%s AS REAL) FROM %s WHERE %s IS NOT NULL ORDER BY %s LIMIT 2 OFFSET ?`,
		col, sqlIdent(t.name), col, col,
	), lo)
	if err != nil {
		return nil, fmt.Errorf("sqliteframe: quantile query: %w", err)
	}
	defer rows.Close()

	var vals []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	if frac == 0 || len(vals) == 1 {
		return vals[0], nil
	}
	return sqlstat.Interpolate(vals[0], vals[1], frac), nil
}

func (t *Table) collectProjection(ctx context.Context, p frame.ProjectionPlan) (frame.RowSet, error) {
	cols := make([]string, 0, len(p.Columns))
	names := make([]string, 0, len(p.Columns))
	for _, c := range p.Columns {
		col, err := column(c.Source)
		if err != nil {
			return frame.RowSet{}, err
		}
		if c.CastFloat {
			col = fmt.Sprintf(`CAST(%s AS REAL)`, col)
		}
		cols = append(cols, col)
		names = append(names, c.Name)
	}

	q := fmt.Sprintf(`SELECT %s FROM %s`, strings.Join(cols, ", "), sqlIdent(t.name))
	rows, err := t.db.QueryContext(ctx, q)
	if err != nil {
		return frame.RowSet{}, fmt.Errorf("sqliteframe: projection query: %w", err)
	}
	defer rows.Close()

	rs := frame.RowSet{Columns: names}
	for rows.Next() {
		vals := make([]any, len(cols))
		dests := make([]any, len(cols))
		for i := range vals {
			dests[i] = &vals[i]
		}
		if err := rows.Scan(dests...); err != nil {
			return frame.RowSet{}, err
		}
		for i := range vals {
			vals[i] = normalize(vals[i])
		}
		rs.Rows = append(rs.Rows, vals)
	}
	return rs, rows.Err()
}

// collectTopK groups by the column. NULL forms its own group. Ties break on
// first physical appearance via MIN(rowid).
func (t *Table) collectTopK(ctx context.Context, p frame.TopKPlan) (frame.RowSet, error) {
	if p.K <= 0 {
		return frame.RowSet{}, fmt.Errorf("sqliteframe: top-k requires K > 0")
	}
	col, err := column(p.Source)
	if err != nil {
		return frame.RowSet{}, err
	}

	q := fmt.Sprintf(
		`SELECT CAST(%s AS TEXT), COUNT(*) AS cnt FROM %s GROUP BY %s ORDER BY cnt DESC, MIN(rowid) ASC LIMIT ?`,
		col, sqlIdent(t.name), col,
	)
	rows, err := t.db.QueryContext(ctx, q, p.K)
	if err != nil {
		return frame.RowSet{}, fmt.Errorf("sqliteframe: top-k query: %w", err)
	}
	defer rows.Close()

	rs := frame.RowSet{Columns: []string{"value", "count"}}
	for rows.Next() {
		var (
			v sql.NullString
			n int64
		)
		if err := rows.Scan(&v, &n); err != nil {
			return frame.RowSet{}, err
		}
		var val any
		if v.Valid {
			val = v.String
		}
		rs.Rows = append(rs.Rows, []any{val, n})
	}
	return rs, rows.Err()
}

// normalize narrows database/sql values to the RowSet vocabulary.
func normalize(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	default:
		return v
	}
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
