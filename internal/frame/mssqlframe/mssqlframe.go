// Package mssqlframe implements the frame capability over SQL Server via
// github.com/microsoft/go-mssqldb.
//
// Dialect notes:
//   - STDEV is the sample standard deviation already; skewness and kurtosis
//     come from power sums finished in Go (see internal/frame/sqlstat).
//   - PERCENTILE_CONT is a window function, not a grouped aggregate, so each
//     quantile runs as its own TOP (1) ... OVER () query.
//   - Top-K uses TOP (k) with a COUNT ordering; NULL groups like any value.
package mssqlframe

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"profiler/internal/frame"
	"profiler/internal/frame/sqlstat"
)

func init() {
	frame.Register("mssql", New)
}

// Engine wraps one SQL Server connection pool.
type Engine struct {
	db *sql.DB
}

// New opens cfg.DSN with the sqlserver driver and verifies connectivity.
func New(ctx context.Context, cfg frame.Config) (frame.Engine, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Engine{db: db}, nil
}

// Close closes the underlying pool.
func (e *Engine) Close() error { return e.db.Close() }

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Scan implements frame.Engine. source may be schema-qualified
// ("sales.orders"); the default schema is dbo.
func (e *Engine) Scan(ctx context.Context, source string) (frame.Table, error) {
	schema, table := splitQualified(source)
	if !identRE.MatchString(table) || (schema != "" && !identRE.MatchString(schema)) {
		return nil, fmt.Errorf("mssqlframe: invalid table name %q", source)
	}
	if schema == "" {
		schema = "dbo"
	}

	var n int
	err := e.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2`,
		schema, table,
	).Scan(&n)
	if err != nil {
		return nil, fmt.Errorf("mssqlframe: lookup table %s: %w", source, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("mssqlframe: no such table %q", source)
	}
	return &Table{db: e.db, schema: schema, name: table}, nil
}

func splitQualified(name string) (schema, table string) {
	parts := strings.SplitN(name, ".", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", name
}

// Table is a lazy handle on one SQL Server table.
type Table struct {
	db     *sql.DB
	schema string
	name   string
}

func (t *Table) qualified() string {
	return msIdent(t.schema) + "." + msIdent(t.name)
}

var numericTypes = map[string]bool{
	"tinyint": true, "smallint": true, "int": true, "bigint": true,
	"decimal": true, "numeric": true, "money": true, "smallmoney": true,
	"float": true, "real": true, "bit": true,
}

// Schema implements frame.Table via INFORMATION_SCHEMA.COLUMNS.
func (t *Table) Schema(ctx context.Context) (frame.Schema, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT COLUMN_NAME, DATA_TYPE FROM INFORMATION_SCHEMA.COLUMNS
		 WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2 ORDER BY ORDINAL_POSITION`,
		t.schema, t.name,
	)
	if err != nil {
		return nil, fmt.Errorf("mssqlframe: columns of %s: %w", t.name, err)
	}
	defer rows.Close()

	var out frame.Schema
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return nil, err
		}
		kind := frame.KindText
		if numericTypes[strings.ToLower(typ)] {
			kind = frame.KindNumeric
		}
		out = append(out, frame.Column{Name: name, Kind: kind})
	}
	return out, rows.Err()
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
		return frame.RowSet{}, fmt.Errorf("mssqlframe: unsupported plan type %T", p)
	}
}

// CollectAll implements frame.Table, running plans sequentially. database/sql
// pools connections, but profiling workloads here are scan-bound on the
// server; serial execution keeps pressure predictable.
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

// column renders an accessor as SQL. SQL Server relations are flat; field and
// length expressions can never resolve here.
func column(e frame.Expr) (string, error) {
	if e.Field != "" || e.Length {
		return "", fmt.Errorf("mssqlframe: expression %s: nested accessors are not supported", e)
	}
	return msIdent(e.Column), nil
}

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
	item := func(expr string) int {
		if i, ok := seen[expr]; ok {
			return i
		}
		i := len(selects)
		selects = append(selects, expr)
		seen[expr] = i
		return i
	}

	type assign struct {
		agg int
		fn  func(vals []any) (any, error)
	}
	type quantileReq struct {
		agg int
		col string
		q   float64
	}
	var (
		assigns   []assign
		quantiles []quantileReq
	)

	for i, a := range p.Aggs {
		if a.Op == frame.OpRowCount {
			idx := item(`COUNT_BIG(*)`)
			assigns = append(assigns, assign{i, intItem(idx)})
			continue
		}

		col, err := column(a.Input)
		if err != nil {
			return frame.RowSet{}, err
		}
		f := fmt.Sprintf(`CAST(%s AS FLOAT)`, col)

		switch a.Op {
		case frame.OpNullCount:
			total := item(`COUNT_BIG(*)`)
			nonNull := item(fmt.Sprintf(`COUNT_BIG(%s)`, col))
			assigns = append(assigns, assign{i, func(vals []any) (any, error) {
				t, _ := frame.Int64(vals[total])
				nn, _ := frame.Int64(vals[nonNull])
				return t - nn, nil
			}})

		case frame.OpDistinct:
			idx := item(fmt.Sprintf(`COUNT_BIG(DISTINCT %s)`, col))
			assigns = append(assigns, assign{i, intItem(idx)})

		case frame.OpMin:
			idx := item(fmt.Sprintf(`MIN(%s)`, col))
			assigns = append(assigns, assign{i, passthrough(idx)})

		case frame.OpMax:
			idx := item(fmt.Sprintf(`MAX(%s)`, col))
			assigns = append(assigns, assign{i, passthrough(idx)})

		case frame.OpMean:
			idx := item(fmt.Sprintf(`AVG(%s)`, f))
			assigns = append(assigns, assign{i, passthrough(idx)})

		case frame.OpStd:
			idx := item(fmt.Sprintf(`STDEV(%s)`, f))
			assigns = append(assigns, assign{i, passthrough(idx)})

		case frame.OpSkew, frame.OpKurtosis:
			m := momentItems(col, f, item)
			op := a.Op
			assigns = append(assigns, assign{i, func(vals []any) (any, error) {
				return momentValue(op, m, vals)
			}})

		case frame.OpQuantile:
			quantiles = append(quantiles, quantileReq{agg: i, col: col, q: a.Q})

		case frame.OpMinLength:
			idx := item(fmt.Sprintf(`MIN(LEN(%s))`, col))
			assigns = append(assigns, assign{i, passthrough(idx)})

		case frame.OpMaxLength:
			idx := item(fmt.Sprintf(`MAX(LEN(%s))`, col))
			assigns = append(assigns, assign{i, passthrough(idx)})

		case frame.OpMeanLength:
			idx := item(fmt.Sprintf(`AVG(CAST(LEN(%s) AS FLOAT))`, col))
			assigns = append(assigns, assign{i, passthrough(idx)})

		default:
			return frame.RowSet{}, fmt.Errorf("mssqlframe: unsupported aggregate op %d", a.Op)
		}
	}

	q := fmt.Sprintf(`SELECT %s FROM %s`, strings.Join(selects, ", "), t.qualified())
	vals := make([]any, len(selects))
	dests := make([]any, len(selects))
	for i := range vals {
		dests[i] = &vals[i]
	}
	if err := t.db.QueryRowContext(ctx, q).Scan(dests...); err != nil {
		return frame.RowSet{}, fmt.Errorf("mssqlframe: scalar query: %w", err)
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
		v, err := t.quantile(ctx, qr.col, qr.q)
		if err != nil {
			return frame.RowSet{}, err
		}
		row[qr.agg] = v
	}

	return rs, nil
}

type momentIdx struct {
	n, s1, s2, s3, s4 int
}

func momentItems(col, f string, item func(string) int) momentIdx {
	return momentIdx{
		n:  item(fmt.Sprintf(`COUNT_BIG(%s)`, col)),
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
	case frame.OpSkew:
		v, ok = mom.Skewness()
	case frame.OpKurtosis:
		v, ok = mom.Kurtosis()
	default:
		return nil, fmt.Errorf("mssqlframe: op %d is not a moment", op)
	}
	if !ok {
		return nil, nil
	}
	return v, nil
}

func intItem(idx int) func([]any) (any, error) {
	return func(vals []any) (any, error) {
		n, _ := frame.Int64(vals[idx])
		return n, nil
	}
}

func passthrough(idx int) func([]any) (any, error) {
	return func(vals []any) (any, error) { return normalize(vals[idx]), nil }
}

// quantile runs one PERCENTILE_CONT window query. The function interpolates
// linearly, matching the other backends. An empty column yields no row.
func (t *Table) quantile(ctx context.Context, col string, q float64) (any, error) {
	query := fmt.Sprintf(
		`SELECT TOP (1) PERCENTILE_CONT(%g) WITHIN GROUP (ORDER BY CAST(%s AS FLOAT)) OVER () FROM %s WHERE %s IS NOT NULL`,
		q, col, t.qualified(), col,
	)
	var v sql.NullFloat64
	err := t.db.QueryRowContext(ctx, query).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mssqlframe: quantile query: %w", err)
	}
	if !v.Valid {
		return nil, nil
	}
	return v.Float64, nil
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
			col = fmt.Sprintf(`CAST(%s AS FLOAT)`, col)
		}
		cols = append(cols, col)
		names = append(names, c.Name)
	}

	q := fmt.Sprintf(`SELECT %s FROM %s`, strings.Join(cols, ", "), t.qualified())
	rows, err := t.db.QueryContext(ctx, q)
	if err != nil {
		return frame.RowSet{}, fmt.Errorf("mssqlframe: projection query: %w", err)
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

func (t *Table) collectTopK(ctx context.Context, p frame.TopKPlan) (frame.RowSet, error) {
	if p.K <= 0 {
		return frame.RowSet{}, fmt.Errorf("mssqlframe: top-k requires K > 0")
	}
	col, err := column(p.Source)
	if err != nil {
		return frame.RowSet{}, err
	}

	q := fmt.Sprintf(
		`SELECT TOP (%d) CAST(%s AS NVARCHAR(MAX)) AS value, COUNT_BIG(*) AS cnt FROM %s GROUP BY %s ORDER BY cnt DESC`,
		p.K, col, t.qualified(), col,
	)
	rows, err := t.db.QueryContext(ctx, q)
	if err != nil {
		return frame.RowSet{}, fmt.Errorf("mssqlframe: top-k query: %w", err)
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

// normalize narrows driver values to the RowSet vocabulary.
func normalize(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case int32:
		return int64(t)
	default:
		return v
	}
}

func msIdent(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}
