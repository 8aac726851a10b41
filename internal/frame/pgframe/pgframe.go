// Package pgframe implements the frame capability over PostgreSQL via pgx.
//
// Postgres carries the most aggregate machinery of the supported dialects:
// quantiles run as percentile_cont ordered-set aggregates inside the same
// scalar SELECT, so the whole scalar pass is one round trip. Skewness and
// kurtosis still come from power sums finished in Go (see
// internal/frame/sqlstat); Postgres has no native aggregates for them either.
package pgframe

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"profiler/internal/frame"
	"profiler/internal/frame/sqlstat"
)

func init() {
	frame.Register("postgres", New)
}

// Engine wraps one pgx connection pool.
type Engine struct {
	pool *pgxpool.Pool
}

// New builds a pool for cfg.DSN and verifies connectivity.
func New(ctx context.Context, cfg frame.Config) (frame.Engine, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Engine{pool: pool}, nil
}

// Close releases the pool.
func (e *Engine) Close() { e.pool.Close() }

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Scan implements frame.Engine. source may be schema-qualified
// ("analytics.orders"); the default schema is public.
func (e *Engine) Scan(ctx context.Context, source string) (frame.Table, error) {
	schema, table := splitQualified(source)
	if !identRE.MatchString(table) || (schema != "" && !identRE.MatchString(schema)) {
		return nil, fmt.Errorf("pgframe: invalid table name %q", source)
	}
	if schema == "" {
		schema = "public"
	}

	var n int
	err := e.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2`,
		schema, table,
	).Scan(&n)
	if err != nil {
		return nil, fmt.Errorf("pgframe: lookup table %s: %w", source, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("pgframe: no such table %q", source)
	}
	return &Table{pool: e.pool, schema: schema, name: table}, nil
}

func splitQualified(name string) (schema, table string) {
	parts := strings.SplitN(name, ".", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", name
}

// Table is a lazy handle on one Postgres table.
type Table struct {
	pool   *pgxpool.Pool
	schema string
	name   string
}

func (t *Table) qualified() string {
	return pgIdent(t.schema) + "." + pgIdent(t.name)
}

// numericTypes is the information_schema data_type set treated as numeric.
var numericTypes = map[string]bool{
	"smallint": true, "integer": true, "bigint": true,
	"decimal": true, "numeric": true,
	"real": true, "double precision": true,
	"smallserial": true, "serial": true, "bigserial": true,
	"money": true, "boolean": true,
}

// Schema implements frame.Table via information_schema.columns. Everything
// non-numeric profiles as text; Postgres relations are flat, so nested and
// sequence kinds never appear here.
func (t *Table) Schema(ctx context.Context) (frame.Schema, error) {
	rows, err := t.pool.Query(ctx,
		`SELECT column_name, data_type FROM information_schema.columns
		 WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position`,
		t.schema, t.name,
	)
	if err != nil {
		return nil, fmt.Errorf("pgframe: columns of %s: %w", t.name, err)
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
		return frame.RowSet{}, fmt.Errorf("pgframe: unsupported plan type %T", p)
	}
}

// collectAllWorkers caps concurrent plans per batch. The pool multiplexes
// connections, so a modest fan-out shortens the per-column passes without
// starving other pool users.
const collectAllWorkers = 4

// CollectAll implements frame.Table with bounded parallel execution.
func (t *Table) CollectAll(ctx context.Context, plans []frame.Plan) ([]frame.BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]frame.BatchResult, len(plans))
	sem := make(chan struct{}, collectAllWorkers)
	var wg sync.WaitGroup

	for i, p := range plans {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, p frame.Plan) {
			defer wg.Done()
			defer func() { <-sem }()
			rs, err := t.Collect(ctx, p)
			out[i] = frame.BatchResult{RowSet: rs, Err: err}
		}(i, p)
	}
	wg.Wait()

	return out, nil
}

// column renders an accessor as SQL. Postgres relations are flat; field and
// length expressions can never resolve here.
func column(e frame.Expr) (string, error) {
	if e.Field != "" || e.Length {
		return "", fmt.Errorf("pgframe: expression %s: nested accessors are not supported", e)
	}
	return pgIdent(e.Column), nil
}

// collectScalar batches every aggregate of the plan, quantiles included, into
// a single SELECT.
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
	var assigns []assign

	for i, a := range p.Aggs {
		if a.Op == frame.OpRowCount {
			idx := item(`COUNT(*)`)
			assigns = append(assigns, assign{i, intItem(idx)})
			continue
		}

		col, err := column(a.Input)
		if err != nil {
			return frame.RowSet{}, err
		}
		f := col + `::double precision`

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
			idx := item(fmt.Sprintf(`STDDEV_SAMP(%s)`, f))
			assigns = append(assigns, assign{i, passthrough(idx)})

		case frame.OpSkew, frame.OpKurtosis:
			m := momentItems(col, f, item)
			op := a.Op
			assigns = append(assigns, assign{i, func(vals []any) (any, error) {
				return momentValue(op, m, vals)
			}})

		case frame.OpQuantile:
			idx := item(fmt.Sprintf(
				`PERCENTILE_CONT(%g) WITHIN GROUP (ORDER BY %s)`, a.Q, f))
			assigns = append(assigns, assign{i, passthrough(idx)})

		case frame.OpMinLength:
			idx := item(fmt.Sprintf(`MIN(LENGTH(%s::text))`, col))
			assigns = append(assigns, assign{i, passthrough(idx)})

		case frame.OpMaxLength:
			idx := item(fmt.Sprintf(`MAX(LENGTH(%s::text))`, col))
			assigns = append(assigns, assign{i, passthrough(idx)})

		case frame.OpMeanLength:
			idx := item(fmt.Sprintf(`AVG(LENGTH(%s::text))`, col))
			assigns = append(assigns, assign{i, passthrough(idx)})

		default:
			return frame.RowSet{}, fmt.Errorf("pgframe: unsupported aggregate op %d", a.Op)
		}
	}

	q := fmt.Sprintf(`SELECT %s FROM %s`, strings.Join(selects, ", "), t.qualified())
	rows, err := t.pool.Query(ctx, q)
	if err != nil {
		return frame.RowSet{}, fmt.Errorf("pgframe: scalar query: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return frame.RowSet{}, err
		}
		return frame.RowSet{}, fmt.Errorf("pgframe: scalar query returned no rows")
	}
	vals, err := rows.Values()
	if err != nil {
		return frame.RowSet{}, err
	}
	rows.Close()

	row := rs.Rows[0]
	for _, as := range assigns {
		v, err := as.fn(vals)
		if err != nil {
			return frame.RowSet{}, err
		}
		row[as.agg] = v
	}
	return rs, nil
}

type momentIdx struct {
	n, s1, s2, s3, s4 int
}

func momentItems(col, f string, item func(string) int) momentIdx {
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
	case frame.OpSkew:
		v, ok = mom.Skewness()
	case frame.OpKurtosis:
		v, ok = mom.Kurtosis()
	default:
		return nil, fmt.Errorf("pgframe: op %d is not a moment", op)
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

func (t *Table) collectProjection(ctx context.Context, p frame.ProjectionPlan) (frame.RowSet, error) {
	cols := make([]string, 0, len(p.Columns))
	names := make([]string, 0, len(p.Columns))
	for _, c := range p.Columns {
		col, err := column(c.Source)
		if err != nil {
			return frame.RowSet{}, err
		}
		if c.CastFloat {
			col += `::double precision`
		}
		cols = append(cols, col)
		names = append(names, c.Name)
	}

	q := fmt.Sprintf(`SELECT %s FROM %s`, strings.Join(cols, ", "), t.qualified())
	rows, err := t.pool.Query(ctx, q)
	if err != nil {
		return frame.RowSet{}, fmt.Errorf("pgframe: projection query: %w", err)
	}
	defer rows.Close()

	rs := frame.RowSet{Columns: names}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return frame.RowSet{}, err
		}
		for i := range vals {
			vals[i] = normalize(vals[i])
		}
		rs.Rows = append(rs.Rows, vals)
	}
	return rs, rows.Err()
}

// collectTopK groups by the column; NULL forms its own group. Count tie order
// is whatever the planner picks, which the plan contract allows.
func (t *Table) collectTopK(ctx context.Context, p frame.TopKPlan) (frame.RowSet, error) {
	if p.K <= 0 {
		return frame.RowSet{}, fmt.Errorf("pgframe: top-k requires K > 0")
	}
	col, err := column(p.Source)
	if err != nil {
		return frame.RowSet{}, err
	}

	q := fmt.Sprintf(
		`SELECT %s::text AS value, COUNT(*) AS cnt FROM %s GROUP BY %s ORDER BY cnt DESC LIMIT $1`,
		col, t.qualified(), col,
	)
	rows, err := t.pool.Query(ctx, q, p.K)
	if err != nil {
		return frame.RowSet{}, fmt.Errorf("pgframe: top-k query: %w", err)
	}
	defer rows.Close()

	rs := frame.RowSet{Columns: []string{"value", "count"}}
	for rows.Next() {
		var (
			v *string
			n int64
		)
		if err := rows.Scan(&v, &n); err != nil {
			return frame.RowSet{}, err
		}
		var val any
		if v != nil {
			val = *v
		}
		rs.Rows = append(rs.Rows, []any{val, n})
	}
	return rs, rows.Err()
}

// normalize narrows pgx values to the RowSet vocabulary.
func normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
