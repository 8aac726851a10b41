// Package memframe implements the frame capability over in-memory datasets.
//
// It is the reference backend: file loaders materialize into it, and it is
// the only backend that understands nested and sequence values, so it is the
// one that exercises flattened projections end to end.
//
// Value vocabulary per cell: nil (null), int64, float64, string, bool,
// map[string]any (nested record) and []any (sequence).
package memframe

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"profiler/internal/frame"
)

// Column pairs a column descriptor with its values for dataset construction.
type Column struct {
	Def    frame.Column
	Values []any
}

// Dataset is one immutable in-memory table. It implements frame.Table.
type Dataset struct {
	name string
	cols []Column
	rows int
}

// NewDataset builds a dataset from columns.
//
// Edge cases:
//   - All columns must share one length; a mismatch is a construction error.
//   - Zero columns is allowed and yields a zero-row dataset.
func NewDataset(name string, cols []Column) (*Dataset, error) {
	rows := 0
	for i, c := range cols {
		if c.Def.Name == "" {
			return nil, fmt.Errorf("memframe: column %d has no name", i)
		}
		if i == 0 {
			rows = len(c.Values)
			continue
		}
		if len(c.Values) != rows {
			return nil, fmt.Errorf("memframe: column %q has %d values, want %d",
				c.Def.Name, len(c.Values), rows)
		}
	}
	return &Dataset{name: name, cols: cols, rows: rows}, nil
}

// Name returns the dataset name used for Scan lookups.
func (d *Dataset) Name() string { return d.name }

// Rows returns the row count.
func (d *Dataset) Rows() int { return d.rows }

// Engine holds named datasets and hands them out as frame.Table handles.
type Engine struct {
	mu       sync.RWMutex
	datasets map[string]*Dataset
}

// NewEngine returns an empty in-memory engine.
func NewEngine() *Engine {
	return &Engine{datasets: make(map[string]*Dataset)}
}

// Add registers a dataset, replacing any previous dataset of the same name.
func (e *Engine) Add(d *Dataset) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.datasets[d.name] = d
}

// Scan implements frame.Engine.
func (e *Engine) Scan(ctx context.Context, source string) (frame.Table, error) {
	e.mu.RLock()
	d, ok := e.datasets[source]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("memframe: unknown dataset %q", source)
	}
	return d, nil
}

// Schema implements frame.Table.
func (d *Dataset) Schema(ctx context.Context) (frame.Schema, error) {
	out := make(frame.Schema, 0, len(d.cols))
	for _, c := range d.cols {
		out = append(out, c.Def)
	}
	return out, nil
}

// Collect implements frame.Table.
func (d *Dataset) Collect(ctx context.Context, p frame.Plan) (frame.RowSet, error) {
	if err := ctx.Err(); err != nil {
		return frame.RowSet{}, err
	}
	switch p := p.(type) {
	case frame.ScalarPlan:
		return d.collectScalar(p)
	case frame.ProjectionPlan:
		return d.collectProjection(p)
	case frame.TopKPlan:
		return d.collectTopK(p)
	default:
		return frame.RowSet{}, fmt.Errorf("memframe: unsupported plan type %T", p)
	}
}

// collectAllWorkers caps the fan-out of CollectAll. Plans are cheap to run in
// memory; the cap only keeps pathological batch sizes from oversubscribing.
const collectAllWorkers = 4

// CollectAll implements frame.Table. Plans run concurrently on a bounded
// worker pool; each plan's failure stays in its own BatchResult slot.
func (d *Dataset) CollectAll(ctx context.Context, plans []frame.Plan) ([]frame.BatchResult, error) {
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
			rs, err := d.Collect(ctx, p)
			out[i] = frame.BatchResult{RowSet: rs, Err: err}
		}(i, p)
	}
	wg.Wait()

	return out, nil
}

// eval resolves an expression for one row.
//
// Semantics:
//   - A field access on a null or non-record value yields null.
//   - The length of a null sequence is null; an empty sequence is 0.
func (d *Dataset) eval(e frame.Expr, row int) (any, error) {
	var vals []any
	for i := range d.cols {
		if d.cols[i].Def.Name == e.Column {
			vals = d.cols[i].Values
			break
		}
	}
	if vals == nil {
		return nil, fmt.Errorf("memframe: unknown column %q", e.Column)
	}
	v := vals[row]

	switch {
	case e.Length:
		if v == nil {
			return nil, nil
		}
		seq, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("memframe: %s is not a sequence", e.Column)
		}
		return int64(len(seq)), nil

	case e.Field != "":
		if v == nil {
			return nil, nil
		}
		rec, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("memframe: %s is not a nested record", e.Column)
		}
		return normalize(rec[e.Field]), nil

	default:
		return normalize(v), nil
	}
}

// normalize narrows loader-produced values to the RowSet vocabulary.
func normalize(v any) any {
	switch t := v.(type) {
	case nil, int64, float64, string, bool, map[string]any, []any:
		return v
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	default:
		return frame.Stringify(v)
	}
}

func (d *Dataset) collectProjection(p frame.ProjectionPlan) (frame.RowSet, error) {
	rs := frame.RowSet{Columns: make([]string, 0, len(p.Columns))}
	for _, c := range p.Columns {
		rs.Columns = append(rs.Columns, c.Name)
	}

	rs.Rows = make([][]any, d.rows)
	for row := 0; row < d.rows; row++ {
		vals := make([]any, len(p.Columns))
		for i, c := range p.Columns {
			v, err := d.eval(c.Source, row)
			if err != nil {
				return frame.RowSet{}, err
			}
			if c.CastFloat {
				if v == nil {
					vals[i] = nil
				} else if f, ok := frame.Float64(v); ok {
					vals[i] = f
				} else {
					vals[i] = nil
				}
				continue
			}
			vals[i] = v
		}
		rs.Rows[row] = vals
	}
	return rs, nil
}

func (d *Dataset) collectTopK(p frame.TopKPlan) (frame.RowSet, error) {
	if p.K <= 0 {
		return frame.RowSet{}, fmt.Errorf("memframe: top-k requires K > 0")
	}

	type bucket struct {
		value *string // nil for the null group
		count int64
		seen  int // first-seen row, breaks count ties
	}

	byKey := make(map[string]*bucket)
	var nullBucket *bucket
	order := make([]*bucket, 0, 16)

	for row := 0; row < d.rows; row++ {
		v, err := d.eval(p.Source, row)
		if err != nil {
			return frame.RowSet{}, err
		}
		if v == nil {
			if nullBucket == nil {
				nullBucket = &bucket{seen: row}
				order = append(order, nullBucket)
			}
			nullBucket.count++
			continue
		}
		s := frame.Stringify(v)
		b := byKey[s]
		if b == nil {
			sv := s
			b = &bucket{value: &sv, seen: row}
			byKey[s] = b
			order = append(order, b)
		}
		b.count++
	}

	// Buckets are already in first-seen order, so a stable sort on count
	// alone keeps ties in first-seen order.
	sort.SliceStable(order, func(i, j int) bool { return order[i].count > order[j].count })

	k := p.K
	if k > len(order) {
		k = len(order)
	}
	rs := frame.RowSet{Columns: []string{"value", "count"}, Rows: make([][]any, 0, k)}
	for _, b := range order[:k] {
		var val any
		if b.value != nil {
			val = *b.value
		}
		rs.Rows = append(rs.Rows, []any{val, b.count})
	}
	return rs, nil
}
