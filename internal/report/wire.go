package report

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MarshalJSON renders the record in its wire form: the flat
// "{column}_{metric}" / "table_{metric}" mapping plus the nested
// "correlations", "alerts" and "_meta" substructures.
//
// Key order is deterministic (table stats, then columns in schema order,
// then the nested sections) so that two runs over the same source produce
// byte-identical output.
func (r *Record) MarshalJSON() ([]byte, error) {
	var w wireObject

	w.add("table_row_count", r.RowCount)

	for _, cs := range r.columns {
		if err := cs.appendWire(&w); err != nil {
			return nil, err
		}
	}

	if r.Correlations != nil {
		w.add("correlations", r.Correlations)
	}
	if r.AlertsComputed {
		alerts := r.Alerts
		if alerts == nil {
			alerts = []Alert{}
		}
		w.add("alerts", alerts)
	}
	w.add("_meta", r.Meta)

	return w.bytes()
}

// appendWire emits this column's flat keys in a fixed metric order.
func (cs *ColumnStats) appendWire(w *wireObject) error {
	key := func(metric string) string { return cs.Name + "_" + metric }

	w.add(key("null_count"), cs.NullCount)
	w.add(key("n_unique"), cs.Distinct)

	if cs.Numeric != nil && cs.Text != nil {
		return fmt.Errorf("report: column %q is both numeric and text", cs.Name)
	}

	if n := cs.Numeric; n != nil {
		w.add(key("mean"), n.Mean)
		w.add(key("min"), n.Min)
		w.add(key("max"), n.Max)
		w.add(key("std"), n.Std)
		w.add(key("skew"), n.Skew)
		w.add(key("kurtosis"), n.Kurtosis)
		w.add(key("p25"), n.P25)
		w.add(key("p50"), n.P50)
		w.add(key("p75"), n.P75)
	}

	if t := cs.Text; t != nil {
		w.add(key("min"), t.Min)
		w.add(key("max"), t.Max)
		w.add(key("min_length"), t.MinLength)
		w.add(key("mean_length"), t.MeanLength)
		w.add(key("max_length"), t.MaxLength)
	}

	if cs.Histogram != nil {
		w.add(key("histogram"), cs.Histogram)
	}
	if cs.TopK != nil {
		w.add(key("top_k"), cs.TopK)
	}
	return nil
}

// MarshalJSON renders both matrices in row-object form: each matrix is a
// list of rows shaped {"column": name, "<other>": value, ...}, with nulls
// for undefined cells.
func (c *Correlations) MarshalJSON() ([]byte, error) {
	pearson, err := matrixRows(c.Columns, c.Pearson)
	if err != nil {
		return nil, err
	}
	spearman, err := matrixRows(c.Columns, c.Spearman)
	if err != nil {
		return nil, err
	}

	var w wireObject
	w.add("pearson", pearson)
	w.add("spearman", spearman)
	return w.bytes()
}

func matrixRows(cols []string, m Matrix) ([]json.RawMessage, error) {
	rows := make([]json.RawMessage, 0, len(m))
	for i := range m {
		var w wireObject
		w.add("column", cols[i])
		for j, v := range m[i] {
			w.add(cols[j], v)
		}
		b, err := w.bytes()
		if err != nil {
			return nil, err
		}
		rows = append(rows, b)
	}
	return rows, nil
}

// MarshalJSON keeps meta keys stable and serializes the empty correlation
// method as null.
func (m Meta) MarshalJSON() ([]byte, error) {
	var w wireObject
	w.add("generated_at", m.GeneratedAt)
	w.add("engine_time", m.EngineTime.Seconds())
	warnings := m.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	w.add("warnings", warnings)
	if m.CorrelationMethod == "" {
		w.add("correlation_method", nil)
	} else {
		w.add("correlation_method", m.CorrelationMethod)
	}
	w.add("version", m.Version)
	w.add("run_id", m.RunID)
	return w.bytes()
}

// wireObject builds a JSON object with caller-controlled key order.
// encoding/json map output would sort keys; the wire contract wants schema
// order instead.
type wireObject struct {
	buf bytes.Buffer
	err error
	n   int
}

func (w *wireObject) add(key string, v any) {
	if w.err != nil {
		return
	}
	if w.n == 0 {
		w.buf.WriteByte('{')
	} else {
		w.buf.WriteByte(',')
	}
	w.n++

	kb, err := json.Marshal(key)
	if err != nil {
		w.err = err
		return
	}
	w.buf.Write(kb)
	w.buf.WriteByte(':')

	vb, err := json.Marshal(v)
	if err != nil {
		w.err = err
		return
	}
	w.buf.Write(vb)
}

func (w *wireObject) bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	if w.n == 0 {
		return []byte("{}"), nil
	}
	w.buf.WriteByte('}')
	return w.buf.Bytes(), nil
}
