package load

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"profiler/internal/frame"
	"profiler/internal/frame/memframe"
)

// JSON loads a dataset from either a JSON array of objects or a stream of
// newline-delimited objects; both shapes decode identically here.
//
// Column construction:
//   - The column set is the union of keys across all records, ordered by key
//     (object key order does not survive decoding). Absent keys are nulls.
//   - Object values make a nested column; its fields are the union of scalar
//     leaf keys seen across records.
//   - Array values make a sequence column.
//   - Scalars infer numeric/text/categorical the same way CSV cells do.
func JSON(r io.Reader, dataset string) (*memframe.Dataset, error) {
	records, err := decodeRecords(r)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("load: json has no records")
	}

	var keys []string
	seen := map[string]bool{}
	for _, rec := range records {
		for _, k := range orderedKeys(rec) {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}

	cols := make([]memframe.Column, 0, len(keys))
	for _, k := range keys {
		values := make([]any, len(records))
		for i, rec := range records {
			values[i] = normalizeJSON(rec[k])
		}
		cols = append(cols, memframe.Column{
			Def:    columnDef(NormalizeFieldName(k), values),
			Values: values,
		})
	}
	return memframe.NewDataset(dataset, cols)
}

// decodeRecords handles both top-level shapes. Numbers decode via
// json.Number so integers survive exactly.
func decodeRecords(r io.Reader) ([]map[string]any, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("load: read json: %w", err)
	}
	raw = bytes.TrimLeft(raw, " \t\r\n")
	if len(raw) == 0 {
		return nil, fmt.Errorf("load: json is empty")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	if raw[0] == '[' {
		var records []map[string]any
		if err := dec.Decode(&records); err != nil {
			return nil, fmt.Errorf("load: parse json array: %w", err)
		}
		return records, nil
	}

	// Concatenated / newline-delimited objects: Decode in a loop consumes
	// one value at a time until the stream ends.
	var records []map[string]any
	for {
		var rec map[string]any
		if err := dec.Decode(&rec); err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("load: parse json record %d: %w", len(records)+1, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// orderedKeys sorts one record's keys: decoding loses document order, so a
// deterministic order is the best available.
func orderedKeys(rec map[string]any) []string {
	out := make([]string, 0, len(rec))
	for k := range rec {
		out = append(out, k)
	}
	sortStrings(out)
	return out
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// normalizeJSON narrows decoded values to the memframe vocabulary.
func normalizeJSON(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, fv := range t {
			out[NormalizeFieldName(k)] = normalizeJSON(fv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, ev := range t {
			out[i] = normalizeJSON(ev)
		}
		return out
	default:
		return v
	}
}

// columnDef infers the frame.Column descriptor for one key from its
// (already normalized) values.
func columnDef(name string, values []any) frame.Column {
	var (
		sawObject, sawArray, sawString, sawNumber bool
		strs                                      []*string
		fields                                    = map[string]frame.Kind{}
		fieldOrder                                []string
	)

	for _, v := range values {
		switch t := v.(type) {
		case nil:
		case map[string]any:
			sawObject = true
			for fk, fv := range t {
				kind, ok := leafKind(fv)
				if !ok {
					continue
				}
				if _, dup := fields[fk]; !dup {
					fields[fk] = kind
					fieldOrder = append(fieldOrder, fk)
				}
			}
		case []any:
			sawArray = true
		case string:
			sawString = true
			s := t
			strs = append(strs, &s)
		case int64, float64, bool:
			sawNumber = true
		}
	}

	switch {
	case sawObject:
		sortStrings(fieldOrder)
		fs := make([]frame.Column, 0, len(fieldOrder))
		for _, fk := range fieldOrder {
			fs = append(fs, frame.Column{Name: fk, Kind: fields[fk]})
		}
		return frame.Column{Name: name, Kind: frame.KindNested, Fields: fs}

	case sawArray:
		return frame.Column{Name: name, Kind: frame.KindSequence}

	case sawNumber && !sawString:
		return frame.Column{Name: name, Kind: frame.KindNumeric}

	case sawString:
		return frame.Column{Name: name, Kind: stringKind(strs)}

	default:
		// All null. Profile it as text: null counting still works.
		return frame.Column{Name: name, Kind: frame.KindText}
	}
}

// stringKind distinguishes categorical from free text by distinct count.
func stringKind(values []*string) frame.Kind {
	distinct := map[string]struct{}{}
	for _, v := range values {
		if len(distinct) > categoricalMaxDistinct {
			break
		}
		distinct[*v] = struct{}{}
	}
	if len(distinct) <= categoricalMaxDistinct && len(values) >= 2*len(distinct) {
		return frame.KindCategorical
	}
	return frame.KindText
}

// leafKind maps a nested field value to a scalar kind. Deeper nesting and
// arrays inside records are not profiled.
func leafKind(v any) (frame.Kind, bool) {
	switch v.(type) {
	case int64, float64, bool, json.Number:
		return frame.KindNumeric, true
	case string:
		return frame.KindText, true
	default:
		return 0, false
	}
}
