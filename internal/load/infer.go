// Package load materializes files into in-memory datasets the profiler can
// scan: CSV, JSON (array or newline-delimited) and HTML tables.
//
// Loaders are deliberately forgiving about cell content (a profiler's whole
// job is dirty data) and strict about structure: a malformed document fails,
// a weird value just loads as text.
package load

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"profiler/internal/frame"
	"profiler/internal/frame/memframe"
)

// categoricalMaxDistinct is the distinct-value cap below which a repetitive
// string column loads as categorical rather than free text. Distinct tracking
// stops at the cap, so inference stays O(1) in memory per column.
const categoricalMaxDistinct = 32

// NormalizeFieldName rewrites a raw header into a stable column name:
// trimmed, lowercased, spaces as underscores, BOM stripped.
func NormalizeFieldName(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.TrimSpace(s)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, " ", "_")
}

// columnsFromStrings builds typed dataset columns from string-celled rows
// (CSV and HTML both land here). Each cells[i] is one row aligned with
// headers; nil cells are nulls.
//
// Kind inference per column:
//   - Every non-null cell parses as a number: numeric. Integral values load
//     as int64, the rest as float64.
//   - Otherwise, few distinct values across many rows: categorical.
//   - Otherwise: text.
func columnsFromStrings(headers []string, cells [][]*string) ([]memframe.Column, error) {
	for _, row := range cells {
		if len(row) != len(headers) {
			return nil, fmt.Errorf("load: row has %d cells, want %d", len(row), len(headers))
		}
	}

	out := make([]memframe.Column, len(headers))
	for i, h := range headers {
		name := NormalizeFieldName(h)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}

		var (
			numeric  = true
			nonNull  int
			distinct = map[string]struct{}{}
		)
		for _, row := range cells {
			v := row[i]
			if v == nil {
				continue
			}
			nonNull++
			if numeric {
				if _, err := strconv.ParseFloat(*v, 64); err != nil {
					numeric = false
				}
			}
			if len(distinct) <= categoricalMaxDistinct {
				distinct[*v] = struct{}{}
			}
		}

		kind := frame.KindText
		switch {
		case numeric && nonNull > 0:
			kind = frame.KindNumeric
		case len(distinct) <= categoricalMaxDistinct && nonNull >= 2*len(distinct) && nonNull > 0:
			kind = frame.KindCategorical
		}

		values := make([]any, len(cells))
		for r, row := range cells {
			v := row[i]
			if v == nil {
				continue
			}
			if kind == frame.KindNumeric {
				values[r] = parseNumber(*v)
			} else {
				values[r] = *v
			}
		}

		out[i] = memframe.Column{
			Def:    frame.Column{Name: name, Kind: kind},
			Values: values,
		}
	}
	return out, nil
}

// parseNumber keeps integers exact and falls back to float64. The caller has
// already proven the string parses.
func parseNumber(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// openFile is a test seam.
var openFile = func(path string) (io.ReadCloser, error) { return os.Open(path) }

// File loads a dataset from a path, dispatching on extension: .csv, .json,
// .ndjson, .jsonl, .html and .htm are recognized.
func File(path, dataset string) (*memframe.Dataset, error) {
	f, err := openFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return CSV(f, dataset, CSVOptions{})
	case ".json", ".ndjson", ".jsonl":
		return JSON(f, dataset)
	case ".html", ".htm":
		return HTML(f, dataset, HTMLOptions{})
	default:
		return nil, fmt.Errorf("load: unsupported file type %q", filepath.Ext(path))
	}
}
