package load

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"profiler/internal/frame/memframe"
)

// CSVOptions tune CSV parsing. The zero value handles the common case:
// comma-separated, header row present, edge whitespace trimmed.
type CSVOptions struct {
	// Comma is the field separator. Zero means ','.
	Comma rune

	// NoHeader treats the first row as data; columns are then named
	// "column_1", "column_2", ...
	NoHeader bool

	// LazyQuotes is passed through to encoding/csv for files with sloppy
	// quoting.
	LazyQuotes bool
}

// CSV loads a dataset from CSV.
//
// Behavior:
//   - Empty cells load as nulls.
//   - Header names are normalized (see NormalizeFieldName); a UTF-8 BOM on
//     the first header is stripped.
//   - Input that is not valid UTF-8 is re-decoded as Latin-1 rather than
//     rejected; exported CSVs from legacy systems are routinely Latin-1.
//   - Rows may be ragged; short rows pad with nulls, long rows error.
func CSV(r io.Reader, dataset string, opts CSVOptions) (*memframe.Dataset, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("load: read csv: %w", err)
	}
	if !utf8.Valid(raw) {
		raw, err = charmap.ISO8859_1.NewDecoder().Bytes(raw)
		if err != nil {
			return nil, fmt.Errorf("load: decode latin-1 csv: %w", err)
		}
	}

	cr := csv.NewReader(bytes.NewReader(raw))
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}
	cr.LazyQuotes = opts.LazyQuotes
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("load: parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("load: csv is empty")
	}

	var headers []string
	if opts.NoHeader {
		headers = make([]string, len(records[0]))
		for i := range headers {
			headers[i] = fmt.Sprintf("column_%d", i+1)
		}
	} else {
		headers = records[0]
		records = records[1:]
	}

	cells := make([][]*string, 0, len(records))
	for n, rec := range records {
		if len(rec) > len(headers) {
			return nil, fmt.Errorf("load: csv row %d has %d cells, want at most %d",
				n+1, len(rec), len(headers))
		}
		row := make([]*string, len(headers))
		for i, v := range rec {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			row[i] = &v
		}
		cells = append(cells, row)
	}

	cols, err := columnsFromStrings(headers, cells)
	if err != nil {
		return nil, err
	}
	return memframe.NewDataset(dataset, cols)
}
