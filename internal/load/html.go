package load

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"profiler/internal/frame/memframe"
)

// HTMLOptions select which table of a document to load.
type HTMLOptions struct {
	// Selector narrows the table search (e.g. "#results table"). Empty means
	// "table".
	Selector string

	// Index picks among multiple matches, 0-based.
	Index int
}

// HTML loads a dataset from an HTML table.
//
// Header resolution:
//   - thead th cells when a thead exists;
//   - otherwise the th cells of the first row;
//   - otherwise the first row's td cells.
//
// Body rows are the remaining tr elements; cell text is trimmed and empty
// cells load as nulls. Short rows pad with nulls, long rows truncate to the
// header width: real-world HTML tables are rarely rectangular.
func HTML(r io.Reader, dataset string, opts HTMLOptions) (*memframe.Dataset, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("load: parse html: %w", err)
	}

	selector := opts.Selector
	if selector == "" {
		selector = "table"
	}
	tables := doc.Find(selector)
	if tables.Length() <= opts.Index {
		return nil, fmt.Errorf("load: selector %q matched %d tables, want index %d",
			selector, tables.Length(), opts.Index)
	}
	table := tables.Eq(opts.Index)

	var (
		headers    []string
		skipFirst  bool
		headerRows = table.Find("thead th")
	)
	if headerRows.Length() > 0 {
		headerRows.Each(func(_ int, s *goquery.Selection) {
			headers = append(headers, strings.TrimSpace(s.Text()))
		})
	} else {
		first := table.Find("tr").First()
		cells := first.Find("th")
		if cells.Length() == 0 {
			cells = first.Find("td")
		}
		cells.Each(func(_ int, s *goquery.Selection) {
			headers = append(headers, strings.TrimSpace(s.Text()))
		})
		skipFirst = true
	}
	if len(headers) == 0 {
		return nil, fmt.Errorf("load: html table has no header")
	}

	var cells [][]*string
	table.Find("tr").Each(func(i int, tr *goquery.Selection) {
		if skipFirst && i == 0 {
			return
		}
		tds := tr.Find("td")
		if tds.Length() == 0 {
			return // header-only row inside tbody
		}
		row := make([]*string, len(headers))
		tds.Each(func(j int, td *goquery.Selection) {
			if j >= len(headers) {
				return
			}
			v := strings.TrimSpace(td.Text())
			if v == "" {
				return
			}
			row[j] = &v
		})
		cells = append(cells, row)
	})

	cols, err := columnsFromStrings(headers, cells)
	if err != nil {
		return nil, err
	}
	return memframe.NewDataset(dataset, cols)
}
