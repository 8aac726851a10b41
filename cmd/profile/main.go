package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"profiler/internal/frame"
	"profiler/internal/load"
	"profiler/internal/metrics"
	"profiler/internal/metrics/datadog"
	"profiler/internal/profile"

	// register all engine backends with the frame registry.
	_ "profiler/internal/frame/all"
)

// main profiles one table and writes the report JSON to stdout.
//
// Two source shapes:
//   - file mode:   -file data.csv (also .json/.ndjson/.html)
//   - engine mode: -engine sqlite|postgres|mssql -dsn ... -table orders
func main() {
	var (
		filePath   string
		engineKind string
		dsn        string
		table      string

		bins            int
		topK            int
		sampleThreshold int

		metricsBackend string
		metricsJob     string
	)

	flag.StringVar(&filePath, "file", "", "profile a file (csv, json, ndjson, html)")
	flag.StringVar(&engineKind, "engine", "", "engine backend (sqlite, postgres, mssql)")
	flag.StringVar(&dsn, "dsn", "", "engine connection string")
	flag.StringVar(&table, "table", "", "table name to profile (engine mode)")
	flag.IntVar(&bins, "bins", 20, "histogram bin count")
	flag.IntVar(&topK, "k", 10, "frequent-value list length")
	flag.IntVar(&sampleThreshold, "sample-threshold", 100_000, "row count above which correlation samples")
	flag.StringVar(&metricsBackend, "metrics-backend", "none", "metrics backend (datadog, none)")
	flag.StringVar(&metricsJob, "metrics-job", "profiler", "job tag for metrics")
	verbose := flag.Bool("v", false, "enable stage logs")

	flag.Parse()

	if (filePath == "") == (engineKind == "") {
		fatalf("exactly one of -file or -engine is required")
	}

	ctx := context.Background()

	var backend metrics.Backend = metrics.Nop{}
	switch metricsBackend {
	case "datadog":
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName: metricsJob,
			Tags:    datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS")),
		})
		if err != nil {
			log.Printf("metrics: datadog init: %v; metrics disabled", err)
		} else {
			backend = b
			// Close stops the flush loop and performs the final flush.
			defer func() {
				if err := b.Close(); err != nil {
					log.Printf("metrics: datadog close: %v", err)
				}
			}()
		}
	case "", "none":
	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", metricsBackend)
	}

	tbl, err := openTable(ctx, filePath, engineKind, dsn, table)
	if err != nil {
		fatalf("%v", err)
	}

	opts := profile.Options{
		Bins:            bins,
		TopK:            topK,
		SampleThreshold: sampleThreshold,
		Metrics:         backend,
	}
	if *verbose {
		opts.Logger = log.New(os.Stderr, "", log.LstdFlags)
	}

	start := time.Now()
	rec, err := profile.Table(ctx, tbl, opts)
	if err != nil {
		fatalf("%v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		fatalf("encode report: %v", err)
	}

	if *verbose {
		log.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}
}

// openTable resolves either source shape into a frame.Table handle.
func openTable(ctx context.Context, filePath, engineKind, dsn, table string) (frame.Table, error) {
	if filePath != "" {
		ds, err := load.File(filePath, "dataset")
		if err != nil {
			return nil, err
		}
		return ds, nil
	}

	eng, err := frame.Open(ctx, frame.Config{Kind: engineKind, DSN: dsn})
	if err != nil {
		return nil, err
	}
	if table == "" {
		return nil, fmt.Errorf("-table is required in engine mode")
	}
	return eng.Scan(ctx, table)
}

func fatalf(format string, a ...any) {
	log.SetFlags(0)
	log.Fatalf(format, a...)
}
