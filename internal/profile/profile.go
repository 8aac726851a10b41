// Package profile orchestrates a profiling session: it flattens the source
// schema, builds the per-pass plans, runs them in order against a
// frame.Table and assembles the result record.
//
// Pass order and failure policy:
//
//	scalar -> histogram -> top-k -> correlation -> diagnostics
//
// The scalar pass is the skeleton of the record; its failure aborts the run.
// Every later pass enriches an existing record, so a failure there degrades
// the output (and is recorded in _meta.warnings) instead of aborting.
package profile

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"profiler/internal/diagnose"
	"profiler/internal/frame"
	"profiler/internal/metrics"
	"profiler/internal/report"
)

// Logger is the minimal logging seam; *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Test seams.
var (
	now      = time.Now
	newRunID = uuid.NewString
)

// Options tune one profiling session. The zero value is usable: every field
// has a default.
type Options struct {
	// Bins is the histogram bin count. Default 20.
	Bins int

	// TopK is the frequent-value list length. Default 10.
	TopK int

	// SampleThreshold is the row count above which correlation samples.
	// Default correlate.DefaultThreshold.
	SampleThreshold int

	// Diagnostics overrides the stock rule thresholds. Nil means defaults.
	Diagnostics *diagnose.Config

	// Logger receives stage progress. Nil disables logging.
	Logger Logger

	// Metrics receives run counters and stage timings. Nil means metrics.Nop.
	Metrics metrics.Backend

	// Rand drives correlation sampling. Nil means a time-seeded source.
	Rand *rand.Rand
}

func (o Options) withDefaults() Options {
	if o.Bins <= 0 {
		o.Bins = 20
	}
	if o.TopK <= 0 {
		o.TopK = 10
	}
	if o.Logger == nil {
		o.Logger = nopLogger{}
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Nop{}
	}
	return o
}

// Table profiles one table end to end and returns the finished record.
//
// Errors:
//   - Schema resolution and scalar-pass failures return an error and no
//     record.
//   - Histogram, top-k, correlation and diagnostics failures degrade the
//     record and surface in Meta.Warnings instead.
func Table(ctx context.Context, tbl frame.Table, opts Options) (*report.Record, error) {
	opts = opts.withDefaults()
	start := now()

	x := &executor{tbl: tbl, opts: opts}

	if err := x.prepare(ctx); err != nil {
		return nil, err
	}

	stages := []struct {
		name  string
		run   func(context.Context) error
		fatal bool
	}{
		{"scalar", x.runScalar, true},
		{"histogram", x.runHistograms, false},
		{"topk", x.runTopK, false},
		{"correlation", x.runCorrelation, false},
		{"diagnostics", x.runDiagnostics, false},
	}

	for _, st := range stages {
		began := now()
		err := st.run(ctx)
		dur := now().Sub(began)

		status := "ok"
		if err != nil {
			status = "failed"
		}
		opts.Metrics.ObserveHistogram(metrics.StageDurationSeconds, dur.Seconds(),
			metrics.Labels{"stage": st.name, "status": status})

		if err == nil {
			opts.Logger.Printf("stage=%s ok duration=%s", st.name, dur)
			continue
		}
		if st.fatal {
			opts.Metrics.IncCounter(metrics.RunsTotal, 1, metrics.Labels{"status": "error"})
			return nil, fmt.Errorf("profile: %w", err)
		}
		// Cancellation is not a degraded result; stop the run.
		if ctx.Err() != nil {
			return nil, fmt.Errorf("profile: stage %s: %w", st.name, ctx.Err())
		}
		x.warn("stage %s: %v", st.name, err)
	}

	finished := now()
	x.rec.Meta = report.Meta{
		GeneratedAt:       finished.UTC(),
		EngineTime:        finished.Sub(start),
		Warnings:          x.warnings,
		CorrelationMethod: x.corrMethod,
		Version:           report.Version,
		RunID:             newRunID(),
	}

	opts.Metrics.IncCounter(metrics.RunsTotal, 1, metrics.Labels{"status": "ok"})
	opts.Metrics.IncCounter(metrics.RowsTotal, float64(x.rec.RowCount), nil)
	for _, a := range x.rec.Alerts {
		opts.Metrics.IncCounter(metrics.AlertsTotal, 1,
			metrics.Labels{"severity": string(a.Severity)})
	}

	return x.rec, nil
}
