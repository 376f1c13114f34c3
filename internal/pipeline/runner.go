// Package pipeline wires one cleaning job end to end:
// source -> clean.Engine -> sinks -> run ledger.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"vehicleetl/internal/batch"
	"vehicleetl/internal/clean"
	"vehicleetl/internal/config"
	"vehicleetl/internal/sink"
	"vehicleetl/internal/storage"
)

// Logger is satisfied by *log.Logger.
type Logger interface {
	Printf(format string, v ...any)
}

// Cleaner is the engine seam.
type Cleaner interface {
	Run(ctx context.Context, raws []batch.RawRecord) (*batch.Batch, clean.Summary, error)
}

// Writer is the sink seam.
type Writer interface {
	Write(ctx context.Context, b *batch.Batch) ([]sink.Output, error)
}

// Runner runs a pipeline. Every collaborator is a field so tests can swap
// it.
type Runner struct {
	Load       func(ctx context.Context, cfg config.Pipeline, logger Logger) ([]batch.RawRecord, LoadStats, error)
	NewEngine  func(opt clean.Options) Cleaner
	NewWriter  func(cfg config.Sinks, logger Logger) (Writer, error)
	OpenLedger func(ctx context.Context, cfg storage.Config) (storage.Ledger, error)
	Getenv     func(string) string
	Logger     Logger
}

// NewDefaultRunner returns a Runner backed by the real source, engine,
// sinks and ledger registry. Ledger backends must be linked by the caller
// (import vehicleetl/internal/storage/all).
func NewDefaultRunner(logger Logger) *Runner {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Runner{
		Load: LoadRecords,
		NewEngine: func(opt clean.Options) Cleaner {
			return clean.NewEngine(opt)
		},
		NewWriter: func(cfg config.Sinks, logger Logger) (Writer, error) {
			w, err := sink.FromConfig(cfg, sink.WithLogger(logger))
			if err != nil {
				return nil, err
			}
			return w, nil
		},
		OpenLedger: storage.Open,
		Getenv:     os.Getenv,
		Logger:     logger,
	}
}

// Result is what a successful run produced.
type Result struct {
	Load    LoadStats
	Summary clean.Summary
	Outputs []sink.Output
}

// Run executes cfg. Nothing is written when cleaning fails, and the ledger
// only records runs whose sinks committed.
func (r *Runner) Run(ctx context.Context, cfg config.Pipeline) (Result, error) {
	var res Result
	if err := config.Check(cfg); err != nil {
		return res, err
	}
	logger := r.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	// Ledger first so a bad DSN fails before any output is replaced.
	var ledger storage.Ledger
	if cfg.Ledger.Kind != "" {
		dsn, err := cfg.Ledger.ResolveDSN(r.Getenv)
		if err != nil {
			return res, fmt.Errorf("ledger: %w", err)
		}
		l, err := r.OpenLedger(ctx, storage.Config{Kind: cfg.Ledger.Kind, DSN: dsn})
		if err != nil {
			return res, fmt.Errorf("ledger: %w", err)
		}
		defer l.Close()
		if err := l.EnsureSchema(ctx); err != nil {
			return res, fmt.Errorf("ledger: %w", err)
		}
		ledger = l
	}

	writer, err := r.NewWriter(cfg.Sinks, logger)
	if err != nil {
		return res, fmt.Errorf("sink: %w", err)
	}

	raws, stats, err := r.Load(ctx, cfg, logger)
	res.Load = stats
	if err != nil {
		return res, fmt.Errorf("load source: %w", err)
	}

	engine := r.NewEngine(clean.Options{
		Policy:       cfg.EffectivePolicy(),
		SampleSize:   cfg.SampleSize(),
		Partitions:   cfg.Runtime.PartitionCount(),
		Workers:      cfg.Runtime.WorkerCount(),
		Logger:       logger,
		DebugTimings: cfg.Runtime.DebugTimings,
	})
	b, sum, err := engine.Run(ctx, raws)
	res.Summary = sum
	if err != nil {
		return res, fmt.Errorf("clean: %w", err)
	}

	outs, err := writer.Write(ctx, b)
	if err != nil {
		return res, fmt.Errorf("sink: %w", err)
	}
	res.Outputs = outs

	if ledger != nil {
		if err := ledger.RecordRun(ctx, runSummary(cfg, sum)); err != nil {
			return res, fmt.Errorf("ledger: %w", err)
		}
	}

	logger.Printf("clean: run=%s job=%s rows=%d duplicates=%d malformed_payloads=%d duration=%s",
		sum.RunID, cfg.Job, sum.OutputRows, sum.Duplicates, sum.MalformedPayloads, sum.Duration)
	return res, nil
}

// runSummary converts an engine summary into a ledger row.
func runSummary(cfg config.Pipeline, s clean.Summary) storage.RunSummary {
	failures := 0
	for _, n := range s.CoercionFailures {
		failures += n
	}
	out := storage.RunSummary{
		RunID:             s.RunID,
		Job:               cfg.Job,
		Started:           s.Started,
		Duration:          s.Duration,
		RawRecords:        s.RawRecords,
		MalformedPayloads: s.MalformedPayloads,
		CoercionFailures:  failures,
		Duplicates:        s.Duplicates,
		OutputRows:        s.OutputRows,
		Columns:           s.Columns,
		ParquetPath:       cfg.Sinks.Parquet.Path,
		CSVPath:           cfg.Sinks.CSV.Path,
	}
	for _, f := range s.Fills {
		out.Fills = append(out.Fills, storage.FillRecord{
			Column:   f.Column,
			Class:    string(f.Class),
			Value:    f.Fill.Text(),
			Filled:   f.Filled,
			Fallback: f.Fallback,
		})
	}
	return out
}
