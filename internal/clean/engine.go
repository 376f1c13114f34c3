// Package clean turns raw detection records into a typed, imputed and
// deduplicated batch.
//
// Stages run in order over a partitioned batch:
//
//	parse -> discover -> project -> coerce -> impute -> dedup
//
// Each stage fans out over partitions and ends at a barrier. Discovery,
// the imputation statistics and the dedup shuffle need the whole batch.
package clean

import (
	"context"
	"fmt"
	"io"
	"log"
	"runtime"
	"time"

	"github.com/google/uuid"

	"vehicleetl/internal/batch"
	"vehicleetl/internal/metrics"
	"vehicleetl/internal/schema"
)

// Logger is the minimal logging interface used by the engine.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Options configure an Engine. Zero values select defaults.
type Options struct {
	Policy     schema.Policy
	SampleSize int // payloads inspected by key discovery (default 1000)
	Partitions int // default 8
	Workers    int // default GOMAXPROCS

	Logger Logger
	// DebugTimings logs the duration of every stage.
	DebugTimings bool
}

// Summary describes one engine run.
type Summary struct {
	RunID    string
	Started  time.Time
	Duration time.Duration

	RawRecords        int
	MalformedPayloads int
	CoercionFailures  map[string]int

	Columns    []string
	Fills      []FillStat
	Duplicates int
	OutputRows int
}

// Engine runs the cleaning stages.
type Engine struct {
	opt Options
}

// NewEngine returns an engine with defaults applied to opt.
func NewEngine(opt Options) *Engine {
	if opt.SampleSize <= 0 {
		opt.SampleSize = DefaultSampleSize
	}
	if opt.Partitions <= 0 {
		opt.Partitions = 8
	}
	if opt.Workers <= 0 {
		opt.Workers = runtime.GOMAXPROCS(0)
	}
	return &Engine{opt: opt}
}

func (e *Engine) logger() func(format string, v ...any) {
	if e.opt.Logger == nil {
		return log.New(io.Discard, "", 0).Printf
	}
	return e.opt.Logger.Printf
}

// step times fn and records it as a stage metric.
func (e *Engine) step(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	status := "ok"
	if err != nil {
		status = "error"
	}
	d := time.Since(start)
	metrics.RecordStep(name, status, d)
	if e.opt.DebugTimings {
		e.logger()("clean: stage=%s status=%s duration=%s", name, status, d.Truncate(time.Microsecond))
	}
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Run cleans raws. On error no partial batch is returned.
func (e *Engine) Run(ctx context.Context, raws []batch.RawRecord) (*batch.Batch, Summary, error) {
	logf := e.logger()
	sum := Summary{RunID: uuid.NewString(), Started: time.Now(), RawRecords: len(raws)}
	workers := e.opt.Workers

	var (
		parsed [][]Parsed
		keys   []string
		b      *batch.Batch
	)

	err := e.step("parse", func() error {
		var st ParseStats
		var err error
		parsed, st, err = parsePartitions(ctx, batch.Split(raws, e.opt.Partitions), workers)
		sum.MalformedPayloads = st.Malformed
		return err
	})
	if err != nil {
		return nil, sum, err
	}
	metrics.RecordRows(metrics.KindRaw, sum.RawRecords)
	metrics.RecordRows(metrics.KindMalformedPayload, sum.MalformedPayloads)

	if err := e.step("discover", func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		keys = Discover(sampleMaps(parsed, e.opt.SampleSize), e.opt.SampleSize)
		return nil
	}); err != nil {
		return nil, sum, err
	}
	logf("clean: run=%s records=%d malformed_payloads=%d keys=%d", sum.RunID, sum.RawRecords, sum.MalformedPayloads, len(keys))

	if err := e.step("project", func() error {
		var err error
		b, err = project(ctx, parsed, keys, workers)
		return err
	}); err != nil {
		return nil, sum, err
	}
	parsed = nil

	if err := e.step("coerce", func() error {
		var st CoerceStats
		var err error
		b, st, err = coerce(ctx, b, e.opt.Policy, workers)
		sum.CoercionFailures = st.Failures
		for _, col := range st.Columns() {
			logf("clean: coercion failures column=%s count=%d", col, st.Failures[col])
		}
		metrics.RecordRows(metrics.KindCoercionFailure, st.Total())
		return err
	}); err != nil {
		return nil, sum, err
	}

	if err := e.step("impute", func() error {
		var err error
		b, sum.Fills, err = impute(ctx, b, e.opt.Policy, workers)
		for _, f := range sum.Fills {
			metrics.RecordRows(metrics.KindFilled, f.Filled)
			if f.Filled > 0 {
				logf("clean: fill column=%s class=%s value=%q filled=%d fallback=%t", f.Column, f.Class, f.Fill.Text(), f.Filled, f.Fallback)
			}
		}
		return err
	}); err != nil {
		return nil, sum, err
	}

	if err := e.step("dedup", func() error {
		var err error
		b, sum.Duplicates, err = dedup(ctx, b, workers)
		return err
	}); err != nil {
		return nil, sum, err
	}
	metrics.RecordRows(metrics.KindDuplicate, sum.Duplicates)
	logf("clean: duplicates removed=%d", sum.Duplicates)

	sum.Columns = append([]string(nil), b.Columns...)
	sum.OutputRows = b.Len()
	sum.Duration = time.Since(sum.Started)
	metrics.RecordRows(metrics.KindOutput, sum.OutputRows)
	metrics.RecordBatch()

	return b, sum, nil
}
