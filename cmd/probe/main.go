// Command probe profiles the payload keys of a raw detection feed.
//
// It reads the first -sample records, parses every details payload and
// reports, per key, coverage, distinct values and a guessed class. By default
// it prints the suggested policy as JSON, ready for the "policy" section of a
// pipeline config.
//
// Output modes
//
//   - Default mode: prints the suggested policy JSON to stdout.
//   - -emit=pipeline: prints a complete pipeline config for cmd/clean, with
//     the suggested policy inlined.
//   - Report mode (-report): prints a key report to stdout and suppresses JSON
//     output.
//
// -full keeps reading after the sample and lists keys that first appear
// later. A cleaning run with the same sample size drops those keys.
//
// # Ledger DSN
//
// With -ledger set, the emitted pipeline gets a run ledger. -dsn is written
// into it verbatim; without it ledger.dsn stays empty and cmd/clean resolves
// the connection from LEDGER_DSN or the LEDGER_* variables at run time.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vehicleetl/internal/config"
	"vehicleetl/internal/probe"
)

func main() {
	var (
		// flagPath is a file, a directory of part files or a glob.
		flagPath = flag.String("path", "", "Raw feed: file, directory or glob")

		flagSample = flag.Int("sample", probe.DefaultSample, "Records to profile (the cleaning job's discovery sample)")
		flagFull   = flag.Bool("full", false, "Scan the whole input and list keys first seen after the sample")

		flagFormat    = flag.String("format", "csv", "Raw record format: csv|json")
		flagEncoding  = flag.String("encoding", "", "Input text encoding (utf-8, utf-16le, windows-1252, ...)")
		flagHasHeader = flag.Bool("has-header", false, "Every input file starts with a header record")
		flagComma     = flag.String("comma", ",", "CSV field delimiter")

		flagReport = flag.Bool("report", false, "Print the key report (suppresses JSON output)")
		flagEmit   = flag.String("emit", "policy", "JSON to print: policy|pipeline")
		flagPretty = flag.Bool("pretty", true, "Pretty-print JSON output")

		// Only used with -emit=pipeline.
		flagJob    = flag.String("job", "vehicles", "Job name for the emitted pipeline")
		flagOut    = flag.String("out", "out", "Output root for the emitted pipeline's sinks")
		flagLedger = flag.String("ledger", "", "Ledger kind for the emitted pipeline: sqlite|postgres|mssql (empty: none)")
		flagDSN    = flag.String("dsn", "", "Ledger DSN for the emitted pipeline (empty: resolved from LEDGER_* at run time)")
	)
	flag.Parse()

	if strings.TrimSpace(*flagPath) == "" {
		fmt.Fprintln(os.Stderr, "missing -path")
		flag.Usage()
		os.Exit(2)
	}
	emit := strings.ToLower(strings.TrimSpace(*flagEmit))
	if emit != "policy" && emit != "pipeline" {
		fmt.Fprintf(os.Stderr, "unknown -emit %q (want policy or pipeline)\n", *flagEmit)
		os.Exit(2)
	}

	format := strings.ToLower(strings.TrimSpace(*flagFormat))
	if format != "csv" && format != "json" {
		fmt.Fprintf(os.Stderr, "unknown -format %q (want csv or json)\n", *flagFormat)
		os.Exit(2)
	}

	parserOpts := config.Options{}
	if *flagHasHeader {
		parserOpts["has_header"] = true
	}
	if *flagComma != "" && *flagComma != "," {
		parserOpts["comma"] = *flagComma
	}
	if *flagEncoding != "" {
		parserOpts["encoding"] = *flagEncoding
	}

	// A full scan reads everything; only bound the sample-only run.
	ctx := context.Background()
	if !*flagFull {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 60*time.Second)
		defer cancel()
	}

	rep, err := probe.Run(ctx, probe.Options{
		Path:     *flagPath,
		Encoding: *flagEncoding,
		Format:   format,
		Parser:   parserOpts,
		Sample:   *flagSample,
		Full:     *flagFull,
	})
	if err != nil {
		log.Fatalf("probe: %v", err)
	}

	if *flagReport {
		fmt.Fprintln(os.Stdout, rep.Text())
		return
	}

	var out any = rep.Policy()
	if emit == "pipeline" {
		p, err := buildPipeline(rep, pipelineArgs{
			job:        *flagJob,
			path:       *flagPath,
			outRoot:    *flagOut,
			sample:     *flagSample,
			format:     format,
			parserOpts: parserOpts,
			ledger:     *flagLedger,
			flagDSN:    strings.TrimSpace(*flagDSN),
		})
		if err != nil {
			log.Fatalf("pipeline: %v", err)
		}
		out = p
	}

	enc := json.NewEncoder(os.Stdout)
	if *flagPretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(out); err != nil {
		log.Fatalf("encode: %v", err)
	}
}

type pipelineArgs struct {
	job, path, outRoot string
	sample             int
	format             string
	parserOpts         config.Options
	ledger, flagDSN    string
}

// buildPipeline wraps the suggested policy in a runnable config. The result
// must pass validation.
func buildPipeline(rep probe.Report, a pipelineArgs) (config.Pipeline, error) {
	pol := rep.Policy()
	parserKind := a.format
	if parserKind == "" {
		parserKind = "csv"
	}
	p := config.Pipeline{
		Job:       a.job,
		Source:    config.Source{Kind: "file", File: &config.FileSource{Path: a.path}},
		Parser:    config.Parser{Kind: parserKind, Options: a.parserOpts},
		Discovery: config.Discovery{SampleSize: a.sample},
		Policy:    &pol,
		Sinks: config.Sinks{
			Parquet: config.ParquetSink{Path: filepath.Join(a.outRoot, a.job, "parquet")},
			CSV:     config.CSVSink{Path: filepath.Join(a.outRoot, a.job, "csv")},
		},
	}

	if kind := strings.TrimSpace(a.ledger); kind != "" {
		p.Ledger = config.Ledger{Kind: config.NormalizeLedgerKind(kind), DSN: a.flagDSN}
	}

	if err := config.Check(p); err != nil {
		return p, err
	}
	return p, nil
}
