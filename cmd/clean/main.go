// Command clean runs one vehicle detection cleaning job.
//
// It loads a pipeline config, validates it, optionally wires a metrics
// backend, then reads the raw feed, cleans it and replaces the Parquet and
// CSV outputs. Runs are recorded in the configured ledger.
//
// Environment is read from -env (default .env) before anything else. The file
// is optional; variables already set in the process win. Useful variables:
//
//	METRICS_BACKEND   none|datadog|pushgateway (when -metrics-backend is empty)
//	PUSHGATEWAY_URL   Pushgateway base URL
//	METRICS_TAGS      extra Datadog tags, comma separated
//	LEDGER_DSN        used when ledger.dsn is empty; ${VAR} references in
//	                  ledger.dsn are expanded
//	LEDGER_HOST ...   component settings, see config.Ledger.ResolveDSN
//
// Exit codes: 0 success, 1 config or run failure, 2 usage error.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"vehicleetl/internal/config"
	"vehicleetl/internal/pipeline"
	"vehicleetl/internal/storage"

	// register all ledger backends; the config picks one.
	_ "vehicleetl/internal/storage/all"
)

// runner is the pipeline seam.
type runner interface {
	Run(ctx context.Context, cfg config.Pipeline) (pipeline.Result, error)
}

// appDeps holds every side effect runMain performs, so tests can replace them.
type appDeps struct {
	loadEnv     func(path string) error
	readFile    func(string) ([]byte, error)
	initMetrics func(ctx context.Context, jobName, backendName, gatewayURL string) (func(), error)
	newRunner   func(logger *log.Logger) runner
	listRuns    func(ctx context.Context, cfg config.Pipeline, n int) ([]storage.RunSummary, error)
}

func defaultDeps() appDeps {
	return appDeps{
		loadEnv:     loadDotEnv,
		readFile:    os.ReadFile,
		initMetrics: initMetrics,
		newRunner: func(logger *log.Logger) runner {
			return pipeline.NewDefaultRunner(logger)
		},
		listRuns: listRecentRuns,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// runMain is main without the process exit.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fsFlags := flag.NewFlagSet("clean", flag.ContinueOnError)
	fsFlags.SetOutput(stderr)

	var (
		cfgPath        = fsFlags.String("config", "configs/pipelines/vehicles.json", "pipeline config JSON path")
		envPath        = fsFlags.String("env", ".env", "dotenv file to load first (optional)")
		metricsBackend = fsFlags.String("metrics-backend", "", "metrics backend: none|datadog|pushgateway (default env METRICS_BACKEND, else none)")
		pushGatewayURL = fsFlags.String("pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
		validate       = fsFlags.Bool("validate", false, "validate the configuration and exit")
		runs           = fsFlags.Int("runs", 0, "print the N most recent ledger runs of the job and exit")
		verbose        = fsFlags.Bool("v", false, "verbose logs and per-stage timings")
	)
	if err := fsFlags.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*cfgPath) == "" {
		fmt.Fprintln(stderr, "usage: clean -config path/to/pipeline.json")
		return 2
	}

	if err := deps.loadEnv(*envPath); err != nil {
		fmt.Fprintf(stderr, "load env: %v\n", err)
		return 1
	}

	raw, err := deps.readFile(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "read config: %v\n", err)
		return 1
	}
	p, err := config.Decode(bytes.NewReader(raw))
	if err != nil {
		fmt.Fprintf(stderr, "parse config: %v\n", err)
		return 1
	}

	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		fmt.Fprintf(stderr, "configuration is invalid: %s\n", *cfgPath)
		return 1
	}
	if *validate {
		fmt.Fprintf(stdout, "configuration is valid: %s\n", *cfgPath)
		return 0
	}

	if *runs > 0 {
		list, err := deps.listRuns(ctx, p, *runs)
		if err != nil {
			fmt.Fprintf(stderr, "runs: %v\n", err)
			return 1
		}
		printRuns(stdout, list)
		return 0
	}

	jobName := p.Job
	if jobName == "" {
		jobName = "clean_job"
	}
	backendName := *metricsBackend
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	gwURL := *pushGatewayURL
	if gwURL == "" {
		gwURL = os.Getenv("PUSHGATEWAY_URL")
	}
	cleanup, err := deps.initMetrics(ctx, jobName, backendName, gwURL)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	logger := log.New(stderr, "", log.LstdFlags)
	if *verbose {
		p.Runtime.DebugTimings = true
		logger.Printf("pipeline: job=%s source=%s path=%s ledger=%q partitions=%d workers=%d",
			jobName, p.Source.Kind, p.Source.File.Path, p.Ledger.Kind,
			p.Runtime.PartitionCount(), p.Runtime.WorkerCount())
	}

	start := time.Now()
	res, err := deps.newRunner(logger).Run(ctx, p)
	if err != nil {
		fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	}
	if *verbose {
		logger.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}
	fmt.Fprintf(stdout, "ok run=%s rows=%d\n", res.Summary.RunID, res.Summary.OutputRows)
	return 0
}

// loadDotEnv loads path into the environment. A missing file is not an error.
func loadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// listRecentRuns opens the configured ledger and lists the job's runs.
func listRecentRuns(ctx context.Context, p config.Pipeline, n int) ([]storage.RunSummary, error) {
	if p.Ledger.Kind == "" {
		return nil, errors.New("no ledger configured")
	}
	dsn, err := p.Ledger.ResolveDSN(os.Getenv)
	if err != nil {
		return nil, err
	}
	l, err := storage.Open(ctx, storage.Config{Kind: p.Ledger.Kind, DSN: dsn})
	if err != nil {
		return nil, err
	}
	defer l.Close()
	if err := l.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	lister, ok := l.(storage.RunLister)
	if !ok {
		return nil, fmt.Errorf("ledger kind=%s cannot list runs", p.Ledger.Kind)
	}
	return lister.RecentRuns(ctx, p.Job, n)
}

func printRuns(w io.Writer, runs []storage.RunSummary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tDURATION\tRAW\tMALFORMED\tDUPLICATES\tROWS")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			r.RunID, r.Started.UTC().Format(time.RFC3339), r.Duration.Truncate(time.Millisecond),
			r.RawRecords, r.MalformedPayloads, r.Duplicates, r.OutputRows)
	}
	tw.Flush()
}
