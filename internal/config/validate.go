package config

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/apache/arrow/go/v17/parquet/compress"
)

// Severity classifies a validation Issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path is a JSON-ish pointer into the config.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// ErrInvalid is wrapped by Check when validation finds errors.
var ErrInvalid = errors.New("invalid pipeline config")

// Check returns an error wrapping ErrInvalid that lists every error issue,
// or nil when p has none.
func Check(p Pipeline) error {
	var msgs []string
	for _, iss := range ValidatePipeline(p) {
		if iss.Severity == SeverityError {
			msgs = append(msgs, iss.Path+": "+iss.Message)
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidatePipeline checks p and returns every issue found. Warnings do not
// block a run.
func ValidatePipeline(p Pipeline) []Issue {
	var out []Issue
	add := func(sev Severity, path, format string, a ...any) {
		out = append(out, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	if strings.TrimSpace(p.Job) == "" {
		add(SeverityWarning, "job", "job name is empty; metrics and ledger use %q", "clean_job")
	}

	switch p.Source.Kind {
	case "file":
		if p.Source.File == nil || strings.TrimSpace(p.Source.File.Path) == "" {
			add(SeverityError, "source.file.path", "required for source kind %q", "file")
		}
	case "":
		add(SeverityError, "source.kind", "required")
	default:
		add(SeverityError, "source.kind", "unsupported source kind %q", p.Source.Kind)
	}

	switch p.Parser.Kind {
	case "csv":
		if s, ok := p.Parser.Options.Any("comma").(string); ok && p.Parser.Options.Rune("comma", 0) == 0 {
			add(SeverityError, "parser.options.comma", "must be a single character, got %q", s)
		}
		checkRawColumns(p.Parser.Options, add)
	case "json":
		checkRawColumns(p.Parser.Options, add)
	case "":
		add(SeverityError, "parser.kind", "required")
	default:
		add(SeverityError, "parser.kind", "unsupported parser kind %q", p.Parser.Kind)
	}

	if p.Discovery.SampleSize < 0 {
		add(SeverityError, "discovery.sample_size", "must be >= 0, got %d", p.Discovery.SampleSize)
	}

	if p.Policy != nil {
		if err := p.Policy.Validate(); err != nil {
			add(SeverityError, "policy", "%v", err)
		}
		if len(p.Policy.Columns) == 0 {
			add(SeverityWarning, "policy.columns", "empty policy: every column passes through uncleaned")
		}
	}

	if strings.TrimSpace(p.Sinks.Parquet.Path) == "" {
		add(SeverityError, "sinks.parquet.path", "required")
	}
	if strings.TrimSpace(p.Sinks.CSV.Path) == "" {
		add(SeverityError, "sinks.csv.path", "required")
	}
	if p.Sinks.Parquet.Path != "" && p.Sinks.Parquet.Path == p.Sinks.CSV.Path {
		add(SeverityError, "sinks", "parquet and csv paths must differ")
	}
	if _, err := ParquetCodec(p.Sinks.Parquet.Compression); err != nil {
		add(SeverityError, "sinks.parquet.compression", "%v", err)
	}
	if c := p.Sinks.CSV.Comma; c != "" && utf8.RuneCountInString(c) != 1 {
		add(SeverityError, "sinks.csv.comma", "must be a single character, got %q", c)
	}

	switch p.Ledger.Kind {
	case "":
	case "sqlite", "postgres", "mssql":
		if strings.TrimSpace(p.Ledger.DSN) == "" {
			add(SeverityWarning, "ledger.dsn", "empty; resolved from %s or %s_* at run time", EnvLedgerDSN, "LEDGER")
		}
	default:
		add(SeverityError, "ledger.kind", "unsupported ledger kind %q", p.Ledger.Kind)
	}

	if p.Runtime.Partitions < 0 {
		add(SeverityError, "runtime.partitions", "must be >= 0, got %d", p.Runtime.Partitions)
	}
	if p.Runtime.Workers < 0 {
		add(SeverityError, "runtime.workers", "must be >= 0, got %d", p.Runtime.Workers)
	}

	return out
}

func checkRawColumns(o Options, add func(Severity, string, string, ...any)) {
	if cols := o.StringSlice("columns"); cols != nil && len(cols) != 3 {
		add(SeverityError, "parser.options.columns", "expected 3 column names (timestamp, filename, details), got %d", len(cols))
	}
}

// ParquetCodec maps a configured compression name to a parquet codec.
// The empty string selects snappy.
func ParquetCodec(name string) (compress.Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "snappy":
		return compress.Codecs.Snappy, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "none", "uncompressed":
		return compress.Codecs.Uncompressed, nil
	}
	return compress.Codecs.Uncompressed, fmt.Errorf("unknown compression %q", name)
}
