package pipeline

import (
	"context"
	"fmt"
	"io"

	"vehicleetl/internal/batch"
	"vehicleetl/internal/config"
	"vehicleetl/internal/datasource/file"
	csvparser "vehicleetl/internal/parser/csv"
	jsonparser "vehicleetl/internal/parser/json"
)

type rawReader func(ctx context.Context, src io.ReadCloser, opt config.Options, onErr func(int, error)) ([]batch.RawRecord, error)

// readerFor picks the raw record reader for a parser kind.
func readerFor(kind string) (rawReader, error) {
	switch kind {
	case "csv":
		return csvparser.ReadRawRecords, nil
	case "json":
		return jsonparser.ReadRawRecords, nil
	}
	return nil, fmt.Errorf("unsupported parser kind %q", kind)
}

// LoadStats counts what the source reader saw.
type LoadStats struct {
	Files    int
	Records  int
	BadLines int // unreadable records, skipped
}

// LoadRecords reads every raw record of the configured file source, file by
// file in name order. With has_header each CSV file carries its own header.
// Unreadable CSV lines are logged and skipped; a JSON syntax error fails the
// file.
func LoadRecords(ctx context.Context, cfg config.Pipeline, logger Logger) ([]batch.RawRecord, LoadStats, error) {
	var st LoadStats
	if cfg.Source.File == nil {
		return nil, st, fmt.Errorf("source.file is required")
	}
	read, err := readerFor(cfg.Parser.Kind)
	if err != nil {
		return nil, st, err
	}
	opts := cfg.Parser.Options
	src := file.NewLocal(cfg.Source.File.Path).WithEncoding(opts.String("encoding", ""))

	names, err := src.Files()
	if err != nil {
		return nil, st, err
	}

	var out []batch.RawRecord
	for _, name := range names {
		rc, err := src.OpenFile(ctx, name)
		if err != nil {
			return nil, st, err
		}
		onErr := func(line int, err error) {
			st.BadLines++
			logger.Printf("source: skip file=%s line=%d err=%v", name, line, err)
		}
		recs, err := read(ctx, rc, opts, onErr)
		if err != nil {
			return nil, st, fmt.Errorf("%s: %w", name, err)
		}
		st.Files++
		st.Records += len(recs)
		out = append(out, recs...)
	}
	logger.Printf("source: path=%s files=%d records=%d bad_lines=%d",
		cfg.Source.File.Path, st.Files, st.Records, st.BadLines)
	return out, st, nil
}
