// Package csv reads raw detection records from CSV.
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"golang.org/x/sync/errgroup"

	"vehicleetl/internal/batch"
	"vehicleetl/internal/config"
	"vehicleetl/internal/transformer"
)

// RawColumns is the positional layout of a raw record.
var RawColumns = []string{batch.ColTimestamp, batch.ColFilename, "details"}

// StreamRawRows streams CSV into pooled *transformer.Row objects laid out as
// RawColumns (timestamp, filename, details).
//
// Options:
//   - has_header (default false): the first record names the columns.
//   - columns: source column names for timestamp, filename and details, in
//     that order. Only used with has_header.
//   - header_map: renames header cells before matching.
//   - comma (default ','), lazy_quotes (default true), trim_space (default false).
//
// Empty fields and fields past the end of a short record are missing.
// Unreadable records are reported through onErr and skipped.
//
// NOTE on cancellation:
// On ctx cancellation in-flight rows are dropped, not re-pooled.
func StreamRawRows(
	ctx context.Context,
	src io.ReadCloser,
	opt config.Options,
	out chan<- *transformer.Row,
	onErr func(line int, err error),
) error {
	defer src.Close()

	var line int

	hasHeader := opt.Bool("has_header", false)
	comma := opt.Rune("comma", ',')
	trim := opt.Bool("trim_space", false)
	hm := opt.StringMap("header_map")
	lazy := opt.Bool("lazy_quotes", true)

	names := opt.StringSlice("columns")
	if len(names) != len(RawColumns) {
		names = RawColumns
	}

	cr := csv.NewReader(src)
	cr.Comma = comma
	cr.ReuseRecord = true
	cr.LazyQuotes = lazy
	cr.FieldsPerRecord = -1

	colIx := make([]int, len(RawColumns))
	for i := range colIx {
		colIx[i] = i
	}

	readRec := func() ([]string, error) {
		line++
		return cr.Read()
	}

	if hasHeader {
		hdr, err := readRec()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if onErr != nil {
				onErr(line, fmt.Errorf("read header: %w", err))
			}
			return fmt.Errorf("csv: read header: %w", err)
		}
		srcToIdx := make(map[string]int, len(hdr))
		for i, h := range hdr {
			if transformer.HasEdgeSpace(h) {
				h = strings.TrimSpace(h)
			}
			if i == 0 {
				h = strings.TrimPrefix(h, "\uFEFF")
			}
			if mapped, ok := hm[h]; ok {
				h = mapped
			}
			srcToIdx[strings.ToLower(h)] = i
		}
		for t, name := range names {
			si, ok := srcToIdx[strings.ToLower(name)]
			if !ok {
				return fmt.Errorf("csv: header has no column %q", name)
			}
			colIx[t] = si
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := readRec()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if onErr != nil {
				onErr(line, fmt.Errorf("csv read: %w", err))
			}
			continue
		}

		row := transformer.GetRow(len(RawColumns))
		row.Line = line

		for t := range RawColumns {
			si := colIx[t]
			if si >= len(rec) {
				continue
			}
			v := rec[si]
			if trim && transformer.HasEdgeSpace(v) {
				v = strings.TrimSpace(v)
			}
			if v != "" {
				row.V[t] = batch.String(v)
			}
		}

		select {
		case out <- row:
		case <-ctx.Done():
			// IMPORTANT: do not re-pool on cancellation
			row.Drop()
			return ctx.Err()
		}
	}
}

// ReadRawRecords drains StreamRawRows into a slice, preserving input order.
func ReadRawRecords(
	ctx context.Context,
	src io.ReadCloser,
	opt config.Options,
	onErr func(line int, err error),
) ([]batch.RawRecord, error) {
	g, gctx := errgroup.WithContext(ctx)
	rows := make(chan *transformer.Row, 256)

	g.Go(func() error {
		defer close(rows)
		return StreamRawRows(gctx, src, opt, rows, onErr)
	})

	var out []batch.RawRecord
	g.Go(func() error {
		for r := range rows {
			out = append(out, r.Raw())
			r.Free()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
