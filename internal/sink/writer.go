package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/parquet/compress"
	"golang.org/x/sync/errgroup"

	"vehicleetl/internal/batch"
	"vehicleetl/internal/config"
)

// SuccessMarker is written into a destination after it was swapped in.
const SuccessMarker = "_SUCCESS"

// Target is one output directory and its file format.
type Target struct {
	Name   string
	Path   string
	format format
}

// Parquet returns a Parquet target compressed with codec.
func Parquet(path string, codec compress.Compression) Target {
	return Target{Name: "parquet", Path: path, format: parquetFormat{codec: codec}}
}

// CSV returns a header-bearing CSV target. A zero comma selects ','.
// Missing cells are written as empty fields.
func CSV(path string, comma rune) Target {
	return CSVWithNull(path, comma, "")
}

// CSVWithNull is CSV with missing cells written as null, e.g. `\N`, so they
// stay distinct from empty strings.
func CSVWithNull(path string, comma rune, null string) Target {
	if comma == 0 {
		comma = ','
	}
	return Target{Name: "csv", Path: path, format: csvFormat{comma: comma, null: null}}
}

// Output describes one committed target.
type Output struct {
	Name  string
	Path  string
	Files []string // part file names, in order
}

// Logger matches *log.Logger.
type Logger interface {
	Printf(format string, v ...any)
}

// Writer writes the same batch to every target. Targets are staged first and
// a staging failure touches none of them. The swap into place then runs target
// by target and a _SUCCESS marker is written into each only after every swap
// succeeded; a failed swap can leave earlier targets replaced but unmarked.
type Writer struct {
	targets []Target
	mem     memory.Allocator
	logger  Logger
}

// Option configures a Writer.
type Option func(*Writer)

// WithAllocator sets the Arrow allocator used for records and encoders.
func WithAllocator(mem memory.Allocator) Option {
	return func(w *Writer) { w.mem = mem }
}

// WithLogger sets the logger. Nil discards.
func WithLogger(l Logger) Option {
	return func(w *Writer) { w.logger = l }
}

// New returns a writer for targets.
func New(targets []Target, opts ...Option) *Writer {
	w := &Writer{targets: targets, mem: memory.NewGoAllocator()}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = log.New(io.Discard, "", 0)
	}
	return w
}

// FromConfig builds the Parquet + CSV writer of a pipeline.
func FromConfig(cfg config.Sinks, opts ...Option) (*Writer, error) {
	codec, err := config.ParquetCodec(cfg.Parquet.Compression)
	if err != nil {
		return nil, err
	}
	var comma rune
	if cfg.CSV.Comma != "" {
		r, size := utf8.DecodeRuneInString(cfg.CSV.Comma)
		if size != len(cfg.CSV.Comma) {
			return nil, fmt.Errorf("sinks.csv.comma: must be a single character, got %q", cfg.CSV.Comma)
		}
		comma = r
	}
	if cfg.Parquet.Path == "" || cfg.CSV.Path == "" {
		return nil, errors.New("sinks: parquet and csv paths are required")
	}
	return New([]Target{
		Parquet(cfg.Parquet.Path, codec),
		CSVWithNull(cfg.CSV.Path, comma, cfg.CSV.NullValue),
	}, opts...), nil
}

// Write replaces every target with b. Part files are named part-NNNNN, one
// per non-empty partition; an empty batch still gets one empty part so the
// schema survives. On error no target is touched.
func (w *Writer) Write(ctx context.Context, b *batch.Batch) ([]Output, error) {
	schema := Schema(b)

	var recs []arrow.Record
	defer func() {
		for _, r := range recs {
			r.Release()
		}
	}()
	for _, part := range b.Partitions {
		if len(part) == 0 {
			continue
		}
		recs = append(recs, Record(w.mem, schema, part))
	}
	if len(recs) == 0 {
		recs = append(recs, Record(w.mem, schema, nil))
	}

	// Stage every target concurrently. Records are read-only from here on.
	staged := make([]string, len(w.targets))
	files := make([][]string, len(w.targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range w.targets {
		i, t := i, t
		g.Go(func() error {
			dir, names, err := w.stage(gctx, t, recs)
			staged[i], files[i] = dir, names
			if err != nil {
				return fmt.Errorf("sink %s: %w", t.Name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, dir := range staged {
			if dir != "" {
				_ = os.RemoveAll(dir)
			}
		}
		return nil, err
	}

	for i, t := range w.targets {
		if err := swap(staged[i], t.Path); err != nil {
			for _, dir := range staged[i+1:] {
				_ = os.RemoveAll(dir)
			}
			return nil, fmt.Errorf("sink %s: commit: %w", t.Name, err)
		}
	}

	out := make([]Output, 0, len(w.targets))
	for i, t := range w.targets {
		if err := os.WriteFile(filepath.Join(t.Path, SuccessMarker), nil, 0o644); err != nil {
			return nil, fmt.Errorf("sink %s: marker: %w", t.Name, err)
		}
		w.logger.Printf("sink: target=%s path=%s files=%d rows=%d", t.Name, t.Path, len(files[i]), b.Len())
		out = append(out, Output{Name: t.Name, Path: t.Path, Files: files[i]})
	}
	return out, nil
}

// stage writes recs into a fresh temp directory next to t.Path.
func (w *Writer) stage(ctx context.Context, t Target, recs []arrow.Record) (string, []string, error) {
	parent := filepath.Dir(filepath.Clean(t.Path))
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", nil, err
	}
	dir, err := os.MkdirTemp(parent, "."+filepath.Base(t.Path)+".staging-")
	if err != nil {
		return "", nil, err
	}
	if err := os.Chmod(dir, 0o755); err != nil {
		return dir, nil, err
	}

	names := make([]string, 0, len(recs))
	for i, rec := range recs {
		if err := ctx.Err(); err != nil {
			return dir, nil, err
		}
		name := fmt.Sprintf("part-%05d%s", i, t.format.ext())
		if err := writePart(filepath.Join(dir, name), t.format, rec, w.mem); err != nil {
			return dir, nil, fmt.Errorf("%s: %w", name, err)
		}
		names = append(names, name)
	}
	return dir, names, nil
}

func writePart(path string, f format, rec arrow.Record, mem memory.Allocator) error {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	encErr := f.encode(fh, rec, mem)
	// Some encoders close the file themselves.
	if err := fh.Close(); err != nil && !errors.Is(err, os.ErrClosed) && encErr == nil {
		encErr = err
	}
	return encErr
}

var rename = os.Rename

// swap replaces dest with the staged directory.
func swap(staged, dest string) error {
	if err := os.RemoveAll(dest); err != nil {
		_ = os.RemoveAll(staged)
		return err
	}
	if err := rename(staged, dest); err != nil {
		_ = os.RemoveAll(staged)
		return err
	}
	return nil
}
