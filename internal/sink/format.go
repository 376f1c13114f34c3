package sink

import (
	"fmt"
	"os"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/csv"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/parquet"
	"github.com/apache/arrow/go/v17/parquet/compress"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"
)

// format encodes one record into one part file.
type format interface {
	ext() string
	encode(f *os.File, rec arrow.Record, mem memory.Allocator) error
}

type parquetFormat struct {
	codec compress.Compression
}

func (parquetFormat) ext() string { return ".parquet" }

func (p parquetFormat) encode(f *os.File, rec arrow.Record, mem memory.Allocator) error {
	props := parquet.NewWriterProperties(
		parquet.WithCompression(p.codec),
		parquet.WithAllocator(mem),
	)
	arrProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithStoreSchema(),
		pqarrow.WithAllocator(mem),
	)
	fw, err := pqarrow.NewFileWriter(rec.Schema(), f, props, arrProps)
	if err != nil {
		return fmt.Errorf("parquet writer: %w", err)
	}
	if err := fw.Write(rec); err != nil {
		_ = fw.Close()
		return fmt.Errorf("parquet write: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("parquet close: %w", err)
	}
	return nil
}

// csvFormat writes missing cells as null. With the default empty null a
// missing string and a present empty string render alike; Parquet keeps them
// apart.
type csvFormat struct {
	comma rune
	null  string
}

func (csvFormat) ext() string { return ".csv" }

func (c csvFormat) encode(f *os.File, rec arrow.Record, _ memory.Allocator) error {
	w := csv.NewWriter(f, rec.Schema(),
		csv.WithComma(c.comma),
		csv.WithHeader(true),
		csv.WithNullWriter(c.null),
	)
	if err := w.Write(rec); err != nil {
		return fmt.Errorf("csv write: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("csv flush: %w", err)
	}
	return nil
}
