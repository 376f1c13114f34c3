// Package sink writes a cleaned batch to its Parquet and CSV destinations.
//
// Every destination is a directory of part files. A write stages the new
// directory next to the old one and swaps it in only after every destination
// has been staged, so readers never see a partial overwrite.
package sink

import (
	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"vehicleetl/internal/batch"
)

// Schema returns the Arrow schema of b. Every field is nullable.
func Schema(b *batch.Batch) *arrow.Schema {
	fields := make([]arrow.Field, len(b.Columns))
	for i, name := range b.Columns {
		kind := batch.KindString
		if i < len(b.Types) {
			kind = b.Types[i]
		}
		fields[i] = arrow.Field{Name: name, Type: arrowType(kind), Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

func arrowType(k batch.Kind) arrow.DataType {
	switch k {
	case batch.KindFloat:
		return arrow.PrimitiveTypes.Float64
	case batch.KindBool:
		return arrow.FixedWidthTypes.Boolean
	default:
		return arrow.BinaryTypes.String
	}
}

// Record builds one Arrow record from rows. Missing cells become nulls.
// The caller must Release the record.
func Record(mem memory.Allocator, schema *arrow.Schema, rows []batch.Row) arrow.Record {
	bldr := array.NewRecordBuilder(mem, schema)
	defer bldr.Release()

	n := schema.NumFields()
	for _, row := range rows {
		for i := 0; i < n; i++ {
			v := batch.Missing()
			if i < len(row) {
				v = row[i]
			}
			appendValue(bldr.Field(i), v)
		}
	}
	return bldr.NewRecord()
}

// appendValue appends v, or a null when v does not fit the column type.
func appendValue(fb array.Builder, v batch.Value) {
	switch b := fb.(type) {
	case *array.Float64Builder:
		if f, ok := v.Float64(); ok {
			b.Append(f)
			return
		}
	case *array.BooleanBuilder:
		if x, ok := v.BoolValue(); ok {
			b.Append(x)
			return
		}
	case *array.StringBuilder:
		if !v.IsMissing() {
			b.Append(v.Text())
			return
		}
	}
	fb.AppendNull()
}
