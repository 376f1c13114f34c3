package clean

import (
	"context"
	"runtime"

	"vehicleetl/internal/batch"
)

// Project flattens parsed payloads into columns:
// [timestamp, filename] followed by keys in the given order. A key named
// like a base column takes over that column. Absent keys and None values
// become missing. The details payload is dropped.
func Project(parsed [][]Parsed, keys []string) *batch.Batch {
	b, err := project(context.Background(), parsed, keys, runtime.GOMAXPROCS(0))
	mustRun(err)
	return b
}

// projection maps output columns to their source.
type projection struct {
	columns []string
	// attr[i] is the payload key feeding column i when payload[i] is set;
	// otherwise column i is a base column fed from the raw record. The empty
	// string is a valid payload key.
	attr    []string
	payload []bool
}

func newProjection(keys []string) projection {
	p := projection{columns: batch.BaseColumns()}
	p.attr = make([]string, len(p.columns))
	p.payload = make([]bool, len(p.columns))

	index := make(map[string]int, len(p.columns)+len(keys))
	for i, c := range p.columns {
		index[c] = i
	}
	for _, k := range keys {
		if i, ok := index[k]; ok {
			p.attr[i] = k
			p.payload[i] = true
			continue
		}
		index[k] = len(p.columns)
		p.columns = append(p.columns, k)
		p.attr = append(p.attr, k)
		p.payload = append(p.payload, true)
	}
	return p
}

func (p projection) row(rec Parsed) batch.Row {
	row := make(batch.Row, len(p.columns))
	for i, key := range p.attr {
		switch {
		case p.payload[i]:
			if v, ok := rec.Attrs[key]; ok {
				row[i] = batch.StringOrMissing(v)
			}
		case p.columns[i] == batch.ColTimestamp:
			row[i] = rec.Raw.Timestamp
		case p.columns[i] == batch.ColFilename:
			row[i] = rec.Raw.Filename
		}
	}
	return row
}

func project(ctx context.Context, parsed [][]Parsed, keys []string, workers int) (*batch.Batch, error) {
	p := newProjection(keys)
	b := batch.New(p.columns, len(parsed))

	err := forEachPartition(ctx, len(parsed), workers, func(_ context.Context, i int) error {
		rows := make([]batch.Row, len(parsed[i]))
		for j, rec := range parsed[i] {
			rows[j] = p.row(rec)
		}
		b.Partitions[i] = rows
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}
