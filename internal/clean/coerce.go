package clean

import (
	"context"
	"runtime"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"vehicleetl/internal/batch"
	"vehicleetl/internal/schema"
)

// CoerceStats counts cells that were present but could not be converted.
type CoerceStats struct {
	Failures map[string]int // column -> count
}

// Total returns the failure count across columns.
func (s CoerceStats) Total() int {
	n := 0
	for _, c := range s.Failures {
		n += c
	}
	return n
}

// Columns returns the columns with failures, sorted.
func (s CoerceStats) Columns() []string {
	out := make([]string, 0, len(s.Failures))
	for c, n := range s.Failures {
		if n > 0 {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// Coerce converts policy columns to their declared types:
//   - numeric: blank -> missing, otherwise float64; unparsable -> missing
//   - boolean: loose true/false spellings; anything else -> missing
//   - categorical: unchanged
//
// Columns outside the policy pass through. Policy columns absent from the
// batch are skipped.
func Coerce(b *batch.Batch, policy schema.Policy) *batch.Batch {
	out, _, err := coerce(context.Background(), b, policy, runtime.GOMAXPROCS(0))
	mustRun(err)
	return out
}

type coercion struct {
	index int
	col   schema.Column
}

func coerce(ctx context.Context, b *batch.Batch, policy schema.Policy, workers int) (*batch.Batch, CoerceStats, error) {
	var plan []coercion
	types := append([]batch.Kind(nil), b.Types...)
	for _, col := range policy.Columns {
		i := b.ColumnIndex(col.Name)
		if i < 0 {
			continue
		}
		switch col.Class {
		case schema.Numeric:
			types[i] = batch.KindFloat
		case schema.Boolean:
			types[i] = batch.KindBool
		default:
			continue
		}
		plan = append(plan, coercion{index: i, col: col})
	}

	parts := make([][]batch.Row, len(b.Partitions))
	fails := make([][]int, len(b.Partitions)) // partition -> plan slot -> count

	err := forEachPartition(ctx, len(b.Partitions), workers, func(_ context.Context, p int) error {
		fails[p] = make([]int, len(plan))
		rows := make([]batch.Row, len(b.Partitions[p]))
		for r, src := range b.Partitions[p] {
			row := src.Clone()
			for k, c := range plan {
				v, failed := coerceCell(row[c.index], c.col)
				row[c.index] = v
				if failed {
					fails[p][k]++
				}
			}
			rows[r] = row
		}
		parts[p] = rows
		return nil
	})
	if err != nil {
		return nil, CoerceStats{}, err
	}

	st := CoerceStats{Failures: make(map[string]int, len(plan))}
	for k, c := range plan {
		n := 0
		for p := range fails {
			n += fails[p][k]
		}
		st.Failures[c.col.Name] = n
	}

	out := b.WithPartitions(parts)
	out.Types = types
	return out, st, nil
}

// coerceCell converts v per col. failed is true when a present, non-blank
// value could not be converted.
func coerceCell(v batch.Value, col schema.Column) (out batch.Value, failed bool) {
	s, isStr := v.Str()
	if !isStr {
		// Missing stays missing; already-typed cells are kept when they match.
		switch {
		case v.IsMissing():
			return v, false
		case col.Class == schema.Numeric && v.Kind() == batch.KindFloat:
			return v, false
		case col.Class == schema.Boolean && v.Kind() == batch.KindBool:
			return v, false
		}
		s = v.Text()
	}

	t := strings.TrimSpace(s)
	if t == "" {
		return batch.Missing(), false
	}

	switch col.Class {
	case schema.Numeric:
		f, err := cast.ToFloat64E(t)
		if err != nil {
			return batch.Missing(), true
		}
		return batch.Float(f), false
	case schema.Boolean:
		bv, ok := col.ParseBool(t)
		if !ok {
			return batch.Missing(), true
		}
		return batch.Bool(bv), false
	}
	return v, false
}
