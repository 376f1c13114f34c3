package clean

import (
	"context"
	"runtime"
	"sort"

	"gonum.org/v1/gonum/stat"

	"vehicleetl/internal/batch"
	"vehicleetl/internal/schema"
)

// Fallback fills used when a column has no observed values.
const (
	NumericFallback     = 0.0
	CategoricalFallback = "unknown"
)

// FillStat describes how one column was imputed.
type FillStat struct {
	Column     string
	Class      schema.Class
	Fill       batch.Value
	NonMissing int  // observed cells that fed the statistic
	Filled     int  // cells replaced with Fill
	Fallback   bool // Fill is the fallback constant
}

// Impute fills missing cells of numeric columns with the median and of
// categorical columns with the mode. Boolean and undeclared columns are left
// as they are. Statistics are computed over the whole batch.
func Impute(b *batch.Batch, policy schema.Policy) (*batch.Batch, []FillStat) {
	out, stats, err := impute(context.Background(), b, policy, runtime.GOMAXPROCS(0))
	mustRun(err)
	return out, stats
}

// target is one column to impute.
type target struct {
	index int
	col   schema.Column
}

// partial holds per-partition aggregates for one target column.
type partial struct {
	values []float64          // numeric: observed non-NaN values
	counts map[string]int     // categorical: value -> frequency
	first  map[string]rowSpot // categorical: value -> first occurrence
}

// rowSpot orders cells in batch order.
type rowSpot struct{ part, row int }

func (a rowSpot) before(b rowSpot) bool {
	if a.part != b.part {
		return a.part < b.part
	}
	return a.row < b.row
}

func impute(ctx context.Context, b *batch.Batch, policy schema.Policy, workers int) (*batch.Batch, []FillStat, error) {
	var targets []target
	for _, col := range policy.Columns {
		if col.Class != schema.Numeric && col.Class != schema.Categorical {
			continue
		}
		if i := b.ColumnIndex(col.Name); i >= 0 {
			targets = append(targets, target{index: i, col: col})
		}
	}

	// Pass 1: partial aggregates per partition.
	partials := make([][]partial, len(b.Partitions))
	err := forEachPartition(ctx, len(b.Partitions), workers, func(_ context.Context, p int) error {
		ps := make([]partial, len(targets))
		for k, t := range targets {
			if t.col.Class == schema.Categorical {
				ps[k].counts = make(map[string]int)
				ps[k].first = make(map[string]rowSpot)
			}
		}
		for r, row := range b.Partitions[p] {
			for k, t := range targets {
				v := row[t.index]
				switch t.col.Class {
				case schema.Numeric:
					if f, ok := v.Float64(); ok && !v.IsNaN() {
						ps[k].values = append(ps[k].values, f)
					}
				case schema.Categorical:
					if s, ok := v.Str(); ok {
						if _, seen := ps[k].first[s]; !seen {
							ps[k].first[s] = rowSpot{p, r}
						}
						ps[k].counts[s]++
					}
				}
			}
		}
		partials[p] = ps
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	// Barrier: merge partials into one fill per column.
	stats := make([]FillStat, len(targets))
	for k, t := range targets {
		stats[k] = mergeFill(t.col, partials, k)
	}

	// Pass 2: apply fills.
	parts := make([][]batch.Row, len(b.Partitions))
	filled := make([][]int, len(b.Partitions))
	err = forEachPartition(ctx, len(b.Partitions), workers, func(_ context.Context, p int) error {
		filled[p] = make([]int, len(targets))
		rows := make([]batch.Row, len(b.Partitions[p]))
		for r, src := range b.Partitions[p] {
			row := src.Clone()
			for k, t := range targets {
				if needsFill(row[t.index], t.col.Class) {
					row[t.index] = stats[k].Fill
					filled[p][k]++
				}
			}
			rows[r] = row
		}
		parts[p] = rows
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	for k := range stats {
		for p := range filled {
			stats[k].Filled += filled[p][k]
		}
	}

	out := b.WithPartitions(parts)
	for _, t := range targets {
		if t.col.Class == schema.Numeric {
			out.Types[t.index] = batch.KindFloat
		}
	}
	return out, stats, nil
}

func needsFill(v batch.Value, class schema.Class) bool {
	if v.IsMissing() {
		return true
	}
	return class == schema.Numeric && v.IsNaN()
}

func mergeFill(col schema.Column, partials [][]partial, k int) FillStat {
	st := FillStat{Column: col.Name, Class: col.Class}

	switch col.Class {
	case schema.Numeric:
		var values []float64
		for p := range partials {
			values = append(values, partials[p][k].values...)
		}
		st.NonMissing = len(values)
		if len(values) == 0 {
			st.Fill = batch.Float(NumericFallback)
			st.Fallback = true
			return st
		}
		st.Fill = batch.Float(median(values))

	case schema.Categorical:
		counts := make(map[string]int)
		first := make(map[string]rowSpot)
		for p := range partials {
			pa := partials[p][k]
			for s, n := range pa.counts {
				counts[s] += n
				st.NonMissing += n
			}
			for s, at := range pa.first {
				if cur, ok := first[s]; !ok || at.before(cur) {
					first[s] = at
				}
			}
		}
		mode, ok := modeOf(counts, first)
		if !ok {
			st.Fill = batch.String(CategoricalFallback)
			st.Fallback = true
			return st
		}
		st.Fill = batch.String(mode)
	}
	return st
}

// median returns the lower median of values, which is always an observed
// value: at least half the values are <= it and at least half are >= it.
// values is sorted in place.
func median(values []float64) float64 {
	sort.Float64s(values)
	return stat.Quantile(0.5, stat.Empirical, values, nil)
}

// modeOf returns the most frequent value. Ties go to the value seen first in
// batch order.
func modeOf(counts map[string]int, first map[string]rowSpot) (string, bool) {
	var (
		best  string
		bestN int
		found bool
	)
	for s, n := range counts {
		switch {
		case !found, n > bestN, n == bestN && first[s].before(first[best]):
			best, bestN, found = s, n, true
		}
	}
	return best, found
}
