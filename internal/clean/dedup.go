package clean

import (
	"context"
	"runtime"

	"github.com/zeebo/xxh3"

	"vehicleetl/internal/batch"
	"vehicleetl/internal/transformer"
)

// Dedup removes rows equal on every column. The first occurrence in batch
// order survives. It returns the deduplicated batch and the number of rows
// removed. Dedup is idempotent.
func Dedup(b *batch.Batch) (*batch.Batch, int) {
	out, removed, err := dedup(context.Background(), b, runtime.GOMAXPROCS(0))
	mustRun(err)
	return out, removed
}

type keyedRow struct {
	key string
	row batch.Row
}

func dedup(ctx context.Context, b *batch.Batch, workers int) (*batch.Batch, int, error) {
	n := len(b.Partitions)
	if n < 1 {
		n = 1
	}

	// Canonical keys per partition.
	keyed := make([][]keyedRow, len(b.Partitions))
	err := forEachPartition(ctx, len(b.Partitions), workers, func(_ context.Context, p int) error {
		ks := make([]keyedRow, len(b.Partitions[p]))
		for r, row := range b.Partitions[p] {
			ks[r] = keyedRow{key: transformer.RowKey(row), row: row}
		}
		keyed[p] = ks
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	// Barrier: shuffle by key hash. Walking partitions in order keeps each
	// bucket in batch order, so "first" below is the first in the batch.
	buckets := make([][]keyedRow, n)
	for _, ks := range keyed {
		for _, kr := range ks {
			h := xxh3.HashString(kr.key) % uint64(n)
			buckets[h] = append(buckets[h], kr)
		}
	}

	parts := make([][]batch.Row, n)
	err = forEachPartition(ctx, n, workers, func(_ context.Context, p int) error {
		seen := make(map[string]struct{}, len(buckets[p]))
		var rows []batch.Row
		for _, kr := range buckets[p] {
			if _, dup := seen[kr.key]; dup {
				continue
			}
			seen[kr.key] = struct{}{}
			rows = append(rows, kr.row.Clone())
		}
		parts[p] = rows
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	out := b.WithPartitions(parts)
	return out, b.Len() - out.Len(), nil
}
