package clean

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// forEachPartition runs fn for partitions [0,n) on at most workers
// goroutines. It returns when every call has finished (a stage barrier).
// The first error cancels the remaining calls.
func forEachPartition(ctx context.Context, n, workers int, fn func(ctx context.Context, i int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, i)
		})
	}
	return g.Wait()
}

// mustRun is used by the context-free stage functions. Their partition
// callbacks never fail and context.Background is never canceled.
func mustRun(err error) {
	if err != nil {
		panic("clean: unexpected stage error: " + err.Error())
	}
}
