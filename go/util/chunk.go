package util

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ChunkIter calls f once per contiguous sub-range of [0, n), each of at
// most chunkSize elements, stopping and returning the first error f
// returns. Used by the writer's batched inserts to keep batch sizes
// bounded regardless of how many rows are in play.
func ChunkIter(n int, chunkSize int, f func(startIdx, endIdx int) error) error {
	if chunkSize <= 0 {
		chunkSize = n
	}
	for i := 0; i < n; i += chunkSize {
		j := i + chunkSize
		if j > n {
			j = n
		}
		if err := f(i, j); err != nil {
			return err
		}
	}
	return nil
}

// ChunkIterParallel is ChunkIter's concurrent counterpart: each chunk's
// callback runs in its own goroutine and the first error from any of
// them is returned once all have finished, via errgroup.
func ChunkIterParallel(ctx context.Context, n int, chunkSize int, f func(ctx context.Context, startIdx, endIdx int) error) error {
	if chunkSize <= 0 {
		chunkSize = n
	}
	eg, egCtx := errgroup.WithContext(ctx)
	for i := 0; i < n; i += chunkSize {
		startIdx, endIdx := i, i+chunkSize
		if endIdx > n {
			endIdx = n
		}
		eg.Go(func() error {
			return f(egCtx, startIdx, endIdx)
		})
	}
	return eg.Wait()
}
