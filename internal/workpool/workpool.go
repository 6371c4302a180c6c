// Package workpool runs independent units of work on a bounded set of
// goroutines and merges results by position.
package workpool

import (
	"context"
	"sync"
)

// Map calls fn(ctx, i) for every i in [0, n) using at most workers
// goroutines. Result i always lands in slot i regardless of completion order.
// Units not yet started when ctx is cancelled are left as the zero value.
func Map[R any](ctx context.Context, workers, n int, fn func(ctx context.Context, i int) R) []R {
	out := make([]R, n)
	if n == 0 {
		return out
	}
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}

	if workers == 1 {
		for i := 0; i < n; i++ {
			if ctx.Err() != nil {
				break
			}
			out[i] = fn(ctx, i)
		}
		return out
	}

	idx := make(chan int, workers*2)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idx {
				out[i] = fn(ctx, i)
			}
		}()
	}

feed:
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			break feed
		case idx <- i:
		}
	}
	close(idx)
	wg.Wait()
	return out
}
