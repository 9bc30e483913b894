package concurrency

import (
	"context"
	"sync"
)

// DefaultFileWorkers bounds how many documents a batch processes at once.
const DefaultFileWorkers = 5

// Pool runs batch work with a bounded number of workers. One item's failure
// never affects the others; errors come back per item.
type Pool struct {
	workers int
}

// NewPool builds a pool with the given worker bound. Non-positive bounds
// fall back to the default.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = DefaultFileWorkers
	}
	return &Pool{workers: workers}
}

// Workers returns the pool's concurrency bound.
func (p *Pool) Workers() int { return p.workers }

// Each runs fn for every index in [0, n) with at most the pool's worker
// bound in flight, and returns per-item errors in input order (nil on
// success). Once the context is cancelled, unstarted items fail with the
// context's error without running.
func (p *Pool) Each(ctx context.Context, n int, fn func(ctx context.Context, i int) error) []error {
	errs := make([]error, n)
	sem := make(chan struct{}, p.workers)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			errs[i] = ctx.Err()
			continue
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			errs[i] = fn(ctx, i)
		}(i)
	}

	wg.Wait()
	return errs
}
