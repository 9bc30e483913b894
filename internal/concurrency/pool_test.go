package concurrency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsEveryItem(t *testing.T) {
	pool := NewPool(3)

	var mu sync.Mutex
	seen := make(map[int]bool)

	errs := pool.Each(context.Background(), 10, func(_ context.Context, i int) error {
		mu.Lock()
		seen[i] = true
		mu.Unlock()
		return nil
	})

	require.Len(t, errs, 10)
	for i, err := range errs {
		assert.NoError(t, err, "item %d", i)
	}
	assert.Len(t, seen, 10)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := NewPool(2)

	var inFlight, peak int32
	pool.Each(context.Background(), 8, func(_ context.Context, i int) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil
	})

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestPoolIsolatesFailures(t *testing.T) {
	pool := NewPool(4)
	boom := errors.New("boom")

	errs := pool.Each(context.Background(), 3, func(_ context.Context, i int) error {
		if i == 1 {
			return boom
		}
		return nil
	})

	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], boom)
	assert.NoError(t, errs[2], "one failure never cancels the rest")
}

func TestPoolCancelledContext(t *testing.T) {
	pool := NewPool(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran int32
	errs := pool.Each(ctx, 5, func(_ context.Context, i int) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})

	for _, err := range errs {
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Zero(t, atomic.LoadInt32(&ran))
}

func TestPoolDefaultWorkers(t *testing.T) {
	pool := NewPool(0)
	assert.Equal(t, DefaultFileWorkers, pool.Workers())
}
