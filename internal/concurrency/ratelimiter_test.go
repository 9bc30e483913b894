package concurrency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests drive bucket refills without sleeping.
type fakeClock struct {
	current time.Time
}

func (c *fakeClock) now() time.Time { return c.current }

func (c *fakeClock) advance(d time.Duration) { c.current = c.current.Add(d) }

func newTestLimiter(rpm, tpm int) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{current: time.Now()}
	l := NewRateLimiter(rpm, tpm)
	l.now = clock.now
	l.lastRefill = clock.current
	return l, clock
}

func TestAcquireImmediateWhenFull(t *testing.T) {
	l, _ := newTestLimiter(60, 6000)

	start := time.Now()
	require.NoError(t, l.Acquire(context.Background(), 100))
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	stats := l.Stats()
	assert.Equal(t, int64(1), stats.TotalRequests)
	assert.InDelta(t, 59, stats.RPMAvailable, 1)
	assert.InDelta(t, 5900, stats.TPMAvailable, 10)
}

func TestAcquireWaitsForRPM(t *testing.T) {
	// 600 RPM refills one request per 100ms; drained bucket forces a wait.
	l := NewRateLimiter(600, 1_000_000)
	l.rpmTokens = 0

	start := time.Now()
	require.NoError(t, l.Acquire(context.Background(), 1))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond, "must wait for a slot to refill")
	assert.Less(t, elapsed, 2*time.Second)
}

func TestAcquireWaitsForTPM(t *testing.T) {
	// 60000 TPM refills 1000 tokens per second.
	l := NewRateLimiter(100_000, 60_000)
	l.tpmTokens = 0

	start := time.Now()
	require.NoError(t, l.Acquire(context.Background(), 100))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestAcquireRefillIsContinuous(t *testing.T) {
	l, clock := newTestLimiter(60, 6000)
	l.rpmTokens = 0
	l.tpmTokens = 0

	// Half a minute refills half of each bucket.
	clock.advance(30 * time.Second)
	stats := l.Stats()
	assert.InDelta(t, 30, stats.RPMAvailable, 0.01)
	assert.InDelta(t, 3000, stats.TPMAvailable, 1)

	// Never above the cap.
	clock.advance(10 * time.Minute)
	stats = l.Stats()
	assert.InDelta(t, 60, stats.RPMAvailable, 0.01)
	assert.InDelta(t, 6000, stats.TPMAvailable, 1)
}

func TestAcquireContextCancelled(t *testing.T) {
	// One request per minute: the drained bucket cannot refill in time.
	l := NewRateLimiter(1, 6000)
	l.rpmTokens = 0

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := l.Acquire(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquireDefaultEstimate(t *testing.T) {
	l, _ := newTestLimiter(100, 100_000)
	require.NoError(t, l.Acquire(context.Background(), 0))

	stats := l.Stats()
	assert.InDelta(t, float64(100_000-defaultTokenEstimate), stats.TPMAvailable, 10)
}

func TestRecordUsageAndReset(t *testing.T) {
	l, _ := newTestLimiter(60, 6000)
	require.NoError(t, l.Acquire(context.Background(), 100))
	l.RecordUsage(120, 30)

	stats := l.Stats()
	assert.Equal(t, int64(150), stats.TotalTokensUsed)

	l.Reset()
	stats = l.Stats()
	assert.Equal(t, int64(0), stats.TotalRequests)
	assert.Equal(t, int64(0), stats.TotalTokensUsed)
	assert.InDelta(t, 60, stats.RPMAvailable, 0.01)
}
