// Package concurrency bounds the fan-out of model calls: a dual
// token-bucket rate limiter for the provider's request and token budgets,
// and a worker pool for batch document processing.
package concurrency

import (
	"context"
	"sync"
	"time"
)

// Provider budget defaults.
const (
	DefaultRPMLimit = 3500
	DefaultTPMLimit = 100_000
)

// defaultTokenEstimate is used when a caller cannot estimate a request's
// token consumption.
const defaultTokenEstimate = 1000

// minWait bounds the busy-wait granularity when a bucket is nearly empty.
const minWait = 10 * time.Millisecond

// RateLimiter enforces requests-per-minute and tokens-per-minute budgets
// with two continuously refilling buckets. A request proceeds only when both
// buckets have capacity. Safe for concurrent use; the lock is released while
// waiting so one starved caller never blocks refills for the rest.
type RateLimiter struct {
	mu sync.Mutex

	rpmLimit float64
	tpmLimit float64

	rpmTokens  float64
	tpmTokens  float64
	lastRefill time.Time

	totalRequests   int64
	totalTokensUsed int64
	totalWait       time.Duration

	now func() time.Time
}

// RateLimiterStats is a point-in-time snapshot of limiter state.
type RateLimiterStats struct {
	RPMAvailable    float64
	TPMAvailable    float64
	TotalRequests   int64
	TotalTokensUsed int64
	TotalWait       time.Duration
}

// NewRateLimiter builds a limiter for the given per-minute budgets.
// Non-positive limits fall back to the defaults.
func NewRateLimiter(rpmLimit, tpmLimit int) *RateLimiter {
	if rpmLimit <= 0 {
		rpmLimit = DefaultRPMLimit
	}
	if tpmLimit <= 0 {
		tpmLimit = DefaultTPMLimit
	}
	now := time.Now()
	return &RateLimiter{
		rpmLimit:   float64(rpmLimit),
		tpmLimit:   float64(tpmLimit),
		rpmTokens:  float64(rpmLimit),
		tpmTokens:  float64(tpmLimit),
		lastRefill: now,
		now:        time.Now,
	}
}

// Acquire blocks until one request slot and estimatedTokens of budget are
// available, then deducts both. A non-positive estimate uses the default.
// Returns early with the context's error on cancellation.
func (l *RateLimiter) Acquire(ctx context.Context, estimatedTokens int) error {
	if estimatedTokens <= 0 {
		estimatedTokens = defaultTokenEstimate
	}
	estimate := float64(estimatedTokens)

	l.mu.Lock()
	for {
		l.refillLocked()

		if l.rpmTokens >= 1 && l.tpmTokens >= estimate {
			l.rpmTokens--
			l.tpmTokens -= estimate
			l.totalRequests++
			l.mu.Unlock()
			return nil
		}

		var rpmWait, tpmWait time.Duration
		if l.rpmTokens < 1 {
			rpmWait = durationFor(1-l.rpmTokens, l.rpmLimit)
		}
		if l.tpmTokens < estimate {
			tpmWait = durationFor(estimate-l.tpmTokens, l.tpmLimit)
		}
		wait := maxDuration(rpmWait, tpmWait, minWait)
		l.totalWait += wait

		l.mu.Unlock()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		l.mu.Lock()
	}
}

// RecordUsage reconciles the pre-request estimate with actual consumption.
// Stats only; buckets are not re-credited.
func (l *RateLimiter) RecordUsage(promptTokens, completionTokens int) {
	l.mu.Lock()
	l.totalTokensUsed += int64(promptTokens) + int64(completionTokens)
	l.mu.Unlock()
}

// Stats returns current limiter statistics after a refill.
func (l *RateLimiter) Stats() RateLimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked()
	return RateLimiterStats{
		RPMAvailable:    l.rpmTokens,
		TPMAvailable:    l.tpmTokens,
		TotalRequests:   l.totalRequests,
		TotalTokensUsed: l.totalTokensUsed,
		TotalWait:       l.totalWait,
	}
}

// Reset restores both buckets to full and clears counters.
func (l *RateLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rpmTokens = l.rpmLimit
	l.tpmTokens = l.tpmLimit
	l.lastRefill = l.now()
	l.totalRequests = 0
	l.totalTokensUsed = 0
	l.totalWait = 0
}

func (l *RateLimiter) refillLocked() {
	now := l.now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	l.lastRefill = now

	l.rpmTokens = minFloat(l.rpmLimit, l.rpmTokens+elapsed*(l.rpmLimit/60))
	l.tpmTokens = minFloat(l.tpmLimit, l.tpmTokens+elapsed*(l.tpmLimit/60))
}

// durationFor converts a bucket deficit into wall time at the bucket's
// per-minute refill rate.
func durationFor(deficit, perMinute float64) time.Duration {
	seconds := deficit / (perMinute / 60)
	return time.Duration(seconds * float64(time.Second))
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxDuration(ds ...time.Duration) time.Duration {
	var max time.Duration
	for _, d := range ds {
		if d > max {
			max = d
		}
	}
	return max
}
