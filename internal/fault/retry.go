package fault

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"
)

// Strategy selects how retry wait times grow between attempts.
type Strategy string

const (
	StrategyExponential Strategy = "exponential"
	StrategyLinear      Strategy = "linear"
	StrategyFixed       Strategy = "fixed"
)

// Validate checks if the Strategy is a valid enum value.
func (s Strategy) Validate() error {
	switch s {
	case StrategyExponential, StrategyLinear, StrategyFixed:
		return nil
	default:
		return fmt.Errorf("unknown retry strategy: %q", s)
	}
}

// maxWait caps any computed backoff, jitter included.
const maxWait = 60 * time.Second

// Policy configures the retry loop around model calls.
type Policy struct {
	MaxAttempts int
	Strategy    Strategy
	InitialWait time.Duration
	Jitter      bool
}

// DefaultPolicy matches the package defaults: 3 attempts, exponential
// backoff from one second, with jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Strategy:    StrategyExponential,
		InitialWait: time.Second,
		Jitter:      true,
	}
}

// Validate checks the policy's fields.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if err := p.Strategy.Validate(); err != nil {
		return err
	}
	if p.InitialWait <= 0 {
		return fmt.Errorf("retry initial wait must be positive, got %v", p.InitialWait)
	}
	return nil
}

// Wait computes the backoff before retrying a zero-based attempt.
func (p Policy) Wait(attempt int) time.Duration {
	var wait time.Duration
	switch p.Strategy {
	case StrategyExponential:
		wait = p.InitialWait * (1 << attempt)
	case StrategyLinear:
		wait = p.InitialWait * time.Duration(attempt+1)
	default:
		wait = p.InitialWait
	}

	if p.Jitter {
		wait += time.Duration(rand.Float64() * float64(wait) * 0.25)
	}

	if wait > maxWait {
		wait = maxWait
	}
	return wait
}

// Do runs call under the retry policy with optional model fallback.
//
// Transient errors retry with backoff, honoring a server-supplied retry-after
// hint over the computed wait. Terminal errors marked fallback-eligible
// advance the chain to the next model and consume an attempt. Any other error
// returns immediately. When all attempts are exhausted the last transient
// error is returned, wrapped.
//
// The model passed to call is the chain's current model, or empty when chain
// is nil.
func Do(ctx context.Context, policy Policy, chain *FallbackChain, call func(ctx context.Context, model string) error) error {
	model := ""
	if chain != nil {
		model = chain.Current()
	}

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		err := call(ctx, model)
		if err == nil {
			return nil
		}

		if te, ok := AsTransient(err); ok {
			wait := policy.Wait(attempt)
			if te.RetryAfter > 0 {
				wait = te.RetryAfter
			}
			log.Printf("[Retry] Transient error (attempt %d/%d): %s. Retrying in %.1fs",
				attempt+1, policy.MaxAttempts, te.Kind, wait.Seconds())
			lastErr = err
			if serr := sleep(ctx, wait); serr != nil {
				return serr
			}
			continue
		}

		if te, ok := AsTerminal(err); ok && te.RecoverableWithFallback && chain != nil && !chain.Exhausted() {
			next, nerr := chain.Next()
			if nerr != nil {
				return err
			}
			model = next
			continue
		}

		return err
	}

	if lastErr != nil {
		return fmt.Errorf("exhausted %d retry attempts: %w", policy.MaxAttempts, lastErr)
	}
	return &TransientError{Kind: KindTimeout, Err: fmt.Errorf("exhausted %d retry attempts", policy.MaxAttempts)}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
