// Package backoff provides a bounded retry loop with exponential delay
// and jitter for transient failures such as rate limits and store outages.
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Policy controls how many times an operation is attempted and how long
// to wait between attempts. The delay doubles after each failure, capped
// at MaxDelay, with random jitter to avoid synchronized retries.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy returns a policy suitable for LLM and store calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

func (p Policy) normalize() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// delay computes the wait before the given attempt (1-origin). The result
// is drawn uniformly from [base/2, base] where base doubles per attempt.
func (p Policy) delay(attempt int) time.Duration {
	base := p.BaseDelay
	for i := 1; i < attempt && base < p.MaxDelay; i++ {
		base *= 2
	}
	if base > p.MaxDelay {
		base = p.MaxDelay
	}

	half := int64(base / 2)
	return time.Duration(half + rand.Int63n(half+1))
}

// Do runs fn until it succeeds, the attempts are exhausted, or the context
// is done. The retryable predicate decides whether a failure is worth
// another attempt; a nil predicate retries every error. Non-retryable
// errors and the final failure are returned as-is so callers can match
// them with errors.Is.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error, retryable func(error) bool) error {
	p = p.normalize()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		timer := time.NewTimer(p.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}
