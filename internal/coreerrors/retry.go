package coreerrors

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy holds the exponential-backoff-with-full-jitter shape used
// by the Error Handler for transient kinds, generalized from the
// teacher's resilience.RetryConfig / RetryWithConfig.
type RetryPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy mirrors the teacher's DefaultRetryConfig defaults,
// scaled to the upstream JSON-RPC services this core calls instead of
// IPFS/storage backends.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		MaxAttempts: 3,
	}
}

// Delay returns the backoff duration before attempt number n (1-based:
// the delay waited before the 2nd try, 3rd try, ...), with full jitter:
// a random value uniformly drawn from [0, cappedExponentialDelay).
// Full jitter avoids every worker in the fleet retrying in lockstep
// against a recovering upstream.
func (p RetryPolicy) Delay(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	base := float64(p.BaseDelay) * pow2(n-1)
	capped := base
	if p.MaxDelay > 0 && capped > float64(p.MaxDelay) {
		capped = float64(p.MaxDelay)
	}
	return time.Duration(rand.Float64() * capped)
}

func pow2(n int) float64 {
	r := 1.0
	for i := 0; i < n; i++ {
		r *= 2
	}
	return r
}

// Do runs fn, retrying according to the policy while kind.Retryable()
// holds for the error fn produces, up to MaxAttempts total attempts.
// classify maps the raw error from fn to a Kind on each attempt, since
// a single operation can fail with different kinds across retries (e.g.
// a timeout followed by a protocol error). An UpstreamProtocolError on
// the first attempt gets exactly one retry (still bounded by
// MaxAttempts), then counts as permanent. Do returns the last error if
// every attempt is exhausted, or nil on the first success. Each waited
// delay respects ctx cancellation.
func Do(ctx context.Context, policy RetryPolicy, classify func(error) Kind, fn func(ctx context.Context, attempt int) error) error {
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := policy.Delay(attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		kind := classify(err)
		if kind == UpstreamProtocolError && attempt == 1 {
			continue
		}
		if !kind.Retryable() {
			return err
		}
	}
	return lastErr
}
