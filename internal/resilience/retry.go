package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/aegisrt/core/internal/apierr"
)

// RetryPolicy configures Retry (spec §4.1).
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // fraction, e.g. 0.2 = ±20%
	Retryable    func(error) bool
}

// DefaultRetryPolicy returns sane defaults: 3 attempts, exponential backoff
// from 100ms, capped at 5s, ±20% jitter, retrying only apierr.KindTransient.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
		Retryable: func(err error) bool {
			return apierr.Is(err, apierr.KindTransient)
		},
	}
}

func (p RetryPolicy) delayFor(attempt int) time.Duration {
	base := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if max := float64(p.MaxDelay); base > max {
		base = max
	}
	if p.Jitter > 0 {
		// uniform in [base*(1-jitter), base*(1+jitter)]
		spread := base * p.Jitter
		base = base - spread + rand.Float64()*2*spread
	}
	if base < 0 {
		base = 0
	}
	return time.Duration(base)
}

// Retry runs op up to policy.MaxAttempts times, sleeping between attempts
// per the backoff formula in spec §4.1. It stops early if the retryable
// predicate returns false for the latest error. On final failure it wraps
// the last error as apierr.KindRetryExhausted. Respects ctx cancellation
// between attempts (spec §5: "cancelling a retry stops further attempts").
func Retry[T any](ctx context.Context, policy RetryPolicy, op func(context.Context) (T, error)) (T, error) {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.Retryable == nil {
		policy.Retryable = func(error) bool { return true }
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, apierr.Wrap(apierr.KindRetryExhausted, "retry: context cancelled", errors.Join(lastErr, err))
			}
			return zero, err
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !policy.Retryable(err) {
			return zero, err
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}

		delay := policy.delayFor(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, apierr.Wrap(apierr.KindRetryExhausted, "retry: context cancelled during backoff", errors.Join(lastErr, ctx.Err()))
		}
	}
	return zero, apierr.Wrap(apierr.KindRetryExhausted, "retry: attempts exhausted", lastErr)
}
