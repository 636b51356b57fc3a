package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket implements the token-bucket strategy of spec §4.1: capacity
// C, refill rate r tokens/sec. Consume(n) is non-blocking; Wait(n) blocks
// until n tokens are available or ctx is cancelled. Backed by
// golang.org/x/time/rate.Limiter (SPEC_FULL.md's domain-stack table names
// it as the token-bucket primitive for the LLM/tool/memory limiters)
// rather than a hand-rolled refill loop — TokenBucket is a thin adapter
// giving the limiter the Consume/Wait vocabulary spec §4.1 uses.
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket creates a bucket starting full, with capacity tokens and
// refillRate tokens/sec.
func NewTokenBucket(capacity, refillRate float64) *TokenBucket {
	burst := int(capacity)
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(refillRate), burst)}
}

// Consume attempts to take n tokens without blocking. Returns true and
// deducts n tokens iff at least n tokens were available.
func (b *TokenBucket) Consume(n float64) bool {
	return b.limiter.AllowN(time.Now(), intOf(n))
}

// Wait blocks until n tokens are available, consumes them, and returns.
// Returns ctx.Err() if cancelled first. If ctx has a deadline the tokens
// cannot arrive before, it returns at once with an error wrapping
// context.DeadlineExceeded.
func (b *TokenBucket) Wait(ctx context.Context, n float64) error {
	k := intOf(n)
	err := b.limiter.WaitN(ctx, k)
	if err != nil && ctx.Err() == nil && k <= b.limiter.Burst() {
		if _, ok := ctx.Deadline(); ok {
			return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
	}
	return err
}

// Available reports the current token count (for diagnostics/tests).
func (b *TokenBucket) Available() float64 {
	return b.limiter.Tokens()
}

func intOf(n float64) int {
	i := int(n)
	if i <= 0 {
		i = 1
	}
	return i
}

// SlidingWindow implements the sliding-window strategy of spec §4.1:
// maxRequests per windowMs. Allow() succeeds iff the count of timestamps in
// the trailing window is below the limit. Adapted from the teacher's
// internal/middleware/rate_limiter.go fixed-window-with-reset approach,
// generalized to a true trailing window via a timestamp ring so a burst at
// a window boundary can't double the effective rate.
type SlidingWindow struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	timestamps  []time.Time
}

// NewSlidingWindow creates a limiter admitting at most maxRequests per
// window.
func NewSlidingWindow(maxRequests int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{maxRequests: maxRequests, window: window}
}

// Allow reports whether a request is admitted now, recording it if so.
func (w *SlidingWindow) Allow() bool {
	now := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.window)
	live := w.timestamps[:0]
	for _, t := range w.timestamps {
		if t.After(cutoff) {
			live = append(live, t)
		}
	}
	w.timestamps = live

	if len(w.timestamps) >= w.maxRequests {
		return false
	}
	w.timestamps = append(w.timestamps, now)
	return true
}

// Count returns the number of requests currently counted in the trailing
// window (for diagnostics/tests).
func (w *SlidingWindow) Count() int {
	now := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := now.Add(-w.window)
	n := 0
	for _, t := range w.timestamps {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

// KeyedSlidingWindow is a per-key family of SlidingWindow limiters, used
// for the username+ip and per-session keys spec §4.5 requires.
type KeyedSlidingWindow struct {
	mu          sync.Mutex
	limiters    map[string]*SlidingWindow
	maxRequests int
	window      time.Duration
}

func NewKeyedSlidingWindow(maxRequests int, window time.Duration) *KeyedSlidingWindow {
	return &KeyedSlidingWindow{
		limiters:    make(map[string]*SlidingWindow),
		maxRequests: maxRequests,
		window:      window,
	}
}

func (k *KeyedSlidingWindow) Allow(key string) bool {
	k.mu.Lock()
	w, ok := k.limiters[key]
	if !ok {
		w = NewSlidingWindow(k.maxRequests, k.window)
		k.limiters[key] = w
	}
	k.mu.Unlock()
	return w.Allow()
}
