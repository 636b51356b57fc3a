package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket_ConsumeRespectsCapacity(t *testing.T) {
	b := NewTokenBucket(3, 1) // capacity 3, 1/sec refill
	assert.True(t, b.Consume(1))
	assert.True(t, b.Consume(1))
	assert.True(t, b.Consume(1))
	assert.False(t, b.Consume(1), "a fourth immediate consume should exceed the burst capacity")
}

func TestTokenBucket_RefillsOverTime(t *testing.T) {
	b := NewTokenBucket(1, 20) // capacity 1, fast refill for the test
	require.True(t, b.Consume(1))
	assert.False(t, b.Consume(1))

	time.Sleep(100 * time.Millisecond)
	assert.True(t, b.Consume(1), "bucket should have refilled at least one token after waiting")
}

func TestTokenBucket_WaitBlocksUntilAvailable(t *testing.T) {
	b := NewTokenBucket(1, 50)
	require.True(t, b.Consume(1))

	start := time.Now()
	err := b.Wait(context.Background(), 1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestTokenBucket_WaitRespectsCancellation(t *testing.T) {
	b := NewTokenBucket(1, 0.01) // effectively never refills within the test window
	require.True(t, b.Consume(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := b.Wait(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSlidingWindow_AdmitsUpToLimitPerWindow(t *testing.T) {
	w := NewSlidingWindow(2, 50*time.Millisecond)
	assert.True(t, w.Allow())
	assert.True(t, w.Allow())
	assert.False(t, w.Allow(), "third request within the window must be rejected")

	time.Sleep(60 * time.Millisecond)
	assert.True(t, w.Allow(), "requests should be admitted again once the window rolls forward")
}

func TestSlidingWindow_NoBoundaryDoubleAdmit(t *testing.T) {
	w := NewSlidingWindow(1, 40*time.Millisecond)
	require.True(t, w.Allow())
	time.Sleep(20 * time.Millisecond) // halfway through the window
	assert.False(t, w.Allow(), "a request at the window midpoint must still be rejected")
}

func TestKeyedSlidingWindow_IsolatesPerKey(t *testing.T) {
	k := NewKeyedSlidingWindow(1, 50*time.Millisecond)
	assert.True(t, k.Allow("user-a"))
	assert.False(t, k.Allow("user-a"))
	assert.True(t, k.Allow("user-b"), "a different key must have its own independent limit")
}
