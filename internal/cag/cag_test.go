package cag

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aegisrt/core/internal/llmclient"
	"github.com/aegisrt/core/internal/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, gen llmclient.Generator, cfg Config) *Engine {
	t.Helper()
	breaker := resilience.NewBreaker(resilience.BreakerConfig{Name: "test", FailureThreshold: 100})
	limiter := resilience.NewTokenBucket(1000, 1000)
	retry := resilience.DefaultRetryPolicy()
	retry.InitialDelay = time.Millisecond
	retry.MaxDelay = 5 * time.Millisecond
	return New(cfg, gen, llmclient.NewFakeEmbedder(32), breaker, limiter, retry)
}

func TestQuery_ExactCacheHitOnRepeat(t *testing.T) {
	gen := &llmclient.FakeGenerator{}
	e := newTestEngine(t, gen, Config{})

	first, err := e.Query(context.Background(), "What is SQL injection?", QueryOptions{})
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, HitNone, first.CacheHitType)

	second, err := e.Query(context.Background(), "  what IS sql injection?  ", QueryOptions{})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, HitExact, second.CacheHitType)
	assert.Equal(t, first.Response, second.Response)
	assert.Equal(t, int64(1), gen.Calls(), "a normalized-identical repeat must not call the downstream generator again")
}

func TestQuery_SimilarTierHitsOnNearDuplicateWithSharedVocabulary(t *testing.T) {
	gen := &llmclient.FakeGenerator{}
	e := newTestEngine(t, gen, Config{SimilarThreshold: 0.5})

	_, err := e.Query(context.Background(), "explain sql injection attacks in web applications", QueryOptions{})
	require.NoError(t, err)

	result, err := e.Query(context.Background(), "what is sql injection attacks in web applications", QueryOptions{})
	require.NoError(t, err)
	assert.True(t, result.Cached)
	assert.Contains(t, []CacheHitType{HitSimilar, HitEmbedding}, result.CacheHitType)
	assert.Equal(t, int64(1), gen.Calls())
}

func TestQuery_ConcurrentMissesCoalesceIntoOneGenerateCall(t *testing.T) {
	block := make(chan struct{})
	gen := &llmclient.FakeGenerator{
		Respond: func(prompt string) string {
			<-block
			return "answer: " + prompt
		},
	}
	e := newTestEngine(t, gen, Config{})

	const n = 10
	var wg sync.WaitGroup
	results := make([]Result, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.Query(context.Background(), "what is cross-site scripting", QueryOptions{})
		}(i)
	}

	time.Sleep(20 * time.Millisecond) // let all goroutines reach the single-flight group
	close(block)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
	}
	assert.Equal(t, int64(1), gen.Calls(), "N concurrent misses for the same query must issue exactly one Generate call")
	assert.Equal(t, 1, gen.PeakConcurrency())
}

func TestQuery_CancellingOneCallerDoesNotCancelSharedCall(t *testing.T) {
	block := make(chan struct{})
	gen := &llmclient.FakeGenerator{
		Respond: func(prompt string) string {
			<-block
			return "answer"
		},
	}
	e := newTestEngine(t, gen, Config{})

	cancelledCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := e.Query(cancelledCtx, "shared query", QueryOptions{})
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	cancelledErr := <-done
	assert.Error(t, cancelledErr, "the cancelled caller should observe its own context error")

	survivorDone := make(chan Result, 1)
	go func() {
		r, _ := e.Query(context.Background(), "shared query", QueryOptions{})
		survivorDone <- r
	}()

	time.Sleep(10 * time.Millisecond)
	close(block)

	select {
	case r := <-survivorDone:
		assert.Equal(t, "answer", r.Response)
	case <-time.After(time.Second):
		t.Fatal("shared in-flight call must complete for other callers even after one caller's ctx was cancelled")
	}
}

func TestQuery_AdaptiveTTLIsMonotoneInHitCount(t *testing.T) {
	gen := &llmclient.FakeGenerator{}
	e := newTestEngine(t, gen, Config{BaseTTL: time.Minute, MaxTTL: time.Hour, HitSaturation: 5})

	_, err := e.Query(context.Background(), "persistent query", QueryOptions{})
	require.NoError(t, err)

	entry, ok := e.liveEntry(QueryID(Normalize("persistent query")))
	require.True(t, ok)

	_, _, ttl1, _ := entry.snapshot()
	e.recordHit(entry)
	_, _, ttl2, _ := entry.snapshot()
	e.recordHit(entry)
	_, _, ttl3, _ := entry.snapshot()

	assert.Greater(t, ttl2, ttl1, "TTL must grow after a hit")
	assert.Greater(t, ttl3, ttl2, "TTL must keep growing monotonically with further hits")
	assert.LessOrEqual(t, ttl3, time.Hour, "TTL must never exceed MaxTTL")
}

func TestEvictLocked_EnforcesMaxEntriesByLRU(t *testing.T) {
	gen := &llmclient.FakeGenerator{}
	e := newTestEngine(t, gen, Config{MaxEntries: 2})

	ctx := context.Background()
	_, err := e.Query(ctx, "query one", QueryOptions{})
	require.NoError(t, err)
	_, err = e.Query(ctx, "query two", QueryOptions{})
	require.NoError(t, err)
	_, err = e.Query(ctx, "query three", QueryOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, e.Count(), "inserting a third entry beyond MaxEntries must evict the least-recently-used one")

	_, stillCached := e.liveEntry(QueryID(Normalize("query one")))
	assert.False(t, stillCached, "the least-recently-used entry should have been evicted")
}

func TestSweep_RemovesExpiredEntries(t *testing.T) {
	gen := &llmclient.FakeGenerator{}
	e := newTestEngine(t, gen, Config{BaseTTL: 10 * time.Millisecond, MaxTTL: 10 * time.Millisecond})

	_, err := e.Query(context.Background(), "short-lived query", QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, e.Count())

	time.Sleep(30 * time.Millisecond)
	removed := e.Sweep()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, e.Count())
}

func TestQuery_BreakerOpenShortCircuitsGenerate(t *testing.T) {
	gen := &llmclient.FakeGenerator{FailTimes: 1000}
	breaker := resilience.NewBreaker(resilience.BreakerConfig{Name: "test", FailureThreshold: 1, ResetTimeout: time.Hour})
	limiter := resilience.NewTokenBucket(1000, 1000)
	retry := resilience.RetryPolicy{MaxAttempts: 1, Retryable: func(error) bool { return false }}
	e := New(Config{}, gen, llmclient.NewFakeEmbedder(32), breaker, limiter, retry)

	_, err := e.Query(context.Background(), "first query", QueryOptions{})
	assert.Error(t, err)

	_, err = e.Query(context.Background(), "second distinct query", QueryOptions{})
	assert.Error(t, err, "an open breaker must reject a second distinct query without calling Generate again")
	assert.Equal(t, int64(1), gen.Calls())
}
