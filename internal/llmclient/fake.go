package llmclient

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/aegisrt/core/internal/apierr"
)

// FakeGenerator is a deterministic in-memory Generator for tests. It
// returns a fixed or computed response per prompt, counts invocations, and
// can be configured to fail a fixed number of times (to exercise retry and
// breaker behavior) or to track peak concurrency (to exercise
// single-flight coalescing).
type FakeGenerator struct {
	// Respond computes the response for a prompt. Defaults to echoing the
	// prompt with a fixed prefix if nil.
	Respond func(prompt string) string

	// FailTimes, if >0, makes the first FailTimes calls fail with a
	// Transient error before succeeding.
	FailTimes int32

	calls       int64
	failuresSoFar int32

	mu          sync.Mutex
	inFlight    int
	peakInFlight int
}

// Calls reports the number of times Generate was invoked.
func (f *FakeGenerator) Calls() int64 { return atomic.LoadInt64(&f.calls) }

// PeakConcurrency reports the maximum number of concurrent Generate calls
// observed, used to assert single-flight coalescing in cag tests.
func (f *FakeGenerator) PeakConcurrency() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peakInFlight
}

func (f *FakeGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	atomic.AddInt64(&f.calls, 1)

	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.peakInFlight {
		f.peakInFlight = f.inFlight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if atomic.LoadInt32(&f.failuresSoFar) < f.FailTimes {
		atomic.AddInt32(&f.failuresSoFar, 1)
		return "", apierr.New(apierr.KindTransient, "fake: forced transient failure", nil)
	}

	if f.Respond != nil {
		return f.Respond(req.Prompt), nil
	}
	return "response: " + req.Prompt, nil
}

// FakeEmbedder is a deterministic bag-of-words hashing embedder: each
// whitespace-separated token is hashed into one of Dims buckets and
// accumulated, so two texts sharing vocabulary produce vectors with high
// cosine similarity without depending on a real embedding model — enough
// to exercise the CAG engine's similarity tiers in tests.
type FakeEmbedder struct {
	Dims int

	calls int64
}

func NewFakeEmbedder(dims int) *FakeEmbedder {
	if dims <= 0 {
		dims = 64
	}
	return &FakeEmbedder{Dims: dims}
}

func (e *FakeEmbedder) Dimensions() int { return e.Dims }

func (e *FakeEmbedder) Calls() int64 { return atomic.LoadInt64(&e.calls) }

func (e *FakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	atomic.AddInt64(&e.calls, 1)
	vec := make([]float64, e.Dims)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		bucket := int(h.Sum32()) % e.Dims
		if bucket < 0 {
			bucket += e.Dims
		}
		vec[bucket]++
	}
	return vec, nil
}
