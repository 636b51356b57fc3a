// Package cag implements C6: the cache-augmented generation engine sitting
// in front of the LLM (spec §4.6). Query runs three lookup tiers — exact,
// similarity, and optional embedding — before falling through to a
// single-flight-coalesced downstream Generate call wrapped in C1's
// limiter, breaker, and retry. Grounded on the teacher's layered-façade
// convention (internal/memory.Manager, internal/auth.Manager) for overall
// shape; the cache map + per-key single-flight + LRU eviction has no
// direct teacher analogue and is built from spec §4.6/§5/§8 directly,
// styled after the teacher's own generic-function idiom.
package cag

import (
	"container/list"
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aegisrt/core/internal/apierr"
	"github.com/aegisrt/core/internal/llmclient"
	"github.com/aegisrt/core/internal/resilience"
)

// CacheHitType is the tier that answered a Query (spec §4.6's Result
// shape).
type CacheHitType string

const (
	HitNone      CacheHitType = "none"
	HitExact     CacheHitType = "exact"
	HitSimilar   CacheHitType = "similar"
	HitEmbedding CacheHitType = "embedding"
)

// Config configures Engine (spec §4.6, §6).
type Config struct {
	BaseTTL            time.Duration
	MaxTTL             time.Duration
	HitSaturation      int
	SimilarThreshold   float64
	EmbeddingThreshold float64
	MaxEntries         int
	MaxBytes           int64
	TopK               int
	PreWarmConcurrency int
	GenerateDeadline   time.Duration
}

func (c *Config) setDefaults() {
	if c.BaseTTL <= 0 {
		c.BaseTTL = time.Hour
	}
	if c.MaxTTL <= 0 {
		c.MaxTTL = 24 * time.Hour
	}
	if c.HitSaturation <= 0 {
		c.HitSaturation = 10
	}
	if c.SimilarThreshold <= 0 {
		c.SimilarThreshold = 0.95
	}
	if c.EmbeddingThreshold <= 0 {
		c.EmbeddingThreshold = 0.85
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = 100_000
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 512 * 1024 * 1024
	}
	if c.TopK <= 0 {
		c.TopK = 512
	}
	if c.PreWarmConcurrency <= 0 {
		c.PreWarmConcurrency = 4
	}
	if c.GenerateDeadline <= 0 {
		c.GenerateDeadline = 30 * time.Second
	}
}

// QueryOptions constrains a single Query call.
type QueryOptions struct {
	// AcceptApproximate allows the embedding tier (spec §4.6 step 4) to
	// answer when similarity is between EmbeddingThreshold and
	// SimilarThreshold.
	AcceptApproximate bool
	// ContextKnowledge is additional retrieved context the caller supplies
	// (e.g. from C4) to include in the downstream Generate prompt on miss.
	ContextKnowledge string
	MaxTokens        int
	Temperature      float64
}

// Result is the shape returned to callers (spec §4.6).
type Result struct {
	Response         string
	Cached           bool
	CacheHitType     CacheHitType
	SimilarityScore  *float64
	Confidence       float64
	Techniques       []string
	Tools            []string
	CodeExamples     []string
	Sources          []string
	ProcessingTimeMs int64
}

// Engine is the C6 façade.
type Engine struct {
	cfg     Config
	gen     llmclient.Generator
	emb     llmclient.Embedder
	breaker *resilience.Breaker
	limiter *resilience.TokenBucket
	retry   resilience.RetryPolicy

	mu       sync.RWMutex
	entries  map[string]*Entry
	lru      *list.List
	lruElems map[string]*list.Element

	bytesUsed atomic.Int64
	failures  atomic.Int64

	flight *flightGroup
}

// New constructs the CAG engine. breaker and limiter protect the
// downstream Generate call (spec §4.1/§4.6); retry is typically
// resilience.DefaultRetryPolicy(), tuned to classify llmclient errors.
func New(cfg Config, gen llmclient.Generator, emb llmclient.Embedder, breaker *resilience.Breaker, limiter *resilience.TokenBucket, retry resilience.RetryPolicy) *Engine {
	cfg.setDefaults()
	return &Engine{
		cfg:      cfg,
		gen:      gen,
		emb:      emb,
		breaker:  breaker,
		limiter:  limiter,
		retry:    retry,
		entries:  make(map[string]*Entry),
		lru:      list.New(),
		lruElems: make(map[string]*list.Element),
		flight:   newFlightGroup(),
	}
}

// Query implements spec §4.6's layered lookup.
func (e *Engine) Query(ctx context.Context, q string, opts QueryOptions) (Result, error) {
	start := time.Now()
	normalized := Normalize(q)
	qid := QueryID(normalized)

	if entry, ok := e.liveEntry(qid); ok {
		e.recordHit(entry)
		return e.resultFromEntry(entry, HitExact, nil, start), nil
	}

	var qv []float64
	if e.emb != nil {
		var err error
		qv, err = e.emb.Embed(ctx, normalized)
		if err != nil {
			slog.Warn("cag: embed failed, skipping similarity tiers", "error", err)
		}
	}

	if qv != nil {
		if best, score := e.mostSimilar(qv); best != nil {
			switch {
			case score >= e.cfg.SimilarThreshold:
				e.recordHit(best)
				s := score
				return e.resultFromEntry(best, HitSimilar, &s, start), nil
			case score >= e.cfg.EmbeddingThreshold && opts.AcceptApproximate:
				e.recordHit(best)
				s := score
				return e.resultFromEntry(best, HitEmbedding, &s, start), nil
			}
		}
	}

	result, err := e.flight.Do(ctx, qid, func() (Result, error) {
		return e.generateAndStore(qid, normalized, qv, opts)
	})
	if err != nil {
		e.failures.Add(1)
		if apierr.Is(err, apierr.KindGenerationFailed) || apierr.Is(err, apierr.KindCircuitOpen) {
			return Result{}, err
		}
		return Result{}, apierr.Wrap(apierr.KindGenerationFailed, "cag: generate failed", err)
	}
	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	result.Cached = false
	result.CacheHitType = HitNone
	return result, nil
}

// generateAndStore runs the single downstream Generate call (protected by
// the breaker, limiter, and retry policy) and, on success, inserts a fresh
// entry. It never runs concurrently for the same key — callers share this
// via flightGroup. Detached from any one caller's ctx (spec §5) except for
// a fixed deadline, so cancelling one awaiter never cancels the shared
// call.
func (e *Engine) generateAndStore(qid, normalized string, qv []float64, opts QueryOptions) (Result, error) {
	bg, cancel := context.WithTimeout(context.Background(), e.cfg.GenerateDeadline)
	defer cancel()

	if e.limiter != nil {
		if err := e.limiter.Wait(bg, 1); err != nil {
			return Result{}, apierr.Wrap(apierr.KindTransient, "cag: limiter wait", err)
		}
	}

	prompt := normalized
	if opts.ContextKnowledge != "" {
		prompt = opts.ContextKnowledge + "\n\n" + normalized
	}

	genFn := func(ctx context.Context) (string, error) {
		return e.gen.Generate(ctx, llmclient.GenerateRequest{
			Prompt:      prompt,
			MaxTokens:   opts.MaxTokens,
			Temperature: opts.Temperature,
			Deadline:    time.Now().Add(e.cfg.GenerateDeadline),
		})
	}

	var text string
	var err error
	if e.breaker != nil {
		text, err = resilience.ExecuteContext(bg, e.breaker, func(ctx context.Context) (string, error) {
			return resilience.Retry(ctx, e.retry, genFn)
		})
	} else {
		text, err = resilience.Retry(bg, e.retry, genFn)
	}
	if err != nil {
		if apierr.Is(err, apierr.KindCircuitOpen) {
			return Result{}, err
		}
		return Result{}, apierr.Wrap(apierr.KindGenerationFailed, "cag: downstream generate failed", err)
	}

	now := time.Now()
	entry := newEntry(qid, normalized, text, qv, EntryMetadata{}, e.cfg.BaseTTL, now)
	e.insert(entry)

	return Result{
		Response:     text,
		Confidence:   entry.Metadata.Confidence,
		Techniques:   entry.Metadata.Techniques,
		Tools:        entry.Metadata.Tools,
		CodeExamples: entry.Metadata.CodeExamples,
		Sources:      entry.Metadata.Sources,
	}, nil
}

func (e *Engine) liveEntry(qid string) (*Entry, bool) {
	e.mu.RLock()
	entry, ok := e.entries[qid]
	e.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if entry.isExpired(time.Now()) {
		e.remove(qid)
		return nil, false
	}
	return entry, true
}

// mostSimilar scans at most cfg.TopK most-recently-used live entries (spec
// §4.6 step 3) and returns the highest-cosine-similarity entry alongside
// its score.
func (e *Engine) mostSimilar(qv []float64) (*Entry, float64) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var best *Entry
	bestScore := -1.0
	now := time.Now()
	n := 0
	for el := e.lru.Front(); el != nil && n < e.cfg.TopK; el = el.Next() {
		id := el.Value.(string)
		entry, ok := e.entries[id]
		if !ok || entry.isExpired(now) {
			continue
		}
		n++
		score := cosine(qv, entry.Embedding)
		if score > bestScore {
			bestScore = score
			best = entry
		}
	}
	return best, bestScore
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

func (e *Engine) recordHit(entry *Entry) {
	entry.touch(time.Now(), e.cfg.HitSaturation, e.cfg.MaxTTL)
	e.mu.Lock()
	if el, ok := e.lruElems[entry.ID]; ok {
		e.lru.MoveToFront(el)
	}
	e.mu.Unlock()
}

func (e *Engine) resultFromEntry(entry *Entry, hitType CacheHitType, score *float64, start time.Time) Result {
	return Result{
		Response:         entry.Response,
		Cached:           true,
		CacheHitType:     hitType,
		SimilarityScore:  score,
		Confidence:       entry.Metadata.Confidence,
		Techniques:       entry.Metadata.Techniques,
		Tools:            entry.Metadata.Tools,
		CodeExamples:     entry.Metadata.CodeExamples,
		Sources:          entry.Metadata.Sources,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}
}

// insert adds a freshly generated entry and enforces eviction (spec §4.6).
func (e *Engine) insert(entry *Entry) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if old, ok := e.entries[entry.ID]; ok {
		e.bytesUsed.Add(-old.estimatedBytes())
		if el, ok := e.lruElems[entry.ID]; ok {
			e.lru.Remove(el)
		}
	}
	e.entries[entry.ID] = entry
	e.lruElems[entry.ID] = e.lru.PushFront(entry.ID)
	e.bytesUsed.Add(entry.estimatedBytes())

	e.evictLocked()
}

// remove deletes a single entry by id, e.g. a lazily-discovered TTL
// expiry on access.
func (e *Engine) remove(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removeLocked(id)
}

func (e *Engine) removeLocked(id string) {
	entry, ok := e.entries[id]
	if !ok {
		return
	}
	delete(e.entries, id)
	e.bytesUsed.Add(-entry.estimatedBytes())
	if el, ok := e.lruElems[id]; ok {
		e.lru.Remove(el)
		delete(e.lruElems, id)
	}
}

// evictLocked enforces spec §4.6's eviction order: TTL-expired entries
// first, then strict LRU until maxBytes and maxEntries are satisfied.
// Caller must hold e.mu for writing.
func (e *Engine) evictLocked() {
	now := time.Now()
	for id, entry := range e.entries {
		if entry.isExpired(now) {
			e.removeLocked(id)
		}
	}
	for (e.bytesUsed.Load() > e.cfg.MaxBytes || len(e.entries) > e.cfg.MaxEntries) && e.lru.Len() > 0 {
		back := e.lru.Back()
		id := back.Value.(string)
		e.removeLocked(id)
	}
}

// Sweep eagerly evicts TTL-expired entries without waiting for access
// (spec §4.6: "checked lazily on access and eagerly by a sweeper").
func (e *Engine) Sweep() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	before := len(e.entries)
	e.evictLocked()
	return before - len(e.entries)
}

// StartSweeper runs Sweep on a fixed interval until ctx is cancelled.
func (e *Engine) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.Sweep()
			}
		}
	}()
}

// Count reports the number of entries held, including expired entries not
// yet removed by a lookup, an insert, or Sweep.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.entries)
}

// BytesUsed reports the current estimated byte footprint.
func (e *Engine) BytesUsed() int64 { return e.bytesUsed.Load() }

// Failures reports the cumulative count of Query calls whose miss path
// failed (GenerationFailed or CircuitOpen, including an awaiter whose own
// ctx was cancelled).
func (e *Engine) Failures() int64 { return e.failures.Load() }

// PreWarm executes queries under a bounded concurrency cap (spec §4.6),
// populating the cache ahead of live traffic.
func (e *Engine) PreWarm(ctx context.Context, queries []string) []error {
	errs := make([]error, len(queries))
	sem := make(chan struct{}, e.cfg.PreWarmConcurrency)
	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			_, err := e.Query(ctx, q, QueryOptions{})
			errs[i] = err
		}(i, q)
	}
	wg.Wait()
	return errs
}
