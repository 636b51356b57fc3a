package cag

import (
	"sync"
	"time"
)

// EntryMetadata carries the response-shaping fields spec §3/§4.6 attach to
// a cache entry: sources, techniques, tools, code examples, and a
// confidence score.
type EntryMetadata struct {
	Sources      []string
	Techniques   []string
	Tools        []string
	CodeExamples []string
	Confidence   float64
}

// Entry is one cached response (spec §3). ID is always sha256(Query).
// Mutable fields (HitCount, LastAccessedAt, TTL, ExpiresAt) are guarded by
// their own mutex so updating them never needs the engine-wide map lock
// (moving a hit entry to the front of the LRU list still takes it).
type Entry struct {
	ID       string
	Query    string
	Response string
	Embedding []float64
	Metadata EntryMetadata

	CreatedAt time.Time

	mu             sync.Mutex
	hitCount       int
	lastAccessedAt time.Time
	ttl            time.Duration
	expiresAt      time.Time
}

func newEntry(id, query, response string, embedding []float64, meta EntryMetadata, baseTTL time.Duration, now time.Time) *Entry {
	return &Entry{
		ID:             id,
		Query:          query,
		Response:       response,
		Embedding:      embedding,
		Metadata:       meta,
		CreatedAt:      now,
		lastAccessedAt: now,
		ttl:            baseTTL,
		expiresAt:      now.Add(baseTTL),
	}
}

func (e *Entry) snapshot() (hitCount int, lastAccessedAt time.Time, ttl time.Duration, expiresAt time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hitCount, e.lastAccessedAt, e.ttl, e.expiresAt
}

// HitCount reports the current hit count (read-only snapshot).
func (e *Entry) HitCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hitCount
}

func (e *Entry) isExpired(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return now.After(e.expiresAt)
}

// touch records a hit and extends the TTL per spec §4.6's adaptive
// formula: ttl <- min(maxTtl, ttl * (1 + hitCount/hitSaturation)). Always
// monotone in hitCount and capped at maxTTL (spec §9's monotonicity
// invariant).
func (e *Entry) touch(now time.Time, hitSaturation int, maxTTL time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hitCount++
	if hitSaturation <= 0 {
		hitSaturation = 1
	}
	newTTL := time.Duration(float64(e.ttl) * (1 + float64(e.hitCount)/float64(hitSaturation)))
	if newTTL > maxTTL {
		newTTL = maxTTL
	}
	e.ttl = newTTL
	e.lastAccessedAt = now
	e.expiresAt = now.Add(newTTL)
}

// estimatedBytes is a rough byte-footprint estimate used for the
// cfg.MaxBytes budget (spec §3: "total memory footprint bounded by a
// configured byte budget").
func (e *Entry) estimatedBytes() int64 {
	n := len(e.ID) + len(e.Query) + len(e.Response)
	n += 8 * len(e.Embedding)
	for _, s := range e.Metadata.Sources {
		n += len(s)
	}
	for _, s := range e.Metadata.Techniques {
		n += len(s)
	}
	for _, s := range e.Metadata.Tools {
		n += len(s)
	}
	for _, s := range e.Metadata.CodeExamples {
		n += len(s)
	}
	return int64(n) + 128 // fixed per-entry overhead (struct fields, map slot)
}
