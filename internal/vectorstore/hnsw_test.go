package vectorstore

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/aegisrt/core/internal/cryptostore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unitVector(dims int, seed int64) []float64 {
	r := rand.New(rand.NewSource(seed))
	v := make([]float64, dims)
	var norm float64
	for i := range v {
		v[i] = r.NormFloat64()
		norm += v[i] * v[i]
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] /= norm
	}
	return v
}

func TestCosine_OrthogonalAndIdentical(t *testing.T) {
	a := []float64{1, 0, 0}
	b := []float64{0, 1, 0}
	assert.InDelta(t, 0, Cosine(a, b), 1e-9)
	assert.InDelta(t, 1, Cosine(a, a), 1e-9)
}

func TestCosine_MismatchedLengthOrZeroVectorIsZero(t *testing.T) {
	assert.Equal(t, 0.0, Cosine([]float64{1, 2}, []float64{1, 2, 3}))
	assert.Equal(t, 0.0, Cosine([]float64{0, 0}, []float64{1, 1}))
}

func TestIndex_AddFindRemoveCountInvariants(t *testing.T) {
	ctx := context.Background()
	ix := NewIndex(IndexConfig{Dimensions: 3}, nil, "")

	require.NoError(t, ix.Add(ctx, Document{ID: "a", Vector: []float64{1, 0, 0}, Text: "a"}))
	require.NoError(t, ix.Add(ctx, Document{ID: "b", Vector: []float64{0.9, 0.1, 0}, Text: "b"}))
	require.NoError(t, ix.Add(ctx, Document{ID: "c", Vector: []float64{0, 0, 1}, Text: "c"}))

	n, err := ix.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	results, err := ix.FindSimilar(ctx, []float64{1, 0, 0}, 2, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID, "the exact match should rank first")

	require.NoError(t, ix.Remove(ctx, "a"))
	n, err = ix.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	results, err = ix.FindSimilar(ctx, []float64{1, 0, 0}, 2, 0)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "a", r.ID, "a removed document must never be returned")
	}
}

func TestIndex_AddRejectsDimensionMismatch(t *testing.T) {
	ix := NewIndex(IndexConfig{Dimensions: 3}, nil, "")
	err := ix.Add(context.Background(), Document{ID: "bad", Vector: []float64{1, 2}})
	assert.Error(t, err)
}

func TestIndex_FindSimilarRespectsThreshold(t *testing.T) {
	ctx := context.Background()
	ix := NewIndex(IndexConfig{Dimensions: 2}, nil, "")
	require.NoError(t, ix.Add(ctx, Document{ID: "close", Vector: []float64{1, 0}}))
	require.NoError(t, ix.Add(ctx, Document{ID: "far", Vector: []float64{0, 1}}))

	results, err := ix.FindSimilar(ctx, []float64{1, 0}, 10, 0.99)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "close", results[0].ID)
}

func TestIndex_EmptyIndexFindSimilarReturnsNothing(t *testing.T) {
	ix := NewIndex(IndexConfig{Dimensions: 4}, nil, "")
	results, err := ix.FindSimilar(context.Background(), []float64{1, 0, 0, 0}, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

// TestIndex_RecallAgainstBruteForce builds a few hundred random unit
// vectors, queries for the top 10 nearest neighbors of a held-out query,
// and checks the HNSW graph recovers at least 90% of what brute-force
// cosine search finds (spec §8's ANN recall@10 >= 0.9 scenario).
func TestIndex_RecallAgainstBruteForce(t *testing.T) {
	const dims = 16
	const n = 500
	const k = 10

	ctx := context.Background()
	ix := NewIndex(IndexConfig{Dimensions: dims, M: 16, EfConstruction: 200, EfSearch: 100}, nil, "")

	docs := make([]Document, n)
	for i := 0; i < n; i++ {
		docs[i] = Document{ID: fmt.Sprintf("doc-%d", i), Vector: unitVector(dims, int64(i))}
	}
	require.NoError(t, ix.AddBatch(ctx, docs))

	query := unitVector(dims, 999999)

	type scored struct {
		id    string
		score float64
	}
	brute := make([]scored, n)
	for i, d := range docs {
		brute[i] = scored{d.ID, Cosine(query, d.Vector)}
	}
	sort.Slice(brute, func(i, j int) bool { return brute[i].score > brute[j].score })
	truth := make(map[string]bool, k)
	for i := 0; i < k; i++ {
		truth[brute[i].id] = true
	}

	got, err := ix.FindSimilar(ctx, query, k, 0)
	require.NoError(t, err)

	hits := 0
	for _, r := range got {
		if truth[r.ID] {
			hits++
		}
	}
	recall := float64(hits) / float64(k)
	assert.GreaterOrEqual(t, recall, 0.9, "HNSW recall@10 against brute force should be at least 0.9")
}

func TestIndex_PersistAndLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := cryptostore.New("vectorstore", []byte("a-test-secret-at-least-32-bytes!!"))
	require.NoError(t, err)

	dir := t.TempDir() + "/index.bin"
	ix := NewIndex(IndexConfig{Dimensions: 2}, store, dir)
	require.NoError(t, ix.Add(ctx, Document{ID: "a", Vector: []float64{1, 0}, Text: "alpha"}))
	require.NoError(t, ix.Add(ctx, Document{ID: "b", Vector: []float64{0, 1}, Text: "beta"}))

	reloaded := NewIndex(IndexConfig{Dimensions: 2}, store, dir)
	require.NoError(t, reloaded.Load())

	n, err := reloaded.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	results, err := reloaded.FindSimilar(ctx, []float64{1, 0}, 1, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "alpha", results[0].Text)
}
