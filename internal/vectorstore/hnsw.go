package vectorstore

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/aegisrt/core/internal/apierr"
	"github.com/aegisrt/core/internal/cryptostore"
)

// IndexConfig configures an in-process HNSW graph (spec §4.3).
type IndexConfig struct {
	M              int // max neighbors per node above layer 0
	EfConstruction int // beam width used while inserting
	EfSearch       int // beam width used while querying
	Dimensions     int // rejected at insert if a vector's length differs
}

func (c *IndexConfig) setDefaults() {
	if c.M <= 0 {
		c.M = 16
	}
	if c.EfConstruction <= 0 {
		c.EfConstruction = 200
	}
	if c.EfSearch <= 0 {
		c.EfSearch = 50
	}
}

// node is one point in the graph, with a per-layer neighbor list.
type node struct {
	doc       Document
	neighbors [][]string // neighbors[layer] = neighbor ids
}

// Index is the default Store implementation: an in-process HNSW graph
// persisted through cryptostore. Safe for concurrent use.
type Index struct {
	cfg   IndexConfig
	store *cryptostore.Store
	path  string

	mu         sync.RWMutex
	nodes      map[string]*node
	entryPoint string
	maxLayer   int
	mL         float64
}

// NewIndex constructs an empty index. store/path may be nil/"" to disable
// persistence (useful for tests).
func NewIndex(cfg IndexConfig, store *cryptostore.Store, path string) *Index {
	cfg.setDefaults()
	return &Index{
		cfg:      cfg,
		store:    store,
		path:     path,
		nodes:    make(map[string]*node),
		maxLayer: -1,
		mL:       1 / math.Log(2),
	}
}

func (ix *Index) randomLevel() int {
	u := rand.Float64()
	for u == 0 {
		u = rand.Float64()
	}
	return int(math.Floor(-math.Log(u) * ix.mL))
}

func (ix *Index) neighborCap(layer int) int {
	if layer == 0 {
		return 2 * ix.cfg.M
	}
	return ix.cfg.M
}

// candidate pairs an id with its distance (similarity, higher is closer)
// to the query, used by the bounded heaps below.
type candidate struct {
	id    string
	score float64
}

// maxHeap keeps the *worst* candidate at the top so it can be evicted when
// a better one arrives, used to bound the beam to ef entries.
type maxHeap []candidate

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].score < h[j].score }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// minHeap keeps the *best* candidate at the top, used as the exploration
// frontier during beam search.
type minHeap []candidate

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].score > h[j].score }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// searchLayer performs a beam search of width ef on the given layer,
// starting from entryIDs. Caller must hold ix.mu (read lock suffices).
func (ix *Index) searchLayer(query []float64, entryIDs []string, ef, layer int, visited map[string]bool) []candidate {
	candidates := &minHeap{}
	results := &maxHeap{}

	for _, id := range entryIDs {
		if visited[id] {
			continue
		}
		visited[id] = true
		n, ok := ix.nodes[id]
		if !ok {
			continue
		}
		score := Cosine(query, n.doc.Vector)
		heap.Push(candidates, candidate{id, score})
		heap.Push(results, candidate{id, score})
	}

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(candidate)
		if results.Len() >= ef {
			worst := (*results)[0]
			if c.score < worst.score {
				break
			}
		}
		n, ok := ix.nodes[c.id]
		if !ok || layer >= len(n.neighbors) {
			continue
		}
		for _, nbID := range n.neighbors[layer] {
			if visited[nbID] {
				continue
			}
			visited[nbID] = true
			nb, ok := ix.nodes[nbID]
			if !ok {
				continue
			}
			score := Cosine(query, nb.doc.Vector)
			if results.Len() < ef {
				heap.Push(results, candidate{nbID, score})
				heap.Push(candidates, candidate{nbID, score})
			} else if score > (*results)[0].score {
				heap.Push(results, candidate{nbID, score})
				heap.Pop(results)
				heap.Push(candidates, candidate{nbID, score})
			}
		}
	}

	out := make([]candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(candidate)
	}
	return out
}

// Add implements Store. Holds the write lock only for graph mutation; the
// caller has already computed the embedding, satisfying spec §4.3's "no
// single global lock across embeddings" rule for the batch path.
func (ix *Index) Add(_ context.Context, doc Document) error {
	if ix.cfg.Dimensions > 0 && len(doc.Vector) != ix.cfg.Dimensions {
		return apierr.New(apierr.KindConfig, "vectorstore: dimension mismatch", map[string]any{
			"expected": ix.cfg.Dimensions, "got": len(doc.Vector),
		})
	}

	ix.mu.Lock()
	ix.insertLocked(doc)
	ix.mu.Unlock()

	return ix.persist()
}

func (ix *Index) insertLocked(doc Document) {
	level := ix.randomLevel()
	n := &node{doc: doc, neighbors: make([][]string, level+1)}
	for i := range n.neighbors {
		n.neighbors[i] = nil
	}

	if ix.entryPoint == "" {
		ix.nodes[doc.ID] = n
		ix.entryPoint = doc.ID
		ix.maxLayer = level
		return
	}
	if _, exists := ix.nodes[doc.ID]; exists {
		ix.removeLocked(doc.ID)
	}

	ix.nodes[doc.ID] = n

	ep := ix.entryPoint
	for l := ix.maxLayer; l > level; l-- {
		best := ix.searchLayer(doc.Vector, []string{ep}, 1, l, map[string]bool{})
		if len(best) > 0 {
			ep = best[0].id
		}
	}

	for l := min(level, ix.maxLayer); l >= 0; l-- {
		candidates := ix.searchLayer(doc.Vector, []string{ep}, ix.cfg.EfConstruction, l, map[string]bool{})
		cap := ix.neighborCap(l)
		if len(candidates) > cap {
			candidates = candidates[:cap]
		}
		for _, c := range candidates {
			ix.link(doc.ID, c.id, l)
			ix.link(c.id, doc.ID, l)
			ix.pruneNeighbors(c.id, l)
		}
		if len(candidates) > 0 {
			ep = candidates[0].id
		}
	}

	if level > ix.maxLayer {
		ix.maxLayer = level
		ix.entryPoint = doc.ID
	}
}

func (ix *Index) link(from, to string, layer int) {
	n, ok := ix.nodes[from]
	if !ok || layer >= len(n.neighbors) {
		return
	}
	for _, existing := range n.neighbors[layer] {
		if existing == to {
			return
		}
	}
	n.neighbors[layer] = append(n.neighbors[layer], to)
}

func (ix *Index) pruneNeighbors(id string, layer int) {
	n, ok := ix.nodes[id]
	if !ok || layer >= len(n.neighbors) {
		return
	}
	cap := ix.neighborCap(layer)
	if len(n.neighbors[layer]) <= cap {
		return
	}
	type scored struct {
		id    string
		score float64
	}
	scoredList := make([]scored, 0, len(n.neighbors[layer]))
	for _, nbID := range n.neighbors[layer] {
		nb, ok := ix.nodes[nbID]
		if !ok {
			continue
		}
		scoredList = append(scoredList, scored{nbID, Cosine(n.doc.Vector, nb.doc.Vector)})
	}
	// keep the `cap` closest
	for i := 0; i < len(scoredList); i++ {
		for j := i + 1; j < len(scoredList); j++ {
			if scoredList[j].score > scoredList[i].score {
				scoredList[i], scoredList[j] = scoredList[j], scoredList[i]
			}
		}
	}
	if len(scoredList) > cap {
		scoredList = scoredList[:cap]
	}
	kept := make([]string, len(scoredList))
	for i, s := range scoredList {
		kept[i] = s.id
	}
	n.neighbors[layer] = kept
}

// AddBatch implements Store. The write lock is taken once for the whole
// batch; embeddings arrive precomputed, so no embedding work happens
// while it is held.
func (ix *Index) AddBatch(ctx context.Context, docs []Document) error {
	for _, d := range docs {
		if ix.cfg.Dimensions > 0 && len(d.Vector) != ix.cfg.Dimensions {
			return apierr.New(apierr.KindConfig, "vectorstore: dimension mismatch", map[string]any{
				"id": d.ID, "expected": ix.cfg.Dimensions, "got": len(d.Vector),
			})
		}
	}
	ix.mu.Lock()
	for _, d := range docs {
		ix.insertLocked(d)
	}
	ix.mu.Unlock()
	return ix.persist()
}

// FindSimilar implements Store.
func (ix *Index) FindSimilar(_ context.Context, queryVector []float64, k int, threshold float64) ([]SearchResult, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.entryPoint == "" {
		return nil, nil
	}
	if ix.cfg.Dimensions > 0 && len(queryVector) != ix.cfg.Dimensions {
		return nil, nil // mismatched dimension: treated as similarity 0 everywhere, nothing clears threshold>0
	}

	ep := ix.entryPoint
	for l := ix.maxLayer; l > 0; l-- {
		best := ix.searchLayer(queryVector, []string{ep}, 1, l, map[string]bool{})
		if len(best) > 0 {
			ep = best[0].id
		}
	}

	ef := ix.cfg.EfSearch
	if ef < k {
		ef = k
	}
	candidates := ix.searchLayer(queryVector, []string{ep}, ef, 0, map[string]bool{})

	out := make([]SearchResult, 0, k)
	for _, c := range candidates {
		if c.score < threshold {
			continue
		}
		n, ok := ix.nodes[c.id]
		if !ok {
			continue
		}
		out = append(out, SearchResult{ID: c.id, Text: n.doc.Text, Score: c.score, Metadata: n.doc.Metadata})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// Remove implements Store.
func (ix *Index) Remove(_ context.Context, id string) error {
	ix.mu.Lock()
	ix.removeLocked(id)
	ix.mu.Unlock()
	return ix.persist()
}

func (ix *Index) removeLocked(id string) {
	n, ok := ix.nodes[id]
	if !ok {
		return
	}
	for layer, neighbors := range n.neighbors {
		for _, nbID := range neighbors {
			if nb, ok := ix.nodes[nbID]; ok && layer < len(nb.neighbors) {
				nb.neighbors[layer] = removeString(nb.neighbors[layer], id)
			}
		}
	}
	delete(ix.nodes, id)

	if ix.entryPoint == id {
		ix.recomputeEntryPointLocked()
	}
}

func (ix *Index) recomputeEntryPointLocked() {
	ix.entryPoint = ""
	ix.maxLayer = -1
	for nid, n := range ix.nodes {
		level := len(n.neighbors) - 1
		if level > ix.maxLayer {
			ix.maxLayer = level
			ix.entryPoint = nid
		}
	}
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// Count implements Store.
func (ix *Index) Count(_ context.Context) (int, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.nodes), nil
}

// --- persistence ---

type persistedNode struct {
	Doc       Document   `json:"doc"`
	Neighbors [][]string `json:"neighbors"`
}

type persistedIndex struct {
	Nodes      map[string]persistedNode `json:"nodes"`
	EntryPoint string                   `json:"entryPoint"`
	MaxLayer   int                      `json:"maxLayer"`
}

func (ix *Index) persist() error {
	if ix.store == nil || ix.path == "" {
		return nil
	}
	ix.mu.RLock()
	snap := persistedIndex{
		Nodes:      make(map[string]persistedNode, len(ix.nodes)),
		EntryPoint: ix.entryPoint,
		MaxLayer:   ix.maxLayer,
	}
	for id, n := range ix.nodes {
		snap.Nodes[id] = persistedNode{Doc: n.doc, Neighbors: n.neighbors}
	}
	ix.mu.RUnlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("vectorstore: marshal snapshot: %w", err)
	}
	return ix.store.WriteFile(ix.path, data)
}

// Load restores the index from its persisted snapshot at path. A missing
// file leaves the index empty (first run).
func (ix *Index) Load() error {
	if ix.store == nil || ix.path == "" {
		return nil
	}
	data, err := ix.store.ReadFile(ix.path)
	if err != nil {
		if apierr.Is(err, apierr.KindNotFound) {
			return nil
		}
		return err
	}
	var snap persistedIndex
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("vectorstore: unmarshal snapshot: %w", err)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.nodes = make(map[string]*node, len(snap.Nodes))
	for id, pn := range snap.Nodes {
		ix.nodes[id] = &node{doc: pn.Doc, neighbors: pn.Neighbors}
	}
	ix.entryPoint = snap.EntryPoint
	ix.maxLayer = snap.MaxLayer
	return nil
}

