package memory

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/aegisrt/core/internal/apierr"
	"github.com/aegisrt/core/internal/cryptostore"
	"github.com/aegisrt/core/internal/vectorstore"
)

const episodicFile = "episodic-memory"

// episodicStore is an append-only log of interaction records (spec §4.4).
// Query returns either the most recent N records or the N most similar to
// a query vector, never both at once — callers pass a nil vector to select
// recency ordering.
type episodicStore struct {
	mu    sync.RWMutex
	items []Item
}

func newEpisodicStore() *episodicStore {
	return &episodicStore{}
}

func (e *episodicStore) append(item Item) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.items = append(e.items, item)
}

func (e *episodicStore) count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.items)
}

// query returns the last k items by recency when queryVector is empty, or
// the k items with the highest cosine similarity to queryVector otherwise
// (spec §4.4).
func (e *episodicStore) query(queryVector []float64, k int, threshold float64) []ScoredItem {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(queryVector) == 0 {
		n := len(e.items)
		start := n - k
		if start < 0 {
			start = 0
		}
		out := make([]ScoredItem, 0, n-start)
		for i := n - 1; i >= start; i-- {
			out = append(out, ScoredItem{Item: e.items[i], Score: 1})
		}
		return out
	}

	scored := make([]ScoredItem, 0, len(e.items))
	for _, it := range e.items {
		if len(it.Vector) == 0 {
			continue
		}
		score := vectorstore.Cosine(queryVector, it.Vector)
		if score < threshold {
			continue
		}
		scored = append(scored, ScoredItem{Item: it, Score: score})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

func (e *episodicStore) persist(store *cryptostore.Store, dir string) error {
	e.mu.RLock()
	data, err := json.Marshal(e.items)
	e.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("memory: marshal episodic store: %w", err)
	}
	return store.WriteFile(filepath.Join(dir, episodicFile), data)
}

func (e *episodicStore) load(store *cryptostore.Store, dir string) error {
	data, err := store.ReadFile(filepath.Join(dir, episodicFile))
	if err != nil {
		if apierr.Is(err, apierr.KindNotFound) {
			return nil
		}
		return err
	}
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("memory: unmarshal episodic store: %w", err)
	}
	e.mu.Lock()
	e.items = items
	e.mu.Unlock()
	return nil
}
