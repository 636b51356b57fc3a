package cag

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aegisrt/core/internal/cryptostore"
)

// exportFormatVersion is bumped whenever exportedEntry's shape changes.
const exportFormatVersion = 1

// exportedEntry is the on-disk shape of one cache entry (spec §4.6/§6:
// "cache export on-disk format").
type exportedEntry struct {
	ID             string        `json:"id"`
	Query          string        `json:"query"`
	Response       string        `json:"response"`
	Embedding      []float64     `json:"embedding"`
	Metadata       EntryMetadata `json:"metadata"`
	HitCount       int           `json:"hitCount"`
	CreatedAt      time.Time     `json:"createdAt"`
	LastAccessedAt time.Time     `json:"lastAccessedAt"`
	TTLMs          int64         `json:"ttlMs"`
}

type exportFile struct {
	Version int             `json:"version"`
	Entries []exportedEntry `json:"entries"`
}

// Export serializes every live entry and writes it encrypted to path via
// store (spec §4.6: the cache can be snapshotted and reloaded across
// restarts without re-querying the downstream LLM).
func (e *Engine) Export(store *cryptostore.Store, path string) error {
	e.mu.RLock()
	out := make([]exportedEntry, 0, len(e.entries))
	now := time.Now()
	for _, entry := range e.entries {
		if entry.isExpired(now) {
			continue
		}
		hitCount, lastAccessedAt, ttl, _ := entry.snapshot()
		out = append(out, exportedEntry{
			ID:             entry.ID,
			Query:          entry.Query,
			Response:       entry.Response,
			Embedding:      entry.Embedding,
			Metadata:       entry.Metadata,
			HitCount:       hitCount,
			CreatedAt:      entry.CreatedAt,
			LastAccessedAt: lastAccessedAt,
			TTLMs:          ttl.Milliseconds(),
		})
	}
	e.mu.RUnlock()

	data, err := json.Marshal(exportFile{Version: exportFormatVersion, Entries: out})
	if err != nil {
		return fmt.Errorf("cag: marshal export: %w", err)
	}
	return store.WriteFile(path, data)
}

// Import loads a previously Export-ed snapshot and merges it into the live
// cache. On an id collision the entry with the larger hit count wins,
// since it is the better-evidenced cache citizen.
func (e *Engine) Import(store *cryptostore.Store, path string) error {
	data, err := store.ReadFile(path)
	if err != nil {
		return err
	}
	var file exportFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("cag: unmarshal export: %w", err)
	}

	now := time.Now()
	for _, x := range file.Entries {
		entry := &Entry{
			ID:             x.ID,
			Query:          x.Query,
			Response:       x.Response,
			Embedding:      x.Embedding,
			Metadata:       x.Metadata,
			CreatedAt:      x.CreatedAt,
			lastAccessedAt: x.LastAccessedAt,
			ttl:            time.Duration(x.TTLMs) * time.Millisecond,
			expiresAt:      now.Add(time.Duration(x.TTLMs) * time.Millisecond),
		}
		entry.hitCount = x.HitCount

		e.mu.Lock()
		if existing, ok := e.entries[x.ID]; ok && existing.HitCount() >= x.HitCount {
			e.mu.Unlock()
			continue
		}
		e.mu.Unlock()

		e.insert(entry)
	}
	return nil
}
