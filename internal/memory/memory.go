// Package memory implements C4: the episodic/semantic/procedural/working
// memory façade wrapping the vector store (spec §4.4). The façade owns no
// indexing logic itself — semantic memory is a thin adapter over
// vectorstore.Store, and episodic/procedural/working each add only the
// bookkeeping spec §4.4 specifies. Grounded on the teacher's layered
// manager pattern (a façade type composing narrower stores, same shape as
// internal/database's relationship to the teacher's other packages).
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/aegisrt/core/internal/apierr"
	"github.com/aegisrt/core/internal/cryptostore"
	"github.com/aegisrt/core/internal/vectorstore"
	"github.com/google/uuid"
)

// Kind selects which sub-store an operation targets.
type Kind string

const (
	KindEpisodic   Kind = "episodic"
	KindSemantic   Kind = "semantic"
	KindProcedural Kind = "procedural"
	KindWorking    Kind = "working"
)

// Item is a generic unit of memory. Vector is required for Semantic and
// Episodic similarity queries; Procedural items carry Params/Body instead
// (see Procedure).
type Item struct {
	ID        string
	Text      string
	Vector    []float64
	Metadata  map[string]any
	Timestamp time.Time
}

// ScoredItem is one retrieval hit.
type ScoredItem struct {
	Item
	Score float64
}

// RetrieveOptions constrains a Retrieve/RetrieveBatch call.
type RetrieveOptions struct {
	Kinds     []Kind
	K         int
	Threshold float64
}

// RetrieveResult groups hits by the kind of store that produced them.
type RetrieveResult struct {
	Kind  Kind
	Items []ScoredItem
}

// BatchResult is one query's outcome within RetrieveBatch; a failing query
// never aborts its siblings (spec §4.4).
type BatchResult struct {
	Success bool
	Data    []RetrieveResult
	Err     error
}

// Config configures the façade (spec §4.4, §6).
type Config struct {
	WorkingCapacity     int
	RetrieveConcurrency int
	CodeLoadingEnabled  bool
	StoreDir            string
}

func (c *Config) setDefaults() {
	if c.WorkingCapacity <= 0 {
		c.WorkingCapacity = 10
	}
	if c.RetrieveConcurrency <= 0 {
		c.RetrieveConcurrency = 5
	}
}

// Manager is the C4 façade.
type Manager struct {
	cfg   Config
	store *cryptostore.Store

	semantic   vectorstore.Store
	episodic   *episodicStore
	procedural *proceduralStore
	working    *workingStore

	mu          sync.RWMutex
	initialized bool
}

// New constructs the façade. encKeyConfigured must be true or New returns
// a ConfigError immediately — spec §4.4: "the memory system refuses to
// start if no encryption key is configured."
func New(cfg Config, semantic vectorstore.Store, store *cryptostore.Store, encKeyConfigured bool) (*Manager, error) {
	if !encKeyConfigured {
		return nil, apierr.New(apierr.KindConfig, "memory: refusing to start without a configured encryption key", nil)
	}
	cfg.setDefaults()
	return &Manager{
		cfg:        cfg,
		store:      store,
		semantic:   semantic,
		episodic:   newEpisodicStore(),
		procedural: newProceduralStore(cfg.CodeLoadingEnabled),
		working:    newWorkingStore(cfg.WorkingCapacity),
	}, nil
}

// Initialize loads any persisted episodic/procedural state from disk.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return nil
	}
	if m.store != nil {
		if err := m.episodic.load(m.store, m.cfg.StoreDir); err != nil {
			return err
		}
		if err := m.procedural.load(m.store, m.cfg.StoreDir); err != nil {
			return err
		}
	}
	m.initialized = true
	return nil
}

// Store writes one item into the named kind's sub-store.
func (m *Manager) Store(ctx context.Context, kind Kind, item Item) error {
	switch kind {
	case KindSemantic:
		return m.semantic.Add(ctx, vectorstore.Document{ID: item.ID, Text: item.Text, Vector: item.Vector, Metadata: item.Metadata})
	case KindEpisodic:
		m.episodic.append(item)
		return nil
	case KindWorking:
		m.working.push(item)
		return nil
	default:
		return apierr.New(apierr.KindConfig, "memory: Store does not accept kind "+string(kind), nil)
	}
}

// StoreBatch writes many items into one sub-store.
func (m *Manager) StoreBatch(ctx context.Context, kind Kind, items []Item) error {
	if kind == KindSemantic {
		docs := make([]vectorstore.Document, len(items))
		for i, it := range items {
			docs[i] = vectorstore.Document{ID: it.ID, Text: it.Text, Vector: it.Vector, Metadata: it.Metadata}
		}
		return m.semantic.AddBatch(ctx, docs)
	}
	for _, it := range items {
		if err := m.Store(ctx, kind, it); err != nil {
			return err
		}
	}
	return nil
}

// Retrieve queries every kind named in opts.Kinds (default: semantic and
// episodic) and merges the per-kind results.
func (m *Manager) Retrieve(ctx context.Context, queryText string, queryVector []float64, opts RetrieveOptions) ([]RetrieveResult, error) {
	kinds := opts.Kinds
	if len(kinds) == 0 {
		kinds = []Kind{KindSemantic, KindEpisodic}
	}
	k := opts.K
	if k <= 0 {
		k = 10
	}

	out := make([]RetrieveResult, 0, len(kinds))
	for _, kind := range kinds {
		switch kind {
		case KindSemantic:
			hits, err := m.semantic.FindSimilar(ctx, queryVector, k, opts.Threshold)
			if err != nil {
				return nil, err
			}
			out = append(out, RetrieveResult{Kind: KindSemantic, Items: toScored(hits)})
		case KindEpisodic:
			out = append(out, RetrieveResult{Kind: KindEpisodic, Items: m.episodic.query(queryVector, k, opts.Threshold)})
		case KindWorking:
			out = append(out, RetrieveResult{Kind: KindWorking, Items: m.working.snapshot()})
		case KindProcedural:
			// Procedural memory is addressed by name, not similarity; a
			// Retrieve against it adds no result group (use GetProcedure).
		}
	}
	return out, nil
}

func toScored(hits []vectorstore.SearchResult) []ScoredItem {
	out := make([]ScoredItem, len(hits))
	for i, h := range hits {
		out[i] = ScoredItem{Item: Item{ID: h.ID, Text: h.Text, Metadata: h.Metadata}, Score: h.Score}
	}
	return out
}

// RetrieveQuery is one query within a RetrieveBatch call.
type RetrieveQuery struct {
	Text   string
	Vector []float64
	Opts   RetrieveOptions
}

// RetrieveBatch runs every query concurrently, capped at
// cfg.RetrieveConcurrency, isolating one query's failure from its siblings
// (spec §4.4).
func (m *Manager) RetrieveBatch(ctx context.Context, queries []RetrieveQuery) []BatchResult {
	results := make([]BatchResult, len(queries))
	sem := make(chan struct{}, m.cfg.RetrieveConcurrency)
	var wg sync.WaitGroup

	for i, q := range queries {
		wg.Add(1)
		go func(i int, q RetrieveQuery) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			data, err := m.Retrieve(ctx, q.Text, q.Vector, q.Opts)
			if err != nil {
				results[i] = BatchResult{Success: false, Err: err}
				return
			}
			results[i] = BatchResult{Success: true, Data: data}
		}(i, q)
	}
	wg.Wait()
	return results
}

// StoreInteraction records one agent turn into episodic memory (spec
// §4.7's façade calls this after every Process).
func (m *Manager) StoreInteraction(ctx context.Context, input, result string, metadata map[string]any) error {
	return m.Store(ctx, KindEpisodic, Item{
		ID:        newID(),
		Text:      input + "\n" + result,
		Metadata:  metadata,
		Timestamp: time.Now(),
	})
}

// Statistics reports per-store counts.
type Statistics struct {
	EpisodicCount   int
	SemanticCount   int
	ProceduralCount int
	WorkingCount    int
}

func (m *Manager) Statistics(ctx context.Context) (Statistics, error) {
	semCount, err := m.semantic.Count(ctx)
	if err != nil {
		return Statistics{}, err
	}
	return Statistics{
		EpisodicCount:   m.episodic.count(),
		SemanticCount:   semCount,
		ProceduralCount: m.procedural.count(),
		WorkingCount:    m.working.count(),
	}, nil
}

// Persist flushes episodic and procedural state to disk. Semantic
// persistence is owned by the vector store implementation itself; working
// memory is never persisted (spec §4.4: cleared on session end).
func (m *Manager) Persist() error {
	if m.store == nil {
		return nil
	}
	if err := m.episodic.persist(m.store, m.cfg.StoreDir); err != nil {
		return err
	}
	return m.procedural.persist(m.store, m.cfg.StoreDir)
}

// Shutdown persists state and clears working memory.
func (m *Manager) Shutdown() error {
	m.working.clear()
	return m.Persist()
}

// RegisterProcedure adds or replaces a named procedure.
func (m *Manager) RegisterProcedure(p Procedure) {
	m.procedural.register(p)
}

// GetProcedure looks up a named procedure. Returns apierr.KindConfig if
// code loading is disabled, procedural state was loaded from disk by
// Initialize, and the procedure carries a body (spec §4.4).
func (m *Manager) GetProcedure(name string) (Procedure, error) {
	return m.procedural.get(name)
}

// newID generates a unique identifier for episodic records.
func newID() string {
	return uuid.NewString()
}
