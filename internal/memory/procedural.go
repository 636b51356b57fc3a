package memory

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/aegisrt/core/internal/apierr"
	"github.com/aegisrt/core/internal/cryptostore"
)

const proceduralFile = "procedural-memory"

// Procedure is a named, callable procedure. Persistence serializes only
// ParamNames and Body — reconstructing a live callable from Body is the
// caller's responsibility, gated by codeLoadingEnabled (spec §4.4).
type Procedure struct {
	Name       string
	ParamNames []string
	Body       string
}

// proceduralStore is a keyed registry of procedures. Rehydrating a
// procedure's Body after Load refuses to run unless codeLoadingEnabled was
// set at construction — the store still returns the procedure's metadata,
// it just marks Body unusable.
type proceduralStore struct {
	mu                 sync.RWMutex
	procedures         map[string]Procedure
	codeLoadingEnabled bool
	loadedFromDisk     bool
}

func newProceduralStore(codeLoadingEnabled bool) *proceduralStore {
	return &proceduralStore{
		procedures:         make(map[string]Procedure),
		codeLoadingEnabled: codeLoadingEnabled,
	}
}

func (p *proceduralStore) register(proc Procedure) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.procedures[proc.Name] = proc
}

func (p *proceduralStore) count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.procedures)
}

// get returns the named procedure. Once the store has been loaded from
// disk and code loading is disabled, a procedure with a Body is returned
// with its Body cleared (Name and ParamNames kept) alongside a ConfigError;
// this applies to every procedure in the store, including ones registered
// after the load.
func (p *proceduralStore) get(name string) (Procedure, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	proc, ok := p.procedures[name]
	if !ok {
		return Procedure{}, apierr.New(apierr.KindNotFound, "memory: procedure not found", map[string]any{"name": name})
	}
	if p.loadedFromDisk && !p.codeLoadingEnabled && proc.Body != "" {
		return Procedure{Name: proc.Name, ParamNames: proc.ParamNames}, apierr.New(apierr.KindConfig, "memory: code loading disabled, refusing to rehydrate procedure body", map[string]any{"name": name})
	}
	return proc, nil
}

func (p *proceduralStore) persist(store *cryptostore.Store, dir string) error {
	p.mu.RLock()
	data, err := json.Marshal(p.procedures)
	p.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("memory: marshal procedural store: %w", err)
	}
	return store.WriteFile(filepath.Join(dir, proceduralFile), data)
}

func (p *proceduralStore) load(store *cryptostore.Store, dir string) error {
	data, err := store.ReadFile(filepath.Join(dir, proceduralFile))
	if err != nil {
		if apierr.Is(err, apierr.KindNotFound) {
			return nil
		}
		return err
	}
	var procs map[string]Procedure
	if err := json.Unmarshal(data, &procs); err != nil {
		return fmt.Errorf("memory: unmarshal procedural store: %w", err)
	}
	p.mu.Lock()
	p.procedures = procs
	p.loadedFromDisk = true
	p.mu.Unlock()
	return nil
}
