// Package agent implements C7: the façade wiring C1–C6 together behind a
// single Process(request) -> response call (spec §4.7). It owns no
// business logic of its own — it is the only component allowed to reach
// across auth, memory, and the cache engine. Grounded on the teacher's own
// top-level service-composition pattern (a thin coordinator calling into
// narrower managers, the same shape internal/auth.Manager and
// internal/memory.Manager already follow for their own sub-stores).
package agent

import (
	"context"
	"strings"
	"time"

	"github.com/aegisrt/core/internal/auth"
	"github.com/aegisrt/core/internal/cag"
	"github.com/aegisrt/core/internal/llmclient"
	"github.com/aegisrt/core/internal/memory"
)

// Config configures the façade's context-assembly step (spec §4.7 step 2).
type Config struct {
	// RecentMemoryK bounds how many episodic/semantic memories are pulled
	// into the downstream prompt on a cache miss.
	RecentMemoryK int
	// RecentMemoryThreshold is the similarity floor for those memories.
	RecentMemoryThreshold float64
}

func (c *Config) setDefaults() {
	if c.RecentMemoryK <= 0 {
		c.RecentMemoryK = 5
	}
	if c.RecentMemoryThreshold <= 0 {
		c.RecentMemoryThreshold = 0.5
	}
}

// Agent is the C7 façade.
type Agent struct {
	cfg    Config
	auth   *auth.Manager
	memory *memory.Manager
	cache  *cag.Engine
	embed  llmclient.Embedder
}

// New wires C1–C6 into a façade. embed is used only to vectorize the
// caller's query for memory retrieval; cache already owns its own
// Embedder for the CAG similarity tiers.
func New(cfg Config, authMgr *auth.Manager, mem *memory.Manager, cache *cag.Engine, embed llmclient.Embedder) *Agent {
	cfg.setDefaults()
	return &Agent{cfg: cfg, auth: authMgr, memory: mem, cache: cache, embed: embed}
}

// Request is Process's input (spec §4.7).
type Request struct {
	AccessToken       string
	Query             string
	IP                string
	UserAgent         string
	AcceptApproximate bool
	MaxTokens         int
	Temperature       float64
}

// Response is Process's output: the CAG result plus the principal that was
// authenticated for the call.
type Response struct {
	cag.Result
	UserID    string
	SessionID string
}

// Process implements spec §4.7's six steps: authenticate, assemble
// context, query the cache (which calls the LLM through C1 on miss),
// store the interaction, audit, and return.
func (a *Agent) Process(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	verify, err := a.auth.Verify(ctx, req.AccessToken)
	if err != nil {
		a.auth.LogEvent(ctx, "process", "agent", map[string]any{"error": err.Error(), "success": false})
		return Response{}, err
	}
	user, sess := verify.User, verify.Session

	contextKnowledge := a.assembleContext(ctx, req.Query)

	result, err := a.cache.Query(ctx, req.Query, cag.QueryOptions{
		AcceptApproximate: req.AcceptApproximate,
		ContextKnowledge:  contextKnowledge,
		MaxTokens:         req.MaxTokens,
		Temperature:       req.Temperature,
	})
	if err != nil {
		a.auth.LogEvent(ctx, "process", "agent", map[string]any{
			"user_id": user.ID, "session_id": sess.ID, "success": false, "error": err.Error(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return Response{}, err
	}

	a.storeInteraction(ctx, req.Query, result.Response)

	a.auth.LogEvent(ctx, "process", "agent", map[string]any{
		"user_id": user.ID, "session_id": sess.ID, "success": true,
		"cache_hit_type": string(result.CacheHitType), "cached": result.Cached,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return Response{Result: result, UserID: user.ID, SessionID: sess.ID}, nil
}

// assembleContext pulls relevant episodic/semantic memory under the
// façade's configured budget and renders it as prompt-ready text (spec
// §4.7 step 2). Failures here are non-fatal: an empty context still lets
// the cache/LLM answer, just without retrieved grounding.
func (a *Agent) assembleContext(ctx context.Context, query string) string {
	if a.memory == nil {
		return ""
	}
	var qv []float64
	if a.embed != nil {
		if v, err := a.embed.Embed(ctx, query); err == nil {
			qv = v
		}
	}

	results, err := a.memory.Retrieve(ctx, query, qv, memory.RetrieveOptions{
		Kinds:     []memory.Kind{memory.KindSemantic, memory.KindEpisodic},
		K:         a.cfg.RecentMemoryK,
		Threshold: a.cfg.RecentMemoryThreshold,
	})
	if err != nil {
		return ""
	}

	var b strings.Builder
	for _, group := range results {
		for _, item := range group.Items {
			if item.Text == "" {
				continue
			}
			b.WriteString(item.Text)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// storeInteraction records the turn into episodic and working memory
// (spec §4.7 step 4). Best-effort: a persistence failure here must not
// fail the caller's already-answered request.
func (a *Agent) storeInteraction(ctx context.Context, input, result string) {
	if a.memory == nil {
		return
	}
	_ = a.memory.StoreInteraction(ctx, input, result, nil)
	_ = a.memory.Store(ctx, memory.KindWorking, memory.Item{
		Text:      input + "\n" + result,
		Timestamp: time.Now(),
	})
}
