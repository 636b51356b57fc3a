package agent

import (
	"context"
	"testing"
	"time"

	"github.com/aegisrt/core/internal/auth"
	"github.com/aegisrt/core/internal/cag"
	"github.com/aegisrt/core/internal/llmclient"
	"github.com/aegisrt/core/internal/memory"
	"github.com/aegisrt/core/internal/resilience"
	"github.com/aegisrt/core/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAgent(t *testing.T, gen llmclient.Generator) (*Agent, *auth.Manager, *auth.User, string) {
	t.Helper()

	users := auth.NewLocalUserStore(nil, "")
	issuer := auth.NewTokenIssuer("test-secret-at-least-32-bytes-long!", "", 15*time.Minute)
	authMgr := auth.NewManager(auth.Config{}, users, issuer, nil)

	rec, err := auth.HashPassword("correct-horse-battery-staple")
	require.NoError(t, err)
	u := &auth.User{Username: "alice", Email: "alice@example.com", Role: auth.RoleUser, Password: rec, Enabled: true}
	require.NoError(t, users.Create(context.Background(), u))

	sess, _, err := authMgr.Login(context.Background(), u.Username, "correct-horse-battery-staple", "127.0.0.1", "ua")
	require.NoError(t, err)

	index := vectorstore.NewIndex(vectorstore.IndexConfig{Dimensions: 16}, nil, "")
	mem, err := memory.New(memory.Config{}, index, nil, true)
	require.NoError(t, err)
	require.NoError(t, mem.Initialize(context.Background()))

	breaker := resilience.NewBreaker(resilience.BreakerConfig{Name: "test", FailureThreshold: 100})
	limiter := resilience.NewTokenBucket(1000, 1000)
	retry := resilience.DefaultRetryPolicy()
	retry.InitialDelay = time.Millisecond
	embed := llmclient.NewFakeEmbedder(16)
	cache := cag.New(cag.Config{}, gen, embed, breaker, limiter, retry)

	a := New(Config{}, authMgr, mem, cache, embed)
	return a, authMgr, u, sess.AccessToken
}

func TestProcess_SucceedsWithValidTokenAndQuery(t *testing.T) {
	gen := &llmclient.FakeGenerator{}
	a, _, u, token := newTestAgent(t, gen)

	resp, err := a.Process(context.Background(), Request{AccessToken: token, Query: "what is sql injection"})
	require.NoError(t, err)
	assert.Equal(t, u.ID, resp.UserID)
	assert.NotEmpty(t, resp.Response)
}

func TestProcess_InvalidTokenShortCircuitsBeforeCache(t *testing.T) {
	gen := &llmclient.FakeGenerator{}
	a, _, _, _ := newTestAgent(t, gen)

	_, err := a.Process(context.Background(), Request{AccessToken: "not-a-real-token", Query: "anything"})
	require.Error(t, err)
	assert.Equal(t, int64(0), gen.Calls(), "an unauthenticated request must never reach the cache/generator")
}

func TestProcess_StoresInteractionIntoMemory(t *testing.T) {
	gen := &llmclient.FakeGenerator{}
	a, _, _, token := newTestAgent(t, gen)

	_, err := a.Process(context.Background(), Request{AccessToken: token, Query: "remember this fact"})
	require.NoError(t, err)

	stats, err := a.memory.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.EpisodicCount)
	assert.Equal(t, 1, stats.WorkingCount)
}

func TestProcess_SecondIdenticalQueryHitsCacheNotGenerator(t *testing.T) {
	gen := &llmclient.FakeGenerator{}
	a, _, _, token := newTestAgent(t, gen)

	_, err := a.Process(context.Background(), Request{AccessToken: token, Query: "repeatable question"})
	require.NoError(t, err)
	_, err = a.Process(context.Background(), Request{AccessToken: token, Query: "repeatable question"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), gen.Calls())
}
