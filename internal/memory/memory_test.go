package memory

import (
	"context"
	"testing"

	"github.com/aegisrt/core/internal/apierr"
	"github.com/aegisrt/core/internal/cryptostore"
	"github.com/aegisrt/core/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	index := vectorstore.NewIndex(vectorstore.IndexConfig{Dimensions: 3}, nil, "")
	m, err := New(Config{}, index, nil, true)
	require.NoError(t, err)
	require.NoError(t, m.Initialize(context.Background()))
	return m
}

func TestNew_RefusesToStartWithoutEncryptionKey(t *testing.T) {
	index := vectorstore.NewIndex(vectorstore.IndexConfig{Dimensions: 3}, nil, "")
	_, err := New(Config{}, index, nil, false)
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindConfig))
}

func TestStoreAndRetrieve_Semantic(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Store(ctx, KindSemantic, Item{ID: "doc-1", Text: "sql injection basics", Vector: []float64{1, 0, 0}}))

	results, err := m.Retrieve(ctx, "", []float64{1, 0, 0}, RetrieveOptions{Kinds: []Kind{KindSemantic}, K: 5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Items, 1)
	assert.Equal(t, "doc-1", results[0].Items[0].ID)
}

func TestStoreInteraction_AppendsToEpisodicMemory(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.StoreInteraction(ctx, "what is xss", "cross-site scripting explanation", nil))

	stats, err := m.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.EpisodicCount)
}

func TestWorkingMemory_BoundedCapacity(t *testing.T) {
	index := vectorstore.NewIndex(vectorstore.IndexConfig{Dimensions: 3}, nil, "")
	m, err := New(Config{WorkingCapacity: 2}, index, nil, true)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, m.Store(ctx, KindWorking, Item{Text: "one"}))
	require.NoError(t, m.Store(ctx, KindWorking, Item{Text: "two"}))
	require.NoError(t, m.Store(ctx, KindWorking, Item{Text: "three"}))

	stats, err := m.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.WorkingCount, "working memory must never exceed its configured capacity")
}

func TestRetrieveBatch_ReturnsSuccessForEveryQuery(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.Store(ctx, KindSemantic, Item{ID: "doc-1", Text: "a", Vector: []float64{1, 0, 0}}))

	queries := []RetrieveQuery{
		{Vector: []float64{1, 0, 0}, Opts: RetrieveOptions{Kinds: []Kind{KindSemantic}}},
		{Vector: []float64{0, 1, 0}, Opts: RetrieveOptions{Kinds: []Kind{KindSemantic}}},
	}
	results := m.RetrieveBatch(ctx, queries)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Success)
	}
}

func TestProcedure_RegisterAndGet(t *testing.T) {
	m := newTestManager(t)
	m.RegisterProcedure(Procedure{Name: "scan-ports", ParamNames: []string{"host"}, Body: "nmap {{host}}"})

	proc, err := m.GetProcedure("scan-ports")
	require.NoError(t, err)
	assert.Equal(t, "nmap {{host}}", proc.Body)

	_, err = m.GetProcedure("missing")
	assert.Error(t, err)
}

func TestProcedure_CodeLoadingDisabledRefusesRehydratedBody(t *testing.T) {
	dir := t.TempDir()
	secret := []byte("a-32-byte-or-longer-secret-key!!")
	store, err := cryptostore.New("memory", secret)
	require.NoError(t, err)

	index := vectorstore.NewIndex(vectorstore.IndexConfig{Dimensions: 3}, nil, "")
	writer, err := New(Config{StoreDir: dir, CodeLoadingEnabled: true}, index, store, true)
	require.NoError(t, err)
	require.NoError(t, writer.Initialize(context.Background()))
	writer.RegisterProcedure(Procedure{Name: "run-scan", ParamNames: []string{"target"}, Body: "scan {{target}}"})
	require.NoError(t, writer.Persist())

	reader, err := New(Config{StoreDir: dir, CodeLoadingEnabled: false}, index, store, true)
	require.NoError(t, err)
	require.NoError(t, reader.Initialize(context.Background()))

	_, err = reader.GetProcedure("run-scan")
	require.Error(t, err, "a procedure rehydrated from disk with code loading disabled must refuse its body")
	assert.True(t, apierr.Is(err, apierr.KindConfig))
}

func TestPersist_EpisodicMemorySurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	secret := []byte("a-32-byte-or-longer-secret-key!!")
	store, err := cryptostore.New("memory", secret)
	require.NoError(t, err)
	index := vectorstore.NewIndex(vectorstore.IndexConfig{Dimensions: 3}, nil, "")

	writer, err := New(Config{StoreDir: dir}, index, store, true)
	require.NoError(t, err)
	require.NoError(t, writer.Initialize(context.Background()))
	require.NoError(t, writer.StoreInteraction(context.Background(), "question", "answer", nil))
	require.NoError(t, writer.Persist())

	reader, err := New(Config{StoreDir: dir}, index, store, true)
	require.NoError(t, err)
	require.NoError(t, reader.Initialize(context.Background()))

	stats, err := reader.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.EpisodicCount)
}

func TestShutdown_ClearsWorkingMemory(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.Store(ctx, KindWorking, Item{Text: "ephemeral"}))

	require.NoError(t, m.Shutdown())

	stats, err := m.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.WorkingCount)
}
