package llmclient

import (
	"context"
	"sync"
	"testing"

	"github.com/aegisrt/core/internal/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeGenerator_CountsCalls(t *testing.T) {
	gen := &FakeGenerator{}
	_, err := gen.Generate(context.Background(), GenerateRequest{Prompt: "hello"})
	require.NoError(t, err)
	_, err = gen.Generate(context.Background(), GenerateRequest{Prompt: "world"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), gen.Calls())
}

func TestFakeGenerator_FailTimesThenSucceeds(t *testing.T) {
	gen := &FakeGenerator{FailTimes: 2}

	_, err := gen.Generate(context.Background(), GenerateRequest{Prompt: "a"})
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindTransient))

	_, err = gen.Generate(context.Background(), GenerateRequest{Prompt: "b"})
	require.Error(t, err)

	resp, err := gen.Generate(context.Background(), GenerateRequest{Prompt: "c"})
	require.NoError(t, err)
	assert.Contains(t, resp, "c")
}

func TestFakeGenerator_TracksPeakConcurrency(t *testing.T) {
	block := make(chan struct{})
	gen := &FakeGenerator{Respond: func(prompt string) string {
		<-block
		return prompt
	}}

	const n = 5
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = gen.Generate(context.Background(), GenerateRequest{Prompt: "x"})
		}()
	}

	close(block)
	wg.Wait()
	assert.GreaterOrEqual(t, gen.PeakConcurrency(), 1)
	assert.LessOrEqual(t, gen.PeakConcurrency(), n)
}

func TestFakeEmbedder_DeterministicAndRightDimension(t *testing.T) {
	e := NewFakeEmbedder(16)
	assert.Equal(t, 16, e.Dimensions())

	v1, err := e.Embed(context.Background(), "sql injection attack")
	require.NoError(t, err)
	v2, err := e.Embed(context.Background(), "sql injection attack")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Len(t, v1, 16)
	assert.Equal(t, int64(2), e.Calls())
}

func TestFakeEmbedder_SharedVocabularyProducesOverlap(t *testing.T) {
	e := NewFakeEmbedder(32)
	v1, err := e.Embed(context.Background(), "cross site scripting attack")
	require.NoError(t, err)
	v2, err := e.Embed(context.Background(), "cross site scripting vulnerability")
	require.NoError(t, err)

	overlap := 0
	for i := range v1 {
		if v1[i] > 0 && v2[i] > 0 {
			overlap++
		}
	}
	assert.Greater(t, overlap, 0, "shared vocabulary should light up shared buckets")
}

func TestFakeEmbedder_DefaultsDimensionWhenNonPositive(t *testing.T) {
	e := NewFakeEmbedder(0)
	assert.Equal(t, 64, e.Dimensions())
}
