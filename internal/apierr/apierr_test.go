package apierr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIs_MatchesByKindNotMessage(t *testing.T) {
	err := New(KindNotFound, "document 42 not found", map[string]any{"id": 42})
	assert.True(t, Is(err, KindNotFound))
	assert.False(t, Is(err, KindCorrupt))
}

func TestErrorsIs_SentinelComparison(t *testing.T) {
	err := Wrap(KindCircuitOpen, "llm breaker open", errors.New("upstream unavailable"))
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.False(t, errors.Is(err, ErrRateLimited))
}

func TestWrap_UnwrapReturnsUnderlyingCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(KindTransient, "downstream call failed", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestIs_FalseForPlainError(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), KindNotFound))
}

func TestIs_FalseForNilError(t *testing.T) {
	assert.False(t, Is(nil, KindNotFound))
}
