package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword_VerifyRoundTrip(t *testing.T) {
	rec, err := HashPassword("correct-horse-battery-staple")
	require.NoError(t, err)
	assert.True(t, VerifyPassword("correct-horse-battery-staple", rec))
	assert.False(t, VerifyPassword("wrong-password", rec))
}

func TestHashPassword_DifferentSaltsPerCall(t *testing.T) {
	a, err := HashPassword("same-password")
	require.NoError(t, err)
	b, err := HashPassword("same-password")
	require.NoError(t, err)
	assert.NotEqual(t, a.Salt, b.Salt)
	assert.NotEqual(t, a.Hash, b.Hash, "identical passwords must still hash differently given distinct salts")
}

func TestVerifyPassword_EmptyRecordAlwaysFails(t *testing.T) {
	assert.False(t, VerifyPassword("anything", PasswordRecord{}))
}
