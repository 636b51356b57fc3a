package cryptostore

import (
	"path/filepath"
	"testing"

	"github.com/aegisrt/core/internal/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSecret() []byte {
	return []byte("a-test-secret-at-least-32-bytes!!")
}

func TestNew_RejectsShortSecret(t *testing.T) {
	_, err := New("vectorstore", []byte("too-short"))
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindConfig))
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	s, err := New("vectorstore", testSecret())
	require.NoError(t, err)

	plaintext := []byte("secret document contents")
	frame, err := s.Encrypt(plaintext)
	require.NoError(t, err)

	got, err := s.Decrypt(frame)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestDecrypt_TamperedFrameFailsAuthentication(t *testing.T) {
	s, err := New("vectorstore", testSecret())
	require.NoError(t, err)

	frame, err := s.Encrypt([]byte("original"))
	require.NoError(t, err)

	tampered := append([]byte(nil), frame...)
	tampered[len(tampered)-1] ^= 0xFF

	_, err = s.Decrypt(tampered)
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindCorrupt))
}

func TestDifferentStoreNamesDeriveDifferentKeys(t *testing.T) {
	secret := testSecret()
	a, err := New("vectorstore", secret)
	require.NoError(t, err)
	b, err := New("memory", secret)
	require.NoError(t, err)

	frame, err := a.Encrypt([]byte("hello"))
	require.NoError(t, err)

	_, err = b.Decrypt(frame)
	assert.Error(t, err, "a frame encrypted under one store's key must not decrypt under another's")
}

func TestWriteReadFile_RoundTrip(t *testing.T) {
	s, err := New("vectorstore", testSecret())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "nested", "store.bin")
	require.NoError(t, s.WriteFile(path, []byte("persisted contents")))

	got, err := s.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted contents"), got)
}

func TestReadFile_MissingReturnsNotFound(t *testing.T) {
	s, err := New("vectorstore", testSecret())
	require.NoError(t, err)

	_, err = s.ReadFile(filepath.Join(t.TempDir(), "missing.bin"))
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindNotFound))
}

func TestAppendReadFrames_MultipleRecords(t *testing.T) {
	s, err := New("audit", testSecret())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "audit.log")
	require.NoError(t, s.AppendFrame(path, []byte("event-1")))
	require.NoError(t, s.AppendFrame(path, []byte("event-2")))
	require.NoError(t, s.AppendFrame(path, []byte("event-3")))

	frames, err := s.ReadFrames(path)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Equal(t, []byte("event-1"), frames[0])
	assert.Equal(t, []byte("event-3"), frames[2])
}

func TestReadFrames_MissingFileReturnsEmpty(t *testing.T) {
	s, err := New("audit", testSecret())
	require.NoError(t, err)

	frames, err := s.ReadFrames(filepath.Join(t.TempDir(), "missing.log"))
	require.NoError(t, err)
	assert.Empty(t, frames)
}
