package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesDefaultsWhenFileAbsent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, 900, cfg.Auth.AccessTTLSec)
	assert.Equal(t, 16, cfg.ANN.M)
	assert.Equal(t, "./data", cfg.Storage.DataDir)
}

func TestLoad_ParsesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"auth":{"accessTtlSec":120},"storage":{"dataDir":"/var/data"}}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 120, cfg.Auth.AccessTTLSec)
	assert.Equal(t, "/var/data", cfg.Storage.DataDir)
}

func TestLoad_EnvOverridesFileAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"auth":{"accessTtlSec":120}}`), 0o600))

	t.Setenv("OCX_ACCESS_TTL_SEC", "300")
	t.Setenv("OCX_ENCRYPTION_KEY", "a-32-byte-or-longer-secret-key!!")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.Auth.AccessTTLSec, "environment variables must take priority over the file")
	assert.Equal(t, "a-32-byte-or-longer-secret-key!!", cfg.Security.EncryptionKey)
}

func TestValidate_RequiresEncryptionKeyAndJWTSecret(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	err := cfg.Validate()
	assert.Error(t, err)

	cfg.Security.EncryptionKey = "too-short"
	cfg.Security.JWTSecret = "secret"
	err = cfg.Validate()
	assert.Error(t, err, "an encryption key under 32 bytes must fail validation")

	cfg.Security.EncryptionKey = "a-32-byte-or-longer-secret-key!!"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RequiresJWTSecretEvenWithValidKey(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Security.EncryptionKey = "a-32-byte-or-longer-secret-key!!"
	cfg.Security.JWTSecret = ""

	err := cfg.Validate()
	assert.Error(t, err)
}
