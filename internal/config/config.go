// Package config loads the runtime core's configuration surface (spec §6):
// a JSON file overlaid with environment variables, matching the teacher's
// own env-override shape (internal/config/config.go) but targeting JSON
// instead of YAML and the key table spec.md §6 defines.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the root configuration object passed explicitly to every
// component at construction time; nothing here is read from a package-level
// global after Load returns.
type Config struct {
	Security   SecurityConfig   `json:"security"`
	Auth       AuthConfig       `json:"auth"`
	Cache      CacheConfig      `json:"cache"`
	ANN        ANNConfig        `json:"ann"`
	Limits     LimitsConfig     `json:"limits"`
	Breaker    BreakerConfig    `json:"breaker"`
	Memory     MemoryConfig     `json:"memory"`
	Storage    StorageConfig    `json:"storage"`
}

type SecurityConfig struct {
	EncryptionKey string `json:"encryptionKey"`
	JWTSecret     string `json:"jwtSecret"`
	JWTPrevSecret string `json:"jwtPrevSecret"`
}

type AuthConfig struct {
	AccessTTLSec       int `json:"accessTtlSec"`
	RefreshTTLSec      int `json:"refreshTtlSec"`
	LockoutThreshold   int `json:"lockoutThreshold"`
	LockoutDurationSec int `json:"lockoutDurationSec"`
}

type CacheConfig struct {
	BaseTTLSec         int     `json:"baseTtlSec"`
	MaxTTLSec          int     `json:"maxTtlSec"`
	HitSaturation       int     `json:"hitSaturation"`
	SimilarThreshold   float64 `json:"similarThreshold"`
	EmbeddingThreshold float64 `json:"embeddingThreshold"`
	MaxEntries         int     `json:"maxEntries"`
	MaxBytes           int64   `json:"maxBytes"`
	TopK               int     `json:"topK"`
	PreWarmConcurrency int     `json:"preWarmConcurrency"`
}

type ANNConfig struct {
	M              int `json:"M"`
	EfConstruction int `json:"efConstruction"`
	EfSearch       int `json:"efSearch"`
	Dimensions     int `json:"dimensions"`
}

type LimitsConfig struct {
	LLMPerSec     float64 `json:"llmPerSec"`
	AuthPerMin    float64 `json:"authPerMin"`
	RefreshPerMin float64 `json:"refreshPerMin"`
	ToolsPerSec   float64 `json:"toolsPerSec"`
	MemoryPerSec  float64 `json:"memoryPerSec"`
}

type BreakerConfig struct {
	FailureThreshold int `json:"failureThreshold"`
	ResetTimeoutMs   int `json:"resetTimeoutMs"`
	HalfOpenProbes   int `json:"halfOpenProbes"`
}

type MemoryConfig struct {
	WorkingCapacity      int `json:"workingCapacity"`
	RetrieveConcurrency  int `json:"retrieveConcurrency"`
	CodeLoadingEnabled   bool `json:"codeLoadingEnabled"`
}

type StorageConfig struct {
	DataDir string `json:"dataDir"`
}

// Load reads path (if present) as JSON, then applies environment overrides,
// then fills unset fields with defaults. A missing file is not an error —
// the process can run entirely from environment variables, as long as the
// two required secrets end up set (validated by Validate).
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // best-effort; absence of .env is not an error

	cfg := &Config{}
	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Security.EncryptionKey = getEnv("OCX_ENCRYPTION_KEY", c.Security.EncryptionKey)
	c.Security.JWTSecret = getEnv("OCX_JWT_SECRET", c.Security.JWTSecret)
	c.Security.JWTPrevSecret = getEnv("OCX_JWT_PREV_SECRET", c.Security.JWTPrevSecret)

	if v := getEnvInt("OCX_ACCESS_TTL_SEC", 0); v > 0 {
		c.Auth.AccessTTLSec = v
	}
	if v := getEnvInt("OCX_REFRESH_TTL_SEC", 0); v > 0 {
		c.Auth.RefreshTTLSec = v
	}
	if v := getEnvInt("OCX_LOCKOUT_THRESHOLD", 0); v > 0 {
		c.Auth.LockoutThreshold = v
	}
	if v := getEnvInt("OCX_LOCKOUT_DURATION_SEC", 0); v > 0 {
		c.Auth.LockoutDurationSec = v
	}

	if v := getEnvInt("OCX_CACHE_BASE_TTL_SEC", 0); v > 0 {
		c.Cache.BaseTTLSec = v
	}
	if v := getEnvInt("OCX_CACHE_MAX_TTL_SEC", 0); v > 0 {
		c.Cache.MaxTTLSec = v
	}
	if v := getEnvFloat("OCX_CACHE_SIMILAR_THRESHOLD", 0); v > 0 {
		c.Cache.SimilarThreshold = v
	}
	if v := getEnvFloat("OCX_CACHE_EMBEDDING_THRESHOLD", 0); v > 0 {
		c.Cache.EmbeddingThreshold = v
	}
	if v := getEnvInt("OCX_CACHE_MAX_ENTRIES", 0); v > 0 {
		c.Cache.MaxEntries = v
	}
	if v := getEnvInt("OCX_CACHE_MAX_BYTES", 0); v > 0 {
		c.Cache.MaxBytes = int64(v)
	}

	if v := getEnvInt("OCX_ANN_M", 0); v > 0 {
		c.ANN.M = v
	}
	if v := getEnvInt("OCX_ANN_EF_CONSTRUCTION", 0); v > 0 {
		c.ANN.EfConstruction = v
	}
	if v := getEnvInt("OCX_ANN_EF_SEARCH", 0); v > 0 {
		c.ANN.EfSearch = v
	}
	if v := getEnvInt("OCX_ANN_DIMENSIONS", 0); v > 0 {
		c.ANN.Dimensions = v
	}

	if v := getEnvFloat("OCX_LIMITS_LLM_PER_SEC", 0); v > 0 {
		c.Limits.LLMPerSec = v
	}
	if v := getEnvFloat("OCX_LIMITS_AUTH_PER_MIN", 0); v > 0 {
		c.Limits.AuthPerMin = v
	}
	if v := getEnvFloat("OCX_LIMITS_REFRESH_PER_MIN", 0); v > 0 {
		c.Limits.RefreshPerMin = v
	}

	if v := getEnvInt("OCX_BREAKER_FAILURE_THRESHOLD", 0); v > 0 {
		c.Breaker.FailureThreshold = v
	}
	if v := getEnvInt("OCX_BREAKER_RESET_TIMEOUT_MS", 0); v > 0 {
		c.Breaker.ResetTimeoutMs = v
	}
	if v := getEnvInt("OCX_BREAKER_HALF_OPEN_PROBES", 0); v > 0 {
		c.Breaker.HalfOpenProbes = v
	}

	if v := getEnvInt("OCX_MEMORY_WORKING_CAPACITY", 0); v > 0 {
		c.Memory.WorkingCapacity = v
	}
	c.Memory.CodeLoadingEnabled = getEnvBool("OCX_CODE_LOADING_ENABLED", c.Memory.CodeLoadingEnabled)

	c.Storage.DataDir = getEnv("OCX_DATA_DIR", c.Storage.DataDir)
}

func (c *Config) applyDefaults() {
	if c.Auth.AccessTTLSec == 0 {
		c.Auth.AccessTTLSec = 900 // 15m
	}
	if c.Auth.RefreshTTLSec == 0 {
		c.Auth.RefreshTTLSec = 7 * 24 * 3600
	}
	if c.Auth.LockoutThreshold == 0 {
		c.Auth.LockoutThreshold = 5
	}
	if c.Auth.LockoutDurationSec == 0 {
		c.Auth.LockoutDurationSec = 60
	}

	if c.Cache.BaseTTLSec == 0 {
		c.Cache.BaseTTLSec = 3600
	}
	if c.Cache.MaxTTLSec == 0 {
		c.Cache.MaxTTLSec = 24 * 3600
	}
	if c.Cache.HitSaturation == 0 {
		c.Cache.HitSaturation = 10
	}
	if c.Cache.SimilarThreshold == 0 {
		c.Cache.SimilarThreshold = 0.95
	}
	if c.Cache.EmbeddingThreshold == 0 {
		c.Cache.EmbeddingThreshold = 0.85
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 100_000
	}
	if c.Cache.MaxBytes == 0 {
		c.Cache.MaxBytes = 512 * 1024 * 1024
	}
	if c.Cache.TopK == 0 {
		c.Cache.TopK = 512
	}
	if c.Cache.PreWarmConcurrency == 0 {
		c.Cache.PreWarmConcurrency = 4
	}

	if c.ANN.M == 0 {
		c.ANN.M = 16
	}
	if c.ANN.EfConstruction == 0 {
		c.ANN.EfConstruction = 200
	}
	if c.ANN.EfSearch == 0 {
		c.ANN.EfSearch = 50
	}
	if c.ANN.Dimensions == 0 {
		c.ANN.Dimensions = 128
	}

	if c.Limits.LLMPerSec == 0 {
		c.Limits.LLMPerSec = 5
	}
	if c.Limits.AuthPerMin == 0 {
		c.Limits.AuthPerMin = 5
	}
	if c.Limits.RefreshPerMin == 0 {
		c.Limits.RefreshPerMin = 10
	}
	if c.Limits.ToolsPerSec == 0 {
		c.Limits.ToolsPerSec = 10
	}
	if c.Limits.MemoryPerSec == 0 {
		c.Limits.MemoryPerSec = 20
	}

	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.ResetTimeoutMs == 0 {
		c.Breaker.ResetTimeoutMs = 30_000
	}
	if c.Breaker.HalfOpenProbes == 0 {
		c.Breaker.HalfOpenProbes = 2
	}

	if c.Memory.WorkingCapacity == 0 {
		c.Memory.WorkingCapacity = 10
	}
	if c.Memory.RetrieveConcurrency == 0 {
		c.Memory.RetrieveConcurrency = 5
	}

	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "./data"
	}
}

// Validate enforces the startup-fatal invariants of spec §4.2/§6: the
// encryption key and JWT secret are required and the key must be long
// enough to key AES-256 via scrypt.
func (c *Config) Validate() error {
	if len(c.Security.EncryptionKey) < 32 {
		return fmt.Errorf("config: security.encryptionKey must be at least 32 bytes")
	}
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("config: security.jwtSecret is required")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
