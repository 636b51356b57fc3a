// Command agentd is the thin wiring entrypoint for the runtime core: load
// configuration, construct C1..C7, serve until signalled. The CLI, plugin
// loader, tool wrappers, and REST/web server are external collaborators
// per spec.md §1 and are not implemented here — this binary exists only to
// prove the core wires together, the way the teacher project's cmd/api and
// cmd/server wire its own services.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/aegisrt/core/internal/agent"
	"github.com/aegisrt/core/internal/auth"
	"github.com/aegisrt/core/internal/cag"
	"github.com/aegisrt/core/internal/config"
	"github.com/aegisrt/core/internal/cryptostore"
	"github.com/aegisrt/core/internal/llmclient"
	"github.com/aegisrt/core/internal/memory"
	"github.com/aegisrt/core/internal/resilience"
	"github.com/aegisrt/core/internal/vectorstore"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "config.json", "path to JSON configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("agentd: fatal startup error", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	secret := []byte(cfg.Security.EncryptionKey)

	vecStore, err := cryptostore.New("vectorstore", secret)
	if err != nil {
		return err
	}
	memStore, err := cryptostore.New("memory", secret)
	if err != nil {
		return err
	}
	authStore, err := cryptostore.New("auth", secret)
	if err != nil {
		return err
	}

	dataDir := cfg.Storage.DataDir
	index := vectorstore.NewIndex(vectorstore.IndexConfig{
		M:              cfg.ANN.M,
		EfConstruction: cfg.ANN.EfConstruction,
		EfSearch:       cfg.ANN.EfSearch,
		Dimensions:     cfg.ANN.Dimensions,
	}, vecStore, filepath.Join(dataDir, "vectorstore"))
	if err := index.Load(); err != nil {
		logger.Warn("agentd: no persisted vector index, starting empty", "error", err)
	}

	memMgr, err := memory.New(memory.Config{
		WorkingCapacity:     cfg.Memory.WorkingCapacity,
		RetrieveConcurrency: cfg.Memory.RetrieveConcurrency,
		CodeLoadingEnabled:  cfg.Memory.CodeLoadingEnabled,
		StoreDir:            filepath.Join(dataDir, "memory"),
	}, index, memStore, cfg.Security.EncryptionKey != "")
	if err != nil {
		return err
	}
	if err := memMgr.Initialize(ctx); err != nil {
		return err
	}

	userStore := auth.NewLocalUserStore(authStore, filepath.Join(dataDir, "auth"))
	if err := userStore.Load(); err != nil {
		return err
	}
	auditLog := auth.NewRotatingFileAuditLog(authStore, filepath.Join(dataDir, "audit"))
	issuer := auth.NewTokenIssuer(cfg.Security.JWTSecret, cfg.Security.JWTPrevSecret, time.Duration(cfg.Auth.AccessTTLSec)*time.Second)

	authMgr := auth.NewManager(auth.Config{
		AccessTTL:        time.Duration(cfg.Auth.AccessTTLSec) * time.Second,
		RefreshTTL:       time.Duration(cfg.Auth.RefreshTTLSec) * time.Second,
		LockoutThreshold: cfg.Auth.LockoutThreshold,
		LockoutDuration:  time.Duration(cfg.Auth.LockoutDurationSec) * time.Second,
		AuthPerMinute:    cfg.Limits.AuthPerMin,
		RefreshPerMinute: cfg.Limits.RefreshPerMin,
	}, userStore, issuer, auditLog)

	reg := prometheus.NewRegistry()
	health := resilience.NewRegistry(reg)
	breakers := resilience.NewManager(resilience.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     time.Duration(cfg.Breaker.ResetTimeoutMs) * time.Millisecond,
		HalfOpenProbes:   cfg.Breaker.HalfOpenProbes,
	})
	llmLimiter := resilience.NewTokenBucket(cfg.Limits.LLMPerSec, cfg.Limits.LLMPerSec)

	// The core's only non-test Generate/Embed providers are wired in by an
	// external collaborator (spec.md §1); this binary uses deterministic
	// fakes so `agentd` proves the wiring compiles and runs standalone.
	generator := &llmclient.FakeGenerator{}
	embedder := llmclient.NewFakeEmbedder(cfg.ANN.Dimensions)

	cacheEngine := cag.New(cag.Config{
		BaseTTL:            time.Duration(cfg.Cache.BaseTTLSec) * time.Second,
		MaxTTL:             time.Duration(cfg.Cache.MaxTTLSec) * time.Second,
		HitSaturation:      cfg.Cache.HitSaturation,
		SimilarThreshold:   cfg.Cache.SimilarThreshold,
		EmbeddingThreshold: cfg.Cache.EmbeddingThreshold,
		MaxEntries:         cfg.Cache.MaxEntries,
		MaxBytes:           cfg.Cache.MaxBytes,
		TopK:               cfg.Cache.TopK,
		PreWarmConcurrency: cfg.Cache.PreWarmConcurrency,
	}, generator, embedder, breakers.Get("llm"), llmLimiter, resilience.DefaultRetryPolicy())
	cacheEngine.StartSweeper(ctx, time.Minute)

	health.Register(resilience.Check{
		Name:     "cache",
		Critical: false,
		Probe: func(context.Context) (resilience.Health, string) {
			return resilience.Healthy, "entries=" + strconv.Itoa(cacheEngine.Count())
		},
	})
	health.StartScheduled(ctx, 30*time.Second, func(status resilience.Health, _ []resilience.CheckResult) {
		logger.Info("agentd: health sweep", "status", status.String())
	})

	facade := agent.New(agent.Config{}, authMgr, memMgr, cacheEngine, embedder)
	_ = facade // exercised via Process() by the external REST/CLI collaborator

	logger.Info("agentd: core wired and running", "data_dir", dataDir)

	sweepTicker := time.NewTicker(time.Minute)
	defer sweepTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("agentd: shutting down")
			if err := memMgr.Shutdown(); err != nil {
				logger.Error("agentd: memory shutdown error", "error", err)
			}
			return nil
		case <-sweepTicker.C:
			authMgr.SweepExpiredSessions()
		}
	}
}
