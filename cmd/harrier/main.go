// Harrier - Risk-aware fraud decisions from a model ensemble.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/config"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/engine"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/stats"
	"github.com/opensource-finance/harrier/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load(os.Getenv("HARRIER_CONFIG"))
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(os.Stdout, cfg.Logging))

	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"view", cfg.Engine.View,
		"tracing", cfg.Tracing.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("harrier stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *domain.Config) error {
	// Initialize Repository
	repo, err := repository.New(ctx, cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Load model artifacts and build the decision engine
	eng, err := engine.Load(ctx, cfg.Engine, engine.WithLoadRecorder(repo))
	if err != nil {
		return fmt.Errorf("failed to initialize decision engine: %w", err)
	}
	slog.Info("decision engine initialized",
		"model_version", eng.ModelVersion(),
		"members", eng.Members(),
		"num_features", eng.NumFeatures(),
		"novelty_enabled", eng.NoveltyEnabled(),
	)

	var tracker *stats.Tracker
	if cfg.Stats.Enabled {
		tracker = stats.NewTracker(cacheImpl, cfg.Stats.Window)
	}

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		var recorder worker.Recorder
		if tracker != nil {
			recorder = tracker
		}
		asyncWorker = worker.NewWorker(busImpl, eng, recorder)
		if err := asyncWorker.Start(worker.Config{Concurrency: cfg.Worker.Concurrency}); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		}
	}

	srv := api.NewServer(cfg.Server, api.Dependencies{
		Engine:  eng,
		Repo:    repo,
		Cache:   cacheImpl,
		Bus:     busImpl,
		Stats:   tracker,
		Version: Version,
	})

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	slog.Info("harrier is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, eng, Version)

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("received shutdown signal")
	case runErr = <-serveErr:
		slog.Error("server failed", "error", runErr)
	}

	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
		st := asyncWorker.GetStats()
		slog.Info("async worker totals", "processed", st.Processed, "failed", st.Failed)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	logInfraStats(busImpl, cacheImpl)

	slog.Info("harrier shutdown complete")
	return runErr
}

// logInfraStats reports counters of the tiers that expose them.
func logInfraStats(b domain.EventBus, c domain.Cache) {
	if nb, ok := b.(*bus.NATSBus); ok {
		st := nb.Stats()
		slog.Info("nats totals",
			"in_msgs", st.InMsgs,
			"out_msgs", st.OutMsgs,
			"reconnects", st.Reconnects,
		)
	}

	type sizer interface {
		Stats() (size int, capacity int)
	}
	if lc, ok := c.(sizer); ok {
		size, capacity := lc.Stats()
		slog.Info("local counter cache", "size", size, "capacity", capacity)
	}
}

func newLogger(w io.Writer, cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func printBanner(cfg *domain.Config, eng *engine.Engine, version string) {
	novelty := "disabled"
	if eng.NoveltyEnabled() {
		novelty = "enabled"
	}

	fmt.Println()
	fmt.Println("  +-------------------------------------------+")
	fmt.Println("  |                 HARRIER                   |")
	fmt.Println("  |       Risk-Aware Fraud Decisions          |")
	fmt.Println("  +-------------------------------------------+")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Model:    %s (%d members, %d features)\n", eng.ModelVersion(), eng.Members(), eng.NumFeatures())
	fmt.Printf("  Novelty:  %s\n", novelty)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /predict  - Score a feature vector")
	fmt.Println("    GET  /stats    - Decision counters")
	fmt.Println("    GET  /models   - Artifact load history")
	fmt.Println("    GET  /config   - Active decision policy")
	fmt.Println("    GET  /health   - Health check")
	fmt.Println("    GET  /ready    - Readiness check")
	fmt.Println()
}
