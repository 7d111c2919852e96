package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cartomix/opus/internal/adminconfig"
	"github.com/cartomix/opus/internal/analyzer"
	"github.com/cartomix/opus/internal/brain"
	"github.com/cartomix/opus/internal/config"
	"github.com/cartomix/opus/internal/httpapi"
	"github.com/cartomix/opus/internal/jobs"
	"github.com/cartomix/opus/internal/jobstore"
	"github.com/cartomix/opus/internal/progress"
	"github.com/cartomix/opus/internal/renderer"
	"github.com/cartomix/opus/internal/samples"
	"github.com/cartomix/opus/internal/session"
	"github.com/cartomix/opus/internal/storage"
)

const (
	pollInterval      = 500 * time.Millisecond
	stalledJobTimeout = 10 * time.Minute
)

func main() {
	cfg := config.Parse()

	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("failed to create data directory", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	db, err := storage.Open(cfg.DataDir, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	admin, err := adminconfig.Open(cfg.DataDir, logger)
	if err != nil {
		logger.Error("failed to open admin config", "error", err)
		os.Exit(1)
	}

	az := analyzer.NewClient(cfg.Engine, logger)

	var lib *samples.Library
	if cfg.SamplesDir != "" {
		lib, err = samples.Open(context.Background(), cfg.SamplesDir, cfg.CloudIndex, az, logger)
		if err != nil {
			logger.Warn("sample library unavailable, overlays disabled", "error", err)
			lib = nil
		}
	}

	var llm *brain.LLMDecider
	if cfg.LLMEndpoint != "" {
		llm = brain.NewLLMDecider(cfg.LLMEndpoint, cfg.LLMAPIKey, "", logger)
	}
	brainEng := brain.NewEngine(llm, admin.Current().DefaultBars, logger)

	render := renderer.NewClient(cfg.Engine, logger)

	states := jobstore.NewSessionStore(jobstore.NewSQLiteStore(db))
	bus := progress.New()
	sessions := session.NewManager(cfg.SessionRoot, cfg.MaxUploadMB, logger, states.KnownIDs)

	orch := jobs.New(db, states, bus, sessions, az, lib, brainEng, render, admin, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go orch.RunBrainWorker(ctx, pollInterval)
	go orch.RunAudioWorker(ctx, pollInterval)
	go stalledJobSweep(ctx, orch, logger)

	server := httpapi.NewServer(logger, sessions, states, orch, admin, bus)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: server.Handler(),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("shutting down", "signal", sig)
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("starting orchestrator", "port", cfg.Port, "data_dir", cfg.DataDir, "session_root", cfg.SessionRoot)

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// stalledJobSweep periodically requeues brain/audio tasks stuck in
// "running" past stalledJobTimeout, the supplemented recovery feature
// SPEC_FULL.md adds alongside the /cleanup endpoint's on-demand sweep.
func stalledJobSweep(ctx context.Context, orch *jobs.Orchestrator, logger *slog.Logger) {
	ticker := time.NewTicker(stalledJobTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := orch.ResetStalled(stalledJobTimeout); err != nil {
				logger.Error("stalled job sweep failed", "error", err)
			} else if n > 0 {
				logger.Info("requeued stalled jobs", "count", n)
			}
		}
	}
}
