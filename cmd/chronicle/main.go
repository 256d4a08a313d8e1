// Chronicle archive server — analyzes chat history into discussions and
// topics, and serves hybrid semantic search over the archive.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/chronicle-archive/chronicle/pkg/api"
	"github.com/chronicle-archive/chronicle/pkg/config"
	"github.com/chronicle-archive/chronicle/pkg/database"
	"github.com/chronicle-archive/chronicle/pkg/gateway"
	"github.com/chronicle-archive/chronicle/pkg/profile"
	"github.com/chronicle-archive/chronicle/pkg/runs"
	"github.com/chronicle-archive/chronicle/pkg/search"
	"github.com/chronicle-archive/chronicle/pkg/store"
)

const controllerShutdownTimeout = 30 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx := context.Background()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()
	slog.Info("Connected to PostgreSQL database")

	// The service starts without model credentials: read endpoints keep
	// working and analysis requests are refused until a key is set.
	var model gateway.Client
	if cfg.HasModelCredentials() {
		gemini, err := gateway.NewGeminiClient(ctx, cfg, logger)
		if err != nil {
			slog.Error("Failed to create model client", "error", err)
			os.Exit(1)
		}
		model = gemini
		slog.Info("Model client initialized", "generation_model", cfg.GenerationModel, "embedding_model", cfg.EmbeddingModel)
	} else {
		slog.Warn("GEMINI_API_KEY not set, analysis and search are disabled")
	}

	st := store.New(dbClient.Pool())
	controller := runs.NewController(st, model, cfg, logger)
	searcher := search.NewSearcher(st, model, cfg, logger)
	profiles := profile.NewService(st, model, cfg, logger)

	httpServer := api.NewServer(dbClient, st, controller, searcher, profiles, logger)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.HTTPPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// Stop accepting new work, then wait for in-flight runs to notice
	// cancellation and persist their failure state.
	ctrlCtx, ctrlCancel := context.WithTimeout(ctx, controllerShutdownTimeout)
	defer ctrlCancel()
	if err := controller.Shutdown(ctrlCtx); err != nil {
		slog.Warn("Run controller shutdown timeout exceeded", "error", err)
	} else {
		slog.Info("Run controller stopped gracefully")
	}

	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
