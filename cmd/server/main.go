// Package main runs the teaching assistant REST API.
//
// Routes cover lesson, report and parent-message generation, roster
// analytics and the document history. See internal/interface/http.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/classnotes/teaching-assistant/config"
	"github.com/classnotes/teaching-assistant/internal/app"
	httpserver "github.com/classnotes/teaching-assistant/internal/interface/http"
	"github.com/classnotes/teaching-assistant/pkg/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION & LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := app.NewLogger(cfg)
	log.Info("starting teaching assistant API",
		logger.String("version", cfg.App.Version),
		logger.Model(cfg.Gemini.Model),
	)
	if cfg.Gemini.APIKey == "" {
		log.Warn("GOOGLE_API_KEY is not set; generation requests will fail until it is configured")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. COMPONENTS
	// ─────────────────────────────────────────────────────────────────────────
	assistant, err := app.Build(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to wire components: %w", err)
	}
	defer assistant.Close()

	health := httpserver.NewHealthChecker(cfg.App.Version)
	health.AddCheck("gemini_config", func(context.Context) error { return assistant.Client.Validate() }, false)
	if assistant.Redis != nil {
		health.AddCheck("redis", httpserver.PingCheck(assistant.Redis), false)
	}
	if assistant.Database != nil {
		health.AddCheck("postgres", httpserver.PingCheck(assistant.Database), false)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	httpConfig := httpserver.DefaultConfig()
	httpConfig.Host = cfg.HTTP.Host
	httpConfig.Port = cfg.HTTP.Port
	httpConfig.ReadTimeout = cfg.HTTP.ReadTimeout
	httpConfig.WriteTimeout = cfg.HTTP.WriteTimeout
	httpConfig.Version = cfg.App.Version

	httpDeps := httpserver.Dependencies{
		Generator: assistant.Pipeline,
		Rosters:   assistant.Rosters,
		Features:  cfg.Features,
		Health:    health,
		Logger:    log,
	}
	if assistant.History != nil {
		httpDeps.History = assistant.History
	}

	server := httpserver.NewServer(httpConfig, httpDeps)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	log.Info("teaching assistant API is running", logger.String("address", server.Address()))

	// ─────────────────────────────────────────────────────────────────────────
	// 4. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", logger.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("service error", logger.Err(err))
		return err
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown...", logger.Duration("timeout", cfg.App.ShutdownTimeout))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", logger.Err(err))
		return err
	}

	log.Info("shutdown completed successfully")
	return nil
}
