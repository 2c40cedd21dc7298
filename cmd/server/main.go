package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/enexport/internal/application"
	"github.com/JonMunkholm/enexport/internal/config"
	"github.com/JonMunkholm/enexport/internal/download"
	"github.com/JonMunkholm/enexport/internal/logging"
	"github.com/JonMunkholm/enexport/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Debug("configuration", "config", cfg.String())

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"download_max_concurrent", cfg.Download.MaxConcurrent,
		"storage_enabled", cfg.Database.Enabled(),
		"api_key_required", cfg.Security.RequireAPIKey,
	)
	if cfg.ENAPI.PrivateToken == "" {
		slog.Warn("EN_PRIVATE_TOKEN is not set; every download will fail with an auth error")
	}

	ctx := context.Background()

	client, err := application.NewClient(cfg)
	if err != nil {
		slog.Error("failed to create EN client", "error", err)
		os.Exit(1)
	}
	defaults, err := application.DownloadOptions(ctx, cfg)
	if err != nil {
		slog.Error("failed to configure downloads", "error", err)
		os.Exit(1)
	}

	deps := web.Deps{
		Client:   client,
		Limiter:  download.NewLimiter(cfg.Download.MaxConcurrent, cfg.Download.MaxWaitTime),
		Defaults: defaults,
		Security: cfg.Security,
	}

	// Storage is optional; without it /api/imports answers 501.
	if cfg.Database.Enabled() {
		st, closeDB, err := application.OpenStore(ctx, &cfg.Database)
		if err != nil {
			slog.Error("failed to open record store", "error", err)
			os.Exit(1)
		}
		defer closeDB()
		deps.Store = st
	}

	server := web.NewServer(deps)

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...", "active_downloads", deps.Limiter.Status().Active)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("downloads did not complete in time", "error", err)
		}
	}()

	if err := server.Start(cfg.Server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-stopped
	slog.Info("server stopped")
}
