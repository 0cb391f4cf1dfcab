package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/farmstall/api/internal/di"
	"github.com/farmstall/api/internal/platform/config"
	"github.com/farmstall/api/internal/platform/observability"
	"github.com/farmstall/api/internal/platform/secrets"
)

const (
	shutdownTimeout = 10 * time.Second
	closeTimeout    = 5 * time.Second
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := secrets.NewFetcher(ctx,
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(os.Getenv("FARMSTALL_SECRETS_PROJECT_ID")),
		secrets.WithFallbackFile(envOr("FARMSTALL_SECRETS_FALLBACK_FILE", ".secrets.local")),
	)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	loadOpts := []config.Option{config.WithSecretResolver(fetcher)}
	if path := strings.TrimSpace(os.Getenv("FARMSTALL_ENV_FILE")); path != "" {
		loadOpts = append(loadOpts, config.WithEnvFile(path))
	}
	cfg, err := config.Load(ctx, loadOpts...)
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, di.WithLogger(logger))
	if err != nil {
		logger.Fatal("failed to build dependencies", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      container.Router(traceProjectID(cfg), os.Getenv("FARMSTALL_BUILD_VERSION")),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(
		zap.String("addr", server.Addr),
		zap.String("store", cfg.Store.Backend),
	)
	serveErr := make(chan error, 1)
	go func() {
		serverLogger.Info("farmstall api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-shutdown:
		logger.Info("shutdown signal received; draining requests")
	case err := <-serveErr:
		serverLogger.Error("http server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firestore.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.PubSub.ProjectID)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
