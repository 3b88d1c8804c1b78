// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/starford/navigator/internal/api"
	"github.com/starford/navigator/internal/appearance"
	"github.com/starford/navigator/internal/explorer"
	"github.com/starford/navigator/internal/logging"
	"github.com/starford/navigator/internal/mcpserver"
	"github.com/starford/navigator/internal/metrics"
	"github.com/starford/navigator/internal/models"
	"github.com/starford/navigator/internal/navcache"
	"github.com/starford/navigator/internal/sse"
	"github.com/starford/navigator/internal/stats"
	"github.com/starford/navigator/internal/thumbnail"
	"github.com/starford/navigator/internal/vault"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{version: "dev"}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger, logCloser := logging.New(logging.Options{
		Level:    cfg.App.LogLevel,
		File:     cfg.App.Log.File,
		Rotation: cfg.App.Log.Rotation,
		Stdout:   cfg.App.Log.Stdout,
		Stderr:   app.mcpStdio,
	})
	defer logCloser.Close()
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("cache_dir", cfg.Cache.Dir),
		slog.Bool("constrained", cfg.Cache.Constrained),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure vault directory exists.
	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return fmt.Errorf("create vault dir: %w", err)
	}

	fs, err := vault.NewFS(cfg.Vault.Path, cfg.Vault.Options())
	if err != nil {
		return fmt.Errorf("init vault: %w", err)
	}

	metrics.InitializeMetrics()

	cache, err := navcache.Initialize(ctx, cfg.Cache.InstanceID, cfg.CacheOptions(), navcache.Deps{
		Host:       fs,
		Logger:     logger,
		Thumbnails: thumbnail.New(cfg.Content.Thumbnails()),
	})
	if err != nil {
		return fmt.Errorf("init cache: %w", err)
	}
	defer func() {
		if err := cache.Shutdown(); err != nil {
			logger.Error("cache shutdown error", slog.String("error", err.Error()))
		}
	}()

	layer, err := openAppearance(cfg.Appearance.Path, logger)
	if err != nil {
		return err
	}

	collector := stats.NewCollector(cache, logger, nil)
	defer collector.Close()

	svc := explorer.NewService(cache, layer, collector)

	g, gCtx := errgroup.WithContext(ctx)

	// Reconcile with the vault, then drop appearance entries for vanished paths.
	g.Go(func() error {
		if _, err := cache.Sync(gCtx); err != nil {
			logger.Warn("initial sync failed", slog.String("error", err.Error()))
			return nil
		}
		if err := cache.WaitIdle(gCtx); err != nil {
			return nil
		}
		if _, err := layer.Cleanup(cache); err != nil {
			logger.Warn("appearance cleanup failed", slog.String("error", err.Error()))
		}
		return nil
	})

	// Feed file system events into the cache and the appearance layer.
	watcher := vault.NewWatcher(fs, logger, cfg.Vault.RenameWindow)
	g.Go(func() error {
		err := watcher.Run(gCtx, func(ev models.FileEvent) {
			cache.HandleEvent(ev)
			layer.ApplyEvent(ev)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	mcpSrv := mcpserver.New(svc, app.version)

	if app.mcpStdio {
		g.Go(func() error {
			logger.Info("Serving MCP over stdio")
			err := mcpSrv.ServeStdio()
			if err != nil {
				return fmt.Errorf("mcp stdio: %w", err)
			}
			// Stdin closed: the client went away.
			return errStopped
		})
	} else {
		g.Go(func() error { return serveHTTP(gCtx, cfg, svc, cache, collector, mcpSrv, logger) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, errStopped) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Stopped successfully")
	return nil
}

// errStopped ends the errgroup on a clean stop so the other goroutines exit.
var errStopped = errors.New("stopped")

func openAppearance(path string, logger *slog.Logger) (*appearance.Layer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create appearance dir: %w", err)
	}
	settings, err := appearance.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("init appearance: %w", err)
	}
	return appearance.New(settings, appearance.FileSaver{Path: path}, logger), nil
}

func serveHTTP(
	ctx context.Context,
	cfg *Config,
	svc *explorer.Service,
	cache *navcache.Cache,
	collector *stats.Collector,
	mcpSrv *mcpserver.Server,
	logger *slog.Logger,
) error {
	// SSE broker fed by cache change batches.
	broker := sse.NewBroker(2*time.Second, func() any { return collector.Snapshot() })
	defer broker.Close()
	unsubscribe := cache.OnContentChange(broker.PublishChanges)
	defer unsubscribe()

	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !cache.Alive() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"stopping"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	if cfg.MCP.Enabled {
		r.With(api.AuthMiddleware(cfg.Auth.AuthEnabled(), cfg.Auth.Token)).Handle("/mcp", mcpSrv.HTTPHandler())
	}

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
			return
		}
		errCh <- nil
	}()

	// Handle shutdown signals.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, initiating shutdown")
	case err := <-errCh:
		return err
	}

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
	}
	<-errCh

	return errStopped
}
