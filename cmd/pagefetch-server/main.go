// Command pagefetch-server exposes the fetch operation over HTTP.
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

	"github.com/use-agent/pagefetch/api"
	"github.com/use-agent/pagefetch/api/handler"
	"github.com/use-agent/pagefetch/cache"
	"github.com/use-agent/pagefetch/cleaner"
	"github.com/use-agent/pagefetch/config"
	"github.com/use-agent/pagefetch/engine"
	"github.com/use-agent/pagefetch/fetcher"
	"github.com/use-agent/pagefetch/logging"
	"github.com/use-agent/pagefetch/webhook"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	logging.Init(cfg.Log, os.Stdout)
	slog.Info("pagefetch-server starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"maxPages", cfg.Browser.MaxPages,
		"engine", cfg.Fetch.Engine,
	)

	// ── 3. Register engines (browsers launch on first use) ──────────
	backends := fetcher.RegisterBackends(cfg.Browser)
	defer backends.Close()

	// ── 4. Initialise cache ─────────────────────────────────────────
	store, err := openStore(cfg.Cache)
	if err != nil {
		slog.Error("failed to open cache", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// ── 5. Setup router ─────────────────────────────────────────────
	startTime := time.Now()
	router, limiter := api.NewRouter(api.Options{
		Config: cfg,
		Fetch: handler.FetchDeps{
			NewEngine: engine.New,
			Cleaner:   cleaner.NewCleaner(),
			Store:     store,
			Webhooks:  webhook.NewSender(),
			Config:    cfg.Fetch,
		},
		Stats:     backends,
		Engines:   engine.Names,
		StartTime: startTime,
	})
	defer limiter.Stop()

	// ── 6. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// ── 7. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		slog.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		slog.Error("HTTP server error", "error", err)
	}

	// Give in-flight fetches time to finish their settle windows.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// backends.Close() runs via defer and kills Chrome.
	slog.Info("pagefetch-server stopped")
}

// openStore returns the SQLite store when a path is configured, otherwise
// an in-memory one.
func openStore(cfg config.CacheConfig) (cache.Store, error) {
	if cfg.Path == "" {
		return cache.NewMemory(cfg.MaxEntries, cfg.TTL), nil
	}
	s, err := cache.OpenSQLite(cfg.Path, cfg.MaxEntries, cfg.TTL)
	if err != nil {
		return nil, err
	}
	slog.Info("cache persisted to sqlite", "path", cfg.Path, "ttl", cfg.TTL)
	return s, nil
}
