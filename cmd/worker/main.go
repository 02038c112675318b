package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/lessonpass/internal/app"
	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/outbox"
	"github.com/felixgeelhaar/lessonpass/pkg/config"
)

func main() {
	// Create context with cancellation on shutdown signals
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)
	logger.Info("starting lessonpass worker")

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize container", "error", err)
		os.Exit(1)
	}
	defer container.Close()

	g, gctx := errgroup.WithContext(ctx)

	processor := container.OutboxProcessor
	if err := processor.Start(gctx); err != nil {
		logger.Error("failed to start outbox processor", "error", err)
		os.Exit(1)
	}

	if container.Poller != nil {
		g.Go(func() error {
			return container.Poller.Run(gctx)
		})
	} else {
		logger.Info("no payment provider configured, reconcile poller disabled")
	}

	g.Go(func() error {
		runCleanup(gctx, container.Repositories.Outbox, cfg.OutboxCleanupInterval, cfg.OutboxRetentionDays, logger)
		return nil
	})

	if cfg.WorkerHealthAddr != "" {
		healthSrv := &http.Server{
			Addr:              cfg.WorkerHealthAddr,
			Handler:           newHealthMux(processor, container.DB.Ping, container.Prometheus.Handler()),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			logger.Info("health server starting", "addr", cfg.WorkerHealthAddr)
			if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("health server: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := healthSrv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("health server shutdown error", "error", err)
			}
			return nil
		})
	}

	// Wait for shutdown
	if err := g.Wait(); err != nil {
		logger.Error("worker stopped with error", "error", err)
		return
	}
	logger.Info("worker stopped")
}

// runCleanup deletes published outbox messages older than the retention
// window on every tick. It returns when ctx is done.
func runCleanup(ctx context.Context, repo outbox.Repository, interval time.Duration, retentionDays int, logger *slog.Logger) {
	if interval <= 0 || retentionDays <= 0 {
		logger.Info("outbox cleanup disabled")
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleanupOutbox(ctx, repo, time.Now(), retentionDays, logger)
		}
	}
}

func cleanupOutbox(ctx context.Context, repo outbox.Repository, now time.Time, retentionDays int, logger *slog.Logger) int64 {
	deleted, err := repo.DeleteOld(ctx, now.AddDate(0, 0, -retentionDays))
	if err != nil {
		logger.Error("outbox cleanup failed", "error", err)
		return 0
	}
	if deleted > 0 {
		logger.Info("outbox cleanup completed", "deleted", deleted, "retention_days", retentionDays)
	}
	return deleted
}

// newHealthMux serves processor liveness on /healthz, database readiness on
// /readyz and Prometheus metrics on /metrics.
func newHealthMux(processor *outbox.Processor, ping func(context.Context) error, metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		stats := processor.GetStats()
		writeJSON(w, http.StatusOK, map[string]any{
			"status":            "ok",
			"running":           stats.IsRunning,
			"published":         stats.PublishedCount,
			"failed":            stats.FailedCount,
			"dead":              stats.DeadCount,
			"lag_seconds":       stats.LagSeconds,
			"last_processed_at": stats.LastProcessedAt,
			"last_error_at":     stats.LastErrorAt,
			"last_error":        stats.LastError,
		})
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := ping(checkCtx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	return mux
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
