package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/medplan/medplan/internal/app"
	"github.com/medplan/medplan/pkg/config"
	"github.com/medplan/medplan/pkg/observability"
)

func main() {
	logger := observability.LoggerFromEnv().With("component", "worker")
	logger.Info("starting medplan worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize container", "error", err)
		os.Exit(1)
	}
	defer container.Close()

	if err := container.StartOutbox(ctx); err != nil {
		logger.Error("failed to start outbox processor", "error", err)
		os.Exit(1)
	}
	processor := container.OutboxProcessor
	logger.Info("outbox processor started",
		"poll_interval", cfg.OutboxPollInterval,
		"batch_size", cfg.OutboxBatchSize,
		"max_retries", cfg.OutboxMaxRetries,
	)

	every(ctx, cfg.SweepInterval, func() {
		swept, err := container.BillingService.SweepAbandoned(ctx, cfg.CheckoutAbandonAfter)
		if err != nil {
			logger.Error("abandoned checkout sweep failed", "error", err)
			return
		}
		if swept > 0 {
			logger.Info("abandoned checkouts swept", "count", swept)
		}
	})

	retention := time.Duration(cfg.OutboxRetentionDays) * 24 * time.Hour
	every(ctx, cfg.OutboxCleanupInterval, func() {
		deleted, err := processor.Cleanup(ctx, retention)
		if err != nil {
			logger.Error("outbox cleanup failed", "error", err)
			return
		}
		if deleted > 0 {
			logger.Info("outbox cleanup completed", "deleted", deleted, "retention_days", cfg.OutboxRetentionDays)
		}
	})

	every(ctx, cfg.OutboxStatsInterval, func() {
		stats := processor.Stats()
		logger.Info("outbox stats",
			"running", stats.Running,
			"published", stats.Published,
			"failed", stats.Failed,
			"dead", stats.Dead,
			"last_processed_at", stats.LastProcessedAt,
			"last_error", stats.LastError,
		)
	})

	if cfg.WorkerHealthAddr != "" {
		startHealthServer(ctx, cfg.WorkerHealthAddr, container, logger)
	}

	<-ctx.Done()
	logger.Info("shutting down worker")
}

// every runs fn on each tick of interval until ctx is done. A non-positive
// interval disables the job.
func every(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

func startHealthServer(ctx context.Context, addr string, container *app.Container, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		stats := container.OutboxProcessor.Stats()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":            "ok",
			"running":           stats.Running,
			"published":         stats.Published,
			"failed":            stats.Failed,
			"dead":              stats.Dead,
			"last_processed_at": stats.LastProcessedAt,
			"last_error":        stats.LastError,
		})
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		report := container.Health.Check(checkCtx)
		w.Header().Set("Content-Type", "application/json")
		if report.Status == observability.HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(report)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("health server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("health server shutdown error", "error", err)
		}
	}()
}
