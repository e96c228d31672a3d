// Command fieldsync-worker relays outbox events, refreshes the crew
// directory and prunes old sync state.
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

	"github.com/felixgeelhaar/fieldsync/internal/app"
	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/infrastructure/events"
	"github.com/felixgeelhaar/fieldsync/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/fieldsync/pkg/config"
	"github.com/felixgeelhaar/fieldsync/pkg/observability"
)

func main() {
	logger := observability.LoggerFromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("worker exited", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	container, err := app.NewContainer(ctx, cfg, logger, app.WithMetrics(observability.NewInMemoryMetrics()))
	if err != nil {
		return err
	}
	defer container.Close()

	if err := container.StartEvents(ctx); err != nil {
		return err
	}
	defer container.OutboxProcessor.Stop()

	// Locally the in-process bus already feeds the mismatch consumer.
	if cfg.RabbitMQURL != "" && container.Bus == nil {
		go consumeMismatches(ctx, cfg.RabbitMQURL, container, logger)
	}

	if err := container.RefreshDirectory(ctx); err != nil {
		logger.Warn("initial crew directory load failed", "error", err)
	}
	go every(ctx, cfg.NameCacheRefreshInterval, func() {
		if err := container.RefreshDirectory(ctx); err != nil {
			logger.Warn("crew directory refresh failed", "error", err)
		}
	})
	go every(ctx, cfg.SyncRecordCleanupEvery, maintenance(ctx, container, logger))

	if cfg.WorkerHealthAddr != "" {
		go serveHealth(ctx, cfg.WorkerHealthAddr, container, logger)
	}

	logger.Info("worker running")
	<-ctx.Done()
	return nil
}

// maintenance returns a pass that reports failures recorded since the
// previous pass.
func maintenance(ctx context.Context, container *app.Container, logger *slog.Logger) func() {
	since := time.Now()
	return func() {
		started := time.Now()
		report, err := container.RunMaintenance(ctx, since)
		since = started
		if err != nil {
			logger.Error("maintenance failed", "error", err)
		}
		logger.Info("maintenance completed",
			"outbox_deleted", report.OutboxDeleted,
			"sync_records_deleted", report.SyncRecordsDeleted,
			"recent_failures", report.RecentFailures,
		)
	}
}

func consumeMismatches(ctx context.Context, url string, container *app.Container, logger *slog.Logger) {
	consumer, err := eventbus.NewRabbitMQConsumer(eventbus.RabbitMQConsumerConfig{URL: url, Logger: logger},
		eventbus.NewConsumerRegistry(logger))
	if err != nil {
		logger.Error("event consumer unavailable", "error", err)
		return
	}
	defer consumer.Close()

	consumer.RegisterConsumer(events.NewMismatchConsumer(logger, container.Metrics))
	if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("event consumer stopped", "error", err)
	}
}

// serveHealth exposes /healthz (relay stats and metrics) and /readyz
// (dependency checks) until ctx ends.
func serveHealth(ctx context.Context, addr string, container *app.Container, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		stats := container.OutboxProcessor.GetStats()
		reply(w, http.StatusOK, map[string]any{
			"status":            "ok",
			"running":           stats.IsRunning,
			"published":         stats.PublishedCount,
			"failed":            stats.FailedCount,
			"dead":              stats.DeadCount,
			"lag_seconds":       stats.LagSeconds,
			"last_processed_at": stats.LastProcessedAt,
			"last_error_at":     stats.LastErrorAt,
			"last_error":        stats.LastError,
			"metrics":           snapshot(container.Metrics),
		})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		health := container.Health.GetOverallHealth(checkCtx)
		code := http.StatusOK
		if health.Status == observability.HealthStatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		reply(w, code, health)
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("health server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("health server failed", "error", err)
	}
}

func reply(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func snapshot(m observability.Metrics) any {
	if mem, ok := m.(*observability.InMemoryMetrics); ok {
		return mem.Snapshot()
	}
	return nil
}

// every calls fn on each tick until ctx ends. A non-positive interval
// disables the job.
func every(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
