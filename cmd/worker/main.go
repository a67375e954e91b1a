package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jks-lab/ragchat/internal/bootstrap"
	"github.com/jks-lab/ragchat/internal/config"
	"github.com/jks-lab/ragchat/internal/core/domain"
	"github.com/jks-lab/ragchat/internal/observability/logging"
	"github.com/jks-lab/ragchat/internal/observability/metrics"
)

const persistTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer app.Close()

	if app.Queue == nil {
		logger.Error("worker requires NATS_URL to be configured")
		os.Exit(1)
	}

	workerMetrics := metrics.NewWorkerMetrics("worker")
	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: workerMetrics.Handler(),
	}
	go func() {
		logger.Info("worker metrics listening", slog.String("port", cfg.WorkerMetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("worker metrics server error", slog.String("error", err.Error()))
		}
	}()

	go runSweeper(ctx, app, workerMetrics, time.Duration(cfg.SweepIntervalMin)*time.Minute, logger)

	logger.Info("worker subscribed", slog.String("subject", cfg.NATSSubject))
	err = app.Queue.SubscribeTurnRecorded(ctx, func(handlerCtx context.Context, record domain.TurnRecord) error {
		workerMetrics.ObserveQueueLag(record.CreatedAt)
		finish := workerMetrics.StartTurn("worker")

		persistCtx, cancel := context.WithTimeout(handlerCtx, persistTimeout)
		defer cancel()
		if err := app.Memory.Persist(persistCtx, record); err != nil {
			finish("error")
			return err
		}
		finish("ok")
		return nil
	})
	if err != nil {
		logger.Error("worker subscribe error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
}

// runSweeper evicts expired conversation turns on a fixed interval.
func runSweeper(ctx context.Context, app *bootstrap.App, m *metrics.WorkerMetrics, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
			removed, err := app.Memory.SweepExpired(sweepCtx, time.Now())
			cancel()
			if err != nil {
				m.RecordSweep("worker", "error", 0)
				logger.Warn("memory sweep failed", slog.String("error", err.Error()))
				continue
			}
			m.RecordSweep("worker", "ok", removed)
			if removed > 0 {
				logger.Info("memory sweep removed expired turns", slog.Int("removed", removed))
			}
		}
	}
}
