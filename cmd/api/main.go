package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/jks-lab/ragchat/internal/adapters/http"
	"github.com/jks-lab/ragchat/internal/bootstrap"
	"github.com/jks-lab/ragchat/internal/config"
	"github.com/jks-lab/ragchat/internal/observability/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := logging.NewJSONLogger("api", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer app.Close()

	router := httpadapter.NewRouter(httpadapter.RouterOptions{
		Service:        "api",
		Chat:           app.Chat,
		Memory:         app.Memory,
		Indexes:        app.Indexes,
		Metrics:        app.Metrics,
		Logger:         logger,
		RateLimitRPS:   cfg.APIRateLimitRPS,
		RateLimitBurst: cfg.APIRateLimitBurst,
		MaxConcurrent:  cfg.APIMaxConcurrent,
	})
	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api listening", slog.String("port", cfg.APIPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown error", slog.String("error", err.Error()))
	}
}
