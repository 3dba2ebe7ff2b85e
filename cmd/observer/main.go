package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/park285/cheese-observer/internal/builder"
	"github.com/park285/cheese-observer/internal/config"
	"github.com/park285/cheese-observer/internal/obslog"
)

func main() {
	_ = godotenv.Load()
	if err := obslog.InitFromEnv(); err != nil {
		log.Printf("logger init error: %v (falling back to defaults)", err)
	}
	defer func() { _ = obslog.Close() }()
	logger := obslog.L()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := builder.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("observer init error: %v", err)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Warn("shutdown_close_error", zap.Error(err))
		}
	}()

	logger.Info("observer_start",
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("probe_ws_url", cfg.ProbeWSURL),
		zap.String("sink_mode", cfg.SinkMode),
		zap.Bool("redis", deps.Redis != nil),
		zap.Bool("archive", deps.Archive != nil),
	)
	if err := deps.Run(ctx); err != nil {
		logger.Error("observer_stopped", zap.Error(err))
		return
	}
	logger.Info("observer_stopped")
}
