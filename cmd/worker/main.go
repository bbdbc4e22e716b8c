package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/ignite/tinymail/internal/app"
	"github.com/ignite/tinymail/internal/config"
	"github.com/ignite/tinymail/internal/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("worker: load config", "error", err)
		os.Exit(1)
	}
	app.ConfigureLogger(cfg.Log)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Error("worker: invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error("worker: startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	pool, maint, err := a.Worker(ctx)
	if err != nil {
		logger.Error("worker: build pool", "error", err)
		os.Exit(1)
	}

	logger.Info("worker: starting",
		"transport", cfg.Transport.Provider, "quota_threshold", cfg.Quota.Threshold(),
		"quota_backoff", cfg.Quota.Backoff(), "strict_quota", cfg.Quota.Strict)

	if err := maint.Start(); err != nil {
		logger.Error("worker: schedule maintenance", "error", err)
		os.Exit(1)
	}
	pool.Start(ctx)

	<-ctx.Done()
	logger.Info("worker: shutting down")
	pool.Stop()
	maint.Stop()
	logger.Info("worker: stopped", "stats", pool.Stats())
}
