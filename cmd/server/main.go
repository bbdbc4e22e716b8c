package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/tinymail/internal/api"
	"github.com/ignite/tinymail/internal/app"
	"github.com/ignite/tinymail/internal/config"
	"github.com/ignite/tinymail/internal/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("server: load config", "error", err)
		os.Exit(1)
	}
	app.ConfigureLogger(cfg.Log)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Error("server: invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error("server: startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	srv := api.NewServer(cfg.Server.Addr(), a.Router(), time.Duration(cfg.Server.ReadTimeoutSeconds)*time.Second)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server: listening", "addr", cfg.Server.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server: listen failed", "error", err)
	}

	logger.Info("server: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server: shutdown", "error", err)
	}
	logger.Info("server: stopped")
}
