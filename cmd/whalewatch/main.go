package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"whalewatch/internal/api"
	"whalewatch/internal/config"
	"whalewatch/internal/logging"
	"whalewatch/internal/runtime"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file (YAML or JSON)")
	flag.Parse()

	// Best effort; a missing .env is normal.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := runtime.New(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	api.Start(ctx, cfg.Dashboard, rt, logging.For(logger, "api"))

	if err := rt.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("runtime stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
