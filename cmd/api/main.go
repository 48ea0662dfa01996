package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/markdave123-py/contexta/internal/app"
	"github.com/markdave123-py/contexta/internal/config"
	"github.com/markdave123-py/contexta/internal/logger"
)

func main() {
	// Handle SIGINT/SIGTERM for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty, Output: os.Stdout})

	application, err := app.NewApp(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer application.Close()

	log.Info().Msg("contexta is running; DB connected and bootstrapped")
	if err := application.Run(ctx); err != nil {
		log.Error().Err(err).Msg("stopped with error")
		return
	}
	log.Info().Msg("shut down cleanly")
}
