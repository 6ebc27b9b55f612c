// Command ledgerd runs the ledger safety service: the HTTP API, the
// reconciliation sweep and the audit/alert pipelines.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/satsboard/ledger-service/internal/app"
	"github.com/satsboard/ledger-service/internal/config"
	"github.com/satsboard/ledger-service/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault("ledgerd").WithError(err).Error("load configuration")
		os.Exit(1)
	}

	log := logger.New(logger.LoggingConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	// The Lightning executor is wired per deployment; without one the service
	// still serves transfers, deposits and the admin surface, and refuses
	// payouts.
	application, err := app.New(cfg, nil, log)
	if err != nil {
		log.WithError(err).Error("build application")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		log.WithError(err).Error("service exited with error")
		os.Exit(1)
	}
	log.Info("service stopped")
}
