package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/amineamaach/edgeTranslator-SpB/internal/config"
	"github.com/amineamaach/edgeTranslator-SpB/internal/log"
	"github.com/amineamaach/edgeTranslator-SpB/internal/services"
)

func Run() {
	// Get configs from file
	cfg := config.GetConfigs()

	// Instantiate a new logger
	logger := log.NewLogger(
		cfg.LoggerConfig.Level,
		cfg.LoggerConfig.Format,
		cfg.LoggerConfig.DisableTimestamp,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor := services.NewMonitor()
	if cfg.EnablePrometheus {
		addr := cfg.PrometheusAddr
		if addr == "" {
			addr = ":8080"
		}
		go monitor.Serve(addr, logger)
	}

	translator := services.NewTranslatorSvc(
		cfg,
		services.NewHTTPIdentity(cfg.IdentityAPI),
		services.NewHTTPConfigSource(cfg.ConfigAPI),
		monitor,
		logger,
	)

	if err := translator.Start(ctx); err != nil {
		logger.Errorf("⛔ Failed to start the translator: %v ⛔\n", err)
		return
	}

	// Wait for a signal before exiting
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	<-sig

	translator.Stop()
	<-translator.Stopped()
	logger.Info("Shutdown complete ✅")
}
