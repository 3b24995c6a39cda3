package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/sirupsen/logrus"

	"github.com/cohenjo/migration-stream/pkg/api"
	"github.com/cohenjo/migration-stream/pkg/config"
	"github.com/cohenjo/migration-stream/pkg/estuary"
	"github.com/cohenjo/migration-stream/pkg/metrics"
	"github.com/cohenjo/migration-stream/pkg/replicator"
	"github.com/cohenjo/migration-stream/pkg/state"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	var configFiles string
	flag.StringVar(&configFiles, "config", "", "comma separated configuration files, later files override earlier ones")
	flag.Parse()

	if err := run(config.SplitPaths(configFiles)); err != nil {
		fmt.Fprintf(os.Stderr, "migration-stream: %v\n", err)
		os.Exit(1)
	}
}

func run(paths []string) error {
	cfg, err := config.NewLoader().LoadDefault(paths...)
	if err != nil {
		return err
	}

	logger, logCloser, err := config.ConfigureLogging(cfg.Logging, cfg.LogFile())
	if err != nil {
		return err
	}
	defer logCloser.Close()

	batchSize := watchConfig(paths, cfg, logger)

	telemetry, err := metrics.NewTelemetryManager(cfg.Telemetry, cfg.Metrics.Namespace)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}

	broadcaster := state.NewBroadcaster(256)
	ctx := context.Background()
	controller, err := replicator.Build(ctx, cfg, replicator.BuildOptions{
		Logger:       logger,
		Telemetry:    telemetry,
		Monitors:     metrics.NewMongoMonitors(telemetry.Registry(), cfg.Metrics.Namespace),
		StateHandler: state.Handlers{state.NewLoggingHandler(logger), broadcaster},
		BatchSize:    batchSize,
	})
	if err != nil {
		_ = telemetry.Shutdown(ctx)
		return fmt.Errorf("failed to build migration: %w", err)
	}

	shutdown := replicator.NewShutdownHandler(replicator.ShutdownHandlerOptions{
		Controller:      controller,
		Logger:          logger,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	shutdown.AddHook(replicator.CreateMetricsFlushHook(telemetry.Shutdown))

	// metrics share the API port unless a dedicated one is configured
	var metricsHandler http.Handler
	switch {
	case !cfg.Metrics.Enabled:
	case cfg.Metrics.Port != 0 && cfg.Metrics.Port != cfg.Server.Port:
		metricsServer := metrics.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, telemetry)
		go serve("metrics", metricsServer.Start)
		shutdown.AddHook(replicator.CreateServerStopHook("metrics_server", metricsServer.Stop))
	default:
		metricsHandler = telemetry.Handler()
	}

	if cfg.Server.Enabled {
		server := api.NewServer(api.Options{
			Config:    cfg.Server,
			Migration: controller,
			Metrics:   metricsHandler,
			Events:    broadcaster,
			Version:   version,
		})
		go serve("api", server.Start)
		shutdown.AddHook(replicator.CreateServerStopHook("api_server", server.Stop))
	}

	if err := controller.Start(ctx); err != nil {
		logger.WithError(err).Error("Unable to start migration")
		if shutdownErr := shutdown.Shutdown(); shutdownErr != nil {
			logger.WithError(shutdownErr).Error("Teardown after failed start reported errors")
		}
		return err
	}

	logger.WithFields(logrus.Fields{
		"source":      cfg.Source.Database,
		"destination": cfg.Destination.Database,
		"collections": len(controller.Mappings()),
		"version":     version,
	}).Info("Migration started")

	return shutdown.Wait(ctx)
}

// watchConfig hot-reloads the batch size and log level from the last
// configuration file. Without an explicit file the configured values stay fixed.
func watchConfig(paths []string, cfg *config.Config, logger *logrus.Logger) estuary.BatchSizeProvider {
	if len(paths) == 0 {
		return estuary.ConstantBatchSizeProvider(cfg.Performer.BatchSize)
	}

	watcher, err := config.NewWatcher(paths[len(paths)-1], cfg, logger)
	if err != nil {
		logger.WithError(err).Warn("Configuration hot reload disabled")
		return estuary.ConstantBatchSizeProvider(cfg.Performer.BatchSize)
	}
	watcher.OnChange(func(batchSize int, logLevel string) {
		if err := config.SetLogLevel(logger, logLevel); err != nil {
			logger.WithError(err).Warn("Ignoring reloaded log level")
		}
		logger.WithFields(logrus.Fields{
			"batch_size": batchSize,
			"log_level":  logLevel,
		}).Info("Configuration reloaded")
	})
	watcher.Start()
	return estuary.NewConfigBatchSizeProvider(watcher, cfg.Performer.BatchSize)
}

func serve(name string, start func() error) {
	if err := start(); err != nil {
		log.Error().Err(err).Str("server", name).Msg("Server stopped unexpectedly")
	}
}
