package replicator

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cohenjo/migration-stream/pkg/auth"
	"github.com/cohenjo/migration-stream/pkg/config"
	"github.com/cohenjo/migration-stream/pkg/detector"
	"github.com/cohenjo/migration-stream/pkg/estuary"
	"github.com/cohenjo/migration-stream/pkg/metrics"
	"github.com/cohenjo/migration-stream/pkg/models"
	"github.com/cohenjo/migration-stream/pkg/performer"
	"github.com/cohenjo/migration-stream/pkg/queue"
	"github.com/cohenjo/migration-stream/pkg/sharding"
	"github.com/cohenjo/migration-stream/pkg/state"
	"github.com/cohenjo/migration-stream/pkg/transfer"
	"github.com/cohenjo/migration-stream/pkg/validation"
)

// BuildOptions are the process-wide resources shared by the migration
type BuildOptions struct {
	Logger    *logrus.Logger
	Telemetry *metrics.TelemetryManager
	// Monitors instruments both Mongo clients; may be nil
	Monitors *metrics.MongoMonitors
	// StateHandler receives every lifecycle event; may be nil
	StateHandler state.Handler
	// BatchSize overrides performer.batch_size, for example with a hot-reloaded value
	BatchSize estuary.BatchSizeProvider
}

// Build connects to both clusters and assembles every component of the
// migration described by cfg
func Build(ctx context.Context, cfg *config.Config, opts BuildOptions) (*MigrationController, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	logger := opts.Logger

	mappings, err := cfg.Mappings()
	if err != nil {
		return nil, err
	}

	clientOpts := auth.ClientOptions{Logger: logger}
	if opts.Monitors != nil {
		clientOpts.CommandMonitor = opts.Monitors.CommandMonitor("migration")
		clientOpts.PoolMonitor = opts.Monitors.PoolMonitor("migration")
	}
	clients, err := auth.Connect(ctx, cfg, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	controller, err := assemble(ctx, cfg, mappings, clients, opts)
	if err != nil {
		_ = clients.Close(context.Background())
		return nil, err
	}
	return controller, nil
}

func assemble(ctx context.Context, cfg *config.Config, mappings []models.SourceToDestination, clients *auth.MongoDbClients, opts BuildOptions) (*MigrationController, error) {
	logger := opts.Logger
	sourceDB, destinationDB := clients.SourceDB(), clients.DestinationDB()

	shardingInfo, err := sharding.NewLoader(clients.Destination, logger).Load(ctx, cfg.Destination.Database)
	if err != nil {
		logger.WithError(err).Warn("Unable to read destination sharding, assuming unsharded collections")
		shardingInfo = models.ShardingInfo{}
	}

	factory, err := queue.NewFactory(queue.FactoryOptions{
		Type:           queue.FactoryType(cfg.Performer.QueueFactory),
		RootPath:       cfg.Performer.RootPath,
		SyncEveryWrite: cfg.Performer.QueueSyncEveryWrite,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	queues, err := queue.CreateQueues(factory, mappings)
	if err != nil {
		return nil, err
	}
	cleanup := &Cleanup{
		RootPath: cfg.Performer.RootPath,
		SourceDB: cfg.Source.Database,
		Queues:   queues,
	}

	passwordFiles := transfer.NewPasswordConfigFiles(cfg.Performer.RootPath)
	if cfg.Perform.Transfer {
		passwordFiles, err = transfer.GeneratePasswordConfigFiles(cfg.Performer.RootPath, cfg.Source, cfg.Destination)
		if err != nil {
			_ = cleanup.Run()
			return nil, err
		}
	}
	cleanup.PasswordFiles = passwordFiles

	stateInfo := state.NewStateInfo(opts.StateHandler)
	performers, err := performer.CreatePerformers(performer.FactoryOptions{
		Config:        cfg,
		Mappings:      mappings,
		SourceDB:      sourceDB,
		DestinationDB: destinationDB,
		Queues:        queues,
		Sharding:      shardingInfo,
		PasswordFiles: passwordFiles,
		BatchSize:     opts.BatchSize,
		Notifier:      stateInfo,
		Telemetry:     opts.Telemetry,
		Logger:        logger,
	})
	if err != nil {
		_ = cleanup.Run()
		return nil, err
	}

	scheduler, err := detector.NewRegistry().NewSchedulerFromConfig(cfg.Detection, detector.Dependencies{
		Mappings:      mappings,
		SourceDB:      detector.NewMongoDatabase(sourceDB),
		DestinationDB: detector.NewMongoDatabase(destinationDB),
		Queues:        queues,
		Telemetry:     opts.Telemetry,
		Logger:        logger,
	})
	if err != nil {
		_ = cleanup.Run()
		return nil, err
	}

	validators, err := validation.NewRegistry().Build(cfg.Validators, validation.Dependencies{
		Config:        cfg,
		SourceDB:      validation.NewMongoDatabase(sourceDB),
		DestinationDB: validation.NewMongoDatabase(destinationDB),
		Logger:        logger,
	})
	if err != nil {
		_ = cleanup.Run()
		return nil, err
	}

	return NewMigrationController(Components{
		Mappings:   mappings,
		Validators: validators,
		Performers: performer.NewController(performers, scheduler, logger),
		Detection:  scheduler,
		StateInfo:  stateInfo,
		Cleanup:    cleanup.Run,
		Close:      clients.Close,
		Ping:       clients.Ping,
		Logger:     logger,
	}), nil
}
