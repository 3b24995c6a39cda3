package performer

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/cohenjo/migration-stream/pkg/config"
	"github.com/cohenjo/migration-stream/pkg/estuary"
	"github.com/cohenjo/migration-stream/pkg/index"
	"github.com/cohenjo/migration-stream/pkg/metrics"
	"github.com/cohenjo/migration-stream/pkg/models"
	"github.com/cohenjo/migration-stream/pkg/queue"
	"github.com/cohenjo/migration-stream/pkg/state"
	"github.com/cohenjo/migration-stream/pkg/streams"
	"github.com/cohenjo/migration-stream/pkg/transfer"
)

// FactoryOptions are the shared resources performers are built from
type FactoryOptions struct {
	Config        *config.Config
	Mappings      []models.SourceToDestination
	SourceDB      *mongo.Database
	DestinationDB *mongo.Database
	Queues        map[models.SourceToDestination]queue.EventQueue
	Sharding      models.ShardingInfo
	PasswordFiles *transfer.PasswordConfigFiles
	BatchSize     estuary.BatchSizeProvider
	Notifier      state.Notifier
	Telemetry     *metrics.TelemetryManager
	Logger        *logrus.Logger
}

// CreatePerformers builds one performer per mapping. Stages disabled by the
// perform toggles are replaced by no-ops.
func CreatePerformers(opts FactoryOptions) ([]*Performer, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.BatchSize == nil {
		opts.BatchSize = estuary.ConstantBatchSizeProvider(opts.Config.Performer.BatchSize)
	}

	performers := make([]*Performer, 0, len(opts.Mappings))
	for _, mapping := range opts.Mappings {
		q, ok := opts.Queues[mapping]
		if !ok {
			return nil, fmt.Errorf("no queue for mapping %s", mapping)
		}
		performers = append(performers, New(Options{
			Mapping:  mapping,
			Capture:  createCapture(opts, mapping, q),
			Transfer: createTransfer(opts, mapping),
			Cloner:   createCloner(opts, mapping),
			Replay:   createReplay(opts, mapping, q),
			Notifier: opts.Notifier,
			Logger:   opts.Logger,
		}))
	}
	return performers, nil
}

func createCapture(opts FactoryOptions, mapping models.SourceToDestination, q queue.EventQueue) streams.Synchronizer {
	if !opts.Config.Perform.Synchronization {
		return streams.NoOpSynchronizer{}
	}
	return streams.NewMongoDBStream(streams.MongoDBStreamOptions{
		Mapping:   mapping,
		Watcher:   streams.NewCollectionWatcher(opts.SourceDB),
		Queue:     q,
		Notifier:  opts.Notifier,
		Telemetry: opts.Telemetry,
		ShardKey:  opts.Sharding.ShardKey(mapping.Destination),
	})
}

func createReplay(opts FactoryOptions, mapping models.SourceToDestination, q queue.EventQueue) estuary.ResumableSynchronizer {
	if !opts.Config.Perform.Synchronization {
		return estuary.NoOpResumableSynchronizer{}
	}
	performer := opts.Config.Performer
	return estuary.NewLocalToDestinationSynchronizer(estuary.LocalToDestinationOptions{
		Mapping:     mapping,
		Queue:       q,
		Publisher:   estuary.NewEventPublisher(opts.DestinationDB.Collection(mapping.Destination.CollectionName)),
		BatchSize:   opts.BatchSize,
		Notifier:    opts.Notifier,
		Telemetry:   opts.Telemetry,
		Retry:       performer.Retry,
		IdleBackoff: performer.IdleBackoff,
		Logger:      opts.Logger,
	})
}

func createTransfer(opts FactoryOptions, mapping models.SourceToDestination) transfer.Transfer {
	if !opts.Config.Perform.Transfer {
		return transfer.NoOpTransfer{}
	}
	return transfer.NewMongoToolsTransfer(transfer.MongoToolsOptions{
		Config:        opts.Config,
		Mapping:       mapping,
		PasswordFiles: opts.PasswordFiles,
		Notifier:      opts.Notifier,
		Telemetry:     opts.Telemetry,
		Logger:        opts.Logger,
	})
}

func createCloner(opts FactoryOptions, mapping models.SourceToDestination) index.Cloner {
	if !opts.Config.Perform.Transfer {
		return index.NoOpCloner{}
	}
	return index.NewMongoCloner(index.ClonerOptions{
		Mapping:     mapping,
		Source:      index.NewDatabase(opts.SourceDB),
		Destination: index.NewDatabase(opts.DestinationDB),
		Notifier:    opts.Notifier,
		Logger:      opts.Logger,
	})
}
