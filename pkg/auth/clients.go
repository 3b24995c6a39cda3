package auth

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/multierr"

	"github.com/cohenjo/migration-stream/pkg/config"
)

// MongoDbClients holds the connected source and destination clients
type MongoDbClients struct {
	Source              *mongo.Client
	Destination         *mongo.Client
	SourceDatabase      string
	DestinationDatabase string
}

// Connect opens both clients. A failed destination connection disconnects
// the source again.
func Connect(ctx context.Context, cfg *config.Config, opts ClientOptions) (*MongoDbClients, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	sourceOpts := opts
	sourceOpts.AppName = "migration-stream-source"
	source, err := NewMongoClient(ctx, cfg.Source, sourceOpts)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}

	destinationOpts := opts
	destinationOpts.AppName = "migration-stream-destination"
	destination, err := NewMongoClient(ctx, cfg.Destination, destinationOpts)
	if err != nil {
		_ = source.Disconnect(context.Background())
		return nil, fmt.Errorf("destination: %w", err)
	}

	return &MongoDbClients{
		Source:              source,
		Destination:         destination,
		SourceDatabase:      cfg.Source.Database,
		DestinationDatabase: cfg.Destination.Database,
	}, nil
}

// SourceDB returns the migrated source database
func (c *MongoDbClients) SourceDB() *mongo.Database {
	return c.Source.Database(c.SourceDatabase)
}

// DestinationDB returns the destination database
func (c *MongoDbClients) DestinationDB() *mongo.Database {
	return c.Destination.Database(c.DestinationDatabase)
}

// Close disconnects both clients and reports every failure
func (c *MongoDbClients) Close(ctx context.Context) error {
	var err error
	if c.Source != nil {
		err = multierr.Append(err, c.Source.Disconnect(ctx))
	}
	if c.Destination != nil {
		err = multierr.Append(err, c.Destination.Disconnect(ctx))
	}
	return err
}

// Ping checks that both clusters answer
func (c *MongoDbClients) Ping(ctx context.Context) error {
	var err error
	if pingErr := c.Source.Ping(ctx, nil); pingErr != nil {
		err = multierr.Append(err, fmt.Errorf("source: %w", pingErr))
	}
	if pingErr := c.Destination.Ping(ctx, nil); pingErr != nil {
		err = multierr.Append(err, fmt.Errorf("destination: %w", pingErr))
	}
	return err
}
