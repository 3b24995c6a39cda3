package index

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"golang.org/x/sync/errgroup"

	"github.com/cohenjo/migration-stream/pkg/models"
	"github.com/cohenjo/migration-stream/pkg/state"
)

// Cloner rebuilds the source indexes of one mapping on the destination
type Cloner interface {
	// CloneIndexes starts cloning and returns immediately
	CloneIndexes(ctx context.Context)
	Stop()
}

// NoOpCloner is used when the bulk copy is disabled
type NoOpCloner struct{}

func (NoOpCloner) CloneIndexes(context.Context) {}
func (NoOpCloner) Stop()                        {}

// Source lists index definitions of a source collection
type Source interface {
	ListIndexes(ctx context.Context, collection string) ([]bson.D, error)
}

// Target creates one index on a destination collection
type Target interface {
	CreateIndex(ctx context.Context, collection string, definition bson.D) error
}

// Database adapts a *mongo.Database to Source and Target
type Database struct {
	db *mongo.Database
}

// NewDatabase wraps db
func NewDatabase(db *mongo.Database) *Database {
	return &Database{db: db}
}

func (d *Database) ListIndexes(ctx context.Context, collection string) ([]bson.D, error) {
	cursor, err := d.db.Collection(collection).Indexes().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes of %s.%s: %w", d.db.Name(), collection, err)
	}
	var indexes []bson.D
	if err := cursor.All(ctx, &indexes); err != nil {
		return nil, fmt.Errorf("failed to read indexes of %s.%s: %w", d.db.Name(), collection, err)
	}
	return indexes, nil
}

// CreateIndex runs createIndexes with the raw definition so every option of
// the source index is kept
func (d *Database) CreateIndex(ctx context.Context, collection string, definition bson.D) error {
	command := bson.D{
		{Key: "createIndexes", Value: collection},
		{Key: "indexes", Value: bson.A{definition}},
	}
	return d.db.RunCommand(ctx, command).Err()
}

// ClonerOptions configures a MongoCloner
type ClonerOptions struct {
	Mapping     models.SourceToDestination
	Source      Source
	Destination Target
	Notifier    state.Notifier
	Logger      *logrus.Logger
	// Concurrency limits parallel createIndexes commands, 0 means unlimited
	Concurrency int
}

// MongoCloner copies index definitions from the source collection to the
// destination collection, skipping the default _id index
type MongoCloner struct {
	opts   ClonerOptions
	logger *logrus.Entry

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// NewMongoCloner creates a cloner for one mapping
func NewMongoCloner(opts ClonerOptions) *MongoCloner {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &MongoCloner{
		opts: opts,
		logger: opts.Logger.WithFields(logrus.Fields{
			"component":   "index_cloner",
			"source":      opts.Mapping.Source.Namespace(),
			"destination": opts.Mapping.Destination.Namespace(),
		}),
	}
}

// CloneIndexes emits IndexRebuildStart and clones in the background.
// IndexRebuildFinish is emitted once every index was attempted.
// A stopped cloner does nothing.
func (c *MongoCloner) CloneIndexes(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		c.logger.Info("Index cloner already stopped, not cloning")
		return
	}
	if c.done != nil {
		return
	}

	c.logger.Info("Cloning all indexes for collection")
	c.opts.Notifier.Notify(state.IndexRebuildStartEvent(c.opts.Mapping))

	cloneCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.clone(cloneCtx, c.done)
}

func (c *MongoCloner) clone(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithField("panic", r).Error("Panic while cloning indexes")
		}
	}()

	definitions, err := c.sourceIndexes(ctx)
	if err != nil {
		c.logger.WithError(err).Error("Unable to list source indexes")
		definitions = nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	if c.opts.Concurrency > 0 {
		group.SetLimit(c.opts.Concurrency)
	}
	for _, definition := range definitions {
		definition := definition
		group.Go(func() error {
			if err := c.opts.Destination.CreateIndex(groupCtx, c.opts.Mapping.Destination.CollectionName, definition); err != nil {
				c.logger.WithError(err).WithField("index", indexName(definition)).
					Error("Error when creating index, skipping this index")
			}
			return nil
		})
	}
	_ = group.Wait()

	if ctx.Err() != nil {
		c.logger.Info("Index cloning cancelled")
		return
	}
	c.opts.Notifier.Notify(state.IndexRebuildFinishEvent(c.opts.Mapping))
	c.logger.WithField("indexes", len(definitions)).Info("Finished cloning indexes")
}

func (c *MongoCloner) sourceIndexes(ctx context.Context) ([]bson.D, error) {
	raw, err := c.opts.Source.ListIndexes(ctx, c.opts.Mapping.Source.CollectionName)
	if err != nil {
		return nil, err
	}
	definitions := make([]bson.D, 0, len(raw))
	for _, index := range raw {
		if isDefaultIDIndex(index) {
			continue
		}
		definitions = append(definitions, prepareDefinition(index))
	}
	return definitions, nil
}

// prepareDefinition drops the namespace and version fields and builds the
// index in the background
func prepareDefinition(index bson.D) bson.D {
	definition := make(bson.D, 0, len(index)+1)
	for _, e := range index {
		switch e.Key {
		case "ns", "v", "background":
			continue
		}
		definition = append(definition, e)
	}
	return append(definition, bson.E{Key: "background", Value: true})
}

func isDefaultIDIndex(index bson.D) bool {
	for _, e := range index {
		if e.Key != "key" {
			continue
		}
		key, ok := e.Value.(bson.D)
		if !ok || len(key) != 1 || key[0].Key != "_id" {
			return false
		}
		switch v := key[0].Value.(type) {
		case int32:
			return v == 1
		case int64:
			return v == 1
		case float64:
			return v == 1
		}
		return false
	}
	return false
}

func indexName(index bson.D) string {
	for _, e := range index {
		if e.Key == "name" {
			if name, ok := e.Value.(string); ok {
				return name
			}
		}
	}
	return ""
}

// Done is closed when cloning finished or was cancelled; nil before CloneIndexes
func (c *MongoCloner) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Stop cancels pending index creation and prevents any later cloning.
// It is idempotent.
func (c *MongoCloner) Stop() {
	c.mu.Lock()
	c.stopped = true
	cancel := c.cancel
	c.mu.Unlock()

	c.logger.Info("Trying to shut down index cloner gracefully")
	if cancel != nil {
		cancel()
	}
	c.logger.Info("Shut down index cloner")
}

var (
	_ Cloner = (*MongoCloner)(nil)
	_ Cloner = NoOpCloner{}
	_ Source = (*Database)(nil)
	_ Target = (*Database)(nil)
)
