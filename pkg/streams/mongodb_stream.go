package streams

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/cohenjo/migration-stream/pkg/events"
	"github.com/cohenjo/migration-stream/pkg/metrics"
	"github.com/cohenjo/migration-stream/pkg/models"
	"github.com/cohenjo/migration-stream/pkg/queue"
	"github.com/cohenjo/migration-stream/pkg/state"
)

// ErrStreamTerminated is reported when the change stream ends without being stopped
var ErrStreamTerminated = errors.New("change stream terminated")

// ChangeStream is the cursor of a change stream subscription
type ChangeStream interface {
	Next(ctx context.Context) bool
	// Raw returns the document the last Next call moved to
	Raw() bson.Raw
	Err() error
	Close(ctx context.Context) error
}

// Watcher opens change streams on source collections
type Watcher interface {
	Watch(ctx context.Context, collection models.DbCollection) (ChangeStream, error)
}

// CollectionWatcher watches collections of a source database
type CollectionWatcher struct {
	database *mongo.Database
}

// NewCollectionWatcher creates a Watcher for the source database
func NewCollectionWatcher(database *mongo.Database) *CollectionWatcher {
	return &CollectionWatcher{database: database}
}

// Watch opens a change stream restricted to the replayable operation types.
// Update events carry the current document.
func (w *CollectionWatcher) Watch(ctx context.Context, collection models.DbCollection) (ChangeStream, error) {
	operations := make(bson.A, 0, len(events.SupportedOperations))
	for _, op := range events.SupportedOperations {
		operations = append(operations, string(op))
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "operationType", Value: bson.D{{Key: "$in", Value: operations}}}}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	cs, err := w.database.Collection(collection.CollectionName).Watch(ctx, pipeline, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create change stream: %w", err)
	}
	return &mongoChangeStream{cs: cs}, nil
}

type mongoChangeStream struct {
	cs *mongo.ChangeStream
}

func (s *mongoChangeStream) Next(ctx context.Context) bool   { return s.cs.Next(ctx) }
func (s *mongoChangeStream) Raw() bson.Raw                   { return s.cs.Current }
func (s *mongoChangeStream) Err() error                      { return s.cs.Err() }
func (s *mongoChangeStream) Close(ctx context.Context) error { return s.cs.Close(ctx) }

// MongoDBStreamOptions configures a MongoDBStream
type MongoDBStreamOptions struct {
	Mapping   models.SourceToDestination
	Watcher   Watcher
	Queue     queue.EventQueue
	Notifier  state.Notifier
	Telemetry *metrics.TelemetryManager
	// ShardKey is the destination shard key field, empty when not sharded
	ShardKey string
	// StopTimeout bounds how long Stop waits for the processing goroutine
	StopTimeout time.Duration
}

// MongoDBStream captures the changes of one source collection into its queue
type MongoDBStream struct {
	opts MongoDBStreamOptions

	mu           sync.Mutex
	changeStream ChangeStream
	cancel       context.CancelFunc
	done         chan struct{}
	stopped      bool
}

// NewMongoDBStream creates a capture stream for one mapping
func NewMongoDBStream(opts MongoDBStreamOptions) *MongoDBStream {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 10 * time.Second
	}
	return &MongoDBStream{opts: opts}
}

// Start opens the change stream and starts enqueueing its events. The
// subscription is established when Start returns.
func (s *MongoDBStream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("stream for %s is stopped", s.opts.Mapping)
	}
	if s.changeStream != nil {
		return fmt.Errorf("stream for %s is already running", s.opts.Mapping)
	}

	mapping := s.opts.Mapping
	log.Info().Str("mapping", mapping.String()).Msg("Starting source to local synchronization")
	s.opts.Notifier.Notify(state.StartEvent(mapping))

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	changeStream, err := s.opts.Watcher.Watch(streamCtx, mapping.Source)
	if err != nil {
		cancel()
		s.opts.Notifier.Notify(state.FailedEvent(mapping, err))
		return fmt.Errorf("failed to watch %s: %w", mapping.Source, err)
	}

	s.changeStream = changeStream
	s.cancel = cancel
	s.done = make(chan struct{})
	s.opts.Notifier.Notify(state.SourceToLocalStartEvent(mapping))

	go s.processEvents(streamCtx, changeStream, s.done)

	log.Info().Str("mapping", mapping.String()).Msg("Change stream created")
	return nil
}

// Stop cancels the subscription and closes the change stream. It is idempotent.
func (s *MongoDBStream) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel, done, changeStream := s.cancel, s.done, s.changeStream
	s.mu.Unlock()

	log.Info().Str("mapping", s.opts.Mapping.String()).Msg("Stopping source to local synchronization")
	if cancel == nil {
		return
	}
	cancel()

	select {
	case <-done:
	case <-time.After(s.opts.StopTimeout):
		log.Warn().Str("mapping", s.opts.Mapping.String()).Msg("Timed out waiting for change stream processing to stop")
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), s.opts.StopTimeout)
	defer closeCancel()
	if err := changeStream.Close(closeCtx); err != nil {
		log.Warn().Err(err).Str("mapping", s.opts.Mapping.String()).Msg("Error closing change stream")
	}
	log.Info().Str("mapping", s.opts.Mapping.String()).Msg("Source to local synchronization stopped")
}

func (s *MongoDBStream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// processEvents moves change stream events into the queue until the stream
// ends or fails
func (s *MongoDBStream) processEvents(ctx context.Context, changeStream ChangeStream, done chan struct{}) {
	mapping := s.opts.Mapping
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("mapping", mapping.String()).Msg("Panic in event processing")
			s.fail(fmt.Errorf("panic in change stream processing: %v", r))
		}
	}()

	for changeStream.Next(ctx) {
		started := time.Now()
		event, err := events.FromRawChangeEvent(changeStream.Raw(), s.opts.ShardKey)
		if err != nil {
			log.Error().Err(err).Str("mapping", mapping.String()).Msg("Failed to convert change event")
			continue
		}

		if !s.opts.Queue.Offer(event) {
			s.fail(fmt.Errorf("failed to enqueue %s event for %s", event.Operation(), mapping))
			return
		}
		s.opts.Telemetry.RecordChangeEvent(ctx, mapping, string(event.Operation()), time.Since(started))
	}

	if ctx.Err() != nil || s.isStopped() {
		log.Info().Str("mapping", mapping.String()).Msg("Event processing stopped")
		return
	}

	err := changeStream.Err()
	if err == nil {
		err = ErrStreamTerminated
	}
	log.Error().Err(err).Str("mapping", mapping.String()).Msg("Change stream error")
	s.fail(err)
}

// fail records the failure and releases the subscription. It runs on the
// processing goroutine, which owns the change stream once Next has returned.
func (s *MongoDBStream) fail(err error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel, changeStream := s.cancel, s.changeStream
	s.mu.Unlock()

	s.opts.Notifier.Notify(state.FailedEvent(s.opts.Mapping, err))
	cancel()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), s.opts.StopTimeout)
	defer closeCancel()
	if closeErr := changeStream.Close(closeCtx); closeErr != nil {
		log.Warn().Err(closeErr).Str("mapping", s.opts.Mapping.String()).Msg("Error closing change stream")
	}
}
