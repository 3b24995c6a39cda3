package estuary

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/cohenjo/migration-stream/pkg/config"
	"github.com/cohenjo/migration-stream/pkg/events"
	"github.com/cohenjo/migration-stream/pkg/models"
	"github.com/cohenjo/migration-stream/pkg/queue"
	"github.com/cohenjo/migration-stream/pkg/state"
)

var testMapping = models.SourceToDestination{
	Source:      models.DbCollection{DBName: "shop", CollectionName: "orders"},
	Destination: models.DbCollection{DBName: "shop_v2", CollectionName: "orders"},
}

var fastRetry = config.RetryConfig{
	InitialInterval: time.Millisecond,
	Multiplier:      2,
	MaxInterval:     4 * time.Millisecond,
	MaxElapsedTime:  200 * time.Millisecond,
	AttemptTimeout:  100 * time.Millisecond,
}

type fakePublisher struct {
	mu       sync.Mutex
	failures int
	err      error
	batches  [][]events.ChangeEvent
	attempts int
}

func (p *fakePublisher) PublishBulkEvents(_ context.Context, batch []events.ChangeEvent) (*BulkResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.err != nil && (p.failures < 0 || p.attempts <= p.failures) {
		return nil, p.err
	}
	p.batches = append(p.batches, batch)
	return &BulkResult{}, nil
}

func (p *fakePublisher) snapshot() ([][]events.ChangeEvent, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]events.ChangeEvent(nil), p.batches...), p.attempts
}

func (p *fakePublisher) applied() int {
	batches, _ := p.snapshot()
	total := 0
	for _, b := range batches {
		total += len(b)
	}
	return total
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []state.Event
}

func (n *recordingNotifier) Notify(event state.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) has(eventType state.EventType) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e.Type == eventType {
			return true
		}
	}
	return false
}

func deleteEvent(id int) events.ChangeEvent {
	return &events.DeleteEvent{DocumentKey: bson.D{{Key: "_id", Value: id}}}
}

func fillQueue(q queue.EventQueue, n int) {
	for i := 0; i < n; i++ {
		q.Offer(deleteEvent(i))
	}
}

func newTestSynchronizer(q queue.EventQueue, publisher Publisher, notifier state.Notifier, batchSize int) *LocalToDestinationSynchronizer {
	return NewLocalToDestinationSynchronizer(LocalToDestinationOptions{
		Mapping:     testMapping,
		Queue:       q,
		Publisher:   publisher,
		BatchSize:   ConstantBatchSizeProvider(batchSize),
		Notifier:    notifier,
		Retry:       fastRetry,
		IdleBackoff: time.Millisecond,
		PausePoll:   time.Millisecond,
		StopTimeout: time.Second,
	})
}

func TestReplayDrainsQueueInBatches(t *testing.T) {
	q := queue.NewMemoryQueue()
	fillQueue(q, 25)
	publisher := &fakePublisher{}
	notifier := &recordingNotifier{}
	replay := newTestSynchronizer(q, publisher, notifier, 10)

	require.NoError(t, replay.Start(context.Background()))
	defer replay.Stop()

	require.Eventually(t, func() bool { return publisher.applied() == 25 }, time.Second, 5*time.Millisecond)

	batches, _ := publisher.snapshot()
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 10)
	assert.Len(t, batches[1], 10)
	assert.Len(t, batches[2], 5)

	expected := 0
	for _, batch := range batches {
		for _, event := range batch {
			assert.Equal(t, deleteEvent(expected).Key(), event.Key())
			expected++
		}
	}
	assert.True(t, notifier.has(state.EventLocalToDestinationStart))
}

func TestReplayRetriesTransientFailures(t *testing.T) {
	q := queue.NewMemoryQueue()
	fillQueue(q, 3)
	publisher := &fakePublisher{failures: 2, err: errors.New("not primary")}
	notifier := &recordingNotifier{}
	replay := newTestSynchronizer(q, publisher, notifier, 10)

	require.NoError(t, replay.Start(context.Background()))
	defer replay.Stop()

	require.Eventually(t, func() bool { return publisher.applied() == 3 }, time.Second, 5*time.Millisecond)
	_, attempts := publisher.snapshot()
	assert.Equal(t, 3, attempts)
	assert.False(t, notifier.has(state.EventFailed))
}

func TestReplayFailsAfterRetryBudget(t *testing.T) {
	tests := []struct {
		name  string
		retry config.RetryConfig
	}{
		{name: "max_elapsed_time", retry: fastRetry},
		{name: "max_tries", retry: config.RetryConfig{InitialInterval: time.Millisecond, Multiplier: 2, MaxInterval: time.Millisecond, MaxTries: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := queue.NewMemoryQueue()
			fillQueue(q, 5)
			publisher := &fakePublisher{failures: -1, err: errors.New("destination down")}
			notifier := &recordingNotifier{}
			replay := newTestSynchronizer(q, publisher, notifier, 2)
			replay.opts.Retry = tt.retry

			require.NoError(t, replay.Start(context.Background()))

			require.Eventually(t, func() bool { return notifier.has(state.EventFailed) }, 2*time.Second, 5*time.Millisecond)
			require.Eventually(t, replay.IsStopped, time.Second, 5*time.Millisecond)
			assert.Eventually(t, q.IsEmpty, time.Second, 5*time.Millisecond)
			assert.Equal(t, 0, publisher.applied())
			if tt.retry.MaxTries > 0 {
				_, attempts := publisher.snapshot()
				assert.Equal(t, int(tt.retry.MaxTries), attempts)
			}

			replay.Stop()
		})
	}
}

func TestReplayPauseBlocksNewBatches(t *testing.T) {
	q := queue.NewMemoryQueue()
	publisher := &fakePublisher{}
	notifier := &recordingNotifier{}
	replay := newTestSynchronizer(q, publisher, notifier, 10)

	require.NoError(t, replay.Start(context.Background()))
	defer replay.Stop()

	replay.Pause()
	assert.True(t, replay.IsPaused())
	fillQueue(q, 4)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, publisher.applied())
	assert.Equal(t, 4, q.Size())

	replay.Resume()
	require.Eventually(t, func() bool { return publisher.applied() == 4 }, time.Second, 5*time.Millisecond)
	assert.True(t, notifier.has(state.EventPause))
	assert.True(t, notifier.has(state.EventResume))
}

func TestReplayStopPurgesQueue(t *testing.T) {
	q := queue.NewMemoryQueue()
	publisher := &fakePublisher{}
	replay := newTestSynchronizer(q, publisher, &recordingNotifier{}, 10)

	require.NoError(t, replay.Start(context.Background()))
	replay.Pause()
	fillQueue(q, 7)

	replay.Stop()
	replay.Stop()

	assert.True(t, q.IsEmpty())
	assert.True(t, replay.IsStopped())
	assert.Error(t, replay.Start(context.Background()))
}

func TestBatchSizeProviders(t *testing.T) {
	tests := []struct {
		name     string
		provider BatchSizeProvider
		expected int
	}{
		{name: "constant", provider: ConstantBatchSizeProvider(500), expected: 500},
		{name: "config_value", provider: NewConfigBatchSizeProvider(ConstantBatchSizeProvider(250), 1000), expected: 250},
		{name: "config_invalid_value", provider: NewConfigBatchSizeProvider(ConstantBatchSizeProvider(0), 1000), expected: 1000},
		{name: "config_without_source", provider: NewConfigBatchSizeProvider(nil, 1000), expected: 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.provider.BatchSize())
		})
	}
}

type fakeBulkWriter struct {
	writes  []mongo.WriteModel
	ordered *bool
	err     error
}

func (w *fakeBulkWriter) BulkWrite(_ context.Context, writes []mongo.WriteModel, opts ...options.Lister[options.BulkWriteOptions]) (*mongo.BulkWriteResult, error) {
	w.writes = writes
	for _, lister := range opts {
		for _, set := range lister.List() {
			var o options.BulkWriteOptions
			_ = set(&o)
			w.ordered = o.Ordered
		}
	}
	if w.err != nil {
		return nil, w.err
	}
	return &mongo.BulkWriteResult{DeletedCount: int64(len(writes))}, nil
}

func TestEventPublisher(t *testing.T) {
	t.Run("ordered_bulk_write", func(t *testing.T) {
		writer := &fakeBulkWriter{}
		publisher := NewEventPublisher(writer)

		result, err := publisher.PublishBulkEvents(context.Background(), []events.ChangeEvent{deleteEvent(1), deleteEvent(2)})
		require.NoError(t, err)
		assert.Len(t, writer.writes, 2)
		require.NotNil(t, writer.ordered)
		assert.True(t, *writer.ordered)
		assert.Equal(t, int64(2), result.Deleted)
	})

	t.Run("drops_unconvertible_events", func(t *testing.T) {
		writer := &fakeBulkWriter{}
		publisher := NewEventPublisher(writer)
		empty := &events.UpdateEvent{DocumentKey: bson.D{{Key: "_id", Value: 3}}}

		result, err := publisher.PublishBulkEvents(context.Background(), []events.ChangeEvent{empty, deleteEvent(4)})
		require.NoError(t, err)
		assert.Len(t, writer.writes, 1)
		assert.Equal(t, 1, result.Skipped)
	})

	t.Run("nothing_to_write", func(t *testing.T) {
		writer := &fakeBulkWriter{}
		publisher := NewEventPublisher(writer)

		result, err := publisher.PublishBulkEvents(context.Background(), []events.ChangeEvent{&events.UpdateEvent{DocumentKey: bson.D{{Key: "_id", Value: 3}}}})
		require.NoError(t, err)
		assert.Nil(t, writer.writes)
		assert.Equal(t, 1, result.Skipped)
	})

	t.Run("write_error", func(t *testing.T) {
		writer := &fakeBulkWriter{err: errors.New("duplicate key")}
		publisher := NewEventPublisher(writer)

		_, err := publisher.PublishBulkEvents(context.Background(), []events.ChangeEvent{deleteEvent(1)})
		require.Error(t, err)
		assert.ErrorIs(t, err, writer.err)
	})
}
