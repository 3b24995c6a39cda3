package index

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/cohenjo/migration-stream/pkg/models"
	"github.com/cohenjo/migration-stream/pkg/state"
)

var testMapping = models.SourceToDestination{
	Source:      models.DbCollection{DBName: "shop", CollectionName: "orders"},
	Destination: models.DbCollection{DBName: "shop_v2", CollectionName: "orders_copy"},
}

type fakeSource struct {
	indexes []bson.D
	err     error
}

func (s *fakeSource) ListIndexes(_ context.Context, collection string) ([]bson.D, error) {
	if collection != testMapping.Source.CollectionName {
		return nil, errors.New("unexpected collection " + collection)
	}
	return s.indexes, s.err
}

type fakeTarget struct {
	mu      sync.Mutex
	created map[string]bson.D
	failing map[string]bool
	block   chan struct{}
}

func (t *fakeTarget) CreateIndex(ctx context.Context, collection string, definition bson.D) error {
	if t.block != nil {
		select {
		case <-t.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	name := indexName(definition)
	if t.failing[name] {
		return errors.New("index options conflict")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.created == nil {
		t.created = map[string]bson.D{}
	}
	t.created[collection+"/"+name] = definition
	return nil
}

func (t *fakeTarget) names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.created))
	for name := range t.created {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []state.EventType
}

func (n *recordingNotifier) Notify(event state.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event.Type)
}

func (n *recordingNotifier) types() []state.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]state.EventType(nil), n.events...)
}

func sourceIndexes() []bson.D {
	return []bson.D{
		{{Key: "v", Value: int32(2)}, {Key: "key", Value: bson.D{{Key: "_id", Value: int32(1)}}}, {Key: "name", Value: "_id_"}, {Key: "ns", Value: "shop.orders"}},
		{{Key: "v", Value: int32(2)}, {Key: "key", Value: bson.D{{Key: "customer", Value: int32(1)}}}, {Key: "name", Value: "customer_1"}, {Key: "unique", Value: true}},
		{{Key: "v", Value: int32(2)}, {Key: "key", Value: bson.D{{Key: "created", Value: int32(-1)}}}, {Key: "name", Value: "created_-1"}, {Key: "background", Value: false}},
	}
}

func waitDone(t *testing.T, cloner *MongoCloner) {
	t.Helper()
	select {
	case <-cloner.Done():
	case <-time.After(time.Second):
		t.Fatal("index cloning did not finish")
	}
}

func TestCloneIndexes(t *testing.T) {
	target := &fakeTarget{}
	notifier := &recordingNotifier{}
	cloner := NewMongoCloner(ClonerOptions{
		Mapping:     testMapping,
		Source:      &fakeSource{indexes: sourceIndexes()},
		Destination: target,
		Notifier:    notifier,
	})

	cloner.CloneIndexes(context.Background())
	waitDone(t, cloner)

	assert.Equal(t, []string{"orders_copy/created_-1", "orders_copy/customer_1"}, target.names())
	assert.Equal(t, []state.EventType{state.EventIndexRebuildStart, state.EventIndexRebuildFinish}, notifier.types())

	created := target.created["orders_copy/created_-1"]
	assert.Equal(t, bson.D{
		{Key: "key", Value: bson.D{{Key: "created", Value: int32(-1)}}},
		{Key: "name", Value: "created_-1"},
		{Key: "background", Value: true},
	}, created)
}

func TestCloneIndexesSkipsFailures(t *testing.T) {
	tests := []struct {
		name    string
		source  *fakeSource
		target  *fakeTarget
		created []string
	}{
		{
			name:    "single_index_failure",
			source:  &fakeSource{indexes: sourceIndexes()},
			target:  &fakeTarget{failing: map[string]bool{"customer_1": true}},
			created: []string{"orders_copy/created_-1"},
		},
		{
			name:    "list_failure",
			source:  &fakeSource{err: errors.New("not authorized")},
			target:  &fakeTarget{},
			created: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &recordingNotifier{}
			cloner := NewMongoCloner(ClonerOptions{
				Mapping:     testMapping,
				Source:      tt.source,
				Destination: tt.target,
				Notifier:    notifier,
				Concurrency: 1,
			})

			cloner.CloneIndexes(context.Background())
			waitDone(t, cloner)

			assert.Equal(t, tt.created, tt.target.names())
			assert.Equal(t, []state.EventType{state.EventIndexRebuildStart, state.EventIndexRebuildFinish}, notifier.types())
		})
	}
}

func TestCloneIndexesStop(t *testing.T) {
	target := &fakeTarget{block: make(chan struct{})}
	notifier := &recordingNotifier{}
	cloner := NewMongoCloner(ClonerOptions{
		Mapping:     testMapping,
		Source:      &fakeSource{indexes: sourceIndexes()},
		Destination: target,
		Notifier:    notifier,
	})

	cloner.CloneIndexes(context.Background())
	cloner.Stop()
	cloner.Stop()
	waitDone(t, cloner)

	assert.Empty(t, target.names())
	assert.Equal(t, []state.EventType{state.EventIndexRebuildStart}, notifier.types())
}

func TestCloneIndexesAfterStop(t *testing.T) {
	target := &fakeTarget{}
	notifier := &recordingNotifier{}
	cloner := NewMongoCloner(ClonerOptions{
		Mapping:     testMapping,
		Source:      &fakeSource{indexes: sourceIndexes()},
		Destination: target,
		Notifier:    notifier,
	})

	cloner.Stop()
	cloner.CloneIndexes(context.Background())

	assert.Nil(t, cloner.Done())
	assert.Empty(t, target.names())
	assert.Empty(t, notifier.types())
}

func TestIsDefaultIDIndex(t *testing.T) {
	tests := []struct {
		name     string
		index    bson.D
		expected bool
	}{
		{name: "int32", index: bson.D{{Key: "key", Value: bson.D{{Key: "_id", Value: int32(1)}}}}, expected: true},
		{name: "double", index: bson.D{{Key: "key", Value: bson.D{{Key: "_id", Value: 1.0}}}}, expected: true},
		{name: "hashed_id", index: bson.D{{Key: "key", Value: bson.D{{Key: "_id", Value: "hashed"}}}}, expected: false},
		{name: "compound", index: bson.D{{Key: "key", Value: bson.D{{Key: "_id", Value: int32(1)}, {Key: "a", Value: int32(1)}}}}, expected: false},
		{name: "no_key", index: bson.D{{Key: "name", Value: "x"}}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isDefaultIDIndex(tt.index))
		})
	}
}

func TestNoOpCloner(t *testing.T) {
	var cloner Cloner = NoOpCloner{}
	assert.NotPanics(t, func() {
		cloner.CloneIndexes(context.Background())
		cloner.Stop()
	})
	require.NotNil(t, cloner)
}
