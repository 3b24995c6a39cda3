package performer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/cohenjo/migration-stream/pkg/config"
	"github.com/cohenjo/migration-stream/pkg/detector"
	"github.com/cohenjo/migration-stream/pkg/estuary"
	"github.com/cohenjo/migration-stream/pkg/models"
	"github.com/cohenjo/migration-stream/pkg/queue"
	"github.com/cohenjo/migration-stream/pkg/state"
	"github.com/cohenjo/migration-stream/pkg/streams"
)

const testMongoURIEnv = "MIGRATION_STREAM_TEST_MONGO_URI"

// connectTestMongo needs a replica set, change streams are unavailable on a standalone server
func connectTestMongo(t *testing.T) *mongo.Client {
	t.Helper()
	uri := os.Getenv(testMongoURIEnv)
	if uri == "" {
		t.Skip("MongoDB not available, set " + testMongoURIEnv)
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		t.Skip("MongoDB not available:", err)
	}
	return client
}

func requireMongoTools(t *testing.T) {
	t.Helper()
	for _, tool := range []string{"mongodump", "mongorestore"} {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skip(tool + " not available")
		}
	}
}

// testDatabases creates a mapping between two fresh databases dropped at cleanup
func testDatabases(t *testing.T, client *mongo.Client) (models.SourceToDestination, *mongo.Database, *mongo.Database) {
	t.Helper()
	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	mapping := models.SourceToDestination{
		Source:      models.DbCollection{DBName: "migration_stream_src_" + suffix, CollectionName: "orders"},
		Destination: models.DbCollection{DBName: "migration_stream_dst_" + suffix, CollectionName: "orders"},
	}
	sourceDB := client.Database(mapping.Source.DBName)
	destinationDB := client.Database(mapping.Destination.DBName)
	t.Cleanup(func() {
		_ = sourceDB.Drop(context.Background())
		_ = destinationDB.Drop(context.Background())
	})
	return mapping, sourceDB, destinationDB
}

func newSynchronizingPerformer(mapping models.SourceToDestination, sourceDB, destinationDB *mongo.Database, q queue.EventQueue, stateInfo *state.StateInfo) (*Performer, *estuary.LocalToDestinationSynchronizer) {
	replay := estuary.NewLocalToDestinationSynchronizer(estuary.LocalToDestinationOptions{
		Mapping:     mapping,
		Queue:       q,
		Publisher:   estuary.NewEventPublisher(destinationDB.Collection(mapping.Destination.CollectionName)),
		Notifier:    stateInfo,
		IdleBackoff: 50 * time.Millisecond,
	})
	p := New(Options{
		Mapping: mapping,
		Capture: streams.NewMongoDBStream(streams.MongoDBStreamOptions{
			Mapping:  mapping,
			Watcher:  streams.NewCollectionWatcher(sourceDB),
			Queue:    q,
			Notifier: stateInfo,
		}),
		Replay:   replay,
		Notifier: stateInfo,
	})
	return p, replay
}

func TestSynchronizationAgainstMongo(t *testing.T) {
	client := connectTestMongo(t)
	ctx := context.Background()

	mapping, sourceDB, destinationDB := testDatabases(t, client)
	source := sourceDB.Collection(mapping.Source.CollectionName)
	destination := destinationDB.Collection(mapping.Destination.CollectionName)

	stateInfo := state.NewStateInfo(nil)
	q := queue.NewMemoryQueue()
	p, _ := newSynchronizingPerformer(mapping, sourceDB, destinationDB, q, stateInfo)

	require.True(t, p.Perform(ctx).IsSuccessful())
	defer p.Stop()

	_, err := source.InsertMany(ctx, []interface{}{
		bson.D{{Key: "_id", Value: 1}, {Key: "status", Value: "new"}},
		bson.D{{Key: "_id", Value: 2}, {Key: "status", Value: "new"}},
	})
	require.NoError(t, err)
	_, err = source.UpdateOne(ctx, bson.D{{Key: "_id", Value: 1}}, bson.D{{Key: "$set", Value: bson.D{{Key: "status", Value: "paid"}}}})
	require.NoError(t, err)
	_, err = source.DeleteOne(ctx, bson.D{{Key: "_id", Value: 2}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		count, err := destination.CountDocuments(ctx, bson.D{})
		if err != nil || count != 1 {
			return false
		}
		var doc bson.M
		if err := destination.FindOne(ctx, bson.D{{Key: "_id", Value: 1}}).Decode(&doc); err != nil {
			return false
		}
		return doc["status"] == "paid"
	}, 20*time.Second, 100*time.Millisecond)

	collectionState, ok := stateInfo.MigrationState().Collection(mapping)
	require.True(t, ok)
	_, replaying := collectionState.Step(state.StepLocalToDestination)
	assert.True(t, replaying)
	assert.Equal(t, 0, q.Size())
}

func TestPauseKeepsQueueingAgainstMongo(t *testing.T) {
	client := connectTestMongo(t)
	ctx := context.Background()

	mapping, sourceDB, destinationDB := testDatabases(t, client)
	source := sourceDB.Collection(mapping.Source.CollectionName)
	destination := destinationDB.Collection(mapping.Destination.CollectionName)

	stateInfo := state.NewStateInfo(nil)
	q := queue.NewMemoryQueue()
	p, replay := newSynchronizingPerformer(mapping, sourceDB, destinationDB, q, stateInfo)

	require.True(t, p.Perform(ctx).IsSuccessful())
	defer p.Stop()

	p.Pause()
	require.True(t, replay.IsPaused())
	// let an in-flight poll of the empty queue settle
	time.Sleep(200 * time.Millisecond)

	const documents = 5
	for i := 0; i < documents; i++ {
		_, err := source.InsertOne(ctx, bson.D{{Key: "_id", Value: i}, {Key: "status", Value: "new"}})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return q.Size() == documents }, 20*time.Second, 100*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	count, err := destination.CountDocuments(ctx, bson.D{})
	require.NoError(t, err)
	assert.Zero(t, count, "paused replay wrote to the destination")
	assert.Equal(t, documents, q.Size())

	p.Resume()
	require.Eventually(t, func() bool {
		count, err := destination.CountDocuments(ctx, bson.D{})
		return err == nil && count == documents
	}, 20*time.Second, 100*time.Millisecond)
	assert.Equal(t, 0, q.Size())

	collectionState, ok := stateInfo.MigrationState().Collection(mapping)
	require.True(t, ok)
	_, paused := collectionState.Step(state.StepPaused)
	assert.True(t, paused)
	_, resumed := collectionState.Step(state.StepResumed)
	assert.True(t, resumed)
}

func TestFullMigrationAgainstMongo(t *testing.T) {
	client := connectTestMongo(t)
	requireMongoTools(t)
	ctx := context.Background()

	mapping, sourceDB, destinationDB := testDatabases(t, client)
	source := sourceDB.Collection(mapping.Source.CollectionName)

	const documents = 500
	existing := make([]interface{}, 0, documents)
	for i := 0; i < documents; i++ {
		existing = append(existing, bson.D{
			{Key: "_id", Value: i},
			{Key: "customer", Value: fmt.Sprintf("customer-%d", i%37)},
			{Key: "status", Value: "new"},
			{Key: "created", Value: time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC)},
		})
	}
	_, err := source.InsertMany(ctx, existing)
	require.NoError(t, err)
	_, err = source.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "customer", Value: 1}}, Options: options.Index().SetName("customer_1")},
		{Keys: bson.D{{Key: "created", Value: -1}, {Key: "status", Value: 1}}, Options: options.Index().SetName("created_-1_status_1")},
	})
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Source.URI = os.Getenv(testMongoURIEnv)
	cfg.Source.Database = mapping.Source.DBName
	cfg.Destination.URI = os.Getenv(testMongoURIEnv)
	cfg.Destination.Database = mapping.Destination.DBName
	cfg.Performer.RootPath = t.TempDir()
	cfg.Performer.IdleBackoff = 50 * time.Millisecond

	stateInfo := state.NewStateInfo(nil)
	q := queue.NewMemoryQueue()
	performers, err := CreatePerformers(FactoryOptions{
		Config:        cfg,
		Mappings:      []models.SourceToDestination{mapping},
		SourceDB:      sourceDB,
		DestinationDB: destinationDB,
		Queues:        map[models.SourceToDestination]queue.EventQueue{mapping: q},
		Notifier:      stateInfo,
	})
	require.NoError(t, err)
	require.Len(t, performers, 1)
	p := performers[0]
	stop := sync.OnceFunc(p.Stop)
	t.Cleanup(stop)

	result := p.Perform(ctx)
	require.True(t, result.IsSuccessful(), "transfer: %v", result.Transfer)

	// changes after the copy reach the destination through replay
	_, err = source.UpdateMany(ctx, bson.D{{Key: "customer", Value: "customer-3"}}, bson.D{{Key: "$set", Value: bson.D{{Key: "status", Value: "paid"}}}})
	require.NoError(t, err)
	_, err = source.InsertOne(ctx, bson.D{{Key: "_id", Value: documents}, {Key: "customer", Value: "customer-late"}, {Key: "status", Value: "new"}})
	require.NoError(t, err)
	_, err = source.DeleteOne(ctx, bson.D{{Key: "_id", Value: 0}})
	require.NoError(t, err)

	sourceHashes := detector.NewMongoDatabase(sourceDB)
	destinationHashes := detector.NewMongoDatabase(destinationDB)
	require.Eventually(t, func() bool {
		sourceHash, err := sourceHashes.DbHash(ctx)
		if err != nil {
			return false
		}
		destinationHash, err := destinationHashes.DbHash(ctx)
		if err != nil {
			return false
		}
		expected := sourceHash[mapping.Source.CollectionName]
		return expected != "" && expected == destinationHash[mapping.Destination.CollectionName]
	}, 60*time.Second, 200*time.Millisecond)

	require.Eventually(t, func() bool {
		specs, err := destinationDB.Collection(mapping.Destination.CollectionName).Indexes().ListSpecifications(ctx)
		if err != nil {
			return false
		}
		names := map[string]bool{}
		for _, spec := range specs {
			names[spec.Name] = true
		}
		return names["customer_1"] && names["created_-1_status_1"]
	}, 30*time.Second, 200*time.Millisecond)

	require.Eventually(t, func() bool {
		collectionState, ok := stateInfo.MigrationState().Collection(mapping)
		if !ok {
			return false
		}
		indexRebuild, ok := collectionState.Step(state.StepIndexRebuild)
		return ok && indexRebuild.EndDate != nil
	}, 30*time.Second, 100*time.Millisecond)

	collectionState, ok := stateInfo.MigrationState().Collection(mapping)
	require.True(t, ok)
	for _, step := range []state.StepType{state.StepDump, state.StepRestore} {
		finished, ok := collectionState.Step(step)
		require.True(t, ok, step)
		assert.NotNil(t, finished.EndDate, step)
	}
	_, replaying := collectionState.Step(state.StepLocalToDestination)
	assert.True(t, replaying)
	_, failed := collectionState.Step(state.StepFailed)
	assert.False(t, failed)

	stop()
	collectionState, ok = stateInfo.MigrationState().Collection(mapping)
	require.True(t, ok)
	current, ok := collectionState.Current()
	require.True(t, ok)
	assert.Equal(t, state.StepFinished, current.Type)
}
