package queue

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/cohenjo/migration-stream/pkg/events"
	"github.com/cohenjo/migration-stream/pkg/models"
)

func deleteEvent(id int32) events.ChangeEvent {
	return &events.DeleteEvent{DocumentKey: bson.D{{Key: "_id", Value: id}}}
}

func idOf(t *testing.T, event events.ChangeEvent) int32 {
	t.Helper()
	id, ok := event.Key()[0].Value.(int32)
	require.True(t, ok)
	return id
}

func openQueues(t *testing.T) map[string]EventQueue {
	t.Helper()
	disk, err := OpenDiskQueue(filepath.Join(t.TempDir(), "shop.orders.db"), DiskQueueOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { disk.Close() })

	return map[string]EventQueue{
		"memory": NewMemoryQueue(),
		"disk":   disk,
	}
}

func TestQueuePreservesFIFOOrder(t *testing.T) {
	for name, q := range openQueues(t) {
		t.Run(name, func(t *testing.T) {
			for i := int32(0); i < 50; i++ {
				require.True(t, q.Offer(deleteEvent(i)))
			}
			assert.Equal(t, 50, q.Size())

			peeked, ok := q.Peek()
			require.True(t, ok)
			assert.Equal(t, int32(0), idOf(t, peeked))

			for i := int32(0); i < 50; i++ {
				event, ok := q.Poll()
				require.True(t, ok)
				assert.Equal(t, i, idOf(t, event))
			}
			assert.True(t, q.IsEmpty())
		})
	}
}

func TestQueuePollOnEmpty(t *testing.T) {
	for name, q := range openQueues(t) {
		t.Run(name, func(t *testing.T) {
			event, ok := q.Poll()
			assert.False(t, ok)
			assert.Nil(t, event)

			_, ok = q.Peek()
			assert.False(t, ok)
		})
	}
}

func TestQueueRemoveAll(t *testing.T) {
	for name, q := range openQueues(t) {
		t.Run(name, func(t *testing.T) {
			for i := int32(0); i < 10; i++ {
				q.Offer(deleteEvent(i))
			}

			require.NoError(t, q.RemoveAll())
			assert.Equal(t, 0, q.Size())

			require.True(t, q.Offer(deleteEvent(99)))
			event, ok := q.Poll()
			require.True(t, ok)
			assert.Equal(t, int32(99), idOf(t, event))
		})
	}
}

func TestQueueConcurrentProducerConsumer(t *testing.T) {
	for name, q := range openQueues(t) {
		t.Run(name, func(t *testing.T) {
			const total = 200
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := int32(0); i < total; i++ {
					q.Offer(deleteEvent(i))
				}
			}()

			received := make([]int32, 0, total)
			for len(received) < total {
				if event, ok := q.Poll(); ok {
					received = append(received, idOf(t, event))
				}
			}
			wg.Wait()

			for i, id := range received {
				assert.Equal(t, int32(i), id)
			}
		})
	}
}

func TestDiskQueueSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shop.orders.db")

	q, err := OpenDiskQueue(path, DiskQueueOptions{SyncEveryWrite: true})
	require.NoError(t, err)
	for i := int32(0); i < 5; i++ {
		require.True(t, q.Offer(deleteEvent(i)))
	}
	_, ok := q.Poll()
	require.True(t, ok)
	require.NoError(t, q.Close())

	reopened, err := OpenDiskQueue(path, DiskQueueOptions{})
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 4, reopened.Size())
	event, ok := reopened.Poll()
	require.True(t, ok)
	assert.Equal(t, int32(1), idOf(t, event))

	require.True(t, reopened.Offer(deleteEvent(5)))
	assert.Equal(t, 4, reopened.Size())
}

func TestDiskQueueClosed(t *testing.T) {
	q, err := OpenDiskQueue(filepath.Join(t.TempDir(), "q.db"), DiskQueueOptions{})
	require.NoError(t, err)

	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	assert.False(t, q.Offer(deleteEvent(1)))
	_, ok := q.Poll()
	assert.False(t, ok)
}

func TestNewFactory(t *testing.T) {
	root := t.TempDir()
	mapping := models.SourceToDestination{
		Source:      models.DbCollection{DBName: "shop", CollectionName: "orders"},
		Destination: models.DbCollection{DBName: "shop2", CollectionName: "orders"},
	}

	tests := []struct {
		name        string
		opts        FactoryOptions
		expectError bool
		expectFile  bool
	}{
		{name: "in_memory", opts: FactoryOptions{Type: FactoryInMemory}},
		{name: "default_is_in_memory", opts: FactoryOptions{}},
		{name: "disk", opts: FactoryOptions{Type: FactoryDisk, RootPath: root}, expectFile: true},
		{name: "disk_without_root", opts: FactoryOptions{Type: FactoryDisk}, expectError: true},
		{name: "unknown", opts: FactoryOptions{Type: "Redis"}, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factory, err := NewFactory(tt.opts)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			queues, err := CreateQueues(factory, []models.SourceToDestination{mapping})
			require.NoError(t, err)
			require.Len(t, queues, 1)
			defer queues[mapping].Close()

			if tt.expectFile {
				_, err := os.Stat(filepath.Join(root, "queues", "shop.orders.db"))
				assert.NoError(t, err)
			}
		})
	}
}

func TestRemoveFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(Dir(root), 0o755))
	for _, name := range []string{"shop.orders.db", "shop.users.db", "shopping.carts.db"} {
		require.NoError(t, os.WriteFile(filepath.Join(Dir(root), name), []byte("x"), 0o644))
	}

	require.NoError(t, RemoveFiles(root, "shop"))

	entries, err := os.ReadDir(Dir(root))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "shopping.carts.db", entries[0].Name())

	assert.NoError(t, RemoveFiles(filepath.Join(root, "missing"), "shop"))
}
