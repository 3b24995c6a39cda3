package sharding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/cohenjo/migration-stream/pkg/models"
)

func rawEntry(t *testing.T, doc bson.D) bson.Raw {
	t.Helper()
	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	return raw
}

func TestFromRaw(t *testing.T) {
	docs := []bson.Raw{
		rawEntry(t, bson.D{{Key: "_id", Value: "shop.orders"}, {Key: "key", Value: bson.D{{Key: "customerId", Value: 1}, {Key: "_id", Value: 1}}}}),
		rawEntry(t, bson.D{{Key: "_id", Value: "shop.events.2024"}, {Key: "key", Value: bson.D{{Key: "day", Value: "hashed"}}}}),
		rawEntry(t, bson.D{{Key: "_id", Value: "shop.old"}, {Key: "key", Value: bson.D{{Key: "x", Value: 1}}}, {Key: "dropped", Value: true}}),
		rawEntry(t, bson.D{{Key: "_id", Value: "noNamespace"}, {Key: "key", Value: bson.D{{Key: "x", Value: 1}}}}),
		rawEntry(t, bson.D{{Key: "_id", Value: "shop.nokey"}}),
	}

	info, err := FromRaw(docs, nil)
	require.NoError(t, err)

	assert.Len(t, info, 2)
	assert.Equal(t, "customerId", info.ShardKey(models.DbCollection{DBName: "shop", CollectionName: "orders"}))
	assert.Equal(t, "day", info.ShardKey(models.DbCollection{DBName: "shop", CollectionName: "events.2024"}))
	assert.Empty(t, info.ShardKey(models.DbCollection{DBName: "shop", CollectionName: "old"}))
}

func TestFromRawEmpty(t *testing.T) {
	info, err := FromRaw(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, info)
}
