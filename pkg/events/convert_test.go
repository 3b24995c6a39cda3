package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

func rawEvent(t *testing.T, doc bson.D) bson.Raw {
	t.Helper()
	data, err := bson.Marshal(doc)
	require.NoError(t, err)
	return data
}

func TestFromRawChangeEvent(t *testing.T) {
	fullDoc := bson.D{{Key: "_id", Value: int32(1)}, {Key: "name", Value: "alice"}}

	tests := []struct {
		name         string
		raw          bson.D
		expectedType OperationType
	}{
		{
			name: "insert",
			raw: bson.D{
				{Key: "operationType", Value: "insert"},
				{Key: "documentKey", Value: bson.D{{Key: "_id", Value: int32(1)}}},
				{Key: "fullDocument", Value: fullDoc},
			},
			expectedType: OperationInsert,
		},
		{
			name: "replace",
			raw: bson.D{
				{Key: "operationType", Value: "replace"},
				{Key: "documentKey", Value: bson.D{{Key: "_id", Value: int32(1)}}},
				{Key: "fullDocument", Value: fullDoc},
			},
			expectedType: OperationReplace,
		},
		{
			name: "update",
			raw: bson.D{
				{Key: "operationType", Value: "update"},
				{Key: "documentKey", Value: bson.D{{Key: "_id", Value: int32(1)}}},
				{Key: "updateDescription", Value: bson.D{
					{Key: "updatedFields", Value: bson.D{{Key: "name", Value: "bob"}}},
					{Key: "removedFields", Value: bson.A{"age"}},
					{Key: "truncatedArrays", Value: bson.A{}},
				}},
			},
			expectedType: OperationUpdate,
		},
		{
			name: "delete",
			raw: bson.D{
				{Key: "operationType", Value: "delete"},
				{Key: "documentKey", Value: bson.D{{Key: "_id", Value: int32(1)}}},
			},
			expectedType: OperationDelete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := FromRawChangeEvent(rawEvent(t, tt.raw), "")
			require.NoError(t, err)
			assert.Equal(t, tt.expectedType, event.Operation())
			assert.Equal(t, bson.D{{Key: "_id", Value: int32(1)}}, event.Key())
		})
	}
}

func TestFromRawChangeEventUnsupportedOperation(t *testing.T) {
	raw := rawEvent(t, bson.D{
		{Key: "operationType", Value: "drop"},
		{Key: "documentKey", Value: bson.D{{Key: "_id", Value: int32(1)}}},
	})

	event, err := FromRawChangeEvent(raw, "")

	assert.Nil(t, event)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedOperationKind))

	var kindErr *UnsupportedOperationKindError
	require.True(t, errors.As(err, &kindErr))
	assert.Equal(t, "drop", kindErr.OperationType)
}

func TestFromRawChangeEventMissingDocumentKey(t *testing.T) {
	raw := rawEvent(t, bson.D{{Key: "operationType", Value: "delete"}})

	_, err := FromRawChangeEvent(raw, "")

	assert.ErrorIs(t, err, ErrMissingDocumentKey)
}

func TestFromRawChangeEventKeepsShardKeyHint(t *testing.T) {
	raw := rawEvent(t, bson.D{
		{Key: "operationType", Value: "insert"},
		{Key: "documentKey", Value: bson.D{{Key: "_id", Value: int32(1)}}},
		{Key: "fullDocument", Value: bson.D{{Key: "_id", Value: int32(1)}}},
	})

	event, err := FromRawChangeEvent(raw, "tenant")
	require.NoError(t, err)

	insert, ok := event.(*InsertEvent)
	require.True(t, ok)
	assert.Equal(t, "tenant", insert.ShardKey)
}

func TestToWriteModelInsertUpserts(t *testing.T) {
	doc := rawEvent(t, bson.D{{Key: "_id", Value: int32(7)}, {Key: "name", Value: "alice"}})
	event := &InsertEvent{DocumentKey: bson.D{{Key: "_id", Value: int32(7)}}, Document: doc}

	model := ToWriteModel(event)

	replace, ok := model.(*mongo.ReplaceOneModel)
	require.True(t, ok)
	assert.Equal(t, bson.D{{Key: "_id", Value: int32(7)}}, replace.Filter)
	require.NotNil(t, replace.Upsert)
	assert.True(t, *replace.Upsert)

	replacement, ok := replace.Replacement.(bson.Raw)
	require.True(t, ok)
	assert.Equal(t, "alice", replacement.Lookup("name").StringValue())
}

func TestToWriteModelShardKeyPlaceholder(t *testing.T) {
	doc := rawEvent(t, bson.D{{Key: "_id", Value: int32(7)}, {Key: "tenant", Value: "acme"}})

	tests := []struct {
		name           string
		key            bson.D
		shardKey       string
		expectedFilter bson.D
	}{
		{
			name:           "not_sharded",
			key:            bson.D{{Key: "_id", Value: int32(7)}},
			expectedFilter: bson.D{{Key: "_id", Value: int32(7)}},
		},
		{
			name:     "shard_key_absent_from_document_key",
			key:      bson.D{{Key: "_id", Value: int32(7)}},
			shardKey: "tenant",
			expectedFilter: bson.D{
				{Key: "_id", Value: int32(7)},
				{Key: "tenant", Value: nil},
			},
		},
		{
			name:     "shard_key_already_in_document_key",
			key:      bson.D{{Key: "tenant", Value: "acme"}, {Key: "_id", Value: int32(7)}},
			shardKey: "tenant",
			expectedFilter: bson.D{
				{Key: "tenant", Value: "acme"},
				{Key: "_id", Value: int32(7)},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keyLen := len(tt.key)
			model := ToWriteModel(&ReplaceEvent{DocumentKey: tt.key, Document: doc, ShardKey: tt.shardKey})

			replace, ok := model.(*mongo.ReplaceOneModel)
			require.True(t, ok)
			assert.Equal(t, tt.expectedFilter, replace.Filter)
			assert.Len(t, tt.key, keyLen)
		})
	}
}

func TestToWriteModelUpdate(t *testing.T) {
	event := &UpdateEvent{
		DocumentKey:   bson.D{{Key: "_id", Value: "abc"}, {Key: "tenant", Value: "acme"}},
		UpdatedFields: bson.D{{Key: "name", Value: "bob"}},
		RemovedFields: []string{"age"},
	}

	model := ToWriteModel(event)

	update, ok := model.(*mongo.UpdateOneModel)
	require.True(t, ok)
	assert.Equal(t, bson.D{{Key: "_id", Value: "abc"}}, update.Filter)
	assert.Equal(t, bson.D{
		{Key: "$set", Value: bson.D{{Key: "name", Value: "bob"}}},
		{Key: "$unset", Value: bson.D{{Key: "age", Value: ""}}},
	}, update.Update)
}

func TestToWriteModelDelete(t *testing.T) {
	model := ToWriteModel(&DeleteEvent{DocumentKey: bson.D{{Key: "_id", Value: int64(3)}}})

	del, ok := model.(*mongo.DeleteOneModel)
	require.True(t, ok)
	assert.Equal(t, bson.D{{Key: "_id", Value: int64(3)}}, del.Filter)
}

func TestToWriteModelIsIdempotent(t *testing.T) {
	doc := rawEvent(t, bson.D{{Key: "_id", Value: int32(1)}})
	events := []ChangeEvent{
		&InsertEvent{DocumentKey: bson.D{{Key: "_id", Value: int32(1)}}, Document: doc},
		&ReplaceEvent{DocumentKey: bson.D{{Key: "_id", Value: int32(1)}}, Document: doc, ShardKey: "tenant"},
		&UpdateEvent{DocumentKey: bson.D{{Key: "_id", Value: int32(1)}}, UpdatedFields: bson.D{{Key: "a", Value: 1}}},
		&DeleteEvent{DocumentKey: bson.D{{Key: "_id", Value: int32(1)}}},
	}

	for _, event := range events {
		t.Run(string(event.Operation()), func(t *testing.T) {
			assert.Equal(t, ToWriteModel(event), ToWriteModel(event))
		})
	}
}

func TestToWriteModelDropsMalformedEvents(t *testing.T) {
	tests := []struct {
		name  string
		event ChangeEvent
	}{
		{name: "insert_without_document", event: &InsertEvent{DocumentKey: bson.D{{Key: "_id", Value: 1}}}},
		{name: "delete_without_id", event: &DeleteEvent{DocumentKey: bson.D{{Key: "tenant", Value: "acme"}}}},
		{name: "empty_update", event: &UpdateEvent{DocumentKey: bson.D{{Key: "_id", Value: 1}}}},
		{name: "nil_event", event: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, ToWriteModel(tt.event))
		})
	}
}
