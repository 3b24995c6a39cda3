package events

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// rawChangeEvent is the subset of a change stream document needed for replay
type rawChangeEvent struct {
	OperationType     string             `bson:"operationType"`
	DocumentKey       bson.D             `bson:"documentKey"`
	FullDocument      bson.RawValue      `bson:"fullDocument"`
	UpdateDescription *updateDescription `bson:"updateDescription"`
}

type updateDescription struct {
	UpdatedFields   bson.D   `bson:"updatedFields"`
	RemovedFields   []string `bson:"removedFields"`
	TruncatedArrays bson.A   `bson:"truncatedArrays"`
}

// FromRawChangeEvent classifies a raw change stream document and builds the
// matching ChangeEvent. shardKey is the destination shard key field, empty
// when the destination collection is not sharded.
func FromRawChangeEvent(raw bson.Raw, shardKey string) (ChangeEvent, error) {
	var event rawChangeEvent
	if err := bson.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("failed to decode change event: %w", err)
	}

	switch OperationType(event.OperationType) {
	case OperationInsert, OperationReplace, OperationUpdate, OperationDelete:
	default:
		return nil, &UnsupportedOperationKindError{OperationType: event.OperationType}
	}

	if len(event.DocumentKey) == 0 {
		return nil, ErrMissingDocumentKey
	}

	switch OperationType(event.OperationType) {
	case OperationInsert:
		return &InsertEvent{DocumentKey: event.DocumentKey, Document: fullDocument(event), ShardKey: shardKey}, nil
	case OperationReplace:
		return &ReplaceEvent{DocumentKey: event.DocumentKey, Document: fullDocument(event), ShardKey: shardKey}, nil
	case OperationUpdate:
		update := &UpdateEvent{DocumentKey: event.DocumentKey}
		if desc := event.UpdateDescription; desc != nil {
			if len(desc.TruncatedArrays) > 0 {
				log.Error().
					Interface("document_key", event.DocumentKey).
					Interface("truncated_arrays", desc.TruncatedArrays).
					Msg("Cannot handle truncatedArrays from change event")
			}
			update.UpdatedFields = desc.UpdatedFields
			update.RemovedFields = desc.RemovedFields
		}
		return update, nil
	default:
		return &DeleteEvent{DocumentKey: event.DocumentKey}, nil
	}
}

func fullDocument(event rawChangeEvent) bson.Raw {
	if doc, ok := event.FullDocument.DocumentOK(); ok {
		return doc
	}
	return nil
}

// ToWriteModel converts a ChangeEvent to the idempotent destination write.
// Events that cannot be converted are logged and dropped: nil is returned.
func ToWriteModel(event ChangeEvent) mongo.WriteModel {
	model, err := writeModel(event)
	if err != nil {
		log.Error().Err(err).
			Str("operation", string(operationOf(event))).
			Interface("document_key", keyOf(event)).
			Msg("Error when trying to convert change event to write model, dropping event")
		return nil
	}
	return model
}

func writeModel(event ChangeEvent) (mongo.WriteModel, error) {
	switch e := event.(type) {
	case *InsertEvent:
		return replaceModel(e.DocumentKey, e.Document, e.ShardKey)
	case *ReplaceEvent:
		return replaceModel(e.DocumentKey, e.Document, e.ShardKey)
	case *UpdateEvent:
		filter, err := idFilter(e.DocumentKey)
		if err != nil {
			return nil, err
		}
		update := bson.D{}
		if len(e.UpdatedFields) > 0 {
			update = append(update, bson.E{Key: "$set", Value: e.UpdatedFields})
		}
		if len(e.RemovedFields) > 0 {
			unset := make(bson.D, 0, len(e.RemovedFields))
			for _, field := range e.RemovedFields {
				unset = append(unset, bson.E{Key: field, Value: ""})
			}
			update = append(update, bson.E{Key: "$unset", Value: unset})
		}
		if len(update) == 0 {
			return nil, errors.New("update event has neither updated nor removed fields")
		}
		return mongo.NewUpdateOneModel().SetFilter(filter).SetUpdate(update), nil
	case *DeleteEvent:
		filter, err := idFilter(e.DocumentKey)
		if err != nil {
			return nil, err
		}
		return mongo.NewDeleteOneModel().SetFilter(filter), nil
	case nil:
		return nil, errors.New("nil change event")
	default:
		return nil, fmt.Errorf("unknown change event type %T", event)
	}
}

// replaceModel upserts the full document. The filter is the document key;
// a known shard key missing from it is appended with a null placeholder.
func replaceModel(key bson.D, document bson.Raw, shardKey string) (mongo.WriteModel, error) {
	if _, err := idFilter(key); err != nil {
		return nil, err
	}
	if len(document) == 0 {
		return nil, errors.New("full document is missing")
	}

	filter := make(bson.D, len(key), len(key)+1)
	copy(filter, key)
	if shardKey != "" {
		if _, ok := lookup(key, shardKey); !ok {
			filter = append(filter, bson.E{Key: shardKey, Value: nil})
		}
	}

	return mongo.NewReplaceOneModel().
		SetFilter(filter).
		SetReplacement(document).
		SetUpsert(true), nil
}

func idFilter(key bson.D) (bson.D, error) {
	id, ok := lookup(key, "_id")
	if !ok {
		return nil, errors.New("document key has no _id")
	}
	return bson.D{{Key: "_id", Value: id}}, nil
}

func operationOf(event ChangeEvent) OperationType {
	if event == nil {
		return ""
	}
	return event.Operation()
}

func keyOf(event ChangeEvent) bson.D {
	if event == nil {
		return nil
	}
	return event.Key()
}
