package events

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// envelope is the persisted form of a ChangeEvent
type envelope struct {
	Operation     OperationType `bson:"op"`
	DocumentKey   bson.D        `bson:"key"`
	Document      bson.Raw      `bson:"doc,omitempty"`
	UpdatedFields bson.D        `bson:"set,omitempty"`
	RemovedFields []string      `bson:"unset,omitempty"`
	ShardKey      string        `bson:"shardKey,omitempty"`
}

// Encode serializes a ChangeEvent to BSON
func Encode(event ChangeEvent) ([]byte, error) {
	var env envelope
	switch e := event.(type) {
	case *InsertEvent:
		env = envelope{Operation: OperationInsert, DocumentKey: e.DocumentKey, Document: e.Document, ShardKey: e.ShardKey}
	case *ReplaceEvent:
		env = envelope{Operation: OperationReplace, DocumentKey: e.DocumentKey, Document: e.Document, ShardKey: e.ShardKey}
	case *UpdateEvent:
		env = envelope{Operation: OperationUpdate, DocumentKey: e.DocumentKey, UpdatedFields: e.UpdatedFields, RemovedFields: e.RemovedFields}
	case *DeleteEvent:
		env = envelope{Operation: OperationDelete, DocumentKey: e.DocumentKey}
	default:
		return nil, fmt.Errorf("cannot encode change event of type %T", event)
	}

	data, err := bson.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", env.Operation, err)
	}
	return data, nil
}

// Decode restores a ChangeEvent serialized by Encode
func Decode(data []byte) (ChangeEvent, error) {
	var env envelope
	if err := bson.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode change event: %w", err)
	}

	switch env.Operation {
	case OperationInsert:
		return &InsertEvent{DocumentKey: env.DocumentKey, Document: env.Document, ShardKey: env.ShardKey}, nil
	case OperationReplace:
		return &ReplaceEvent{DocumentKey: env.DocumentKey, Document: env.Document, ShardKey: env.ShardKey}, nil
	case OperationUpdate:
		return &UpdateEvent{DocumentKey: env.DocumentKey, UpdatedFields: env.UpdatedFields, RemovedFields: env.RemovedFields}, nil
	case OperationDelete:
		return &DeleteEvent{DocumentKey: env.DocumentKey}, nil
	default:
		return nil, &UnsupportedOperationKindError{OperationType: string(env.Operation)}
	}
}
