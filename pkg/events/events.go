package events

import (
	"go.mongodb.org/mongo-driver/v2/bson"
)

// OperationType is the change stream operation of a captured mutation
type OperationType string

// The operations replayed against the destination.
const (
	OperationInsert  OperationType = "insert"
	OperationReplace OperationType = "replace"
	OperationUpdate  OperationType = "update"
	OperationDelete  OperationType = "delete"
)

// SupportedOperations lists the operation types the capture pipeline subscribes to
var SupportedOperations = []OperationType{OperationInsert, OperationUpdate, OperationReplace, OperationDelete}

/*
ChangeEvent is a normalized mutation captured from the source change stream.
It is one of InsertEvent, ReplaceEvent, UpdateEvent or DeleteEvent.
Every event carries the document key and the smallest payload needed to
replay it idempotently against the destination:
full document for insert & replace, field deltas for update, nothing for delete.
*/
type ChangeEvent interface {
	Operation() OperationType
	Key() bson.D
	changeEvent()
}

// InsertEvent is an inserted document
type InsertEvent struct {
	DocumentKey bson.D
	Document    bson.Raw
	// ShardKey is the destination shard key field, empty when not sharded
	ShardKey string
}

// ReplaceEvent is a document replaced as a whole
type ReplaceEvent struct {
	DocumentKey bson.D
	Document    bson.Raw
	ShardKey    string
}

// UpdateEvent holds the field deltas of a partial update
type UpdateEvent struct {
	DocumentKey   bson.D
	UpdatedFields bson.D
	RemovedFields []string
}

// DeleteEvent is a removed document
type DeleteEvent struct {
	DocumentKey bson.D
}

func (e *InsertEvent) Operation() OperationType  { return OperationInsert }
func (e *ReplaceEvent) Operation() OperationType { return OperationReplace }
func (e *UpdateEvent) Operation() OperationType  { return OperationUpdate }
func (e *DeleteEvent) Operation() OperationType  { return OperationDelete }

func (e *InsertEvent) Key() bson.D  { return e.DocumentKey }
func (e *ReplaceEvent) Key() bson.D { return e.DocumentKey }
func (e *UpdateEvent) Key() bson.D  { return e.DocumentKey }
func (e *DeleteEvent) Key() bson.D  { return e.DocumentKey }

func (*InsertEvent) changeEvent()  {}
func (*ReplaceEvent) changeEvent() {}
func (*UpdateEvent) changeEvent()  {}
func (*DeleteEvent) changeEvent()  {}

// lookup returns the value stored under key in an ordered document
func lookup(doc bson.D, key string) (interface{}, bool) {
	for _, elem := range doc {
		if elem.Key == key {
			return elem.Value, true
		}
	}
	return nil, false
}
