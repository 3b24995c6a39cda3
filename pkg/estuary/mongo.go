package estuary

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/cohenjo/migration-stream/pkg/events"
)

// Publisher applies batches of change events to a destination
type Publisher interface {
	PublishBulkEvents(ctx context.Context, batch []events.ChangeEvent) (*BulkResult, error)
}

// BulkResult summarizes one applied batch
type BulkResult struct {
	Inserted int64
	Matched  int64
	Modified int64
	Deleted  int64
	Upserted int64
	// Skipped counts events that produced no write model
	Skipped int
}

// BulkWriter is the part of *mongo.Collection the publisher needs
type BulkWriter interface {
	BulkWrite(ctx context.Context, models []mongo.WriteModel, opts ...options.Lister[options.BulkWriteOptions]) (*mongo.BulkWriteResult, error)
}

// EventPublisher writes change events to the destination collection as one
// ordered bulk write per batch
type EventPublisher struct {
	collection BulkWriter
}

// NewEventPublisher creates a publisher for the destination collection
func NewEventPublisher(collection BulkWriter) *EventPublisher {
	return &EventPublisher{collection: collection}
}

// PublishBulkEvents converts the batch and applies it in order. Events that
// cannot be converted are skipped; a batch with nothing left is a no-op.
func (p *EventPublisher) PublishBulkEvents(ctx context.Context, batch []events.ChangeEvent) (*BulkResult, error) {
	writes := make([]mongo.WriteModel, 0, len(batch))
	for _, event := range batch {
		if model := events.ToWriteModel(event); model != nil {
			writes = append(writes, model)
		}
	}

	result := &BulkResult{Skipped: len(batch) - len(writes)}
	if len(writes) == 0 {
		return result, nil
	}

	res, err := p.collection.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(true))
	if err != nil {
		return result, fmt.Errorf("bulk write of %d models failed: %w", len(writes), err)
	}
	if res != nil {
		result.Inserted = res.InsertedCount
		result.Matched = res.MatchedCount
		result.Modified = res.ModifiedCount
		result.Deleted = res.DeletedCount
		result.Upserted = res.UpsertedCount
	}
	return result, nil
}
