package estuary

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

// ResumableSynchronizer replays queued events to the destination and can be
// paused without losing its place
type ResumableSynchronizer interface {
	Start(ctx context.Context) error
	Pause()
	Resume()
	Stop()
}

// NoOpResumableSynchronizer is used when synchronization is disabled
type NoOpResumableSynchronizer struct{}

func (NoOpResumableSynchronizer) Start(context.Context) error { return nil }
func (NoOpResumableSynchronizer) Pause()                      {}
func (NoOpResumableSynchronizer) Resume()                     {}
func (NoOpResumableSynchronizer) Stop()                       {}

var (
	_ ResumableSynchronizer = (*LocalToDestinationSynchronizer)(nil)
	_ ResumableSynchronizer = NoOpResumableSynchronizer{}
	_ Publisher             = (*EventPublisher)(nil)
	_ BulkWriter            = (*mongo.Collection)(nil)
)
