package streams

import (
	"context"
)

// Synchronizer captures source changes for one mapping
type Synchronizer interface {
	// Start subscribes to the source; capture is live once it returns nil
	Start(ctx context.Context) error

	// Stop releases the subscription
	Stop()
}

// NoOpSynchronizer is used for migrations that skip synchronization
type NoOpSynchronizer struct{}

func (NoOpSynchronizer) Start(context.Context) error { return nil }
func (NoOpSynchronizer) Stop()                       {}

var (
	_ Synchronizer = (*MongoDBStream)(nil)
	_ Synchronizer = NoOpSynchronizer{}
)
