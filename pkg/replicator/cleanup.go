package replicator

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/cohenjo/migration-stream/pkg/models"
	"github.com/cohenjo/migration-stream/pkg/queue"
	"github.com/cohenjo/migration-stream/pkg/transfer"
)

// Cleanup removes what a migration leaves on disk: the dumps of the source
// database, the queues and the password config files
type Cleanup struct {
	RootPath      string
	SourceDB      string
	Queues        map[models.SourceToDestination]queue.EventQueue
	PasswordFiles *transfer.PasswordConfigFiles
}

// Run removes everything it can and reports every failure
func (c *Cleanup) Run() error {
	var err error
	err = multierr.Append(err, c.cleanupDumps())
	err = multierr.Append(err, c.cleanupQueues())
	if c.PasswordFiles != nil {
		err = multierr.Append(err, c.PasswordFiles.RemoveAll())
	}
	return err
}

func (c *Cleanup) cleanupDumps() error {
	dir := filepath.Join(transfer.DumpsDir(c.RootPath), c.SourceDB)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove dumps %s: %w", dir, err)
	}
	return nil
}

func (c *Cleanup) cleanupQueues() error {
	var err error
	for mapping, q := range c.Queues {
		if removeErr := q.RemoveAll(); removeErr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to clear queue of %s: %w", mapping, removeErr))
		}
		if closeErr := q.Close(); closeErr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to close queue of %s: %w", mapping, closeErr))
		}
	}
	return multierr.Append(err, queue.RemoveFiles(c.RootPath, c.SourceDB))
}
