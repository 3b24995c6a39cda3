package queue

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/cohenjo/migration-stream/pkg/events"
	"github.com/cohenjo/migration-stream/pkg/models"
)

// EventQueue is the per-mapping FIFO between capture and replay.
// It is safe for one producer and one consumer running concurrently.
type EventQueue interface {
	// Offer appends an event without blocking; false means the backing store failed
	Offer(event events.ChangeEvent) bool
	// Poll removes and returns the oldest event, false when empty
	Poll() (events.ChangeEvent, bool)
	// Peek returns the oldest event without removing it
	Peek() (events.ChangeEvent, bool)
	Size() int
	IsEmpty() bool
	// RemoveAll purges every event and reclaims storage
	RemoveAll() error
	Close() error
}

// FactoryType selects the queue implementation
type FactoryType string

const (
	FactoryInMemory FactoryType = "InMemory"
	FactoryDisk     FactoryType = "Disk"
)

// Factory creates one queue per mapping
type Factory interface {
	Create(mapping models.SourceToDestination) (EventQueue, error)
}

// FactoryOptions configures NewFactory
type FactoryOptions struct {
	Type FactoryType
	// RootPath is the working directory; disk queues live in <RootPath>/queues
	RootPath string
	// SyncEveryWrite fsyncs the disk queue on every offer
	SyncEveryWrite bool
	Logger         *logrus.Logger
}

// NewFactory returns the factory matching opts.Type
func NewFactory(opts FactoryOptions) (Factory, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	switch opts.Type {
	case FactoryInMemory, "":
		return memoryFactory{}, nil
	case FactoryDisk:
		if opts.RootPath == "" {
			return nil, fmt.Errorf("root path is required for %s queues", FactoryDisk)
		}
		return &diskFactory{
			dir:            Dir(opts.RootPath),
			syncEveryWrite: opts.SyncEveryWrite,
			logger:         opts.Logger,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported queue factory: %s", opts.Type)
	}
}

// CreateQueues builds a queue for every mapping, closing the already created
// ones if any creation fails
func CreateQueues(factory Factory, mappings []models.SourceToDestination) (map[models.SourceToDestination]EventQueue, error) {
	queues := make(map[models.SourceToDestination]EventQueue, len(mappings))
	for _, mapping := range mappings {
		q, err := factory.Create(mapping)
		if err != nil {
			for _, created := range queues {
				created.Close()
			}
			return nil, fmt.Errorf("failed to create queue for %s: %w", mapping, err)
		}
		queues[mapping] = q
	}
	return queues, nil
}

// Dir is the directory holding disk queue files
func Dir(rootPath string) string {
	return filepath.Join(rootPath, "queues")
}

// RemoveFiles deletes the disk queue files of every collection of a source database
func RemoveFiles(rootPath, sourceDB string) error {
	entries, err := os.ReadDir(Dir(rootPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to list queue directory: %w", err)
	}

	prefix := sourceDB + "."
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		if err := os.Remove(filepath.Join(Dir(rootPath), entry.Name())); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove queue file %s: %w", entry.Name(), err)
		}
	}
	return nil
}

type memoryFactory struct{}

func (memoryFactory) Create(models.SourceToDestination) (EventQueue, error) {
	return NewMemoryQueue(), nil
}

type diskFactory struct {
	dir            string
	syncEveryWrite bool
	logger         *logrus.Logger
}

func (f *diskFactory) Create(mapping models.SourceToDestination) (EventQueue, error) {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory %s: %w", f.dir, err)
	}
	path := filepath.Join(f.dir, mapping.Source.Namespace()+".db")
	return OpenDiskQueue(path, DiskQueueOptions{SyncEveryWrite: f.syncEveryWrite, Logger: f.logger})
}
