package queue

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/buntdb"

	"github.com/cohenjo/migration-stream/pkg/events"
)

// DiskQueueOptions configures OpenDiskQueue
type DiskQueueOptions struct {
	// SyncEveryWrite fsyncs after every offer instead of once per second
	SyncEveryWrite bool
	Logger         *logrus.Logger
}

// DiskQueue is a persistent EventQueue stored in a buntdb file.
// Events are keyed by a zero-padded sequence number so key order is FIFO
// order; head and tail are recovered from the file on open.
type DiskQueue struct {
	mu     sync.Mutex
	db     *buntdb.DB
	path   string
	head   uint64
	tail   uint64
	closed bool
	logger *logrus.Entry
}

// OpenDiskQueue opens or creates the queue file at path
func OpenDiskQueue(path string, opts DiskQueueOptions) (*DiskQueue, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue file %s: %w", path, err)
	}

	var cfg buntdb.Config
	if err := db.ReadConfig(&cfg); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read queue config: %w", err)
	}
	if opts.SyncEveryWrite {
		cfg.SyncPolicy = buntdb.Always
	}
	if err := db.SetConfig(cfg); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure queue: %w", err)
	}

	q := &DiskQueue{
		db:     db,
		path:   path,
		logger: opts.Logger.WithField("queue", path),
	}
	if err := q.recover(); err != nil {
		db.Close()
		return nil, err
	}

	q.logger.WithFields(logrus.Fields{
		"size": q.tail - q.head,
	}).Debug("Opened disk queue")
	return q, nil
}

// recover restores head and tail from the persisted keys
func (q *DiskQueue) recover() error {
	var parseErr error
	err := q.db.View(func(tx *buntdb.Tx) error {
		first := true
		return tx.Ascend("", func(key, _ string) bool {
			seq, err := strconv.ParseUint(key, 10, 64)
			if err != nil {
				parseErr = fmt.Errorf("invalid queue key %q: %w", key, err)
				return false
			}
			if first {
				q.head = seq
				first = false
			}
			q.tail = seq + 1
			return true
		})
	})
	if err != nil {
		return fmt.Errorf("failed to scan queue file: %w", err)
	}
	return parseErr
}

func sequenceKey(seq uint64) string {
	return fmt.Sprintf("%020d", seq)
}

func (q *DiskQueue) Offer(event events.ChangeEvent) bool {
	data, err := events.Encode(event)
	if err != nil {
		q.logger.WithError(err).Error("Failed to encode change event")
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.logger.Error("Offer on closed queue")
		return false
	}

	err = q.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(sequenceKey(q.tail), string(data), nil)
		return err
	})
	if err != nil {
		q.logger.WithError(err).Error("Failed to persist change event")
		return false
	}
	q.tail++
	return true
}

func (q *DiskQueue) Poll() (events.ChangeEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for !q.closed && q.head < q.tail {
		var value string
		err := q.db.Update(func(tx *buntdb.Tx) error {
			var err error
			value, err = tx.Delete(sequenceKey(q.head))
			return err
		})
		if err != nil && !errors.Is(err, buntdb.ErrNotFound) {
			q.logger.WithError(err).Error("Failed to remove change event")
			return nil, false
		}
		q.head++
		if err != nil {
			continue
		}

		event, err := events.Decode([]byte(value))
		if err != nil {
			q.logger.WithError(err).Error("Dropping undecodable change event")
			continue
		}
		return event, true
	}
	return nil, false
}

func (q *DiskQueue) Peek() (events.ChangeEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.head == q.tail {
		return nil, false
	}

	var value string
	err := q.db.View(func(tx *buntdb.Tx) error {
		var err error
		value, err = tx.Get(sequenceKey(q.head))
		return err
	})
	if err != nil {
		return nil, false
	}
	event, err := events.Decode([]byte(value))
	if err != nil {
		return nil, false
	}
	return event, true
}

func (q *DiskQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int(q.tail - q.head)
}

func (q *DiskQueue) IsEmpty() bool {
	return q.Size() == 0
}

func (q *DiskQueue) RemoveAll() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	if err := q.db.Update(func(tx *buntdb.Tx) error {
		return tx.DeleteAll()
	}); err != nil {
		return fmt.Errorf("failed to purge queue %s: %w", q.path, err)
	}
	q.head, q.tail = 0, 0

	if err := q.db.Shrink(); err != nil && !errors.Is(err, buntdb.ErrShrinkInProcess) {
		return fmt.Errorf("failed to shrink queue %s: %w", q.path, err)
	}
	return nil
}

func (q *DiskQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	if err := q.db.Close(); err != nil {
		return fmt.Errorf("failed to close queue %s: %w", q.path, err)
	}
	return nil
}
