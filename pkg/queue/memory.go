package queue

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/cohenjo/migration-stream/pkg/events"
)

// MemoryQueue is an unbounded in-memory EventQueue backed by a ring buffer
type MemoryQueue struct {
	mu     sync.Mutex
	buffer *queue.Queue
}

// NewMemoryQueue creates an empty in-memory queue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{buffer: queue.New()}
}

func (q *MemoryQueue) Offer(event events.ChangeEvent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buffer.Add(event)
	return true
}

func (q *MemoryQueue) Poll() (events.ChangeEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.buffer.Length() == 0 {
		return nil, false
	}
	return q.buffer.Remove().(events.ChangeEvent), true
}

func (q *MemoryQueue) Peek() (events.ChangeEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.buffer.Length() == 0 {
		return nil, false
	}
	return q.buffer.Peek().(events.ChangeEvent), true
}

func (q *MemoryQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buffer.Length()
}

func (q *MemoryQueue) IsEmpty() bool {
	return q.Size() == 0
}

func (q *MemoryQueue) RemoveAll() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buffer = queue.New()
	return nil
}

func (q *MemoryQueue) Close() error {
	return nil
}
