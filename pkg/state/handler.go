package state

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Handler reacts to recorded lifecycle events
type Handler interface {
	Handle(event Event)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(event Event)

func (f HandlerFunc) Handle(event Event) { f(event) }

// NoOpHandler ignores events
type NoOpHandler struct{}

func (NoOpHandler) Handle(Event) {}

// Handlers fans an event out to several handlers in order
type Handlers []Handler

func (h Handlers) Handle(event Event) {
	for _, handler := range h {
		handler.Handle(event)
	}
}

// LoggingHandler logs every lifecycle event
type LoggingHandler struct {
	logger *logrus.Logger
}

// NewLoggingHandler creates a LoggingHandler; logger may be nil
func NewLoggingHandler(logger *logrus.Logger) *LoggingHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &LoggingHandler{logger: logger}
}

func (h *LoggingHandler) Handle(event Event) {
	entry := h.logger.WithFields(logrus.Fields{
		"event":       event.Type,
		"source":      event.SourceToDestination.Source.Namespace(),
		"destination": event.SourceToDestination.Destination.Namespace(),
	})
	switch event.Type {
	case EventFailed:
		if event.Err != nil {
			entry = entry.WithError(event.Err)
		}
		entry.Error("Migration failed")
	case EventDumpUpdate, EventRestoreUpdate:
		entry.WithField("info", event.Info).Debug("Migration progress")
	default:
		entry.Info("Migration state changed")
	}
}

// Broadcaster delivers events to live subscribers. Slow subscribers miss
// events instead of blocking the recorder.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	buffer      int
}

// NewBroadcaster creates a broadcaster whose subscriber channels hold buffer events
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broadcaster{subscribers: make(map[chan Event]struct{}), buffer: buffer}
}

// Subscribe registers a subscriber; the returned func unsubscribes and closes the channel
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Broadcaster) Handle(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribers returns the number of live subscribers
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
