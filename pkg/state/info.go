package state

import (
	"sync"

	"github.com/cohenjo/migration-stream/pkg/models"
)

// StateInfo records lifecycle events and rebuilds the migration state on demand.
// The log of each mapping keeps the latest event of every type, which folds
// to the same timeline as the full history. Events are recorded and handed
// to the handler under one lock so every handler sees them in recording order.
type StateInfo struct {
	mu       sync.Mutex
	logs     map[models.SourceToDestination]map[EventType]Event
	mappings []models.SourceToDestination
	handler  Handler
}

// NewStateInfo creates an empty store; handler may be nil
func NewStateInfo(handler Handler) *StateInfo {
	if handler == nil {
		handler = NoOpHandler{}
	}
	return &StateInfo{
		logs:    make(map[models.SourceToDestination]map[EventType]Event),
		handler: handler,
	}
}

// Notify records an event and passes it to the handler. Handlers must not
// call Notify.
func (s *StateInfo) Notify(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.logs[event.SourceToDestination]
	if !ok {
		log = make(map[EventType]Event)
		s.logs[event.SourceToDestination] = log
		s.mappings = append(s.mappings, event.SourceToDestination)
	}
	log[event.Type] = event

	s.handler.Handle(event)
}

// Events returns the recorded log of a mapping
func (s *StateInfo) Events(mapping models.SourceToDestination) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logs[mapping]
	result := make([]Event, 0, len(log))
	for _, event := range log {
		result = append(result, event)
	}
	return result
}

// MigrationState folds every mapping's log into a fresh snapshot
func (s *StateInfo) MigrationState() State {
	s.mu.Lock()
	snapshot := make(map[models.SourceToDestination][]Event, len(s.logs))
	mappings := make([]models.SourceToDestination, len(s.mappings))
	copy(mappings, s.mappings)
	for mapping, log := range s.logs {
		events := make([]Event, 0, len(log))
		for _, event := range log {
			events = append(events, event)
		}
		snapshot[mapping] = events
	}
	s.mu.Unlock()

	result := State{CollectionStates: make([]CollectionState, 0, len(mappings))}
	for _, mapping := range mappings {
		result.CollectionStates = append(result.CollectionStates, Aggregate(mapping, snapshot[mapping]))
	}
	return result
}
