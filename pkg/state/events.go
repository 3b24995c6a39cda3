package state

import (
	"time"

	"github.com/cohenjo/migration-stream/pkg/models"
)

// EventType tags a lifecycle event
type EventType string

const (
	EventStart                   EventType = "Start"
	EventSourceToLocalStart      EventType = "SourceToLocalStart"
	EventDumpStart               EventType = "DumpStart"
	EventDumpUpdate              EventType = "DumpUpdate"
	EventDumpFinish              EventType = "DumpFinish"
	EventRestoreStart            EventType = "RestoreStart"
	EventRestoreUpdate           EventType = "RestoreUpdate"
	EventRestoreFinish           EventType = "RestoreFinish"
	EventIndexRebuildStart       EventType = "IndexRebuildStart"
	EventIndexRebuildFinish      EventType = "IndexRebuildFinish"
	EventLocalToDestinationStart EventType = "LocalToDestinationStart"
	EventPause                   EventType = "Pause"
	EventResume                  EventType = "Resume"
	EventStop                    EventType = "Stop"
	EventFailed                  EventType = "Failed"
)

var eventOrder = map[EventType]int{
	EventStart:                   0,
	EventSourceToLocalStart:      1,
	EventDumpStart:               2,
	EventDumpUpdate:              3,
	EventDumpFinish:              4,
	EventRestoreStart:            5,
	EventRestoreUpdate:           6,
	EventRestoreFinish:           7,
	EventIndexRebuildStart:       8,
	EventIndexRebuildFinish:      9,
	EventLocalToDestinationStart: 10,
	EventPause:                   11,
	EventResume:                  12,
	EventStop:                    13,
	EventFailed:                  14,
}

// Event is a timestamped lifecycle fact about one mapping
type Event struct {
	Type                EventType                  `json:"type"`
	SourceToDestination models.SourceToDestination `json:"source_to_destination"`
	Date                time.Time                  `json:"date"`
	// Info is the progress line of DumpUpdate and RestoreUpdate events
	Info string `json:"info,omitempty"`
	// Error is the failure message of Failed events
	Error string `json:"error,omitempty"`
	Err   error  `json:"-"`
}

func newEvent(eventType EventType, mapping models.SourceToDestination) Event {
	return Event{Type: eventType, SourceToDestination: mapping, Date: time.Now()}
}

// At returns a copy of the event dated at t
func (e Event) At(t time.Time) Event {
	e.Date = t
	return e
}

func StartEvent(m models.SourceToDestination) Event { return newEvent(EventStart, m) }

func SourceToLocalStartEvent(m models.SourceToDestination) Event {
	return newEvent(EventSourceToLocalStart, m)
}

func DumpStartEvent(m models.SourceToDestination) Event { return newEvent(EventDumpStart, m) }

func DumpUpdateEvent(m models.SourceToDestination, info string) Event {
	e := newEvent(EventDumpUpdate, m)
	e.Info = info
	return e
}

func DumpFinishEvent(m models.SourceToDestination) Event { return newEvent(EventDumpFinish, m) }

func RestoreStartEvent(m models.SourceToDestination) Event { return newEvent(EventRestoreStart, m) }

func RestoreUpdateEvent(m models.SourceToDestination, info string) Event {
	e := newEvent(EventRestoreUpdate, m)
	e.Info = info
	return e
}

func RestoreFinishEvent(m models.SourceToDestination) Event { return newEvent(EventRestoreFinish, m) }

func IndexRebuildStartEvent(m models.SourceToDestination) Event {
	return newEvent(EventIndexRebuildStart, m)
}

func IndexRebuildFinishEvent(m models.SourceToDestination) Event {
	return newEvent(EventIndexRebuildFinish, m)
}

func LocalToDestinationStartEvent(m models.SourceToDestination) Event {
	return newEvent(EventLocalToDestinationStart, m)
}

func PauseEvent(m models.SourceToDestination) Event  { return newEvent(EventPause, m) }
func ResumeEvent(m models.SourceToDestination) Event { return newEvent(EventResume, m) }
func StopEvent(m models.SourceToDestination) Event   { return newEvent(EventStop, m) }

// FailedEvent records a failure; err may be nil
func FailedEvent(m models.SourceToDestination, err error) Event {
	e := newEvent(EventFailed, m)
	e.Err = err
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// Notifier receives lifecycle events from the migration stages
type Notifier interface {
	Notify(event Event)
}
