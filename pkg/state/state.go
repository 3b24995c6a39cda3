package state

import (
	"time"

	"github.com/cohenjo/migration-stream/pkg/models"
)

// StepType is a stage of a collection migration
type StepType string

const (
	StepNew                StepType = "NEW"
	StepSourceToLocal      StepType = "SOURCE_TO_LOCAL"
	StepDump               StepType = "DUMP"
	StepRestore            StepType = "RESTORE"
	StepIndexRebuild       StepType = "INDEX_REBUILD"
	StepLocalToDestination StepType = "LOCAL_TO_DESTINATION"
	StepPaused             StepType = "PAUSED"
	StepResumed            StepType = "RESUMED"
	StepFinished           StepType = "FINISHED"
	StepFailed             StepType = "FAILED"
)

var stepOrder = map[StepType]int{
	StepNew:                0,
	StepSourceToLocal:      1,
	StepDump:               2,
	StepRestore:            3,
	StepIndexRebuild:       4,
	StepLocalToDestination: 5,
	StepPaused:             6,
	StepResumed:            7,
	StepFinished:           8,
	StepFailed:             9,
}

// State is the migration timeline of every mapping
type State struct {
	CollectionStates []CollectionState `json:"collection_states"`
}

// CollectionState is the timeline of one mapping
type CollectionState struct {
	SourceToDestination models.SourceToDestination `json:"source_to_destination"`
	Steps               []CollectionStep           `json:"steps"`
}

// CollectionStep is one stage with its latest progress message
type CollectionStep struct {
	Type      StepType   `json:"type"`
	StartDate time.Time  `json:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	Info      []Info     `json:"info"`
}

// Info is a progress message
type Info struct {
	Date    time.Time `json:"date"`
	Message string    `json:"message"`
}

// Collection returns the timeline of a mapping
func (s State) Collection(mapping models.SourceToDestination) (CollectionState, bool) {
	for _, cs := range s.CollectionStates {
		if cs.SourceToDestination == mapping {
			return cs, true
		}
	}
	return CollectionState{}, false
}

// Step returns the step of the given type
func (c CollectionState) Step(stepType StepType) (CollectionStep, bool) {
	for _, step := range c.Steps {
		if step.Type == stepType {
			return step, true
		}
	}
	return CollectionStep{}, false
}

// Current returns the most recently started step
func (c CollectionState) Current() (CollectionStep, bool) {
	if len(c.Steps) == 0 {
		return CollectionStep{}, false
	}
	return c.Steps[len(c.Steps)-1], true
}
