package state

import (
	"sort"

	"github.com/cohenjo/migration-stream/pkg/models"
)

// Aggregate folds the event log of one mapping into its timeline.
// Events are applied in date order: start-type events create or replace the
// step of their type, finish events set its end date and update events
// replace its single info message.
func Aggregate(mapping models.SourceToDestination, log []Event) CollectionState {
	ordered := make([]Event, len(log))
	copy(ordered, log)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Date.Equal(ordered[j].Date) {
			return ordered[i].Date.Before(ordered[j].Date)
		}
		return eventOrder[ordered[i].Type] < eventOrder[ordered[j].Type]
	})

	steps := make(map[StepType]CollectionStep)
	for _, event := range ordered {
		apply(steps, event)
	}

	result := make([]CollectionStep, 0, len(steps))
	for _, step := range steps {
		result = append(result, step)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartDate.Equal(result[j].StartDate) {
			return result[i].StartDate.Before(result[j].StartDate)
		}
		return stepOrder[result[i].Type] < stepOrder[result[j].Type]
	})

	return CollectionState{SourceToDestination: mapping, Steps: result}
}

func apply(steps map[StepType]CollectionStep, event Event) {
	switch event.Type {
	case EventStart:
		start(steps, StepNew, event)
	case EventSourceToLocalStart:
		start(steps, StepSourceToLocal, event)
	case EventDumpStart:
		start(steps, StepDump, event)
	case EventDumpUpdate:
		update(steps, StepDump, event)
	case EventDumpFinish:
		finish(steps, StepDump, event)
	case EventRestoreStart:
		start(steps, StepRestore, event)
	case EventRestoreUpdate:
		update(steps, StepRestore, event)
	case EventRestoreFinish:
		finish(steps, StepRestore, event)
	case EventIndexRebuildStart:
		start(steps, StepIndexRebuild, event)
	case EventIndexRebuildFinish:
		finish(steps, StepIndexRebuild, event)
	case EventLocalToDestinationStart:
		start(steps, StepLocalToDestination, event)
	case EventPause:
		start(steps, StepPaused, event)
	case EventResume:
		start(steps, StepResumed, event)
	case EventStop:
		start(steps, StepFinished, event)
	case EventFailed:
		start(steps, StepFailed, event)
	}
}

func start(steps map[StepType]CollectionStep, stepType StepType, event Event) {
	steps[stepType] = CollectionStep{Type: stepType, StartDate: event.Date, Info: []Info{}}
}

func update(steps map[StepType]CollectionStep, stepType StepType, event Event) {
	step, ok := steps[stepType]
	if !ok {
		return
	}
	step.Info = []Info{{Date: event.Date, Message: event.Info}}
	steps[stepType] = step
}

func finish(steps map[StepType]CollectionStep, stepType StepType, event Event) {
	step, ok := steps[stepType]
	if !ok {
		return
	}
	end := event.Date
	step.EndDate = &end
	steps[stepType] = step
}
