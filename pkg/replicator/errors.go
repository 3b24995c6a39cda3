package replicator

import "github.com/cohenjo/migration-stream/pkg/models"

// ErrAlreadyStarted is returned by Start on a controller that already ran
var ErrAlreadyStarted = models.ErrMigrationAlreadyStarted

// StartError is returned when the migration could not start. The cause is
// usually a *validation.ValidationError.
type StartError struct {
	Err error
}

func (e *StartError) Error() string {
	return "failed to start migration: " + e.Err.Error()
}

func (e *StartError) Unwrap() error { return e.Err }

// StopError aggregates every failure met while tearing the migration down
type StopError struct {
	Err error
}

func (e *StopError) Error() string {
	return "error when stopping migration: " + e.Err.Error()
}

func (e *StopError) Unwrap() error { return e.Err }
