package events

import (
	"errors"
	"fmt"
)

// ErrUnsupportedOperationKind is matched by UnsupportedOperationKindError
var ErrUnsupportedOperationKind = errors.New("unsupported operation kind")

// UnsupportedOperationKindError is returned for change stream operations
// other than insert, replace, update and delete
type UnsupportedOperationKindError struct {
	OperationType string
}

func (e *UnsupportedOperationKindError) Error() string {
	return fmt.Sprintf("not supported operation type: [%s]", e.OperationType)
}

// Is reports whether target is ErrUnsupportedOperationKind
func (e *UnsupportedOperationKindError) Is(target error) bool {
	return target == ErrUnsupportedOperationKind
}

// ErrMissingDocumentKey is returned when a raw event has no documentKey
var ErrMissingDocumentKey = errors.New("change event has no documentKey")
