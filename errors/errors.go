package errors

import "fmt"

const (
	stBadParameterErrorMsg         = "Bad value for parameter '%s': '%v'"
	stBadParameterErrorExpectedMsg = "Bad value for parameter '%s': '%v' (expected: '%v')"
	stNotFoundErrorMsg             = "%s with id '%s' not found"
	stConflictErrorMsg             = "%s is in a conflicting state: %s"
)

type simpleError struct {
	message string
}

func (err simpleError) Error() string {
	return err.message
}

// InternalError means that the operation failed for some internal, unexpected
// reason, e.g. the version-control backend reported the managed changelist in a
// status the engine considers impossible.
type InternalError struct {
	simpleError
}

// NewInternalError returns the custom defined error of type InternalError.
func NewInternalError(msg string) InternalError {
	return InternalError{simpleError{msg}}
}

// VersionConflictError means that the record version was not as expected in an
// update operation.
type VersionConflictError struct {
	simpleError
}

// NewVersionConflictError returns the custom defined error of type VersionConflictError.
func NewVersionConflictError(msg string) VersionConflictError {
	return VersionConflictError{simpleError{msg}}
}

// ConflictError means the operation is valid in general but cannot be carried
// out in the entity's current state, e.g. committing a review whose canonical
// shelf holds no files.
type ConflictError struct {
	entity string
	reason string
}

// Error implements the error interface
func (err ConflictError) Error() string {
	return fmt.Sprintf(stConflictErrorMsg, err.entity, err.reason)
}

// NewConflictError returns the custom defined error of type ConflictError.
func NewConflictError(entity string, reason string) ConflictError {
	return ConflictError{entity: entity, reason: reason}
}

// BadParameterError means that a parameter was not as required
type BadParameterError struct {
	parameter        string
	value            interface{}
	expectedValue    interface{}
	hasExpectedValue bool
}

// Error implements the error interface
func (err BadParameterError) Error() string {
	if err.hasExpectedValue {
		return fmt.Sprintf(stBadParameterErrorExpectedMsg, err.parameter, err.value, err.expectedValue)
	}
	return fmt.Sprintf(stBadParameterErrorMsg, err.parameter, err.value)
}

// Expected sets the optional expectedValue parameter on the BadParameterError
func (err BadParameterError) Expected(expected interface{}) BadParameterError {
	err.expectedValue = expected
	err.hasExpectedValue = true
	return err
}

// NewBadParameterError returns the custom defined error of type BadParameterError.
func NewBadParameterError(param string, actual interface{}) BadParameterError {
	return BadParameterError{parameter: param, value: actual}
}

// NotFoundError means the object specified for the operation does not exist
type NotFoundError struct {
	entity string
	ID     string
}

func (err NotFoundError) Error() string {
	return fmt.Sprintf(stNotFoundErrorMsg, err.entity, err.ID)
}

// NewNotFoundError returns the custom defined error of type NotFoundError.
func NewNotFoundError(entity string, id string) NotFoundError {
	return NotFoundError{entity: entity, ID: id}
}
