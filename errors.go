package params

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidParameter reports missing or malformed caller input.
	ErrInvalidParameter = errors.New("params: invalid parameter")
	// ErrNotFound reports an unknown definition or override.
	ErrNotFound = errors.New("params: not found")
	// ErrValidationFailed reports a value rejected by its definition.
	ErrValidationFailed = errors.New("params: validation failed")
	// ErrVersionConflict reports a conditional write that lost a race.
	ErrVersionConflict = errors.New("params: version conflict")
)

// ErrDefinitionNotFound is returned when a parameter has no registered
// definition. It matches ErrNotFound.
var ErrDefinitionNotFound = fmt.Errorf("%w: parameter definition", ErrNotFound)

// ValidationError carries the rule messages produced for a rejected value.
// It matches both ErrValidationFailed and ErrInvalidParameter.
type ValidationError struct {
	Parameter string
	Errors    []string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("params: invalid value for %q: %s", e.Parameter, strings.Join(e.Errors, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed || target == ErrInvalidParameter
}

// OperationError attaches the operation and entity context to a failure.
type OperationError struct {
	Op         string
	EntityType EntityType
	EntityID   string
	Parameter  string
	Err        error
}

func (e *OperationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString("params: ")
	b.WriteString(e.Op)
	if e.EntityType != "" || e.EntityID != "" {
		fmt.Fprintf(&b, " entity=%s/%s", e.EntityType, e.EntityID)
	}
	if e.Parameter != "" {
		fmt.Fprintf(&b, " parameter=%s", e.Parameter)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WrapOperation returns err wrapped in an OperationError, leaving nil and
// already wrapped errors untouched.
func WrapOperation(op string, entityType EntityType, entityID, parameter string, err error) error {
	if err == nil {
		return nil
	}
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return err
	}
	return &OperationError{
		Op:         op,
		EntityType: entityType,
		EntityID:   entityID,
		Parameter:  parameter,
		Err:        err,
	}
}
