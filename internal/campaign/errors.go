package campaign

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a campaign does not exist
	ErrNotFound = errors.New("campaign not found")

	// ErrRecipientNotFound is returned when a recipient cannot be resolved
	ErrRecipientNotFound = errors.New("recipient not found")

	// ErrForbidden is returned when the requester does not own the campaign
	ErrForbidden = errors.New("campaign not owned by requester")

	// ErrStateConflict is returned for operations not allowed in the current status
	ErrStateConflict = errors.New("campaign state conflict")

	// ErrNoRecipients is returned when sending a campaign without recipients
	ErrNoRecipients = errors.New("no recipients to send to")

	// ErrValidation is the base error for bad or missing input
	ErrValidation = errors.New("validation failed")
)

// ValidationError wraps ErrValidation with a field-level message
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError creates a validation error for field
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// StateConflictError reports the status that blocked an operation
type StateConflictError struct {
	Op     string
	Status Status
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("cannot %s campaign in status %s", e.Op, e.Status)
}

func (e *StateConflictError) Unwrap() error {
	return ErrStateConflict
}
