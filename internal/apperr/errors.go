package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the id does not name a first-party item visible to the caller.
	ErrNotFound = errors.New("item not found")

	// ErrExternalReadOnly indicates the id names a row owned by a foreign scheduler.
	ErrExternalReadOnly = errors.New("item is owned by an external scheduler and is read-only")

	// ErrForbidden indicates a role or ownership mismatch.
	ErrForbidden = errors.New("not allowed to modify this item")

	// ErrInvalidTransition indicates a status change the item lifecycle does not permit.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError rejects malformed input before anything is written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// CreditInsufficientError is returned once any partial hold for the operation
// has already been rolled back.
type CreditInsufficientError struct {
	CreditsRequired  float64
	CreditsAvailable float64
}

func (e *CreditInsufficientError) Error() string {
	return fmt.Sprintf("insufficient credits: required %.2f, available %.2f", e.CreditsRequired, e.CreditsAvailable)
}
