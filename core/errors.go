package core

import (
	"errors"
	"fmt"
)

// Failure kinds. Control signals (see WriteStatus) are never reported through
// these errors.
var (
	// ErrNullInput is returned when a required argument is missing.
	ErrNullInput = errors.New("null input")
	// ErrIO wraps failures to open, create, seek, read or write a file.
	ErrIO = errors.New("io failure")
	// ErrTooLarge is returned for records outside the accepted size range.
	ErrTooLarge = errors.New("record size out of range")
	// ErrInvalidFormat is returned when a header or payload cannot be decoded.
	ErrInvalidFormat = errors.New("invalid format")
	// ErrReadEmpty signals that a file holds no readable records.
	ErrReadEmpty = errors.New("read empty")
)

// ValidationError is a custom error type for invalid records and arguments.
type ValidationError struct {
	Message string
	Field   string // e.g. "domain", "name", "tag"
	Value   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s '%s': %s", e.Field, e.Value, e.Message)
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var validationError *ValidationError
	return errors.As(err, &validationError)
}
