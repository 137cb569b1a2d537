package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Adapters and use cases wrap these so callers can classify with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation error")
	ErrStoreFailure      = errors.New("store failure")
	ErrInconsistentState = errors.New("inconsistent state")
)

func NotFound(resource string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, resource)
}

func Validation(field, message string) error {
	return fmt.Errorf("%w in %s: %s", ErrValidation, field, message)
}

// StoreFailure wraps a driver error. Errors that already carry a kind are returned unchanged.
func StoreFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsKind(err) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreFailure, op, err)
}

func InconsistentState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInconsistentState, fmt.Sprintf(format, args...))
}

// IsKind reports whether err already wraps one of the domain error kinds.
func IsKind(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrStoreFailure) ||
		errors.Is(err, ErrInconsistentState)
}
