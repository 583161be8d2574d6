// Package apperr holds the error kinds shared by the message store, the
// realtime router and the transport layer.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrTransientDelivery = errors.New("transient delivery failure")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Forbidden reports that the actor may not touch what.
func Forbidden(what string) error {
	return fmt.Errorf("%s: %w", what, ErrForbidden)
}

// StoreUnavailable wraps a storage failure so callers can match it with
// errors.Is(err, ErrStoreUnavailable) while keeping the cause.
func StoreUnavailable(op string, cause error) error {
	if cause == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, cause)
}

// TransientDelivery marks a delivery failure that a resync recovers from.
func TransientDelivery(op string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", op, ErrTransientDelivery)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransientDelivery, cause)
}

// Known reports whether err belongs to one of the kinds in this package.
func Known(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrTransientDelivery) ||
		errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrInvalidTransition)
}
