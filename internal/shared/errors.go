package shared

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrLockedPeriod indicates a write against a closed month.
	ErrLockedPeriod = errors.New("period locked")
	// ErrValidation indicates input rejected before any state change.
	ErrValidation = errors.New("validation failed")
	// ErrMissingReference indicates a row points at an unknown or archived entity.
	ErrMissingReference = errors.New("missing reference")
)

// LockedPeriodError is returned when a mutation targets a locked month without override.
type LockedPeriodError struct {
	Month  MonthKey
	Entity string
	Op     string
}

func (e *LockedPeriodError) Error() string {
	return fmt.Sprintf("%s %s rejected: month %s is locked", e.Entity, e.Op, e.Month)
}

// Unwrap exposes ErrLockedPeriod to errors.Is.
func (e *LockedPeriodError) Unwrap() error { return ErrLockedPeriod }

// ValidationError describes a single rejected field.
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

// Unwrap exposes ErrValidation to errors.Is.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// MissingReferenceError records a dangling reference; callers usually keep it as a warning.
type MissingReferenceError struct {
	Kind   string `json:"kind"`
	ID     int64  `json:"id"`
	Reason string `json:"reason"`
}

func (e MissingReferenceError) Error() string {
	return fmt.Sprintf("%s %d: %s", e.Kind, e.ID, e.Reason)
}

// Unwrap exposes ErrMissingReference to errors.Is.
func (e MissingReferenceError) Unwrap() error { return ErrMissingReference }

// SequenceGapWarning describes missing months between two recorded months.
type SequenceGapWarning struct {
	After   MonthKey   `json:"after"`
	Before  MonthKey   `json:"before"`
	Missing []MonthKey `json:"missing"`
}

func (w SequenceGapWarning) Error() string {
	parts := make([]string, 0, len(w.Missing))
	for _, m := range w.Missing {
		parts = append(parts, m.String())
	}
	return fmt.Sprintf("gap between %s and %s: missing %s", w.After, w.Before, strings.Join(parts, ", "))
}

// UserSafeMessage strips internal detail from errors surfaced to API callers.
func UserSafeMessage(err error) string {
	var locked *LockedPeriodError
	var invalid *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &locked):
		return locked.Error()
	case errors.As(err, &invalid):
		return invalid.Error()
	case errors.Is(err, ErrNotFound):
		return "resource not found"
	case errors.Is(err, ErrIdempotencyConflict):
		return ErrIdempotencyConflict.Error()
	default:
		return "internal error"
	}
}

// IsClientError reports whether err is caused by the request rather than the server.
func IsClientError(err error) bool {
	var locked *LockedPeriodError
	var missing MissingReferenceError
	return errors.As(err, &locked) ||
		errors.As(err, &missing) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrIdempotencyConflict)
}
