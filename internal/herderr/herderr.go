// Package herderr defines the error kinds returned by the coordination core.
// Callers classify errors with the Is* helpers, which see through wrapping.
package herderr

import (
	"errors"
	"fmt"
)

// ValidationError reports bad input shape (empty title, unknown parent, ...).
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError.
func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an identifier that resolves to nothing.
type NotFoundError struct {
	Kind  string // "task" or "agent"
	Input string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %q", e.Kind, e.Input)
}

// AmbiguousError reports an identifier prefix matching more than one record.
type AmbiguousError struct {
	Kind    string
	Input   string
	Matches int
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("%s identifier %q is ambiguous: matches %d records; use a longer identifier", e.Kind, e.Input, e.Matches)
}

// ConflictError reports an operation that would violate a state invariant.
// Conflicts caused by dispatch races are safe to retry.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

// Conflictf builds a ConflictError.
func Conflictf(format string, args ...any) error {
	return &ConflictError{Msg: fmt.Sprintf(format, args...)}
}

// MigrationError reports a failed schema change. Version is 0 when the failure
// happened before any unit was selected (metadata table, search path).
type MigrationError struct {
	Version int
	Err     error
}

func (e *MigrationError) Error() string {
	if e.Version == 0 {
		return fmt.Sprintf("migration failed: %v", e.Err)
	}
	return fmt.Sprintf("migration %d failed: %v", e.Version, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsAmbiguous(err error) bool {
	var target *AmbiguousError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

func IsMigration(err error) bool {
	var target *MigrationError
	return errors.As(err, &target)
}
