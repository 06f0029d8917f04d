/*
errors.go - Centralized error types for the recurrence engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The api layer maps these onto HTTP statuses; callers use errors.Is.

ERROR CATEGORIES:
  1. Validation errors - Malformed input, rejected before any persistence
  2. Not-found errors  - Definition absent or not owned by the caller
  3. Conflict errors   - Operation invalid for the current status
  4. Policy errors     - Unrecognized frequency or non-positive interval
  5. Store errors      - Uniqueness violations, persistence failures

USAGE:
  if errors.Is(err, recurrence.ErrNotFound) {
      // 404
  }

SEE ALSO:
  - engine.go: Produces these errors
  - api/handlers.go: Maps them to HTTP statuses
*/
package recurrence

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of all input-validation failures.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a definition does not exist or is not
	// owned by the requesting user. The two cases are deliberately
	// indistinguishable to the caller.
	ErrNotFound = errors.New("definition not found")

	// ErrConflict is returned when an operation is invalid for the
	// definition's current status (e.g. skipping an exhausted definition).
	ErrConflict = errors.New("operation invalid for definition status")

	// ErrInvalidPolicy is returned when a recurrence policy cannot be
	// evaluated: unrecognized frequency or interval <= 0.
	ErrInvalidPolicy = errors.New("invalid recurrence policy")

	// ErrDuplicateOccurrence is returned by stores when inserting a
	// generated transaction for a (definition, occurrence date) pair that
	// already exists. This is the storage-level line of defense behind
	// the engine's idempotence check.
	ErrDuplicateOccurrence = errors.New("occurrence already generated")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InvalidPolicyError describes an unevaluable recurrence policy.
type InvalidPolicyError struct {
	Frequency Frequency
	Interval  int
}

func (e *InvalidPolicyError) Error() string {
	return fmt.Sprintf("invalid recurrence policy: frequency=%q interval=%d", e.Frequency, e.Interval)
}

func (e *InvalidPolicyError) Unwrap() error { return ErrInvalidPolicy }

// ConflictError describes an operation rejected by the status machine.
type ConflictError struct {
	DefinitionID DefinitionID
	Status       Status
	Operation    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("cannot %s definition %s in status %q", e.Operation, e.DefinitionID, e.Status)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input
// or state, rather than a storage failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInvalidPolicy)
}

// IsNotFound returns true if the error indicates a missing definition.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
