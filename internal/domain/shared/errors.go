// Package shared contains common domain types, errors and events
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidEntity = errors.New("invalid entity")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")

	// Context errors
	ErrMissingContext = errors.New("missing context")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "user", "session", "progression"
	Op      string // Operation that failed, e.g., "Stop", "Apply"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// User domain errors
var (
	ErrUserNotFound          = NewDomainError("user", "Load", ErrNotFound, "user not found")
	ErrUserAlreadyExists     = NewDomainError("user", "Create", ErrAlreadyExists, "user already exists")
	ErrInvalidUserID         = NewDomainError("user", "Validate", ErrInvalidID, "invalid user ID")
	ErrInvalidNickname       = NewDomainError("user", "Validate", ErrInvalidInput, "invalid nickname")
	ErrCompanionNotUnlocked  = NewDomainError("user", "EquipCompanion", ErrStateTransition, "companion is not unlocked")
	ErrUnknownCompanion      = NewDomainError("user", "EquipCompanion", ErrNotFound, "unknown companion")
	ErrUserContextMissing    = NewDomainError("user", "Resolve", ErrMissingContext, "no user in context")
	ErrUserInvariantViolated = NewDomainError("user", "Validate", ErrInvalidEntity, "user invariant violated")
)

// Session domain errors
var (
	ErrSessionNotRunning     = NewDomainError("session", "Stop", ErrStateTransition, "session is not running")
	ErrSessionTooLong        = NewDomainError("session", "Award", ErrValueOutOfRange, "session duration exceeds the allowed maximum")
	ErrNegativeStudyTime     = NewDomainError("session", "Award", ErrNegativeValue, "study time cannot be negative")
	ErrSessionRecordNotFound = NewDomainError("session", "FindRecord", ErrNotFound, "session record not found")
)

// Progression domain errors
var (
	ErrInvalidCurve     = NewDomainError("progression", "Validate", ErrValidation, "invalid experience curve")
	ErrInvalidTierTable = NewDomainError("progression", "Validate", ErrValidation, "invalid tier table")
	ErrInvalidCatalog   = NewDomainError("progression", "Validate", ErrValidation, "invalid companion catalog")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidEntity) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsStateConflict checks if the error is an invalid state transition.
func IsStateConflict(err error) bool {
	return errors.Is(err, ErrInvalidState) || errors.Is(err, ErrStateTransition)
}

// IsMissingContext checks if the error signals a sequencing bug upstream.
func IsMissingContext(err error) bool {
	return errors.Is(err, ErrMissingContext)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}
