// Package apperr defines the error taxonomy shared by the stores, the
// workflow and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed or policy-violating input
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// InvalidTransitionError reports a state machine violation
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s %s cannot move from %s to %s", e.Entity, e.ID, e.From, e.To)
}

// ForbiddenError reports a failed role or ownership check
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	return "forbidden: " + e.Reason
}

// ConflictError reports a lost race or a uniqueness clash. It is the only
// error a caller may retry after re-reading state.
type ConflictError struct {
	Entity string
	ID     string
	Reason string
}

func (e *ConflictError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s conflict: %s", e.Entity, e.Reason)
	}
	return fmt.Sprintf("%s %s conflict: %s", e.Entity, e.ID, e.Reason)
}

// NotFoundError reports a missing referenced entity
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// Validation builds a ValidationError for field with a formatted message
func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Transition builds an InvalidTransitionError for entity id moving between two states
func Transition(entity, id, from, to string) error {
	return &InvalidTransitionError{Entity: entity, ID: id, From: from, To: to}
}

// Forbidden builds a ForbiddenError with a formatted reason
func Forbidden(format string, args ...any) error {
	return &ForbiddenError{Reason: fmt.Sprintf(format, args...)}
}

// Conflict builds a ConflictError for entity id with a formatted reason
func Conflict(entity, id, format string, args ...any) error {
	return &ConflictError{Entity: entity, ID: id, Reason: fmt.Sprintf(format, args...)}
}

// NotFound builds a NotFoundError for entity id
func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// IsNotFound reports whether err wraps a NotFoundError
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsConflict reports whether err wraps a ConflictError
func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

// Retryable reports whether the caller may retry the operation unchanged
// after re-reading state.
func Retryable(err error) bool {
	return IsConflict(err)
}
