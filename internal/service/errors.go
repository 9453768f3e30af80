package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Freeeeeet/tutor_session/internal/model"
	"github.com/google/uuid"
)

// FieldError is used to indicate an error with a specific input field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError is returned for bad or missing identifiers at submission
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{Err: err, Fields: flds}
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return "validation failed"
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NotFoundError is returned when the request id is unknown
type NotFoundError struct {
	RequestID uuid.UUID
	What      string
}

func (e *NotFoundError) Error() string {
	if e.What != "" {
		return e.What + " not found"
	}
	return fmt.Sprintf("session request %s not found", e.RequestID)
}

// ForbiddenError is returned when the caller is not a party allowed to act on the request
type ForbiddenError struct {
	RequestID uuid.UUID
	Reason    string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("session request %s: %s", e.RequestID, e.Reason)
}

// ConflictError is returned when a transition is attempted on a request that
// is no longer pending, or accepted while the tutor is still in another session.
// It is recoverable: Current holds the state the request is in now.
type ConflictError struct {
	RequestID uuid.UUID
	Op        string
	Current   model.RequestStatus
	Reason    string
}

func (e *ConflictError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s session request %s: %s", e.Op, e.RequestID, e.Reason)
	}
	return fmt.Sprintf("%s session request %s: request is %s", e.Op, e.RequestID, e.Current)
}

// TransientError wraps a store or network failure. Writes are never retried
// implicitly; the caller has to retry explicitly.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: temporarily unavailable: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsForbidden(err error) bool {
	var target *ForbiddenError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

func IsTransient(err error) bool {
	var target *TransientError
	return errors.As(err, &target)
}

// transient wraps store failures that are not part of the domain taxonomy.
// Cancellation by the caller is passed through untouched.
func transient(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var (
		v *ValidationError
		n *NotFoundError
		f *ForbiddenError
		c *ConflictError
		t *TransientError
	)
	if errors.As(err, &v) || errors.As(err, &n) || errors.As(err, &f) || errors.As(err, &c) || errors.As(err, &t) {
		return err
	}
	return &TransientError{Op: op, Err: err}
}
