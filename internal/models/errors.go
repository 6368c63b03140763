package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an AppError for callers and the HTTP layer.
type ErrorKind string

const (
	KindValidation             ErrorKind = "validation_error"
	KindConflict               ErrorKind = "conflict"
	KindForbidden              ErrorKind = "forbidden"
	KindNotFound               ErrorKind = "not_found"
	KindInvalidTransition      ErrorKind = "invalid_transition"
	KindAlreadyPaid            ErrorKind = "already_paid"
	KindPayment                ErrorKind = "payment_failed"
	KindStorageUnavailable     ErrorKind = "storage_unavailable"
	KindReconciliationRequired ErrorKind = "reconciliation_required"
)

// AppError is the error type returned across service boundaries.
// Message is safe to show to clients; Err carries internal detail.
type AppError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func newAppError(kind ErrorKind, err error, format string, args ...interface{}) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func NewValidationError(format string, args ...interface{}) *AppError {
	return newAppError(KindValidation, nil, format, args...)
}

func NewConflictError(format string, args ...interface{}) *AppError {
	return newAppError(KindConflict, nil, format, args...)
}

func NewForbiddenError(format string, args ...interface{}) *AppError {
	return newAppError(KindForbidden, nil, format, args...)
}

func NewNotFoundError(resource string) *AppError {
	return newAppError(KindNotFound, nil, "%s not found", resource)
}

func NewInvalidTransitionError(from, to BookingStatus) *AppError {
	return newAppError(KindInvalidTransition, nil, "cannot move booking from %s to %s", from, to)
}

func NewAlreadyPaidError() *AppError {
	return newAppError(KindAlreadyPaid, nil, "booking is already paid")
}

// NewPaymentError carries the gateway's decline reason as the client message.
func NewPaymentError(reason string) *AppError {
	return newAppError(KindPayment, nil, "%s", reason)
}

func NewStorageUnavailableError(err error) *AppError {
	return newAppError(KindStorageUnavailable, err, "storage is temporarily unavailable")
}

func NewReconciliationRequiredError(err error) *AppError {
	return newAppError(KindReconciliationRequired, err, "payment outcome is being verified, do not retry")
}

// KindOf returns the kind of the first AppError in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

// IsKind reports whether err carries an AppError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
