package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrProductNotFound  = errors.New("product not found")
	ErrProductSold      = errors.New("product is no longer available")
	ErrDuplicateOrder   = errors.New("order id already exists")
	ErrNotPending       = errors.New("order already processed")
	ErrNotCompleted     = errors.New("order payment is not completed")
	ErrAlreadyConfirmed = errors.New("receipt already confirmed")
	ErrAlreadyFailed    = errors.New("order already failed or cancelled")
	ErrWindowExpired    = errors.New("edit window expired")
	ErrAmountMismatch   = errors.New("notified amount does not match order amount")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrNotOwner         = errors.New("actor does not own this order")
)

// FieldError is a single invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports a malformed request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add appends a field error and returns the receiver for chaining.
func (e *ValidationError) Add(field, message string) *ValidationError {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
	return e
}

// OrNil returns nil when no field errors were collected.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// NotFoundError reports a missing order or product.
type NotFoundError struct {
	Kind string
	ID   string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// AuthorizationError reports a non-owner acting on a buyer-only operation.
type AuthorizationError struct {
	Actor   string
	OrderID string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %q may not act on order %q", e.Actor, e.OrderID)
}

func (e *AuthorizationError) Unwrap() error { return ErrNotOwner }

// SignatureError reports a forged or invalid gateway callback.
type SignatureError struct {
	Gateway string
}

func (e *SignatureError) Error() string {
	return e.Gateway + ": invalid signature"
}

func (e *SignatureError) Unwrap() error { return ErrInvalidSignature }

// StateConflictError reports an operation the order's state does not allow.
type StateConflictError struct {
	OrderID string
	Reason  string
	Err     error
}

func (e *StateConflictError) Error() string {
	if e.OrderID == "" {
		return e.Reason
	}
	return fmt.Sprintf("order %q: %s", e.OrderID, e.Reason)
}

func (e *StateConflictError) Unwrap() error { return e.Err }
