// Package faults defines the error kinds shared by the reservation engine,
// the order and delivery state machines, and the HTTP layer.
package faults

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means an optimistic version check failed; the caller must
	// re-read and retry.
	ErrConflict = errors.New("version conflict")
)

type InsufficientStockError struct {
	ProductID string
	VariantID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	if e.VariantID != "" {
		return fmt.Sprintf("insufficient stock: product=%s variant=%s requested=%d available=%d",
			e.ProductID, e.VariantID, e.Requested, e.Available)
	}
	return fmt.Sprintf("insufficient stock: product=%s requested=%d available=%d",
		e.ProductID, e.Requested, e.Available)
}

// ReservationExpiredError means a hold that an order confirmation relied on is
// no longer active: expired, swept, or already consumed elsewhere.
type ReservationExpiredError struct {
	ProductID string
	VariantID string
}

func (e *ReservationExpiredError) Error() string {
	if e.VariantID != "" {
		return fmt.Sprintf("reservation no longer valid: product=%s variant=%s", e.ProductID, e.VariantID)
	}
	return fmt.Sprintf("reservation no longer valid: product=%s", e.ProductID)
}

type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}

// ValidationError names the missing or malformed field so courier and admin
// apps can point at the exact input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

type UnauthorizedError struct {
	Role   string
	Action string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("unauthorized: role %q may not %s", e.Role, e.Action)
}
