package orders

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrProductNotFound        = errors.New("product not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrTransactionConflict    = errors.New("transaction conflict")
	ErrPersistence            = errors.New("persistence failure")
	ErrOrderNotFound          = errors.New("order not found")
	ErrInvalidTransition      = errors.New("invalid status transition")
)

// ValidationError names the cart line (zero-based) and field that failed.
// Line is -1 when the cart as a whole is invalid.
type ValidationError struct {
	Line   int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Line < 0 {
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("items[%d].%s: %s", e.Line, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type ProductNotFoundError struct {
	ProductID uuid.UUID
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product not found: %s", e.ProductID)
}

func (e *ProductNotFoundError) Unwrap() error { return ErrProductNotFound }

type InsufficientStockError struct {
	ProductID uuid.UUID
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// Kind returns a stable machine-readable code for err, "ok" for nil.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrAuthenticationRequired):
		return "authentication_required"
	case errors.Is(err, ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrTransactionConflict):
		return "transaction_conflict"
	case errors.Is(err, ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	default:
		return "persistence_failure"
	}
}

// Retryable reports whether a caller may safely resubmit after err.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransactionConflict)
}

func isDomainError(err error) bool {
	for _, k := range []error{
		ErrValidation, ErrAuthenticationRequired, ErrProductNotFound, ErrInsufficientStock,
		ErrTransactionConflict, ErrPersistence, ErrOrderNotFound, ErrInvalidTransition,
	} {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}
