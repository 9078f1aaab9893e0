package orders

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store opens units of work. fn runs inside one transaction; if it returns an
// error, panics, or ctx is cancelled, every write made through tx is discarded.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the data access the Coordinator needs inside a unit of work.
type Tx interface {
	// LockProduct takes an exclusive row lock, held until the unit of work
	// ends, and returns ErrProductNotFound if the row does not exist.
	// Locking a product already locked by the same tx does not block.
	LockProduct(ctx context.Context, id uuid.UUID) (LockedProduct, error)
	// DecrementStock applies stock = stock - qty; it never drives stock
	// below zero and returns ErrInsufficientStock instead.
	DecrementStock(ctx context.Context, id uuid.UUID, qty int) error
	InsertOrder(ctx context.Context, o *Order) error
	InsertOrderItem(ctx context.Context, it *OrderItem) error
	SetOrderTotal(ctx context.Context, orderID uuid.UUID, total decimal.Decimal) error
}
