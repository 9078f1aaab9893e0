package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LockedProduct is the subset of a product row read under an exclusive lock.
type LockedProduct struct {
	ID    uuid.UUID
	Price decimal.Decimal
	Stock int
}

// Line is one requested (product, quantity) pair of a cart.
type Line struct {
	ProductID uuid.UUID `json:"product"`
	Quantity  int       `json:"quantity"`
}

type Order struct {
	ID         uuid.UUID       `json:"id"`
	UserID     string          `json:"user"`
	Status     Status          `json:"status"` // lihat status.go
	TotalPrice decimal.Decimal `json:"total_price"`
	CreatedAt  time.Time       `json:"created_at"`
	Items      []OrderItem     `json:"items"`
}

// OrderItem snapshots the unit price at the moment the order committed.
type OrderItem struct {
	ID        uuid.UUID       `json:"-"`
	OrderID   uuid.UUID       `json:"-"`
	ProductID uuid.UUID       `json:"product"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"price"`
}

// LineTotal is quantity * unit price, unrounded.
func (it OrderItem) LineTotal() decimal.Decimal {
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// RoundTotal rounds a monetary sum to cents using banker's rounding.
func RoundTotal(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(2)
}
