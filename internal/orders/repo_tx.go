package orders

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// pgTx implements Tx on top of an open pgx transaction.
type pgTx struct{ tx pgx.Tx }

func (t pgTx) LockProduct(ctx context.Context, id uuid.UUID) (LockedProduct, error) {
	var (
		p     LockedProduct
		price string
	)
	err := t.tx.QueryRow(ctx, `SELECT id, price::text, stock FROM products WHERE id = $1 FOR UPDATE`, id).
		Scan(&p.ID, &price, &p.Stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return LockedProduct{}, ErrProductNotFound
	}
	if err != nil {
		return LockedProduct{}, err
	}
	p.Price, err = decimal.NewFromString(price)
	return p, err
}

func (t pgTx) DecrementStock(ctx context.Context, id uuid.UUID, qty int) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2`, id, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrInsufficientStock
	}
	return nil
}

func (t pgTx) InsertOrder(ctx context.Context, o *Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders(id, user_id, status, total_price, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5)`,
		o.ID, o.UserID, string(o.Status), o.TotalPrice.StringFixed(2), o.CreatedAt)
	return err
}

func (t pgTx) InsertOrderItem(ctx context.Context, it *OrderItem) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO order_items(id, order_id, product_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5::numeric)`,
		it.ID, it.OrderID, it.ProductID, it.Quantity, it.UnitPrice.String())
	return err
}

func (t pgTx) SetOrderTotal(ctx context.Context, orderID uuid.UUID, total decimal.Decimal) error {
	ct, err := t.tx.Exec(ctx, `UPDATE orders SET total_price = $2::numeric WHERE id = $1`,
		orderID, total.StringFixed(2))
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrOrderNotFound
	}
	return nil
}
