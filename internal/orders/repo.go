package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Repo is the PostgreSQL-backed Store plus the order read/fulfillment queries.
type Repo struct {
	DB        *pgxpool.Pool
	Isolation pgx.TxIsoLevel
}

var _ Store = (*Repo)(nil)

// WithinTx runs fn in one transaction. Every error leaving it is classified
// into the orders error taxonomy.
func (r *Repo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, pgTx{tx: tx})
	})
}

func (r *Repo) inTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: r.Isolation})
	if err != nil {
		return classify(err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
		if err != nil {
			// rollback juga harus jalan walau ctx request sudah cancel
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Error().Err(rbErr).Msg("orders: rollback failed")
			}
		}
	}()

	if err = fn(tx); err != nil {
		return classify(err)
	}
	if err = tx.Commit(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// classify maps driver and context errors onto the error taxonomy. Errors
// that already carry a taxonomy kind pass through untouched.
func classify(err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrTransactionConflict, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.LockNotAvailable,
			pgerrcode.QueryCanceled:
			return fmt.Errorf("%w: %w", ErrTransactionConflict, err)
		case pgerrcode.ForeignKeyViolation:
			if pgErr.ConstraintName == "order_items_product_id_fkey" {
				return fmt.Errorf("%w: %w", ErrProductNotFound, err)
			}
		case pgerrcode.CheckViolation:
			if pgErr.ConstraintName == "products_stock_check" {
				return fmt.Errorf("%w: %w", ErrInsufficientStock, err)
			}
		}
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

func (r *Repo) GetOrder(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	var (
		o     Order
		total string
	)
	err := r.DB.QueryRow(ctx, `
		SELECT id, user_id, status, total_price::text, created_at
		FROM orders WHERE id = $1`, orderID).
		Scan(&o.ID, &o.UserID, &o.Status, &total, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	if o.TotalPrice, err = decimal.NewFromString(total); err != nil {
		return nil, classify(err)
	}

	items, err := r.itemsFor(ctx, []uuid.UUID{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]
	if o.Items == nil {
		o.Items = []OrderItem{}
	}
	return &o, nil
}

// ListOrdersByUser returns the user's orders newest first, items attached.
func (r *Repo) ListOrdersByUser(ctx context.Context, userID string) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, user_id, status, total_price::text, created_at
		FROM orders WHERE user_id = $1
		ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := []Order{}
	var ids []uuid.UUID
	for rows.Next() {
		var (
			o     Order
			total string
		)
		if err := rows.Scan(&o.ID, &o.UserID, &o.Status, &total, &o.CreatedAt); err != nil {
			return nil, classify(err)
		}
		if o.TotalPrice, err = decimal.NewFromString(total); err != nil {
			return nil, classify(err)
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	if len(ids) == 0 {
		return out, nil
	}

	items, err := r.itemsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
		if out[i].Items == nil {
			out[i].Items = []OrderItem{}
		}
	}
	return out, nil
}

func (r *Repo) itemsFor(ctx context.Context, orderIDs []uuid.UUID) (map[uuid.UUID][]OrderItem, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price::text
		FROM order_items WHERE order_id = ANY($1)
		ORDER BY order_id, seq`, orderIDs)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]OrderItem, len(orderIDs))
	for rows.Next() {
		var (
			it    OrderItem
			price string
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &price); err != nil {
			return nil, classify(err)
		}
		if it.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, classify(err)
		}
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	return out, classify(rows.Err())
}

// TransitionStatus moves an order to status to under a row lock on the
// order. Cancelling a PENDING order puts its quantities back into stock in
// the same transaction. It returns the previous status.
func (r *Repo) TransitionStatus(ctx context.Context, orderID uuid.UUID, to Status) (from Status, err error) {
	err = r.inTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&from); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrOrderNotFound
			}
			return err
		}
		if !CanTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}
		if _, err := tx.Exec(ctx, `UPDATE orders SET status = $2 WHERE id = $1`, orderID, string(to)); err != nil {
			return err
		}
		if to == StatusCancelled {
			return restock(ctx, tx, orderID)
		}
		return nil
	})
	return from, err
}

// restock returns an order's quantities to stock. Product rows are locked in
// id order first, matching the Coordinator's lock order.
func restock(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) error {
	if _, err := tx.Exec(ctx, `
		SELECT p.id FROM products p
		WHERE p.id IN (SELECT product_id FROM order_items WHERE order_id = $1)
		ORDER BY p.id
		FOR UPDATE`, orderID); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		UPDATE products p
		SET stock = p.stock + s.qty, updated_at = now()
		FROM (
			SELECT product_id, SUM(quantity) AS qty
			FROM order_items WHERE order_id = $1
			GROUP BY product_id
		) s
		WHERE p.id = s.product_id`, orderID)
	return err
}
