package orders

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Observer is notified once per PlaceOrder call with the outcome Kind.
type Observer interface {
	ObservePlacement(outcome string, elapsed time.Duration)
}

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithIDGenerator(gen func() uuid.UUID) Option {
	return func(c *Coordinator) { c.newID = gen }
}

func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.observer = o }
}

// Coordinator places orders: it validates a cart, locks the products it
// references, checks and decrements stock, and writes the order and its
// items, all inside one unit of work.
type Coordinator struct {
	store    Store
	now      func() time.Time
	newID    func() uuid.UUID
	observer Observer
}

func NewCoordinator(store Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store: store,
		now:   time.Now,
		newID: uuid.New,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ValidateLines rejects an empty cart or any line without a product or with
// a quantity that is not a positive integer. It touches no data.
func ValidateLines(lines []Line) error {
	if len(lines) == 0 {
		return &ValidationError{Line: -1, Field: "items", Reason: "at least one item is required"}
	}
	for i, ln := range lines {
		if ln.ProductID == uuid.Nil {
			return &ValidationError{Line: i, Field: "product", Reason: "product is required"}
		}
		if ln.Quantity <= 0 {
			return &ValidationError{Line: i, Field: "quantity", Reason: "quantity must be a positive integer"}
		}
	}
	return nil
}

// PlaceOrder commits a PENDING order for userID or returns a typed error with
// no durable side effects. It never retries; ErrTransactionConflict is the
// only outcome a caller should retry.
func (c *Coordinator) PlaceOrder(ctx context.Context, userID string, lines []Line) (order *Order, err error) {
	start := time.Now()
	defer func() {
		if c.observer != nil {
			c.observer.ObservePlacement(Kind(err), time.Since(start))
		}
	}()

	if userID == "" {
		return nil, ErrAuthenticationRequired
	}
	if err := ValidateLines(lines); err != nil {
		return nil, err
	}

	var placed *Order
	err = c.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		o := &Order{
			ID:         c.newID(),
			UserID:     userID,
			Status:     StatusPending,
			TotalPrice: decimal.Zero,
			CreatedAt:  c.now().UTC(),
			Items:      make([]OrderItem, 0, len(lines)),
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}

		locked, err := lockProducts(ctx, tx, lines)
		if err != nil {
			return err
		}
		remaining := make(map[uuid.UUID]int, len(locked))
		for id, p := range locked {
			remaining[id] = p.Stock
		}

		total := decimal.Zero
		for _, ln := range lines {
			p := locked[ln.ProductID]
			if remaining[ln.ProductID] < ln.Quantity {
				return &InsufficientStockError{
					ProductID: ln.ProductID,
					Requested: ln.Quantity,
					Available: remaining[ln.ProductID],
				}
			}

			item := OrderItem{
				ID:        c.newID(),
				OrderID:   o.ID,
				ProductID: ln.ProductID,
				Quantity:  ln.Quantity,
				UnitPrice: p.Price,
			}
			total = total.Add(item.LineTotal())

			if err := tx.InsertOrderItem(ctx, &item); err != nil {
				return err
			}
			if err := tx.DecrementStock(ctx, ln.ProductID, ln.Quantity); err != nil {
				return err
			}
			remaining[ln.ProductID] -= ln.Quantity
			o.Items = append(o.Items, item)
		}

		o.TotalPrice = RoundTotal(total)
		if err := tx.SetOrderTotal(ctx, o.ID, o.TotalPrice); err != nil {
			return err
		}
		placed = o
		return nil
	})
	if err != nil {
		ev := log.Warn()
		if !errors.Is(err, ErrProductNotFound) && !errors.Is(err, ErrInsufficientStock) && !errors.Is(err, ErrTransactionConflict) {
			ev = log.Error()
		}
		ev.Err(err).Str("user_id", userID).Int("lines", len(lines)).Str("outcome", Kind(err)).Msg("orders: placement rolled back")
		return nil, err
	}

	log.Info().
		Stringer("order_id", placed.ID).
		Str("user_id", userID).
		Int("lines", len(placed.Items)).
		Str("total", placed.TotalPrice.StringFixed(2)).
		Msg("orders: order placed")
	return placed, nil
}

// lockProducts locks every distinct product of the cart in ascending id
// order, so two carts sharing products always lock them in the same order.
// A missing product is reported as the first one in caller order.
func lockProducts(ctx context.Context, tx Tx, lines []Line) (map[uuid.UUID]LockedProduct, error) {
	ids := make([]uuid.UUID, 0, len(lines))
	seen := make(map[uuid.UUID]bool, len(lines))
	for _, ln := range lines {
		if !seen[ln.ProductID] {
			seen[ln.ProductID] = true
			ids = append(ids, ln.ProductID)
		}
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })

	locked := make(map[uuid.UUID]LockedProduct, len(ids))
	for _, id := range ids {
		p, err := tx.LockProduct(ctx, id)
		if errors.Is(err, ErrProductNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		locked[id] = p
	}

	for _, ln := range lines {
		if _, ok := locked[ln.ProductID]; !ok {
			return nil, &ProductNotFoundError{ProductID: ln.ProductID}
		}
	}
	return locked, nil
}
