package orders_test

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

// memStore is an in-memory Store with per-product exclusive locks held until
// the unit of work ends. Writes are buffered and applied only on commit.
type memStore struct {
	mu       sync.Mutex
	products map[uuid.UUID]*memProduct
	orders   map[uuid.UUID]orders.Order
	items    []orders.OrderItem

	// hooks untuk simulasi kegagalan
	failCommit     error
	failInsertItem func(n int) error
}

type memProduct struct {
	lock  chan struct{}
	price decimal.Decimal
	stock int
}

func newMemStore() *memStore {
	return &memStore{
		products: map[uuid.UUID]*memProduct{},
		orders:   map[uuid.UUID]orders.Order{},
	}
}

func (s *memStore) addProduct(price string, stock int) uuid.UUID {
	id := uuid.New()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[id] = &memProduct{
		lock:  make(chan struct{}, 1),
		price: decimal.RequireFromString(price),
		stock: stock,
	}
	return id
}

func (s *memStore) setPrice(id uuid.UUID, price string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[id].price = decimal.RequireFromString(price)
}

func (s *memStore) stock(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id].stock
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *memStore) itemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *memStore) order(id uuid.UUID) (orders.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	return o, ok
}

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) (err error) {
	tx := &memTx{store: s, held: map[uuid.UUID]bool{}, deltas: map[uuid.UUID]int{}, totals: map[uuid.UUID]decimal.Decimal{}}
	defer tx.release()

	if err := ctx.Err(); err != nil {
		return errors.Join(orders.ErrTransactionConflict, err)
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.Join(orders.ErrTransactionConflict, err)
	}
	if s.failCommit != nil {
		return s.failCommit
	}
	tx.commit()
	return nil
}

type memTx struct {
	store  *memStore
	held   map[uuid.UUID]bool
	deltas map[uuid.UUID]int
	orders []orders.Order
	items  []orders.OrderItem
	totals map[uuid.UUID]decimal.Decimal
}

func (t *memTx) product(id uuid.UUID) *memProduct {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.store.products[id]
}

func (t *memTx) LockProduct(ctx context.Context, id uuid.UUID) (orders.LockedProduct, error) {
	p := t.product(id)
	if p == nil {
		return orders.LockedProduct{}, orders.ErrProductNotFound
	}
	if !t.held[id] {
		select {
		case p.lock <- struct{}{}:
			t.held[id] = true
		case <-ctx.Done():
			return orders.LockedProduct{}, errors.Join(orders.ErrTransactionConflict, ctx.Err())
		}
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return orders.LockedProduct{ID: id, Price: p.price, Stock: p.stock + t.deltas[id]}, nil
}

func (t *memTx) DecrementStock(_ context.Context, id uuid.UUID, qty int) error {
	if !t.held[id] {
		return errors.New("memstore: decrement without lock")
	}
	p := t.product(id)
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if p.stock+t.deltas[id] < qty {
		return orders.ErrInsufficientStock
	}
	t.deltas[id] -= qty
	return nil
}

func (t *memTx) InsertOrder(_ context.Context, o *orders.Order) error {
	t.orders = append(t.orders, *o)
	return nil
}

func (t *memTx) InsertOrderItem(_ context.Context, it *orders.OrderItem) error {
	if t.store.failInsertItem != nil {
		if err := t.store.failInsertItem(len(t.items)); err != nil {
			return err
		}
	}
	t.items = append(t.items, *it)
	return nil
}

func (t *memTx) SetOrderTotal(_ context.Context, orderID uuid.UUID, total decimal.Decimal) error {
	t.totals[orderID] = total
	return nil
}

func (t *memTx) commit() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for id, d := range t.deltas {
		t.store.products[id].stock += d
	}
	for _, o := range t.orders {
		if total, ok := t.totals[o.ID]; ok {
			o.TotalPrice = total
		}
		o.Items = nil
		for _, it := range t.items {
			if it.OrderID == o.ID {
				o.Items = append(o.Items, it)
			}
		}
		t.store.orders[o.ID] = o
	}
	t.store.items = append(t.store.items, t.items...)
}

func (t *memTx) release() {
	for id := range t.held {
		<-t.product(id).lock
	}
	t.held = map[uuid.UUID]bool{}
}
