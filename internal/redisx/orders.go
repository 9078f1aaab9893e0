package redisx

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// OrderCache keeps committed orders as JSON for fast single-order reads.
// Postgres stays the source of truth.
type OrderCache struct {
	RDB redis.Cmdable
}

func (c OrderCache) Get(ctx context.Context, id uuid.UUID) (*orders.Order, bool, error) {
	s, ok, err := getString(ctx, c.RDB, fmt.Sprintf(KeyOrderCache, id))
	if err != nil || !ok {
		return nil, false, err
	}
	var o orders.Order
	if err := json.Unmarshal([]byte(s), &o); err != nil {
		// entry rusak: anggap miss, nanti ditimpa
		return nil, false, nil
	}
	return &o, true, nil
}

func (c OrderCache) Set(ctx context.Context, o *orders.Order) error {
	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return c.RDB.Set(ctx, fmt.Sprintf(KeyOrderCache, o.ID), b, TTLOrderCache).Err()
}

func (c OrderCache) Invalidate(ctx context.Context, id uuid.UUID) error {
	return c.RDB.Del(ctx, fmt.Sprintf(KeyOrderCache, id)).Err()
}

// Idempotency remembers which order a (user, Idempotency-Key) pair produced.
type Idempotency struct {
	RDB redis.Cmdable
}

func (i Idempotency) Lookup(ctx context.Context, userID, key string) (uuid.UUID, bool, error) {
	s, ok, err := getString(ctx, i.RDB, fmt.Sprintf(KeyIdemOrderCreate, userID, key))
	if err != nil || !ok {
		return uuid.Nil, false, err
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false, nil
	}
	return id, true, nil
}

// Remember stores orderID unless the key is already bound. It reports
// whether this call won.
func (i Idempotency) Remember(ctx context.Context, userID, key string, orderID uuid.UUID) (bool, error) {
	return i.RDB.SetNX(ctx, fmt.Sprintf(KeyIdemOrderCreate, userID, key), orderID.String(), TTLIdempotency).Result()
}

// Dedup tracks processed event ids per consuming service.
type Dedup struct {
	RDB     redis.Cmdable
	Service string
}

func (d Dedup) Seen(ctx context.Context, eventID string) (bool, error) {
	return Exists(ctx, d.RDB, fmt.Sprintf(KeyDedup, d.Service, eventID))
}

// Mark is called only after the event was handled successfully.
func (d Dedup) Mark(ctx context.Context, eventID string) error {
	return d.RDB.Set(ctx, fmt.Sprintf(KeyDedup, d.Service, eventID), "1", TTLDedup).Err()
}
