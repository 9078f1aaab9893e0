package redisx

import "time"

const (
	// Token auth: auth:token:{token} -> user_id
	KeyAuthToken = "auth:token:%s"

	// Idempotency create order: idem:order:{user_id}:{idempotency_key} -> order_id
	KeyIdemOrderCreate = "idem:order:%s:%s"

	// Cache order: order:{order_id} -> order JSON
	KeyOrderCache = "order:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLOrderCache  = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
