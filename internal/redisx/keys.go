package redisx

import "time"

const (
	// Idempotency place order: idem:order:place:{buyer_id}:{Idempotency-Key} -> order_id
	KeyIdemOrderPlace = "idem:order:place:%s:%s"

	// Cache status order: order_status:{order_id} -> {"status": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{id} (id = event_id atau transfer reference:status)
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
