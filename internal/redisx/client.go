package redisx

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/redis/go-redis/v9"
	"time"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// FirstSeen marks id as processed for service and reports whether this call
// was the first one. Without a client every id counts as first seen.
func FirstSeen(ctx context.Context, rdb *redis.Client, service, id string) (bool, error) {
	if rdb == nil {
		return true, nil
	}
	return rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, service, id), "1", TTLDedup).Result()
}

// Forget drops a dedup mark so a failed attempt can be redelivered.
func Forget(ctx context.Context, rdb *redis.Client, service, id string) {
	if rdb == nil {
		return
	}
	_ = rdb.Del(ctx, fmt.Sprintf(KeyDedup, service, id)).Err()
}

// StatusEntry is the cached view behind GET /orders/{id}/status. BuyerID is
// kept so the cache can answer the owning customer without a DB read.
type StatusEntry struct {
	OrderID   string    `json:"order_id"`
	BuyerID   string    `json:"buyer_id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

func CacheOrderStatus(ctx context.Context, rdb *redis.Client, e StatusEntry) {
	if rdb == nil || e.OrderID == "" {
		return
	}
	b, _ := json.Marshal(e)
	_ = rdb.Set(ctx, fmt.Sprintf(KeyOrderStatus, e.OrderID), b, TTLStatusCache).Err()
}

// CachedOrderStatus returns ok=false on a miss or any redis error.
func CachedOrderStatus(ctx context.Context, rdb *redis.Client, orderID string) (StatusEntry, bool) {
	var e StatusEntry
	if rdb == nil {
		return e, false
	}
	s, err := rdb.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Result()
	if err != nil || s == "" {
		return e, false
	}
	if json.Unmarshal([]byte(s), &e) != nil {
		return e, false
	}
	return e, true
}

func DropOrderStatus(ctx context.Context, rdb *redis.Client, orderID string) {
	if rdb == nil {
		return
	}
	_ = rdb.Del(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Err()
}

// RememberPlacement stores the order id created for an idempotency key.
func RememberPlacement(ctx context.Context, rdb *redis.Client, buyerID, key, orderID string) {
	if rdb == nil || key == "" {
		return
	}
	_ = rdb.Set(ctx, fmt.Sprintf(KeyIdemOrderPlace, buyerID, key), orderID, TTLIdempotency).Err()
}

func PlacedOrder(ctx context.Context, rdb *redis.Client, buyerID, key string) (string, bool) {
	if rdb == nil || key == "" {
		return "", false
	}
	id, err := rdb.Get(ctx, fmt.Sprintf(KeyIdemOrderPlace, buyerID, key)).Result()
	if err != nil {
		// redis.Nil berarti belum pernah dipakai
		return "", false
	}
	return id, true
}
