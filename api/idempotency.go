package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupeKeyPrefix = "drop"

// RedisDeduper stores processed idempotency keys in Redis so all instances
// can avoid applying the same drop twice.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(tenantID, key string) string {
	return fmt.Sprintf("%s:%s:%s", tenantID, dedupeKeyPrefix, key)
}

// Add records the key if it does not already exist. It returns true when the
// key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, tenantID, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(tenantID, key), 1, r.ttl).Result()
}

// Remove deletes a previously recorded key. It is used when the drop was
// rolled back so the caller may retry it.
func (r *RedisDeduper) Remove(ctx context.Context, tenantID, key string) error {
	return r.client.Del(ctx, r.key(tenantID, key)).Err()
}
