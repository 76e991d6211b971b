package api

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dedupeKeyPrefix = "create"
	pendingMarker   = "pending"
)

// RedisDeduper stores idempotency keys of create requests in Redis so all
// instances answer a retried request with the task created the first time.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(userID int64, key string) string {
	return strconv.FormatInt(userID, 10) + ":" + dedupeKeyPrefix + ":" + key
}

func (r *RedisDeduper) Reserve(ctx context.Context, userID int64, key string) (int64, bool, error) {
	k := r.key(userID, key)
	added, err := r.client.SetNX(ctx, k, pendingMarker, r.ttl).Result()
	if err != nil || added {
		return 0, added, err
	}
	val, err := r.client.Get(ctx, k).Result()
	if err == redis.Nil {
		// expired between the two calls
		return r.Reserve(ctx, userID, key)
	}
	if err != nil {
		return 0, false, err
	}
	if val == pendingMarker {
		return 0, false, nil
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return id, false, nil
}

func (r *RedisDeduper) Complete(ctx context.Context, userID int64, key string, taskID int64) error {
	return r.client.Set(ctx, r.key(userID, key), strconv.FormatInt(taskID, 10), r.ttl).Err()
}

// Remove deletes a previously recorded key so the caller may retry.
func (r *RedisDeduper) Remove(ctx context.Context, userID int64, key string) error {
	return r.client.Del(ctx, r.key(userID, key)).Err()
}
