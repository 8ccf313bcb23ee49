package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	availableKeyPrefix = "stock:available:"
	availableKeyTTL    = 5 * time.Minute
	idempotencyKeyTTL  = 24 * time.Hour
)

// setAvailableScript writes the cached value unless a newer stock version is
// already there, so a slow writer cannot overwrite a fresher refresh.
var setAvailableScript = redis.NewScript(`
local key = KEYS[1]
local available = ARGV[1]
local version = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local current = redis.call('HGET', key, 'version')
if current and tonumber(current) > version then
	return 0
end

redis.call('HSET', key, 'available', available, 'version', version)
redis.call('EXPIRE', key, ttl)
return 1
`)

type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) GetAvailable(ctx context.Context, productID string) (int, bool, error) {
	key := availableKeyPrefix + productID

	available, err := r.client.HGet(ctx, key, "available").Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get available %s: %w", productID, err)
	}
	return available, true, nil
}

func (r *RedisAdapter) SetAvailable(ctx context.Context, productID string, available int, version int64) error {
	key := availableKeyPrefix + productID
	ttl := int(availableKeyTTL / time.Second)

	if err := setAvailableScript.Run(ctx, r.client, []string{key}, available, version, ttl).Err(); err != nil {
		return fmt.Errorf("set available %s: %w", productID, err)
	}
	return nil
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ClearIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}
