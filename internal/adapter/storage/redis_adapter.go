package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/rl1809/crop-exchange/internal/port"
)

const (
	idempotencyKeyPrefix = "idempotency:"
	availableKeyPrefix   = "available:"
	idempotencyKeyTTL    = 24 * time.Hour
)

// lowerAvailableScript only moves the cached availability down, so a stale
// writer finishing late cannot resurrect units another accept already took.
var lowerAvailableScript = redis.NewScript(`
local key = KEYS[1]
local value = tonumber(ARGV[1])

local current = redis.call('GET', key)
if current and tonumber(current) <= value then
	return 0
end

redis.call('SET', key, ARGV[1])
return 1
`)

type RedisAdapter struct {
	client *redis.Client
}

var _ port.CacheRepository = (*RedisAdapter)(nil)

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ClearIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyKeyPrefix+key).Err()
}

// SetAvailable seeds the cached availability of a batch.
func (r *RedisAdapter) SetAvailable(ctx context.Context, batchID string, available decimal.Decimal) error {
	return r.client.Set(ctx, availableKeyPrefix+batchID, available.String(), 0).Err()
}

// LowerAvailable records a committed decrement. It returns false when the
// cache already holds a value at or below available.
func (r *RedisAdapter) LowerAvailable(ctx context.Context, batchID string, available decimal.Decimal) (bool, error) {
	result, err := lowerAvailableScript.Run(ctx, r.client, []string{availableKeyPrefix + batchID}, available.String()).Int()
	if err != nil {
		return false, err
	}

	return result == 1, nil
}

// GetAvailable reads the cached availability; ok is false on a cache miss.
func (r *RedisAdapter) GetAvailable(ctx context.Context, batchID string) (decimal.Decimal, bool, error) {
	raw, err := r.client.Get(ctx, availableKeyPrefix+batchID).Result()
	if err == redis.Nil {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}

	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, err
	}
	return d, true, nil
}
