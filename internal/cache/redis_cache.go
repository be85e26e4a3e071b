package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pool-api/internal/models"
)

// CacheService fronts hot read paths: pool status and user balances. Cached
// values are invalidated on every write that touches them, so a stale read
// lives at most one TTL.
type CacheService interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, key string) error

	CachePoolStatus(ctx context.Context, pool *models.PoolAccount) error
	GetCachedPoolStatus(ctx context.Context) (*models.PoolAccount, error)
	InvalidatePoolStatus(ctx context.Context) error

	CacheBalance(ctx context.Context, balance *models.UserBalance) error
	GetCachedBalance(ctx context.Context, userID int64) (*models.UserBalance, error)
	InvalidateBalance(ctx context.Context, userID int64) error

	Increment(ctx context.Context, key string, expiration time.Duration) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

var ErrCacheMiss = fmt.Errorf("cache miss")

type redisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) CacheService {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &redisCache{
		client: client,
		ttl:    ttl,
	}
}

const (
	poolStatusKey = "cache:pool:status"
	balancePrefix = "cache:balance:"
)

func (c *redisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	if err := c.client.Set(ctx, key, data, expiration).Err(); err != nil {
		return fmt.Errorf("failed to set cache key %s: %w", key, err)
	}
	return nil
}

func (c *redisCache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return ErrCacheMiss
		}
		return fmt.Errorf("failed to get cache key %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return nil
}

func (c *redisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete cache key %s: %w", key, err)
	}
	return nil
}

func (c *redisCache) CachePoolStatus(ctx context.Context, pool *models.PoolAccount) error {
	return c.Set(ctx, poolStatusKey, pool, c.ttl)
}

func (c *redisCache) GetCachedPoolStatus(ctx context.Context) (*models.PoolAccount, error) {
	var pool models.PoolAccount
	if err := c.Get(ctx, poolStatusKey, &pool); err != nil {
		return nil, err
	}
	return &pool, nil
}

func (c *redisCache) InvalidatePoolStatus(ctx context.Context) error {
	return c.Delete(ctx, poolStatusKey)
}

func (c *redisCache) CacheBalance(ctx context.Context, balance *models.UserBalance) error {
	return c.Set(ctx, balanceKey(balance.UserID), balance, c.ttl)
}

func (c *redisCache) GetCachedBalance(ctx context.Context, userID int64) (*models.UserBalance, error) {
	var balance models.UserBalance
	if err := c.Get(ctx, balanceKey(userID), &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

func (c *redisCache) InvalidateBalance(ctx context.Context, userID int64) error {
	return c.Delete(ctx, balanceKey(userID))
}

// Increment bumps a counter and sets its expiration on first use, for
// fixed-window rate limiting.
func (c *redisCache) Increment(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment %s: %w", key, err)
	}
	if count == 1 {
		c.client.Expire(ctx, key, expiration)
	}
	return count, nil
}

func (c *redisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *redisCache) Close() error {
	return c.client.Close()
}

func balanceKey(userID int64) string {
	return fmt.Sprintf("%s%d", balancePrefix, userID)
}
