package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"lms-calendar-api/core/config"
	"lms-calendar-api/core/constants"
	"lms-calendar-api/core/logger"
)

// Cache is the small shared-state surface the calendar core needs from Redis:
// one-time OAuth state nonces, cross-instance sync locks and provider backoff markers.
type Cache interface {
	SaveOAuthNonce(ctx context.Context, nonce string, ttl time.Duration) error
	ConsumeOAuthNonce(ctx context.Context, nonce string) (bool, error)

	AcquireSyncLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseSyncLock(ctx context.Context, key string) error

	SetProviderBackoff(ctx context.Context, provider string, until time.Time) error
	GetProviderBackoff(ctx context.Context, provider string) (time.Time, error)

	Close() error
}

type redisCache struct {
	client *redis.Client
}

func NewRedisCache(cfg config.RedisConfig) (Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Error("Cache:Init:Ping:Error", "error", err)
		return nil, err
	}
	logger.Info("Cache:Init:Success", "addr", cfg.Addr)
	return &redisCache{client: client}, nil
}

func (c *redisCache) SaveOAuthNonce(ctx context.Context, nonce string, ttl time.Duration) error {
	return c.client.Set(ctx, constants.RedisKeyOAuthState+nonce, "1", ttl).Err()
}

// ConsumeOAuthNonce deletes the nonce and reports whether it existed, so a state
// can be redeemed exactly once.
func (c *redisCache) ConsumeOAuthNonce(ctx context.Context, nonce string) (bool, error) {
	deleted, err := c.client.Del(ctx, constants.RedisKeyOAuthState+nonce).Result()
	if err != nil {
		return false, err
	}
	return deleted > 0, nil
}

func (c *redisCache) AcquireSyncLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, constants.RedisKeySyncLock+key, "1", ttl).Result()
}

func (c *redisCache) ReleaseSyncLock(ctx context.Context, key string) error {
	return c.client.Del(ctx, constants.RedisKeySyncLock+key).Err()
}

func (c *redisCache) SetProviderBackoff(ctx context.Context, provider string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, constants.RedisKeyProviderBackoff+provider, until.UTC().Format(time.RFC3339), ttl).Err()
}

func (c *redisCache) GetProviderBackoff(ctx context.Context, provider string) (time.Time, error) {
	val, err := c.client.Get(ctx, constants.RedisKeyProviderBackoff+provider).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, nil
	}
	return t, nil
}

func (c *redisCache) Close() error {
	return c.client.Close()
}
