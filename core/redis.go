package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sentinel/metrics"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisCache caches resolved recipient sets and preference rows so that
// high-volume tenants do not hit the directory tables on every delivery.
// It is optional: components accept a nil cache and fall back to direct
// storage reads.
type RedisCache struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

// NewRedisCache creates a new Redis cache instance.
func NewRedisCache(addr, password string, db, poolSize int, logger *zap.SugaredLogger) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})

	return &RedisCache{
		client: client,
		logger: logger,
	}
}

// Ping tests the Redis connection.
func (rc *RedisCache) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

// maxCacheValueSize rejects oversized values before they reach Redis.
const maxCacheValueSize = 10 * 1024 * 1024

// Set stores a JSON-encoded value with expiration.
func (rc *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		rc.logger.Errorf("Failed to marshal cache value for key %s: %v", key, err)
		metrics.CacheErrors.WithLabelValues("redis", "marshal").Inc()
		return err
	}

	if len(data) > maxCacheValueSize {
		metrics.CacheErrors.WithLabelValues("redis", "size_limit").Inc()
		return fmt.Errorf("cache value size %d bytes exceeds maximum %d bytes", len(data), maxCacheValueSize)
	}

	err = rc.client.Set(ctx, key, data, expiration).Err()
	if err != nil {
		metrics.CacheErrors.WithLabelValues("redis", "set").Inc()
	}
	return err
}

// Get retrieves a value, reporting whether the key was present.
func (rc *RedisCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := rc.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			metrics.CacheMisses.WithLabelValues("redis").Inc()
			return false, nil
		}
		rc.logger.Errorf("Failed to get cache value for key %s: %v", key, err)
		metrics.CacheErrors.WithLabelValues("redis", "get").Inc()
		return false, err
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		rc.logger.Errorf("Failed to unmarshal cache value for key %s: %v", key, err)
		metrics.CacheErrors.WithLabelValues("redis", "unmarshal").Inc()
		return false, err
	}

	metrics.CacheHits.WithLabelValues("redis").Inc()
	return true, nil
}

// Delete removes a key.
func (rc *RedisCache) Delete(ctx context.Context, key string) error {
	return rc.client.Del(ctx, key).Err()
}

// Exists checks whether a key exists.
func (rc *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	count, err := rc.client.Exists(ctx, key).Result()
	return count > 0, err
}

// Cache key prefixes
const (
	CacheKeyRecipientsPrefix  = "recipients:"
	CacheKeyPreferencesPrefix = "prefs:"
	CacheKeyChannelPrefix     = "channel:"
)

// RecipientsCacheKey keys the resolved role-based recipient set for a
// tenant and category.
func RecipientsCacheKey(tenantID, category string) string {
	return CacheKeyRecipientsPrefix + tenantID + ":" + category
}

// PreferencesCacheKey keys a user's preference row.
func PreferencesCacheKey(userID string) string {
	return CacheKeyPreferencesPrefix + userID
}

// ChannelCacheKey keys a channel definition.
func ChannelCacheKey(channelID string) string {
	return CacheKeyChannelPrefix + channelID
}
