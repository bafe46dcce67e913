package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
	// CacheTTL is an explicit expiry for stored entries. Zero keeps entries
	// until they are invalidated or cleared.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// redisEnvelope is the stored representation of an entry.
type redisEnvelope[V any] struct {
	Value     V         `json:"value"`
	FetchedAt time.Time `json:"fetched_at"`
}

// RedisEntityCache is an entity cache backed by Redis, letting several
// processes of the same deployment share fetched entities.
type RedisEntityCache[K comparable, V any] struct {
	redisClient *redis.Client
	logger      zerolog.Logger
	prefix      string
	ttl         time.Duration
	now         func() time.Time
}

// NewRedisEntityCache creates and connects a new RedisEntityCache.
// It pings the Redis server to ensure connectivity before returning.
func NewRedisEntityCache[K comparable, V any](
	ctx context.Context,
	cfg *RedisConfig,
	logger zerolog.Logger,
	opts ...Option,
) (*RedisEntityCache[K, V], error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")

	o := buildOptions(opts)
	return &RedisEntityCache[K, V]{
		redisClient: rdb,
		logger:      logger.With().Str("component", "RedisEntityCache").Logger(),
		prefix:      cfg.KeyPrefix,
		ttl:         cfg.CacheTTL,
		now:         o.now,
	}, nil
}

func (c *RedisEntityCache[K, V]) redisKey(key K) string {
	return fmt.Sprintf("%s%v", c.prefix, key)
}

// Get retrieves and unmarshals an entry from Redis. redis.Nil is reported as a miss.
func (c *RedisEntityCache[K, V]) Get(ctx context.Context, key K) (Entry[K, V], bool, error) {
	stringKey := c.redisKey(key)
	cachedData, err := c.redisClient.Get(ctx, stringKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry[K, V]{}, false, nil
		}
		c.logger.Error().Err(err).Str("key", stringKey).Msg("Unexpected Redis error during get.")
		return Entry[K, V]{}, false, fmt.Errorf("redis get failed for key %s: %w", stringKey, err)
	}

	var env redisEnvelope[V]
	if err := json.Unmarshal(cachedData, &env); err != nil {
		c.logger.Error().Err(err).Str("key", stringKey).Msg("Failed to unmarshal cached entry.")
		return Entry[K, V]{}, false, fmt.Errorf("failed to unmarshal entry for key %s: %w", stringKey, err)
	}

	c.logger.Debug().Str("key", stringKey).Msg("Redis cache hit.")
	return Entry[K, V]{Key: key, Value: env.Value, FetchedAt: env.FetchedAt}, true, nil
}

// Set marshals the entry to JSON and stores it with the configured TTL.
func (c *RedisEntityCache[K, V]) Set(ctx context.Context, key K, value V) error {
	stringKey := c.redisKey(key)
	jsonData, err := json.Marshal(redisEnvelope[V]{Value: value, FetchedAt: c.now()})
	if err != nil {
		c.logger.Error().Err(err).Str("key", stringKey).Msg("Failed to marshal entry for caching.")
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	if err := c.redisClient.Set(ctx, stringKey, jsonData, c.ttl).Err(); err != nil {
		c.logger.Error().Err(err).Str("key", stringKey).Msg("Failed to set entry in Redis cache.")
		return fmt.Errorf("failed to set in redis: %w", err)
	}

	c.logger.Debug().Str("key", stringKey).Msg("Successfully stored entry in Redis cache.")
	return nil
}

// Invalidate removes key from Redis.
func (c *RedisEntityCache[K, V]) Invalidate(ctx context.Context, key K) error {
	stringKey := c.redisKey(key)
	if err := c.redisClient.Del(ctx, stringKey).Err(); err != nil {
		return fmt.Errorf("redis del failed for key %s: %w", stringKey, err)
	}
	return nil
}

// Clear removes every key under the configured prefix.
func (c *RedisEntityCache[K, V]) Clear(ctx context.Context) error {
	if c.prefix == "" {
		return errors.New("refusing to clear a redis cache without a key prefix")
	}
	iter := c.redisClient.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan failed for prefix %s: %w", c.prefix, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.redisClient.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del failed for prefix %s: %w", c.prefix, err)
	}
	c.logger.Info().Int("keys", len(keys)).Msg("Cleared Redis entity cache.")
	return nil
}

// Close closes the Redis client connection.
func (c *RedisEntityCache[K, V]) Close() error {
	if c.redisClient != nil {
		c.logger.Info().Msg("Closing Redis client connection...")
		return c.redisClient.Close()
	}
	return nil
}
