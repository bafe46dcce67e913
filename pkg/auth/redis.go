package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the connection settings of a RedisSessionStore.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// RedisSessionStore keeps sessions in Redis so that every process of a
// deployment sees the same login. Keys expire with the session.
type RedisSessionStore struct {
	redisClient *redis.Client
	logger      zerolog.Logger
	prefix      string
	now         func() time.Time
}

// NewRedisSessionStore creates and connects a new RedisSessionStore.
func NewRedisSessionStore(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisSessionStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis for session store: %w", err)
	}
	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis for SessionStore.")

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "session:"
	}
	return &RedisSessionStore{
		redisClient: rdb,
		logger:      logger.With().Str("component", "RedisSessionStore").Logger(),
		prefix:      prefix,
		now:         time.Now,
	}, nil
}

// Set marshals the session to JSON and stores it until the session expires.
func (c *RedisSessionStore) Set(ctx context.Context, key string, s Session) error {
	var ttl time.Duration
	if !s.ExpiresAt.IsZero() {
		ttl = s.ExpiresAt.Sub(c.now())
		if ttl <= 0 {
			return fmt.Errorf("refusing to store a session for key %s that has already expired", key)
		}
	}
	jsonData, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session for key %s: %w", key, err)
	}
	if err := c.redisClient.Set(ctx, c.prefix+key, jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set session in redis for key %s: %w", key, err)
	}
	c.logger.Debug().Str("key", key).Dur("ttl", ttl).Msg("Stored session.")
	return nil
}

// Fetch retrieves and unmarshals a session from Redis.
func (c *RedisSessionStore) Fetch(ctx context.Context, key string) (Session, error) {
	cachedData, err := c.redisClient.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, fmt.Errorf("key '%s': %w", key, ErrNoSession)
		}
		return Session{}, fmt.Errorf("redis get failed for key %s: %w", key, err)
	}
	var s Session
	if err := json.Unmarshal(cachedData, &s); err != nil {
		return Session{}, fmt.Errorf("failed to unmarshal session for key %s: %w", key, err)
	}
	return s, nil
}

// Delete removes a session from Redis.
func (c *RedisSessionStore) Delete(ctx context.Context, key string) error {
	if err := c.redisClient.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del failed for key %s: %w", key, err)
	}
	return nil
}

// Close closes the Redis client connection.
func (c *RedisSessionStore) Close() error {
	if c.redisClient != nil {
		return c.redisClient.Close()
	}
	return nil
}
