package remote

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"trackguard/internal/logging"
)

// RedisStore shares the TTL cache across several daemon sessions through
// Redis. Lookups and writes are best-effort: a Redis failure degrades to a
// cache miss, never to a request failure.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr, password string, db int, ttl time.Duration, logger *slog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{
		client: client,
		ttl:    ttl,
		logger: logging.NewComponentLogger(logger, "rediscache"),
	}, nil
}

func (s *RedisStore) key(key string) string {
	return "trackguard:cache:" + key
}

// Get returns the cached value when present; Redis expiry enforces the TTL.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	value, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Debug("redis get failed", logging.Error(err), logging.String(logging.FieldCacheKey, key))
		}
		return nil, false
	}
	return value, true
}

// Set stores a value with the configured TTL.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) {
	if err := s.client.Set(ctx, s.key(key), value, s.ttl).Err(); err != nil {
		s.logger.Debug("redis set failed", logging.Error(err), logging.String(logging.FieldCacheKey, key))
	}
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
