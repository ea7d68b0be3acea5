// internal/adapters/redis_adapter/kv.go
package redis_a

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tbellec/medistock-be/internal/core/ports"
)

// ErrKeyMiss is returned when a key is not found in the store
var ErrKeyMiss = fmt.Errorf("key miss")

// KV provides durable key-value persistence with Redis
type KV struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// Statically assert that *KV implements the KeyValueStore interface.
var _ ports.KeyValueStore = (*KV)(nil)

// NewKV creates a new key-value store instance. A zero ttl means entries
// persist until explicitly deleted; staleness is the snapshot cache's
// concern, not the store's.
func NewKV(client *redis.Client, ttl time.Duration, logger *slog.Logger) *KV {
	return &KV{
		client: client,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "kv_store")),
	}
}

// SetBytes stores raw bytes under key
func (s *KV) SetBytes(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, key, value, s.ttl).Err(); err != nil {
		s.logger.ErrorContext(ctx, "failed to set key",
			slog.String("key", key),
			slog.String("error", err.Error()))
		return fmt.Errorf("redis set error: %w", err)
	}

	s.logger.DebugContext(ctx, "key set",
		slog.String("key", key),
		slog.Int("bytes", len(value)))

	return nil
}

// GetBytes retrieves raw bytes for key, or ErrKeyMiss
func (s *KV) GetBytes(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			s.logger.DebugContext(ctx, "key miss", slog.String("key", key))
			return nil, ErrKeyMiss
		}
		s.logger.ErrorContext(ctx, "failed to get key",
			slog.String("key", key),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("redis get error: %w", err)
	}

	return data, nil
}

// Delete removes keys from the store
func (s *KV) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		s.logger.ErrorContext(ctx, "failed to delete keys",
			slog.Any("keys", keys),
			slog.String("error", err.Error()))
		return fmt.Errorf("redis del error: %w", err)
	}

	s.logger.DebugContext(ctx, "keys deleted", slog.Any("keys", keys))
	return nil
}

// Keys returns all keys matching a pattern
func (s *KV) Keys(ctx context.Context, pattern string) ([]string, error) {
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		s.logger.ErrorContext(ctx, "failed to scan keys",
			slog.String("pattern", pattern),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("redis scan error: %w", err)
	}

	return keys, nil
}

// Ping checks if Redis is accessible
func (s *KV) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.logger.ErrorContext(ctx, "redis ping failed",
			slog.String("error", err.Error()))
		return fmt.Errorf("redis ping error: %w", err)
	}

	return nil
}
