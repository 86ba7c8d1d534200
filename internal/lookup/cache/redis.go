package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"osint/internal/lookup/models"
	"osint/pkg/platform/sentinel"
)

const scanBatch = 500

// RedisStore is the L1 tier. Keys expire natively; ExpiresAt is derived from PTTL.
type RedisStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) Get(ctx context.Context, key string) (models.CacheEntry, error) {
	pipe := s.client.Pipeline()
	get := pipe.Get(ctx, key)
	pttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return models.CacheEntry{}, fmt.Errorf("redis get %s: %w", key, err)
	}

	payload, err := get.Bytes()
	if errors.Is(err, redis.Nil) {
		return models.CacheEntry{}, sentinel.ErrNotFound
	}
	if err != nil {
		return models.CacheEntry{}, fmt.Errorf("redis get %s: %w", key, err)
	}

	entry := models.CacheEntry{Key: key, Payload: payload}
	// Zero ExpiresAt when the key has no TTL.
	if d := pttl.Val(); d > 0 {
		entry.ExpiresAt = s.now().Add(d)
	}
	return entry, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// DeletePattern SCANs for matching keys and unlinks them batch by batch.
func (s *RedisStore) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	var deleted int64
	err := s.scan(ctx, pattern, func(keys []string) error {
		n, err := s.client.Unlink(ctx, keys...).Result()
		deleted += n
		return err
	})
	if err != nil {
		return deleted, fmt.Errorf("redis delete pattern %s: %w", pattern, err)
	}
	return deleted, nil
}

func (s *RedisStore) Count(ctx context.Context, pattern string) (int64, error) {
	var n int64
	err := s.scan(ctx, pattern, func(keys []string) error {
		n += int64(len(keys))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis count %s: %w", pattern, err)
	}
	return n, nil
}

func (s *RedisStore) scan(ctx context.Context, pattern string, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
