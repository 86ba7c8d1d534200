package cache

//go:generate mockgen -source=store.go -destination=mocks/mocks.go -package=mocks Store

import (
	"context"
	"time"

	"osint/internal/lookup/models"
)

// Store is one cache tier. Implementations return sentinel.ErrNotFound for
// missing or expired keys. Patterns use glob syntax where only '*' is special.
type Store interface {
	Get(ctx context.Context, key string) (models.CacheEntry, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePattern(ctx context.Context, pattern string) (int64, error)
	Count(ctx context.Context, pattern string) (int64, error)
}
