package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"osint/internal/lookup/models"
	"osint/pkg/platform/sentinel"
)

const schema = `
CREATE TABLE IF NOT EXISTS lookup_cache (
	cache_key  TEXT PRIMARY KEY,
	payload    BYTEA NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS lookup_cache_expires_at_idx ON lookup_cache (expires_at);
`

// PostgresStore is the durable L2 tier. Expired rows are invisible to reads
// and removed by PurgeExpired.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

// EnsureSchema creates the cache table if needed.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure lookup_cache schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (models.CacheEntry, error) {
	entry := models.CacheEntry{Key: key}
	err := s.pool.QueryRow(ctx,
		`SELECT payload, expires_at FROM lookup_cache WHERE cache_key = $1 AND expires_at > $2`,
		key, s.now(),
	).Scan(&entry.Payload, &entry.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CacheEntry{}, sentinel.ErrNotFound
	}
	if err != nil {
		return models.CacheEntry{}, fmt.Errorf("find cache entry: %w", err)
	}
	return entry, nil
}

// Set upserts; the last writer wins.
func (s *PostgresStore) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	now := s.now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO lookup_cache (cache_key, payload, expires_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cache_key) DO UPDATE
		SET payload = EXCLUDED.payload, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at`,
		key, payload, now.Add(ttl), now,
	)
	if err != nil {
		return fmt.Errorf("save cache entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM lookup_cache WHERE cache_key = $1`, key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM lookup_cache WHERE cache_key LIKE $1 ESCAPE '\'`, likePattern(pattern))
	if err != nil {
		return 0, fmt.Errorf("delete cache pattern: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Count(ctx context.Context, pattern string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM lookup_cache WHERE cache_key LIKE $1 ESCAPE '\' AND expires_at > $2`,
		likePattern(pattern), s.now(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count cache entries: %w", err)
	}
	return n, nil
}

// PurgeExpired deletes rows past their expiry and returns how many were removed.
func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM lookup_cache WHERE expires_at <= $1`, s.now())
	if err != nil {
		return 0, fmt.Errorf("purge expired cache entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// likePattern converts a glob with '*' wildcards into a LIKE pattern.
func likePattern(glob string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(glob)
	return strings.ReplaceAll(escaped, "*", "%")
}
