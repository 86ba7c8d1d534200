package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"osint/internal/lookup/metrics"
	"osint/internal/lookup/models"
	"osint/pkg/platform/circuit"
	"osint/pkg/platform/sentinel"
)

const (
	tierL1 = "l1"
	tierL2 = "l2"
)

// TTLs are fixed per query type.
type TTLs struct {
	Phone time.Duration
	Email time.Duration
}

func DefaultTTLs() TTLs {
	return TTLs{Phone: 24 * time.Hour, Email: 6 * time.Hour}
}

func (t TTLs) For(qt models.QueryType) time.Duration {
	if qt == models.QueryTypeEmail {
		return t.Email
	}
	return t.Phone
}

// Tiered reads L1 then L2 and writes both. Cache failures never fail a lookup:
// read errors are misses and L1 write errors are only logged. L2 is optional
// and sits behind a circuit breaker.
type Tiered struct {
	l1      Store
	l2      Store
	breaker *circuit.Breaker
	ttls    TTLs
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	counters [2]tierCounters
	l2Reads  singleflight.Group
}

type tierCounters struct {
	hits, misses, errors atomic.Int64
}

type Option func(*Tiered)

// WithL2 enables the durable tier.
func WithL2(s Store) Option {
	return func(t *Tiered) { t.l2 = s }
}

func WithTTLs(ttls TTLs) Option {
	return func(t *Tiered) { t.ttls = ttls }
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *Tiered) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tiered) { t.metrics = m }
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(t *Tiered) {
		if b != nil {
			t.breaker = b
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Tiered) { t.now = now }
}

func NewTiered(l1 Store, opts ...Option) (*Tiered, error) {
	if l1 == nil {
		return nil, errors.New("l1 store is required")
	}
	t := &Tiered{
		l1:      l1,
		breaker: circuit.New("cache-l2", circuit.WithFailureThreshold(5), circuit.WithCooldown(30*time.Second)),
		ttls:    DefaultTTLs(),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *Tiered) TTLFor(qt models.QueryType) time.Duration {
	return t.ttls.For(qt)
}

func (t *Tiered) HasL2() bool { return t.l2 != nil }

// Get returns the entry for key. ok is false on a miss in both tiers or when
// both tiers fail. An L2 hit back-fills L1 with the remaining TTL.
func (t *Tiered) Get(ctx context.Context, key string) (models.CacheEntry, bool) {
	entry, err := t.l1.Get(ctx, key)
	switch {
	case err == nil:
		t.hit(0, tierL1)
		return entry, true
	case errors.Is(err, sentinel.ErrNotFound):
		t.miss(0, tierL1)
	default:
		t.fail(0, tierL1)
		t.logger.WarnContext(ctx, "l1 cache read failed", "key", key, "error", err)
	}

	if !t.l2Allowed() {
		return models.CacheEntry{}, false
	}
	v, err, _ := t.l2Reads.Do(key, func() (any, error) {
		return t.readL2(ctx, key)
	})
	switch {
	case err == nil:
		t.hit(1, tierL2)
		return v.(models.CacheEntry), true
	case errors.Is(err, sentinel.ErrNotFound):
		t.miss(1, tierL2)
	}
	return models.CacheEntry{}, false
}

// readL2 fetches key from L2 and back-fills L1. Concurrent readers of one key
// share a single call.
func (t *Tiered) readL2(ctx context.Context, key string) (models.CacheEntry, error) {
	entry, err := t.l2.Get(ctx, key)
	switch {
	case err == nil:
		t.breaker.RecordSuccess()
	case errors.Is(err, sentinel.ErrNotFound):
		t.breaker.RecordSuccess()
		return models.CacheEntry{}, err
	default:
		t.l2Failed(ctx, "read", key, err)
		return models.CacheEntry{}, err
	}

	if remaining := entry.ExpiresAt.Sub(t.now()); remaining > 0 {
		if err := t.l1.Set(ctx, key, entry.Payload, remaining); err != nil {
			t.metrics.RecordCacheWriteError(tierL1)
			t.logger.WarnContext(ctx, "l1 back-fill failed", "key", key, "error", err)
		}
	}
	return entry, nil
}

// Set writes L1 then L2. L1 failures are logged only; an L2 failure is
// returned so callers can log the degraded durability.
func (t *Tiered) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %s", ttl)
	}
	if err := t.l1.Set(ctx, key, payload, ttl); err != nil {
		t.metrics.RecordCacheWriteError(tierL1)
		t.logger.WarnContext(ctx, "l1 cache write failed", "key", key, "error", err)
	}
	if t.l2 == nil {
		return nil
	}
	if !t.l2Allowed() {
		t.metrics.RecordCacheWriteError(tierL2)
		return fmt.Errorf("l2 cache write skipped: %w", sentinel.ErrUnavailable)
	}
	if err := t.l2.Set(ctx, key, payload, ttl); err != nil {
		t.metrics.RecordCacheWriteError(tierL2)
		t.l2Failed(ctx, "write", key, err)
		return fmt.Errorf("l2 cache write: %w: %w", sentinel.ErrUnavailable, err)
	}
	t.breaker.RecordSuccess()
	return nil
}

// Invalidate removes key from both tiers.
func (t *Tiered) Invalidate(ctx context.Context, key string) error {
	var errs []error
	if err := t.l1.Delete(ctx, key); err != nil {
		errs = append(errs, fmt.Errorf("l1: %w", err))
	}
	if t.l2 != nil {
		if err := t.l2.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("l2: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ClearAll removes every key matching pattern from both tiers and returns the
// number of L1 and L2 entries removed.
func (t *Tiered) ClearAll(ctx context.Context, pattern string) (ClearResult, error) {
	var (
		res  ClearResult
		errs []error
		err  error
	)
	if res.L1, err = t.l1.DeletePattern(ctx, pattern); err != nil {
		errs = append(errs, fmt.Errorf("l1: %w", err))
	}
	if t.l2 != nil {
		if res.L2, err = t.l2.DeletePattern(ctx, pattern); err != nil {
			errs = append(errs, fmt.Errorf("l2: %w", err))
		}
	}
	return res, errors.Join(errs...)
}

type ClearResult struct {
	L1 int64 `json:"l1"`
	L2 int64 `json:"l2"`
}

// LoadProfile reads and decodes the cached profile for q.
func (t *Tiered) LoadProfile(ctx context.Context, q models.Query) (*models.ConsolidatedProfile, bool) {
	key := KeyFor(q)
	entry, ok := t.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var p models.ConsolidatedProfile
	if err := json.Unmarshal(entry.Payload, &p); err != nil {
		t.logger.WarnContext(ctx, "discarding undecodable cache entry", "key", key, "error", err)
		_ = t.Invalidate(ctx, key)
		return nil, false
	}
	return &p, true
}

// StoreProfile caches p under q's key with q's TTL. Profiles that are not
// cacheable are skipped.
func (t *Tiered) StoreProfile(ctx context.Context, q models.Query, p *models.ConsolidatedProfile) error {
	if !p.Cacheable() {
		t.logger.DebugContext(ctx, "skipping cache write for profile without sources", "query_type", q.Type)
		return nil
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	return t.Set(ctx, KeyFor(q), payload, t.TTLFor(q.Type))
}

func (t *Tiered) l2Allowed() bool {
	return t.l2 != nil && t.breaker.Allow()
}

func (t *Tiered) l2Failed(ctx context.Context, op, key string, err error) {
	if op == "read" {
		t.fail(1, tierL2)
	}
	_, change := t.breaker.RecordFailure()
	t.logger.WarnContext(ctx, "l2 cache "+op+" failed", "key", key, "error", err)
	if change.Opened {
		t.logger.ErrorContext(ctx, "l2 cache circuit opened", "breaker", t.breaker.Name())
	}
}

func (t *Tiered) hit(tier int, name string) {
	t.counters[tier].hits.Add(1)
	t.metrics.RecordCacheHit(name)
}

func (t *Tiered) miss(tier int, name string) {
	t.counters[tier].misses.Add(1)
	t.metrics.RecordCacheMiss(name)
}

func (t *Tiered) fail(tier int, name string) {
	t.counters[tier].errors.Add(1)
	t.metrics.RecordCacheError(name)
}
