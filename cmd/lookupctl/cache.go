package main

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"osint/internal/lookup/cache"
	"osint/internal/platform/config"
	"osint/internal/platform/postgres"
	platformredis "osint/internal/platform/redis"
)

type cacheHandle struct {
	tiered *cache.Tiered
	l2     *cache.PostgresStore
	close  func()
}

// openCache connects to the configured tiers. At least one external tier is
// required; an in-process store would only ever be empty.
func openCache(ctx context.Context) (*cacheHandle, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var l1 cache.Store = cache.NewMemoryStore()
	rdb, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rdb != nil {
		closers = append(closers, func() { _ = rdb.Close() })
		l1 = cache.NewRedisStore(rdb.Client)
	}

	opts := []cache.Option{
		cache.WithLogger(logger),
		cache.WithTTLs(cache.TTLs{Phone: cfg.Engine.PhoneTTL, Email: cfg.Engine.EmailTTL}),
	}
	pool, err := postgres.Connect(ctx, cfg.Postgres)
	if err != nil {
		closeAll()
		return nil, err
	}
	h := &cacheHandle{}
	if pool != nil {
		closers = append(closers, pool.Close)
		h.l2 = cache.NewPostgresStore(pool)
		opts = append(opts, cache.WithL2(h.l2))
	}
	if rdb == nil && pool == nil {
		return nil, errors.New("REDIS_URL or DATABASE_URL must be set")
	}

	h.tiered, err = cache.NewTiered(l1, opts...)
	if err != nil {
		closeAll()
		return nil, err
	}
	h.close = closeAll
	return h, nil
}
