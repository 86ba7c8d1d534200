//go:build integration

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"osint/internal/lookup/cache"
	"osint/internal/lookup/models"
	"osint/pkg/platform/sentinel"
	"osint/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *cache.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = cache.NewRedisStore(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestRoundTripCarriesRemainingTTL() {
	ctx := context.Background()
	key := cache.Key(models.QueryTypePhone, "4126704024")

	s.Require().NoError(s.store.Set(ctx, key, []byte(`{"ok":true}`), time.Hour))

	entry, err := s.store.Get(ctx, key)
	s.Require().NoError(err)
	s.Equal([]byte(`{"ok":true}`), entry.Payload)
	s.WithinDuration(time.Now().Add(time.Hour), entry.ExpiresAt, 5*time.Second)
}

func (s *RedisStoreSuite) TestMissingKey() {
	_, err := s.store.Get(context.Background(), "osint:phone:missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisStoreSuite) TestPatternOperations() {
	ctx := context.Background()
	for _, v := range []string{"4126704024", "2025550123", "3105550199"} {
		s.Require().NoError(s.store.Set(ctx, cache.Key(models.QueryTypePhone, v), []byte("x"), time.Hour))
	}
	s.Require().NoError(s.store.Set(ctx, cache.Key(models.QueryTypeEmail, "jane@example.com"), []byte("x"), time.Hour))

	n, err := s.store.Count(ctx, cache.TypePattern(models.QueryTypePhone))
	s.Require().NoError(err)
	s.Equal(int64(3), n)

	n, err = s.store.DeletePattern(ctx, cache.TypePattern(models.QueryTypePhone))
	s.Require().NoError(err)
	s.Equal(int64(3), n)

	n, err = s.store.Count(ctx, cache.AllPattern)
	s.Require().NoError(err)
	s.Equal(int64(1), n)
}
