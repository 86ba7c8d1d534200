package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"osint/internal/lookup/cache/mocks"
	"osint/internal/lookup/models"
	"osint/pkg/platform/circuit"
	"osint/pkg/platform/sentinel"
)

// =============================================================================
// Tiered Cache Test Suite
// =============================================================================
// Justification for unit tests: the tiered cache decides when a lookup is
// served from cache and how store failures degrade. Tier ordering, back-fill
// and failure handling are verified against mocked tiers; real backends are
// covered by the integration tests.

type TieredSuite struct {
	suite.Suite
	ctrl   *gomock.Controller
	l1     *mocks.MockStore
	l2     *mocks.MockStore
	now    time.Time
	cache  *Tiered
	logger *slog.Logger
	ctx    context.Context
}

func TestTieredSuite(t *testing.T) {
	suite.Run(t, new(TieredSuite))
}

func (s *TieredSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.l1 = mocks.NewMockStore(s.ctrl)
	s.l2 = mocks.NewMockStore(s.ctrl)
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.ctx = context.Background()

	c, err := NewTiered(s.l1,
		WithL2(s.l2),
		WithLogger(s.logger),
		WithClock(func() time.Time { return s.now }),
		WithBreaker(circuit.New("test-l2", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Minute),
			circuit.WithClock(func() time.Time { return s.now }))),
	)
	s.Require().NoError(err)
	s.cache = c
}

func (s *TieredSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *TieredSuite) TestNew() {
	s.Run("nil l1 store returns error", func() {
		_, err := NewTiered(nil)
		s.Error(err)
		s.Contains(err.Error(), "l1 store is required")
	})
}

// =============================================================================
// Reads
// =============================================================================

func (s *TieredSuite) TestGet() {
	s.Run("l1 hit skips l2", func() {
		s.l1.EXPECT().Get(gomock.Any(), "k").Return(models.CacheEntry{Key: "k", Payload: []byte("v")}, nil)

		entry, ok := s.cache.Get(s.ctx, "k")
		s.True(ok)
		s.Equal([]byte("v"), entry.Payload)
	})

	s.Run("l2 hit back-fills l1 with remaining ttl", func() {
		s.l1.EXPECT().Get(gomock.Any(), "k").Return(models.CacheEntry{}, sentinel.ErrNotFound)
		s.l2.EXPECT().Get(gomock.Any(), "k").Return(models.CacheEntry{
			Key: "k", Payload: []byte("v"), ExpiresAt: s.now.Add(90 * time.Minute),
		}, nil)
		s.l1.EXPECT().Set(gomock.Any(), "k", []byte("v"), 90*time.Minute).Return(nil)

		_, ok := s.cache.Get(s.ctx, "k")
		s.True(ok)
	})

	s.Run("miss in both tiers", func() {
		s.l1.EXPECT().Get(gomock.Any(), "k").Return(models.CacheEntry{}, sentinel.ErrNotFound)
		s.l2.EXPECT().Get(gomock.Any(), "k").Return(models.CacheEntry{}, sentinel.ErrNotFound)

		_, ok := s.cache.Get(s.ctx, "k")
		s.False(ok)
	})

	s.Run("l1 error falls through to l2", func() {
		s.l1.EXPECT().Get(gomock.Any(), "k").Return(models.CacheEntry{}, errors.New("connection reset"))
		s.l2.EXPECT().Get(gomock.Any(), "k").Return(models.CacheEntry{
			Key: "k", Payload: []byte("v"), ExpiresAt: s.now.Add(time.Hour),
		}, nil)
		s.l1.EXPECT().Set(gomock.Any(), "k", []byte("v"), time.Hour).Return(errors.New("connection reset"))

		_, ok := s.cache.Get(s.ctx, "k")
		s.True(ok, "back-fill failure does not hide the hit")
	})

	s.Run("l2 error is a miss", func() {
		s.l1.EXPECT().Get(gomock.Any(), "k").Return(models.CacheEntry{}, sentinel.ErrNotFound)
		s.l2.EXPECT().Get(gomock.Any(), "k").Return(models.CacheEntry{}, errors.New("too many connections"))

		_, ok := s.cache.Get(s.ctx, "k")
		s.False(ok)
	})
}

func (s *TieredSuite) TestConcurrentL2ReadsShareOneCall() {
	var arrived atomic.Int32
	release := make(chan struct{})
	s.l1.EXPECT().Get(gomock.Any(), "k").DoAndReturn(func(context.Context, string) (models.CacheEntry, error) {
		arrived.Add(1)
		return models.CacheEntry{}, sentinel.ErrNotFound
	}).Times(4)
	s.l2.EXPECT().Get(gomock.Any(), "k").DoAndReturn(func(context.Context, string) (models.CacheEntry, error) {
		<-release
		return models.CacheEntry{Key: "k", Payload: []byte("v"), ExpiresAt: s.now.Add(time.Hour)}, nil
	}).Times(1)
	s.l1.EXPECT().Set(gomock.Any(), "k", []byte("v"), time.Hour).Return(nil).Times(1)

	var (
		wg   sync.WaitGroup
		hits atomic.Int32
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := s.cache.Get(s.ctx, "k"); ok {
				hits.Add(1)
			}
		}()
	}
	s.Require().Eventually(func() bool { return arrived.Load() == 4 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	s.Equal(int32(4), hits.Load())
}

func (s *TieredSuite) TestOpenBreakerSkipsL2() {
	s.l1.EXPECT().Get(gomock.Any(), "k").Return(models.CacheEntry{}, sentinel.ErrNotFound).Times(3)
	s.l2.EXPECT().Get(gomock.Any(), "k").Return(models.CacheEntry{}, errors.New("down")).Times(2)

	for range 3 {
		_, ok := s.cache.Get(s.ctx, "k")
		s.False(ok)
	}
	stats := s.mustStats()
	s.Equal("open", stats.L2Breaker)
}

// =============================================================================
// Writes
// =============================================================================

func (s *TieredSuite) TestSet() {
	s.Run("writes both tiers", func() {
		s.l1.EXPECT().Set(gomock.Any(), "k", []byte("v"), time.Hour).Return(nil)
		s.l2.EXPECT().Set(gomock.Any(), "k", []byte("v"), time.Hour).Return(nil)

		s.NoError(s.cache.Set(s.ctx, "k", []byte("v"), time.Hour))
	})

	s.Run("l1 failure is not raised", func() {
		s.l1.EXPECT().Set(gomock.Any(), "k", []byte("v"), time.Hour).Return(errors.New("oom"))
		s.l2.EXPECT().Set(gomock.Any(), "k", []byte("v"), time.Hour).Return(nil)

		s.NoError(s.cache.Set(s.ctx, "k", []byte("v"), time.Hour))
	})

	s.Run("l2 failure is reported as unavailable", func() {
		s.l1.EXPECT().Set(gomock.Any(), "k", []byte("v"), time.Hour).Return(nil)
		s.l2.EXPECT().Set(gomock.Any(), "k", []byte("v"), time.Hour).Return(errors.New("disk full"))

		err := s.cache.Set(s.ctx, "k", []byte("v"), time.Hour)
		s.ErrorIs(err, sentinel.ErrUnavailable)
	})

	s.Run("non-positive ttl is rejected", func() {
		s.Error(s.cache.Set(s.ctx, "k", []byte("v"), 0))
	})
}

func (s *TieredSuite) TestStoreProfileSkipsProfilesWithoutSources() {
	q, err := models.NewQuery(models.QueryTypeEmail, "jane@example.com")
	s.Require().NoError(err)

	s.NoError(s.cache.StoreProfile(s.ctx, q, &models.ConsolidatedProfile{
		Quality: models.Quality{NoSourcesSucceeded: true},
	}))
}

func (s *TieredSuite) TestStoreProfileUsesQueryTypeTTL() {
	q, err := models.NewQuery(models.QueryTypeEmail, "jane@example.com")
	s.Require().NoError(err)
	key := KeyFor(q)

	s.l1.EXPECT().Set(gomock.Any(), key, gomock.Any(), 6*time.Hour).Return(nil)
	s.l2.EXPECT().Set(gomock.Any(), key, gomock.Any(), 6*time.Hour).Return(nil)

	s.NoError(s.cache.StoreProfile(s.ctx, q, &models.ConsolidatedProfile{Query: q}))
}

// =============================================================================
// Admin
// =============================================================================

func (s *TieredSuite) TestInvalidateAndClear() {
	s.Run("invalidate deletes from both tiers", func() {
		s.l1.EXPECT().Delete(gomock.Any(), "k").Return(nil)
		s.l2.EXPECT().Delete(gomock.Any(), "k").Return(nil)
		s.NoError(s.cache.Invalidate(s.ctx, "k"))
	})

	s.Run("clear reports per-tier counts and joins errors", func() {
		s.l1.EXPECT().DeletePattern(gomock.Any(), "osint:phone:*").Return(int64(3), nil)
		s.l2.EXPECT().DeletePattern(gomock.Any(), "osint:phone:*").Return(int64(0), errors.New("timeout"))

		res, err := s.cache.ClearAll(s.ctx, "osint:phone:*")
		s.Error(err)
		s.Equal(int64(3), res.L1)
	})
}

func (s *TieredSuite) TestStats() {
	s.l1.EXPECT().Get(gomock.Any(), "k").Return(models.CacheEntry{Payload: []byte("v")}, nil)
	_, _ = s.cache.Get(s.ctx, "k")

	stats := s.mustStats()
	s.Equal(int64(1), stats.L1.Hits)
	s.Equal(1.0, stats.L1.HitRate)
	s.Equal(int64(7), stats.TotalKeys)
	s.Require().NotNil(stats.L2)
	s.Equal(int64(4), stats.L2.Keys[models.QueryTypeEmail])
	s.Equal("24h0m0s", stats.PhoneTTL)
}

func (s *TieredSuite) mustStats() Stats {
	s.l1.EXPECT().Count(gomock.Any(), "osint:phone:*").Return(int64(5), nil)
	s.l1.EXPECT().Count(gomock.Any(), "osint:email:*").Return(int64(2), nil)
	s.l2.EXPECT().Count(gomock.Any(), "osint:phone:*").Return(int64(9), nil)
	s.l2.EXPECT().Count(gomock.Any(), "osint:email:*").Return(int64(4), nil)
	stats, err := s.cache.Stats(s.ctx)
	s.Require().NoError(err)
	return stats
}
