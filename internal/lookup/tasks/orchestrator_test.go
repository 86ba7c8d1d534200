package tasks

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

	"osint/internal/lookup/events"
	"osint/internal/lookup/models"
	dErrors "osint/pkg/domain-errors"
)

// =============================================================================
// Orchestrator Test Suite
// =============================================================================
// Justification for unit tests: the orchestrator's state machine, at-most-one
// submission per key, retry policy and cancellation are timing-sensitive and
// easiest to pin down with scripted runners and a tiny backoff.

type OrchestratorSuite struct {
	suite.Suite
	recorder *events.Recorder
	logger   *slog.Logger
	phone    models.Query
	email    models.Query
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func (s *OrchestratorSuite) SetupTest() {
	s.recorder = &events.Recorder{}
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	var err error
	s.phone, err = models.NewQuery(models.QueryTypePhone, "+1 412-670-4024")
	s.Require().NoError(err)
	s.email, err = models.NewQuery(models.QueryTypeEmail, "jane@example.com")
	s.Require().NoError(err)
}

func (s *OrchestratorSuite) newOrchestrator(runner Runner, opts ...Option) *Orchestrator {
	cfg := Config{Workers: 2, QueueSize: 8, MaxAttempts: 3, BackoffBase: time.Millisecond, BackoffMax: 5 * time.Millisecond}
	opts = append([]Option{WithLogger(s.logger), WithPublisher(s.recorder)}, opts...)
	o, err := New(runner, cfg, opts...)
	s.Require().NoError(err)
	return o
}

func (s *OrchestratorSuite) start(o *Orchestrator) {
	s.Require().NoError(o.Start(context.Background()))
	s.T().Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = o.Stop(ctx)
	})
}

func (s *OrchestratorSuite) waitFor(o *Orchestrator, id string, state models.TaskState) models.TaskStatus {
	var st models.TaskStatus
	s.Require().Eventually(func() bool {
		var err error
		st, err = o.Status(id)
		return err == nil && st.State == state
	}, 2*time.Second, 2*time.Millisecond, "task %s never reached %s", id, state)
	return st
}

func okProfile(q models.Query) *models.ConsolidatedProfile {
	return &models.ConsolidatedProfile{Query: q, Quality: models.Quality{SourceCount: 1, SucceededSources: []string{"provider_a"}}}
}

// =============================================================================
// Submission
// =============================================================================

func (s *OrchestratorSuite) TestAtMostOneTaskPerKey() {
	release := make(chan struct{})
	o := s.newOrchestrator(func(ctx context.Context, q models.Query, _ func(int)) (*models.ConsolidatedProfile, error) {
		<-release
		return okProfile(q), nil
	})
	s.start(o)

	first, created, err := o.Submit(context.Background(), s.phone)
	s.Require().NoError(err)
	s.True(created)
	s.Equal("/v1/tasks/"+first.TaskID, first.StatusURL)

	again, err := models.NewQuery(models.QueryTypePhone, "14126704024")
	s.Require().NoError(err)
	second, created, err := o.Submit(context.Background(), again)
	s.Require().NoError(err)
	s.False(created)
	s.Equal(first.TaskID, second.TaskID)

	other, created, err := o.Submit(context.Background(), s.email)
	s.Require().NoError(err)
	s.True(created)
	s.NotEqual(first.TaskID, other.TaskID)

	close(release)
	s.waitFor(o, first.TaskID, models.TaskSuccess)

	s.Run("a finished key accepts a new task", func() {
		third, created, err := o.Submit(context.Background(), s.phone)
		s.Require().NoError(err)
		s.True(created)
		s.NotEqual(first.TaskID, third.TaskID)
	})
}

func (s *OrchestratorSuite) TestConcurrentSubmissionsShareOneTask() {
	release := make(chan struct{})
	o := s.newOrchestrator(func(ctx context.Context, q models.Query, _ func(int)) (*models.ConsolidatedProfile, error) {
		<-release
		return okProfile(q), nil
	})
	s.start(o)
	defer close(release)

	var wg sync.WaitGroup
	ids := make([]string, 20)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, _, err := o.Submit(context.Background(), s.phone)
			s.NoError(err)
			ids[i] = h.TaskID
		}()
	}
	wg.Wait()
	for _, id := range ids {
		s.Equal(ids[0], id)
	}
}

func (s *OrchestratorSuite) TestQueueFull() {
	o, err := New(func(context.Context, models.Query, func(int)) (*models.ConsolidatedProfile, error) {
		return nil, nil
	}, Config{QueueSize: 1}, WithLogger(s.logger), WithPublisher(s.recorder))
	s.Require().NoError(err)

	_, _, err = o.Submit(context.Background(), s.phone)
	s.Require().NoError(err)
	_, _, err = o.Submit(context.Background(), s.email)
	s.ErrorIs(err, ErrQueueFull)
	s.Len(o.Counts(), 1, "rejected submissions leave no task behind")
}

func (s *OrchestratorSuite) TestUnknownTask() {
	o := s.newOrchestrator(func(context.Context, models.Query, func(int)) (*models.ConsolidatedProfile, error) {
		return nil, nil
	})
	_, err := o.Status("missing")
	s.ErrorIs(err, ErrTaskNotFound)
	_, err = o.Cancel(context.Background(), "missing")
	s.ErrorIs(err, ErrTaskNotFound)
}

// =============================================================================
// Execution
// =============================================================================

func (s *OrchestratorSuite) TestRetryThenSuccess() {
	var calls atomic.Int32
	o := s.newOrchestrator(func(ctx context.Context, q models.Query, _ func(int)) (*models.ConsolidatedProfile, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("merge exploded")
		}
		return okProfile(q), nil
	})
	s.start(o)

	h, _, err := o.Submit(context.Background(), s.phone)
	s.Require().NoError(err)

	st := s.waitFor(o, h.TaskID, models.TaskSuccess)
	s.Equal(2, st.Attempt)
	s.Equal(models.ProgressComplete, st.Progress)
	s.NotNil(st.Result)
	s.Empty(st.Error)
	s.Equal([]events.Type{
		events.TaskSubmitted,
		events.TaskProcessing,
		events.TaskRetrying,
		events.TaskProcessing,
		events.TaskSucceeded,
	}, s.recorder.Types(h.TaskID))
}

func (s *OrchestratorSuite) TestRetryExhausted() {
	var calls atomic.Int32
	o := s.newOrchestrator(func(context.Context, models.Query, func(int)) (*models.ConsolidatedProfile, error) {
		calls.Add(1)
		return nil, errors.New("upstream gone")
	})
	s.start(o)

	h, _, err := o.Submit(context.Background(), s.email)
	s.Require().NoError(err)

	st := s.waitFor(o, h.TaskID, models.TaskFailure)
	s.Equal(models.TaskErrorRetryExhausted, st.ErrorKind)
	s.Contains(st.Error, "upstream gone")
	s.Equal(3, st.Attempt)
	s.Equal(int32(3), calls.Load())
}

func (s *OrchestratorSuite) TestRunnerPanicIsRetried() {
	var calls atomic.Int32
	o := s.newOrchestrator(func(ctx context.Context, q models.Query, _ func(int)) (*models.ConsolidatedProfile, error) {
		if calls.Add(1) == 1 {
			panic("nil map")
		}
		return okProfile(q), nil
	})
	s.start(o)

	h, _, err := o.Submit(context.Background(), s.phone)
	s.Require().NoError(err)
	s.waitFor(o, h.TaskID, models.TaskSuccess)
}

func (s *OrchestratorSuite) TestProgressNeverDecreases() {
	var calls atomic.Int32
	var taskID atomic.Value
	seen := make(chan int, 1)
	var o *Orchestrator
	o = s.newOrchestrator(func(ctx context.Context, q models.Query, report func(int)) (*models.ConsolidatedProfile, error) {
		if calls.Add(1) == 1 {
			report(models.ProgressFanOutComplete)
			return nil, errors.New("transient")
		}
		report(models.ProgressDispatched)
		for taskID.Load() == nil {
			time.Sleep(time.Millisecond)
		}
		st, err := o.Status(taskID.Load().(string))
		if err != nil {
			return nil, err
		}
		seen <- st.Progress
		return okProfile(q), nil
	})
	s.start(o)

	h, _, err := o.Submit(context.Background(), s.phone)
	s.Require().NoError(err)
	taskID.Store(h.TaskID)

	select {
	case p := <-seen:
		s.Equal(models.ProgressFanOutComplete, p)
	case <-time.After(2 * time.Second):
		s.FailNow("second attempt never ran")
	}
	s.waitFor(o, h.TaskID, models.TaskSuccess)
}

func (s *OrchestratorSuite) TestCacheWrittenBeforeSuccess() {
	var o *Orchestrator
	var taskID atomic.Value
	var stateAtWrite atomic.Value
	// The cache write fails; the task still succeeds.
	o = s.newOrchestrator(func(ctx context.Context, q models.Query, _ func(int)) (*models.ConsolidatedProfile, error) {
		return okProfile(q), nil
	}, WithCache(cacheFunc(func(ctx context.Context, q models.Query, _ *models.ConsolidatedProfile) error {
		for taskID.Load() == nil {
			time.Sleep(time.Millisecond)
		}
		st, err := o.Status(taskID.Load().(string))
		if err == nil {
			stateAtWrite.Store(st.State)
		}
		return errors.New("l2 unavailable")
	})))
	s.start(o)

	h, _, err := o.Submit(context.Background(), s.phone)
	s.Require().NoError(err)
	taskID.Store(h.TaskID)

	s.waitFor(o, h.TaskID, models.TaskSuccess)
	s.Equal(models.TaskProcessing, stateAtWrite.Load())
}

// =============================================================================
// Inline execution
// =============================================================================

type doResult struct {
	profile *models.ConsolidatedProfile
	err     error
}

func (s *OrchestratorSuite) doAsync(ctx context.Context, o *Orchestrator, run Runner) <-chan doResult {
	out := make(chan doResult, 1)
	go func() {
		p, err := o.Do(ctx, s.phone, run)
		out <- doResult{p, err}
	}()
	return out
}

func (s *OrchestratorSuite) receive(ch <-chan doResult) doResult {
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		s.FailNow("inline lookup never returned")
		return doResult{}
	}
}

func (s *OrchestratorSuite) TestDoJoinsQueuedTask() {
	var queued, inline atomic.Int32
	o := s.newOrchestrator(func(ctx context.Context, q models.Query, _ func(int)) (*models.ConsolidatedProfile, error) {
		queued.Add(1)
		return okProfile(q), nil
	})

	h, created, err := o.Submit(context.Background(), s.phone)
	s.Require().NoError(err)
	s.True(created)

	res := s.doAsync(context.Background(), o, func(ctx context.Context, q models.Query, _ func(int)) (*models.ConsolidatedProfile, error) {
		inline.Add(1)
		return okProfile(q), nil
	})
	time.Sleep(20 * time.Millisecond)
	s.start(o)

	r := s.receive(res)
	s.Require().NoError(r.err)
	s.NotNil(r.profile)
	s.Equal(int32(1), queued.Load())
	s.Zero(inline.Load(), "the queued task serves the synchronous caller")
	s.waitFor(o, h.TaskID, models.TaskSuccess)
}

func (s *OrchestratorSuite) TestSubmitReturnsInlineTask() {
	release := make(chan struct{})
	var calls atomic.Int32
	o := s.newOrchestrator(func(ctx context.Context, q models.Query, _ func(int)) (*models.ConsolidatedProfile, error) {
		s.Fail("queued runner must not run while an inline lookup holds the key")
		return okProfile(q), nil
	})
	s.start(o)

	res := s.doAsync(context.Background(), o, func(ctx context.Context, q models.Query, _ func(int)) (*models.ConsolidatedProfile, error) {
		calls.Add(1)
		<-release
		return okProfile(q), nil
	})
	s.Require().Eventually(func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	h, created, err := o.Submit(context.Background(), s.phone)
	s.Require().NoError(err)
	s.False(created)
	st := s.waitFor(o, h.TaskID, models.TaskProcessing)
	s.Equal(1, st.Attempt)

	close(release)
	s.Require().NoError(s.receive(res).err)
	st = s.waitFor(o, h.TaskID, models.TaskSuccess)
	s.NotNil(st.Result)
	s.Equal(int32(1), calls.Load())
}

func (s *OrchestratorSuite) TestConcurrentDoShareOneRun() {
	o := s.newOrchestrator(func(context.Context, models.Query, func(int)) (*models.ConsolidatedProfile, error) {
		return nil, errors.New("unused")
	})
	release := make(chan struct{})
	var calls atomic.Int32
	run := func(ctx context.Context, q models.Query, _ func(int)) (*models.ConsolidatedProfile, error) {
		calls.Add(1)
		<-release
		return okProfile(q), nil
	}

	results := make([]<-chan doResult, 8)
	for i := range results {
		results[i] = s.doAsync(context.Background(), o, run)
	}
	s.Require().Eventually(func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)

	first := s.receive(results[0])
	s.Require().NoError(first.err)
	for _, ch := range results[1:] {
		r := s.receive(ch)
		s.Require().NoError(r.err)
		s.Same(first.profile, r.profile)
	}
	s.Equal(int32(1), calls.Load())
}

func (s *OrchestratorSuite) TestDoFailureIsNotRetried() {
	o := s.newOrchestrator(func(context.Context, models.Query, func(int)) (*models.ConsolidatedProfile, error) {
		return nil, errors.New("unused")
	})
	boom := errors.New("merge exploded")
	var calls atomic.Int32

	_, err := o.Do(context.Background(), s.phone, func(context.Context, models.Query, func(int)) (*models.ConsolidatedProfile, error) {
		calls.Add(1)
		return nil, boom
	})
	s.ErrorIs(err, boom)
	s.Equal(int32(1), calls.Load())
	s.Equal(map[models.TaskState]int{models.TaskFailure: 1}, o.Counts())

	s.Run("the key is free again", func() {
		p, err := o.Do(context.Background(), s.phone, func(ctx context.Context, q models.Query, _ func(int)) (*models.ConsolidatedProfile, error) {
			return okProfile(q), nil
		})
		s.Require().NoError(err)
		s.NotNil(p)
	})
}

func (s *OrchestratorSuite) TestDoCallerGivesUpLookupCompletes() {
	var stored atomic.Bool
	o := s.newOrchestrator(func(context.Context, models.Query, func(int)) (*models.ConsolidatedProfile, error) {
		return nil, errors.New("unused")
	}, WithCache(cacheFunc(func(context.Context, models.Query, *models.ConsolidatedProfile) error {
		stored.Store(true)
		return nil
	})))
	release := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	res := s.doAsync(ctx, o, func(ctx context.Context, q models.Query, _ func(int)) (*models.ConsolidatedProfile, error) {
		<-release
		return okProfile(q), nil
	})
	s.Require().Eventually(func() bool {
		return o.Counts()[models.TaskProcessing] == 1
	}, time.Second, time.Millisecond)
	cancel()

	r := s.receive(res)
	s.True(dErrors.HasCode(r.err, dErrors.CodeTimeout))

	close(release)
	s.Eventually(func() bool {
		return o.Counts()[models.TaskSuccess] == 1 && stored.Load()
	}, time.Second, time.Millisecond)
}

// =============================================================================
// Shutdown
// =============================================================================

func (s *OrchestratorSuite) TestStopFailsQueuedTasks() {
	var calls atomic.Int32
	o := s.newOrchestrator(func(ctx context.Context, q models.Query, _ func(int)) (*models.ConsolidatedProfile, error) {
		calls.Add(1)
		return okProfile(q), nil
	})

	h, _, err := o.Submit(context.Background(), s.phone)
	s.Require().NoError(err)
	s.Require().NoError(o.Stop(context.Background()))

	st, err := o.Status(h.TaskID)
	s.Require().NoError(err)
	s.Equal(models.TaskFailure, st.State)
	s.Equal(models.TaskErrorCancelled, st.ErrorKind)
	s.False(st.CompletedAt.IsZero())
	s.Zero(calls.Load())

	types := s.recorder.Types(h.TaskID)
	s.Require().NotEmpty(types)
	s.Equal(events.TaskCancelled, types[len(types)-1])

	s.Run("a stopped orchestrator takes no new work", func() {
		_, _, err := o.Submit(context.Background(), s.phone)
		s.ErrorIs(err, ErrStopped)
		_, err = o.Do(context.Background(), s.phone, func(ctx context.Context, q models.Query, _ func(int)) (*models.ConsolidatedProfile, error) {
			return okProfile(q), nil
		})
		s.ErrorIs(err, ErrStopped)
		s.ErrorIs(o.Start(context.Background()), ErrStopped)
	})
}

func (s *OrchestratorSuite) TestStopInterruptsInlineLookup() {
	o := s.newOrchestrator(func(context.Context, models.Query, func(int)) (*models.ConsolidatedProfile, error) {
		return nil, errors.New("unused")
	})
	res := s.doAsync(context.Background(), o, func(ctx context.Context, _ models.Query, _ func(int)) (*models.ConsolidatedProfile, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	s.Require().Eventually(func() bool {
		return o.Counts()[models.TaskProcessing] == 1
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Require().NoError(o.Stop(ctx))

	r := s.receive(res)
	s.ErrorIs(r.err, ErrInterrupted)
	s.ErrorIs(r.err, ErrTaskCancelled)
	s.Equal(map[models.TaskState]int{models.TaskFailure: 1}, o.Counts())
}

// =============================================================================
// Cancellation
// =============================================================================

func (s *OrchestratorSuite) TestCancelRunningTask() {
	started := make(chan struct{})
	o := s.newOrchestrator(func(ctx context.Context, _ models.Query, _ func(int)) (*models.ConsolidatedProfile, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	s.start(o)

	h, _, err := o.Submit(context.Background(), s.phone)
	s.Require().NoError(err)
	<-started

	ok, err := o.Cancel(context.Background(), h.TaskID)
	s.Require().NoError(err)
	s.True(ok)

	st, err := o.Status(h.TaskID)
	s.Require().NoError(err)
	s.Equal(models.TaskFailure, st.State)
	s.Equal(models.TaskErrorCancelled, st.ErrorKind)

	s.Run("terminal tasks cannot be cancelled", func() {
		ok, err := o.Cancel(context.Background(), h.TaskID)
		s.NoError(err)
		s.False(ok)
	})

	s.Eventually(func() bool {
		types := s.recorder.Types(h.TaskID)
		return len(types) > 0 && types[len(types)-1] == events.TaskCancelled
	}, time.Second, time.Millisecond)
}

func (s *OrchestratorSuite) TestCancelPendingTaskNeverRuns() {
	var calls atomic.Int32
	o := s.newOrchestrator(func(ctx context.Context, q models.Query, _ func(int)) (*models.ConsolidatedProfile, error) {
		calls.Add(1)
		return okProfile(q), nil
	})

	h, _, err := o.Submit(context.Background(), s.email)
	s.Require().NoError(err)
	ok, err := o.Cancel(context.Background(), h.TaskID)
	s.Require().NoError(err)
	s.True(ok)

	s.start(o)
	s.Never(func() bool { return calls.Load() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	st, _ := o.Status(h.TaskID)
	s.Equal(models.TaskFailure, st.State)
}

func (s *OrchestratorSuite) TestCancelDuringBackoff() {
	o, err := New(func(context.Context, models.Query, func(int)) (*models.ConsolidatedProfile, error) {
		return nil, errors.New("transient")
	}, Config{Workers: 1, MaxAttempts: 5, BackoffBase: time.Hour, BackoffMax: time.Hour},
		WithLogger(s.logger), WithPublisher(s.recorder))
	s.Require().NoError(err)
	s.start(o)

	h, _, err := o.Submit(context.Background(), s.phone)
	s.Require().NoError(err)
	s.waitFor(o, h.TaskID, models.TaskRetry)

	ok, err := o.Cancel(context.Background(), h.TaskID)
	s.Require().NoError(err)
	s.True(ok)
	st, _ := o.Status(h.TaskID)
	s.Equal(models.TaskErrorCancelled, st.ErrorKind)
}

// =============================================================================
// Cleanup
// =============================================================================

func (s *OrchestratorSuite) TestCleanupRemovesOldFinishedTasks() {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	o := s.newOrchestrator(func(ctx context.Context, q models.Query, _ func(int)) (*models.ConsolidatedProfile, error) {
		return okProfile(q), nil
	}, WithClock(clock.Now))
	s.start(o)

	h, _, err := o.Submit(context.Background(), s.phone)
	s.Require().NoError(err)
	s.waitFor(o, h.TaskID, models.TaskSuccess)

	s.Equal(0, o.Cleanup(), "tasks inside the retention window are kept")

	clock.Advance(2 * time.Hour)
	j, err := NewJanitor("@hourly", o,
		WithPurger(&fakePurger{n: 7}),
		WithPurger(&fakePurger{n: 2}),
		WithJanitorLogger(s.logger),
	)
	s.Require().NoError(err)

	res := j.RunOnce(context.Background())
	s.Equal(1, res.TasksRemoved)
	s.Equal(int64(9), res.CacheRowsPurged, "every configured store is swept")

	_, err = o.Status(h.TaskID)
	s.ErrorIs(err, ErrTaskNotFound)
}

func (s *OrchestratorSuite) TestJanitorRejectsBadSchedule() {
	o := s.newOrchestrator(func(context.Context, models.Query, func(int)) (*models.ConsolidatedProfile, error) {
		return nil, nil
	})
	_, err := NewJanitor("every now and then", o)
	s.Error(err)

	j, err := NewJanitor("@hourly", o)
	s.Require().NoError(err)
	j.Start()
	s.NoError(j.Stop(context.Background()))
}

type cacheFunc func(ctx context.Context, q models.Query, p *models.ConsolidatedProfile) error

func (f cacheFunc) StoreProfile(ctx context.Context, q models.Query, p *models.ConsolidatedProfile) error {
	return f(ctx, q, p)
}

type fakePurger struct{ n int64 }

func (f *fakePurger) PurgeExpired(context.Context) (int64, error) { return f.n, nil }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
