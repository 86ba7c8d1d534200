// Package tasks runs lookups in the background. At most one task is in flight
// per cache key, whether it was queued or is running inline for a synchronous
// caller; failed queued attempts are retried with exponential backoff on the
// same worker, and a task can be cancelled while pending or processing.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"osint/internal/lookup/cache"
	"osint/internal/lookup/events"
	"osint/internal/lookup/metrics"
	"osint/internal/lookup/models"
	dErrors "osint/pkg/domain-errors"
)

// Runner performs one attempt of a lookup. report raises the task's progress.
type Runner func(ctx context.Context, q models.Query, report func(progress int)) (*models.ConsolidatedProfile, error)

// ProfileCache receives successful results before the task is marked done.
type ProfileCache interface {
	StoreProfile(ctx context.Context, q models.Query, p *models.ConsolidatedProfile) error
}

type Config struct {
	Workers         int
	QueueSize       int
	MaxAttempts     int
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	Retention       time.Duration
	StatusURLPrefix string
}

func DefaultConfig() Config {
	return Config{
		Workers:         4,
		QueueSize:       256,
		MaxAttempts:     3,
		BackoffBase:     2 * time.Second,
		BackoffMax:      time.Minute,
		Retention:       time.Hour,
		StatusURLPrefix: "/v1/tasks/",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = max(d.BackoffMax, c.BackoffBase)
	}
	if c.Retention <= 0 {
		c.Retention = d.Retention
	}
	if c.StatusURLPrefix == "" {
		c.StatusURLPrefix = d.StatusURLPrefix
	}
	return c
}

type Orchestrator struct {
	cfg       Config
	runner    Runner
	cache     ProfileCache
	publisher events.Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	newID     func() string

	reg   *registry
	queue chan string

	// root is cancelled by Stop or when the context given to Start ends.
	root context.Context
	stop context.CancelFunc

	// mu orders Stop against enqueues and inline starts.
	mu      sync.Mutex
	started bool
	stopped bool
	workers sync.WaitGroup
	inline  sync.WaitGroup
}

type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithCache(c ProfileCache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.publisher = p
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) { o.newID = gen }
}

func New(runner Runner, cfg Config, opts ...Option) (*Orchestrator, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	cfg = cfg.withDefaults()
	o := &Orchestrator{
		cfg:    cfg,
		runner: runner,
		logger: slog.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
		reg:    newRegistry(),
		queue:  make(chan string, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.publisher == nil {
		o.publisher = events.NewLogPublisher(o.logger)
	}
	o.root, o.stop = context.WithCancel(context.Background())
	return o, nil
}

// Start launches the worker pool. Workers stop when ctx is cancelled or Stop
// is called.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return errors.New("task orchestrator already started")
	}
	if o.stopped {
		return ErrStopped
	}
	o.started = true
	context.AfterFunc(ctx, o.stop)
	for range o.cfg.Workers {
		o.workers.Add(1)
		go o.work()
	}
	o.logger.Info("task orchestrator started", "workers", o.cfg.Workers, "queue_size", o.cfg.QueueSize)
	return nil
}

// Stop interrupts running attempts, fails queued tasks as cancelled and waits
// for workers and inline lookups to exit.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	o.stopped = true
	o.mu.Unlock()
	o.stop()
	o.drain()

	done := make(chan struct{})
	go func() {
		o.workers.Wait()
		o.inline.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit registers a task for q, or returns the in-flight task for the same
// cache key. created reports whether a new task was queued.
func (o *Orchestrator) Submit(ctx context.Context, q models.Query) (handle models.TaskHandle, created bool, err error) {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return models.TaskHandle{}, false, ErrStopped
	}
	task, created := o.reg.createOrGet(o.newTask(q))
	if created {
		select {
		case o.queue <- task.ID:
		default:
			o.reg.discard(task.ID)
			o.mu.Unlock()
			return models.TaskHandle{}, false, ErrQueueFull
		}
	}
	o.mu.Unlock()

	if !created {
		o.logger.DebugContext(ctx, "returning in-flight task", "task_id", task.ID)
		return o.handle(task), false, nil
	}
	o.metrics.IncTasksInFlight()
	o.record(ctx, events.TaskSubmitted, task)
	return o.handle(task), true, nil
}

// Do runs a single attempt of q inline under the same per-key slot as queued
// tasks and waits for its profile. When a task for the key is already in
// flight, Do waits for that task instead of starting another execution.
//
// The execution is detached from ctx. A caller whose ctx ends first gets a
// CodeTimeout error while the lookup finishes and is cached for later callers.
func (o *Orchestrator) Do(ctx context.Context, q models.Query, run Runner) (*models.ConsolidatedProfile, error) {
	if run == nil {
		return nil, errors.New("runner is required")
	}
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return nil, ErrStopped
	}
	task, created := o.reg.createOrGet(o.newTask(q))
	if created {
		o.inline.Add(1)
	}
	o.mu.Unlock()

	if created {
		o.metrics.IncTasksInFlight()
		o.record(ctx, events.TaskSubmitted, task)
		go o.runInline(context.WithoutCancel(ctx), task.ID, run)
	} else {
		o.logger.DebugContext(ctx, "joining in-flight task", "task_id", task.ID, "state", string(task.State))
	}
	return o.wait(ctx, task.ID)
}

func (o *Orchestrator) newTask(q models.Query) models.Task {
	now := o.now()
	return models.Task{
		ID:        o.newID(),
		Key:       cache.KeyFor(q),
		Query:     q,
		State:     models.TaskPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// wait blocks until id finishes or ctx ends.
func (o *Orchestrator) wait(ctx context.Context, id string) (*models.ConsolidatedProfile, error) {
	done, ok := o.reg.doneCh(id)
	if !ok {
		return nil, ErrTaskNotFound
	}
	select {
	case <-done:
	case <-ctx.Done():
		return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "lookup abandoned by caller")
	}
	task, ok, cause := o.reg.outcome(id)
	switch {
	case !ok:
		return nil, ErrTaskNotFound
	case task.State == models.TaskSuccess:
		return task.Result, nil
	case cause != nil:
		return nil, cause
	default:
		return nil, errors.New(task.Error)
	}
}

func (o *Orchestrator) handle(t models.Task) models.TaskHandle {
	return models.TaskHandle{TaskID: t.ID, StatusURL: o.cfg.StatusURLPrefix + t.ID}
}

func (o *Orchestrator) Status(id string) (models.TaskStatus, error) {
	t, ok := o.reg.get(id)
	if !ok {
		return models.TaskStatus{}, ErrTaskNotFound
	}
	return t.Status(), nil
}

// Cancel interrupts a pending or processing task. It returns false for tasks
// that already finished.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (bool, error) {
	task, cancelled, err := o.reg.cancel(id, o.now())
	if err != nil || !cancelled {
		return false, err
	}
	o.logger.InfoContext(ctx, "task cancelled", "task_id", id)
	o.record(ctx, events.TaskCancelled, task)
	return true, nil
}

// Cleanup removes finished tasks older than the retention window.
func (o *Orchestrator) Cleanup() int {
	return o.reg.removeCompletedBefore(o.now().Add(-o.cfg.Retention))
}

// Counts reports the number of retained tasks per state.
func (o *Orchestrator) Counts() map[models.TaskState]int {
	return o.reg.counts()
}

func (o *Orchestrator) work() {
	defer o.workers.Done()
	for {
		select {
		case <-o.root.Done():
			return
		case id := <-o.queue:
			if o.root.Err() != nil {
				o.interrupted(id)
				return
			}
			o.run(id)
		}
	}
}

// drain fails every task still waiting in the queue.
func (o *Orchestrator) drain() {
	for {
		select {
		case id := <-o.queue:
			o.interrupted(id)
		default:
			return
		}
	}
}

// runInline executes one attempt for a synchronous caller. It is interrupted
// by Cancel and by Stop but not by the caller going away.
func (o *Orchestrator) runInline(ctx context.Context, id string, run Runner) {
	defer o.inline.Done()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopOnShutdown := context.AfterFunc(o.root, cancel)
	defer stopOnShutdown()
	if !o.reg.setCancel(id, cancel) {
		return
	}

	task, ok := o.reg.transition(id, models.TaskProcessing, o.now(), func(t *models.Task) {
		t.Attempt = 1
		t.Progress = max(t.Progress, models.ProgressDispatched)
	})
	if !ok {
		return
	}
	o.record(ctx, events.TaskProcessing, task)

	profile, err := o.attempt(ctx, id, task.Query, run)
	switch {
	case err == nil:
		o.succeed(ctx, id, task.Query, profile)
	case ctx.Err() != nil:
		o.interrupted(id)
	default:
		task, ok := o.reg.fail(id, o.now(), models.TaskErrorFailed, err.Error(), err)
		if !ok {
			return
		}
		o.logger.WarnContext(ctx, "inline lookup failed", "task_id", id, "error", err)
		o.record(ctx, events.TaskFailed, task)
	}
}

func (o *Orchestrator) run(id string) {
	ctx, cancel := context.WithCancel(o.root)
	defer cancel()
	if !o.reg.setCancel(id, cancel) {
		return
	}

	bo := o.newBackOff()
	for attempt := 1; ; attempt++ {
		task, ok := o.reg.transition(id, models.TaskProcessing, o.now(), func(t *models.Task) {
			t.Attempt = attempt
			t.Progress = max(t.Progress, models.ProgressDispatched)
		})
		if !ok {
			return
		}
		o.record(ctx, events.TaskProcessing, task)

		profile, err := o.attempt(ctx, id, task.Query, o.runner)
		if err == nil {
			o.succeed(ctx, id, task.Query, profile)
			return
		}
		if ctx.Err() != nil {
			o.interrupted(id)
			return
		}
		if attempt >= o.cfg.MaxAttempts {
			o.exhaust(ctx, id, err)
			return
		}

		task, ok = o.reg.transition(id, models.TaskRetry, o.now(), func(t *models.Task) {
			t.Error = err.Error()
		})
		if !ok {
			return
		}
		wait := bo.NextBackOff()
		o.logger.WarnContext(ctx, "task attempt failed, retrying",
			"task_id", id,
			"attempt", attempt,
			"backoff", wait,
			"error", err,
		)
		o.record(ctx, events.TaskRetrying, task)
		if !sleep(ctx, wait) {
			o.interrupted(id)
			return
		}
	}
}

func (o *Orchestrator) attempt(ctx context.Context, id string, q models.Query, run Runner) (profile *models.ConsolidatedProfile, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task runner panicked: %v", r)
		}
	}()
	profile, err = run(ctx, q, func(p int) {
		o.reg.progress(id, p, o.now())
	})
	if err == nil && profile == nil {
		err = errors.New("task runner returned no profile")
	}
	return profile, err
}

func (o *Orchestrator) succeed(ctx context.Context, id string, q models.Query, profile *models.ConsolidatedProfile) {
	o.reg.progress(id, models.ProgressMergeComplete, o.now())
	if o.cache != nil {
		if err := o.cache.StoreProfile(ctx, q, profile); err != nil {
			o.logger.WarnContext(ctx, "cache write failed for task result", "task_id", id, "error", err)
		}
	}
	o.reg.progress(id, models.ProgressCacheWriteDone, o.now())

	task, ok := o.reg.transition(id, models.TaskSuccess, o.now(), func(t *models.Task) {
		t.Result = profile
		t.Progress = models.ProgressComplete
		t.Error = ""
		t.ErrorKind = models.TaskErrorNone
	})
	if !ok {
		return
	}
	o.logger.InfoContext(ctx, "task succeeded", "task_id", id, "attempt", task.Attempt)
	o.record(ctx, events.TaskSucceeded, task)
}

func (o *Orchestrator) exhaust(ctx context.Context, id string, lastErr error) {
	cause := fmt.Errorf("%w: %w", ErrTaskRetryExhausted, lastErr)
	task, ok := o.reg.fail(id, o.now(), models.TaskErrorRetryExhausted, cause.Error(), cause)
	if !ok {
		return
	}
	o.logger.ErrorContext(ctx, "task failed", "task_id", id, "attempts", task.Attempt, "error", lastErr)
	o.record(ctx, events.TaskFailed, task)
}

// interrupted finalizes a task whose context ended or that was still queued at
// shutdown. User cancellation has already moved it to Failure; anything else
// is a shutdown.
func (o *Orchestrator) interrupted(id string) {
	task, ok := o.reg.fail(id, o.now(), models.TaskErrorCancelled, "interrupted by shutdown", ErrInterrupted)
	if !ok {
		return
	}
	o.logger.Warn("task interrupted", "task_id", id)
	o.record(context.Background(), events.TaskCancelled, task)
}

func (o *Orchestrator) record(ctx context.Context, t events.Type, task models.Task) {
	o.metrics.RecordTaskTransition(string(task.State))
	if task.State.IsTerminal() {
		o.metrics.DecTasksInFlight()
	}
	if err := o.publisher.Publish(ctx, events.FromTask(t, task)); err != nil {
		o.logger.WarnContext(ctx, "task event publish failed", "task_id", task.ID, "event", string(t), "error", err)
	}
}

func (o *Orchestrator) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.cfg.BackoffBase
	b.MaxInterval = o.cfg.BackoffMax
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
