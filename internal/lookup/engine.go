// Package lookup ties the lookup pipeline together: normalize the query,
// consult the tiered cache, fan out to adapters, merge, cache the result.
// Lookups run inline or as background tasks.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"osint/internal/lookup/cache"
	"osint/internal/lookup/events"
	"osint/internal/lookup/fanout"
	"osint/internal/lookup/merge"
	"osint/internal/lookup/metrics"
	"osint/internal/lookup/models"
	"osint/internal/lookup/providers"
	"osint/internal/lookup/tasks"
	dErrors "osint/pkg/domain-errors"
)

var (
	ErrInvalidQuery   = dErrors.New(dErrors.CodeInvalidInput, "invalid query")
	ErrInvalidPattern = dErrors.New(dErrors.CodeInvalidInput, "pattern must target lookup keys")
)

type SubmitOptions struct {
	Synchronous bool
	// Timeout bounds the fan-out of a synchronous lookup. Zero uses the
	// engine's outer timeout. A caller that joins a lookup already running for
	// the same query waits for that lookup, which keeps the bound it started
	// with; the caller's context still limits how long it waits.
	Timeout time.Duration
	// ForceRefresh skips the cache read; the result is still cached.
	ForceRefresh bool
}

// SubmitResult carries a profile for synchronous lookups and cache hits, and a
// task handle otherwise.
type SubmitResult struct {
	Profile   *models.ConsolidatedProfile `json:"profile,omitempty"`
	FromCache bool                        `json:"from_cache"`
	Task      *models.TaskHandle          `json:"task,omitempty"`
}

type Stats struct {
	Cache     cache.Stats              `json:"cache"`
	Tasks     map[models.TaskState]int `json:"tasks"`
	Providers []string                 `json:"providers"`
}

type Engine struct {
	registry     *providers.Registry
	coordinator  *fanout.Coordinator
	merger       *merge.Merger
	cache        *cache.Tiered
	tasks        *tasks.Orchestrator
	logger       *slog.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
	outerTimeout time.Duration

	taskConfig tasks.Config
	publisher  events.Publisher
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithMerger(m *merge.Merger) Option {
	return func(e *Engine) {
		if m != nil {
			e.merger = m
		}
	}
}

// WithOuterTimeout bounds every fan-out. Adapters still running at the
// deadline are reported as timed out and the profile is built from the rest.
func WithOuterTimeout(d time.Duration) Option {
	return func(e *Engine) { e.outerTimeout = d }
}

func WithTaskConfig(cfg tasks.Config) Option {
	return func(e *Engine) { e.taskConfig = cfg }
}

func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(registry *providers.Registry, coordinator *fanout.Coordinator, tiered *cache.Tiered, opts ...Option) (*Engine, error) {
	if registry == nil {
		return nil, errors.New("provider registry is required")
	}
	if coordinator == nil {
		return nil, errors.New("fan-out coordinator is required")
	}
	if tiered == nil {
		return nil, errors.New("cache is required")
	}
	e := &Engine{
		registry:    registry,
		coordinator: coordinator,
		merger:      merge.New(),
		cache:       tiered,
		logger:      slog.Default(),
		now:         time.Now,
		taskConfig:  tasks.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}

	orchestrator, err := tasks.New(e.runTask, e.taskConfig,
		tasks.WithLogger(e.logger),
		tasks.WithMetrics(e.metrics),
		tasks.WithCache(e.cache),
		tasks.WithPublisher(e.publisher),
	)
	if err != nil {
		return nil, fmt.Errorf("create task orchestrator: %w", err)
	}
	e.tasks = orchestrator
	return e, nil
}

// Start launches the background workers.
func (e *Engine) Start(ctx context.Context) error {
	return e.tasks.Start(ctx)
}

func (e *Engine) Stop(ctx context.Context) error {
	return e.tasks.Stop(ctx)
}

// Tasks exposes the orchestrator for scheduled cleanup.
func (e *Engine) Tasks() *tasks.Orchestrator {
	return e.tasks
}

// SubmitQuery validates the query and serves it from cache when possible.
// Otherwise a synchronous submission runs the lookup inline and an
// asynchronous one returns a task handle.
func (e *Engine) SubmitQuery(ctx context.Context, qt models.QueryType, raw string, opts SubmitOptions) (*SubmitResult, error) {
	q, err := newQuery(qt, raw)
	if err != nil {
		return nil, err
	}

	if !opts.ForceRefresh {
		if p, ok := e.cache.LoadProfile(ctx, q); ok {
			e.logger.DebugContext(ctx, "lookup served from cache", "query_type", q.Type)
			return &SubmitResult{Profile: p, FromCache: true}, nil
		}
	}

	if opts.Synchronous {
		p, err := e.lookupNow(ctx, q, opts.Timeout)
		if err != nil {
			return nil, err
		}
		return &SubmitResult{Profile: p}, nil
	}

	handle, _, err := e.tasks.Submit(ctx, q)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{Task: &handle}, nil
}

// newQuery normalizes raw and puts ErrInvalidQuery in the chain of any
// validation failure.
func newQuery(qt models.QueryType, raw string) (models.Query, error) {
	q, err := models.NewQuery(qt, raw)
	if err != nil {
		return models.Query{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid query")
	}
	return q, nil
}

// lookupNow runs the lookup inline in the key's task slot. Concurrent
// synchronous callers and any queued task for the same key share one
// execution, which the orchestrator caches on success.
func (e *Engine) lookupNow(ctx context.Context, q models.Query, timeout time.Duration) (*models.ConsolidatedProfile, error) {
	if timeout <= 0 {
		timeout = e.outerTimeout
	}
	return e.tasks.Do(ctx, q, func(ctx context.Context, q models.Query, report func(int)) (*models.ConsolidatedProfile, error) {
		return e.run(ctx, q, timeout, report)
	})
}

func (e *Engine) runTask(ctx context.Context, q models.Query, report func(int)) (*models.ConsolidatedProfile, error) {
	return e.run(ctx, q, e.outerTimeout, report)
}

// run is one pass of fan-out and merge. timeout bounds the fan-out only.
func (e *Engine) run(ctx context.Context, q models.Query, timeout time.Duration, report func(int)) (*models.ConsolidatedProfile, error) {
	if report == nil {
		report = func(int) {}
	}
	adapters := e.registry.For(q.Type)

	fanCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		fanCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	report(models.ProgressDispatched)
	outcomes, err := e.coordinator.Aggregate(fanCtx, q, adapters)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	report(models.ProgressFanOutComplete)

	p := e.merger.Consolidate(q, outcomes)
	p.GeneratedAt = e.now()
	report(models.ProgressMergeComplete)

	e.logger.InfoContext(ctx, "lookup completed",
		"query_type", q.Type,
		"sources", p.Quality.SourceCount,
		"failed", p.Quality.ProviderFailureCount,
		"confidence", p.Quality.OverallConfidence,
	)
	return p, nil
}

func (e *Engine) GetTaskStatus(id string) (models.TaskStatus, error) {
	return e.tasks.Status(id)
}

// CancelTask returns false when the task already finished.
func (e *Engine) CancelTask(ctx context.Context, id string) (bool, error) {
	return e.tasks.Cancel(ctx, id)
}

func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	cs, err := e.cache.Stats(ctx)
	s := Stats{Cache: cs, Tasks: e.tasks.Counts()}
	for _, a := range e.registry.All() {
		s.Providers = append(s.Providers, a.ID())
	}
	return s, err
}

// Invalidate drops the cached profile for (qt, raw) from both tiers.
func (e *Engine) Invalidate(ctx context.Context, qt models.QueryType, raw string) error {
	q, err := newQuery(qt, raw)
	if err != nil {
		return err
	}
	return e.cache.Invalidate(ctx, cache.KeyFor(q))
}

// ClearAll removes every cached profile matching pattern. An empty pattern
// clears all lookups.
func (e *Engine) ClearAll(ctx context.Context, pattern string) (cache.ClearResult, error) {
	if pattern == "" {
		pattern = cache.AllPattern
	}
	if !strings.HasPrefix(pattern, strings.TrimSuffix(cache.AllPattern, "*")) {
		return cache.ClearResult{}, ErrInvalidPattern
	}
	res, err := e.cache.ClearAll(ctx, pattern)
	if err != nil {
		return res, err
	}
	e.logger.InfoContext(ctx, "cache cleared", "pattern", pattern, "l1", res.L1, "l2", res.L2)
	return res, nil
}

// ProviderHealth maps adapter id to an error message, empty when healthy.
func (e *Engine) ProviderHealth(ctx context.Context) map[string]string {
	out := make(map[string]string)
	for id, err := range e.registry.Health(ctx) {
		if err != nil {
			out[id] = err.Error()
			continue
		}
		out[id] = ""
	}
	return out
}
