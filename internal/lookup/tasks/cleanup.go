package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// ExpiredPurger removes expired entries from a cache store.
type ExpiredPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type CleanupResult struct {
	TasksRemoved    int
	CacheRowsPurged int64
}

// Janitor periodically drops finished tasks past retention and purges
// expired cache entries.
type Janitor struct {
	cron         *cron.Cron
	orchestrator *Orchestrator
	purgers      []ExpiredPurger
	logger       *slog.Logger
	timeout      time.Duration
}

type JanitorOption func(*Janitor)

// WithPurger adds a store to sweep on every run. It may be given more than once.
func WithPurger(p ExpiredPurger) JanitorOption {
	return func(j *Janitor) {
		if p != nil {
			j.purgers = append(j.purgers, p)
		}
	}
}

func WithJanitorLogger(logger *slog.Logger) JanitorOption {
	return func(j *Janitor) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// NewJanitor schedules cleanup with a standard cron expression or descriptor
// such as "@hourly".
func NewJanitor(schedule string, o *Orchestrator, opts ...JanitorOption) (*Janitor, error) {
	if o == nil {
		return nil, errors.New("orchestrator is required")
	}
	j := &Janitor{
		cron:         cron.New(),
		orchestrator: o,
		logger:       slog.Default(),
		timeout:      time.Minute,
	}
	for _, opt := range opts {
		opt(j)
	}
	if _, err := j.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
		defer cancel()
		j.RunOnce(ctx)
	}); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	return j, nil
}

func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop prevents further runs and waits for a running cleanup to finish.
func (j *Janitor) Stop(ctx context.Context) error {
	done := j.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Janitor) RunOnce(ctx context.Context) CleanupResult {
	res := CleanupResult{TasksRemoved: j.orchestrator.Cleanup()}
	for _, p := range j.purgers {
		n, err := p.PurgeExpired(ctx)
		if err != nil {
			j.logger.WarnContext(ctx, "purge expired cache entries failed", "error", err)
		}
		res.CacheRowsPurged += n
	}
	j.logger.InfoContext(ctx, "cleanup completed",
		"tasks_removed", res.TasksRemoved,
		"cache_rows_purged", res.CacheRowsPurged,
	)
	return res
}
