package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"osint/internal/lookup/metrics"
	"osint/internal/lookup/models"
	"osint/internal/lookup/providers"
	dErrors "osint/pkg/domain-errors"
)

const tracerName = "osint/lookup/fanout"

// Coordinator invokes adapters concurrently and collects one outcome per
// adapter. It holds no per-query state and is safe for concurrent use.
type Coordinator struct {
	perAdapterTimeout time.Duration
	maxConcurrency    int
	logger            *slog.Logger
	metrics           *metrics.Metrics
	tracer            trace.Tracer
}

type Option func(*Coordinator)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithMaxConcurrency bounds the number of adapter calls in flight per query.
// Zero or negative means unbounded.
func WithMaxConcurrency(n int) Option {
	return func(c *Coordinator) { c.maxConcurrency = n }
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		if t != nil {
			c.tracer = t
		}
	}
}

func New(perAdapterTimeout time.Duration, opts ...Option) (*Coordinator, error) {
	if perAdapterTimeout <= 0 {
		return nil, errors.New("per-adapter timeout must be positive")
	}
	c := &Coordinator{
		perAdapterTimeout: perAdapterTimeout,
		logger:            slog.Default(),
		tracer:            otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Aggregate calls every adapter and returns their outcomes in adapter order.
//
// It waits for every adapter to finish or hit its deadline. Adapter failures
// never fail the aggregate. A deadline on ctx acts as the outer fan-out
// deadline: adapters still running when it passes are recorded as timeouts.
func (c *Coordinator) Aggregate(ctx context.Context, q models.Query, adapters []providers.Adapter) ([]models.ProviderOutcome, error) {
	if !q.Type.IsValid() || q.NormalizedValue == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "query is not normalized")
	}
	if len(adapters) == 0 {
		return nil, dErrors.Wrap(providers.ErrNoAdapters, dErrors.CodeUnavailable,
			fmt.Sprintf("no adapters for %s lookups", q.Type))
	}

	ctx, span := c.tracer.Start(ctx, "fanout.aggregate", trace.WithAttributes(
		attribute.String("query.type", string(q.Type)),
		attribute.Int("adapters", len(adapters)),
	))
	defer span.End()

	start := time.Now()
	outcomes := make([]models.ProviderOutcome, len(adapters))

	var g errgroup.Group
	if c.maxConcurrency > 0 {
		g.SetLimit(c.maxConcurrency)
	}
	for i, adapter := range adapters {
		g.Go(func() error {
			outcomes[i] = c.call(ctx, adapter, q)
			return nil
		})
	}
	_ = g.Wait()

	elapsed := time.Since(start)
	c.metrics.ObserveFanOut(string(q.Type), elapsed)

	failed := 0
	for _, o := range outcomes {
		if !o.Succeeded {
			failed++
		}
	}
	span.SetAttributes(attribute.Int("adapters.failed", failed))
	c.logger.InfoContext(ctx, "fan-out complete",
		"query_type", q.Type,
		"adapters", len(adapters),
		"failed", failed,
		"duration_ms", elapsed.Milliseconds(),
	)
	return outcomes, nil
}

func (c *Coordinator) call(ctx context.Context, adapter providers.Adapter, q models.Query) models.ProviderOutcome {
	callCtx, cancel := context.WithTimeout(ctx, c.timeoutFor(adapter))
	defer cancel()

	callCtx, span := c.tracer.Start(callCtx, "fanout.adapter", trace.WithAttributes(
		attribute.String("source_id", adapter.ID()),
	))
	defer span.End()

	start := time.Now()
	outcome := c.invoke(callCtx, adapter, q)
	if outcome.Latency == 0 {
		outcome.Latency = time.Since(start)
	}

	c.metrics.ObserveProviderCall(adapter.ID(), string(outcome.FailureKind), outcome.Latency)
	if !outcome.Succeeded {
		span.SetStatus(codes.Error, string(outcome.FailureKind))
		c.logger.WarnContext(ctx, "adapter failed",
			"source_id", adapter.ID(),
			"kind", outcome.FailureKind,
			"error", outcome.Error,
			"latency_ms", outcome.LatencyMs(),
		)
	} else {
		c.logger.DebugContext(ctx, "adapter succeeded",
			"source_id", adapter.ID(),
			"latency_ms", outcome.LatencyMs(),
		)
	}
	return outcome
}

// invoke runs the adapter in its own goroutine so neither a panic nor an
// adapter ignoring its context can hold the fan-out past the deadline.
func (c *Coordinator) invoke(ctx context.Context, adapter providers.Adapter, q models.Query) models.ProviderOutcome {
	start := time.Now()
	done := make(chan models.ProviderOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- models.FailedOutcome(adapter.ID(), models.FailureHTTPError,
					fmt.Sprintf("adapter panicked: %v", r), time.Since(start))
			}
		}()
		done <- adapter.Call(ctx, q)
	}()

	select {
	case outcome := <-done:
		return sanitize(adapter.ID(), outcome)
	case <-ctx.Done():
		return models.FailedOutcome(adapter.ID(), models.FailureTimeout, ctx.Err().Error(), time.Since(start))
	}
}

func (c *Coordinator) timeoutFor(adapter providers.Adapter) time.Duration {
	if o, ok := adapter.(providers.TimeoutOverrider); ok && o.Timeout() > 0 {
		return o.Timeout()
	}
	return c.perAdapterTimeout
}

// sanitize attributes the outcome to the adapter and keeps Succeeded,
// Payload and FailureKind consistent.
func sanitize(id string, o models.ProviderOutcome) models.ProviderOutcome {
	o.SourceID = id
	if o.Succeeded {
		o.FailureKind = ""
		return o
	}
	o.Payload = nil
	if o.FailureKind == "" {
		o.FailureKind = models.FailureHTTPError
	}
	return o
}
