package providers

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"osint/internal/lookup/models"
)

// LookupFunc produces a raw JSON payload for a query.
type LookupFunc func(ctx context.Context, q models.Query) (json.RawMessage, error)

// FuncAdapter adapts a LookupFunc to Adapter. It enforces the deadline itself so
// a LookupFunc that ignores ctx still cannot block the coordinator.
type FuncAdapter struct {
	id      string
	types   []models.QueryType
	fn      LookupFunc
	timeout time.Duration
}

type FuncOption func(*FuncAdapter)

func WithTimeout(d time.Duration) FuncOption {
	return func(a *FuncAdapter) { a.timeout = d }
}

func NewFuncAdapter(id string, types []models.QueryType, fn LookupFunc, opts ...FuncOption) *FuncAdapter {
	a := &FuncAdapter{id: id, types: types, fn: fn}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *FuncAdapter) ID() string { return a.id }

func (a *FuncAdapter) Supports(t models.QueryType) bool { return slices.Contains(a.types, t) }

func (a *FuncAdapter) Timeout() time.Duration { return a.timeout }

func (a *FuncAdapter) Call(ctx context.Context, q models.Query) models.ProviderOutcome {
	start := time.Now()
	type result struct {
		payload json.RawMessage
		err     error
	}
	done := make(chan result, 1)
	go func() {
		p, err := a.fn(ctx, q)
		done <- result{payload: p, err: err}
	}()

	select {
	case r := <-done:
		latency := time.Since(start)
		if r.err != nil {
			return OutcomeFromError(a.id, r.err, latency)
		}
		if !json.Valid(r.payload) {
			return models.FailedOutcome(a.id, models.FailureMalformedResponse, "payload is not valid JSON", latency)
		}
		return models.SucceededOutcome(a.id, r.payload, latency)
	case <-ctx.Done():
		return models.FailedOutcome(a.id, models.FailureTimeout, ctx.Err().Error(), time.Since(start))
	}
}
