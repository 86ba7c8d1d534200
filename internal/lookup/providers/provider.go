package providers

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"osint/internal/lookup/models"
)

// Adapter is implemented by every data source.
//
// Call must return within the context deadline and must never return a
// transport error: failures are reported in the outcome. Adapters are
// single-shot; retries belong to the task orchestrator.
type Adapter interface {
	// ID is the stable source identifier recorded in outcomes and record sources.
	ID() string

	// Supports reports whether the adapter serves this query type.
	Supports(t models.QueryType) bool

	Call(ctx context.Context, q models.Query) models.ProviderOutcome
}

// TimeoutOverrider is implemented by adapters that need a deadline different
// from the coordinator's default.
type TimeoutOverrider interface {
	Timeout() time.Duration
}

// HealthChecker is implemented by adapters that can check their upstream.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Registry holds the configured adapters keyed by ID.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter. IDs must be unique.
func (r *Registry) Register(a Adapter) error {
	if a == nil || a.ID() == "" {
		return fmt.Errorf("adapter id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[a.ID()]; exists {
		return fmt.Errorf("adapter %s already registered", a.ID())
	}
	r.adapters[a.ID()] = a
	return nil
}

func (r *Registry) Get(id string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	return a, ok
}

// For returns the adapters serving t, sorted by ID.
func (r *Registry) For(t models.QueryType) []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		if a.Supports(t) {
			out = append(out, a)
		}
	}
	sortByID(out)
	return out
}

// All returns every adapter sorted by ID.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	sortByID(out)
	return out
}

// Health checks every adapter implementing HealthChecker. Adapters without
// a check are reported healthy.
func (r *Registry) Health(ctx context.Context) map[string]error {
	results := make(map[string]error)
	for _, a := range r.All() {
		if hc, ok := a.(HealthChecker); ok {
			results[a.ID()] = hc.Health(ctx)
			continue
		}
		results[a.ID()] = nil
	}
	return results
}

func sortByID(adapters []Adapter) {
	sort.Slice(adapters, func(i, j int) bool { return adapters[i].ID() < adapters[j].ID() })
}
