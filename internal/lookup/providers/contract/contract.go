package contract

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"osint/internal/lookup/models"
	"osint/internal/lookup/providers"
)

// deadlineSlack is how far past its deadline an adapter may return.
const deadlineSlack = 250 * time.Millisecond

// OutcomeTest defines one adapter call and the outcome it must produce.
type OutcomeTest struct {
	Name          string
	Query         models.Query
	Timeout       time.Duration
	ExpectSuccess bool
	ExpectedKind  models.FailureKind
	ValidateFunc  func(outcome models.ProviderOutcome) error
}

// ContractSuite checks that an adapter honors the adapter contract: outcomes are
// attributed to the adapter, failures are classified, payloads are JSON and
// calls never outlive their deadline.
type ContractSuite struct {
	Adapter providers.Adapter
	Tests   []OutcomeTest
}

// Run executes all contract tests in the suite
func (s *ContractSuite) Run(t *testing.T) {
	for _, test := range s.Tests {
		t.Run(test.Name, func(t *testing.T) {
			timeout := test.Timeout
			if timeout == 0 {
				timeout = 2 * time.Second
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			start := time.Now()
			outcome := s.Adapter.Call(ctx, test.Query)
			elapsed := time.Since(start)

			if elapsed > timeout+deadlineSlack {
				t.Errorf("call took %s, deadline was %s", elapsed, timeout)
			}
			if outcome.SourceID != s.Adapter.ID() {
				t.Errorf("expected source id %s, got %s", s.Adapter.ID(), outcome.SourceID)
			}
			if outcome.Succeeded != test.ExpectSuccess {
				t.Fatalf("expected succeeded=%v, got %v (kind=%s err=%s)",
					test.ExpectSuccess, outcome.Succeeded, outcome.FailureKind, outcome.Error)
			}

			if outcome.Succeeded {
				if outcome.FailureKind != "" {
					t.Errorf("successful outcome carries failure kind %s", outcome.FailureKind)
				}
				if !json.Valid(outcome.Payload) {
					t.Errorf("successful outcome payload is not valid JSON")
				}
			} else {
				if outcome.FailureKind != test.ExpectedKind {
					t.Errorf("expected failure kind %s, got %s", test.ExpectedKind, outcome.FailureKind)
				}
				if outcome.Payload != nil {
					t.Errorf("failed outcome carries a payload")
				}
			}

			if test.ValidateFunc != nil {
				if err := test.ValidateFunc(outcome); err != nil {
					t.Errorf("custom validation failed: %v", err)
				}
			}
		})
	}
}

// RoutingTest validates the query types an adapter declares.
type RoutingTest struct {
	Adapter     providers.Adapter
	Supported   []models.QueryType
	Unsupported []models.QueryType
}

func (rt *RoutingTest) Run(t *testing.T) {
	for _, qt := range rt.Supported {
		if !rt.Adapter.Supports(qt) {
			t.Errorf("adapter %s should support %s", rt.Adapter.ID(), qt)
		}
	}
	for _, qt := range rt.Unsupported {
		if rt.Adapter.Supports(qt) {
			t.Errorf("adapter %s should not support %s", rt.Adapter.ID(), qt)
		}
	}
}
