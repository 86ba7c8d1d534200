package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"osint/internal/lookup/models"
)

// ProviderError is a classified adapter failure. Adapters build one internally
// and convert it into a ProviderOutcome before returning.
type ProviderError struct {
	Kind       models.FailureKind
	ProviderID string
	Message    string
	StatusCode int
	Underlying error
}

func (e *ProviderError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("provider %s [%s]: %s: %v", e.ProviderID, e.Kind, e.Message, e.Underlying)
	}
	return fmt.Sprintf("provider %s [%s]: %s", e.ProviderID, e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Underlying
}

func NewProviderError(kind models.FailureKind, providerID, message string, underlying error) *ProviderError {
	return &ProviderError{
		Kind:       kind,
		ProviderID: providerID,
		Message:    message,
		Underlying: underlying,
	}
}

// KindOf classifies err. Deadline and network timeouts are Timeout; anything
// unclassified is treated as an HTTP-level failure.
func KindOf(err error) models.FailureKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if IsTimeout(err) {
		return models.FailureTimeout
	}
	return models.FailureHTTPError
}

func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// OutcomeFromError converts a failure into outcome data.
func OutcomeFromError(providerID string, err error, latency time.Duration) models.ProviderOutcome {
	return models.FailedOutcome(providerID, KindOf(err), err.Error(), latency)
}

var (
	ErrUnsupportedQueryType = errors.New("query type not supported by adapter")
	ErrNoAdapters           = errors.New("no adapters available for this query type")
)
