package models

import (
	"encoding/json"
	"time"
)

// FailureKind classifies why an adapter produced no payload.
type FailureKind string

const (
	FailureTimeout           FailureKind = "timeout"
	FailureHTTPError         FailureKind = "http_error"
	FailureMalformedResponse FailureKind = "malformed_response"
)

// ProviderOutcome is the result of one adapter call. Failures are data, not errors.
type ProviderOutcome struct {
	SourceID    string          `json:"source_id"`
	Succeeded   bool            `json:"succeeded"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	FailureKind FailureKind     `json:"failure_kind,omitempty"`
	Error       string          `json:"error,omitempty"`
	Latency     time.Duration   `json:"latency_ns"`
}

func (o ProviderOutcome) LatencyMs() int64 {
	return o.Latency.Milliseconds()
}

func SucceededOutcome(sourceID string, payload json.RawMessage, latency time.Duration) ProviderOutcome {
	return ProviderOutcome{
		SourceID:  sourceID,
		Succeeded: true,
		Payload:   payload,
		Latency:   latency,
	}
}

func FailedOutcome(sourceID string, kind FailureKind, reason string, latency time.Duration) ProviderOutcome {
	return ProviderOutcome{
		SourceID:    sourceID,
		FailureKind: kind,
		Error:       reason,
		Latency:     latency,
	}
}
