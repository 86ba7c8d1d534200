package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"osint/internal/lookup/models"
)

const defaultMaxBodyBytes = 4 << 20

// HTTPConfig describes one HTTP-backed source. URL may contain {value} and
// {type} placeholders which are filled from the normalized query.
type HTTPConfig struct {
	ID           string
	URL          string
	Method       string
	Headers      map[string]string
	QueryTypes   []models.QueryType
	Timeout      time.Duration
	HealthURL    string
	MaxBodyBytes int64
}

// HTTPAdapter calls a JSON API over a shared client. The client and its
// connection pool are owned by the caller.
type HTTPAdapter struct {
	cfg    HTTPConfig
	client *http.Client
	now    func() time.Time
}

func NewHTTPAdapter(cfg HTTPConfig, client *http.Client) (*HTTPAdapter, error) {
	if cfg.ID == "" {
		return nil, errors.New("adapter id is required")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("adapter %s: url is required", cfg.ID)
	}
	if len(cfg.QueryTypes) == 0 {
		return nil, fmt.Errorf("adapter %s: at least one query type is required", cfg.ID)
	}
	if client == nil {
		return nil, errors.New("http client is required")
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &HTTPAdapter{cfg: cfg, client: client, now: time.Now}, nil
}

func (a *HTTPAdapter) ID() string { return a.cfg.ID }

func (a *HTTPAdapter) Supports(t models.QueryType) bool {
	return slices.Contains(a.cfg.QueryTypes, t)
}

func (a *HTTPAdapter) Timeout() time.Duration { return a.cfg.Timeout }

func (a *HTTPAdapter) Call(ctx context.Context, q models.Query) models.ProviderOutcome {
	start := a.now()
	payload, err := a.fetch(ctx, q)
	latency := a.now().Sub(start)
	if err != nil {
		return OutcomeFromError(a.cfg.ID, err, latency)
	}
	return models.SucceededOutcome(a.cfg.ID, payload, latency)
}

func (a *HTTPAdapter) fetch(ctx context.Context, q models.Query) (json.RawMessage, error) {
	req, err := a.newRequest(ctx, q)
	if err != nil {
		return nil, NewProviderError(models.FailureHTTPError, a.cfg.ID, "build request", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if IsTimeout(err) || ctx.Err() != nil {
			return nil, NewProviderError(models.FailureTimeout, a.cfg.ID, "request timed out", err)
		}
		return nil, NewProviderError(models.FailureHTTPError, a.cfg.ID, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, a.cfg.MaxBodyBytes))
	if err != nil {
		if IsTimeout(err) || ctx.Err() != nil {
			return nil, NewProviderError(models.FailureTimeout, a.cfg.ID, "reading body timed out", err)
		}
		return nil, NewProviderError(models.FailureHTTPError, a.cfg.ID, "read body", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		pe := NewProviderError(models.FailureHTTPError, a.cfg.ID, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
		pe.StatusCode = resp.StatusCode
		return nil, pe
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, NewProviderError(models.FailureMalformedResponse, a.cfg.ID, "response is not a JSON object", nil)
	}
	return json.RawMessage(trimmed), nil
}

func (a *HTTPAdapter) newRequest(ctx context.Context, q models.Query) (*http.Request, error) {
	target := strings.NewReplacer(
		"{value}", url.QueryEscape(q.NormalizedValue),
		"{type}", string(q.Type),
	).Replace(a.cfg.URL)

	var body io.Reader
	if a.cfg.Method != http.MethodGet {
		encoded, err := json.Marshal(map[string]string{
			"type":  string(q.Type),
			"value": q.NormalizedValue,
		})
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, a.cfg.Method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range a.cfg.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// Health issues a GET against HealthURL when configured.
func (a *HTTPAdapter) Health(ctx context.Context) error {
	if a.cfg.HealthURL == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.HealthURL, nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return NewProviderError(KindOf(err), a.cfg.ID, "health check failed", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return NewProviderError(models.FailureHTTPError, a.cfg.ID, fmt.Sprintf("health status %d", resp.StatusCode), nil)
	}
	return nil
}
