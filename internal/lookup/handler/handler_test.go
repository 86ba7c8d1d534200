package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"osint/internal/lookup"
	"osint/internal/lookup/cache"
	"osint/internal/lookup/handler/mocks"
	"osint/internal/lookup/models"
	"osint/internal/lookup/tasks"
	"osint/internal/platform/metrics"
	dErrors "osint/pkg/domain-errors"
)

// =============================================================================
// Handler Test Suite
// =============================================================================
// Justification for unit tests: the handler owns request validation, status
// code mapping and admin protection. The engine is mocked; its behavior is
// covered in the lookup package.

const adminToken = "test-admin-token"

type HandlerSuite struct {
	suite.Suite
	ctrl   *gomock.Controller
	svc    *mocks.MockService
	router http.Handler
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.svc = mocks.NewMockService(s.ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	s.router = NewRouter(New(s.svc, logger, adminToken), WithHTTPMetrics(metrics.New(reg), reg))
}

func (s *HandlerSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *HandlerSuite) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// =============================================================================
// Lookups
// =============================================================================

func (s *HandlerSuite) TestSubmitSynchronous() {
	profile := &models.ConsolidatedProfile{Identity: models.Identity{PrimaryName: "Jane Doe"}}
	s.svc.EXPECT().SubmitQuery(gomock.Any(), models.QueryTypePhone, "+1 412-670-4024", lookup.SubmitOptions{
		Synchronous: true,
		Timeout:     10 * time.Second,
	}).Return(&lookup.SubmitResult{Profile: profile}, nil)

	rec := s.do(http.MethodPost, "/v1/lookups", LookupRequest{
		Type: "phone", Value: "+1 412-670-4024", Synchronous: true, TimeoutSeconds: 10,
	})

	s.Equal(http.StatusOK, rec.Code)
	var resp map[string]any
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Equal(false, resp["from_cache"])
	s.Equal("Jane Doe", resp["profile"].(map[string]any)["identity"].(map[string]any)["primary_name"])
}

func (s *HandlerSuite) TestSubmitAsynchronous() {
	s.svc.EXPECT().SubmitQuery(gomock.Any(), models.QueryTypeEmail, "jane@example.com", gomock.Any()).
		Return(&lookup.SubmitResult{Task: &models.TaskHandle{TaskID: "t-1", StatusURL: "/v1/tasks/t-1"}}, nil)

	rec := s.do(http.MethodPost, "/v1/lookups", LookupRequest{Type: "email", Value: "jane@example.com"})

	s.Equal(http.StatusAccepted, rec.Code)
	s.Equal("/v1/tasks/t-1", rec.Header().Get("Location"))
	s.Contains(rec.Body.String(), `"task_id":"t-1"`)
}

func (s *HandlerSuite) TestSubmitValidation() {
	s.Run("malformed json", func() {
		req := httptest.NewRequest(http.MethodPost, "/v1/lookups", strings.NewReader("{"))
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("unknown query type", func() {
		rec := s.do(http.MethodPost, "/v1/lookups", LookupRequest{Type: "fax", Value: "123"})
		s.Equal(http.StatusBadRequest, rec.Code)
		s.Contains(rec.Body.String(), "validation_error")
	})

	s.Run("missing value", func() {
		rec := s.do(http.MethodPost, "/v1/lookups", LookupRequest{Type: "phone"})
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("invalid value reported by engine", func() {
		s.svc.EXPECT().SubmitQuery(gomock.Any(), models.QueryTypePhone, "12", gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeInvalidInput, "invalid phone number"))
		rec := s.do(http.MethodPost, "/v1/lookups", LookupRequest{Type: "phone", Value: "12"})
		s.Equal(http.StatusBadRequest, rec.Code)
		s.Contains(rec.Body.String(), "invalid phone number")
	})

	s.Run("queue full", func() {
		s.svc.EXPECT().SubmitQuery(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, tasks.ErrQueueFull)
		rec := s.do(http.MethodPost, "/v1/lookups", LookupRequest{Type: "phone", Value: "4126704024"})
		s.Equal(http.StatusServiceUnavailable, rec.Code)
	})

	s.Run("unexpected errors are hidden", func() {
		s.svc.EXPECT().SubmitQuery(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("pq: secret detail"))
		rec := s.do(http.MethodPost, "/v1/lookups", LookupRequest{Type: "phone", Value: "4126704024"})
		s.Equal(http.StatusInternalServerError, rec.Code)
		s.NotContains(rec.Body.String(), "secret detail")
	})
}

// =============================================================================
// Tasks
// =============================================================================

func (s *HandlerSuite) TestTaskStatus() {
	s.svc.EXPECT().GetTaskStatus("t-1").Return(models.TaskStatus{TaskID: "t-1", State: models.TaskProcessing, Progress: 60}, nil)
	rec := s.do(http.MethodGet, "/v1/tasks/t-1", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"progress":60`)

	s.svc.EXPECT().GetTaskStatus("nope").Return(models.TaskStatus{}, tasks.ErrTaskNotFound)
	rec = s.do(http.MethodGet, "/v1/tasks/nope", nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlerSuite) TestCancelTask() {
	s.svc.EXPECT().CancelTask(gomock.Any(), "t-1").Return(true, nil)
	rec := s.do(http.MethodDelete, "/v1/tasks/t-1", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"task_id":"t-1","cancelled":true}`, rec.Body.String())

	s.svc.EXPECT().CancelTask(gomock.Any(), "t-2").Return(false, nil)
	rec = s.do(http.MethodDelete, "/v1/tasks/t-2", nil)
	s.JSONEq(`{"task_id":"t-2","cancelled":false}`, rec.Body.String())
}

// =============================================================================
// Cache admin
// =============================================================================

func (s *HandlerSuite) TestAdminRequiresToken() {
	rec := s.do(http.MethodGet, "/admin/cache/stats", nil)
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *HandlerSuite) TestAdminStats() {
	s.svc.EXPECT().Stats(gomock.Any()).Return(lookup.Stats{Cache: cache.Stats{TotalKeys: 3}}, nil)
	rec := s.do(http.MethodGet, "/admin/cache/stats", nil, "X-Admin-Token", adminToken)
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"total_keys":3`)
}

func (s *HandlerSuite) TestAdminInvalidate() {
	s.svc.EXPECT().Invalidate(gomock.Any(), models.QueryTypeEmail, "jane@example.com").Return(nil)
	rec := s.do(http.MethodDelete, "/admin/cache/email/jane@example.com", nil, "X-Admin-Token", adminToken)
	s.Equal(http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodDelete, "/admin/cache/fax/123", nil, "X-Admin-Token", adminToken)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestAdminClear() {
	s.svc.EXPECT().ClearAll(gomock.Any(), "osint:phone:*").Return(cache.ClearResult{L1: 4, L2: 2}, nil)
	rec := s.do(http.MethodPost, "/admin/cache/clear", ClearRequest{Pattern: "osint:phone:*"}, "X-Admin-Token", adminToken)
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"l1":4,"l2":2}`, rec.Body.String())

	s.svc.EXPECT().ClearAll(gomock.Any(), "session:*").Return(cache.ClearResult{}, lookup.ErrInvalidPattern)
	rec = s.do(http.MethodPost, "/admin/cache/clear", ClearRequest{Pattern: "session:*"}, "X-Admin-Token", adminToken)
	s.Equal(http.StatusBadRequest, rec.Code)
}

// =============================================================================
// Operational endpoints
// =============================================================================

func (s *HandlerSuite) TestHealthAndMetrics() {
	rec := s.do(http.MethodGet, "/healthz", nil)
	s.Equal(http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/metrics", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "osint_http_requests_total")
}

func (s *HandlerSuite) TestReadiness() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := NewRouter(New(s.svc, logger, ""), WithReadiness(map[string]func(context.Context) error{
		"redis":    func(context.Context) error { return nil },
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	}))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	s.Equal(http.StatusServiceUnavailable, rec.Code)
	s.JSONEq(`{"redis":"ok","postgres":"connection refused"}`, rec.Body.String())
}

func (s *HandlerSuite) TestProviderHealth() {
	s.svc.EXPECT().ProviderHealth(gomock.Any()).Return(map[string]string{"truecaller": "", "investigate": "status 503"})
	rec := s.do(http.MethodGet, "/v1/providers/health", nil)
	s.Equal(http.StatusServiceUnavailable, rec.Code)
	s.Contains(rec.Body.String(), "status 503")
}
