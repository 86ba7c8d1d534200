// Package handler exposes the lookup engine over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"osint/internal/lookup"
	"osint/internal/lookup/cache"
	"osint/internal/lookup/models"
	dErrors "osint/pkg/domain-errors"
	"osint/pkg/platform/httputil"
	"osint/pkg/platform/middleware/admin"
)

// Service is the engine surface the handler depends on.
type Service interface {
	SubmitQuery(ctx context.Context, qt models.QueryType, raw string, opts lookup.SubmitOptions) (*lookup.SubmitResult, error)
	GetTaskStatus(id string) (models.TaskStatus, error)
	CancelTask(ctx context.Context, id string) (bool, error)
	Stats(ctx context.Context) (lookup.Stats, error)
	Invalidate(ctx context.Context, qt models.QueryType, raw string) error
	ClearAll(ctx context.Context, pattern string) (cache.ClearResult, error)
	ProviderHealth(ctx context.Context) map[string]string
}

type Handler struct {
	svc        Service
	logger     *slog.Logger
	adminToken string
	validate   *validator.Validate
}

func New(svc Service, logger *slog.Logger, adminToken string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		svc:        svc,
		logger:     logger,
		adminToken: adminToken,
		validate:   validator.New(),
	}
}

// Register mounts the lookup, task and cache admin routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/lookups", h.handleSubmit)
	r.Get("/v1/tasks/{taskID}", h.handleTaskStatus)
	r.Delete("/v1/tasks/{taskID}", h.handleCancelTask)
	r.Get("/v1/providers/health", h.handleProviderHealth)

	r.Route("/admin/cache", func(r chi.Router) {
		r.Use(admin.RequireAdminToken(h.adminToken, h.logger))
		r.Get("/stats", h.handleStats)
		r.Delete("/{type}/{value}", h.handleInvalidate)
		r.Post("/clear", h.handleClear)
	})
}

type LookupRequest struct {
	Type           string `json:"type" validate:"required,oneof=phone email"`
	Value          string `json:"value" validate:"required,max=320"`
	Synchronous    bool   `json:"synchronous"`
	TimeoutSeconds int    `json:"timeout_seconds" validate:"gte=0,lte=600"`
	ForceRefresh   bool   `json:"force_refresh"`
}

type ClearRequest struct {
	Pattern string `json:"pattern" validate:"omitempty,max=256"`
}

type CancelResponse struct {
	TaskID    string `json:"task_id"`
	Cancelled bool   `json:"cancelled"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetReqID(ctx)

	var req LookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid lookup request", "request_id", requestID, "error", err)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeValidation, "type must be phone or email and value is required"))
		return
	}

	res, err := h.svc.SubmitQuery(ctx, models.QueryType(req.Type), req.Value, lookup.SubmitOptions{
		Synchronous:  req.Synchronous,
		Timeout:      time.Duration(req.TimeoutSeconds) * time.Second,
		ForceRefresh: req.ForceRefresh,
	})
	if err != nil {
		h.writeServiceError(ctx, w, "lookup failed", err)
		return
	}

	if res.Task != nil {
		w.Header().Set("Location", res.Task.StatusURL)
		httputil.WriteJSON(w, http.StatusAccepted, res.Task)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.GetTaskStatus(chi.URLParam(r, "taskID"))
	if err != nil {
		h.writeServiceError(r.Context(), w, "task status failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (h *Handler) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	cancelled, err := h.svc.CancelTask(r.Context(), id)
	if err != nil {
		h.writeServiceError(r.Context(), w, "task cancel failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, CancelResponse{TaskID: id, Cancelled: cancelled})
}

func (h *Handler) handleProviderHealth(w http.ResponseWriter, r *http.Request) {
	health := h.svc.ProviderHealth(r.Context())
	status := http.StatusOK
	for _, msg := range health {
		if msg != "" {
			status = http.StatusServiceUnavailable
			break
		}
	}
	httputil.WriteJSON(w, status, health)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		// Key counts may be missing; counters are still reported.
		h.logger.WarnContext(r.Context(), "cache stats incomplete", "error", err)
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	qt, err := models.ParseQueryType(chi.URLParam(r, "type"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	value, err := url.PathUnescape(chi.URLParam(r, "value"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid value encoding"))
		return
	}
	if err := h.svc.Invalidate(r.Context(), qt, value); err != nil {
		h.writeServiceError(r.Context(), w, "cache invalidate failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	var req ClearRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
			return
		}
	}
	if err := h.validate.Struct(req); err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeValidation, "pattern is too long"))
		return
	}
	res, err := h.svc.ClearAll(r.Context(), req.Pattern)
	if err != nil {
		h.writeServiceError(r.Context(), w, "cache clear failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// writeServiceError passes coded errors through and hides everything else.
func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, "request_id", middleware.GetReqID(ctx), "error", err)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, msg))
		return
	}
	h.logger.WarnContext(ctx, msg, "request_id", middleware.GetReqID(ctx), "error", err)
	httputil.WriteError(w, err)
}
