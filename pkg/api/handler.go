package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/gruntyhq/grunty/internal/logger"
	"github.com/gruntyhq/grunty/pkg/auth"
	"github.com/gruntyhq/grunty/pkg/database"
	"github.com/gruntyhq/grunty/pkg/k8s"
	"github.com/gruntyhq/grunty/pkg/models"
	"github.com/gruntyhq/grunty/pkg/sandbox"
	"github.com/gruntyhq/grunty/pkg/usage"
)

const maxJSONBody = 4 * 1024

// Handler holds shared dependencies for HTTP handlers
type Handler struct {
	k8sClient k8s.ClientInterface
	logger    *logger.Logger
}

// NewHandler creates a new base handler
func NewHandler(k8sClient k8s.ClientInterface, log *logger.Logger) *Handler {
	return &Handler{
		k8sClient: k8sClient,
		logger:    log,
	}
}

// HealthResponse reports service and cluster health
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Kubernetes struct {
		Connected bool   `json:"connected"`
		Version   string `json:"version,omitempty"`
	} `json:"kubernetes"`
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp := &HealthResponse{
		Status:  "healthy",
		Version: "1.0.0",
	}

	if h.k8sClient != nil {
		if version, err := h.k8sClient.GetServerVersion(ctx); err == nil {
			resp.Kubernetes.Connected = true
			resp.Kubernetes.Version = version
		} else {
			resp.Status = "unhealthy"
			h.logger.Error("kubernetes health check failed", zap.Error(err))
		}
	}

	statusCode := http.StatusOK
	if resp.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	h.respondJSON(w, statusCode, resp)
}

// Helper functions

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", zap.Error(err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string, err error) {
	if status >= 500 {
		h.logger.Error(message, zap.Error(err))
	} else {
		h.logger.Debug(message, zap.Error(err))
	}

	errResp := models.ErrorResponse{
		Error: message,
		Code:  status,
	}
	// Client errors carry the detail; server errors stay generic and the
	// underlying cause lives in the log only.
	if err != nil && status < 500 {
		errResp.Message = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errResp) //nolint:errcheck
}

// respondDomainError maps service errors onto status codes. Missing and
// not-owned resources both read as 404; foreign sandboxes read as 403, as
// does an exhausted plan allowance.
func (h *Handler) respondDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "not found", err)
	case errors.Is(err, sandbox.ErrUnauthorized):
		h.respondError(w, http.StatusForbidden, "forbidden", err)
	case errors.Is(err, usage.ErrLimitExceeded):
		h.respondError(w, http.StatusForbidden, "message limit reached", err)
	default:
		h.respondError(w, http.StatusInternalServerError, message, err)
	}
}

// requireUser pulls the authenticated user off the context or writes 401.
func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (*auth.AuthenticatedUser, bool) {
	user, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "not authenticated", nil)
		return nil, false
	}
	return user, true
}

// parsePagination reads page/limit query params with defaults and caps.
func parsePagination(r *http.Request) (page, limit int) {
	page = 1
	limit = 50

	query := r.URL.Query()
	if v := query.Get("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			page = p
		}
	}
	if v := query.Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 {
			limit = l
		}
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}
