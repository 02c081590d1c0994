package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/gruntyhq/grunty/internal/logger"
	"github.com/gruntyhq/grunty/pkg/database"
	"github.com/gruntyhq/grunty/pkg/models"
	"github.com/gruntyhq/grunty/pkg/proxy"
	"github.com/gruntyhq/grunty/pkg/sandbox"
	"github.com/gruntyhq/grunty/pkg/validator"
)

// SandboxHandler handles sandbox lifecycle endpoints
type SandboxHandler struct {
	*Handler
	db      *database.DB
	manager *sandbox.Manager
}

// NewSandboxHandler creates a new sandbox handler
func NewSandboxHandler(base *Handler, db *database.DB, manager *sandbox.Manager, log *logger.Logger) *SandboxHandler {
	return &SandboxHandler{
		Handler: base,
		db:      db,
		manager: manager,
	}
}

// Execute handles POST /sandboxes/{id}/execute. A stale id is replaced
// transparently; the response carries the id actually serving the app.
func (h *SandboxHandler) Execute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	sandboxID := mux.Vars(r)["id"]

	if err := sandbox.ValidateSandboxID(sandboxID); err != nil {
		h.respondError(w, http.StatusBadRequest, "validation failed", err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1024*1024)

	var req models.ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	defer r.Body.Close()

	if err := validator.ValidateCode(req.Code); err != nil {
		h.respondError(w, http.StatusBadRequest, "validation failed", err)
		return
	}

	result, err := h.manager.RunCode(ctx, user.ID, sandboxID, req.Code, nil)
	if err != nil {
		h.respondDomainError(w, "failed to execute code", err)
		return
	}

	h.respondJSON(w, http.StatusOK, &models.ExecuteResponse{
		URL:       result.URL,
		SandboxID: result.SandboxID,
	})
}

// Create handles POST /sandboxes, provisioning (or reusing) the caller's
// sandbox.
func (h *SandboxHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	session, err := h.manager.Ensure(ctx, user.ID)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to provision sandbox", err)
		return
	}

	h.respondJSON(w, http.StatusOK, session)
}

// Get handles GET /sandboxes/{id}
func (h *SandboxHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	sandboxID := mux.Vars(r)["id"]

	session, err := h.db.GetSandboxSession(ctx, sandboxID)
	if err != nil {
		h.respondDomainError(w, "failed to get sandbox", err)
		return
	}
	if session.UserID != user.ID {
		h.respondError(w, http.StatusForbidden, "forbidden", sandbox.ErrUnauthorized)
		return
	}

	h.respondJSON(w, http.StatusOK, session)
}

// KeepAlive handles POST /sandboxes/{id}/keep-alive
func (h *SandboxHandler) KeepAlive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	sandboxID := mux.Vars(r)["id"]

	session, err := h.manager.KeepAlive(ctx, user.ID, sandboxID)
	if err != nil {
		h.respondDomainError(w, "failed to extend sandbox", err)
		return
	}

	h.respondJSON(w, http.StatusOK, session)
}

// Kill handles DELETE /sandboxes/{id}
func (h *SandboxHandler) Kill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	sandboxID := mux.Vars(r)["id"]

	if err := h.manager.Kill(ctx, user.ID, sandboxID); err != nil {
		h.respondDomainError(w, "failed to kill sandbox", err)
		return
	}

	h.logger.Info("sandbox killed",
		zap.String("sandbox_id", sandboxID),
		zap.String("user_id", user.ID),
	)

	w.WriteHeader(http.StatusNoContent)
}

// Logs handles GET /sandboxes/{id}/logs
func (h *SandboxHandler) Logs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	sandboxID := mux.Vars(r)["id"]

	tail := int64(200)
	if v := r.URL.Query().Get("tail"); v != "" {
		if t, err := strconv.ParseInt(v, 10, 64); err == nil && t > 0 {
			tail = t
		}
	}

	logs, err := h.manager.Logs(ctx, user.ID, sandboxID, tail)
	if err != nil {
		h.respondDomainError(w, "failed to get logs", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"logs": logs})
}

// AttachLogStream returns a handler for GET /sandboxes/{id}/attach that
// upgrades to WebSocket and follows the app server output.
func (h *SandboxHandler) AttachLogStream(p *proxy.Proxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		user, ok := h.requireUser(w, r)
		if !ok {
			return
		}
		sandboxID := mux.Vars(r)["id"]

		session, err := h.db.GetSandboxSession(ctx, sandboxID)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				h.respondError(w, http.StatusNotFound, "not found", err)
				return
			}
			h.respondError(w, http.StatusInternalServerError, "failed to get sandbox", err)
			return
		}
		if session.UserID != user.ID {
			h.respondError(w, http.StatusForbidden, "forbidden", sandbox.ErrUnauthorized)
			return
		}

		if err := p.HandleLogStream(w, r, session.ID, session.Namespace, session.PodName); err != nil {
			h.logger.Error("failed to attach log stream",
				zap.String("sandbox_id", sandboxID),
				zap.Error(err),
			)
		}
	}
}
