package api

import (
	"net/http"

	"github.com/gruntyhq/grunty/internal/logger"
	"github.com/gruntyhq/grunty/pkg/usage"
)

// UserHandler handles account endpoints
type UserHandler struct {
	*Handler
	usage *usage.Service
}

// NewUserHandler creates a new user handler
func NewUserHandler(base *Handler, usageService *usage.Service, log *logger.Logger) *UserHandler {
	return &UserHandler{
		Handler: base,
		usage:   usageService,
	}
}

// GetUsage handles GET /users/me/usage
func (h *UserHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	summary, err := h.usage.Summary(ctx, user.ID)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to get usage", err)
		return
	}

	h.respondJSON(w, http.StatusOK, summary)
}
