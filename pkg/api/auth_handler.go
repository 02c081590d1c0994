package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/gruntyhq/grunty/internal/logger"
	"github.com/gruntyhq/grunty/pkg/auth"
	"github.com/gruntyhq/grunty/pkg/users"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	*Handler
	authService *auth.Service
	userService *users.Service
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(base *Handler, authService *auth.Service, userService *users.Service, log *logger.Logger) *AuthHandler {
	return &AuthHandler{
		Handler:     base,
		authService: authService,
		userService: userService,
	}
}

// Register handles POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)

	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	defer r.Body.Close()

	resp, err := h.authService.Register(ctx, &req)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "registration failed", err)
		return
	}

	h.logger.Info("user registered",
		zap.String("username", resp.User.Username),
		zap.String("user_id", resp.User.ID),
	)

	h.respondJSON(w, http.StatusOK, resp)
}

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)

	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	defer r.Body.Close()

	if req.Username == "" || req.Password == "" {
		h.respondError(w, http.StatusBadRequest, "username and password are required", nil)
		return
	}

	resp, err := h.authService.Login(ctx, &req)
	if err != nil {
		h.respondError(w, http.StatusUnauthorized, "authentication failed", err)
		return
	}

	h.logger.Info("user logged in",
		zap.String("username", resp.User.Username),
		zap.String("user_id", resp.User.ID),
	)

	h.respondJSON(w, http.StatusOK, resp)
}

// Logout handles POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	// JWT logout is handled client-side by discarding the token
	w.WriteHeader(http.StatusNoContent)
}

// GetMe handles GET /api/v1/auth/me
func (h *AuthHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	authedUser, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	user, err := h.userService.GetUserByID(ctx, authedUser.ID)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to load user", err)
		return
	}

	h.respondJSON(w, http.StatusOK, user)
}
