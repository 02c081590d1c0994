package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/gruntyhq/grunty/internal/logger"
	"github.com/gruntyhq/grunty/pkg/database"
	"github.com/gruntyhq/grunty/pkg/models"
	"github.com/gruntyhq/grunty/pkg/orchestrator"
	"github.com/gruntyhq/grunty/pkg/ratelimit"
	"github.com/gruntyhq/grunty/pkg/validator"
)

// ChatHandler handles conversation endpoints
type ChatHandler struct {
	*Handler
	db           *database.DB
	orchestrator *orchestrator.Orchestrator
	limiter      *ratelimit.Limiter
}

// NewChatHandler creates a new chat handler
func NewChatHandler(base *Handler, db *database.DB, orch *orchestrator.Orchestrator, limiter *ratelimit.Limiter, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		Handler:      base,
		db:           db,
		orchestrator: orch,
		limiter:      limiter,
	}
}

// CreateChat handles POST /conversations
func (h *ChatHandler) CreateChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)

	var req models.CreateChatRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}
	defer r.Body.Close()

	if req.Name != "" {
		if err := validator.ValidateChatName(req.Name); err != nil {
			h.respondError(w, http.StatusBadRequest, "validation failed", err)
			return
		}
	}

	chat, err := h.db.CreateChat(ctx, uuid.New().String(), user.ID, req.Name)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to create conversation", err)
		return
	}

	h.logger.Info("conversation created",
		zap.String("chat_id", chat.ID),
		zap.String("user_id", user.ID),
	)

	h.respondJSON(w, http.StatusOK, chat)
}

// ListChats handles GET /conversations
func (h *ChatHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	page, limit := parsePagination(r)

	chats, total, err := h.db.ListChats(ctx, user.ID, limit, (page-1)*limit)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to list conversations", err)
		return
	}

	h.respondJSON(w, http.StatusOK, &models.ChatListResponse{
		Chats: chats,
		Page:  page,
		Limit: limit,
		Total: total,
	})
}

// GetChat handles GET /conversations/{id}
func (h *ChatHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	chatID := mux.Vars(r)["id"]

	chat, err := h.db.GetChat(ctx, chatID, user.ID)
	if err != nil {
		h.respondDomainError(w, "failed to get conversation", err)
		return
	}

	h.respondJSON(w, http.StatusOK, chat)
}

// UpdateChat handles PATCH /conversations/{id}
func (h *ChatHandler) UpdateChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	chatID := mux.Vars(r)["id"]

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)

	var req models.UpdateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	defer r.Body.Close()

	if err := validator.ValidateChatName(req.Name); err != nil {
		h.respondError(w, http.StatusBadRequest, "validation failed", err)
		return
	}

	if err := h.db.UpdateChatName(ctx, chatID, user.ID, req.Name); err != nil {
		h.respondDomainError(w, "failed to rename conversation", err)
		return
	}

	chat, err := h.db.GetChat(ctx, chatID, user.ID)
	if err != nil {
		h.respondDomainError(w, "failed to get conversation", err)
		return
	}

	h.respondJSON(w, http.StatusOK, chat)
}

// DeleteChat handles DELETE /conversations/{id}
func (h *ChatHandler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	chatID := mux.Vars(r)["id"]

	if err := h.db.DeleteChat(ctx, chatID, user.ID); err != nil {
		h.respondDomainError(w, "failed to delete conversation", err)
		return
	}

	h.logger.Info("conversation deleted",
		zap.String("chat_id", chatID),
		zap.String("user_id", user.ID),
	)

	w.WriteHeader(http.StatusNoContent)
}

// ListMessages handles GET /conversations/{id}/messages
func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	chatID := mux.Vars(r)["id"]

	// Ownership gate before touching messages.
	if _, err := h.db.GetChat(ctx, chatID, user.ID); err != nil {
		h.respondDomainError(w, "failed to get conversation", err)
		return
	}

	messages, err := h.db.ListMessages(ctx, chatID, 0)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to list messages", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"messages": messages,
	})
}

// GenerateTitle handles POST /conversations/{id}/title
func (h *ChatHandler) GenerateTitle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	chatID := mux.Vars(r)["id"]

	chat, err := h.orchestrator.RegenerateTitle(ctx, user.ID, chatID)
	if err != nil {
		h.respondDomainError(w, "failed to generate title", err)
		return
	}

	h.respondJSON(w, http.StatusOK, chat)
}

// Stream handles POST /conversations/{id}/stream. The response is a
// server-sent event stream of generation events.
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	chatID := mux.Vars(r)["id"]

	if !h.limiter.Allow(user.ID) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		h.respondError(w, http.StatusTooManyRequests, "rate limit exceeded", nil)
		return
	}
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(h.limiter.Remaining(user.ID)))

	r.Body = http.MaxBytesReader(w, r.Body, 64*1024)

	var req models.StreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	defer r.Body.Close()

	if err := validator.ValidateMessage(req.Content); err != nil {
		h.respondError(w, http.StatusBadRequest, "validation failed", err)
		return
	}

	// Everything that can fail with a plain status code runs before the
	// stream is committed.
	turn, err := h.orchestrator.Prepare(ctx, user.ID, chatID, &req)
	if err != nil {
		h.respondDomainError(w, "failed to start generation", err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.respondError(w, http.StatusInternalServerError, "streaming unsupported", nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	emit := func(event models.StreamEvent) error {
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := h.orchestrator.Stream(ctx, turn, emit); err != nil {
		h.logger.Error("generation stream failed",
			zap.String("chat_id", chatID),
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
		// Headers are gone; report on the stream itself. The cause stays in
		// the log.
		emit(models.StreamEvent{Type: "error", Message: "generation failed"}) //nolint:errcheck
	}
}
