package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gruntyhq/grunty/internal/config"
	"github.com/gruntyhq/grunty/internal/logger"
	"github.com/gruntyhq/grunty/pkg/auth"
	"github.com/gruntyhq/grunty/pkg/database"
	"github.com/gruntyhq/grunty/pkg/models"
	"github.com/gruntyhq/grunty/pkg/orchestrator"
	"github.com/gruntyhq/grunty/pkg/ratelimit"
	"github.com/gruntyhq/grunty/pkg/usage"
	"github.com/gruntyhq/grunty/pkg/users"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	t.Setenv("GRUNTY_DB_DSN", "")
	t.Setenv("GRUNTY_DB_PATH", filepath.Join(t.TempDir(), "test.db"))

	db, err := database.NewDB(zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func nopLogger() *logger.Logger {
	return &logger.Logger{Logger: zap.NewNop()}
}

func newChatHandler(t *testing.T) (*ChatHandler, *database.DB) {
	t.Helper()
	db := newTestDB(t)
	log := nopLogger()
	base := NewHandler(nil, log)
	limiter := ratelimit.NewLimiter(100, time.Minute)
	return NewChatHandler(base, db, nil, limiter, log), db
}

func createAPIUser(t *testing.T, db *database.DB) *auth.AuthenticatedUser {
	t.Helper()
	id := uuid.New().String()
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO users (id, username, status, plan)
		VALUES ($1, $2, 'active', 'free')
	`, id, "user-"+id[:8])
	require.NoError(t, err)
	return &auth.AuthenticatedUser{ID: id, Username: "user-" + id[:8]}
}

func authedRequest(user *auth.AuthenticatedUser, method, target string, body []byte, vars map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req = req.WithContext(auth.ContextWithUser(req.Context(), user))
	if vars != nil {
		req = mux.SetURLVars(req, vars)
	}
	return req
}

func TestCreateChat(t *testing.T) {
	handler, db := newChatHandler(t)
	user := createAPIUser(t, db)

	// No body means the default name.
	req := authedRequest(user, http.MethodPost, "/api/v1/conversations", nil, nil)
	rec := httptest.NewRecorder()
	handler.CreateChat(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var chat models.Chat
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&chat))
	assert.Equal(t, "New Chat", chat.Name)
	assert.Equal(t, user.ID, chat.UserID)

	body, _ := json.Marshal(models.CreateChatRequest{Name: "Q3 Revenue"})
	req = authedRequest(user, http.MethodPost, "/api/v1/conversations", body, nil)
	rec = httptest.NewRecorder()
	handler.CreateChat(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&chat))
	assert.Equal(t, "Q3 Revenue", chat.Name)
}

func TestCreateChatRejectsBadName(t *testing.T) {
	handler, db := newChatHandler(t)
	user := createAPIUser(t, db)

	body, _ := json.Marshal(models.CreateChatRequest{Name: "   "})
	req := authedRequest(user, http.MethodPost, "/api/v1/conversations", body, nil)
	rec := httptest.NewRecorder()
	handler.CreateChat(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateChatUnauthenticated(t *testing.T) {
	handler, _ := newChatHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations", nil)
	rec := httptest.NewRecorder()
	handler.CreateChat(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetChatCrossUser(t *testing.T) {
	handler, db := newChatHandler(t)
	owner := createAPIUser(t, db)
	other := createAPIUser(t, db)

	chat, err := db.CreateChat(context.Background(), uuid.New().String(), owner.ID, "Mine")
	require.NoError(t, err)

	vars := map[string]string{"id": chat.ID}

	rec := httptest.NewRecorder()
	handler.GetChat(rec, authedRequest(owner, http.MethodGet, "/api/v1/conversations/"+chat.ID, nil, vars))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Another user sees 404, not 403.
	rec = httptest.NewRecorder()
	handler.GetChat(rec, authedRequest(other, http.MethodGet, "/api/v1/conversations/"+chat.ID, nil, vars))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListChatsPaginated(t *testing.T) {
	handler, db := newChatHandler(t)
	user := createAPIUser(t, db)

	for i := 0; i < 3; i++ {
		_, err := db.CreateChat(context.Background(), uuid.New().String(), user.ID, "Chat")
		require.NoError(t, err)
	}

	req := authedRequest(user, http.MethodGet, "/api/v1/conversations?page=1&limit=2", nil, nil)
	rec := httptest.NewRecorder()
	handler.ListChats(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.ChatListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Chats, 2)
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, 2, resp.Limit)
}

func TestUpdateChat(t *testing.T) {
	handler, db := newChatHandler(t)
	user := createAPIUser(t, db)

	chat, err := db.CreateChat(context.Background(), uuid.New().String(), user.ID, "")
	require.NoError(t, err)

	body, _ := json.Marshal(models.UpdateChatRequest{Name: "Renamed"})
	req := authedRequest(user, http.MethodPatch, "/api/v1/conversations/"+chat.ID, body, map[string]string{"id": chat.ID})
	rec := httptest.NewRecorder()
	handler.UpdateChat(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var updated models.Chat
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&updated))
	assert.Equal(t, "Renamed", updated.Name)
}

func TestDeleteChat(t *testing.T) {
	handler, db := newChatHandler(t)
	user := createAPIUser(t, db)

	chat, err := db.CreateChat(context.Background(), uuid.New().String(), user.ID, "")
	require.NoError(t, err)

	vars := map[string]string{"id": chat.ID}
	rec := httptest.NewRecorder()
	handler.DeleteChat(rec, authedRequest(user, http.MethodDelete, "/api/v1/conversations/"+chat.ID, nil, vars))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	handler.DeleteChat(rec, authedRequest(user, http.MethodDelete, "/api/v1/conversations/"+chat.ID, nil, vars))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListMessagesOwnershipGate(t *testing.T) {
	handler, db := newChatHandler(t)
	owner := createAPIUser(t, db)
	other := createAPIUser(t, db)

	chat, err := db.CreateChat(context.Background(), uuid.New().String(), owner.ID, "")
	require.NoError(t, err)
	_, err = db.CreateMessage(context.Background(), uuid.New().String(), chat.ID, "hello")
	require.NoError(t, err)

	vars := map[string]string{"id": chat.ID}

	rec := httptest.NewRecorder()
	handler.ListMessages(rec, authedRequest(owner, http.MethodGet, "/api/v1/conversations/"+chat.ID+"/messages", nil, vars))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []*models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Messages, 1)

	rec = httptest.NewRecorder()
	handler.ListMessages(rec, authedRequest(other, http.MethodGet, "/api/v1/conversations/"+chat.ID+"/messages", nil, vars))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamRateLimited(t *testing.T) {
	db := newTestDB(t)
	log := nopLogger()
	base := NewHandler(nil, log)
	handler := NewChatHandler(base, db, nil, ratelimit.NewLimiter(0, time.Minute), log)
	user := createAPIUser(t, db)

	body, _ := json.Marshal(models.StreamRequest{Content: "hi"})
	req := authedRequest(user, http.MethodPost, "/api/v1/conversations/x/stream", body, map[string]string{"id": "x"})
	rec := httptest.NewRecorder()
	handler.Stream(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestStreamPreflightErrors(t *testing.T) {
	db := newTestDB(t)
	log := nopLogger()
	base := NewHandler(nil, log)
	userService := users.NewService(db, zap.NewNop())
	orch := orchestrator.New(db, nil, nil, nil, usage.NewService(userService, zap.NewNop()), config.LimitConfig{LLMTimeoutSeconds: 30}, zap.NewNop())
	handler := NewChatHandler(base, db, orch, ratelimit.NewLimiter(100, time.Minute), log)

	owner := createAPIUser(t, db)
	other := createAPIUser(t, db)
	chat, err := db.CreateChat(context.Background(), uuid.New().String(), owner.ID, "Mine")
	require.NoError(t, err)
	vars := map[string]string{"id": chat.ID}

	// A foreign chat fails with a plain 404, not a committed event stream.
	body, _ := json.Marshal(models.StreamRequest{Content: "hi"})
	rec := httptest.NewRecorder()
	handler.Stream(rec, authedRequest(other, http.MethodPost, "/api/v1/conversations/"+chat.ID+"/stream", body, vars))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	// An oversized message fails validation before any stream bytes.
	long := strings.Repeat("a", 32*1024+1)
	body, _ = json.Marshal(models.StreamRequest{Content: long})
	rec = httptest.NewRecorder()
	handler.Stream(rec, authedRequest(owner, http.MethodPost, "/api/v1/conversations/"+chat.ID+"/stream", body, vars))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestRespondErrorHidesServerDetail(t *testing.T) {
	h := NewHandler(nil, nopLogger())

	rec := httptest.NewRecorder()
	h.respondError(rec, http.StatusInternalServerError, "failed to list conversations",
		errors.New(`pq: password authentication failed for user "postgres"`))

	var resp models.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "failed to list conversations", resp.Error)
	assert.Empty(t, resp.Message)
	assert.NotContains(t, rec.Body.String(), "postgres")

	// Validation failures keep the detail so the caller can act on it.
	rec = httptest.NewRecorder()
	h.respondError(rec, http.StatusBadRequest, "validation failed", errors.New("chat name too long"))
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "chat name too long", resp.Message)
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		query     string
		wantPage  int
		wantLimit int
	}{
		{"", 1, 50},
		{"?page=3&limit=20", 3, 20},
		{"?page=0&limit=-5", 1, 50},
		{"?limit=500", 1, 100},
		{"?page=abc&limit=xyz", 1, 50},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations"+tt.query, nil)
		page, limit := parsePagination(req)
		assert.Equal(t, tt.wantPage, page, "query %q", tt.query)
		assert.Equal(t, tt.wantLimit, limit, "query %q", tt.query)
	}
}
