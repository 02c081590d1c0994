package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/gruntyhq/grunty/internal/config"
	"github.com/gruntyhq/grunty/internal/logger"
	"github.com/gruntyhq/grunty/pkg/analyzer"
	"github.com/gruntyhq/grunty/pkg/database"
	"github.com/gruntyhq/grunty/pkg/models"
	"github.com/gruntyhq/grunty/pkg/storage"
	"github.com/gruntyhq/grunty/pkg/validator"
)

// FileHandler handles file upload and association endpoints
type FileHandler struct {
	*Handler
	db      *database.DB
	storage *storage.Service
	limits  config.LimitConfig
}

// NewFileHandler creates a new file handler
func NewFileHandler(base *Handler, db *database.DB, storageService *storage.Service, limits config.LimitConfig, log *logger.Logger) *FileHandler {
	return &FileHandler{
		Handler: base,
		db:      db,
		storage: storageService,
		limits:  limits,
	}
}

// Upload handles POST /files. Content arrives base64-encoded; CSV files
// are analyzed synchronously so the response carries column metadata.
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	// Base64 inflates the payload by a third.
	r.Body = http.MaxBytesReader(w, r.Body, h.limits.MaxUploadBytes*2)

	var req models.UploadFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	defer r.Body.Close()

	if err := validator.ValidateFileName(req.Name); err != nil {
		h.respondError(w, http.StatusBadRequest, "validation failed", err)
		return
	}

	content, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "content must be base64-encoded", err)
		return
	}
	if err := validator.ValidateUploadSize(len(content), h.limits.MaxUploadBytes); err != nil {
		h.respondError(w, http.StatusBadRequest, "validation failed", err)
		return
	}

	file := &models.File{
		ID:          uuid.New().String(),
		UserID:      user.ID,
		Name:        req.Name,
		ContentType: req.ContentType,
		SizeBytes:   int64(len(content)),
		CreatedAt:   time.Now().UTC(),
	}

	if req.TTLSeconds > 0 {
		expires := time.Now().UTC().Add(time.Duration(req.TTLSeconds) * time.Second)
		file.ExpiresAt = &expires
	}

	if isCSV(req.Name, req.ContentType) {
		analysis, err := analyzer.AnalyzeCSV(content)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "failed to analyze csv", err)
			return
		}
		file.Analysis = analysis
	}

	file.StorageKey = storage.FileKey(user.ID, file.ID, file.Name)
	if err := h.storage.Put(ctx, file.StorageKey, req.ContentType, content); err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to store file", err)
		return
	}

	if err := h.db.SaveFile(ctx, file); err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to save file", err)
		return
	}

	h.logger.Info("file uploaded",
		zap.String("file_id", file.ID),
		zap.String("user_id", user.ID),
		zap.Int64("size_bytes", file.SizeBytes),
	)

	h.respondJSON(w, http.StatusOK, file)
}

func isCSV(name, contentType string) bool {
	if strings.HasSuffix(strings.ToLower(name), ".csv") {
		return true
	}
	return contentType == "text/csv"
}

// GetFile handles GET /files/{id}
func (h *FileHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	fileID := mux.Vars(r)["id"]

	file, err := h.db.GetFile(ctx, fileID, user.ID)
	if err != nil {
		h.respondDomainError(w, "failed to get file", err)
		return
	}

	h.respondJSON(w, http.StatusOK, file)
}

// ListFiles handles GET /files
func (h *FileHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	files, err := h.db.ListFiles(ctx, user.ID)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to list files", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"files": files,
	})
}

// DownloadURL handles GET /files/{id}/url, returning a presigned link.
func (h *FileHandler) DownloadURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	fileID := mux.Vars(r)["id"]

	file, err := h.db.GetFile(ctx, fileID, user.ID)
	if err != nil {
		h.respondDomainError(w, "failed to get file", err)
		return
	}

	url, err := h.storage.SignedURL(ctx, file.StorageKey)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to sign url", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"url": url})
}

// DeleteFile handles DELETE /files/{id}
func (h *FileHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	fileID := mux.Vars(r)["id"]

	file, err := h.db.GetFile(ctx, fileID, user.ID)
	if err != nil {
		h.respondDomainError(w, "failed to get file", err)
		return
	}

	if err := h.db.DeleteFile(ctx, fileID, user.ID); err != nil {
		h.respondDomainError(w, "failed to delete file", err)
		return
	}

	if file.StorageKey != "" {
		if err := h.storage.Delete(ctx, file.StorageKey); err != nil {
			h.logger.Warn("failed to delete stored object",
				zap.String("key", file.StorageKey), zap.Error(err))
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// AssociateFile handles POST /conversations/{id}/files
func (h *FileHandler) AssociateFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	chatID := mux.Vars(r)["id"]

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)

	var req models.AssociateFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	defer r.Body.Close()

	// Both ends must belong to the caller.
	if _, err := h.db.GetChat(ctx, chatID, user.ID); err != nil {
		h.respondDomainError(w, "failed to get conversation", err)
		return
	}
	if _, err := h.db.GetFile(ctx, req.FileID, user.ID); err != nil {
		h.respondDomainError(w, "failed to get file", err)
		return
	}

	if err := h.db.AssociateFile(ctx, chatID, req.FileID); err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to associate file", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListChatFiles handles GET /conversations/{id}/files
func (h *FileHandler) ListChatFiles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	chatID := mux.Vars(r)["id"]

	if _, err := h.db.GetChat(ctx, chatID, user.ID); err != nil {
		h.respondDomainError(w, "failed to get conversation", err)
		return
	}

	files, err := h.db.ListChatFiles(ctx, chatID)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to list files", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"files": files,
	})
}
