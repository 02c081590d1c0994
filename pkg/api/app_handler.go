package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/gruntyhq/grunty/internal/logger"
	"github.com/gruntyhq/grunty/pkg/database"
	"github.com/gruntyhq/grunty/pkg/models"
	"github.com/gruntyhq/grunty/pkg/orchestrator"
	"github.com/gruntyhq/grunty/pkg/storage"
	"github.com/gruntyhq/grunty/pkg/validator"
)

// maxScreenshotBytes caps preview image uploads.
const maxScreenshotBytes = 5 * 1024 * 1024

// AppHandler handles app and version endpoints
type AppHandler struct {
	*Handler
	db           *database.DB
	storage      *storage.Service
	orchestrator *orchestrator.Orchestrator
}

// NewAppHandler creates a new app handler
func NewAppHandler(base *Handler, db *database.DB, storageService *storage.Service, orch *orchestrator.Orchestrator, log *logger.Logger) *AppHandler {
	return &AppHandler{
		Handler:      base,
		db:           db,
		storage:      storageService,
		orchestrator: orch,
	}
}

// CreateApp handles POST /apps
func (h *AppHandler) CreateApp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)

	var req models.CreateAppRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	defer r.Body.Close()

	if req.Name == "" {
		h.respondError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	app, err := h.db.CreateApp(ctx, uuid.New().String(), user.ID, req.Name, req.Description)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to create app", err)
		return
	}

	h.logger.Info("app created",
		zap.String("app_id", app.ID),
		zap.String("user_id", user.ID),
	)

	h.respondJSON(w, http.StatusOK, app)
}

// ListApps handles GET /apps
func (h *AppHandler) ListApps(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	apps, err := h.db.ListApps(ctx, user.ID)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to list apps", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"apps": apps,
	})
}

// GetApp handles GET /apps/{id}
func (h *AppHandler) GetApp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	appID := mux.Vars(r)["id"]

	app, err := h.db.GetApp(ctx, appID, user.ID)
	if err != nil {
		h.respondDomainError(w, "failed to get app", err)
		return
	}

	h.respondJSON(w, http.StatusOK, app)
}

// DeleteApp handles DELETE /apps/{id}
func (h *AppHandler) DeleteApp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	appID := mux.Vars(r)["id"]

	if err := h.db.DeleteApp(ctx, appID, user.ID); err != nil {
		h.respondDomainError(w, "failed to delete app", err)
		return
	}

	h.logger.Info("app deleted",
		zap.String("app_id", appID),
		zap.String("user_id", user.ID),
	)

	w.WriteHeader(http.StatusNoContent)
}

// CreateVersion handles POST /apps/{id}/versions
func (h *AppHandler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	appID := mux.Vars(r)["id"]

	r.Body = http.MaxBytesReader(w, r.Body, 1024*1024)

	var req models.CreateVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	defer r.Body.Close()

	if err := validator.ValidateCode(req.Code); err != nil {
		h.respondError(w, http.StatusBadRequest, "validation failed", err)
		return
	}

	version, err := h.db.CreateAppVersion(ctx, appID, user.ID, req.Code)
	if err != nil {
		h.respondDomainError(w, "failed to create version", err)
		return
	}

	h.respondJSON(w, http.StatusOK, version)
}

// ListVersions handles GET /apps/{id}/versions
func (h *AppHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	appID := mux.Vars(r)["id"]

	versions, err := h.db.ListAppVersions(ctx, appID, user.ID)
	if err != nil {
		h.respondDomainError(w, "failed to list versions", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"versions": versions,
	})
}

// GetVersion handles GET /apps/{id}/versions/{number}
func (h *AppHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	appID := vars["id"]

	number, err := strconv.Atoi(vars["number"])
	if err != nil || number < 1 {
		h.respondError(w, http.StatusBadRequest, "invalid version number", err)
		return
	}

	version, err := h.db.GetAppVersion(ctx, appID, user.ID, number)
	if err != nil {
		h.respondDomainError(w, "failed to get version", err)
		return
	}

	h.respondJSON(w, http.StatusOK, version)
}

// SwitchVersion handles PUT /apps/{id}/current-version
func (h *AppHandler) SwitchVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	appID := mux.Vars(r)["id"]

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)

	var req models.SwitchVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	defer r.Body.Close()

	if req.VersionID == "" {
		h.respondError(w, http.StatusBadRequest, "version_id is required", nil)
		return
	}

	if err := h.db.SwitchAppVersion(ctx, appID, user.ID, req.VersionID); err != nil {
		h.respondDomainError(w, "failed to switch version", err)
		return
	}

	app, err := h.db.GetApp(ctx, appID, user.ID)
	if err != nil {
		h.respondDomainError(w, "failed to get app", err)
		return
	}

	h.respondJSON(w, http.StatusOK, app)
}

// UploadScreenshot handles PUT /apps/{id}/versions/{number}/screenshot.
// The body is the raw PNG; the response carries a presigned preview URL.
func (h *AppHandler) UploadScreenshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	appID := vars["id"]

	number, err := strconv.Atoi(vars["number"])
	if err != nil || number < 1 {
		h.respondError(w, http.StatusBadRequest, "invalid version number", err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxScreenshotBytes)
	image, err := io.ReadAll(r.Body)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "failed to read image", err)
		return
	}
	defer r.Body.Close()

	if len(image) == 0 {
		h.respondError(w, http.StatusBadRequest, "image is empty", nil)
		return
	}

	url, err := h.orchestrator.SaveScreenshot(ctx, user.ID, appID, number, image)
	if err != nil {
		h.respondDomainError(w, "failed to save screenshot", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"url": url})
}

// ScreenshotURL handles GET /apps/{id}/versions/{number}/screenshot
func (h *AppHandler) ScreenshotURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	appID := vars["id"]

	number, err := strconv.Atoi(vars["number"])
	if err != nil || number < 1 {
		h.respondError(w, http.StatusBadRequest, "invalid version number", err)
		return
	}

	version, err := h.db.GetAppVersion(ctx, appID, user.ID, number)
	if err != nil {
		h.respondDomainError(w, "failed to get version", err)
		return
	}
	if version.ScreenshotKey == nil {
		h.respondError(w, http.StatusNotFound, "no screenshot for this version", nil)
		return
	}

	url, err := h.storage.SignedURL(ctx, *version.ScreenshotKey)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to sign url", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"url": url})
}
