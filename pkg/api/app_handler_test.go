package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gruntyhq/grunty/pkg/database"
	"github.com/gruntyhq/grunty/pkg/models"
)

func newAppHandler(t *testing.T) (*AppHandler, *database.DB) {
	t.Helper()
	db := newTestDB(t)
	log := nopLogger()
	base := NewHandler(nil, log)
	return NewAppHandler(base, db, nil, nil, log), db
}

func TestCreateAppRequiresName(t *testing.T) {
	handler, db := newAppHandler(t)
	user := createAPIUser(t, db)

	body, _ := json.Marshal(models.CreateAppRequest{Name: ""})
	rec := httptest.NewRecorder()
	handler.CreateApp(rec, authedRequest(user, http.MethodPost, "/api/v1/apps", body, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, _ = json.Marshal(models.CreateAppRequest{Name: "Sales Dashboard"})
	rec = httptest.NewRecorder()
	handler.CreateApp(rec, authedRequest(user, http.MethodPost, "/api/v1/apps", body, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var app models.App
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&app))
	assert.Equal(t, "Sales Dashboard", app.Name)
	assert.Equal(t, user.ID, app.UserID)
}

func TestCreateAndGetVersion(t *testing.T) {
	handler, db := newAppHandler(t)
	user := createAPIUser(t, db)

	app, err := db.CreateApp(context.Background(), uuid.New().String(), user.ID, "App", "")
	require.NoError(t, err)

	body, _ := json.Marshal(models.CreateVersionRequest{Code: "import streamlit as st"})
	vars := map[string]string{"id": app.ID}
	rec := httptest.NewRecorder()
	handler.CreateVersion(rec, authedRequest(user, http.MethodPost, "/api/v1/apps/"+app.ID+"/versions", body, vars))
	require.Equal(t, http.StatusOK, rec.Code)

	var version models.AppVersion
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&version))
	assert.Equal(t, 1, version.VersionNumber)

	getVars := map[string]string{"id": app.ID, "number": "1"}
	rec = httptest.NewRecorder()
	handler.GetVersion(rec, authedRequest(user, http.MethodGet, "/api/v1/apps/"+app.ID+"/versions/1", nil, getVars))
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, json.NewDecoder(rec.Body).Decode(&version))
	assert.Equal(t, "import streamlit as st", version.Code)
}

func TestGetVersionRejectsBadNumber(t *testing.T) {
	handler, db := newAppHandler(t)
	user := createAPIUser(t, db)

	for _, number := range []string{"0", "-1", "abc"} {
		vars := map[string]string{"id": uuid.New().String(), "number": number}
		rec := httptest.NewRecorder()
		handler.GetVersion(rec, authedRequest(user, http.MethodGet, "/api/v1/apps/x/versions/"+number, nil, vars))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "number %q", number)
	}
}

func TestCreateVersionRejectsEmptyCode(t *testing.T) {
	handler, db := newAppHandler(t)
	user := createAPIUser(t, db)

	app, err := db.CreateApp(context.Background(), uuid.New().String(), user.ID, "App", "")
	require.NoError(t, err)

	body, _ := json.Marshal(models.CreateVersionRequest{Code: "   "})
	vars := map[string]string{"id": app.ID}
	rec := httptest.NewRecorder()
	handler.CreateVersion(rec, authedRequest(user, http.MethodPost, "/api/v1/apps/"+app.ID+"/versions", body, vars))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateVersionForeignApp(t *testing.T) {
	handler, db := newAppHandler(t)
	owner := createAPIUser(t, db)
	other := createAPIUser(t, db)

	app, err := db.CreateApp(context.Background(), uuid.New().String(), owner.ID, "App", "")
	require.NoError(t, err)

	body, _ := json.Marshal(models.CreateVersionRequest{Code: "code"})
	vars := map[string]string{"id": app.ID}
	rec := httptest.NewRecorder()
	handler.CreateVersion(rec, authedRequest(other, http.MethodPost, "/api/v1/apps/"+app.ID+"/versions", body, vars))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSwitchVersion(t *testing.T) {
	handler, db := newAppHandler(t)
	user := createAPIUser(t, db)
	ctx := context.Background()

	app, err := db.CreateApp(ctx, uuid.New().String(), user.ID, "App", "")
	require.NoError(t, err)
	v1, err := db.CreateAppVersion(ctx, app.ID, user.ID, "v1")
	require.NoError(t, err)
	_, err = db.CreateAppVersion(ctx, app.ID, user.ID, "v2")
	require.NoError(t, err)

	body, _ := json.Marshal(models.SwitchVersionRequest{VersionID: v1.ID})
	vars := map[string]string{"id": app.ID}
	rec := httptest.NewRecorder()
	handler.SwitchVersion(rec, authedRequest(user, http.MethodPut, "/api/v1/apps/"+app.ID+"/current-version", body, vars))
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.App
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.NotNil(t, got.CurrentVersionID)
	assert.Equal(t, v1.ID, *got.CurrentVersionID)
}

func TestDeleteAppHandler(t *testing.T) {
	handler, db := newAppHandler(t)
	user := createAPIUser(t, db)

	app, err := db.CreateApp(context.Background(), uuid.New().String(), user.ID, "App", "")
	require.NoError(t, err)

	vars := map[string]string{"id": app.ID}
	rec := httptest.NewRecorder()
	handler.DeleteApp(rec, authedRequest(user, http.MethodDelete, "/api/v1/apps/"+app.ID, nil, vars))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	handler.DeleteApp(rec, authedRequest(user, http.MethodDelete, "/api/v1/apps/"+app.ID, nil, vars))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScreenshotURLMissing(t *testing.T) {
	handler, db := newAppHandler(t)
	user := createAPIUser(t, db)
	ctx := context.Background()

	app, err := db.CreateApp(ctx, uuid.New().String(), user.ID, "App", "")
	require.NoError(t, err)
	_, err = db.CreateAppVersion(ctx, app.ID, user.ID, "code")
	require.NoError(t, err)

	vars := map[string]string{"id": app.ID, "number": "1"}
	rec := httptest.NewRecorder()
	handler.ScreenshotURL(rec, authedRequest(user, http.MethodGet, "/api/v1/apps/"+app.ID+"/versions/1/screenshot", nil, vars))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
