package database

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAppVersionNumbering(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	userID := createTestUser(t, db)

	app, err := db.CreateApp(ctx, uuid.New().String(), userID, "Sales Dashboard", "")
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		version, err := db.CreateAppVersion(ctx, app.ID, userID, "code")
		require.NoError(t, err)
		assert.Equal(t, i, version.VersionNumber)
	}

	count, err := db.CountAppVersions(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	// Each new version becomes current.
	got, err := db.GetApp(ctx, app.ID, userID)
	require.NoError(t, err)
	require.NotNil(t, got.CurrentVersionID)

	latest, err := db.GetAppVersion(ctx, app.ID, userID, 5)
	require.NoError(t, err)
	assert.Equal(t, latest.ID, *got.CurrentVersionID)
}

func TestCreateAppVersionConcurrent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	userID := createTestUser(t, db)

	app, err := db.CreateApp(ctx, uuid.New().String(), userID, "App", "")
	require.NoError(t, err)

	const writers = 6
	results := make([]int, writers)
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			version, err := db.CreateAppVersion(ctx, app.ID, userID, "code")
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = version.VersionNumber
		}(i)
	}
	wg.Wait()

	// Racing writers never produce duplicate or gapped numbers.
	seen := make(map[int]bool, writers)
	for i := 0; i < writers; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[results[i]], "duplicate version number %d", results[i])
		seen[results[i]] = true
	}
	for n := 1; n <= writers; n++ {
		assert.True(t, seen[n], "missing version number %d", n)
	}

	count, err := db.CountAppVersions(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, writers, count)
}

func TestCreateAppVersionForeignApp(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	owner := createTestUser(t, db)
	other := createTestUser(t, db)

	app, err := db.CreateApp(ctx, uuid.New().String(), owner, "App", "")
	require.NoError(t, err)

	_, err = db.CreateAppVersion(ctx, app.ID, other, "code")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSwitchAppVersion(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	userID := createTestUser(t, db)

	app, err := db.CreateApp(ctx, uuid.New().String(), userID, "App", "")
	require.NoError(t, err)

	v1, err := db.CreateAppVersion(ctx, app.ID, userID, "v1")
	require.NoError(t, err)
	_, err = db.CreateAppVersion(ctx, app.ID, userID, "v2")
	require.NoError(t, err)

	require.NoError(t, db.SwitchAppVersion(ctx, app.ID, userID, v1.ID))

	got, err := db.GetApp(ctx, app.ID, userID)
	require.NoError(t, err)
	require.NotNil(t, got.CurrentVersionID)
	assert.Equal(t, v1.ID, *got.CurrentVersionID)

	// Switching to a version of a different app is rejected.
	otherApp, err := db.CreateApp(ctx, uuid.New().String(), userID, "Other", "")
	require.NoError(t, err)
	err = db.SwitchAppVersion(ctx, otherApp.ID, userID, v1.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAppVersionsNewestFirst(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	userID := createTestUser(t, db)

	app, err := db.CreateApp(ctx, uuid.New().String(), userID, "App", "")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := db.CreateAppVersion(ctx, app.ID, userID, "code")
		require.NoError(t, err)
	}

	versions, err := db.ListAppVersions(ctx, app.ID, userID)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, 3, versions[0].VersionNumber)
	assert.Equal(t, 1, versions[2].VersionNumber)
}

func TestDeleteApp(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	userID := createTestUser(t, db)

	chat, err := db.CreateChat(ctx, uuid.New().String(), userID, "")
	require.NoError(t, err)

	app, err := db.CreateApp(ctx, uuid.New().String(), userID, "App", "")
	require.NoError(t, err)
	_, err = db.CreateAppVersion(ctx, app.ID, userID, "code")
	require.NoError(t, err)
	require.NoError(t, db.LinkChatApp(ctx, chat.ID, userID, app.ID))

	require.NoError(t, db.DeleteApp(ctx, app.ID, userID))

	_, err = db.GetApp(ctx, app.ID, userID)
	assert.ErrorIs(t, err, ErrNotFound)

	// The chat survives with the link cleared.
	got, err := db.GetChat(ctx, chat.ID, userID)
	require.NoError(t, err)
	assert.Nil(t, got.AppID)
}

func TestSetVersionScreenshot(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	userID := createTestUser(t, db)

	app, err := db.CreateApp(ctx, uuid.New().String(), userID, "App", "")
	require.NoError(t, err)
	version, err := db.CreateAppVersion(ctx, app.ID, userID, "code")
	require.NoError(t, err)

	key := userID + "/apps/" + app.ID + "/1/preview.png"
	require.NoError(t, db.SetVersionScreenshot(ctx, version.ID, key))

	got, err := db.GetAppVersion(ctx, app.ID, userID, 1)
	require.NoError(t, err)
	require.NotNil(t, got.ScreenshotKey)
	assert.Equal(t, key, *got.ScreenshotKey)

	err = db.SetVersionScreenshot(ctx, uuid.New().String(), key)
	assert.ErrorIs(t, err, ErrNotFound)
}
