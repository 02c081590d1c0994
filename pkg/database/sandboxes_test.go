package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gruntyhq/grunty/pkg/models"
)

func testSession(userID string) *models.SandboxSession {
	id := uuid.New().String()
	now := time.Now().UTC()
	return &models.SandboxSession{
		ID:        id,
		UserID:    userID,
		Namespace: "grunty-" + id,
		PodName:   "sandbox",
		Status:    models.SandboxReady,
		CreatedAt: now,
		ExpiresAt: now.Add(5 * time.Minute),
	}
}

func TestSaveSandboxSessionUpsertsByUser(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	userID := createTestUser(t, db)

	first := testSession(userID)
	require.NoError(t, db.SaveSandboxSession(ctx, first))

	second := testSession(userID)
	require.NoError(t, db.SaveSandboxSession(ctx, second))

	// One row per user; the replacement wins.
	got, err := db.GetSandboxSessionByUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	_, err = db.GetSandboxSession(ctx, first.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTouchSandboxSession(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	userID := createTestUser(t, db)

	session := testSession(userID)
	require.NoError(t, db.SaveSandboxSession(ctx, session))

	later := time.Now().UTC().Add(10 * time.Minute)
	require.NoError(t, db.TouchSandboxSession(ctx, session.ID, models.SandboxRunning, later))

	got, err := db.GetSandboxSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SandboxRunning, got.Status)
	assert.True(t, got.ExpiresAt.After(session.ExpiresAt))

	err = db.TouchSandboxSession(ctx, uuid.New().String(), models.SandboxRunning, later)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSandboxSessionExpirySplit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	liveUser := createTestUser(t, db)
	live := testSession(liveUser)
	require.NoError(t, db.SaveSandboxSession(ctx, live))

	staleUser := createTestUser(t, db)
	stale := testSession(staleUser)
	stale.ExpiresAt = now.Add(-time.Minute)
	require.NoError(t, db.SaveSandboxSession(ctx, stale))

	expired, err := db.ListExpiredSandboxSessions(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, stale.ID, expired[0].ID)

	active, err := db.ListActiveSandboxSessions(ctx, now)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, live.ID, active[0].ID)

	count, err := db.CountActiveSandboxSessions(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDeleteSandboxSession(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	userID := createTestUser(t, db)

	session := testSession(userID)
	require.NoError(t, db.SaveSandboxSession(ctx, session))
	require.NoError(t, db.DeleteSandboxSession(ctx, session.ID))

	_, err := db.GetSandboxSession(ctx, session.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting an already-removed session is not an error.
	require.NoError(t, db.DeleteSandboxSession(ctx, session.ID))
}
