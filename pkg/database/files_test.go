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

func testFile(userID string) *models.File {
	return &models.File{
		ID:          uuid.New().String(),
		UserID:      userID,
		Name:        "data.csv",
		ContentType: "text/csv",
		SizeBytes:   128,
		StorageKey:  userID + "/files/data.csv",
		Analysis: &models.CSVAnalysis{
			Columns:   []models.CSVColumn{{Name: "amount", Type: "number"}},
			TotalRows: 3,
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestSaveAndGetFile(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	userID := createTestUser(t, db)

	file := testFile(userID)
	require.NoError(t, db.SaveFile(ctx, file))

	got, err := db.GetFile(ctx, file.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, file.Name, got.Name)
	require.NotNil(t, got.Analysis)
	assert.Equal(t, "amount", got.Analysis.Columns[0].Name)
	assert.Equal(t, "number", got.Analysis.Columns[0].Type)
}

func TestGetFileLazyExpiry(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	userID := createTestUser(t, db)

	file := testFile(userID)
	past := time.Now().UTC().Add(-time.Minute)
	file.ExpiresAt = &past
	require.NoError(t, db.SaveFile(ctx, file))

	// An expired file reads as missing and its row is purged.
	_, err := db.GetFile(ctx, file.ID, userID)
	assert.ErrorIs(t, err, ErrNotFound)

	var count int
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM files WHERE id = $1", file.ID).Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestListFilesSkipsExpired(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	userID := createTestUser(t, db)

	live := testFile(userID)
	require.NoError(t, db.SaveFile(ctx, live))

	expired := testFile(userID)
	past := time.Now().UTC().Add(-time.Hour)
	expired.ExpiresAt = &past
	require.NoError(t, db.SaveFile(ctx, expired))

	files, err := db.ListFiles(ctx, userID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, live.ID, files[0].ID)
}

func TestAssociateFileIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	userID := createTestUser(t, db)

	chat, err := db.CreateChat(ctx, uuid.New().String(), userID, "")
	require.NoError(t, err)

	file := testFile(userID)
	require.NoError(t, db.SaveFile(ctx, file))

	require.NoError(t, db.AssociateFile(ctx, chat.ID, file.ID))
	require.NoError(t, db.AssociateFile(ctx, chat.ID, file.ID))

	files, err := db.ListChatFiles(ctx, chat.ID)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestDeleteFileRemovesAssociations(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	userID := createTestUser(t, db)

	chat, err := db.CreateChat(ctx, uuid.New().String(), userID, "")
	require.NoError(t, err)

	file := testFile(userID)
	require.NoError(t, db.SaveFile(ctx, file))
	require.NoError(t, db.AssociateFile(ctx, chat.ID, file.ID))

	require.NoError(t, db.DeleteFile(ctx, file.ID, userID))

	files, err := db.ListChatFiles(ctx, chat.ID)
	require.NoError(t, err)
	assert.Empty(t, files)

	err = db.DeleteFile(ctx, file.ID, userID)
	assert.ErrorIs(t, err, ErrNotFound)
}
