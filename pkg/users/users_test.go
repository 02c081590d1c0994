package users

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gruntyhq/grunty/pkg/database"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	t.Setenv("GRUNTY_DB_DSN", "")
	t.Setenv("GRUNTY_DB_PATH", filepath.Join(t.TempDir(), "test.db"))

	db, err := database.NewDB(zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})

	return NewService(db, zap.NewNop())
}

func TestCreateUserDefaults(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	user, err := service.CreateUser(ctx, &CreateUserRequest{
		Username: "alice",
		Password: "correct horse",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "free", user.Plan)
	assert.Equal(t, "active", user.Status)
	assert.Nil(t, user.Email)
	assert.Zero(t, user.MessageCount)
}

func TestCreateUserDuplicateUsername(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	_, err := service.CreateUser(ctx, &CreateUserRequest{Username: "alice", Password: "correct horse"})
	require.NoError(t, err)

	_, err = service.CreateUser(ctx, &CreateUserRequest{Username: "alice", Password: "another pass"})
	assert.Error(t, err)
}

func TestGetUserWithPassword(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	created, err := service.CreateUser(ctx, &CreateUserRequest{Username: "alice", Password: "correct horse"})
	require.NoError(t, err)

	user, hash, err := service.GetUserWithPassword(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, created.ID, user.ID)
	assert.True(t, VerifyPassword(hash, "correct horse"))
	assert.False(t, VerifyPassword(hash, "wrong"))

	_, _, err = service.GetUserWithPassword(ctx, "nobody")
	assert.Error(t, err)
}

func TestRecordUsage(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	user, err := service.CreateUser(ctx, &CreateUserRequest{Username: "alice", Password: "correct horse"})
	require.NoError(t, err)

	require.NoError(t, service.RecordUsage(ctx, user.ID, 1, 250))
	require.NoError(t, service.RecordUsage(ctx, user.ID, 1, 130))

	got, err := service.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.MessageCount)
	assert.Equal(t, int64(380), got.TokenCount)
}

func TestUpdateLastLogin(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	user, err := service.CreateUser(ctx, &CreateUserRequest{Username: "alice", Password: "correct horse"})
	require.NoError(t, err)
	assert.Nil(t, user.LastLogin)

	require.NoError(t, service.UpdateLastLogin(ctx, user.ID))

	got, err := service.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastLogin)
}
