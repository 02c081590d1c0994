package database

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateChatDefaultName(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	userID := createTestUser(t, db)

	chat, err := db.CreateChat(ctx, uuid.New().String(), userID, "")
	require.NoError(t, err)
	assert.Equal(t, "New Chat", chat.Name)

	named, err := db.CreateChat(ctx, uuid.New().String(), userID, "Sales Analysis")
	require.NoError(t, err)
	assert.Equal(t, "Sales Analysis", named.Name)
}

func TestGetChatOwnerScoped(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	owner := createTestUser(t, db)
	other := createTestUser(t, db)

	chat, err := db.CreateChat(ctx, uuid.New().String(), owner, "Mine")
	require.NoError(t, err)

	got, err := db.GetChat(ctx, chat.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, chat.ID, got.ID)

	// Another user's lookup is indistinguishable from a missing chat.
	_, err = db.GetChat(ctx, chat.ID, other)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = db.GetChat(ctx, uuid.New().String(), owner)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListChatsPagination(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	userID := createTestUser(t, db)

	for i := 0; i < 5; i++ {
		_, err := db.CreateChat(ctx, uuid.New().String(), userID, "Chat")
		require.NoError(t, err)
	}

	chats, total, err := db.ListChats(ctx, userID, 2, 0)
	require.NoError(t, err)
	assert.Len(t, chats, 2)
	assert.Equal(t, 5, total)

	rest, total, err := db.ListChats(ctx, userID, 10, 4)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
	assert.Equal(t, 5, total)
}

func TestUpdateChatName(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	userID := createTestUser(t, db)

	chat, err := db.CreateChat(ctx, uuid.New().String(), userID, "")
	require.NoError(t, err)

	require.NoError(t, db.UpdateChatName(ctx, chat.ID, userID, "Renamed"))

	got, err := db.GetChat(ctx, chat.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)

	err = db.UpdateChatName(ctx, uuid.New().String(), userID, "Nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteChatCascades(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	userID := createTestUser(t, db)

	chat, err := db.CreateChat(ctx, uuid.New().String(), userID, "")
	require.NoError(t, err)

	_, err = db.CreateMessage(ctx, uuid.New().String(), chat.ID, "hello")
	require.NoError(t, err)

	file := testFile(userID)
	require.NoError(t, db.SaveFile(ctx, file))
	require.NoError(t, db.AssociateFile(ctx, chat.ID, file.ID))

	app, err := db.CreateApp(ctx, uuid.New().String(), userID, "App", "")
	require.NoError(t, err)
	_, err = db.CreateAppVersion(ctx, app.ID, userID, "import streamlit")
	require.NoError(t, err)
	require.NoError(t, db.LinkChatApp(ctx, chat.ID, userID, app.ID))

	require.NoError(t, db.DeleteChat(ctx, chat.ID, userID))

	_, err = db.GetChat(ctx, chat.ID, userID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Message rows are gone with the chat.
	messages, err := db.ListMessages(ctx, chat.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, messages)

	// The app and its version go with the chat.
	_, err = db.GetApp(ctx, app.ID, userID)
	assert.ErrorIs(t, err, ErrNotFound)

	// The uploaded file survives; only the association is removed.
	_, err = db.GetFile(ctx, file.ID, userID)
	require.NoError(t, err)
	var count int
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chat_files WHERE file_id = $1", file.ID).Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDeleteChatWithoutDependents(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	userID := createTestUser(t, db)

	chat, err := db.CreateChat(ctx, uuid.New().String(), userID, "")
	require.NoError(t, err)

	require.NoError(t, db.DeleteChat(ctx, chat.ID, userID))

	err = db.DeleteChat(ctx, chat.ID, userID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompleteMessage(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	userID := createTestUser(t, db)

	chat, err := db.CreateChat(ctx, uuid.New().String(), userID, "")
	require.NoError(t, err)

	msg, err := db.CreateMessage(ctx, uuid.New().String(), chat.ID, "build me a chart")
	require.NoError(t, err)
	assert.Nil(t, msg.AssistantMessage)

	calls := `[{"name":"generate_streamlit_app"}]`
	require.NoError(t, db.CompleteMessage(ctx, msg.ID, "done", &calls, nil, 42))

	messages, err := db.ListMessages(ctx, chat.ID, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	latest := messages[0]
	require.NotNil(t, latest.AssistantMessage)
	assert.Equal(t, "done", *latest.AssistantMessage)
	require.NotNil(t, latest.ToolCalls)
	assert.Equal(t, calls, *latest.ToolCalls)
	assert.Equal(t, 42, latest.TokenCount)
}
