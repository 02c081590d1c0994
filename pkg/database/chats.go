package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gruntyhq/grunty/pkg/models"
)

// CreateChat inserts a new chat scoped to the owner. An empty name defaults
// to "New Chat".
func (db *DB) CreateChat(ctx context.Context, id, userID, name string) (*models.Chat, error) {
	if name == "" {
		name = "New Chat"
	}

	now := time.Now().UTC()
	_, err := db.ExecContext(ctx, `
		INSERT INTO chats (id, user_id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id, userID, name, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}

	return &models.Chat{
		ID:        id,
		UserID:    userID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// GetChat retrieves a chat only if owned by userID. A missing chat and a
// chat owned by someone else both return ErrNotFound.
func (db *DB) GetChat(ctx context.Context, id, userID string) (*models.Chat, error) {
	var chat models.Chat
	var appID sql.NullString

	err := db.QueryRowContext(ctx, `
		SELECT id, user_id, name, app_id, created_at, updated_at
		FROM chats
		WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(
		&chat.ID, &chat.UserID, &chat.Name, &appID, &chat.CreatedAt, &chat.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}

	if appID.Valid {
		chat.AppID = &appID.String
	}

	return &chat, nil
}

// ListChats returns the caller's chats, newest-updated first.
func (db *DB) ListChats(ctx context.Context, userID string, limit, offset int) ([]*models.Chat, int, error) {
	var total int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chats WHERE user_id = $1", userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count chats: %w", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, name, app_id, created_at, updated_at
		FROM chats
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	var chats []*models.Chat
	for rows.Next() {
		var chat models.Chat
		var appID sql.NullString

		if err := rows.Scan(&chat.ID, &chat.UserID, &chat.Name, &appID, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan chat: %w", err)
		}
		if appID.Valid {
			chat.AppID = &appID.String
		}
		chats = append(chats, &chat)
	}

	return chats, total, rows.Err()
}

// UpdateChatName renames a caller-owned chat and bumps updated_at.
func (db *DB) UpdateChatName(ctx context.Context, id, userID, name string) error {
	result, err := db.ExecContext(ctx, `
		UPDATE chats
		SET name = $1, updated_at = $2
		WHERE id = $3 AND user_id = $4
	`, name, time.Now().UTC(), id, userID)
	if err != nil {
		return fmt.Errorf("failed to update chat name: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchChat bumps a chat's updated_at without changing anything else.
func (db *DB) TouchChat(ctx context.Context, id, userID string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE chats SET updated_at = $1 WHERE id = $2 AND user_id = $3
	`, time.Now().UTC(), id, userID)
	return err
}

// LinkChatApp records the app a chat produced.
func (db *DB) LinkChatApp(ctx context.Context, chatID, userID, appID string) error {
	result, err := db.ExecContext(ctx, `
		UPDATE chats SET app_id = $1, updated_at = $2 WHERE id = $3 AND user_id = $4
	`, appID, time.Now().UTC(), chatID, userID)
	if err != nil {
		return fmt.Errorf("failed to link chat app: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteChat removes a chat and all dependents in one transaction. The
// cascade order matters: the app's current-version reference is cleared
// before versions are deleted so no dangling reference is ever visible.
func (db *DB) DeleteChat(ctx context.Context, id, userID string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // rollback after commit is a no-op
		tx.Rollback()
	}()

	var appID sql.NullString
	err = tx.QueryRowContext(ctx,
		"SELECT app_id FROM chats WHERE id = $1 AND user_id = $2", id, userID,
	).Scan(&appID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load chat for delete: %w", err)
	}

	if appID.Valid {
		if _, err := tx.ExecContext(ctx,
			"UPDATE apps SET current_version_id = NULL WHERE id = $1", appID.String,
		); err != nil {
			return fmt.Errorf("failed to clear current version: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM app_versions WHERE app_id = $1", appID.String,
		); err != nil {
			return fmt.Errorf("failed to delete app versions: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM apps WHERE id = $1", appID.String,
		); err != nil {
			return fmt.Errorf("failed to delete app: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM chat_files WHERE chat_id = $1", id); err != nil {
		return fmt.Errorf("failed to delete chat file associations: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE chat_id = $1", id); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM chats WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chat delete: %w", err)
	}

	db.logger.Info("chat deleted", zap.String("chat_id", id), zap.String("user_id", userID))
	return nil
}
