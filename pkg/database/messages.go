package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gruntyhq/grunty/pkg/models"
)

// CreateMessage inserts a new message with the user side recorded and the
// assistant side pending.
func (db *DB) CreateMessage(ctx context.Context, id, chatID, userMessage string) (*models.Message, error) {
	now := time.Now().UTC()
	_, err := db.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, user_message, token_count, created_at)
		VALUES ($1, $2, $3, 0, $4)
	`, id, chatID, userMessage, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	return &models.Message{
		ID:          id,
		ChatID:      chatID,
		UserMessage: userMessage,
		CreatedAt:   now,
	}, nil
}

// CompleteMessage records the assistant side of a message. Used both for
// periodic checkpoints during streaming and for the final write; the last
// call wins, and after the stream ends the row is never touched again.
func (db *DB) CompleteMessage(ctx context.Context, id, assistantMessage string, toolCalls, toolResults *string, tokenCount int) error {
	result, err := db.ExecContext(ctx, `
		UPDATE messages
		SET assistant_message = $1, tool_calls = $2, tool_results = $3, token_count = $4
		WHERE id = $5
	`, assistantMessage, toolCalls, toolResults, tokenCount, id)
	if err != nil {
		return fmt.Errorf("failed to complete message: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListMessages returns a chat's messages oldest first. A limit of zero or
// less returns all of them.
func (db *DB) ListMessages(ctx context.Context, chatID string, limit int) ([]*models.Message, error) {
	query := `
		SELECT id, chat_id, user_message, assistant_message, tool_calls, tool_results, token_count, created_at
		FROM messages
		WHERE chat_id = $1
		ORDER BY created_at ASC
	`
	args := []interface{}{chatID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var msg models.Message
	var assistant, toolCalls, toolResults sql.NullString

	err := row.Scan(
		&msg.ID, &msg.ChatID, &msg.UserMessage,
		&assistant, &toolCalls, &toolResults,
		&msg.TokenCount, &msg.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}

	if assistant.Valid {
		msg.AssistantMessage = &assistant.String
	}
	if toolCalls.Valid {
		msg.ToolCalls = &toolCalls.String
	}
	if toolResults.Valid {
		msg.ToolResults = &toolResults.String
	}

	return &msg, nil
}
