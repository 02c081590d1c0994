package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gruntyhq/grunty/pkg/models"
)

// SaveFile persists a file record. The analysis is serialized to JSON.
func (db *DB) SaveFile(ctx context.Context, file *models.File) error {
	var analysisJSON sql.NullString
	if file.Analysis != nil {
		data, err := json.Marshal(file.Analysis)
		if err != nil {
			return fmt.Errorf("failed to marshal analysis: %w", err)
		}
		analysisJSON = sql.NullString{String: string(data), Valid: true}
	}

	var expiresAt sql.NullTime
	if file.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: *file.ExpiresAt, Valid: true}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO files (id, user_id, name, content_type, size_bytes, storage_key, analysis, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, file.ID, file.UserID, file.Name, file.ContentType, file.SizeBytes,
		file.StorageKey, analysisJSON, expiresAt, file.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save file: %w", err)
	}

	return nil
}

// GetFile retrieves a caller-owned file, enforcing lazy expiry: a file past
// its expiry timestamp is deleted on read and reported as not found.
func (db *DB) GetFile(ctx context.Context, id, userID string) (*models.File, error) {
	file, err := db.getFileRow(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	if file.ExpiresAt != nil && file.ExpiresAt.Before(time.Now().UTC()) {
		if err := db.DeleteFile(ctx, id, userID); err != nil {
			db.logger.Warn("failed to delete expired file", zap.Error(err), zap.String("file_id", id))
		}
		return nil, ErrNotFound
	}

	return file, nil
}

func (db *DB) getFileRow(ctx context.Context, id, userID string) (*models.File, error) {
	var file models.File
	var storageKey, analysisJSON sql.NullString
	var expiresAt sql.NullTime

	err := db.QueryRowContext(ctx, `
		SELECT id, user_id, name, content_type, size_bytes, storage_key, analysis, expires_at, created_at
		FROM files
		WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(
		&file.ID, &file.UserID, &file.Name, &file.ContentType, &file.SizeBytes,
		&storageKey, &analysisJSON, &expiresAt, &file.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}

	if storageKey.Valid {
		file.StorageKey = storageKey.String
	}
	if analysisJSON.Valid {
		var analysis models.CSVAnalysis
		if err := json.Unmarshal([]byte(analysisJSON.String), &analysis); err != nil {
			db.logger.Warn("failed to unmarshal analysis", zap.Error(err), zap.String("file_id", file.ID))
		} else {
			file.Analysis = &analysis
		}
	}
	if expiresAt.Valid {
		file.ExpiresAt = &expiresAt.Time
	}

	return &file, nil
}

// ListFiles returns the caller's files, newest first. Expired files are
// skipped but not deleted here; deletion happens on direct reads.
func (db *DB) ListFiles(ctx context.Context, userID string) ([]*models.File, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, name, content_type, size_bytes, storage_key, analysis, expires_at, created_at
		FROM files
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	var files []*models.File
	for rows.Next() {
		var file models.File
		var storageKey, analysisJSON sql.NullString
		var expiresAt sql.NullTime

		err := rows.Scan(
			&file.ID, &file.UserID, &file.Name, &file.ContentType, &file.SizeBytes,
			&storageKey, &analysisJSON, &expiresAt, &file.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}

		if expiresAt.Valid {
			if expiresAt.Time.Before(now) {
				continue
			}
			file.ExpiresAt = &expiresAt.Time
		}
		if storageKey.Valid {
			file.StorageKey = storageKey.String
		}
		if analysisJSON.Valid {
			var analysis models.CSVAnalysis
			if err := json.Unmarshal([]byte(analysisJSON.String), &analysis); err == nil {
				file.Analysis = &analysis
			}
		}

		files = append(files, &file)
	}

	return files, rows.Err()
}

// DeleteFile removes a caller-owned file. Join rows go first so a partial
// failure can never orphan an association pointing at a missing file.
func (db *DB) DeleteFile(ctx context.Context, id, userID string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // rollback after commit is a no-op
		tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chat_files WHERE file_id = $1", id); err != nil {
		return fmt.Errorf("failed to delete file associations: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		"DELETE FROM files WHERE id = $1 AND user_id = $2", id, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit file delete: %w", err)
	}
	return nil
}

// AssociateFile links a file to a chat. Re-associating an existing pair is
// a no-op, not an error.
func (db *DB) AssociateFile(ctx context.Context, chatID, fileID string) error {
	var query string
	if db.driver == "postgres" {
		query = `
			INSERT INTO chat_files (chat_id, file_id, created_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (chat_id, file_id) DO NOTHING
		`
	} else {
		query = `
			INSERT OR IGNORE INTO chat_files (chat_id, file_id, created_at)
			VALUES ($1, $2, $3)
		`
	}

	_, err := db.ExecContext(ctx, query, chatID, fileID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to associate file: %w", err)
	}
	return nil
}

// ListChatFiles returns the files associated with a chat.
func (db *DB) ListChatFiles(ctx context.Context, chatID string) ([]*models.File, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT f.id, f.user_id, f.name, f.content_type, f.size_bytes, f.storage_key, f.analysis, f.expires_at, f.created_at
		FROM files f
		JOIN chat_files cf ON cf.file_id = f.id
		WHERE cf.chat_id = $1
		ORDER BY cf.created_at ASC
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat files: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	var files []*models.File
	for rows.Next() {
		var file models.File
		var storageKey, analysisJSON sql.NullString
		var expiresAt sql.NullTime

		err := rows.Scan(
			&file.ID, &file.UserID, &file.Name, &file.ContentType, &file.SizeBytes,
			&storageKey, &analysisJSON, &expiresAt, &file.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat file: %w", err)
		}

		if expiresAt.Valid {
			if expiresAt.Time.Before(now) {
				continue
			}
			file.ExpiresAt = &expiresAt.Time
		}
		if storageKey.Valid {
			file.StorageKey = storageKey.String
		}
		if analysisJSON.Valid {
			var analysis models.CSVAnalysis
			if err := json.Unmarshal([]byte(analysisJSON.String), &analysis); err == nil {
				file.Analysis = &analysis
			}
		}

		files = append(files, &file)
	}

	return files, rows.Err()
}
