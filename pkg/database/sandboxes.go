package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gruntyhq/grunty/pkg/models"
)

// SaveSandboxSession upserts the persisted record of a user's sandbox. One
// row per user; replacing a sandbox overwrites the previous row.
func (db *DB) SaveSandboxSession(ctx context.Context, s *models.SandboxSession) error {
	var query string
	if db.driver == "postgres" {
		query = `
			INSERT INTO sandbox_sessions (id, user_id, namespace, pod_name, status, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (user_id) DO UPDATE SET
				id = EXCLUDED.id,
				namespace = EXCLUDED.namespace,
				pod_name = EXCLUDED.pod_name,
				status = EXCLUDED.status,
				created_at = EXCLUDED.created_at,
				expires_at = EXCLUDED.expires_at
		`
	} else {
		query = `
			INSERT OR REPLACE INTO sandbox_sessions (id, user_id, namespace, pod_name, status, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`
	}

	_, err := db.ExecContext(ctx, query,
		s.ID, s.UserID, s.Namespace, s.PodName, string(s.Status), s.CreatedAt, s.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save sandbox session: %w", err)
	}
	return nil
}

// GetSandboxSession retrieves a sandbox session by sandbox id.
func (db *DB) GetSandboxSession(ctx context.Context, id string) (*models.SandboxSession, error) {
	return db.querySandboxSession(ctx,
		"SELECT id, user_id, namespace, pod_name, status, created_at, expires_at FROM sandbox_sessions WHERE id = $1", id)
}

// GetSandboxSessionByUser retrieves a user's sandbox session, if any.
func (db *DB) GetSandboxSessionByUser(ctx context.Context, userID string) (*models.SandboxSession, error) {
	return db.querySandboxSession(ctx,
		"SELECT id, user_id, namespace, pod_name, status, created_at, expires_at FROM sandbox_sessions WHERE user_id = $1", userID)
}

func (db *DB) querySandboxSession(ctx context.Context, query string, arg interface{}) (*models.SandboxSession, error) {
	var s models.SandboxSession
	var status string

	err := db.QueryRowContext(ctx, query, arg).Scan(
		&s.ID, &s.UserID, &s.Namespace, &s.PodName, &status, &s.CreatedAt, &s.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sandbox session: %w", err)
	}

	s.Status = models.SandboxStatus(status)
	return &s, nil
}

// TouchSandboxSession extends a session's lifetime and optionally updates
// its status.
func (db *DB) TouchSandboxSession(ctx context.Context, id string, status models.SandboxStatus, expiresAt time.Time) error {
	result, err := db.ExecContext(ctx, `
		UPDATE sandbox_sessions SET status = $1, expires_at = $2 WHERE id = $3
	`, string(status), expiresAt, id)
	if err != nil {
		return fmt.Errorf("failed to touch sandbox session: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSandboxSession removes a session row.
func (db *DB) DeleteSandboxSession(ctx context.Context, id string) error {
	_, err := db.ExecContext(ctx, "DELETE FROM sandbox_sessions WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete sandbox session: %w", err)
	}
	return nil
}

// ListExpiredSandboxSessions returns sessions whose lifetime has elapsed.
func (db *DB) ListExpiredSandboxSessions(ctx context.Context, now time.Time) ([]*models.SandboxSession, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, namespace, pod_name, status, created_at, expires_at
		FROM sandbox_sessions
		WHERE expires_at < $1
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.SandboxSession
	for rows.Next() {
		var s models.SandboxSession
		var status string
		if err := rows.Scan(&s.ID, &s.UserID, &s.Namespace, &s.PodName, &status, &s.CreatedAt, &s.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan sandbox session: %w", err)
		}
		s.Status = models.SandboxStatus(status)
		sessions = append(sessions, &s)
	}

	return sessions, rows.Err()
}

// ListActiveSandboxSessions returns sessions that have not expired.
func (db *DB) ListActiveSandboxSessions(ctx context.Context, now time.Time) ([]*models.SandboxSession, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, namespace, pod_name, status, created_at, expires_at
		FROM sandbox_sessions
		WHERE expires_at >= $1
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.SandboxSession
	for rows.Next() {
		var s models.SandboxSession
		var status string
		if err := rows.Scan(&s.ID, &s.UserID, &s.Namespace, &s.PodName, &status, &s.CreatedAt, &s.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan sandbox session: %w", err)
		}
		s.Status = models.SandboxStatus(status)
		sessions = append(sessions, &s)
	}

	return sessions, rows.Err()
}

// CountActiveSandboxSessions counts sessions that have not expired.
func (db *DB) CountActiveSandboxSessions(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sandbox_sessions WHERE expires_at >= $1", now,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count sandbox sessions: %w", err)
	}
	return count, nil
}
