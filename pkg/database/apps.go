package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gruntyhq/grunty/pkg/models"
)

// versionInsertRetries bounds retry-on-conflict for concurrent version
// creation against the same app.
const versionInsertRetries = 10

// CreateApp inserts a new app owned by userID.
func (db *DB) CreateApp(ctx context.Context, id, userID, name, description string) (*models.App, error) {
	now := time.Now().UTC()
	_, err := db.ExecContext(ctx, `
		INSERT INTO apps (id, user_id, name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, userID, name, description, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create app: %w", err)
	}

	return &models.App{
		ID:          id,
		UserID:      userID,
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// GetApp retrieves a caller-owned app; missing and not-owned are the same.
func (db *DB) GetApp(ctx context.Context, id, userID string) (*models.App, error) {
	var app models.App
	var description, currentVersionID sql.NullString

	err := db.QueryRowContext(ctx, `
		SELECT id, user_id, name, description, current_version_id, created_at, updated_at
		FROM apps
		WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(
		&app.ID, &app.UserID, &app.Name, &description, &currentVersionID,
		&app.CreatedAt, &app.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get app: %w", err)
	}

	if description.Valid {
		app.Description = description.String
	}
	if currentVersionID.Valid {
		app.CurrentVersionID = &currentVersionID.String
	}

	return &app, nil
}

// ListApps returns the caller's apps, newest-updated first.
func (db *DB) ListApps(ctx context.Context, userID string) ([]*models.App, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, name, description, current_version_id, created_at, updated_at
		FROM apps
		WHERE user_id = $1
		ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list apps: %w", err)
	}
	defer rows.Close()

	var apps []*models.App
	for rows.Next() {
		var app models.App
		var description, currentVersionID sql.NullString

		err := rows.Scan(
			&app.ID, &app.UserID, &app.Name, &description, &currentVersionID,
			&app.CreatedAt, &app.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan app: %w", err)
		}
		if description.Valid {
			app.Description = description.String
		}
		if currentVersionID.Valid {
			app.CurrentVersionID = &currentVersionID.String
		}
		apps = append(apps, &app)
	}

	return apps, rows.Err()
}

// DeleteApp removes a caller-owned app and its versions transactionally,
// clearing the current-version reference first.
func (db *DB) DeleteApp(ctx context.Context, id, userID string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // rollback after commit is a no-op
		tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx,
		"UPDATE apps SET current_version_id = NULL WHERE id = $1 AND user_id = $2", id, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear current version: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM app_versions WHERE app_id = $1", id); err != nil {
		return fmt.Errorf("failed to delete app versions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE chats SET app_id = NULL WHERE app_id = $1", id); err != nil {
		return fmt.Errorf("failed to unlink chats: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM apps WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to delete app: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit app delete: %w", err)
	}
	return nil
}

// CreateAppVersion inserts the next version for an app. The version number
// is assigned inside the INSERT itself (MAX+1 in a single statement), and
// the UNIQUE(app_id, version_number) constraint catches the remaining
// write-write races; on conflict the insert is retried with a fresh number.
func (db *DB) CreateAppVersion(ctx context.Context, appID, userID, code string) (*models.AppVersion, error) {
	// Ownership check up front so a foreign app id reads as not found.
	if _, err := db.GetApp(ctx, appID, userID); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < versionInsertRetries; attempt++ {
		id := uuid.New().String()
		now := time.Now().UTC()

		_, err := db.ExecContext(ctx, `
			INSERT INTO app_versions (id, app_id, version_number, code, created_at)
			SELECT $1, $2, COALESCE(MAX(version_number), 0) + 1, $3, $4
			FROM app_versions
			WHERE app_id = $5
		`, id, appID, code, now, appID)
		if err != nil {
			if isUniqueViolation(err) {
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("failed to create app version: %w", err)
		}

		version, err := db.getVersionByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if _, err := db.ExecContext(ctx, `
			UPDATE apps SET current_version_id = $1, updated_at = $2 WHERE id = $3
		`, id, now, appID); err != nil {
			return nil, fmt.Errorf("failed to set current version: %w", err)
		}

		return version, nil
	}

	return nil, fmt.Errorf("failed to create app version after %d attempts: %w", versionInsertRetries, lastErr)
}

// isUniqueViolation reports whether err is a unique-constraint failure from
// either driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}

func (db *DB) getVersionByID(ctx context.Context, id string) (*models.AppVersion, error) {
	var version models.AppVersion
	var screenshotKey sql.NullString

	err := db.QueryRowContext(ctx, `
		SELECT id, app_id, version_number, code, screenshot_key, created_at
		FROM app_versions
		WHERE id = $1
	`, id).Scan(
		&version.ID, &version.AppID, &version.VersionNumber, &version.Code,
		&screenshotKey, &version.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get app version: %w", err)
	}

	if screenshotKey.Valid {
		version.ScreenshotKey = &screenshotKey.String
	}
	return &version, nil
}

// GetAppVersion retrieves one version of a caller-owned app by number.
func (db *DB) GetAppVersion(ctx context.Context, appID, userID string, versionNumber int) (*models.AppVersion, error) {
	if _, err := db.GetApp(ctx, appID, userID); err != nil {
		return nil, err
	}

	var version models.AppVersion
	var screenshotKey sql.NullString

	err := db.QueryRowContext(ctx, `
		SELECT id, app_id, version_number, code, screenshot_key, created_at
		FROM app_versions
		WHERE app_id = $1 AND version_number = $2
	`, appID, versionNumber).Scan(
		&version.ID, &version.AppID, &version.VersionNumber, &version.Code,
		&screenshotKey, &version.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get app version: %w", err)
	}

	if screenshotKey.Valid {
		version.ScreenshotKey = &screenshotKey.String
	}
	return &version, nil
}

// ListAppVersions returns an app's versions, newest first.
func (db *DB) ListAppVersions(ctx context.Context, appID, userID string) ([]*models.AppVersion, error) {
	if _, err := db.GetApp(ctx, appID, userID); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, app_id, version_number, code, screenshot_key, created_at
		FROM app_versions
		WHERE app_id = $1
		ORDER BY version_number DESC
	`, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to list app versions: %w", err)
	}
	defer rows.Close()

	var versions []*models.AppVersion
	for rows.Next() {
		var version models.AppVersion
		var screenshotKey sql.NullString

		err := rows.Scan(
			&version.ID, &version.AppID, &version.VersionNumber, &version.Code,
			&screenshotKey, &version.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan app version: %w", err)
		}
		if screenshotKey.Valid {
			version.ScreenshotKey = &screenshotKey.String
		}
		versions = append(versions, &version)
	}

	return versions, rows.Err()
}

// SwitchAppVersion points the app's current version at an existing version.
func (db *DB) SwitchAppVersion(ctx context.Context, appID, userID, versionID string) error {
	if _, err := db.GetApp(ctx, appID, userID); err != nil {
		return err
	}

	var exists int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM app_versions WHERE id = $1 AND app_id = $2", versionID, appID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check version: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	_, err = db.ExecContext(ctx, `
		UPDATE apps SET current_version_id = $1, updated_at = $2 WHERE id = $3
	`, versionID, time.Now().UTC(), appID)
	if err != nil {
		return fmt.Errorf("failed to switch version: %w", err)
	}
	return nil
}

// SetVersionScreenshot records the object-storage key of a version preview.
func (db *DB) SetVersionScreenshot(ctx context.Context, versionID, screenshotKey string) error {
	result, err := db.ExecContext(ctx, `
		UPDATE app_versions SET screenshot_key = $1 WHERE id = $2
	`, screenshotKey, versionID)
	if err != nil {
		return fmt.Errorf("failed to set screenshot: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountAppVersions returns how many versions an app has.
func (db *DB) CountAppVersions(ctx context.Context, appID string) (int, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM app_versions WHERE app_id = $1", appID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count versions: %w", err)
	}
	return count, nil
}
