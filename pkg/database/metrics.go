package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SaveMetric stores one metric sample.
func (db *DB) SaveMetric(ctx context.Context, userID, metricType string, value float64) error {
	var uid sql.NullString
	if userID != "" {
		uid = sql.NullString{String: userID, Valid: true}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO metrics (id, user_id, metric_type, value, timestamp)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New().String(), uid, metricType, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save metric: %w", err)
	}
	return nil
}

// PruneMetrics deletes samples older than the retention window.
func (db *DB) PruneMetrics(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := db.ExecContext(ctx, "DELETE FROM metrics WHERE timestamp < $1", olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune metrics: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
