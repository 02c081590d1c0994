package database

import (
	"database/sql"
	"time"
)

// User represents a user row
type User struct {
	ID           string
	Username     string
	Email        sql.NullString
	PasswordHash sql.NullString
	Status       string
	Plan         string
	MessageCount int64
	TokenCount   int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastLogin    sql.NullTime
}

// Metric represents a metric data point
type Metric struct {
	ID         string
	UserID     sql.NullString
	MetricType string // active_sandboxes, messages_total, tokens_total
	Value      float64
	Timestamp  time.Time
}
