package users

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gruntyhq/grunty/pkg/database"
)

// Service handles user operations
type Service struct {
	db     *database.DB
	logger *zap.Logger
}

// NewService creates a new user service
func NewService(db *database.DB, logger *zap.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger,
	}
}

// User represents a user
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        *string    `json:"email,omitempty"`
	Status       string     `json:"status"`
	Plan         string     `json:"plan"`
	MessageCount int64      `json:"message_count"`
	TokenCount   int64      `json:"token_count"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// CreateUserRequest is the request to create a user
type CreateUserRequest struct {
	Username string
	Email    string
	Password string
	Plan     string
	Status   string
}

// CreateUser creates a new user
func (s *Service) CreateUser(ctx context.Context, req *CreateUserRequest) (*User, error) {
	id := uuid.New().String()

	var passwordHash sql.NullString
	if req.Password != "" {
		hash, err := hashPassword(req.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		passwordHash = sql.NullString{String: hash, Valid: true}
	}

	var email sql.NullString
	if req.Email != "" {
		email = sql.NullString{String: req.Email, Valid: true}
	}

	plan := req.Plan
	if plan == "" {
		plan = "free"
	}
	status := req.Status
	if status == "" {
		status = "active"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, status, plan, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`, id, req.Username, email, passwordHash, status, plan)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("user created", zap.String("user_id", id), zap.String("username", req.Username))

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID
func (s *Service) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.queryUser(ctx, `
		SELECT id, username, email, status, plan, message_count, token_count, created_at, updated_at, last_login
		FROM users
		WHERE id = $1
	`, id)
}

// GetUserByUsername retrieves a user by username
func (s *Service) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.queryUser(ctx, `
		SELECT id, username, email, status, plan, message_count, token_count, created_at, updated_at, last_login
		FROM users
		WHERE username = $1
	`, username)
}

func (s *Service) queryUser(ctx context.Context, query string, arg interface{}) (*User, error) {
	var dbUser database.User
	var email sql.NullString
	var lastLogin sql.NullTime

	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&dbUser.ID, &dbUser.Username, &email, &dbUser.Status, &dbUser.Plan,
		&dbUser.MessageCount, &dbUser.TokenCount,
		&dbUser.CreatedAt, &dbUser.UpdatedAt, &lastLogin,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user := &User{
		ID:           dbUser.ID,
		Username:     dbUser.Username,
		Status:       dbUser.Status,
		Plan:         dbUser.Plan,
		MessageCount: dbUser.MessageCount,
		TokenCount:   dbUser.TokenCount,
		CreatedAt:    dbUser.CreatedAt,
		UpdatedAt:    dbUser.UpdatedAt,
	}

	if email.Valid {
		user.Email = &email.String
	}
	if lastLogin.Valid {
		user.LastLogin = &lastLogin.Time
	}

	return user, nil
}

// GetUserWithPassword retrieves a user with password hash for authentication
func (s *Service) GetUserWithPassword(ctx context.Context, username string) (*User, string, error) {
	var passwordHash sql.NullString

	err := s.db.QueryRowContext(ctx,
		"SELECT password_hash FROM users WHERE username = $1", username,
	).Scan(&passwordHash)
	if err == sql.ErrNoRows {
		return nil, "", fmt.Errorf("user not found")
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to get user: %w", err)
	}

	user, err := s.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, "", err
	}

	hash := ""
	if passwordHash.Valid {
		hash = passwordHash.String
	}

	return user, hash, nil
}

// UpdateLastLogin updates the user's last login timestamp
func (s *Service) UpdateLastLogin(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET last_login = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`, userID)
	return err
}

// RecordUsage adds to a user's message and token counters.
func (s *Service) RecordUsage(ctx context.Context, userID string, messages, tokens int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET message_count = message_count + $1,
		    token_count = token_count + $2,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $3
	`, messages, tokens, userID)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}
