package usage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/gruntyhq/grunty/pkg/models"
	"github.com/gruntyhq/grunty/pkg/users"
)

// ErrLimitExceeded is returned when a user has spent their plan's message
// allowance.
var ErrLimitExceeded = errors.New("message limit reached")

// planLimits maps plan names to monthly message allowances. Zero means
// unlimited.
var planLimits = map[string]int64{
	"free": 50,
	"pro":  0,
}

// Service tracks per-user consumption and enforces plan allowances.
type Service struct {
	users  *users.Service
	logger *zap.Logger
}

// NewService creates a usage service
func NewService(userService *users.Service, logger *zap.Logger) *Service {
	return &Service{users: userService, logger: logger}
}

// CheckAllowance reports whether the user may send another message.
func (s *Service) CheckAllowance(ctx context.Context, userID string) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	limit, ok := planLimits[user.Plan]
	if !ok {
		limit = planLimits["free"]
	}
	if limit > 0 && user.MessageCount >= limit {
		return fmt.Errorf("%w for plan %q (%d)", ErrLimitExceeded, user.Plan, limit)
	}
	return nil
}

// Record adds one message and its token cost to the user's counters.
func (s *Service) Record(ctx context.Context, userID string, tokens int) error {
	if err := s.users.RecordUsage(ctx, userID, 1, int64(tokens)); err != nil {
		s.logger.Warn("failed to record usage",
			zap.String("user_id", userID), zap.Error(err))
		return err
	}
	return nil
}

// Summary returns the user's consumption against their plan allowance.
func (s *Service) Summary(ctx context.Context, userID string) (*models.UsageResponse, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	limit, ok := planLimits[user.Plan]
	if !ok {
		limit = planLimits["free"]
	}

	return &models.UsageResponse{
		Plan:          user.Plan,
		MessageCount:  user.MessageCount,
		MessageLimit:  limit,
		TokenCount:    user.TokenCount,
		LimitExceeded: limit > 0 && user.MessageCount >= limit,
	}, nil
}
