// Package cooldown suppresses person+action combinations after explicit
// negative feedback.
package cooldown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Andriy31193/aipatterner/internal/policy"
	"github.com/Andriy31193/aipatterner/internal/store"
	"github.com/Andriy31193/aipatterner/internal/types"
)

// Service records and consults cooldowns. Only "no" feedback creates one;
// the matching and scheduling paths check IsActive before reinforcing or
// creating anything for the action.
type Service struct {
	repo   store.Cooldowns
	pol    policy.Snapshot
	logger *slog.Logger
}

// NewService returns a Service over the given repository and policy.
func NewService(repo store.Cooldowns, pol policy.Snapshot, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, pol: pol, logger: logger.With("component", "cooldown")}
}

// RecordNegativeFeedback inserts or extends the cooldown for person+action
// for the configured duration from now.
func (s *Service) RecordNegativeFeedback(ctx context.Context, personID, actionType string, now time.Time) error {
	c := &types.ReminderCooldown{
		ID:         uuid.NewString(),
		PersonID:   personID,
		ActionType: actionType,
		ExpiresAt:  now.Add(s.pol.CooldownDuration()),
		CreatedAt:  now,
	}
	if err := s.repo.Upsert(ctx, c); err != nil {
		return fmt.Errorf("cooldown: record: %w", err)
	}
	s.logger.Debug("cooldown recorded",
		"person", personID, "action", actionType, "expiresAt", c.ExpiresAt)
	return nil
}

// IsActive reports whether person+action is currently suppressed.
func (s *Service) IsActive(ctx context.Context, personID, actionType string, now time.Time) (bool, error) {
	_, err := s.repo.GetActive(ctx, personID, actionType, now)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cooldown: lookup: %w", err)
	}
	return true, nil
}
