package notifications

import (
	"context"
	"fmt"
	"strings"

	"github.com/bissquit/signal-relay/internal/domain"
	"github.com/bissquit/signal-relay/internal/pkg/ctxlog"
)

// List limits.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Service serves a user's notification inbox and device registrations.
type Service struct {
	repo Repository
}

// NewService creates a new notifications service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// ListForUser returns the user's notifications, newest first.
func (s *Service) ListForUser(ctx context.Context, userID string, f ListFilter) ([]domain.Notification, error) {
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultListLimit
	case f.Limit > MaxListLimit:
		f.Limit = MaxListLimit
	}
	return s.repo.ListByUser(ctx, userID, f)
}

// MarkRead flips the read flag. Only the recipient may do so.
func (s *Service) MarkRead(ctx context.Context, userID, id string) error {
	return s.repo.MarkRead(ctx, userID, id)
}

// UnreadCount returns the number of unread notifications.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}

// RegisterDevice stores a push token for the user. A token moves to the
// latest user that registers it.
func (s *Service) RegisterDevice(ctx context.Context, userID, token string, platform domain.DevicePlatform) (*domain.DeviceToken, error) {
	switch platform {
	case domain.DevicePlatformAndroid, domain.DevicePlatformIOS, domain.DevicePlatformWeb:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidPlatform, platform)
	}

	dt, err := s.repo.UpsertDeviceToken(ctx, domain.DeviceToken{
		UserID:   userID,
		Token:    strings.TrimSpace(token),
		Platform: platform,
	})
	if err != nil {
		return nil, fmt.Errorf("register device: %w", err)
	}

	ctxlog.FromContext(ctx).Info("device registered", "user_id", userID, "platform", platform)
	return dt, nil
}

// UnregisterDevice removes one of the user's push tokens.
func (s *Service) UnregisterDevice(ctx context.Context, userID, token string) error {
	return s.repo.DeleteUserDeviceToken(ctx, userID, token)
}
