// Package notifications fans channel posts out to entitled users and serves
// their in-app notification inbox.
package notifications

import (
	"context"

	"github.com/bissquit/signal-relay/internal/domain"
)

// ListFilter narrows a user's notification list.
type ListFilter struct {
	Limit      int
	UnreadOnly bool
}

// Repository defines the interface for notifications data access.
type Repository interface {
	// CreateIfAbsent inserts n unless a notification for the same recipient
	// and source message exists. On insert, ID and CreatedAt are filled in.
	CreateIfAbsent(ctx context.Context, n *domain.Notification) (bool, error)
	ListByUser(ctx context.Context, userID string, f ListFilter) ([]domain.Notification, error)
	// MarkRead returns ErrNotificationNotFound unless userID is the recipient.
	MarkRead(ctx context.Context, userID, id string) error
	CountUnread(ctx context.Context, userID string) (int, error)

	UpsertDeviceToken(ctx context.Context, t domain.DeviceToken) (*domain.DeviceToken, error)
	ListDeviceTokens(ctx context.Context, userID string) ([]domain.DeviceToken, error)
	DeleteDeviceToken(ctx context.Context, token string) error
	DeleteUserDeviceToken(ctx context.Context, userID, token string) error
}
