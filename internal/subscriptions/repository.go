// Package subscriptions manages user subscriptions and channel entitlement.
package subscriptions

import (
	"context"

	"github.com/bissquit/signal-relay/internal/domain"
	"github.com/jackc/pgx/v5"
)

// Repository defines the subscription storage.
type Repository interface {
	IsSubscribed(ctx context.Context, userID, channelID string) (bool, error)
	// HasActiveTier reports whether the user holds an active subscription of the given tier.
	HasActiveTier(ctx context.Context, userID, channelID string, tier domain.SubscriptionType) (bool, error)
	// Activate creates the record or reactivates an existing one. An active
	// paid record is never downgraded.
	Activate(ctx context.Context, userID, channelID string, tier domain.SubscriptionType) (*domain.Subscription, error)
	// Deactivate returns ErrSubscriptionNotFound when no active record exists.
	Deactivate(ctx context.Context, userID, channelID string) error
	ListByUser(ctx context.Context, userID string) ([]domain.Subscription, error)
	// ListSubscriberIDs returns non-blocked users with an active subscription
	// of the given tier to the channel.
	ListSubscriberIDs(ctx context.Context, channelID string, tier domain.SubscriptionType) ([]string, error)
	// ListAllUserIDs returns every non-blocked user.
	ListAllUserIDs(ctx context.Context) ([]string, error)

	BeginTx(ctx context.Context) (pgx.Tx, error)
	ActivateTx(ctx context.Context, tx pgx.Tx, userID, channelID string, tier domain.SubscriptionType) (*domain.Subscription, error)
}
