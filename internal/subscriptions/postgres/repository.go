// Package postgres provides PostgreSQL implementation of the subscription repository.
package postgres

import (
	"context"
	"fmt"

	"github.com/bissquit/signal-relay/internal/domain"
	"github.com/bissquit/signal-relay/internal/subscriptions"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const subscriptionColumns = `id, user_id, channel_id, tier, active, created_at, updated_at`

const activateQuery = `
	INSERT INTO subscriptions (user_id, channel_id, tier, active)
	VALUES ($1, $2, $3, TRUE)
	ON CONFLICT (user_id, channel_id) DO UPDATE
	SET tier = CASE
			WHEN subscriptions.active AND subscriptions.tier = 'paid' THEN subscriptions.tier
			ELSE EXCLUDED.tier
		END,
		active = TRUE,
		updated_at = NOW()
	RETURNING ` + subscriptionColumns

// Repository implements subscriptions.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var s domain.Subscription
	if err := row.Scan(&s.ID, &s.UserID, &s.ChannelID, &s.Tier, &s.Active, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	return &s, nil
}

// IsSubscribed reports whether an active record exists.
func (r *Repository) IsSubscribed(ctx context.Context, userID, channelID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM subscriptions WHERE user_id = $1 AND channel_id = $2 AND active)`,
		userID, channelID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check subscription: %w", err)
	}
	return exists, nil
}

// HasActiveTier reports whether an active record of the given tier exists.
func (r *Repository) HasActiveTier(ctx context.Context, userID, channelID string, tier domain.SubscriptionType) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM subscriptions WHERE user_id = $1 AND channel_id = $2 AND tier = $3 AND active)`,
		userID, channelID, tier,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check subscription tier: %w", err)
	}
	return exists, nil
}

// Activate creates or reactivates a subscription.
func (r *Repository) Activate(ctx context.Context, userID, channelID string, tier domain.SubscriptionType) (*domain.Subscription, error) {
	return scanSubscription(r.db.QueryRow(ctx, activateQuery, userID, channelID, tier))
}

// Deactivate marks the active subscription inactive.
func (r *Repository) Deactivate(ctx context.Context, userID, channelID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions SET active = FALSE, updated_at = NOW() WHERE user_id = $1 AND channel_id = $2 AND active`,
		userID, channelID,
	)
	if err != nil {
		return fmt.Errorf("deactivate subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return subscriptions.ErrSubscriptionNotFound
	}
	return nil
}

// ListByUser returns the user's subscriptions, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID string) ([]domain.Subscription, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Subscription, 0)
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return result, nil
}

// ListSubscriberIDs returns non-blocked users actively subscribed to the channel at tier.
func (r *Repository) ListSubscriberIDs(ctx context.Context, channelID string, tier domain.SubscriptionType) ([]string, error) {
	return r.queryIDs(ctx, `
		SELECT u.id FROM subscriptions s
		JOIN users u ON u.id = s.user_id
		WHERE s.channel_id = $1 AND s.tier = $2 AND s.active AND NOT u.blocked
		ORDER BY u.id
	`, channelID, tier)
}

// ListAllUserIDs returns every non-blocked user.
func (r *Repository) ListAllUserIDs(ctx context.Context) ([]string, error) {
	return r.queryIDs(ctx, `SELECT id FROM users WHERE NOT blocked ORDER BY id`)
}

func (r *Repository) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recipients: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect recipients: %w", err)
	}
	return ids, nil
}

// BeginTx starts a new transaction.
func (r *Repository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.db.Begin(ctx)
}

// ActivateTx creates or reactivates a subscription within a transaction.
func (r *Repository) ActivateTx(ctx context.Context, tx pgx.Tx, userID, channelID string, tier domain.SubscriptionType) (*domain.Subscription, error) {
	return scanSubscription(tx.QueryRow(ctx, activateQuery, userID, channelID, tier))
}
