// Package postgres provides PostgreSQL implementation of notifications repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/signal-relay/internal/domain"
	"github.com/bissquit/signal-relay/internal/notifications"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const notificationColumns = `id, user_id, title, body, type, channel_id, source_message_id, read, created_at`

// Repository implements notifications.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateIfAbsent inserts a notification unless it already exists for the recipient and source message.
func (r *Repository) CreateIfAbsent(ctx context.Context, n *domain.Notification) (bool, error) {
	query := `
		INSERT INTO notifications (user_id, title, body, type, channel_id, source_message_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT ON CONSTRAINT notifications_source_unique DO NOTHING
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		n.UserID,
		n.Title,
		n.Body,
		n.Type,
		n.ChannelID,
		n.SourceMessageID,
	).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("insert notification: %w", err)
	}
	return true, nil
}

// ListByUser returns the user's notifications, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID string, f notifications.ListFilter) ([]domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = $1`
	if f.UnreadOnly {
		query += ` AND NOT read`
	}
	query += ` ORDER BY created_at DESC, id LIMIT $2`

	rows, err := r.db.Query(ctx, query, userID, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Notification, 0)
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(
			&n.ID, &n.UserID, &n.Title, &n.Body, &n.Type,
			&n.ChannelID, &n.SourceMessageID, &n.Read, &n.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return result, nil
}

// MarkRead sets read on a notification owned by userID.
func (r *Repository) MarkRead(ctx context.Context, userID, id string) error {
	tag, err := r.db.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notifications.ErrNotificationNotFound
	}
	return nil
}

// CountUnread returns the number of unread notifications for userID.
func (r *Repository) CountUnread(ctx context.Context, userID string) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT read`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// UpsertDeviceToken stores a device token, reassigning it to the given user.
func (r *Repository) UpsertDeviceToken(ctx context.Context, t domain.DeviceToken) (*domain.DeviceToken, error) {
	query := `
		INSERT INTO device_tokens (token, user_id, platform)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO UPDATE
		SET user_id = EXCLUDED.user_id, platform = EXCLUDED.platform
		RETURNING token, user_id, platform, created_at
	`
	var out domain.DeviceToken
	err := r.db.QueryRow(ctx, query, t.Token, t.UserID, t.Platform).
		Scan(&out.Token, &out.UserID, &out.Platform, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert device token: %w", err)
	}
	return &out, nil
}

// ListDeviceTokens returns the user's device tokens.
func (r *Repository) ListDeviceTokens(ctx context.Context, userID string) ([]domain.DeviceToken, error) {
	rows, err := r.db.Query(ctx,
		`SELECT token, user_id, platform, created_at FROM device_tokens WHERE user_id = $1 ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query device tokens: %w", err)
	}
	defer rows.Close()

	result := make([]domain.DeviceToken, 0)
	for rows.Next() {
		var t domain.DeviceToken
		if err := rows.Scan(&t.Token, &t.UserID, &t.Platform, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan device token: %w", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate device tokens: %w", err)
	}
	return result, nil
}

// DeleteDeviceToken removes a token regardless of owner.
func (r *Repository) DeleteDeviceToken(ctx context.Context, token string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM device_tokens WHERE token = $1`, token); err != nil {
		return fmt.Errorf("delete device token: %w", err)
	}
	return nil
}

// DeleteUserDeviceToken removes a token owned by userID.
func (r *Repository) DeleteUserDeviceToken(ctx context.Context, userID, token string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM device_tokens WHERE token = $1 AND user_id = $2`, token, userID)
	if err != nil {
		return fmt.Errorf("delete device token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notifications.ErrDeviceTokenNotFound
	}
	return nil
}
