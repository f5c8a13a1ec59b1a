// Package postgres provides PostgreSQL implementation of the channel repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/signal-relay/internal/channels"
	"github.com/bissquit/signal-relay/internal/domain"
	"github.com/bissquit/signal-relay/internal/transport"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const channelColumns = `id, title, username, description, is_active,
	subscription_type, subscription_price, cursor, created_at, updated_at`

// Repository implements channels.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func scanChannel(row pgx.Row) (*domain.Channel, error) {
	var (
		ch    domain.Channel
		price decimal.NullDecimal
	)
	err := row.Scan(
		&ch.ID, &ch.Title, &ch.Username, &ch.Description, &ch.IsActive,
		&ch.SubscriptionType, &price, &ch.Cursor, &ch.CreatedAt, &ch.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, channels.ErrChannelNotFound
		}
		return nil, fmt.Errorf("scan channel: %w", err)
	}
	if price.Valid {
		ch.SubscriptionPrice = &price.Decimal
	}
	return &ch, nil
}

func (r *Repository) list(ctx context.Context, query string) ([]domain.Channel, error) {
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Channel, 0)
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	return result, nil
}

// ListActiveChannels returns active channels ordered by title.
func (r *Repository) ListActiveChannels(ctx context.Context) ([]domain.Channel, error) {
	return r.list(ctx, `SELECT `+channelColumns+` FROM channels WHERE is_active ORDER BY title, id`)
}

// ListChannels returns all channels ordered by title.
func (r *Repository) ListChannels(ctx context.Context) ([]domain.Channel, error) {
	return r.list(ctx, `SELECT `+channelColumns+` FROM channels ORDER BY title, id`)
}

// GetChannel retrieves a channel by ID.
func (r *Repository) GetChannel(ctx context.Context, id string) (*domain.Channel, error) {
	return scanChannel(r.db.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = $1`, id))
}

// AdvanceCursor moves the cursor forward; it never decreases.
func (r *Repository) AdvanceCursor(ctx context.Context, id string, cursor int64) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE channels SET cursor = $2, updated_at = NOW() WHERE id = $1 AND cursor < $2`,
		id, cursor,
	)
	if err != nil {
		return false, fmt.Errorf("update cursor: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpsertDiscovered inserts a new inactive free channel or refreshes metadata of a known one.
func (r *Repository) UpsertDiscovered(ctx context.Context, meta transport.ChannelMeta) (bool, error) {
	query := `
		INSERT INTO channels (id, title, username, description)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET title = EXCLUDED.title,
		    username = EXCLUDED.username,
		    description = EXCLUDED.description,
		    updated_at = NOW()
		RETURNING (xmax = 0)
	`
	var created bool
	err := r.db.QueryRow(ctx, query, meta.ID, meta.Title, meta.Username, meta.Description).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("upsert channel: %w", err)
	}
	return created, nil
}

// BeginTx starts a new transaction.
func (r *Repository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.db.Begin(ctx)
}

// GetChannelForUpdateTx locks and returns a channel within a transaction.
func (r *Repository) GetChannelForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (*domain.Channel, error) {
	return scanChannel(tx.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = $1 FOR UPDATE`, id))
}

// SetActiveTx updates the active flag within a transaction.
func (r *Repository) SetActiveTx(ctx context.Context, tx pgx.Tx, id string, active bool) (*domain.Channel, error) {
	query := `
		UPDATE channels SET is_active = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + channelColumns
	return scanChannel(tx.QueryRow(ctx, query, id, active))
}

// SetTermsTx updates tier and price within a transaction.
func (r *Repository) SetTermsTx(ctx context.Context, tx pgx.Tx, id string, tier domain.SubscriptionType, price *decimal.Decimal) (*domain.Channel, error) {
	var p decimal.NullDecimal
	if price != nil {
		p = decimal.NewNullDecimal(*price)
	}
	query := `
		UPDATE channels SET subscription_type = $2, subscription_price = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + channelColumns
	return scanChannel(tx.QueryRow(ctx, query, id, tier, p))
}
