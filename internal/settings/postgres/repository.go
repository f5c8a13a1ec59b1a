// Package postgres provides PostgreSQL implementation of the settings repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/signal-relay/internal/domain"
	"github.com/bissquit/signal-relay/internal/settings"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const settingsColumns = `telegram_enabled, telegram_use_proxy, updated_by, updated_at`

// Repository implements settings.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func scanSettings(row pgx.Row) (*domain.AppSettings, error) {
	var s domain.AppSettings
	err := row.Scan(&s.Telegram.Enabled, &s.Telegram.UseProxy, &s.UpdatedBy, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, settings.ErrSettingsNotFound
		}
		return nil, fmt.Errorf("scan settings: %w", err)
	}
	return &s, nil
}

// Get returns the settings row.
func (r *Repository) Get(ctx context.Context) (*domain.AppSettings, error) {
	return scanSettings(r.db.QueryRow(ctx, `SELECT `+settingsColumns+` FROM app_settings WHERE id = 1`))
}

// BeginTx starts a new transaction.
func (r *Repository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.db.Begin(ctx)
}

// GetForUpdateTx locks and returns the settings row.
func (r *Repository) GetForUpdateTx(ctx context.Context, tx pgx.Tx) (*domain.AppSettings, error) {
	return scanSettings(tx.QueryRow(ctx, `SELECT `+settingsColumns+` FROM app_settings WHERE id = 1 FOR UPDATE`))
}

// UpdateTx writes the telegram settings within a transaction.
func (r *Repository) UpdateTx(ctx context.Context, tx pgx.Tx, telegram domain.TelegramSettings, updatedBy string) (*domain.AppSettings, error) {
	query := `
		UPDATE app_settings
		SET telegram_enabled = $1, telegram_use_proxy = $2, updated_by = $3, updated_at = NOW()
		WHERE id = 1
		RETURNING ` + settingsColumns
	return scanSettings(tx.QueryRow(ctx, query, telegram.Enabled, telegram.UseProxy, updatedBy))
}
