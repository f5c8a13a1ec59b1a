// Package settings stores the process-wide application settings document.
package settings

import (
	"context"

	"github.com/bissquit/signal-relay/internal/domain"
	"github.com/jackc/pgx/v5"
)

// Repository defines the settings storage.
type Repository interface {
	Get(ctx context.Context) (*domain.AppSettings, error)

	BeginTx(ctx context.Context) (pgx.Tx, error)
	GetForUpdateTx(ctx context.Context, tx pgx.Tx) (*domain.AppSettings, error)
	UpdateTx(ctx context.Context, tx pgx.Tx, telegram domain.TelegramSettings, updatedBy string) (*domain.AppSettings, error)
}
