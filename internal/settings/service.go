package settings

import (
	"context"
	"fmt"

	"github.com/bissquit/signal-relay/internal/audit"
	"github.com/bissquit/signal-relay/internal/domain"
	"github.com/bissquit/signal-relay/internal/pkg/ctxlog"
	"github.com/bissquit/signal-relay/internal/pkg/postgres"
	"github.com/jackc/pgx/v5"
)

// AdminGuard rejects actors without admin rights.
type AdminGuard interface {
	RequireAdmin(ctx context.Context, actor domain.Actor) error
}

// AuditRecorder appends audit entries inside a transaction.
type AuditRecorder interface {
	RecordTx(ctx context.Context, tx pgx.Tx, e audit.Entry) error
}

// Service reads and updates application settings.
type Service struct {
	repo  Repository
	guard AdminGuard
	audit AuditRecorder
}

// NewService creates a new settings service.
func NewService(repo Repository, guard AdminGuard, auditRecorder AuditRecorder) *Service {
	return &Service{repo: repo, guard: guard, audit: auditRecorder}
}

// Get returns the current settings.
func (s *Service) Get(ctx context.Context) (*domain.AppSettings, error) {
	return s.repo.Get(ctx)
}

// Update replaces the telegram settings and records UPDATE_APP_SETTINGS
// in the same transaction.
func (s *Service) Update(ctx context.Context, actor domain.Actor, telegram domain.TelegramSettings) (*domain.AppSettings, error) {
	if err := s.guard.RequireAdmin(ctx, actor); err != nil {
		return nil, err
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer postgres.Rollback(ctx, tx)

	current, err := s.repo.GetForUpdateTx(ctx, tx)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateTx(ctx, tx, telegram, actor.UID)
	if err != nil {
		return nil, fmt.Errorf("update settings: %w", err)
	}

	err = s.audit.RecordTx(ctx, tx, audit.Entry{
		Actor:  actor,
		Action: domain.AuditUpdateAppSettings,
		Details: map[string]any{
			"from": telegramDetails(current.Telegram),
			"to":   telegramDetails(telegram),
		},
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	ctxlog.FromContext(ctx).Info("app settings updated",
		"telegram_enabled", telegram.Enabled,
		"telegram_use_proxy", telegram.UseProxy,
		"actor_uid", actor.UID,
	)
	return updated, nil
}

func telegramDetails(t domain.TelegramSettings) map[string]any {
	return map[string]any{"enabled": t.Enabled, "use_proxy": t.UseProxy}
}
