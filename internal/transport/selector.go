package transport

import (
	"context"
	"log/slog"

	"github.com/bissquit/signal-relay/internal/domain"
)

// AdminChecker answers whether a user currently holds admin rights.
type AdminChecker interface {
	IsAdmin(ctx context.Context, uid string) (bool, error)
}

// SettingsReader reads the process-wide settings document.
type SettingsReader interface {
	Get(ctx context.Context) (*domain.AppSettings, error)
}

// Selector resolves which route the poller takes.
type Selector struct {
	admins   AdminChecker
	settings SettingsReader
}

// NewSelector creates a new transport selector.
func NewSelector(admins AdminChecker, settings SettingsReader) *Selector {
	return &Selector{admins: admins, settings: settings}
}

// ResolveMode returns ModeDirect only for an established admin whose settings
// disable the proxy. Any doubt yields ModeProxied.
func (s *Selector) ResolveMode(ctx context.Context, actorUID string) Mode {
	if actorUID == "" {
		slog.Info("transport mode resolved", "mode", ModeProxied, "reason", "anonymous")
		return ModeProxied
	}

	isAdmin, err := s.admins.IsAdmin(ctx, actorUID)
	if err != nil {
		slog.Warn("admin check failed, falling back to proxied transport", "actor_uid", actorUID, "error", err)
		return ModeProxied
	}
	if !isAdmin {
		slog.Info("transport mode resolved", "mode", ModeProxied, "reason", "not_admin")
		return ModeProxied
	}

	settings, err := s.settings.Get(ctx)
	if err != nil {
		slog.Warn("settings unavailable, falling back to proxied transport", "error", err)
		return ModeProxied
	}
	if settings.Telegram.UseProxy {
		slog.Info("transport mode resolved", "mode", ModeProxied, "reason", "use_proxy")
		return ModeProxied
	}

	slog.Info("transport mode resolved", "mode", ModeDirect)
	return ModeDirect
}
