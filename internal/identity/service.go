package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/signal-relay/internal/audit"
	"github.com/bissquit/signal-relay/internal/domain"
	"github.com/bissquit/signal-relay/internal/identity/jwt"
	"github.com/bissquit/signal-relay/internal/pkg/ctxlog"
	"github.com/bissquit/signal-relay/internal/pkg/postgres"
	"github.com/jackc/pgx/v5"
)

// TokenParser verifies access tokens.
type TokenParser interface {
	Parse(token string) (*jwt.Claims, error)
}

// AuditRecorder appends audit entries inside a transaction.
type AuditRecorder interface {
	RecordTx(ctx context.Context, tx pgx.Tx, e audit.Entry) error
}

// Service implements identity business logic.
type Service struct {
	repo   Repository
	tokens TokenParser
	audit  AuditRecorder
}

// NewService creates a new identity service.
func NewService(repo Repository, tokens TokenParser, auditRecorder AuditRecorder) *Service {
	return &Service{repo: repo, tokens: tokens, audit: auditRecorder}
}

// ValidateToken verifies token and returns the mirrored user.
func (s *Service) ValidateToken(ctx context.Context, token string) (*domain.User, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.EnsureUser(ctx, claims.Subject, claims.Email)
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return user, nil
}

// IsAdmin reports whether uid is an unblocked admin.
func (s *Service) IsAdmin(ctx context.Context, uid string) (bool, error) {
	if uid == "" {
		return false, nil
	}
	user, err := s.repo.GetUserByID(ctx, uid)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return false, nil
		}
		return false, err
	}
	return user.IsAdmin(), nil
}

// RequireAdmin returns ErrForbidden unless actor is an admin.
func (s *Service) RequireAdmin(ctx context.Context, actor domain.Actor) error {
	ok, err := s.IsAdmin(ctx, actor.UID)
	if err != nil {
		return fmt.Errorf("check admin: %w", err)
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

// GetUser returns a user by ID.
func (s *Service) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// ListUsers returns all mirrored users.
func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	return s.repo.ListUsers(ctx)
}

// GrantAdmin promotes target to admin.
func (s *Service) GrantAdmin(ctx context.Context, actor domain.Actor, targetID string) (*domain.User, error) {
	return s.setRole(ctx, actor, targetID, domain.RoleAdmin, domain.AuditGrantAdmin)
}

// RevokeAdmin demotes target to a regular user.
func (s *Service) RevokeAdmin(ctx context.Context, actor domain.Actor, targetID string) (*domain.User, error) {
	return s.setRole(ctx, actor, targetID, domain.RoleUser, domain.AuditRevokeAdmin)
}

func (s *Service) setRole(ctx context.Context, actor domain.Actor, targetID string, role domain.Role, action domain.AuditAction) (*domain.User, error) {
	if actor.UID == targetID {
		return nil, ErrCannotModifySelf
	}

	return s.mutate(ctx, actor, targetID, func(tx pgx.Tx, user *domain.User) (audit.Entry, error) {
		previous := user.Role
		if err := s.repo.SetRoleTx(ctx, tx, user.ID, role); err != nil {
			return audit.Entry{}, fmt.Errorf("set role: %w", err)
		}
		user.Role = role
		return audit.Entry{
			Action:  action,
			Details: map[string]any{"from": string(previous), "to": string(role)},
		}, nil
	})
}

// SetBlocked blocks or unblocks target.
func (s *Service) SetBlocked(ctx context.Context, actor domain.Actor, targetID string, blocked bool) (*domain.User, error) {
	if actor.UID == targetID {
		return nil, ErrCannotModifySelf
	}

	action := domain.AuditUnblockUser
	if blocked {
		action = domain.AuditBlockUser
	}

	return s.mutate(ctx, actor, targetID, func(tx pgx.Tx, user *domain.User) (audit.Entry, error) {
		if err := s.repo.SetBlockedTx(ctx, tx, user.ID, blocked); err != nil {
			return audit.Entry{}, fmt.Errorf("set blocked: %w", err)
		}
		user.Blocked = blocked
		return audit.Entry{Action: action}, nil
	})
}

// mutate runs a privileged user change and its audit entry in one transaction.
func (s *Service) mutate(
	ctx context.Context,
	actor domain.Actor,
	targetID string,
	change func(tx pgx.Tx, user *domain.User) (audit.Entry, error),
) (*domain.User, error) {
	if err := s.RequireAdmin(ctx, actor); err != nil {
		return nil, err
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer postgres.Rollback(ctx, tx)

	user, err := s.repo.GetUserForUpdateTx(ctx, tx, targetID)
	if err != nil {
		return nil, err
	}

	entry, err := change(tx, user)
	if err != nil {
		return nil, err
	}
	entry.Actor = actor
	entry.TargetUserID = user.ID
	entry.TargetUserEmail = user.Email

	if err := s.audit.RecordTx(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	ctxlog.FromContext(ctx).Info("user updated",
		"action", entry.Action,
		"target_user_id", user.ID,
		"actor_uid", actor.UID,
	)
	return user, nil
}
