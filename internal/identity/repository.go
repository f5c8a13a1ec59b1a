// Package identity resolves users from access tokens and manages admin rights.
package identity

import (
	"context"

	"github.com/bissquit/signal-relay/internal/domain"
	"github.com/jackc/pgx/v5"
)

// Repository defines the user mirror storage.
type Repository interface {
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	// EnsureUser creates the mirror row on first sight and refreshes the email.
	EnsureUser(ctx context.Context, id, email string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)

	BeginTx(ctx context.Context) (pgx.Tx, error)
	GetUserForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (*domain.User, error)
	SetRoleTx(ctx context.Context, tx pgx.Tx, id string, role domain.Role) error
	SetBlockedTx(ctx context.Context, tx pgx.Tx, id string, blocked bool) error
}
