// Package audit provides the append-only audit trail of privileged actions.
package audit

import (
	"context"

	"github.com/bissquit/signal-relay/internal/domain"
	"github.com/jackc/pgx/v5"
)

// Repository persists audit entries. It has no update or delete path.
type Repository interface {
	CreateEntry(ctx context.Context, entry *domain.AuditLogEntry) error
	CreateEntryTx(ctx context.Context, tx pgx.Tx, entry *domain.AuditLogEntry) error
	ListEntries(ctx context.Context, filter Filter) ([]domain.AuditLogEntry, error)
}

// Filter narrows an audit query.
type Filter struct {
	Limit  int
	Action domain.AuditAction
	// Search is a case-insensitive substring matched against actor and target emails.
	Search string
}
