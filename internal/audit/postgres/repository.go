// Package postgres provides PostgreSQL implementation of the audit repository.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bissquit/signal-relay/internal/audit"
	"github.com/bissquit/signal-relay/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is implemented by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository implements audit.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateEntry inserts an audit entry.
func (r *Repository) CreateEntry(ctx context.Context, entry *domain.AuditLogEntry) error {
	return r.createEntry(ctx, r.db, entry)
}

// CreateEntryTx inserts an audit entry within a transaction.
func (r *Repository) CreateEntryTx(ctx context.Context, tx pgx.Tx, entry *domain.AuditLogEntry) error {
	return r.createEntry(ctx, tx, entry)
}

func (r *Repository) createEntry(ctx context.Context, q querier, entry *domain.AuditLogEntry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}

	query := `
		INSERT INTO audit_log (actor_uid, actor_email, action, target_user_id, target_user_email, details, origin_ip)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err = q.QueryRow(ctx, query,
		entry.ActorUID,
		entry.ActorEmail,
		entry.Action,
		entry.TargetUserID,
		entry.TargetUserEmail,
		details,
		entry.OriginIP,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListEntries returns entries newest-first matching the filter.
func (r *Repository) ListEntries(ctx context.Context, filter audit.Filter) ([]domain.AuditLogEntry, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Action != "" {
		args = append(args, filter.Action)
		conds = append(conds, fmt.Sprintf("action = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+escapeLike(filter.Search)+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(actor_email ILIKE $%d OR COALESCE(target_user_email, '') ILIKE $%d)", n, n))
	}

	query := `
		SELECT id, actor_uid, actor_email, action, target_user_id, target_user_email, details, origin_ip, created_at
		FROM audit_log
	`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.AuditLogEntry, 0)
	for rows.Next() {
		var (
			e       domain.AuditLogEntry
			details []byte
		)
		if err := rows.Scan(
			&e.ID,
			&e.ActorUID,
			&e.ActorEmail,
			&e.Action,
			&e.TargetUserID,
			&e.TargetUserEmail,
			&details,
			&e.OriginIP,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("unmarshal details: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}

	return entries, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
