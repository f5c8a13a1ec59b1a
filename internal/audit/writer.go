package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/bissquit/signal-relay/internal/domain"
	"github.com/bissquit/signal-relay/internal/pkg/ctxlog"
	"github.com/jackc/pgx/v5"
)

// Query limits.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Entry describes a privileged action to record.
type Entry struct {
	Actor           domain.Actor
	Action          domain.AuditAction
	TargetUserID    string
	TargetUserEmail string
	Details         map[string]any
}

// Writer appends audit entries and serves the admin viewer.
type Writer struct {
	repo Repository
}

// NewWriter creates a new audit writer.
func NewWriter(repo Repository) *Writer {
	return &Writer{repo: repo}
}

// Record appends an entry outside of any transaction.
func (w *Writer) Record(ctx context.Context, e Entry) error {
	entry, err := e.toDomain()
	if err != nil {
		return err
	}
	if err := w.repo.CreateEntry(ctx, entry); err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	w.logRecorded(ctx, entry)
	return nil
}

// RecordTx appends an entry inside tx. The caller must abort its mutation
// if this returns an error.
func (w *Writer) RecordTx(ctx context.Context, tx pgx.Tx, e Entry) error {
	entry, err := e.toDomain()
	if err != nil {
		return err
	}
	if err := w.repo.CreateEntryTx(ctx, tx, entry); err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	w.logRecorded(ctx, entry)
	return nil
}

// Query returns entries newest-first.
func (w *Writer) Query(ctx context.Context, f Filter) ([]domain.AuditLogEntry, error) {
	if f.Action != "" && !f.Action.IsValid() {
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidFilter, f.Action)
	}
	f.Search = strings.TrimSpace(f.Search)
	f.Limit = normalizeLimit(f.Limit)

	entries, err := w.repo.ListEntries(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}

func (w *Writer) logRecorded(ctx context.Context, entry *domain.AuditLogEntry) {
	recordEntry(entry.Action)
	ctxlog.FromContext(ctx).Info("audit entry recorded",
		"action", entry.Action,
		"actor_uid", entry.ActorUID,
	)
}

func (e Entry) toDomain() (*domain.AuditLogEntry, error) {
	if e.Actor.UID == "" {
		return nil, fmt.Errorf("%w: actor is required", ErrInvalidEntry)
	}
	if !e.Action.IsValid() {
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidEntry, e.Action)
	}

	entry := &domain.AuditLogEntry{
		ActorUID:        e.Actor.UID,
		ActorEmail:      e.Actor.Email,
		Action:          e.Action,
		TargetUserID:    optional(e.TargetUserID),
		TargetUserEmail: optional(e.TargetUserEmail),
		Details:         e.Details,
		OriginIP:        optional(e.Actor.Origin),
	}
	if entry.Details == nil {
		entry.Details = map[string]any{}
	}
	return entry, nil
}

func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
