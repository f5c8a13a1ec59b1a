package channels

import (
	"context"
	"fmt"

	"github.com/bissquit/signal-relay/internal/audit"
	"github.com/bissquit/signal-relay/internal/domain"
	"github.com/bissquit/signal-relay/internal/pkg/ctxlog"
	"github.com/bissquit/signal-relay/internal/pkg/postgres"
	"github.com/bissquit/signal-relay/internal/transport"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// AdminGuard rejects actors without admin rights.
type AdminGuard interface {
	RequireAdmin(ctx context.Context, actor domain.Actor) error
}

// AuditRecorder appends audit entries inside a transaction.
type AuditRecorder interface {
	RecordTx(ctx context.Context, tx pgx.Tx, e audit.Entry) error
}

// Watcher is told about committed activation changes.
type Watcher interface {
	ChannelActivated(ctx context.Context, ch domain.Channel)
	ChannelDeactivated(ctx context.Context, channelID string)
}

// SyncResult summarizes a discovery sync.
type SyncResult struct {
	Created   int `json:"created"`
	Refreshed int `json:"refreshed"`
	Failed    int `json:"failed"`
}

// Service implements the channel registry.
type Service struct {
	repo    Repository
	guard   AdminGuard
	audit   AuditRecorder
	watcher Watcher
}

// NewService creates a new channel registry.
func NewService(repo Repository, guard AdminGuard, auditRecorder AuditRecorder) *Service {
	return &Service{repo: repo, guard: guard, audit: auditRecorder}
}

// SetWatcher registers w to follow activation changes. Must be called before serving.
func (s *Service) SetWatcher(w Watcher) {
	s.watcher = w
}

// ListActiveChannels returns channels that should be polled.
func (s *Service) ListActiveChannels(ctx context.Context) ([]domain.Channel, error) {
	return s.repo.ListActiveChannels(ctx)
}

// ListChannels returns every known channel.
func (s *Service) ListChannels(ctx context.Context) ([]domain.Channel, error) {
	return s.repo.ListChannels(ctx)
}

// GetChannel returns a channel by ID.
func (s *Service) GetChannel(ctx context.Context, id string) (*domain.Channel, error) {
	return s.repo.GetChannel(ctx, id)
}

// AdvanceCursor moves the channel cursor forward. Lower values are ignored.
func (s *Service) AdvanceCursor(ctx context.Context, id string, cursor int64) error {
	if _, err := s.repo.AdvanceCursor(ctx, id, cursor); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}

// SyncDiscovered records channels reported by the network.
// Individual failures are logged and counted; the sync continues.
func (s *Service) SyncDiscovered(ctx context.Context, metas []transport.ChannelMeta) SyncResult {
	var res SyncResult
	for _, meta := range metas {
		created, err := s.repo.UpsertDiscovered(ctx, meta)
		if err != nil {
			ctxlog.FromContext(ctx).Error("failed to sync channel",
				"channel_id", meta.ID,
				"error", err,
			)
			res.Failed++
			continue
		}
		if created {
			res.Created++
		} else {
			res.Refreshed++
		}
	}
	return res
}

// SetChannelActive enables or disables polling of a channel.
func (s *Service) SetChannelActive(ctx context.Context, actor domain.Actor, id string, active bool) (*domain.Channel, error) {
	action := domain.AuditDisableChannel
	if active {
		action = domain.AuditEnableChannel
	}

	ch, err := s.mutate(ctx, actor, id, func(tx pgx.Tx, current *domain.Channel) (*domain.Channel, audit.Entry, error) {
		updated, err := s.repo.SetActiveTx(ctx, tx, id, active)
		if err != nil {
			return nil, audit.Entry{}, fmt.Errorf("set active: %w", err)
		}
		return updated, audit.Entry{
			Action: action,
			Details: map[string]any{
				"channel_id":    id,
				"channel_title": current.DisplayName(),
				"from":          current.IsActive,
				"to":            active,
			},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	if s.watcher != nil {
		if active {
			s.watcher.ChannelActivated(ctx, *ch)
		} else {
			s.watcher.ChannelDeactivated(ctx, id)
		}
	}
	return ch, nil
}

// SetSubscriptionTerms changes the tier and price of a channel.
func (s *Service) SetSubscriptionTerms(ctx context.Context, actor domain.Actor, id string, tier domain.SubscriptionType, price *decimal.Decimal) (*domain.Channel, error) {
	if err := domain.ValidateSubscriptionTerms(tier, price); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTerms, err)
	}

	return s.mutate(ctx, actor, id, func(tx pgx.Tx, current *domain.Channel) (*domain.Channel, audit.Entry, error) {
		updated, err := s.repo.SetTermsTx(ctx, tx, id, tier, price)
		if err != nil {
			return nil, audit.Entry{}, fmt.Errorf("set terms: %w", err)
		}
		return updated, audit.Entry{
			Action: domain.AuditUpdateChannelTerms,
			Details: map[string]any{
				"channel_id":    id,
				"channel_title": current.DisplayName(),
				"from":          termsDetails(current.SubscriptionType, current.SubscriptionPrice),
				"to":            termsDetails(tier, price),
			},
		}, nil
	})
}

// mutate runs a privileged channel change and its audit entry in one transaction.
func (s *Service) mutate(
	ctx context.Context,
	actor domain.Actor,
	id string,
	change func(tx pgx.Tx, current *domain.Channel) (*domain.Channel, audit.Entry, error),
) (*domain.Channel, error) {
	if err := s.guard.RequireAdmin(ctx, actor); err != nil {
		return nil, err
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer postgres.Rollback(ctx, tx)

	current, err := s.repo.GetChannelForUpdateTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	updated, entry, err := change(tx, current)
	if err != nil {
		return nil, err
	}
	entry.Actor = actor

	if err := s.audit.RecordTx(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	ctxlog.FromContext(ctx).Info("channel updated",
		"action", entry.Action,
		"channel_id", id,
		"actor_uid", actor.UID,
	)
	return updated, nil
}

func termsDetails(tier domain.SubscriptionType, price *decimal.Decimal) map[string]any {
	d := map[string]any{"type": string(tier)}
	if price != nil {
		d["price"] = price.String()
	}
	return d
}
