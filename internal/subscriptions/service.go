package subscriptions

import (
	"context"
	"fmt"

	"github.com/bissquit/signal-relay/internal/audit"
	"github.com/bissquit/signal-relay/internal/domain"
	"github.com/bissquit/signal-relay/internal/pkg/ctxlog"
	"github.com/bissquit/signal-relay/internal/pkg/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// ChannelReader looks up channels in the registry.
type ChannelReader interface {
	GetChannel(ctx context.Context, id string) (*domain.Channel, error)
}

// AdminGuard rejects actors without admin rights.
type AdminGuard interface {
	RequireAdmin(ctx context.Context, actor domain.Actor) error
}

// AuditRecorder appends audit entries inside a transaction.
type AuditRecorder interface {
	RecordTx(ctx context.Context, tx pgx.Tx, e audit.Entry) error
}

// ResultStatus is the outcome of a subscribe request.
type ResultStatus string

// Subscribe outcomes.
const (
	ResultSubscribed      ResultStatus = "subscribed"
	ResultPaymentRequired ResultStatus = "payment_required"
)

// Result is returned by Subscribe. Price is set only when payment is required.
type Result struct {
	Status       ResultStatus         `json:"status"`
	ChannelID    string               `json:"channel_id"`
	Price        *decimal.Decimal     `json:"price,omitempty"`
	Subscription *domain.Subscription `json:"subscription,omitempty"`
}

// Service implements subscription and entitlement logic.
type Service struct {
	repo     Repository
	channels ChannelReader
	guard    AdminGuard
	audit    AuditRecorder
}

// NewService creates a new subscription service.
func NewService(repo Repository, channels ChannelReader, guard AdminGuard, auditRecorder AuditRecorder) *Service {
	return &Service{repo: repo, channels: channels, guard: guard, audit: auditRecorder}
}

// IsSubscribed reports whether the user holds an active subscription.
func (s *Service) IsSubscribed(ctx context.Context, userID, channelID string) (bool, error) {
	return s.repo.IsSubscribed(ctx, userID, channelID)
}

// Subscribe subscribes the user to a free channel. Paid channels return
// ResultPaymentRequired and write nothing.
func (s *Service) Subscribe(ctx context.Context, userID, channelID string) (*Result, error) {
	ch, err := s.activeChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}

	if !ch.IsFree() {
		return &Result{
			Status:    ResultPaymentRequired,
			ChannelID: ch.ID,
			Price:     ch.SubscriptionPrice,
		}, nil
	}

	sub, err := s.repo.Activate(ctx, userID, ch.ID, domain.SubscriptionFree)
	if err != nil {
		return nil, fmt.Errorf("activate subscription: %w", err)
	}

	ctxlog.FromContext(ctx).Info("subscribed", "user_id", userID, "channel_id", ch.ID)
	return &Result{Status: ResultSubscribed, ChannelID: ch.ID, Subscription: sub}, nil
}

// ConfirmPayment activates a paid subscription once payment has been captured.
func (s *Service) ConfirmPayment(ctx context.Context, actor domain.Actor, userID, channelID string) (*domain.Subscription, error) {
	if err := s.guard.RequireAdmin(ctx, actor); err != nil {
		return nil, err
	}

	ch, err := s.activeChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer postgres.Rollback(ctx, tx)

	sub, err := s.repo.ActivateTx(ctx, tx, userID, ch.ID, domain.SubscriptionPaid)
	if err != nil {
		return nil, fmt.Errorf("activate subscription: %w", err)
	}

	details := map[string]any{"channel_id": ch.ID, "channel_title": ch.DisplayName()}
	if ch.SubscriptionPrice != nil {
		details["price"] = ch.SubscriptionPrice.String()
	}
	err = s.audit.RecordTx(ctx, tx, audit.Entry{
		Actor:        actor,
		Action:       domain.AuditConfirmSubscription,
		TargetUserID: userID,
		Details:      details,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	ctxlog.FromContext(ctx).Info("paid subscription confirmed",
		"user_id", userID,
		"channel_id", ch.ID,
		"actor_uid", actor.UID,
	)
	return sub, nil
}

// Cancel deactivates the user's subscription.
func (s *Service) Cancel(ctx context.Context, userID, channelID string) error {
	if err := s.repo.Deactivate(ctx, userID, channelID); err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Info("subscription cancelled", "user_id", userID, "channel_id", channelID)
	return nil
}

// IsEntitled reports whether the user may receive the channel's posts.
// A paid channel requires an active paid subscription; a free record left
// over from before the channel turned paid does not count.
func (s *Service) IsEntitled(ctx context.Context, userID string, ch *domain.Channel) (bool, error) {
	if ch.IsFree() {
		return true, nil
	}
	return s.repo.HasActiveTier(ctx, userID, ch.ID, domain.SubscriptionPaid)
}

// EntitledRecipients returns the users entitled to the channel right now.
func (s *Service) EntitledRecipients(ctx context.Context, ch *domain.Channel) ([]string, error) {
	if ch.IsFree() {
		return s.repo.ListAllUserIDs(ctx)
	}
	return s.repo.ListSubscriberIDs(ctx, ch.ID, domain.SubscriptionPaid)
}

// ListUserSubscriptions returns all of the user's subscription records.
func (s *Service) ListUserSubscriptions(ctx context.Context, userID string) ([]domain.Subscription, error) {
	return s.repo.ListByUser(ctx, userID)
}

func (s *Service) activeChannel(ctx context.Context, channelID string) (*domain.Channel, error) {
	ch, err := s.channels.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if !ch.IsActive {
		return nil, ErrChannelInactive
	}
	return ch, nil
}
