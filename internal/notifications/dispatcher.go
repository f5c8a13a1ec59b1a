package notifications

import (
	"context"
	"fmt"
	"strconv"

	"github.com/bissquit/signal-relay/internal/domain"
	"github.com/bissquit/signal-relay/internal/notifications/dedup"
	"github.com/bissquit/signal-relay/internal/notifications/push"
	"github.com/bissquit/signal-relay/internal/pkg/ctxlog"
	"github.com/bissquit/signal-relay/internal/transport"
)

// RecipientResolver returns the users entitled to a channel right now.
type RecipientResolver interface {
	EntitledRecipients(ctx context.Context, ch *domain.Channel) ([]string, error)
}

// PushQueue accepts push deliveries.
type PushQueue interface {
	Enqueue(job PushJob) bool
}

// Dispatcher fans a channel post out to entitled recipients.
type Dispatcher struct {
	repo       Repository
	recipients RecipientResolver
	seen       dedup.Store
	renderer   *Renderer
	push       PushQueue
}

// NewDispatcher creates a new dispatcher. pushQueue may be nil when push is disabled.
func NewDispatcher(repo Repository, recipients RecipientResolver, seen dedup.Store, renderer *Renderer, pushQueue PushQueue) *Dispatcher {
	return &Dispatcher{
		repo:       repo,
		recipients: recipients,
		seen:       seen,
		renderer:   renderer,
		push:       pushQueue,
	}
}

// OnMessage delivers msg to every user entitled to ch at this moment.
// Delivering the same message twice creates no duplicate notifications.
// An error means nothing was delivered: recipients could not be resolved or
// every insert failed. The message is then left for redelivery.
func (d *Dispatcher) OnMessage(ctx context.Context, ch *domain.Channel, msg transport.Message) error {
	logger := ctxlog.FromContext(ctx).With("channel_id", ch.ID, "message_id", msg.ID)
	key := dedup.Key(ch.ID, msg.ID)

	seen, err := d.seen.Seen(ctx, key)
	if err != nil {
		logger.Warn("dedup lookup failed", "error", err)
	}
	if seen {
		recordDispatch("duplicate")
		logger.Debug("message already dispatched")
		return nil
	}

	recipients, err := d.recipients.EntitledRecipients(ctx, ch)
	if err != nil {
		recordDispatch("error")
		return fmt.Errorf("resolve recipients: %w", err)
	}

	title := d.renderer.Title(ch)
	body := d.renderer.Body(msg)

	var created, failed int
	for _, userID := range recipients {
		channelID := ch.ID
		messageID := msg.ID
		n := &domain.Notification{
			UserID:          userID,
			Title:           title,
			Body:            body,
			Type:            domain.NotificationTypeTrading,
			ChannelID:       &channelID,
			SourceMessageID: &messageID,
		}

		inserted, err := d.repo.CreateIfAbsent(ctx, n)
		if err != nil {
			failed++
			logger.Error("failed to persist notification", "user_id", userID, "error", err)
			continue
		}
		if !inserted {
			continue
		}

		created++
		d.enqueuePush(ctx, n)
	}

	recordNotificationsCreated(created)
	if failed > 0 && created == 0 {
		recordDispatch("error")
		return fmt.Errorf("%w: %d of %d recipients failed", ErrDeliveryFailed, failed, len(recipients))
	}

	// a partially failed message stays unmarked so a redelivery reaches the rest
	if failed == 0 {
		if err := d.seen.Mark(ctx, key); err != nil {
			logger.Warn("dedup mark failed", "error", err)
		}
	}

	recordDispatch("delivered")
	logger.Debug("message dispatched",
		"recipients", len(recipients),
		"created", created,
		"failed", failed,
	)
	return nil
}

func (d *Dispatcher) enqueuePush(ctx context.Context, n *domain.Notification) {
	if d.push == nil {
		return
	}

	tokens, err := d.repo.ListDeviceTokens(ctx, n.UserID)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("failed to list device tokens", "user_id", n.UserID, "error", err)
		return
	}

	data := map[string]string{
		"notification_id": n.ID,
		"type":            string(n.Type),
		"channel_id":      *n.ChannelID,
		"message_id":      strconv.FormatInt(*n.SourceMessageID, 10),
	}
	for _, t := range tokens {
		ok := d.push.Enqueue(PushJob{
			NotificationID: n.ID,
			UserID:         n.UserID,
			Message: push.Message{
				Token: t.Token,
				Title: n.Title,
				Body:  d.renderer.PushBody(n.Body),
				Data:  data,
			},
		})
		if !ok {
			ctxlog.FromContext(ctx).Warn("push queue full, dropping delivery",
				"notification_id", n.ID,
				"user_id", n.UserID,
			)
		}
	}
}
