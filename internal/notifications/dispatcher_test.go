package notifications

import (
	"context"
	"errors"
	"testing"

	"github.com/bissquit/signal-relay/internal/domain"
	"github.com/bissquit/signal-relay/internal/notifications/dedup"
	"github.com/bissquit/signal-relay/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore is a dedup store whose backend is down.
type failingStore struct{}

func (failingStore) Seen(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}
func (failingStore) Mark(context.Context, string) error { return errors.New("redis down") }

func newTestDispatcher(seen dedup.Store) (*Dispatcher, *mockRepository, *staticRecipients, *recordingQueue) {
	repo := newMockRepository()
	recipients := &staticRecipients{users: make(map[string][]string)}
	queue := &recordingQueue{}
	if seen == nil {
		seen = dedup.NewMemoryStore(100, 0)
	}
	return NewDispatcher(repo, recipients, seen, NewRenderer(), queue), repo, recipients, queue
}

var freeChannel = &domain.Channel{
	ID:               "X",
	Title:            "gold signals",
	IsActive:         true,
	SubscriptionType: domain.SubscriptionFree,
}

func TestDispatcher_OnMessage_FreeChannelCreatesTradingNotification(t *testing.T) {
	d, repo, recipients, _ := newTestDispatcher(nil)
	recipients.set("X", "A")

	err := d.OnMessage(context.Background(), freeChannel, transport.Message{ID: 7, ChannelID: "X", Text: "BUY XAUUSD @ 2350"})

	require.NoError(t, err)
	got := repo.forUser("A")
	require.Len(t, got, 1)
	n := got[0]
	assert.False(t, n.Read)
	assert.Equal(t, domain.NotificationTypeTrading, n.Type)
	require.NotNil(t, n.ChannelID)
	assert.Equal(t, "X", *n.ChannelID)
	require.NotNil(t, n.SourceMessageID)
	assert.Equal(t, int64(7), *n.SourceMessageID)
	assert.Equal(t, "Gold Signals", n.Title)
	assert.Equal(t, "BUY XAUUSD @ 2350", n.Body)
}

func TestDispatcher_OnMessage_DuplicateCreatesOneNotification(t *testing.T) {
	tests := []struct {
		name  string
		store dedup.Store
	}{
		{"memory dedup", dedup.NewMemoryStore(100, 0)},
		{"dedup unavailable", failingStore{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, repo, recipients, queue := newTestDispatcher(tt.store)
			recipients.set("X", "A", "B")
			msg := transport.Message{ID: 7, ChannelID: "X", Text: "signal"}

			require.NoError(t, d.OnMessage(context.Background(), freeChannel, msg))
			require.NoError(t, d.OnMessage(context.Background(), freeChannel, msg))

			assert.Len(t, repo.forUser("A"), 1)
			assert.Len(t, repo.forUser("B"), 1)
			assert.Empty(t, queue.jobs)
		})
	}
}

func TestDispatcher_OnMessage_DedupSkipsResolution(t *testing.T) {
	d, _, recipients, _ := newTestDispatcher(nil)
	recipients.set("X", "A")
	msg := transport.Message{ID: 1, ChannelID: "X"}

	require.NoError(t, d.OnMessage(context.Background(), freeChannel, msg))
	require.NoError(t, d.OnMessage(context.Background(), freeChannel, msg))

	assert.Equal(t, 1, recipients.calls)
}

func TestDispatcher_OnMessage_InsertFailureSkipsRecipient(t *testing.T) {
	d, repo, recipients, _ := newTestDispatcher(nil)
	recipients.set("X", "A", "B", "C")
	repo.failFor["B"] = errStorage

	err := d.OnMessage(context.Background(), freeChannel, transport.Message{ID: 3, ChannelID: "X"})

	require.NoError(t, err)
	assert.Len(t, repo.forUser("A"), 1)
	assert.Empty(t, repo.forUser("B"))
	assert.Len(t, repo.forUser("C"), 1)

	// not marked as dispatched: a redelivery fills the gap without duplicates
	delete(repo.failFor, "B")
	require.NoError(t, d.OnMessage(context.Background(), freeChannel, transport.Message{ID: 3, ChannelID: "X"}))
	assert.Len(t, repo.forUser("A"), 1)
	assert.Len(t, repo.forUser("B"), 1)
	assert.Len(t, repo.forUser("C"), 1)
}

func TestDispatcher_OnMessage_StorageOutageIsRedelivered(t *testing.T) {
	d, repo, recipients, _ := newTestDispatcher(nil)
	recipients.set("X", "A", "B")
	repo.failFor["A"] = errStorage
	repo.failFor["B"] = errStorage
	msg := transport.Message{ID: 7, ChannelID: "X", Text: "signal"}

	err := d.OnMessage(context.Background(), freeChannel, msg)

	require.ErrorIs(t, err, ErrDeliveryFailed)
	assert.Empty(t, repo.notifications)

	delete(repo.failFor, "A")
	delete(repo.failFor, "B")
	require.NoError(t, d.OnMessage(context.Background(), freeChannel, msg))
	assert.Len(t, repo.forUser("A"), 1)
	assert.Len(t, repo.forUser("B"), 1)
	assert.Equal(t, 2, recipients.calls)
}

func TestDispatcher_OnMessage_EntitlementPerMessage(t *testing.T) {
	d, repo, recipients, _ := newTestDispatcher(nil)
	paid := &domain.Channel{ID: "Y", Title: "Pro", IsActive: true, SubscriptionType: domain.SubscriptionPaid}

	recipients.set("Y")
	require.NoError(t, d.OnMessage(context.Background(), paid, transport.Message{ID: 1, ChannelID: "Y"}))

	recipients.set("Y", "B")
	require.NoError(t, d.OnMessage(context.Background(), paid, transport.Message{ID: 2, ChannelID: "Y"}))

	got := repo.forUser("B")
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), *got[0].SourceMessageID)
}

func TestDispatcher_OnMessage_RecipientError(t *testing.T) {
	d, repo, recipients, _ := newTestDispatcher(nil)
	recipients.err = errStorage
	msg := transport.Message{ID: 9, ChannelID: "X"}

	err := d.OnMessage(context.Background(), freeChannel, msg)

	assert.ErrorIs(t, err, errStorage)
	assert.Empty(t, repo.notifications)

	recipients.err = nil
	recipients.set("X", "A")
	require.NoError(t, d.OnMessage(context.Background(), freeChannel, msg))
	assert.Len(t, repo.forUser("A"), 1)
}

func TestDispatcher_OnMessage_EnqueuesPushPerDevice(t *testing.T) {
	d, repo, recipients, queue := newTestDispatcher(nil)
	recipients.set("X", "A", "B")
	ctx := context.Background()
	_, _ = repo.UpsertDeviceToken(ctx, domain.DeviceToken{UserID: "A", Token: "a-phone", Platform: domain.DevicePlatformAndroid})
	_, _ = repo.UpsertDeviceToken(ctx, domain.DeviceToken{UserID: "A", Token: "a-tablet", Platform: domain.DevicePlatformIOS})

	require.NoError(t, d.OnMessage(ctx, freeChannel, transport.Message{ID: 5, ChannelID: "X", Text: "line one\nline two"}))

	require.Len(t, queue.jobs, 2)
	assert.Equal(t, "a-phone", queue.jobs[0].Message.Token)
	assert.Equal(t, "a-tablet", queue.jobs[1].Message.Token)
	assert.Equal(t, "line one", queue.jobs[0].Message.Body)
	assert.Equal(t, "X", queue.jobs[0].Message.Data["channel_id"])
	assert.Equal(t, "5", queue.jobs[0].Message.Data["message_id"])
}

func TestDispatcher_OnMessage_PushQueueFullKeepsNotification(t *testing.T) {
	d, repo, recipients, queue := newTestDispatcher(nil)
	queue.full = true
	recipients.set("X", "A")
	_, _ = repo.UpsertDeviceToken(context.Background(), domain.DeviceToken{UserID: "A", Token: "t"})

	require.NoError(t, d.OnMessage(context.Background(), freeChannel, transport.Message{ID: 5, ChannelID: "X"}))

	assert.Len(t, repo.forUser("A"), 1)
}
