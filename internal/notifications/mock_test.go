package notifications

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/bissquit/signal-relay/internal/domain"
	"github.com/google/uuid"
)

type sourceKey struct {
	user    string
	channel string
	message int64
}

// mockRepository implements Repository for testing.
type mockRepository struct {
	mu            sync.Mutex
	notifications []domain.Notification
	index         map[sourceKey]bool
	tokens        map[string]domain.DeviceToken
	failFor       map[string]error
	deleted       []string
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		index:   make(map[sourceKey]bool),
		tokens:  make(map[string]domain.DeviceToken),
		failFor: make(map[string]error),
	}
}

func (m *mockRepository) CreateIfAbsent(_ context.Context, n *domain.Notification) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failFor[n.UserID]; err != nil {
		return false, err
	}
	key := sourceKey{user: n.UserID}
	if n.ChannelID != nil && n.SourceMessageID != nil {
		key.channel, key.message = *n.ChannelID, *n.SourceMessageID
		if m.index[key] {
			return false, nil
		}
		m.index[key] = true
	}
	n.ID = uuid.NewString()
	n.CreatedAt = time.Now()
	m.notifications = append(m.notifications, *n)
	return true, nil
}

func (m *mockRepository) forUser(userID string) []domain.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Notification, 0)
	for _, n := range m.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

func (m *mockRepository) ListByUser(_ context.Context, userID string, f ListFilter) ([]domain.Notification, error) {
	out := make([]domain.Notification, 0)
	for _, n := range m.forUser(userID) {
		if f.UnreadOnly && n.Read {
			continue
		}
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *mockRepository) MarkRead(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.notifications {
		if m.notifications[i].ID == id && m.notifications[i].UserID == userID {
			m.notifications[i].Read = true
			return nil
		}
	}
	return ErrNotificationNotFound
}

func (m *mockRepository) CountUnread(_ context.Context, userID string) (int, error) {
	n := 0
	for _, x := range m.forUser(userID) {
		if !x.Read {
			n++
		}
	}
	return n, nil
}

func (m *mockRepository) UpsertDeviceToken(_ context.Context, t domain.DeviceToken) (*domain.DeviceToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t.CreatedAt = time.Now()
	m.tokens[t.Token] = t
	return &t, nil
}

func (m *mockRepository) ListDeviceTokens(_ context.Context, userID string) ([]domain.DeviceToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.DeviceToken, 0)
	for _, t := range m.tokens {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}

func (m *mockRepository) DeleteDeviceToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.tokens, token)
	m.deleted = append(m.deleted, token)
	return nil
}

func (m *mockRepository) DeleteUserDeviceToken(_ context.Context, userID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tokens[token]
	if !ok || t.UserID != userID {
		return ErrDeviceTokenNotFound
	}
	delete(m.tokens, token)
	return nil
}

// staticRecipients resolves entitlement from a per-channel list.
type staticRecipients struct {
	mu    sync.Mutex
	users map[string][]string
	err   error
	calls int
}

func (s *staticRecipients) EntitledRecipients(_ context.Context, ch *domain.Channel) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return append([]string(nil), s.users[ch.ID]...), nil
}

func (s *staticRecipients) set(channelID string, users ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[channelID] = users
}

// recordingQueue captures enqueued pushes.
type recordingQueue struct {
	mu   sync.Mutex
	jobs []PushJob
	full bool
}

func (q *recordingQueue) Enqueue(job PushJob) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.full {
		return false
	}
	q.jobs = append(q.jobs, job)
	return true
}

var errStorage = errors.New("storage unavailable")
