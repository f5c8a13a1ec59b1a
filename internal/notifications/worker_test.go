package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/signal-relay/internal/notifications/push"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSender returns queued errors in order, then succeeds.
type scriptedSender struct {
	mu     sync.Mutex
	errs   []error
	sent   []push.Message
	calls  int
	notify chan struct{}
}

func newScriptedSender(errs ...error) *scriptedSender {
	return &scriptedSender{errs: errs, notify: make(chan struct{}, 100)}
}

func (s *scriptedSender) Send(_ context.Context, msg push.Message) error {
	s.mu.Lock()
	defer func() {
		s.mu.Unlock()
		s.notify <- struct{}{}
	}()

	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *scriptedSender) waitCalls(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-s.notify:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for send %d", i+1)
		}
	}
}

func (s *scriptedSender) sentTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sent))
	for _, m := range s.sent {
		out = append(out, m.Token)
	}
	return out
}

func testWorkerConfig() WorkerConfig {
	return WorkerConfig{
		NumWorkers:        1,
		QueueSize:         10,
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BackoffMultiplier: 2.0,
		DrainTimeout:      time.Second,
	}
}

func TestWorker_CalculateBackoff(t *testing.T) {
	worker := &Worker{config: WorkerConfig{
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}}

	tests := []struct {
		name     string
		attempt  int
		expected time.Duration
	}{
		{"first retry", 1, 1 * time.Second},
		{"second retry", 2, 2 * time.Second},
		{"third retry", 3, 4 * time.Second},
		{"fourth retry", 4, 8 * time.Second},
		{"capped", 5, 10 * time.Second},
		{"capped far out", 100, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, worker.calculateBackoff(tt.attempt))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"retryable error", &push.RetryableError{Reason: "unavailable"}, true},
		{"permanent error", &push.PermanentError{Reason: "bad"}, false},
		{"generic error defaults to retryable", errors.New("unknown error"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isRetryable(tt.err))
		})
	}
}

func TestWorker_RetriesRetryableErrors(t *testing.T) {
	sender := newScriptedSender(&push.RetryableError{Code: 503, Reason: "down"})
	w := NewWorker(testWorkerConfig(), sender, newMockRepository())
	w.Start(context.Background())
	defer w.Stop()

	require.True(t, w.Enqueue(PushJob{NotificationID: "n1", Message: push.Message{Token: "t1"}}))
	sender.waitCalls(t, 2)

	assert.Equal(t, []string{"t1"}, sender.sentTokens())
}

func TestWorker_GivesUpAfterMaxAttempts(t *testing.T) {
	failure := &push.RetryableError{Reason: "down"}
	sender := newScriptedSender(failure, failure, failure, failure)
	w := NewWorker(testWorkerConfig(), sender, newMockRepository())
	w.Start(context.Background())

	require.True(t, w.Enqueue(PushJob{Message: push.Message{Token: "t1"}}))
	sender.waitCalls(t, 3)
	time.Sleep(50 * time.Millisecond)
	w.Stop()

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, 3, sender.calls)
	assert.Empty(t, sender.sent)
}

func TestWorker_RemovesUnregisteredToken(t *testing.T) {
	repo := newMockRepository()
	sender := newScriptedSender(&push.PermanentError{Reason: "NotRegistered", Err: push.ErrTokenNotRegistered})
	w := NewWorker(testWorkerConfig(), sender, repo)
	w.Start(context.Background())

	require.True(t, w.Enqueue(PushJob{Message: push.Message{Token: "stale"}}))
	sender.waitCalls(t, 1)
	w.Stop()

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Equal(t, []string{"stale"}, repo.deleted)
}

func TestWorker_StopDrainsQueue(t *testing.T) {
	sender := newScriptedSender()
	w := NewWorker(testWorkerConfig(), sender, newMockRepository())

	require.True(t, w.Enqueue(PushJob{Message: push.Message{Token: "a"}}))
	require.True(t, w.Enqueue(PushJob{Message: push.Message{Token: "b"}}))

	w.Start(context.Background())
	w.Stop()

	assert.ElementsMatch(t, []string{"a", "b"}, sender.sentTokens())
	assert.False(t, w.Enqueue(PushJob{Message: push.Message{Token: "late"}}))
}

func TestWorker_EnqueueFullQueue(t *testing.T) {
	cfg := testWorkerConfig()
	cfg.QueueSize = 1
	w := NewWorker(cfg, newScriptedSender(), newMockRepository())

	assert.True(t, w.Enqueue(PushJob{}))
	assert.False(t, w.Enqueue(PushJob{}))
}

func TestDefaultWorkerConfig(t *testing.T) {
	config := DefaultWorkerConfig()

	assert.Equal(t, 5, config.NumWorkers)
	assert.Equal(t, 1000, config.QueueSize)
	assert.Equal(t, 3, config.MaxAttempts)
	assert.Equal(t, 1*time.Second, config.InitialBackoff)
	assert.Equal(t, 5*time.Minute, config.MaxBackoff)
	assert.Equal(t, 2.0, config.BackoffMultiplier)
}
