package notifications

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bissquit/signal-relay/internal/notifications/push"
)

// WorkerConfig contains push worker configuration.
type WorkerConfig struct {
	NumWorkers        int
	QueueSize         int
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	DrainTimeout      time.Duration
}

// DefaultWorkerConfig returns default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		NumWorkers:        5,
		QueueSize:         1000,
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        5 * time.Minute,
		BackoffMultiplier: 2.0,
		DrainTimeout:      10 * time.Second,
	}
}

// PushJob is one push delivery to one device.
type PushJob struct {
	NotificationID string
	UserID         string
	Message        push.Message
	Attempts       int
}

// TokenRemover forgets device tokens the gateway rejected.
type TokenRemover interface {
	DeleteDeviceToken(ctx context.Context, token string) error
}

// Worker delivers queued push messages.
type Worker struct {
	config WorkerConfig
	sender push.Sender
	tokens TokenRemover

	queue    chan PushJob
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker creates a new push worker.
func NewWorker(config WorkerConfig, sender push.Sender, tokens TokenRemover) *Worker {
	if config.NumWorkers <= 0 {
		config.NumWorkers = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultWorkerConfig().QueueSize
	}
	return &Worker{
		config: config,
		sender: sender,
		tokens: tokens,
		queue:  make(chan PushJob, config.QueueSize),
		stopCh: make(chan struct{}),
	}
}

// Start launches worker goroutines.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("starting push worker",
		"workers", w.config.NumWorkers,
		"queue_size", w.config.QueueSize,
	)

	for i := 0; i < w.config.NumWorkers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}
}

// Enqueue adds job to the queue. Returns false if the queue is full or the worker stopped.
func (w *Worker) Enqueue(job PushJob) bool {
	select {
	case <-w.stopCh:
		return false
	default:
	}

	select {
	case w.queue <- job:
		pushQueueDepth.Set(float64(len(w.queue)))
		return true
	default:
		recordPushSent("dropped")
		return false
	}
}

// Stop delivers what is already queued, then stops all workers.
// Pending retries are abandoned.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
	slog.Info("push worker stopped")
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			w.drain(workerID)
			return
		case job := <-w.queue:
			pushQueueDepth.Set(float64(len(w.queue)))
			w.process(ctx, job, true)
		}
	}
}

func (w *Worker) drain(workerID int) {
	ctx, cancel := context.WithTimeout(context.Background(), w.config.DrainTimeout)
	defer cancel()

	for {
		select {
		case job := <-w.queue:
			w.process(ctx, job, false)
		default:
			slog.Debug("push worker drained", "worker", workerID)
			return
		}
	}
}

func (w *Worker) process(ctx context.Context, job PushJob, allowRetry bool) {
	start := time.Now()
	err := w.sender.Send(ctx, job.Message)
	recordPushDuration(time.Since(start))

	if err == nil {
		recordPushSent("success")
		slog.Debug("push sent", "notification_id", job.NotificationID, "user_id", job.UserID)
		return
	}

	w.handleSendError(ctx, job, err, allowRetry)
}

func (w *Worker) handleSendError(ctx context.Context, job PushJob, err error, allowRetry bool) {
	slog.Warn("push failed",
		"notification_id", job.NotificationID,
		"attempt", job.Attempts+1,
		"max_attempts", w.config.MaxAttempts,
		"error", err,
	)

	if errors.Is(err, push.ErrTokenNotRegistered) {
		if delErr := w.tokens.DeleteDeviceToken(ctx, job.Message.Token); delErr != nil {
			slog.Error("failed to delete stale device token", "user_id", job.UserID, "error", delErr)
		}
		recordPushSent("token_removed")
		return
	}

	if !isRetryable(err) || !allowRetry || job.Attempts+1 >= w.config.MaxAttempts {
		recordPushSent("failed")
		return
	}

	job.Attempts++
	delay := w.calculateBackoff(job.Attempts)
	var re *push.RetryableError
	if errors.As(err, &re) && re.RetryAfter > delay {
		delay = re.RetryAfter
	}

	recordPushSent("retry")
	w.scheduleRetry(job, delay)
}

func (w *Worker) scheduleRetry(job PushJob, delay time.Duration) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-w.stopCh:
			slog.Debug("push retry abandoned on shutdown", "notification_id", job.NotificationID)
		case <-timer.C:
			if !w.Enqueue(job) {
				slog.Warn("push retry dropped", "notification_id", job.NotificationID)
			}
		}
	}()
}

func (w *Worker) calculateBackoff(attempt int) time.Duration {
	backoff := float64(w.config.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= w.config.BackoffMultiplier
	}

	if backoff > float64(w.config.MaxBackoff) {
		backoff = float64(w.config.MaxBackoff)
	}

	return time.Duration(backoff)
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	// Default: retry unknown errors
	return true
}
