// Package poller runs one polling loop per active channel and hands new
// posts to the dispatcher.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bissquit/signal-relay/internal/domain"
	"github.com/bissquit/signal-relay/internal/pkg/ctxlog"
	"github.com/bissquit/signal-relay/internal/transport"
)

var errStopped = errors.New("loop stopped")

// Registry is the channel registry as seen by the poller.
type Registry interface {
	ListActiveChannels(ctx context.Context) ([]domain.Channel, error)
	GetChannel(ctx context.Context, id string) (*domain.Channel, error)
	AdvanceCursor(ctx context.Context, id string, cursor int64) error
}

// Dispatcher receives new posts, oldest first per channel.
type Dispatcher interface {
	OnMessage(ctx context.Context, ch *domain.Channel, msg transport.Message) error
}

// Health is a change in a loop's health.
type Health struct {
	Degraded bool
	// Rejected is set when the transport refused our credentials. The loop
	// is parked until the channel or the engine is started again.
	Rejected error
}

// HealthFunc is called when a loop becomes degraded, recovers or is rejected.
type HealthFunc func(channelID string, h Health)

// Scheduler owns the channel loops. The transport and its mode are fixed
// for the scheduler's lifetime.
type Scheduler struct {
	config     Config
	transport  transport.Transport
	mode       transport.Mode
	registry   Registry
	dispatcher Dispatcher
	onHealth   HealthFunc
	baseCtx    context.Context

	mu    sync.Mutex
	loops map[string]*loop
}

// NewScheduler creates a scheduler bound to one transport.
func NewScheduler(config Config, tr transport.Transport, mode transport.Mode, registry Registry, dispatcher Dispatcher) *Scheduler {
	logger := slog.Default().With("component", "poller", "mode", mode)
	return &Scheduler{
		config:     config,
		transport:  tr,
		mode:       mode,
		registry:   registry,
		dispatcher: dispatcher,
		onHealth:   func(string, Health) {},
		baseCtx:    ctxlog.WithLogger(context.Background(), logger),
		loops:      make(map[string]*loop),
	}
}

// OnHealth registers the health callback. Must be called before StartAll.
func (s *Scheduler) OnHealth(fn HealthFunc) {
	if fn != nil {
		s.onHealth = fn
	}
}

// Mode returns the transport mode the scheduler was built with.
func (s *Scheduler) Mode() transport.Mode {
	return s.mode
}

// StartAll starts a loop for every active channel that has none.
// Calling it again is a no-op for channels already running.
func (s *Scheduler) StartAll(ctx context.Context) (int, error) {
	list, err := s.registry.ListActiveChannels(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active channels: %w", err)
	}

	started := 0
	for _, ch := range list {
		if s.Start(ctx, ch) {
			started++
		}
	}

	ctxlog.FromContext(ctx).Info("poller started",
		"mode", s.mode,
		"active_channels", len(list),
		"started", started,
	)
	return started, nil
}

// Start starts a loop for ch unless one is running. It returns true if a loop was started.
// If the channel's previous loop is still stopping, Start waits for it to exit.
// A loop parked after a credential rejection is replaced.
func (s *Scheduler) Start(_ context.Context, ch domain.Channel) bool {
	for {
		s.mu.Lock()
		existing, ok := s.loops[ch.ID]
		if !ok {
			loopCtx, cancel := context.WithCancel(ctxlog.WithChannel(s.baseCtx, ch.ID))
			l := newLoop(ch, cancel)
			s.loops[ch.ID] = l
			s.mu.Unlock()

			go s.run(loopCtx, l)
			return true
		}
		s.mu.Unlock()

		if !existing.isStopping() && !existing.isRejected() {
			return false
		}
		<-existing.done
		s.forget(existing)
	}
}

// Stop stops the loop of one channel and waits for it to exit.
func (s *Scheduler) Stop(channelID string) {
	s.mu.Lock()
	l, ok := s.loops[channelID]
	s.mu.Unlock()
	if !ok {
		return
	}

	l.stop()
	<-l.done
	s.forget(l)
}

// StopAll stops every loop and waits for them. Safe with no loops running.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	loops := make([]*loop, 0, len(s.loops))
	for _, l := range s.loops {
		loops = append(loops, l)
	}
	s.mu.Unlock()

	for _, l := range loops {
		l.stop()
	}
	for _, l := range loops {
		<-l.done
		s.forget(l)
	}

	if len(loops) > 0 {
		ctxlog.FromContext(s.baseCtx).Info("poller stopped", "loops", len(loops))
	}
}

// Status returns a snapshot of every loop ordered by channel ID.
func (s *Scheduler) Status() []ChannelStatus {
	s.mu.Lock()
	loops := make([]*loop, 0, len(s.loops))
	for _, l := range s.loops {
		loops = append(loops, l)
	}
	s.mu.Unlock()

	out := make([]ChannelStatus, 0, len(loops))
	for _, l := range loops {
		out = append(out, l.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}

// Running reports whether a loop exists for channelID.
func (s *Scheduler) Running(channelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.loops[channelID]
	return ok
}

func (s *Scheduler) forget(l *loop) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loops[l.channelID] == l {
		delete(s.loops, l.channelID)
	}
	if l.isRejected() {
		l.setState(StateStopped)
	}
}

func (s *Scheduler) run(ctx context.Context, l *loop) {
	defer close(l.done)
	defer l.finish()

	logger := ctxlog.FromContext(ctx)
	l.setState(StateStarting)

	for {
		err := s.fetchMeta(ctx, l)
		if err == nil {
			break
		}
		if ctx.Err() != nil || errors.Is(err, errStopped) {
			return
		}
		if errors.Is(err, transport.ErrUnauthorized) {
			s.reject(ctx, l, err)
			return
		}
		delay := s.handleFailure(ctx, l, err)
		logger.Warn("channel metadata fetch failed", "error", err, "retry_in", delay)
		if !sleep(ctx, delay) {
			return
		}
	}

	l.setState(StatePolling)
	logger.Info("channel polling started", "cursor", l.getCursor())

	for {
		if ctx.Err() != nil {
			return
		}

		err := s.poll(ctx, l)
		if ctx.Err() != nil || errors.Is(err, errStopped) {
			return
		}

		if errors.Is(err, transport.ErrUnauthorized) {
			recordPoll(string(s.mode), "rejected")
			s.reject(ctx, l, err)
			return
		}

		delay := s.config.Interval
		if err != nil {
			recordPoll(string(s.mode), "error")
			delay = s.handleFailure(ctx, l, err)
			logger.Warn("poll failed", "error", err, "retry_in", delay)
		} else {
			recordPoll(string(s.mode), "success")
			if l.recordSuccess() {
				recordDegraded(l.channelID, false)
				s.onHealth(l.channelID, Health{})
				logger.Info("channel recovered")
			}
		}

		if !sleep(ctx, delay) {
			return
		}
	}
}

func (s *Scheduler) fetchMeta(ctx context.Context, l *loop) error {
	reqCtx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	meta, err := s.transport.GetChannel(reqCtx, l.channelID)
	if l.isStopping() {
		return errStopped
	}
	if err != nil {
		return err
	}

	l.mu.Lock()
	if meta.Title != "" {
		l.channel.Title = meta.Title
	}
	if meta.Username != "" {
		l.channel.Username = meta.Username
	}
	l.mu.Unlock()
	return nil
}

// poll runs one cycle. Posts are dispatched oldest first and the cursor
// advances only past posts the dispatcher accepted.
func (s *Scheduler) poll(ctx context.Context, l *loop) error {
	cursor := l.getCursor()

	reqCtx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	msgs, err := s.transport.FetchMessagesSince(reqCtx, l.channelID, cursor)
	cancel()

	if l.isStopping() {
		return errStopped
	}
	if err != nil {
		return err
	}

	fresh := make([]transport.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID > cursor {
			fresh = append(fresh, m)
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].ID < fresh[j].ID })

	// Entitlement is evaluated against current terms, not the ones the loop started with.
	ch, err := s.registry.GetChannel(ctx, l.channelID)
	if err != nil {
		return fmt.Errorf("load channel: %w", err)
	}

	delivered := cursor
	var dispatchErr error
	for _, m := range fresh {
		if l.isStopping() {
			dispatchErr = errStopped
			break
		}
		if m.ID == delivered {
			continue
		}
		if err := s.dispatcher.OnMessage(ctx, ch, m); err != nil {
			dispatchErr = fmt.Errorf("dispatch message %d: %w", m.ID, err)
			break
		}
		delivered = m.ID
		messagesTotal.Inc()
	}

	if delivered > cursor {
		l.setCursor(delivered)
		// Posts were already delivered; persist even if the loop is stopping.
		if err := s.registry.AdvanceCursor(context.WithoutCancel(ctx), l.channelID, delivered); err != nil {
			ctxlog.FromContext(ctx).Error("failed to persist cursor", "cursor", delivered, "error", err)
		}
	}
	return dispatchErr
}

func (s *Scheduler) handleFailure(ctx context.Context, l *loop, err error) time.Duration {
	failures, becameDegraded := l.recordFailure(err, s.config.DegradedAfter)
	if becameDegraded {
		recordDegraded(l.channelID, true)
		s.onHealth(l.channelID, Health{Degraded: true})
		ctxlog.FromContext(ctx).Warn("channel degraded", "consecutive_failures", failures)
	}

	delay := s.config.backoff(failures)
	if ra := transport.GetRetryAfter(err); ra > delay {
		delay = ra
	}
	return delay
}

// reject parks the loop: credential rejections are not retried.
func (s *Scheduler) reject(ctx context.Context, l *loop, err error) {
	degraded := l.markRejected(err)
	ctxlog.FromContext(ctx).Error("transport rejected credentials, channel polling parked", "error", err)
	s.onHealth(l.channelID, Health{Degraded: degraded, Rejected: err})
}

// sleep waits for d or until ctx is done. It returns false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
