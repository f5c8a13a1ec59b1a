package poller

import (
	"context"
	"sync"
	"time"

	"github.com/bissquit/signal-relay/internal/domain"
)

// State is the lifecycle state of a channel loop.
type State string

// Loop states.
const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StatePolling  State = "polling"
	// StateRejected is a parked loop whose credentials were refused.
	StateRejected State = "rejected"
)

// ChannelStatus is a snapshot of one channel loop.
type ChannelStatus struct {
	ChannelID           string     `json:"channel_id"`
	State               State      `json:"state"`
	Cursor              int64      `json:"cursor"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	Degraded            bool       `json:"degraded"`
	LastError           string     `json:"last_error,omitempty"`
	LastPollAt          *time.Time `json:"last_poll_at,omitempty"`
}

// loop is the polling task of one channel. Only its goroutine writes the
// cursor; mu guards the fields Status reads.
type loop struct {
	channelID string
	cancel    context.CancelFunc
	done      chan struct{}

	mu       sync.Mutex
	channel  domain.Channel
	state    State
	cursor   int64
	failures int
	degraded bool
	lastErr  string
	lastPoll time.Time
	stopping bool
}

func newLoop(ch domain.Channel, cancel context.CancelFunc) *loop {
	return &loop{
		channelID: ch.ID,
		cancel:    cancel,
		done:      make(chan struct{}),
		channel:   ch,
		state:     StateStopped,
		cursor:    ch.Cursor,
	}
}

func (l *loop) setState(next State) {
	l.mu.Lock()
	prev := l.state
	l.state = next
	l.mu.Unlock()

	if prev == next {
		return
	}
	if prev == StateStopped {
		prev = ""
	}
	if next == StateStopped {
		recordStateChange(prev, "")
		return
	}
	recordStateChange(prev, next)
}

// stop marks the loop as stopping and cancels it. Results that arrive
// afterwards are discarded.
func (l *loop) stop() {
	l.mu.Lock()
	l.stopping = true
	l.mu.Unlock()
	l.cancel()
}

// finish moves an exiting loop to Stopped unless it was parked as rejected.
func (l *loop) finish() {
	if l.isRejected() {
		return
	}
	l.setState(StateStopped)
}

// markRejected records a credential rejection and parks the loop. It reports
// whether the loop was degraded.
func (l *loop) markRejected(err error) bool {
	l.mu.Lock()
	l.lastErr = err.Error()
	l.lastPoll = time.Now()
	degraded := l.degraded
	l.mu.Unlock()

	l.setState(StateRejected)
	return degraded
}

func (l *loop) isRejected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == StateRejected
}

func (l *loop) isStopping() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopping
}

func (l *loop) getCursor() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursor
}

func (l *loop) setCursor(c int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c > l.cursor {
		l.cursor = c
	}
}

func (l *loop) snapshot() ChannelStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := ChannelStatus{
		ChannelID:           l.channelID,
		State:               l.state,
		Cursor:              l.cursor,
		ConsecutiveFailures: l.failures,
		Degraded:            l.degraded,
		LastError:           l.lastErr,
	}
	if !l.lastPoll.IsZero() {
		t := l.lastPoll
		st.LastPollAt = &t
	}
	return st
}

// recordFailure returns the new failure count and whether the loop just became degraded.
func (l *loop) recordFailure(err error, degradedAfter int) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.failures++
	l.lastErr = err.Error()
	l.lastPoll = time.Now()
	if !l.degraded && degradedAfter > 0 && l.failures >= degradedAfter {
		l.degraded = true
		return l.failures, true
	}
	return l.failures, false
}

// recordSuccess resets failures and returns whether the loop just recovered.
func (l *loop) recordSuccess() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.failures = 0
	l.lastErr = ""
	l.lastPoll = time.Now()
	if l.degraded {
		l.degraded = false
		return true
	}
	return false
}
