package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bissquit/signal-relay/internal/domain"
	"github.com/bissquit/signal-relay/internal/pkg/ctxlog"
	"github.com/bissquit/signal-relay/internal/transport"
)

// ErrPollingDisabled is returned by Start when settings switch Telegram polling off.
var ErrPollingDisabled = errors.New("telegram polling is disabled in settings")

// ModeResolver picks the transport route for an identity.
type ModeResolver interface {
	ResolveMode(ctx context.Context, actorUID string) transport.Mode
}

// SettingsReader reads the process-wide settings document.
type SettingsReader interface {
	Get(ctx context.Context) (*domain.AppSettings, error)
}

// TransportFactory builds the transport for a mode.
type TransportFactory func(mode transport.Mode) (transport.Transport, error)

// EngineStatus describes the poller as a whole.
type EngineStatus struct {
	Running  bool            `json:"running"`
	Mode     transport.Mode  `json:"mode,omitempty"`
	Channels []ChannelStatus `json:"channels"`
}

// Engine owns the current Scheduler. Start resolves the transport mode once;
// the mode stays fixed until Restart.
type Engine struct {
	config      Config
	operatorUID string
	resolver    ModeResolver
	settings    SettingsReader
	factory     TransportFactory
	registry    Registry
	dispatcher  Dispatcher
	onHealth    HealthFunc

	mu         sync.Mutex
	scheduler  *Scheduler
	transports map[transport.Mode]transport.Transport
}

// NewEngine creates a stopped engine polling as operatorUID.
func NewEngine(
	config Config,
	operatorUID string,
	resolver ModeResolver,
	settings SettingsReader,
	factory TransportFactory,
	registry Registry,
	dispatcher Dispatcher,
) *Engine {
	return &Engine{
		config:      config,
		operatorUID: operatorUID,
		resolver:    resolver,
		settings:    settings,
		factory:     factory,
		registry:    registry,
		dispatcher:  dispatcher,
		transports:  make(map[transport.Mode]transport.Transport),
	}
}

// OnHealth registers a callback passed to every scheduler the engine creates.
func (e *Engine) OnHealth(fn HealthFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onHealth = fn
}

// Start begins polling every active channel. When already running it only
// starts loops for channels that have none.
func (e *Engine) Start(ctx context.Context) (EngineStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.startLocked(ctx); err != nil {
		return e.statusLocked(), err
	}
	return e.statusLocked(), nil
}

// Stop cancels every loop and waits for them to exit.
func (e *Engine) Stop(ctx context.Context) EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopLocked(ctx)
	return e.statusLocked()
}

// Restart stops polling and starts again, resolving the transport mode anew.
func (e *Engine) Restart(ctx context.Context) (EngineStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopLocked(ctx)
	if err := e.startLocked(ctx); err != nil {
		return e.statusLocked(), err
	}
	return e.statusLocked(), nil
}

// Status returns the current engine state.
func (e *Engine) Status() EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked()
}

// ChannelActivated starts a loop for a newly enabled channel if polling is running.
func (e *Engine) ChannelActivated(ctx context.Context, ch domain.Channel) {
	e.mu.Lock()
	s := e.scheduler
	e.mu.Unlock()

	if s != nil && s.Start(ctx, ch) {
		ctxlog.FromContext(ctx).Info("channel loop started", "channel_id", ch.ID)
	}
}

// ChannelDeactivated stops the loop of a disabled channel.
func (e *Engine) ChannelDeactivated(ctx context.Context, channelID string) {
	e.mu.Lock()
	s := e.scheduler
	e.mu.Unlock()

	if s != nil && s.Running(channelID) {
		s.Stop(channelID)
		ctxlog.FromContext(ctx).Info("channel loop stopped", "channel_id", channelID)
	}
}

// ListActiveChannels lists channels visible on the network through the
// current transport, or through the one the operator would get if stopped.
func (e *Engine) ListActiveChannels(ctx context.Context) ([]transport.ChannelMeta, error) {
	e.mu.Lock()
	var mode transport.Mode
	if e.scheduler != nil {
		mode = e.scheduler.Mode()
	} else {
		mode = e.resolver.ResolveMode(ctx, e.operatorUID)
	}
	tr, err := e.transportLocked(mode)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return tr.ListActiveChannels(ctx)
}

func (e *Engine) startLocked(ctx context.Context) error {
	if e.scheduler == nil {
		settings, err := e.settings.Get(ctx)
		if err != nil {
			return fmt.Errorf("read settings: %w", err)
		}
		if !settings.Telegram.Enabled {
			return ErrPollingDisabled
		}

		mode := e.resolver.ResolveMode(ctx, e.operatorUID)
		tr, err := e.transportLocked(mode)
		if err != nil {
			return err
		}

		s := NewScheduler(e.config, tr, mode, e.registry, e.dispatcher)
		s.OnHealth(e.onHealth)
		e.scheduler = s
	}

	if _, err := e.scheduler.StartAll(ctx); err != nil {
		return err
	}
	return nil
}

func (e *Engine) stopLocked(ctx context.Context) {
	if e.scheduler == nil {
		return
	}
	e.scheduler.StopAll()
	e.scheduler = nil
	ctxlog.FromContext(ctx).Info("poller engine stopped")
}

// transportLocked returns a cached transport per mode. The direct client holds
// the shared update offset, so one instance must serve every caller.
func (e *Engine) transportLocked(mode transport.Mode) (transport.Transport, error) {
	if tr, ok := e.transports[mode]; ok {
		return tr, nil
	}
	tr, err := e.factory(mode)
	if err != nil {
		return nil, fmt.Errorf("create %s transport: %w", mode, err)
	}
	e.transports[mode] = tr
	return tr, nil
}

func (e *Engine) statusLocked() EngineStatus {
	if e.scheduler == nil {
		return EngineStatus{Channels: []ChannelStatus{}}
	}
	return EngineStatus{
		Running:  true,
		Mode:     e.scheduler.Mode(),
		Channels: e.scheduler.Status(),
	}
}
