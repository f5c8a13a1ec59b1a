package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bissquit/signal-relay/internal/pkg/ctxlog"
	"github.com/bissquit/signal-relay/internal/transport"
	"github.com/robfig/cron/v3"
)

// Source lists channels visible on the messaging network.
type Source interface {
	ListActiveChannels(ctx context.Context) ([]transport.ChannelMeta, error)
}

// Discoverer periodically syncs channels reported by the network into the registry.
type Discoverer struct {
	source   Source
	registry *Service
	schedule string
	timeout  time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewDiscoverer creates a discoverer running on a standard 5-field cron schedule.
func NewDiscoverer(source Source, registry *Service, schedule string, timeout time.Duration) *Discoverer {
	return &Discoverer{
		source:   source,
		registry: registry,
		schedule: schedule,
		timeout:  timeout,
		logger:   slog.Default().With("component", "channel_discoverer"),
	}
}

// Start schedules discovery runs.
func (d *Discoverer) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(d.schedule, d.runScheduled); err != nil {
		return fmt.Errorf("parse discovery schedule %q: %w", d.schedule, err)
	}
	c.Start()
	d.cron = c

	d.logger.Info("channel discovery scheduled", "schedule", d.schedule)
	return nil
}

// Stop cancels scheduling and waits for a running discovery to finish.
func (d *Discoverer) Stop() {
	d.mu.Lock()
	c := d.cron
	d.cron = nil
	d.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	d.logger.Info("channel discovery stopped")
}

// RunOnce lists channels on the network and syncs them into the registry.
func (d *Discoverer) RunOnce(ctx context.Context) (SyncResult, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	metas, err := d.source.ListActiveChannels(ctx)
	if err != nil {
		channelsDiscovered.WithLabelValues("error").Inc()
		return SyncResult{}, fmt.Errorf("list network channels: %w", err)
	}

	res := d.registry.SyncDiscovered(ctx, metas)
	channelsDiscovered.WithLabelValues("created").Add(float64(res.Created))
	channelsDiscovered.WithLabelValues("refreshed").Add(float64(res.Refreshed))

	ctxlog.FromContext(ctx).Info("channel discovery completed",
		"created", res.Created,
		"refreshed", res.Refreshed,
		"failed", res.Failed,
	)
	return res, nil
}

func (d *Discoverer) runScheduled() {
	ctx := ctxlog.WithLogger(context.Background(), d.logger)
	if _, err := d.RunOnce(ctx); err != nil {
		d.logger.Warn("channel discovery failed", "error", err)
	}
}
