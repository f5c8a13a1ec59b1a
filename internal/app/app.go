// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bissquit/signal-relay/internal/audit"
	auditpostgres "github.com/bissquit/signal-relay/internal/audit/postgres"
	"github.com/bissquit/signal-relay/internal/channels"
	channelspostgres "github.com/bissquit/signal-relay/internal/channels/postgres"
	"github.com/bissquit/signal-relay/internal/config"
	"github.com/bissquit/signal-relay/internal/domain"
	"github.com/bissquit/signal-relay/internal/identity"
	"github.com/bissquit/signal-relay/internal/identity/jwt"
	identitypostgres "github.com/bissquit/signal-relay/internal/identity/postgres"
	"github.com/bissquit/signal-relay/internal/notifications"
	"github.com/bissquit/signal-relay/internal/notifications/dedup"
	notificationspostgres "github.com/bissquit/signal-relay/internal/notifications/postgres"
	"github.com/bissquit/signal-relay/internal/notifications/push"
	"github.com/bissquit/signal-relay/internal/pkg/ctxlog"
	"github.com/bissquit/signal-relay/internal/pkg/httputil"
	"github.com/bissquit/signal-relay/internal/pkg/lifecycle"
	"github.com/bissquit/signal-relay/internal/pkg/metrics"
	"github.com/bissquit/signal-relay/internal/pkg/postgres"
	"github.com/bissquit/signal-relay/internal/poller"
	"github.com/bissquit/signal-relay/internal/settings"
	settingspostgres "github.com/bissquit/signal-relay/internal/settings/postgres"
	"github.com/bissquit/signal-relay/internal/subscriptions"
	subscriptionspostgres "github.com/bissquit/signal-relay/internal/subscriptions/postgres"
	"github.com/bissquit/signal-relay/internal/transport"
	"github.com/bissquit/signal-relay/internal/transport/relay"
	"github.com/bissquit/signal-relay/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	state         *lifecycle.State
	db            *pgxpool.Pool
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc

	engine     *poller.Engine
	discoverer *channels.Discoverer
	pushWorker *notifications.Worker
	dedupStore dedup.Store
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	state := lifecycle.New()
	if err := state.Transition(lifecycle.Initializing); err != nil {
		return nil, err
	}

	if cfg.Database.Migrate {
		if err := postgres.Migrate(cfg.Database.URL); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		state:         state,
		db:            db,
		metricsCancel: metricsCancel,
	}

	go metrics.CollectDBPool(metricsCtx, db, 15*time.Second)

	router, err := app.setupRouter(metricsCtx)
	if err != nil {
		app.stopBackground()
		db.Close()
		metricsCancel()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if err := state.Transition(lifecycle.Ready); err != nil {
		return nil, err
	}
	return app, nil
}

// Run starts background polling and the HTTP servers.
func (a *App) Run() error {
	a.startBackground(context.Background())

	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"version", version.Version,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	if err := a.state.Transition(lifecycle.Stopping); err != nil {
		a.logger.Warn("lifecycle transition failed", "error", err)
	}
	a.logger.Info("shutting down servers")

	a.metricsCancel()

	// Stop producers before the servers so no post is half-dispatched.
	a.stopBackground()

	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	if closer, ok := a.dedupStore.(*dedup.RedisStore); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}

	a.db.Close()

	return errors.Join(errs...)
}

// startBackground starts discovery and, if configured, channel polling.
func (a *App) startBackground(ctx context.Context) {
	if a.discoverer != nil {
		if err := a.discoverer.Start(); err != nil {
			a.logger.Error("failed to start channel discovery", "error", err)
		}
	}

	if !a.config.Poller.AutoStart {
		a.logger.Info("poller auto start disabled")
		return
	}

	status, err := a.engine.Start(ctx)
	switch {
	case errors.Is(err, poller.ErrPollingDisabled):
		a.logger.Info("poller not started: telegram polling disabled in settings")
	case err != nil:
		a.logger.Error("failed to start poller", "error", err)
	default:
		a.logger.Info("poller running", "mode", status.Mode, "channels", len(status.Channels))
	}
}

func (a *App) stopBackground() {
	if a.discoverer != nil {
		a.discoverer.Stop()
	}
	if a.engine != nil {
		a.engine.Stop(context.Background())
	}
	if a.pushWorker != nil {
		a.pushWorker.Stop()
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Engine returns the poller engine. Used in tests to drive polling directly.
func (a *App) Engine() *poller.Engine {
	return a.engine
}

func (a *App) setupRouter(ctx context.Context) (*chi.Mux, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	jwtAuth, err := jwt.NewAuthenticator(jwt.Config{
		SecretKey:             a.config.JWT.SecretKey,
		Issuer:                a.config.JWT.Issuer,
		Audience:              a.config.JWT.Audience,
		OperatorTokenDuration: a.config.JWT.OperatorTokenDuration,
	})
	if err != nil {
		return nil, fmt.Errorf("create jwt authenticator: %w", err)
	}

	auditWriter := audit.NewWriter(auditpostgres.NewRepository(a.db))

	identityService := identity.NewService(identitypostgres.NewRepository(a.db), jwtAuth, auditWriter)
	settingsService := settings.NewService(settingspostgres.NewRepository(a.db), identityService, auditWriter)
	channelsService := channels.NewService(channelspostgres.NewRepository(a.db), identityService, auditWriter)
	subscriptionsService := subscriptions.NewService(
		subscriptionspostgres.NewRepository(a.db),
		channelsService,
		identityService,
		auditWriter,
	)

	notificationsRepo := notificationspostgres.NewRepository(a.db)
	notificationsService := notifications.NewService(notificationsRepo)

	seen, err := a.newDedupStore(ctx)
	if err != nil {
		return nil, err
	}
	a.dedupStore = seen

	// A nil *Worker must not become a non-nil PushQueue.
	var pushQueue notifications.PushQueue
	if a.config.Push.Enabled {
		worker, err := a.newPushWorker(notificationsRepo)
		if err != nil {
			return nil, err
		}
		worker.Start(ctx)
		a.pushWorker = worker
		pushQueue = worker
	} else {
		slog.Warn("push delivery is disabled: notifications are stored but not pushed")
	}

	dispatcher := notifications.NewDispatcher(
		notificationsRepo,
		subscriptionsService,
		seen,
		notifications.NewRenderer(),
		pushQueue,
	)

	a.engine = poller.NewEngine(
		poller.Config{
			Interval:          a.config.Poller.Interval,
			RequestTimeout:    a.config.Poller.RequestTimeout,
			InitialBackoff:    a.config.Poller.InitialBackoff,
			MaxBackoff:        a.config.Poller.MaxBackoff,
			BackoffMultiplier: a.config.Poller.BackoffMultiplier,
			DegradedAfter:     a.config.Poller.DegradedAfter,
		},
		a.config.Telegram.OperatorUID,
		transport.NewSelector(identityService, settingsService),
		settingsService,
		newTransportFactory(a.config.Telegram, jwtAuth),
		channelsService,
		dispatcher,
	)
	a.engine.OnHealth(func(channelID string, h poller.Health) {
		if h.Rejected != nil {
			slog.Error("channel polling parked: credentials rejected", "channel_id", channelID, "error", h.Rejected)
			return
		}
		if h.Degraded {
			slog.Warn("channel polling degraded", "channel_id", channelID)
			return
		}
		slog.Info("channel polling recovered", "channel_id", channelID)
	})
	channelsService.SetWatcher(a.engine)

	if a.config.Poller.DiscoveryCron != "" {
		a.discoverer = channels.NewDiscoverer(a.engine, channelsService, a.config.Poller.DiscoveryCron, a.config.Poller.DiscoveryTimeout)
	}

	var relayHandler *relay.Handler
	if a.config.Telegram.BotToken != "" {
		upstream, err := newDirectCaller(a.config.Telegram)
		if err != nil {
			return nil, fmt.Errorf("create relay upstream: %w", err)
		}
		relayHandler = relay.NewHandler(upstream, a.config.Telegram.RelayRateLimit)
	} else {
		slog.Info("intermediary endpoint disabled: no bot token configured")
	}

	identityHandler := identity.NewHandler(identityService)
	settingsHandler := settings.NewHandler(settingsService)
	channelsHandler := channels.NewHandler(channelsService, a.discoverer)
	subscriptionsHandler := subscriptions.NewHandler(subscriptionsService)
	notificationsHandler := notifications.NewHandler(notificationsService)
	auditHandler := audit.NewHandler(auditWriter)
	pollerHandler := poller.NewHandler(a.engine)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(httputil.AuthMiddleware(identityService))

			identityHandler.RegisterProtectedRoutes(r)
			channelsHandler.RegisterProtectedRoutes(r)
			subscriptionsHandler.RegisterProtectedRoutes(r)
			notificationsHandler.RegisterRoutes(r)

			r.Group(func(r chi.Router) {
				r.Use(httputil.RequireRole(domain.RoleAdmin))
				identityHandler.RegisterAdminRoutes(r)
				channelsHandler.RegisterAdminRoutes(r)
				subscriptionsHandler.RegisterAdminRoutes(r)
				settingsHandler.RegisterAdminRoutes(r)
				auditHandler.RegisterRoutes(r)
				pollerHandler.RegisterAdminRoutes(r)

				if relayHandler != nil {
					relayHandler.RegisterRoutes(r)
				}
			})
		})
	})

	return r, nil
}

func (a *App) newDedupStore(ctx context.Context) (dedup.Store, error) {
	if a.config.Redis.URL == "" {
		slog.Info("dedup cache: in-memory", "capacity", a.config.Redis.DedupCapacity)
		return dedup.NewMemoryStore(a.config.Redis.DedupCapacity, a.config.Redis.DedupTTL), nil
	}

	store, err := dedup.NewRedisStore(a.config.Redis.URL, a.config.Redis.DedupTTL)
	if err != nil {
		return nil, fmt.Errorf("create redis dedup store: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		// The notifications unique key still prevents duplicates; the cache only saves work.
		slog.Warn("redis unreachable at startup, dedup lookups will fail open", "error", err)
	}

	slog.Info("dedup cache: redis")
	return store, nil
}

func (a *App) newPushWorker(tokens notifications.TokenRemover) (*notifications.Worker, error) {
	sender, err := push.NewFCMSender(push.Config{
		Endpoint:  a.config.Push.Endpoint,
		ServerKey: a.config.Push.ServerKey,
		RateLimit: a.config.Push.RateLimit,
		Timeout:   a.config.Push.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create push sender: %w", err)
	}

	return notifications.NewWorker(notifications.WorkerConfig{
		NumWorkers:        a.config.Push.Workers,
		QueueSize:         a.config.Push.QueueSize,
		MaxAttempts:       a.config.Push.MaxAttempts,
		InitialBackoff:    a.config.Push.InitialBackoff,
		MaxBackoff:        a.config.Push.MaxBackoff,
		BackoffMultiplier: a.config.Push.BackoffMultiplier,
		DrainTimeout:      a.config.Push.DrainTimeout,
	}, sender, tokens), nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if !a.state.IsReady() {
		httputil.Text(w, http.StatusServiceUnavailable, string(a.state.Phase()))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Get())
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
