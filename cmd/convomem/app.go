package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/mindwell/convomem/config"
	"github.com/mindwell/convomem/pkg/api"
	"github.com/mindwell/convomem/pkg/api/handlers"
	"github.com/mindwell/convomem/pkg/api/middleware"
	"github.com/mindwell/convomem/pkg/coach"
	"github.com/mindwell/convomem/pkg/cognition"
	"github.com/mindwell/convomem/pkg/conversation"
	"github.com/mindwell/convomem/pkg/eventbus"
	grpcpkg "github.com/mindwell/convomem/pkg/grpc"
	"github.com/mindwell/convomem/pkg/logger"
	"github.com/mindwell/convomem/pkg/metrics"
	"github.com/mindwell/convomem/pkg/readiness"
	"github.com/mindwell/convomem/pkg/storage"
	"github.com/mindwell/convomem/pkg/storage/badger"
	"github.com/mindwell/convomem/pkg/storage/memory"
)

const (
	// rateLimitCleanupInterval is how often idle per-session buckets are evicted.
	rateLimitCleanupInterval = time.Minute

	defaultShutdownTimeout = 10 * time.Second
)

// app owns every long-lived component of one process.
type app struct {
	cfg *config.Config
	log logger.Logger

	metrics *metrics.Manager
	store   storage.Storage
	emitter *cognition.Emitter
	events  *cognition.Store
	ws      *handlers.WebSocketHandler
	coach   *coach.Service
	checker *readiness.Checker
	limiter *middleware.RateLimiter

	redis *redis.Client
	bus   *eventbus.RedisBus
	relay *cognition.Relay

	http *api.HTTPServer
	grpc *grpcpkg.Server
}

// newApp builds the component graph. Nothing is started.
func newApp(cfg *config.Config, log logger.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	metricsCfg := metrics.DefaultConfig()
	metricsCfg.Enabled = cfg.Metrics.Enabled
	metricsCfg.Port = cfg.Metrics.Port
	metricsCfg.Path = cfg.Metrics.Path
	a.metrics = metrics.NewManager(metricsCfg)

	store, err := newStorage(cfg.Storage, log)
	if err != nil {
		return nil, err
	}
	a.store = store

	a.events = cognition.NewStore(cfg.Events.StoreSize)
	a.emitter = cognition.NewEmitter(cognition.Options{
		QueueSize:   cfg.Events.QueueSize,
		SinkTimeout: cfg.Events.SinkTimeout,
		Logger:      log,
		Telemetry:   a.metrics,
	})
	a.emitter.AddSink("store", a.events)

	if cfg.Server.WebSocket.Enabled {
		a.ws = handlers.NewWebSocketHandler(log, handlers.WebSocketConfig{
			AllowedOrigins: cfg.Server.WebSocket.AllowedOrigins,
			MaxConnections: cfg.Server.WebSocket.MaxConnections,
			PingInterval:   cfg.Server.WebSocket.PingInterval,
			PongTimeout:    cfg.Server.WebSocket.PongTimeout,
			ReplayEvents:   cfg.Server.WebSocket.ReplayEvents,
		}, a.events, a.metrics)
		a.emitter.AddSink("websocket", cognition.SinkFunc(a.ws.Publish))
	}

	if cfg.Events.Transport == "redis" {
		if err := a.wireRedis(); err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	a.coach = coach.New(coach.Options{
		Memory:  conversationOptions(cfg.Conversation),
		Store:   a.store,
		Events:  a.emitter,
		Metrics: a.metrics,
		Logger:  log,
	})

	a.checker = readiness.New(0)
	a.checker.Add("events", func(context.Context) error {
		if !a.emitter.Running() {
			return errors.New("event emitter not running")
		}
		return nil
	})
	a.checker.Add("storage", func(ctx context.Context) error {
		_, _, err := a.store.ListSessions(ctx, &storage.SessionFilter{Limit: 1})
		return err
	})
	if a.bus != nil {
		a.checker.Add("redis", func(ctx context.Context) error {
			if !a.bus.Healthy(ctx) {
				return fmt.Errorf("redis %s unreachable", cfg.Redis.Address)
			}
			return nil
		})
	}

	if cfg.Server.RateLimit.Enabled {
		a.limiter = middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.Server.RateLimit.RequestsPerSecond,
			Burst:             cfg.Server.RateLimit.Burst,
			IdleTimeout:       cfg.Server.RateLimit.IdleTimeout,
		}, a.metrics)
	}

	apiHandlers := &api.Handlers{
		Sessions:  handlers.NewSessionHandler(a.coach, a.store, log),
		Admin:     handlers.NewAdminHandler(a.coach, a.events, log),
		Health:    handlers.NewHealthHandler(a.coach, a.checker),
		WebSocket: a.ws,
		RateLimit: a.limiter,
	}
	if a.metrics.Enabled() {
		apiHandlers.Metrics = a.metrics
	}
	a.http = api.NewHTTPServer(cfg, log, apiHandlers)

	if cfg.Server.GRPC.Enabled {
		grpcCfg := cfg.Server.GRPC.ToGRPCConfig()
		grpcCfg.EnableTracing = cfg.Tracing.Enabled
		a.grpc, err = grpcpkg.New(grpcCfg, grpcpkg.WithLogger(log), grpcpkg.WithReadiness(a.checker))
		if err != nil {
			_ = a.closeBackends()
			return nil, fmt.Errorf("failed to create gRPC server: %w", err)
		}
	}

	return a, nil
}

func conversationOptions(cfg config.ConversationConfig) conversation.Options {
	return conversation.Options{
		EmotionDecay:  cfg.EmotionDecay,
		TopicDecay:    cfg.TopicDecay,
		FadeThreshold: cfg.FadeThreshold,
	}
}

func newStorage(cfg config.StorageConfig, log logger.Logger) (storage.Storage, error) {
	switch cfg.Type {
	case "badger":
		store, err := badger.NewBadgerStorage(&badger.Config{
			Path:              cfg.Badger.Path,
			SyncWrites:        cfg.Badger.SyncWrites,
			ValueLogFileSize:  cfg.Badger.ValueLogFileSize,
			NumVersionsToKeep: cfg.Badger.NumVersionsToKeep,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Badger storage: %w", err)
		}
		log.Info("Initialized Badger storage", "path", cfg.Badger.Path)
		return store, nil
	default:
		log.Info("Initialized memory storage")
		return memory.NewMemoryStorage(), nil
	}
}

// wireRedis publishes local events to Redis and relays events of other
// nodes into the local store and event stream.
func (a *app) wireRedis() error {
	cfg := a.cfg
	a.redis = redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Address,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	a.bus = eventbus.NewRedisBus(a.redis, cfg.Redis.ChannelPrefix)

	nodeID := nodeIdentity(cfg.Events.NodeID)
	publisher, err := eventbus.NewPublisher(a.bus, eventbus.PublisherOptions{
		NodeID:        nodeID,
		SubjectPrefix: cfg.Events.SubjectPrefix,
		Retry: eventbus.RetryConfig{
			MaxRetries:     cfg.Events.Retry.MaxRetries,
			InitialBackoff: cfg.Events.Retry.InitialBackoff,
			MaxBackoff:     cfg.Events.Retry.MaxBackoff,
			BackoffFactor:  cfg.Events.Retry.BackoffFactor,
		},
		Telemetry: a.metrics,
		Router:    cognition.NewSchemaRouter(),
	})
	if err != nil {
		_ = a.bus.Close()
		_ = a.redis.Close()
		return fmt.Errorf("failed to create event publisher: %w", err)
	}
	a.emitter.AddSink("bus", cognition.NewBusSink(publisher))

	a.relay = cognition.NewRelay(a.bus, cognition.RelayOptions{
		NodeID:        nodeID,
		SubjectPrefix: cfg.Events.SubjectPrefix,
		DedupWindow:   cfg.Events.DedupWindow,
		Logger:        a.log,
	})
	a.relay.AddSink("store", a.events)
	if a.ws != nil {
		a.relay.AddSink("websocket", cognition.SinkFunc(a.ws.Publish))
	}

	a.log.Info("Initialized Redis event transport", "address", cfg.Redis.Address, "node_id", nodeID)
	return nil
}

// nodeIdentity returns configured, or the hostname, or a random id.
func nodeIdentity(configured string) string {
	if configured != "" {
		return configured
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.NewString()
}

// run starts every server and blocks until ctx is cancelled or one of them
// fails. It always shuts the process down before returning.
func (a *app) run(ctx context.Context, watcher *config.Watcher) error {
	if err := a.emitter.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event emitter: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(a.http.Start)

	if a.grpc != nil {
		if err := a.grpc.Start(); err != nil {
			a.shutdown()
			return fmt.Errorf("failed to start gRPC server: %w", err)
		}
	}

	if a.metrics.Enabled() {
		g.Go(func() error {
			a.log.Info("Starting metrics server", "port", a.cfg.Metrics.Port, "path", a.cfg.Metrics.Path)
			err := a.metrics.StartServer(gctx, a.cfg.Metrics.Port, a.cfg.Metrics.Path)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}

	if a.relay != nil {
		g.Go(func() error { return a.relay.Run(gctx) })
	}

	if a.limiter != nil {
		g.Go(func() error {
			a.limiter.Run(gctx, rateLimitCleanupInterval)
			return nil
		})
	}

	if watcher != nil {
		watcher.OnChange(a.applyHotReload(config.ExtractHotReloadable(a.cfg)))
		g.Go(func() error {
			err := watcher.Watch(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	a.log.Info("convomem is running",
		"http_port", a.cfg.Server.Port,
		"grpc_enabled", a.cfg.Server.GRPC.Enabled,
		"event_transport", a.cfg.Events.Transport,
	)

	g.Go(func() error {
		<-gctx.Done()
		a.shutdown()
		if watcher != nil {
			_ = watcher.Stop()
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// applyHotReload returns the watcher callback for the reloadable settings.
func (a *app) applyHotReload(initial config.HotReloadableConfig) func(*config.Config) {
	setLevel := config.ApplyLogLevel(a.log)
	var mu sync.Mutex
	current := initial
	return func(cfg *config.Config) {
		mu.Lock()
		defer mu.Unlock()

		next := config.ExtractHotReloadable(cfg)
		if !next.Changed(current) {
			return
		}
		setLevel(cfg)
		if a.limiter != nil {
			a.limiter.SetLimits(next.RateLimitPerSecond, next.RateLimitBurst)
		}
		a.log.Info("Configuration reloaded",
			"log_level", next.LogLevel,
			"rate_limit_per_second", next.RateLimitPerSecond,
			"rate_limit_burst", next.RateLimitBurst,
		)
		current = next
	}
}

// shutdown stops the servers first, then drains the event pipeline, then
// closes the backends.
func (a *app) shutdown() {
	timeout := a.cfg.Server.HTTP.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := a.http.Shutdown(ctx); err != nil {
		a.log.Error("Error shutting down HTTP server", "error", err)
	}
	if a.grpc != nil && a.grpc.IsRunning() {
		if err := a.grpc.Stop(ctx); err != nil {
			a.log.Error("Error shutting down gRPC server", "error", err)
		}
	}
	if a.ws != nil {
		a.ws.Close()
	}
	if err := a.emitter.Stop(ctx); err != nil {
		a.log.Warn("Event queue not drained before shutdown", "error", err)
	}
	if err := a.closeBackends(); err != nil {
		a.log.Error("Error closing backends", "error", err)
	}
	a.log.Info("convomem stopped")
}

func (a *app) closeBackends() error {
	var errs []error
	if a.bus != nil {
		errs = append(errs, a.bus.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
