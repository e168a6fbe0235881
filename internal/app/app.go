// Package app wires the save cache service with fx.
package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/auth-platform/savecache-service/internal/auth"
	"github.com/auth-platform/savecache-service/internal/broker"
	"github.com/auth-platform/savecache-service/internal/config"
	"github.com/auth-platform/savecache-service/internal/flush"
	httpapi "github.com/auth-platform/savecache-service/internal/http"
	"github.com/auth-platform/savecache-service/internal/observability"
)

// Version is stamped at build time.
var Version = "dev"

// Module provides every component of the service. Callers supply
// *config.Config and a MetricsRegistry.
var Module = fx.Module("savecache",
	fx.Provide(
		NewLogger,
		NewMetrics,
		NewInstanceID,
		NewRepositories,
		NewStores,
		NewManager,
		NewServices,
		NewFlushService,
		NewController,
		NewComposition,
		NewScheduler,
		NewBroker,
		NewPropagator,
		NewRouter,
		NewServer,
	),
	fx.Invoke(
		StartTracing,
		StartPropagation,
		StartScheduler,
		StartServer,
	),
)

// Options returns the fx options of a complete service, logging fx events
// through slog.
func Options(cfg *config.Config, reg MetricsRegistry) fx.Option {
	return fx.Options(
		fx.Supply(cfg, reg),
		Module,
		fx.WithLogger(func(l *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: l}
		}),
	)
}

// MetricsRegistry selects where collectors register and which gatherer the
// metrics endpoint serves.
type MetricsRegistry struct {
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// DefaultRegistry uses the global Prometheus registry.
func DefaultRegistry() MetricsRegistry {
	return MetricsRegistry{Registerer: prometheus.DefaultRegisterer, Gatherer: prometheus.DefaultGatherer}
}

// InstanceID identifies this process on the event bus.
type InstanceID string

// NewInstanceID generates a random instance id.
func NewInstanceID() InstanceID {
	return InstanceID(uuid.NewString())
}

// NewLogger creates the service logger.
func NewLogger(cfg *config.Config) *slog.Logger {
	return observability.NewLogger(cfg.Logging)
}

// NewMetrics registers the service collectors.
func NewMetrics(reg MetricsRegistry) *observability.Metrics {
	return observability.NewMetrics("savecache", reg.Registerer)
}

// StartTracing installs the tracer provider for the lifetime of the app.
func StartTracing(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) {
	var tp *observability.TracerProvider
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var err error
			tp, err = observability.InitTracing(ctx, cfg.Tracing, Version)
			if err != nil {
				return err
			}
			logger.Info("tracing initialized", slog.Bool("enabled", cfg.Tracing.Enabled))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if tp == nil {
				return nil
			}
			return tp.Shutdown(ctx)
		},
	})
}

// NewScheduler creates the periodic flusher.
func NewScheduler(cfg *config.Config, fs *flush.Service, logger *slog.Logger) *flush.Scheduler {
	return flush.NewScheduler(fs, cfg.Cache.FlushInterval, cfg.Cache.FlushTimeout, logger)
}

// StartScheduler runs the scheduler. Stopping it runs a final flush.
func StartScheduler(lc fx.Lifecycle, s *flush.Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s.Start()
			return nil
		},
		OnStop: s.Stop,
	})
}

// EventBus is the broker together with the topic events are exchanged on.
type EventBus struct {
	Broker broker.Broker
	Topic  string
}

// NewBroker connects to the configured message broker.
func NewBroker(lc fx.Lifecycle, cfg *config.Config, id InstanceID, logger *slog.Logger) (EventBus, error) {
	b, topic, err := broker.New(cfg.Broker, string(id), logger)
	if err != nil {
		return EventBus{}, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return b.Close() },
	})
	return EventBus{Broker: b, Topic: topic}, nil
}

// NewPropagator hooks local toggles and flushes to the event bus.
func NewPropagator(bus EventBus, id InstanceID, cfg *config.Config, c *flush.Controller, fs *flush.Service, logger *slog.Logger) *broker.Propagator {
	p := broker.NewPropagator(bus.Broker, bus.Topic, string(id), c, cfg.Cache.FlushTimeout, logger)
	c.OnToggle(p.PublishToggle)
	fs.OnComplete(p.PublishFlush)
	return p
}

// StartPropagation consumes remote toggles until the app stops.
func StartPropagation(lc fx.Lifecycle, p *broker.Propagator) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return p.Start(ctx) },
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

// NewRouter builds the operator router.
func NewRouter(cfg *config.Config, c *flush.Controller, fs *flush.Service, repos *Repositories, stores *Stores, bus EventBus, metrics *observability.Metrics, reg MetricsRegistry, logger *slog.Logger) http.Handler {
	health := httpapi.NewHealthHandler(0)
	health.Register("database", repos.Ping)
	health.Register("cache", stores.Ping)
	health.Register("broker", func(context.Context) error {
		if !bus.Broker.Healthy() {
			return broker.ErrBrokerDown
		}
		return nil
	})

	validator := auth.NewValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	return httpapi.NewRouter(
		httpapi.NewAdminHandler(c, fs, cfg.Cache.FlushTimeout, logger),
		health,
		httpapi.RouterConfig{
			MetricsEnabled: cfg.Metrics.Enabled,
			MetricsPath:    cfg.Metrics.Path,
			AuthMiddleware: auth.NewMiddleware(validator),
			AdminScope:     cfg.Auth.AdminScope,
			Metrics:        metrics,
			Gatherer:       reg.Gatherer,
			Logger:         logger,
		},
	)
}

// NewServer creates the operator HTTP server.
func NewServer(cfg *config.Config, router http.Handler, logger *slog.Logger) *httpapi.Server {
	return httpapi.NewServer(cfg.Server.Addr(), router, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, logger)
}

// StartServer serves until the app stops.
func StartServer(lc fx.Lifecycle, s *httpapi.Server) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s.Start()
			return nil
		},
		OnStop: s.Shutdown,
	})
}
