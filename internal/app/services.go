package app

import (
	"log/slog"

	"github.com/auth-platform/savecache-service/internal/cachemanager"
	"github.com/auth-platform/savecache-service/internal/composition"
	"github.com/auth-platform/savecache-service/internal/config"
	"github.com/auth-platform/savecache-service/internal/flush"
	"github.com/auth-platform/savecache-service/internal/observability"
	"github.com/auth-platform/savecache-service/internal/save"
	"github.com/auth-platform/savecache-service/internal/service"
	"github.com/auth-platform/savecache-service/internal/store"
)

// KindServices are the read, write and drain services of one kind.
type KindServices[T save.Aggregate[T]] struct {
	Query   *service.QueryService[T]
	Command *service.CommandService[T]
	Drainer *flush.KindDrainer[T]
	repo    save.Repository[T]
}

func (k KindServices[T]) composition() composition.Kind[T] {
	return composition.Kind[T]{Query: k.Query, Command: k.Command, Repo: k.repo}
}

type kindDeps struct {
	flag        *cachemanager.Manager
	metrics     *observability.Metrics
	tracer      *observability.Tracer
	logger      *slog.Logger
	concurrency int
}

func newKindServices[T save.Aggregate[T]](repo save.Repository[T], cache store.Store[T], d kindDeps) KindServices[T] {
	opts := []service.Option{
		service.WithLogger(d.logger),
		service.WithMetrics(d.metrics),
		service.WithTracer(d.tracer),
	}
	query := service.NewQueryService(repo, cache, d.flag, opts...)
	command := service.NewCommandService(repo, cache, query, d.flag, opts...)
	drainer := flush.NewDrainer(cache, repo, command,
		flush.WithConcurrency(d.concurrency),
		flush.WithDrainLogger(d.logger),
		flush.WithDrainMetrics(d.metrics),
		flush.WithDrainTracer(d.tracer),
	)
	return KindServices[T]{Query: query, Command: command, Drainer: drainer, repo: repo}
}

// Services bundles the per-kind services.
type Services struct {
	Characteristics KindServices[save.Characteristics]
	Currency        KindServices[save.Currency]
	Stage           KindServices[save.Stage]
	Metadata        KindServices[save.Metadata]
}

// NewServices builds the query, command and drain services of every kind.
func NewServices(cfg *config.Config, repos *Repositories, stores *Stores, flag *cachemanager.Manager, metrics *observability.Metrics, logger *slog.Logger) *Services {
	d := kindDeps{
		flag:        flag,
		metrics:     metrics,
		tracer:      observability.NewTracer("savecache"),
		logger:      logger,
		concurrency: cfg.Cache.FlushConcurrency,
	}
	return &Services{
		Characteristics: newKindServices(repos.Characteristics, stores.Characteristics, d),
		Currency:        newKindServices(repos.Currency, stores.Currency, d),
		Stage:           newKindServices(repos.Stage, stores.Stage, d),
		Metadata:        newKindServices[save.Metadata](repos.Metadata, stores.Metadata, d),
	}
}

// NewFlushService drains every kind in a fixed order.
func NewFlushService(s *Services, logger *slog.Logger) *flush.Service {
	return flush.NewService(logger,
		s.Characteristics.Drainer,
		s.Currency.Drainer,
		s.Stage.Drainer,
		s.Metadata.Drainer,
	)
}

// NewComposition creates the whole-save service.
func NewComposition(s *Services, repos *Repositories, logger *slog.Logger) *composition.Service {
	return composition.New(composition.Deps{
		Metadata:        s.Metadata.composition(),
		MetadataRepo:    repos.Metadata,
		Characteristics: s.Characteristics.composition(),
		Currency:        s.Currency.composition(),
		Stage:           s.Stage.composition(),
		Accounts:        repos.Accounts,
		Logger:          logger,
	})
}

// NewManager creates the cache flag from configuration.
func NewManager(cfg *config.Config) *cachemanager.Manager {
	return cachemanager.New(cfg.Cache.Enabled)
}

// NewController creates the toggle controller.
func NewController(m *cachemanager.Manager, fs *flush.Service, metrics *observability.Metrics, logger *slog.Logger) *flush.Controller {
	return flush.NewController(m, fs, metrics, logger)
}
