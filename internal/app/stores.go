package app

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/auth-platform/savecache-service/internal/config"
	"github.com/auth-platform/savecache-service/internal/crypto"
	"github.com/auth-platform/savecache-service/internal/resilience"
	"github.com/auth-platform/savecache-service/internal/save"
	"github.com/auth-platform/savecache-service/internal/store"
)

// Stores are the cache stores of every kind.
type Stores struct {
	Characteristics store.Store[save.Characteristics]
	Currency        store.Store[save.Currency]
	Stage           store.Store[save.Stage]
	Metadata        store.Store[save.Metadata]

	client redis.UniversalClient
}

// Ping checks the shared cache connection.
func (s *Stores) Ping(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Ping(ctx).Err()
}

// NewStores creates process-local stores or Redis stores shared across
// instances.
func NewStores(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (*Stores, error) {
	if cfg.Cache.Backend != "redis" {
		return &Stores{
			Characteristics: store.NewMemory[save.Characteristics](),
			Currency:        store.NewMemory[save.Currency](),
			Stage:           store.NewMemory[save.Stage](),
			Metadata:        store.NewMemory[save.Metadata](),
		}, nil
	}

	sealer, err := crypto.NewSealer(cfg.Redis.EncryptionKey)
	if err != nil {
		return nil, err
	}
	client, err := store.NewRedisClient(context.Background(), cfg.Redis, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return client.Close() },
	})

	opts := store.RedisOptions{
		KeyPrefix:    cfg.Redis.KeyPrefix,
		Sealer:       sealer,
		Breaker:      resilience.NewBreaker("redis", cfg.Breaker, logger),
		MaxTxRetries: cfg.Redis.MaxTxRetries,
		LeaseTTL:     cfg.Cache.FlushTimeout,
		Logger:       logger,
	}
	return &Stores{
		Characteristics: store.NewRedis[save.Characteristics](client, save.KindCharacteristics, opts),
		Currency:        store.NewRedis[save.Currency](client, save.KindCurrency, opts),
		Stage:           store.NewRedis[save.Stage](client, save.KindStage, opts),
		Metadata:        store.NewRedis[save.Metadata](client, save.KindMetadata, opts),
		client:          client,
	}, nil
}
