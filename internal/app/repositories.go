package app

import (
	"context"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"go.uber.org/fx"

	"github.com/auth-platform/savecache-service/internal/config"
	"github.com/auth-platform/savecache-service/internal/repository"
	"github.com/auth-platform/savecache-service/internal/resilience"
	"github.com/auth-platform/savecache-service/internal/save"
)

// Repositories are the systems of record of every kind.
type Repositories struct {
	Characteristics save.Repository[save.Characteristics]
	Currency        save.Repository[save.Currency]
	Stage           save.Repository[save.Stage]
	Metadata        save.MetadataRepository
	Accounts        save.AccountDirectory

	db *sqlx.DB
}

// Ping checks the database connection. In-memory repositories are always
// reachable.
func (r *Repositories) Ping(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	return r.db.PingContext(ctx)
}

// NewRepositories opens the configured database and wraps every repository
// in a shared circuit breaker.
func NewRepositories(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (*Repositories, error) {
	if cfg.Database.Driver == "memory" {
		return &Repositories{
			Characteristics: repository.NewMemory[save.Characteristics](),
			Currency:        repository.NewMemory[save.Currency](),
			Stage:           repository.NewMemory[save.Stage](),
			Metadata:        repository.NewMemoryMetadata(),
			Accounts:        repository.NewMemoryAccounts(cfg.Database.Accounts...),
		}, nil
	}

	db, err := repository.Open(context.Background(), cfg.Database)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return db.Close() },
	})

	breaker := resilience.NewBreaker("database", cfg.Breaker, logger)
	return &Repositories{
		Characteristics: repository.NewProtected[save.Characteristics](repository.NewSQL(db, repository.CharacteristicsTable), breaker),
		Currency:        repository.NewProtected[save.Currency](repository.NewSQL(db, repository.CurrencyTable), breaker),
		Stage:           repository.NewProtected[save.Stage](repository.NewSQL(db, repository.StageTable), breaker),
		Metadata:        repository.NewProtectedMetadata(repository.NewMetadataSQL(db), breaker),
		Accounts:        repository.NewAccountsSQL(db),
		db:              db,
	}, nil
}
