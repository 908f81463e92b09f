package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
	"github.com/vladislavdragonenkov/shop/internal/storage/mongodb"
	"github.com/vladislavdragonenkov/shop/internal/storage/postgres"
)

// runtimeDependencies: репозитории выбранного хранилища.
type runtimeDependencies struct {
	driver          string
	productRepo     domain.ProductRepository
	orderRepo       domain.OrderRepository
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	ping            func(ctx context.Context) error
	close           func(ctx context.Context) error
}

// initRuntimeDependencies открывает хранилище по cfg.StorageDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		logger.Warn("using in-memory storage, data is lost on restart")
		return &runtimeDependencies{
			driver:          StorageDriverMemory,
			productRepo:     memory.NewProductRepository(),
			orderRepo:       memory.NewOrderRepository(),
			outboxRepo:      memory.NewOutboxRepository(),
			idempotencyRepo: memory.NewIdempotencyRepository(),
			ping:            func(context.Context) error { return nil },
			close:           func(context.Context) error { return nil },
		}, nil

	case StorageDriverPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("init postgres storage: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}
		logger.Info("postgres storage initialized")
		return &runtimeDependencies{
			driver:          StorageDriverPostgres,
			productRepo:     postgres.NewProductRepository(store),
			orderRepo:       postgres.NewOrderRepository(store),
			outboxRepo:      postgres.NewOutboxRepository(store),
			idempotencyRepo: postgres.NewIdempotencyRepository(store),
			ping:            store.Ping,
			close:           func(context.Context) error { return store.Close() },
		}, nil

	case StorageDriverMongo:
		store, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("init mongo storage: %w", err)
		}
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = store.Close(context.WithoutCancel(ctx))
			return nil, fmt.Errorf("ensure mongo indexes: %w", err)
		}
		logger.WithField("database", cfg.MongoDatabase).Info("mongo storage initialized")
		return &runtimeDependencies{
			driver:          StorageDriverMongo,
			productRepo:     mongodb.NewProductRepository(store),
			orderRepo:       mongodb.NewOrderRepository(store),
			outboxRepo:      mongodb.NewOutboxRepository(store),
			idempotencyRepo: mongodb.NewIdempotencyRepository(store),
			ping:            store.Ping,
			close:           store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}
