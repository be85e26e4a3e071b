package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"pool-api/internal/config"
	"pool-api/internal/repository"
)

// Database bundles the storage connections and the repositories built on
// them. Initialize connects, builds indexes and seeds the pool document so
// the engines never see an uninitialized store.
type Database struct {
	MongoDB      *mongo.Database
	RedisDB      *redis.Client
	Repositories *Repositories
}

type Repositories struct {
	Pool        repository.PoolRepository
	Balance     repository.BalanceRepository
	Ledger      repository.LedgerRepository
	Transaction repository.TransactionRepository
	Lock        repository.LockRepository
	Idempotency repository.IdempotencyRepository
	LockManager *repository.PoolLockManager
	TxRunner    repository.TxRunner
}

func Initialize(ctx context.Context, cfg *config.Config) (*Database, error) {
	mongoDB, err := connectMongo(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MongoDB: %w", err)
	}

	redisDB, err := connectRedis(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}

	lockRepo := repository.NewLockRepository(redisDB)
	repos := &Repositories{
		Pool:        repository.NewPoolRepository(mongoDB),
		Balance:     repository.NewBalanceRepository(mongoDB),
		Ledger:      repository.NewLedgerRepository(mongoDB),
		Transaction: repository.NewTransactionRepository(mongoDB),
		Lock:        lockRepo,
		Idempotency: repository.NewIdempotencyRepository(redisDB),
		LockManager: repository.NewPoolLockManager(lockRepo),
		TxRunner: repository.NewTxRunner(
			mongoDB.Client(),
			cfg.Limits.TxMaxRetries,
			cfg.Limits.TxRetryBackoff,
			cfg.Limits.TxTimeout,
		),
	}

	if err := createIndexes(ctx, repos); err != nil {
		return nil, fmt.Errorf("failed to create database indexes: %w", err)
	}

	if _, err := repos.Pool.EnsureInitialized(
		ctx,
		cfg.Pool.Currency,
		cfg.Pool.GatewayAccountID,
		decimal.NewFromFloat(cfg.Pool.InitialBalance),
	); err != nil {
		return nil, fmt.Errorf("failed to seed pool account: %w", err)
	}

	return &Database{
		MongoDB:      mongoDB,
		RedisDB:      redisDB,
		Repositories: repos,
	}, nil
}

func connectMongo(ctx context.Context, cfg config.DatabaseConfig) (*mongo.Database, error) {
	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.SelectionTimeout).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client.Database(cfg.Database), nil
}

func connectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func createIndexes(ctx context.Context, repos *Repositories) error {
	if err := repos.Balance.CreateIndexes(ctx); err != nil {
		return fmt.Errorf("balance indexes: %w", err)
	}
	if err := repos.Ledger.CreateIndexes(ctx); err != nil {
		return fmt.Errorf("ledger indexes: %w", err)
	}
	if err := repos.Transaction.CreateIndexes(ctx); err != nil {
		return fmt.Errorf("transaction indexes: %w", err)
	}
	return nil
}

func (db *Database) Close(ctx context.Context) error {
	var errs []error
	if db.MongoDB != nil {
		if err := db.MongoDB.Client().Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close MongoDB: %w", err))
		}
	}
	if db.RedisDB != nil {
		if err := db.RedisDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Redis: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing database connections: %v", errs)
	}
	return nil
}

// HealthCheck pings both stores, used by the readiness endpoint.
func (db *Database) HealthCheck(ctx context.Context) error {
	if err := db.MongoDB.Client().Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("MongoDB health check failed: %w", err)
	}
	if err := db.RedisDB.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("Redis health check failed: %w", err)
	}
	return nil
}
