package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pool-api/internal/models"
)

// PoolRepository persists the singleton custodial pool account. The document
// is keyed by a fixed _id so there can never be more than one.
type PoolRepository interface {
	EnsureInitialized(ctx context.Context, currency, gatewayAccountID string, initialBalance decimal.Decimal) (*models.PoolAccount, error)
	Get(ctx context.Context) (*models.PoolAccount, error)
	Update(ctx context.Context, pool *models.PoolAccount) error
	UpdateSyncTime(ctx context.Context, syncedAt time.Time) error
}

const poolDocumentID = "pool_account"

type poolRepository struct {
	collection *mongo.Collection
}

func NewPoolRepository(db *mongo.Database) PoolRepository {
	return &poolRepository{
		collection: db.Collection("pool"),
	}
}

// EnsureInitialized seeds the pool document on first boot. A concurrent seed
// loses the upsert race harmlessly; the surviving document is returned.
func (r *poolRepository) EnsureInitialized(ctx context.Context, currency, gatewayAccountID string, initialBalance decimal.Decimal) (*models.PoolAccount, error) {
	pool, err := r.Get(ctx)
	if err == nil {
		return pool, nil
	}
	if err != models.ErrPoolNotInitialized {
		return nil, err
	}

	seed := models.NewPoolAccount(initialBalance, currency, gatewayAccountID)
	seed.ID = poolDocumentID

	filter := bson.M{"_id": poolDocumentID}
	update := bson.M{"$setOnInsert": seed}
	opts := options.Update().SetUpsert(true)

	if _, err := r.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return nil, fmt.Errorf("failed to initialize pool account: %w", err)
	}
	return r.Get(ctx)
}

func (r *poolRepository) Get(ctx context.Context) (*models.PoolAccount, error) {
	var pool models.PoolAccount
	err := r.collection.FindOne(ctx, bson.M{"_id": poolDocumentID}).Decode(&pool)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, models.ErrPoolNotInitialized
		}
		return nil, fmt.Errorf("failed to get pool account: %w", err)
	}
	return &pool, nil
}

// Update persists the pool guarded by a version check. A version mismatch
// means another writer got there first; inside a session this aborts the
// transaction and the runner retries.
func (r *poolRepository) Update(ctx context.Context, pool *models.PoolAccount) error {
	currentVersion := pool.Version
	pool.Version++
	pool.UpdatedAt = time.Now()

	filter := bson.M{"_id": poolDocumentID, "version": currentVersion}
	update := bson.M{"$set": pool}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		pool.Version = currentVersion
		return fmt.Errorf("failed to update pool account: %w", err)
	}
	if result.MatchedCount == 0 {
		pool.Version = currentVersion
		return fmt.Errorf("pool account at version %d: %w", currentVersion, models.ErrVersionConflict)
	}
	return nil
}

func (r *poolRepository) UpdateSyncTime(ctx context.Context, syncedAt time.Time) error {
	filter := bson.M{"_id": poolDocumentID}
	update := bson.M{
		"$set": bson.M{
			"last_synced_at": syncedAt,
			"updated_at":     time.Now(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update pool sync time: %w", err)
	}
	if result.MatchedCount == 0 {
		return models.ErrPoolNotInitialized
	}
	return nil
}
