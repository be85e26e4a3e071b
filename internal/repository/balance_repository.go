package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pool-api/internal/models"
)

// BalanceRepository persists per-user balances. Balances are created lazily
// on first allocation; reads for unknown users return ErrBalanceNotFound.
type BalanceRepository interface {
	GetByUserID(ctx context.Context, userID int64) (*models.UserBalance, error)
	GetOrCreate(ctx context.Context, userID int64, currency string) (*models.UserBalance, error)
	Update(ctx context.Context, balance *models.UserBalance) error
	List(ctx context.Context, limit, offset int) ([]*models.UserBalance, error)
	CreateIndexes(ctx context.Context) error
}

type balanceRepository struct {
	collection *mongo.Collection
}

func NewBalanceRepository(db *mongo.Database) BalanceRepository {
	return &balanceRepository{
		collection: db.Collection("balances"),
	}
}

func (r *balanceRepository) GetByUserID(ctx context.Context, userID int64) (*models.UserBalance, error) {
	var balance models.UserBalance
	err := r.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&balance)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, models.ErrBalanceNotFound
		}
		return nil, fmt.Errorf("failed to get balance for user %d: %w", userID, err)
	}
	return &balance, nil
}

// GetOrCreate returns the user's balance, inserting an empty one if none
// exists yet. The unique user_id index makes the insert race-safe.
func (r *balanceRepository) GetOrCreate(ctx context.Context, userID int64, currency string) (*models.UserBalance, error) {
	balance, err := r.GetByUserID(ctx, userID)
	if err == nil {
		return balance, nil
	}
	if err != models.ErrBalanceNotFound {
		return nil, err
	}

	fresh := models.NewUserBalance(userID, currency)
	result, err := r.collection.InsertOne(ctx, fresh)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return r.GetByUserID(ctx, userID)
		}
		return nil, fmt.Errorf("failed to create balance for user %d: %w", userID, err)
	}
	fresh.ID = result.InsertedID.(primitive.ObjectID)
	return fresh, nil
}

func (r *balanceRepository) Update(ctx context.Context, balance *models.UserBalance) error {
	balance.UpdatedAt = time.Now()

	filter := bson.M{"_id": balance.ID}
	update := bson.M{"$set": balance}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update balance for user %d: %w", balance.UserID, err)
	}
	if result.MatchedCount == 0 {
		return models.ErrBalanceNotFound
	}
	return nil
}

// List pages through all balances ordered by user, for reconciliation sweeps.
func (r *balanceRepository) List(ctx context.Context, limit, offset int) ([]*models.UserBalance, error) {
	opts := options.Find().
		SetLimit(int64(limit)).
		SetSkip(int64(offset)).
		SetSort(bson.M{"user_id": 1})

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	defer cursor.Close(ctx)

	var balances []*models.UserBalance
	for cursor.Next(ctx) {
		var balance models.UserBalance
		if err := cursor.Decode(&balance); err != nil {
			continue
		}
		balances = append(balances, &balance)
	}
	return balances, cursor.Err()
}

func (r *balanceRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "updated_at", Value: -1}},
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create balance indexes: %w", err)
	}
	return nil
}
