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

// TransactionRepository persists transaction records and their status
// lifecycle.
type TransactionRepository interface {
	Create(ctx context.Context, tx *models.Transaction) error
	GetByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error)
	Update(ctx context.Context, tx *models.Transaction) error
	ListByUser(ctx context.Context, query TransactionQuery) ([]*models.Transaction, error)
	GetRefundsOf(ctx context.Context, parentTransactionID string) ([]*models.Transaction, error)
	CountByStatus(ctx context.Context, status models.TransactionStatus) (int64, error)
	CreateIndexes(ctx context.Context) error
}

// TransactionQuery filters a user's transactions, newest first.
type TransactionQuery struct {
	UserID int64
	Type   models.TransactionType
	Status models.TransactionStatus
	Limit  int
	Offset int
}

type transactionRepository struct {
	collection *mongo.Collection
}

func NewTransactionRepository(db *mongo.Database) TransactionRepository {
	return &transactionRepository{
		collection: db.Collection("transactions"),
	}
}

func (r *transactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	result, err := r.collection.InsertOne(ctx, tx)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	tx.ID = result.InsertedID.(primitive.ObjectID)
	return nil
}

func (r *transactionRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.collection.FindOne(ctx, bson.M{"transaction_id": transactionID}).Decode(&tx)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, models.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction %s: %w", transactionID, err)
	}
	return &tx, nil
}

func (r *transactionRepository) Update(ctx context.Context, tx *models.Transaction) error {
	tx.UpdatedAt = time.Now()

	filter := bson.M{"transaction_id": tx.TransactionID}
	update := bson.M{"$set": tx}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update transaction %s: %w", tx.TransactionID, err)
	}
	if result.MatchedCount == 0 {
		return models.ErrTransactionNotFound
	}
	return nil
}

func (r *transactionRepository) ListByUser(ctx context.Context, query TransactionQuery) ([]*models.Transaction, error) {
	filter := bson.M{"user_id": query.UserID}
	if query.Type != "" {
		filter["type"] = query.Type
	}
	if query.Status != "" {
		filter["status"] = query.Status
	}

	opts := options.Find().SetSort(bson.M{"created_at": -1})
	if query.Limit > 0 {
		opts.SetLimit(int64(query.Limit))
	}
	if query.Offset > 0 {
		opts.SetSkip(int64(query.Offset))
	}

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions for user %d: %w", query.UserID, err)
	}
	defer cursor.Close(ctx)

	var txs []*models.Transaction
	for cursor.Next(ctx) {
		var tx models.Transaction
		if err := cursor.Decode(&tx); err != nil {
			continue
		}
		txs = append(txs, &tx)
	}
	return txs, cursor.Err()
}

// GetRefundsOf returns refund transactions linked to an original sale.
func (r *transactionRepository) GetRefundsOf(ctx context.Context, parentTransactionID string) ([]*models.Transaction, error) {
	filter := bson.M{
		"parent_transaction_id": parentTransactionID,
		"type":                  models.TypeRefund,
	}

	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to get refunds of %s: %w", parentTransactionID, err)
	}
	defer cursor.Close(ctx)

	var txs []*models.Transaction
	for cursor.Next(ctx) {
		var tx models.Transaction
		if err := cursor.Decode(&tx); err != nil {
			continue
		}
		txs = append(txs, &tx)
	}
	return txs, cursor.Err()
}

func (r *transactionRepository) CountByStatus(ctx context.Context, status models.TransactionStatus) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{"status": status})
	if err != nil {
		return 0, fmt.Errorf("failed to count %s transactions: %w", status, err)
	}
	return count, nil
}

func (r *transactionRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "transaction_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "parent_transaction_id", Value: 1}},
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create transaction indexes: %w", err)
	}
	return nil
}
