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

// LedgerRepository persists the append-only audit trail. Entries are only
// ever inserted; there is deliberately no update or delete.
type LedgerRepository interface {
	Insert(ctx context.Context, entry *models.LedgerEntry) error
	ListByUser(ctx context.Context, query LedgerQuery) ([]*models.LedgerEntry, error)
	CountByUser(ctx context.Context, userID int64) (int64, error)
	CreateIndexes(ctx context.Context) error
}

// LedgerQuery filters a user's entries by time window, ordered oldest first
// so a replay reproduces the balance history.
type LedgerQuery struct {
	UserID int64
	Start  time.Time
	End    time.Time
	Limit  int
	Offset int
}

type ledgerRepository struct {
	collection *mongo.Collection
}

func NewLedgerRepository(db *mongo.Database) LedgerRepository {
	return &ledgerRepository{
		collection: db.Collection("ledger"),
	}
}

func (r *ledgerRepository) Insert(ctx context.Context, entry *models.LedgerEntry) error {
	result, err := r.collection.InsertOne(ctx, entry)
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	entry.ID = result.InsertedID.(primitive.ObjectID)
	return nil
}

func (r *ledgerRepository) ListByUser(ctx context.Context, query LedgerQuery) ([]*models.LedgerEntry, error) {
	filter := bson.M{"user_id": query.UserID}
	if !query.Start.IsZero() || !query.End.IsZero() {
		window := bson.M{}
		if !query.Start.IsZero() {
			window["$gte"] = query.Start
		}
		if !query.End.IsZero() {
			window["$lte"] = query.End
		}
		filter["timestamp"] = window
	}

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}})
	if query.Limit > 0 {
		opts.SetLimit(int64(query.Limit))
	}
	if query.Offset > 0 {
		opts.SetSkip(int64(query.Offset))
	}

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries for user %d: %w", query.UserID, err)
	}
	defer cursor.Close(ctx)

	var entries []*models.LedgerEntry
	for cursor.Next(ctx) {
		var entry models.LedgerEntry
		if err := cursor.Decode(&entry); err != nil {
			// A dropped entry would corrupt the reconciliation replay.
			return nil, fmt.Errorf("failed to decode ledger entry for user %d: %w", query.UserID, err)
		}
		entries = append(entries, &entry)
	}
	return entries, cursor.Err()
}

func (r *ledgerRepository) CountByUser(ctx context.Context, userID int64) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{"user_id": userID})
	if err != nil {
		return 0, fmt.Errorf("failed to count ledger entries for user %d: %w", userID, err)
	}
	return count, nil
}

func (r *ledgerRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "entry_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "timestamp", Value: 1},
			},
		},
		{
			Keys: bson.D{{Key: "entry_type", Value: 1}},
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create ledger indexes: %w", err)
	}
	return nil
}
