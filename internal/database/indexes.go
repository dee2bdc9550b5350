package database

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// auditRetention bounds how long audit history is kept
const auditRetention = 90 * 24 * time.Hour

// CreateIndexes creates all necessary indexes for the collections
func CreateIndexes(ctx context.Context, db *MongoDB) error {
	slog.Info("Creating MongoDB indexes")

	if err := createAuditRecordIndexes(ctx, db); err != nil {
		return err
	}
	if err := createQueueLockIndexes(ctx, db); err != nil {
		return err
	}

	slog.Info("Successfully created all MongoDB indexes")
	return nil
}

func createAuditRecordIndexes(ctx context.Context, db *MongoDB) error {
	collection := db.GetCollection(CollectionAuditRecords)

	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "kind", Value: 1},
				{Key: "recorded_at", Value: -1},
			},
			Options: options.Index().SetName("idx_kind_recorded_at"),
		},
		{
			Keys: bson.D{{Key: "recorded_at", Value: 1}},
			Options: options.Index().
				SetExpireAfterSeconds(int32(auditRetention.Seconds())).
				SetName("idx_recorded_at_ttl"),
		},
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := collection.Indexes().CreateMany(ctxTimeout, indexes); err != nil {
		return err
	}

	slog.Info("Created audit_records indexes")
	return nil
}

// The TTL index only garbage-collects abandoned documents. Expiry for
// acquisition is checked by AcquireLock itself because the TTL monitor runs
// once a minute.
func createQueueLockIndexes(ctx context.Context, db *MongoDB) error {
	collection := db.GetCollection(CollectionQueueLocks)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(3600).SetName("idx_expires_at_ttl"),
		},
		{
			Keys:    bson.D{{Key: "locked_by", Value: 1}},
			Options: options.Index().SetName("idx_locked_by"),
		},
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := collection.Indexes().CreateMany(ctxTimeout, indexes); err != nil {
		return err
	}

	slog.Info("Created queue_locks indexes")
	return nil
}
