package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dandantas/stocksync/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// AuditRepository keeps the full history of reconciliation audit records.
// The data directory only holds the latest record of each kind.
type AuditRepository struct {
	collection *mongo.Collection
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *MongoDB) *AuditRepository {
	return &AuditRepository{
		collection: db.GetCollection(CollectionAuditRecords),
	}
}

// Record stores record under kind. Records go through their JSON form so
// decimal quantities and field names match the files on disk.
func (r *AuditRepository) Record(ctx context.Context, kind string, record any) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode audit record: %w", err)
	}
	var body bson.M
	if err := bson.UnmarshalExtJSON(data, false, &body); err != nil {
		return fmt.Errorf("failed to convert audit record: %w", err)
	}

	doc := model.AuditDocument{
		Kind:       kind,
		RecordedAt: time.Now().UTC(),
		Record:     body,
	}
	if _, err := r.collection.InsertOne(ctxTimeout, doc); err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// Recent returns up to limit records of kind, newest first
func (r *AuditRepository) Recent(ctx context.Context, kind string, limit int) ([]model.AuditDocument, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	opts := options.Find().
		SetLimit(int64(limit)).
		SetSort(bson.D{{Key: "recorded_at", Value: -1}}).
		SetProjection(bson.M{"_id": 0})

	cursor, err := r.collection.Find(ctxTimeout, bson.M{"kind": kind}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer cursor.Close(ctxTimeout)

	docs := []model.AuditDocument{}
	if err := cursor.All(ctxTimeout, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode audit records: %w", err)
	}
	return docs, nil
}
