package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tiersync/tiersync/internal/core/domain"
	"github.com/tiersync/tiersync/internal/core/ports"
)

const auditCollection = "tier_outcomes"

// AuditRepository implements ports.AuditRepository using MongoDB.
type AuditRepository struct {
	db *mongo.Database
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *mongo.Database) ports.AuditRepository {
	return &AuditRepository{db: db}
}

// InsertOutcome appends an outcome to the audit collection.
func (r *AuditRepository) InsertOutcome(ctx context.Context, o domain.Outcome) error {
	doc := bson.M{
		"time":      o.Time.UTC(),
		"kind":      o.Kind,
		"operation": o.Operation,
		"detail":    o.Detail,
	}
	if o.MemberID != "" {
		doc["member_id"] = o.MemberID
	}

	if _, err := r.db.Collection(auditCollection).InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// RecentOutcomes returns the newest outcomes for a member, newest first.
func (r *AuditRepository) RecentOutcomes(ctx context.Context, memberID string, limit int64) ([]domain.Outcome, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "time", Value: -1}}).
		SetLimit(limit)

	cur, err := r.db.Collection(auditCollection).Find(ctx, bson.M{"member_id": memberID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find outcomes: %w", err)
	}
	defer cur.Close(ctx)

	var out []domain.Outcome
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode outcomes: %w", err)
	}
	return out, nil
}
