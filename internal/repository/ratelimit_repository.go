package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vhvplatform/go-notification-dispatch/internal/domain"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/mongodb"
)

const rateLimitCollection = "rate_limit_states"

// RateLimitRepository persists per-organization send counters
type RateLimitRepository struct {
	client *mongodb.MongoClient
}

// NewRateLimitRepository creates a new rate limit state repository
func NewRateLimitRepository(client *mongodb.MongoClient) *RateLimitRepository {
	return &RateLimitRepository{client: client}
}

// EnsureIndexes creates necessary indexes for optimal query performance
func (r *RateLimitRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "org_id", Value: 1}},
			Options: options.Index().SetName("org_idx").SetUnique(true),
		},
	}

	return r.client.CreateIndexes(ctx, rateLimitCollection, indexes)
}

// Load returns the counters for orgID, or nil when none exist yet
func (r *RateLimitRepository) Load(ctx context.Context, orgID string) (*domain.RateLimitState, error) {
	var state domain.RateLimitState
	err := r.client.Collection(rateLimitCollection).FindOne(ctx, bson.M{"org_id": orgID}).Decode(&state)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// Save upserts the full state document
func (r *RateLimitRepository) Save(ctx context.Context, state *domain.RateLimitState) error {
	state.UpdatedAt = time.Now()

	opts := options.Replace().SetUpsert(true)
	_, err := r.client.Collection(rateLimitCollection).ReplaceOne(ctx,
		bson.M{"org_id": state.OrgID}, state, opts)
	return err
}

// IncrementCounters adds n to both window counters
func (r *RateLimitRepository) IncrementCounters(ctx context.Context, orgID string, n int) error {
	update := bson.M{
		"$inc": bson.M{
			"current_hour_count": n,
			"current_day_count":  n,
		},
		"$set": bson.M{"updated_at": time.Now()},
	}

	_, err := r.client.Collection(rateLimitCollection).UpdateOne(ctx, bson.M{"org_id": orgID}, update)
	return err
}
