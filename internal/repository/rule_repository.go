package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vhvplatform/go-notification-dispatch/internal/domain"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/mongodb"
)

const rulesCollection = "notification_rules"

// RuleRepository handles notification rule data operations
type RuleRepository struct {
	client *mongodb.MongoClient
}

// NewRuleRepository creates a new rule repository
func NewRuleRepository(client *mongodb.MongoClient) *RuleRepository {
	return &RuleRepository{client: client}
}

// EnsureIndexes creates necessary indexes for optimal query performance
func (r *RuleRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "org_id", Value: 1},
				{Key: "event", Value: 1},
				{Key: "is_enabled", Value: 1},
			},
			Options: options.Index().SetName("org_event_enabled_idx"),
		},
		{
			Keys: bson.D{
				{Key: "org_id", Value: 1},
				{Key: "priority", Value: 1},
			},
			Options: options.Index().SetName("org_priority_idx"),
		},
	}

	return r.client.CreateIndexes(ctx, rulesCollection, indexes)
}

// Create creates a new rule
func (r *RuleRepository) Create(ctx context.Context, rule *domain.NotificationRule) error {
	rule.ID = primitive.NewObjectID()
	rule.CreatedAt = time.Now()
	rule.UpdatedAt = time.Now()

	_, err := r.client.Collection(rulesCollection).InsertOne(ctx, rule)
	return err
}

// FindByID finds a rule by ID with org isolation
func (r *RuleRepository) FindByID(ctx context.Context, orgID, id string) (*domain.NotificationRule, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, err
	}

	var rule domain.NotificationRule
	filter := bson.M{"_id": objectID, "org_id": orgID}
	if err := r.client.Collection(rulesCollection).FindOne(ctx, filter).Decode(&rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

// FindEnabledByEvent returns the enabled rules for one organization and event.
// Condition evaluation and priority ordering happen in the matcher, not here.
func (r *RuleRepository) FindEnabledByEvent(ctx context.Context, orgID string, event domain.EventType) ([]*domain.NotificationRule, error) {
	filter := bson.M{
		"org_id":     orgID,
		"event":      event,
		"is_enabled": true,
	}

	cursor, err := r.client.Collection(rulesCollection).Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rules []*domain.NotificationRule
	if err := cursor.All(ctx, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// RecordExecution bumps a rule's execution counters after one processing run
func (r *RuleRepository) RecordExecution(ctx context.Context, ruleID string, success bool) error {
	objectID, err := primitive.ObjectIDFromHex(ruleID)
	if err != nil {
		return err
	}

	inc := bson.M{"execution_count": 1}
	if success {
		inc["success_count"] = 1
	}

	now := time.Now()
	update := bson.M{
		"$inc": inc,
		"$set": bson.M{
			"last_executed_at": now,
			"updated_at":       now,
		},
	}

	result, err := r.client.Collection(rulesCollection).UpdateOne(ctx, bson.M{"_id": objectID}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// Update updates a rule with org isolation
func (r *RuleRepository) Update(ctx context.Context, rule *domain.NotificationRule) error {
	rule.UpdatedAt = time.Now()

	filter := bson.M{"_id": rule.ID, "org_id": rule.OrgID}
	result, err := r.client.Collection(rulesCollection).UpdateOne(ctx, filter, bson.M{"$set": rule})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// Delete removes a rule with org isolation
func (r *RuleRepository) Delete(ctx context.Context, orgID, id string) error {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}

	result, err := r.client.Collection(rulesCollection).DeleteOne(ctx, bson.M{"_id": objectID, "org_id": orgID})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// IsNotFound reports whether err is the driver's missing-document error
func IsNotFound(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
