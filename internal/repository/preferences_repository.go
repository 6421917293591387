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

const preferencesCollection = "user_notification_preferences"

// PreferencesRepository handles user notification preference documents
type PreferencesRepository struct {
	client *mongodb.MongoClient
}

// NewPreferencesRepository creates a new preferences repository
func NewPreferencesRepository(client *mongodb.MongoClient) *PreferencesRepository {
	return &PreferencesRepository{client: client}
}

// EnsureIndexes creates necessary indexes for optimal query performance
func (r *PreferencesRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "org_id", Value: 1},
				{Key: "user_id", Value: 1},
			},
			Options: options.Index().SetName("org_user_idx").SetUnique(true),
		},
	}

	return r.client.CreateIndexes(ctx, preferencesCollection, indexes)
}

// FindByUser returns the user's preferences, or nil when none were ever
// saved. Absent preferences mean default opt-in.
func (r *PreferencesRepository) FindByUser(ctx context.Context, orgID, userID string) (*domain.UserNotificationPreferences, error) {
	var prefs domain.UserNotificationPreferences
	filter := bson.M{"org_id": orgID, "user_id": userID}
	err := r.client.Collection(preferencesCollection).FindOne(ctx, filter).Decode(&prefs)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &prefs, nil
}

// Upsert stores the user's preferences, creating them on first save
func (r *PreferencesRepository) Upsert(ctx context.Context, prefs *domain.UserNotificationPreferences) error {
	now := time.Now()
	prefs.UpdatedAt = now
	if prefs.CreatedAt.IsZero() {
		prefs.CreatedAt = now
	}

	opts := options.Replace().SetUpsert(true)
	_, err := r.client.Collection(preferencesCollection).ReplaceOne(ctx,
		bson.M{"org_id": prefs.OrgID, "user_id": prefs.UserID}, prefs, opts)
	return err
}
