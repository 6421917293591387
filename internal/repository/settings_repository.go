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

const settingsCollection = "email_settings"

// SettingsRepository handles per-organization email settings
type SettingsRepository struct {
	client *mongodb.MongoClient
}

// NewSettingsRepository creates a new settings repository
func NewSettingsRepository(client *mongodb.MongoClient) *SettingsRepository {
	return &SettingsRepository{client: client}
}

// EnsureIndexes creates necessary indexes for optimal query performance
func (r *SettingsRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "org_id", Value: 1}},
			Options: options.Index().SetName("org_idx").SetUnique(true),
		},
	}

	return r.client.CreateIndexes(ctx, settingsCollection, indexes)
}

// FindByOrg returns the organization's settings, or nil when none exist.
// An organization without settings simply has dispatch disabled.
func (r *SettingsRepository) FindByOrg(ctx context.Context, orgID string) (*domain.EmailSettings, error) {
	var settings domain.EmailSettings
	err := r.client.Collection(settingsCollection).FindOne(ctx, bson.M{"org_id": orgID}).Decode(&settings)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// Upsert stores the organization's settings, creating them on first save
func (r *SettingsRepository) Upsert(ctx context.Context, settings *domain.EmailSettings) error {
	now := time.Now()
	settings.UpdatedAt = now
	if settings.CreatedAt.IsZero() {
		settings.CreatedAt = now
	}

	opts := options.Replace().SetUpsert(true)
	_, err := r.client.Collection(settingsCollection).ReplaceOne(ctx,
		bson.M{"org_id": settings.OrgID}, settings, opts)
	return err
}
