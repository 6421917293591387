package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/vhvplatform/go-notification-dispatch/internal/domain"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/mongodb"
)

const usersCollection = "users"

// UserRepository provides read-only access to host-system user records
type UserRepository struct {
	client *mongodb.MongoClient
}

// NewUserRepository creates a new user repository
func NewUserRepository(client *mongodb.MongoClient) *UserRepository {
	return &UserRepository{client: client}
}

// FindActiveByIDs returns the active users among the given ids. Unknown or
// inactive ids are silently absent from the result.
func (r *UserRepository) FindActiveByIDs(ctx context.Context, orgID string, ids []string) ([]*domain.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	filter := bson.M{
		"_id":       bson.M{"$in": ids},
		"org_id":    orgID,
		"is_active": true,
	}

	cursor, err := r.client.Collection(usersCollection).Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var users []*domain.User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// FindActiveByRoles returns the active users holding any of the given roles
func (r *UserRepository) FindActiveByRoles(ctx context.Context, orgID string, roleIDs []string) ([]*domain.User, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}

	filter := bson.M{
		"org_id":    orgID,
		"roles":     bson.M{"$in": roleIDs},
		"is_active": true,
	}

	cursor, err := r.client.Collection(usersCollection).Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var users []*domain.User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}
