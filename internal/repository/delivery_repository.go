package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vhvplatform/go-notification-dispatch/internal/domain"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/mongodb"
)

const deliveriesCollection = "email_delivery_logs"

// DeliveryRepository handles delivery log data operations
type DeliveryRepository struct {
	client *mongodb.MongoClient
}

// NewDeliveryRepository creates a new delivery repository
func NewDeliveryRepository(client *mongodb.MongoClient) *DeliveryRepository {
	return &DeliveryRepository{client: client}
}

// EnsureIndexes creates necessary indexes for optimal query performance
func (r *DeliveryRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "org_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
			Options: options.Index().SetName("org_created_idx"),
		},
		{
			Keys: bson.D{
				{Key: "org_id", Value: 1},
				{Key: "status", Value: 1},
			},
			Options: options.Index().SetName("org_status_idx"),
		},
		{
			Keys:    bson.D{{Key: "lineage_id", Value: 1}},
			Options: options.Index().SetName("lineage_idx"),
		},
		{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "retry_count", Value: 1},
				{Key: "updated_at", Value: 1},
			},
			Options: options.Index().SetName("retry_sweep_idx"),
		},
	}

	return r.client.CreateIndexes(ctx, deliveriesCollection, indexes)
}

// Create inserts a delivery log
func (r *DeliveryRepository) Create(ctx context.Context, log *domain.EmailDeliveryLog) error {
	log.ID = primitive.NewObjectID()
	log.CreatedAt = time.Now()
	log.UpdatedAt = time.Now()

	_, err := r.client.Collection(deliveriesCollection).InsertOne(ctx, log)
	return err
}

// Update persists the log's current state and history
func (r *DeliveryRepository) Update(ctx context.Context, log *domain.EmailDeliveryLog) error {
	log.UpdatedAt = time.Now()

	result, err := r.client.Collection(deliveriesCollection).UpdateOne(ctx,
		bson.M{"_id": log.ID}, bson.M{"$set": log})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// FindByID finds a delivery log with org isolation
func (r *DeliveryRepository) FindByID(ctx context.Context, orgID, id string) (*domain.EmailDeliveryLog, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, err
	}

	var log domain.EmailDeliveryLog
	filter := bson.M{"_id": objectID, "org_id": orgID}
	if err := r.client.Collection(deliveriesCollection).FindOne(ctx, filter).Decode(&log); err != nil {
		return nil, err
	}
	return &log, nil
}

// FindByOrg lists delivery logs newest first with optional status and event
// filters plus pagination
func (r *DeliveryRepository) FindByOrg(ctx context.Context, req *domain.GetDeliveriesRequest) ([]*domain.EmailDeliveryLog, int64, error) {
	filter := bson.M{"org_id": req.OrgID}
	if req.Status != "" {
		filter["status"] = req.Status
	}
	if req.Event != "" {
		filter["event"] = req.Event
	}

	page := req.Page
	if page < 1 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	collection := r.client.Collection(deliveriesCollection)

	total, err := collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64((page - 1) * pageSize)).
		SetLimit(int64(pageSize))

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	var logs []*domain.EmailDeliveryLog
	if err := cursor.All(ctx, &logs); err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// FindRetryable returns failed logs with retry budget left that have been
// sitting at least minAge, oldest first, capped at limit
func (r *DeliveryRepository) FindRetryable(ctx context.Context, minAge time.Duration, limit int) ([]*domain.EmailDeliveryLog, error) {
	filter := bson.M{
		"status":     domain.DeliveryStatusFailed,
		"updated_at": bson.M{"$lte": time.Now().Add(-minAge)},
		"$expr":      bson.M{"$lt": bson.A{"$retry_count", "$max_retries"}},
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := r.client.Collection(deliveriesCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var logs []*domain.EmailDeliveryLog
	if err := cursor.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// IncrementRetryCount bumps the retry counter on an origin log
func (r *DeliveryRepository) IncrementRetryCount(ctx context.Context, id string) error {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}

	update := bson.M{
		"$inc": bson.M{"retry_count": 1},
		"$set": bson.M{"updated_at": time.Now()},
	}

	_, err = r.client.Collection(deliveriesCollection).UpdateOne(ctx, bson.M{"_id": objectID}, update)
	return err
}
