package repository

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vhvplatform/go-notification-dispatch/internal/domain"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/mongodb"
)

const templatesCollection = "notification_templates"

// Security constants for cache
const (
	maxCacheSize    = 1000        // Maximum number of cached templates
	maxCacheKeyLen  = 512         // Maximum length of cache key
	maxTemplateSize = 1024 * 1024 // Maximum template size: 1MB
)

// TemplateCache holds cached templates with security controls
type TemplateCache struct {
	templates map[string]*domain.NotificationTemplate
	mu        sync.RWMutex
	ttl       time.Duration
	entries   map[string]time.Time
	maxSize   int // Maximum number of entries
}

// NewTemplateCache creates a new template cache with size limits
func NewTemplateCache(ttl time.Duration) *TemplateCache {
	return &TemplateCache{
		templates: make(map[string]*domain.NotificationTemplate),
		entries:   make(map[string]time.Time),
		ttl:       ttl,
		maxSize:   maxCacheSize,
	}
}

// validateCacheKey validates cache key to prevent injection attacks
func validateCacheKey(key string) error {
	if len(key) == 0 {
		return errors.New("cache key cannot be empty")
	}
	if len(key) > maxCacheKeyLen {
		return errors.New("cache key exceeds maximum length")
	}
	if strings.ContainsAny(key, "\x00\n\r") {
		return errors.New("cache key contains invalid characters")
	}
	return nil
}

// Get retrieves a template from cache
func (c *TemplateCache) Get(key string) (*domain.NotificationTemplate, bool) {
	if err := validateCacheKey(key); err != nil {
		return nil, false
	}

	c.mu.RLock()
	template, exists := c.templates[key]
	entryTime, hasEntry := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}

	if !hasEntry || time.Since(entryTime) > c.ttl {
		c.mu.Lock()
		delete(c.templates, key)
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}

	return template, true
}

// Set stores a template in cache
func (c *TemplateCache) Set(key string, template *domain.NotificationTemplate) error {
	if err := validateCacheKey(key); err != nil {
		return err
	}

	// Bound entry size to prevent memory exhaustion
	if template != nil {
		templateSize := len(template.Subject) + len(template.HTMLBody) + len(template.TextBody)
		if templateSize > maxTemplateSize {
			return errors.New("template size exceeds maximum allowed size")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.templates) >= c.maxSize && c.templates[key] == nil {
		c.evictOldest()
	}

	c.templates[key] = template
	c.entries[key] = time.Now()
	return nil
}

// evictOldest removes the oldest entry from cache (must be called with lock held)
func (c *TemplateCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	first := true

	for key, entryTime := range c.entries {
		if first || entryTime.Before(oldestTime) {
			oldestKey = key
			oldestTime = entryTime
			first = false
		}
	}

	if oldestKey != "" {
		delete(c.templates, oldestKey)
		delete(c.entries, oldestKey)
	}
}

// Invalidate removes a template from cache
func (c *TemplateCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.templates, key)
	delete(c.entries, key)
}

// TemplateRepository handles template data operations
type TemplateRepository struct {
	client *mongodb.MongoClient
	cache  *TemplateCache
}

// NewTemplateRepository creates a new template repository with caching
func NewTemplateRepository(client *mongodb.MongoClient) *TemplateRepository {
	return &TemplateRepository{
		client: client,
		cache:  NewTemplateCache(5 * time.Minute), // 5 minute cache TTL
	}
}

// EnsureIndexes creates necessary indexes for optimal query performance
func (r *TemplateRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "org_id", Value: 1},
				{Key: "event", Value: 1},
			},
			Options: options.Index().SetName("org_event_idx"),
		},
		{
			Keys: bson.D{
				{Key: "org_id", Value: 1},
				{Key: "name", Value: 1},
			},
			Options: options.Index().SetName("org_name_idx").SetUnique(true),
		},
	}

	return r.client.CreateIndexes(ctx, templatesCollection, indexes)
}

// Create creates a new template
func (r *TemplateRepository) Create(ctx context.Context, template *domain.NotificationTemplate) error {
	template.ID = primitive.NewObjectID()
	template.CreatedAt = time.Now()
	template.UpdatedAt = time.Now()

	_, err := r.client.Collection(templatesCollection).InsertOne(ctx, template)
	return err
}

// FindByID finds a template by ID with caching. Org-owned templates and
// system defaults (empty org_id) are both visible to the organization.
func (r *TemplateRepository) FindByID(ctx context.Context, orgID, id string) (*domain.NotificationTemplate, error) {
	cacheKey := "org:" + orgID + ":id:" + id
	if template, found := r.cache.Get(cacheKey); found {
		return template, nil
	}

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, err
	}

	var template domain.NotificationTemplate
	filter := bson.M{
		"_id":    objectID,
		"org_id": bson.M{"$in": []string{orgID, ""}},
	}
	if err := r.client.Collection(templatesCollection).FindOne(ctx, filter).Decode(&template); err != nil {
		return nil, err
	}

	// Cache the result (ignore error as caching is not critical)
	_ = r.cache.Set(cacheKey, &template)

	return &template, nil
}

// FindByOrg lists an organization's templates, newest first
func (r *TemplateRepository) FindByOrg(ctx context.Context, orgID string) ([]*domain.NotificationTemplate, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := r.client.Collection(templatesCollection).Find(ctx, bson.M{"org_id": orgID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var templates []*domain.NotificationTemplate
	if err := cursor.All(ctx, &templates); err != nil {
		return nil, err
	}
	return templates, nil
}

// IncrementUsage bumps the usage counter after a stateful render
func (r *TemplateRepository) IncrementUsage(ctx context.Context, templateID string) error {
	objectID, err := primitive.ObjectIDFromHex(templateID)
	if err != nil {
		return err
	}

	now := time.Now()
	update := bson.M{
		"$inc": bson.M{"usage_count": 1},
		"$set": bson.M{"last_used_at": now, "updated_at": now},
	}

	_, err = r.client.Collection(templatesCollection).UpdateOne(ctx, bson.M{"_id": objectID}, update)
	return err
}

// Update updates a template and invalidates cache
func (r *TemplateRepository) Update(ctx context.Context, template *domain.NotificationTemplate) error {
	template.UpdatedAt = time.Now()

	filter := bson.M{"_id": template.ID, "org_id": template.OrgID}
	result, err := r.client.Collection(templatesCollection).UpdateOne(ctx, filter, bson.M{"$set": template})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}

	r.cache.Invalidate("org:" + template.OrgID + ":id:" + template.ID.Hex())

	return nil
}
