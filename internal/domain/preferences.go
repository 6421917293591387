package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NotificationFrequency controls how a user wants a given event delivered.
// Only "never" suppresses a send today; digest values are reserved.
type NotificationFrequency string

const (
	FrequencyImmediate NotificationFrequency = "immediate"
	FrequencyHourly    NotificationFrequency = "hourly"
	FrequencyDaily     NotificationFrequency = "daily"
	FrequencyNever     NotificationFrequency = "never"
)

// EventPreference is one user's setting for a single event type.
type EventPreference struct {
	Enabled   bool                  `json:"enabled" bson:"enabled"`
	Frequency NotificationFrequency `json:"frequency" bson:"frequency"`
}

// UserNotificationPreferences is the per (user, organization) opt-out
// record. Read-only from the engine's perspective.
type UserNotificationPreferences struct {
	ID                        primitive.ObjectID             `json:"id" bson:"_id,omitempty"`
	OrgID                     string                         `json:"org_id" bson:"org_id"`
	UserID                    string                         `json:"user_id" bson:"user_id"`
	EmailNotificationsEnabled bool                           `json:"email_notifications_enabled" bson:"email_notifications_enabled"`
	DoNotDisturb              bool                           `json:"do_not_disturb" bson:"do_not_disturb"`
	DoNotDisturbUntil         *time.Time                     `json:"do_not_disturb_until,omitempty" bson:"do_not_disturb_until,omitempty"`
	Events                    map[EventType]EventPreference  `json:"events,omitempty" bson:"events,omitempty"`
	CreatedAt                 time.Time                      `json:"created_at" bson:"created_at"`
	UpdatedAt                 time.Time                      `json:"updated_at" bson:"updated_at"`
}
