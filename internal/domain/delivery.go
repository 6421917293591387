package domain

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DeliveryStatus is the state of one delivery attempt.
type DeliveryStatus string

const (
	DeliveryStatusQueued  DeliveryStatus = "queued"
	DeliveryStatusSending DeliveryStatus = "sending"
	DeliveryStatusSent    DeliveryStatus = "sent"
	DeliveryStatusFailed  DeliveryStatus = "failed"
)

// DefaultMaxRetries bounds how many fresh attempts the retry sweeper may
// create for one lineage.
const DefaultMaxRetries = 3

// StatusChange is one entry in a delivery log's append-only history.
type StatusChange struct {
	Status    DeliveryStatus `json:"status" bson:"status"`
	Timestamp time.Time      `json:"timestamp" bson:"timestamp"`
	Message   string         `json:"message,omitempty" bson:"message,omitempty"`
}

// EmailDeliveryLog is the durable record of one attempted send to one
// recipient. Lifecycle: queued -> sending -> sent|failed. A log is immutable
// once terminal; a retry creates a fresh attempt sharing the lineage id and
// bumps the origin's retry count.
type EmailDeliveryLog struct {
	ID                primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	OrgID             string             `json:"org_id" bson:"org_id"`
	LineageID         string             `json:"lineage_id" bson:"lineage_id"`
	To                string             `json:"to" bson:"to"`
	From              string             `json:"from" bson:"from"`
	Subject           string             `json:"subject" bson:"subject"`
	HTMLBody          string             `json:"html_body" bson:"html_body"`
	TextBody          string             `json:"text_body,omitempty" bson:"text_body,omitempty"`
	Event             EventType          `json:"event" bson:"event"`
	RuleID            string             `json:"rule_id" bson:"rule_id"`
	TemplateID        string             `json:"template_id" bson:"template_id"`
	Status            DeliveryStatus     `json:"status" bson:"status"`
	StatusHistory     []StatusChange     `json:"status_history" bson:"status_history"`
	RetryCount        int                `json:"retry_count" bson:"retry_count"`
	MaxRetries        int                `json:"max_retries" bson:"max_retries"`
	ProviderMessageID string             `json:"provider_message_id,omitempty" bson:"provider_message_id,omitempty"`
	ProviderResponse  string             `json:"provider_response,omitempty" bson:"provider_response,omitempty"`
	ErrorCode         string             `json:"error_code,omitempty" bson:"error_code,omitempty"`
	ErrorMessage      string             `json:"error_message,omitempty" bson:"error_message,omitempty"`
	QueuedAt          time.Time          `json:"queued_at" bson:"queued_at"`
	SentAt            *time.Time         `json:"sent_at,omitempty" bson:"sent_at,omitempty"`
	FailedAt          *time.Time         `json:"failed_at,omitempty" bson:"failed_at,omitempty"`
	CreatedAt         time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at" bson:"updated_at"`
}

var deliveryTransitions = map[DeliveryStatus][]DeliveryStatus{
	DeliveryStatusQueued:  {DeliveryStatusSending},
	DeliveryStatusSending: {DeliveryStatusSent, DeliveryStatusFailed},
	DeliveryStatusSent:    {},
	DeliveryStatusFailed:  {},
}

// Terminal reports whether the log has reached a final state.
func (l *EmailDeliveryLog) Terminal() bool {
	return l.Status == DeliveryStatusSent || l.Status == DeliveryStatusFailed
}

// TransitionTo advances the state machine and appends a history entry.
// Transitions out of a terminal state are rejected.
func (l *EmailDeliveryLog) TransitionTo(status DeliveryStatus, message string) error {
	allowed := false
	for _, next := range deliveryTransitions[l.Status] {
		if next == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("invalid delivery transition %s -> %s", l.Status, status)
	}

	now := time.Now()
	l.Status = status
	l.StatusHistory = append(l.StatusHistory, StatusChange{
		Status:    status,
		Timestamp: now,
		Message:   message,
	})
	switch status {
	case DeliveryStatusSent:
		l.SentAt = &now
	case DeliveryStatusFailed:
		l.FailedAt = &now
	}
	l.UpdatedAt = now
	return nil
}

// RateLimitState tracks rolling hourly/daily send counters for one
// organization. Counters reset to zero the first time a check observes a
// rolled-over window; increments are the only other mutation.
type RateLimitState struct {
	ID               primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	OrgID            string             `json:"org_id" bson:"org_id"`
	MaxPerHour       int                `json:"max_per_hour" bson:"max_per_hour"`
	MaxPerDay        int                `json:"max_per_day" bson:"max_per_day"`
	CurrentHourCount int                `json:"current_hour_count" bson:"current_hour_count"`
	CurrentDayCount  int                `json:"current_day_count" bson:"current_day_count"`
	LastResetHour    time.Time          `json:"last_reset_hour" bson:"last_reset_hour"`
	LastResetDay     time.Time          `json:"last_reset_day" bson:"last_reset_day"`
	UpdatedAt        time.Time          `json:"updated_at" bson:"updated_at"`
}

// RateLimitDecision is the outcome of one rate-limit check.
type RateLimitDecision struct {
	CanSend         bool `json:"can_send"`
	HourlyRemaining int  `json:"hourly_remaining"`
	DailyRemaining  int  `json:"daily_remaining"`
}
