package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ConditionOperator is the closed set of operators a rule condition may use.
// Unknown operators evaluate to false.
type ConditionOperator string

const (
	OperatorEquals      ConditionOperator = "equals"
	OperatorNotEquals   ConditionOperator = "not_equals"
	OperatorContains    ConditionOperator = "contains"
	OperatorNotContains ConditionOperator = "not_contains"
	OperatorGreaterThan ConditionOperator = "greater_than"
	OperatorLessThan    ConditionOperator = "less_than"
	OperatorIsEmpty     ConditionOperator = "is_empty"
	OperatorIsNotEmpty  ConditionOperator = "is_not_empty"
	OperatorIn          ConditionOperator = "in"
	OperatorNotIn       ConditionOperator = "not_in"
)

// Condition is a single predicate against the event payload. Field is a
// dot-path into the payload map. Conditions on a rule are ANDed.
type Condition struct {
	Field    string            `json:"field" bson:"field"`
	Operator ConditionOperator `json:"operator" bson:"operator"`
	Value    any               `json:"value,omitempty" bson:"value,omitempty"`
}

// RecipientType classifies how a recipient spec resolves to addresses.
type RecipientType string

const (
	RecipientRequester RecipientType = "requester"
	RecipientAssignee  RecipientType = "assignee"
	RecipientUser      RecipientType = "user"
	RecipientRole      RecipientType = "role"
	RecipientEmail     RecipientType = "email"
)

// RecipientSpec is a typed reference that resolves to zero or more
// destination addresses. Value holds user ids for "user", role ids for
// "role" and literal addresses for "email"; it may be a single string or a
// list depending on how the rule was authored.
type RecipientSpec struct {
	Type  RecipientType `json:"type" bson:"type"`
	Value any           `json:"value,omitempty" bson:"value,omitempty"`
}

// StringValues normalizes Value into a list of strings. Non-string entries
// are dropped.
func (s RecipientSpec) StringValues() []string {
	switch v := s.Value.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok && str != "" {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

// NotificationRule maps an event plus conditions to a template and a set of
// recipient specs for one organization. The engine mutates it only to bump
// execution counters.
type NotificationRule struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	OrgID          string             `json:"org_id" bson:"org_id"`
	Name           string             `json:"name" bson:"name"`
	Event          EventType          `json:"event" bson:"event"`
	Conditions     []Condition        `json:"conditions,omitempty" bson:"conditions,omitempty"`
	Recipients     []RecipientSpec    `json:"recipients" bson:"recipients"`
	TemplateID     string             `json:"template_id" bson:"template_id"`
	Priority       int                `json:"priority" bson:"priority"`
	IsEnabled      bool               `json:"is_enabled" bson:"is_enabled"`
	ExecutionCount int64              `json:"execution_count" bson:"execution_count"`
	SuccessCount   int64              `json:"success_count" bson:"success_count"`
	LastExecutedAt *time.Time         `json:"last_executed_at,omitempty" bson:"last_executed_at,omitempty"`
	CreatedAt      time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at" bson:"updated_at"`
}

// NotificationTemplate holds the subject and bodies rendered for a rule.
// System defaults carry an empty OrgID and are copied into new organizations.
type NotificationTemplate struct {
	ID         primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	OrgID      string             `json:"org_id" bson:"org_id"`
	Name       string             `json:"name" bson:"name"`
	Event      EventType          `json:"event" bson:"event"`
	Subject    string             `json:"subject" bson:"subject"`
	HTMLBody   string             `json:"html_body" bson:"html_body"`
	TextBody   string             `json:"text_body,omitempty" bson:"text_body,omitempty"`
	Variables  []string           `json:"variables,omitempty" bson:"variables,omitempty"`
	IsActive   bool               `json:"is_active" bson:"is_active"`
	IsDefault  bool               `json:"is_default" bson:"is_default"`
	UsageCount int64              `json:"usage_count" bson:"usage_count"`
	LastUsedAt *time.Time         `json:"last_used_at,omitempty" bson:"last_used_at,omitempty"`
	CreatedAt  time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at" bson:"updated_at"`
}

// ProviderType selects the delivery backend for an organization.
type ProviderType string

const (
	ProviderPlatform ProviderType = "platform"
	ProviderSMTP     ProviderType = "smtp"
)

// SMTPConnection holds organization-supplied relay parameters. The password
// is encrypted at rest and decrypted only inside the relay provider at send
// time.
type SMTPConnection struct {
	Host              string `json:"host" bson:"host"`
	Port              int    `json:"port" bson:"port"`
	Secure            bool   `json:"secure" bson:"secure"`
	Username          string `json:"username" bson:"username"`
	EncryptedPassword string `json:"-" bson:"encrypted_password"`
	RequireTLS        bool   `json:"require_tls" bson:"require_tls"`
}

// EmailSettings is the per-organization delivery configuration.
type EmailSettings struct {
	ID           primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	OrgID        string             `json:"org_id" bson:"org_id"`
	Provider     ProviderType       `json:"provider" bson:"provider"`
	SMTP         *SMTPConnection    `json:"smtp,omitempty" bson:"smtp,omitempty"`
	FromEmail    string             `json:"from_email" bson:"from_email"`
	FromName     string             `json:"from_name" bson:"from_name"`
	ReplyToEmail string             `json:"reply_to_email,omitempty" bson:"reply_to_email,omitempty"`
	MaxPerHour   int                `json:"max_per_hour" bson:"max_per_hour"`
	MaxPerDay    int                `json:"max_per_day" bson:"max_per_day"`
	IsEnabled    bool               `json:"is_enabled" bson:"is_enabled"`
	IsConfigured bool               `json:"is_configured" bson:"is_configured"`
	CreatedAt    time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at" bson:"updated_at"`
}

// Sender formats the From header value for this organization.
func (s *EmailSettings) Sender() string {
	if s.FromName != "" {
		return s.FromName + " <" + s.FromEmail + ">"
	}
	return s.FromEmail
}

// User is the engine's read-only view of a host-system user.
type User struct {
	ID       string   `json:"id" bson:"_id"`
	OrgID    string   `json:"org_id" bson:"org_id"`
	Email    string   `json:"email" bson:"email"`
	Name     string   `json:"name" bson:"name"`
	Roles    []string `json:"roles,omitempty" bson:"roles,omitempty"`
	IsActive bool     `json:"is_active" bson:"is_active"`
}

// ExternalUserID marks a RecipientAddress that came from a literal email
// spec rather than a resolved user.
const ExternalUserID = "external"

// RecipientAddress is a resolved (user id, email) destination pair.
type RecipientAddress struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}
