package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vhvplatform/go-notification-dispatch/internal/domain"
	"github.com/vhvplatform/go-notification-dispatch/internal/metrics"
	"github.com/vhvplatform/go-notification-dispatch/internal/preference"
	"github.com/vhvplatform/go-notification-dispatch/internal/provider"
	apperrors "github.com/vhvplatform/go-notification-dispatch/internal/shared/errors"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/logger"
	"github.com/vhvplatform/go-notification-dispatch/internal/template"
)

// SettingsSource reads per-organization delivery configuration.
type SettingsSource interface {
	// FindByOrg returns nil when the organization has no settings.
	FindByOrg(ctx context.Context, orgID string) (*domain.EmailSettings, error)
}

// RuleMatcher selects the rules that apply to an incoming event.
type RuleMatcher interface {
	FindMatchingRules(ctx context.Context, orgID string, event domain.EventType, payload map[string]any) ([]*domain.NotificationRule, error)
}

// RuleCounter records one rule execution.
type RuleCounter interface {
	RecordExecution(ctx context.Context, ruleID string, success bool) error
}

// RecipientResolver expands a rule's recipient specs into addresses.
type RecipientResolver interface {
	Resolve(ctx context.Context, orgID string, rule *domain.NotificationRule, payload map[string]any, triggeredBy string) ([]domain.RecipientAddress, error)
}

// TemplateSource reads templates by id within an organization.
type TemplateSource interface {
	// FindByID also matches system default templates with an empty org id.
	FindByID(ctx context.Context, orgID, id string) (*domain.NotificationTemplate, error)
}

// TemplateRenderer performs the stateful render for a rule execution.
type TemplateRenderer interface {
	Render(ctx context.Context, tmpl *domain.NotificationTemplate, variables map[string]any) (*template.Rendered, error)
}

// PreferenceSource reads a recipient's notification preferences.
type PreferenceSource interface {
	// FindByUser returns nil when the user has never saved preferences.
	FindByUser(ctx context.Context, orgID, userID string) (*domain.UserNotificationPreferences, error)
}

// RateLimiter reserves send capacity for an organization.
type RateLimiter interface {
	Reserve(ctx context.Context, orgID string, maxPerHour, maxPerDay int) (*domain.RateLimitDecision, error)
}

// DeliveryStore persists delivery logs.
type DeliveryStore interface {
	Create(ctx context.Context, log *domain.EmailDeliveryLog) error
	Update(ctx context.Context, log *domain.EmailDeliveryLog) error
	IncrementRetryCount(ctx context.Context, id string) error
}

// ProviderFactory builds the delivery backend for an organization.
type ProviderFactory interface {
	ForSettings(ctx context.Context, settings *domain.EmailSettings) (provider.Provider, error)
}

// Engine sequences rule matching, recipient resolution, preference and
// rate-limit checks, rendering and delivery for one trigger invocation,
// recording a delivery log per recipient throughout.
type Engine struct {
	settings    SettingsSource
	matcher     RuleMatcher
	rules       RuleCounter
	resolver    RecipientResolver
	templates   TemplateSource
	renderer    TemplateRenderer
	preferences PreferenceSource
	limiter     RateLimiter
	deliveries  DeliveryStore
	providers   ProviderFactory
	log         *logger.Logger
}

// NewEngine creates the delivery orchestrator.
func NewEngine(
	settings SettingsSource,
	ruleMatcher RuleMatcher,
	rules RuleCounter,
	resolver RecipientResolver,
	templates TemplateSource,
	renderer TemplateRenderer,
	preferences PreferenceSource,
	limiter RateLimiter,
	deliveries DeliveryStore,
	providers ProviderFactory,
	log *logger.Logger,
) *Engine {
	return &Engine{
		settings:    settings,
		matcher:     ruleMatcher,
		rules:       rules,
		resolver:    resolver,
		templates:   templates,
		renderer:    renderer,
		preferences: preferences,
		limiter:     limiter,
		deliveries:  deliveries,
		providers:   providers,
		log:         log,
	}
}

// ProcessTrigger runs one trigger invocation to completion. It never
// returns an error and never panics outward: notification delivery must not
// fail the business operation that raised the event. Outcomes live in the
// delivery logs.
func (e *Engine) ProcessTrigger(ctx context.Context, req *domain.TriggerRequest) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("Panic while processing trigger", "panic", r, "org_id", req.OrgID, "event", req.Event)
		}
	}()

	if err := e.processTrigger(ctx, req); err != nil {
		e.log.Error("Trigger processing failed", "error", err, "org_id", req.OrgID, "event", req.Event)
	}
}

func (e *Engine) processTrigger(ctx context.Context, req *domain.TriggerRequest) error {
	if !req.Event.Valid() {
		e.log.Warn("Unknown event type", "event", req.Event, "org_id", req.OrgID)
		return nil
	}

	metrics.TriggersTotal.WithLabelValues(string(req.Event), req.OrgID).Inc()

	settings, err := e.settings.FindByOrg(ctx, req.OrgID)
	if err != nil {
		return err
	}
	if settings == nil || !settings.IsEnabled || !settings.IsConfigured {
		e.log.Debug("Email settings absent or disabled, skipping trigger", "org_id", req.OrgID, "event", req.Event)
		return nil
	}

	rules, err := e.matcher.FindMatchingRules(ctx, req.OrgID, req.Event, req.Payload)
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		e.log.Debug("No matching rules", "org_id", req.OrgID, "event", req.Event)
		return nil
	}

	prov, err := e.providers.ForSettings(ctx, settings)
	if err != nil {
		return err
	}

	// Rules run sequentially in priority order; one rule's failure must not
	// starve the rest.
	for _, rule := range rules {
		if err := e.processRule(ctx, settings, prov, rule, req); err != nil {
			if apperrors.HasCode(err, apperrors.CodeRateLimitExceeded) {
				e.log.Warn("Rate limit exhausted, remaining recipients skipped", "org_id", req.OrgID, "rule_id", rule.ID.Hex())
			} else {
				e.log.Error("Rule processing failed", "error", err, "org_id", req.OrgID, "rule_id", rule.ID.Hex())
			}
		}
	}

	return nil
}

// processRule handles one matched rule: resolve recipients, render once,
// then deliver per recipient with per-recipient failure isolation.
func (e *Engine) processRule(ctx context.Context, settings *domain.EmailSettings, prov provider.Provider, rule *domain.NotificationRule, req *domain.TriggerRequest) error {
	recipients, err := e.resolver.Resolve(ctx, req.OrgID, rule, req.Payload, req.TriggeredBy)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		e.log.Debug("Rule resolved no recipients", "rule_id", rule.ID.Hex(), "org_id", req.OrgID)
		return nil
	}

	tmpl, err := e.templates.FindByID(ctx, req.OrgID, rule.TemplateID)
	if err != nil {
		return apperrors.NewTemplateRenderError("template "+rule.TemplateID+" could not be loaded", err)
	}
	if !tmpl.IsActive {
		e.log.Warn("Rule references an inactive template", "rule_id", rule.ID.Hex(), "template_id", rule.TemplateID)
		return nil
	}

	// Rendered once per rule, not per recipient.
	rendered, err := e.renderer.Render(ctx, tmpl, req.Payload)
	if err != nil {
		return err
	}

	anySent := false
	var stop error
	for _, rcpt := range recipients {
		if rcpt.UserID != domain.ExternalUserID {
			prefs, err := e.preferences.FindByUser(ctx, req.OrgID, rcpt.UserID)
			if err != nil {
				// Fail open: a preference read outage must not silence every
				// notification.
				e.log.Error("Preference lookup failed", "error", err, "user_id", rcpt.UserID, "org_id", req.OrgID)
			} else if !preference.ShouldSend(prefs, req.Event) {
				e.log.Debug("Recipient suppressed by preferences", "user_id", rcpt.UserID, "event", req.Event)
				continue
			}
		}

		decision, err := e.limiter.Reserve(ctx, req.OrgID, settings.MaxPerHour, settings.MaxPerDay)
		if err != nil {
			stop = err
			break
		}
		if !decision.CanSend {
			metrics.RateLimitExceeded.WithLabelValues(req.OrgID).Inc()
			stop = apperrors.NewRateLimitError("send budget exhausted for organization " + req.OrgID)
			break
		}

		if err := e.deliver(ctx, settings, prov, rule, rcpt, rendered, req); err != nil {
			// Recorded on the delivery log; keep going with the remaining
			// recipients.
			e.log.Error("Delivery failed", "error", err, "to", rcpt.Email, "rule_id", rule.ID.Hex())
			continue
		}
		anySent = true
	}

	if err := e.rules.RecordExecution(ctx, rule.ID.Hex(), anySent); err != nil {
		e.log.Error("Failed to record rule execution", "error", err, "rule_id", rule.ID.Hex())
	}

	return stop
}

// deliver walks one delivery log through queued -> sending -> sent|failed.
func (e *Engine) deliver(ctx context.Context, settings *domain.EmailSettings, prov provider.Provider, rule *domain.NotificationRule, rcpt domain.RecipientAddress, rendered *template.Rendered, req *domain.TriggerRequest) error {
	now := time.Now()
	record := &domain.EmailDeliveryLog{
		OrgID:      req.OrgID,
		LineageID:  uuid.New().String(),
		To:         rcpt.Email,
		From:       settings.FromEmail,
		Subject:    rendered.Subject,
		HTMLBody:   rendered.HTMLBody,
		TextBody:   rendered.TextBody,
		Event:      req.Event,
		RuleID:     rule.ID.Hex(),
		TemplateID: rule.TemplateID,
		Status:     domain.DeliveryStatusQueued,
		StatusHistory: []domain.StatusChange{
			{Status: domain.DeliveryStatusQueued, Timestamp: now},
		},
		MaxRetries: domain.DefaultMaxRetries,
		QueuedAt:   now,
	}
	if err := e.deliveries.Create(ctx, record); err != nil {
		return err
	}

	return e.send(ctx, prov, record, rendered.TextBody)
}

// send performs the sending/terminal transitions shared by first attempts
// and sweeper retries.
func (e *Engine) send(ctx context.Context, prov provider.Provider, record *domain.EmailDeliveryLog, textBody string) error {
	start := time.Now()

	if err := record.TransitionTo(domain.DeliveryStatusSending, ""); err != nil {
		return err
	}
	if err := e.deliveries.Update(ctx, record); err != nil {
		return err
	}

	result, sendErr := prov.Send(ctx, &provider.Message{
		To:       []string{record.To},
		Subject:  record.Subject,
		HTMLBody: record.HTMLBody,
		TextBody: textBody,
	})

	metrics.DeliveryDuration.WithLabelValues(string(record.Event)).Observe(time.Since(start).Seconds())

	if sendErr != nil {
		record.ErrorCode = apperrors.CodeOf(sendErr)
		record.ErrorMessage = sendErr.Error()
		if err := record.TransitionTo(domain.DeliveryStatusFailed, sendErr.Error()); err != nil {
			return err
		}
		if err := e.deliveries.Update(ctx, record); err != nil {
			e.log.Error("Failed to persist failed delivery", "error", err, "delivery_id", record.ID.Hex())
		}
		metrics.DeliveriesTotal.WithLabelValues(record.OrgID, string(domain.DeliveryStatusFailed)).Inc()
		return sendErr
	}

	record.ProviderMessageID = result.MessageID
	record.ProviderResponse = result.ProviderResponse
	if err := record.TransitionTo(domain.DeliveryStatusSent, "provider accepted message "+result.MessageID); err != nil {
		return err
	}
	if err := e.deliveries.Update(ctx, record); err != nil {
		e.log.Error("Failed to persist sent delivery", "error", err, "delivery_id", record.ID.Hex())
	}
	metrics.DeliveriesTotal.WithLabelValues(record.OrgID, string(domain.DeliveryStatusSent)).Inc()
	return nil
}

// RetryDelivery re-dispatches a failed delivery as a fresh attempt in the
// same lineage and bumps the origin's retry count. Retries consume rate
// budget like first attempts.
func (e *Engine) RetryDelivery(ctx context.Context, origin *domain.EmailDeliveryLog) error {
	if origin.Status != domain.DeliveryStatusFailed {
		return apperrors.NewValidationError("only failed deliveries can be retried", nil)
	}
	if origin.RetryCount >= origin.MaxRetries {
		return apperrors.NewValidationError("retry budget exhausted for lineage "+origin.LineageID, nil)
	}

	settings, err := e.settings.FindByOrg(ctx, origin.OrgID)
	if err != nil {
		return err
	}
	if settings == nil || !settings.IsEnabled || !settings.IsConfigured {
		return apperrors.NewNotConfiguredError("email settings absent or disabled for organization " + origin.OrgID)
	}

	decision, err := e.limiter.Reserve(ctx, origin.OrgID, settings.MaxPerHour, settings.MaxPerDay)
	if err != nil {
		return err
	}
	if !decision.CanSend {
		return apperrors.NewRateLimitError("send budget exhausted for organization " + origin.OrgID)
	}

	prov, err := e.providers.ForSettings(ctx, settings)
	if err != nil {
		return err
	}

	now := time.Now()
	attempt := &domain.EmailDeliveryLog{
		OrgID:      origin.OrgID,
		LineageID:  origin.LineageID,
		To:         origin.To,
		From:       origin.From,
		Subject:    origin.Subject,
		HTMLBody:   origin.HTMLBody,
		TextBody:   origin.TextBody,
		Event:      origin.Event,
		RuleID:     origin.RuleID,
		TemplateID: origin.TemplateID,
		Status:     domain.DeliveryStatusQueued,
		StatusHistory: []domain.StatusChange{
			{Status: domain.DeliveryStatusQueued, Timestamp: now, Message: "retry of " + origin.ID.Hex()},
		},
		RetryCount: origin.RetryCount + 1,
		MaxRetries: origin.MaxRetries,
		QueuedAt:   now,
	}
	if err := e.deliveries.Create(ctx, attempt); err != nil {
		return err
	}

	if err := e.deliveries.IncrementRetryCount(ctx, origin.ID.Hex()); err != nil {
		e.log.Error("Failed to bump origin retry count", "error", err, "delivery_id", origin.ID.Hex())
	}

	metrics.RetryAttempts.Inc()
	return e.send(ctx, prov, attempt, origin.TextBody)
}
