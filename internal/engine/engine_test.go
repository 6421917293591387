package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/vhvplatform/go-notification-dispatch/internal/domain"
	"github.com/vhvplatform/go-notification-dispatch/internal/matcher"
	"github.com/vhvplatform/go-notification-dispatch/internal/provider"
	"github.com/vhvplatform/go-notification-dispatch/internal/recipient"
	apperrors "github.com/vhvplatform/go-notification-dispatch/internal/shared/errors"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/logger"
	"github.com/vhvplatform/go-notification-dispatch/internal/template"
)

type fakeSettings struct {
	settings *domain.EmailSettings
}

func (f *fakeSettings) FindByOrg(ctx context.Context, orgID string) (*domain.EmailSettings, error) {
	if f.settings == nil || f.settings.OrgID != orgID {
		return nil, nil
	}
	return f.settings, nil
}

type fakeRules struct {
	mu         sync.Mutex
	rules      []*domain.NotificationRule
	executions map[string][]bool
}

func (f *fakeRules) FindEnabledByEvent(ctx context.Context, orgID string, event domain.EventType) ([]*domain.NotificationRule, error) {
	var out []*domain.NotificationRule
	for _, r := range f.rules {
		if r.OrgID == orgID && r.Event == event && r.IsEnabled {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRules) RecordExecution(ctx context.Context, ruleID string, success bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.executions == nil {
		f.executions = make(map[string][]bool)
	}
	f.executions[ruleID] = append(f.executions[ruleID], success)
	return nil
}

type fakeUsers struct {
	users []*domain.User
}

func (f *fakeUsers) FindActiveByIDs(ctx context.Context, orgID string, ids []string) ([]*domain.User, error) {
	var out []*domain.User
	for _, id := range ids {
		for _, u := range f.users {
			if u.OrgID == orgID && u.ID == id && u.IsActive {
				out = append(out, u)
			}
		}
	}
	return out, nil
}

func (f *fakeUsers) FindActiveByRoles(ctx context.Context, orgID string, roleIDs []string) ([]*domain.User, error) {
	var out []*domain.User
	for _, u := range f.users {
		if u.OrgID != orgID || !u.IsActive {
			continue
		}
		for _, role := range u.Roles {
			for _, want := range roleIDs {
				if role == want {
					out = append(out, u)
				}
			}
		}
	}
	return out, nil
}

type fakeTemplates struct {
	templates map[string]*domain.NotificationTemplate
	usage     map[string]int
	mu        sync.Mutex
}

func (f *fakeTemplates) FindByID(ctx context.Context, orgID, id string) (*domain.NotificationTemplate, error) {
	tmpl, ok := f.templates[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("template "+id+" not found", nil)
	}
	return tmpl, nil
}

func (f *fakeTemplates) IncrementUsage(ctx context.Context, templateID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.usage == nil {
		f.usage = make(map[string]int)
	}
	f.usage[templateID]++
	return nil
}

type fakePreferences struct {
	prefs map[string]*domain.UserNotificationPreferences
}

func (f *fakePreferences) FindByUser(ctx context.Context, orgID, userID string) (*domain.UserNotificationPreferences, error) {
	return f.prefs[userID], nil
}

type fakeLimiter struct {
	mu      sync.Mutex
	granted int
	budget  int
}

func (f *fakeLimiter) Reserve(ctx context.Context, orgID string, maxPerHour, maxPerDay int) (*domain.RateLimitDecision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.granted >= f.budget {
		return &domain.RateLimitDecision{CanSend: false}, nil
	}
	f.granted++
	return &domain.RateLimitDecision{CanSend: true, HourlyRemaining: f.budget - f.granted, DailyRemaining: f.budget - f.granted}, nil
}

type fakeDeliveries struct {
	mu      sync.Mutex
	records []*domain.EmailDeliveryLog
}

func (f *fakeDeliveries) Create(ctx context.Context, log *domain.EmailDeliveryLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	log.ID = primitive.NewObjectID()
	f.records = append(f.records, log)
	return nil
}

func (f *fakeDeliveries) Update(ctx context.Context, log *domain.EmailDeliveryLog) error {
	return nil
}

func (f *fakeDeliveries) IncrementRetryCount(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.ID.Hex() == id {
			r.RetryCount++
		}
	}
	return nil
}

func (f *fakeDeliveries) byStatus(status domain.DeliveryStatus) []*domain.EmailDeliveryLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.EmailDeliveryLog
	for _, r := range f.records {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out
}

type stubProvider struct {
	mu    sync.Mutex
	sent  []*provider.Message
	fails map[string]error
}

func (s *stubProvider) Send(ctx context.Context, msg *provider.Message) (*provider.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.fails[msg.To[0]]; ok {
		return nil, err
	}
	s.sent = append(s.sent, msg)
	return &provider.Result{MessageID: "msg-" + msg.To[0], ProviderResponse: "accepted"}, nil
}

func (s *stubProvider) TestConnection(ctx context.Context, testAddress string) (*provider.CheckResult, error) {
	return &provider.CheckResult{Success: true}, nil
}

func (s *stubProvider) ValidateConnection(ctx context.Context) (*provider.CheckResult, error) {
	return &provider.CheckResult{Success: true}, nil
}

type stubFactory struct {
	provider provider.Provider
}

func (s *stubFactory) ForSettings(ctx context.Context, settings *domain.EmailSettings) (provider.Provider, error) {
	return s.provider, nil
}

type harness struct {
	engine     *Engine
	settings   *fakeSettings
	rules      *fakeRules
	users      *fakeUsers
	templates  *fakeTemplates
	prefs      *fakePreferences
	limiter    *fakeLimiter
	deliveries *fakeDeliveries
	provider   *stubProvider
}

func newHarness(rules []*domain.NotificationRule, templates map[string]*domain.NotificationTemplate, users []*domain.User) *harness {
	log := logger.NewNop()

	h := &harness{
		settings: &fakeSettings{settings: &domain.EmailSettings{
			OrgID:        "org-1",
			Provider:     domain.ProviderPlatform,
			FromEmail:    "support@example.com",
			FromName:     "Support",
			MaxPerHour:   100,
			MaxPerDay:    1000,
			IsEnabled:    true,
			IsConfigured: true,
		}},
		rules:      &fakeRules{rules: rules},
		users:      &fakeUsers{users: users},
		templates:  &fakeTemplates{templates: templates},
		prefs:      &fakePreferences{prefs: map[string]*domain.UserNotificationPreferences{}},
		limiter:    &fakeLimiter{budget: 100},
		deliveries: &fakeDeliveries{},
		provider:   &stubProvider{},
	}

	h.engine = NewEngine(
		h.settings,
		matcher.NewMatcher(h.rules, log),
		h.rules,
		recipient.NewResolver(h.users, log),
		h.templates,
		template.NewRenderer(h.templates, log),
		h.prefs,
		h.limiter,
		h.deliveries,
		&stubFactory{provider: h.provider},
		log,
	)
	return h
}

func ticketCreatedRule(name, templateID string, priority int, conditions []domain.Condition, recipients []domain.RecipientSpec) *domain.NotificationRule {
	return &domain.NotificationRule{
		ID:         primitive.NewObjectID(),
		OrgID:      "org-1",
		Name:       name,
		Event:      domain.EventTicketCreated,
		Conditions: conditions,
		Recipients: recipients,
		TemplateID: templateID,
		Priority:   priority,
		IsEnabled:  true,
	}
}

func ticketTemplate(id string) map[string]*domain.NotificationTemplate {
	return map[string]*domain.NotificationTemplate{
		id: {
			ID:       primitive.NewObjectID(),
			OrgID:    "org-1",
			Event:    domain.EventTicketCreated,
			Subject:  "Ticket {{ticket.number}}",
			HTMLBody: "<p>New ticket from {{ticket.requester.name}}</p>",
			TextBody: "New ticket from {{ticket.requester.name}}",
			IsActive: true,
		},
	}
}

func TestProcessTriggerMatchingRuleSendsAndCounts(t *testing.T) {
	rule := ticketCreatedRule("critical tickets", "tmpl-1", 1,
		[]domain.Condition{{Field: "ticket.priority", Operator: domain.OperatorEquals, Value: "critical"}},
		[]domain.RecipientSpec{{Type: domain.RecipientAssignee}},
	)
	h := newHarness([]*domain.NotificationRule{rule}, ticketTemplate("tmpl-1"), []*domain.User{
		{ID: "u-2", OrgID: "org-1", Email: "agent@example.com", IsActive: true},
	})

	h.engine.ProcessTrigger(context.Background(), &domain.TriggerRequest{
		OrgID: "org-1",
		Event: domain.EventTicketCreated,
		Payload: map[string]any{
			"assignedTo": "u-2",
			"ticket": map[string]any{
				"number":    "TKT-00042",
				"priority":  "critical",
				"requester": map[string]any{"name": "Alice"},
			},
		},
		TriggeredBy: "u-1",
	})

	sent := h.deliveries.byStatus(domain.DeliveryStatusSent)
	require.Len(t, sent, 1)
	assert.Equal(t, "agent@example.com", sent[0].To)
	assert.Equal(t, "Ticket TKT-00042", sent[0].Subject)
	assert.Equal(t, rule.ID.Hex(), sent[0].RuleID)
	assert.NotEmpty(t, sent[0].LineageID)
	assert.NotEmpty(t, sent[0].ProviderMessageID)

	// History carries the full queued -> sending -> sent path.
	require.Len(t, sent[0].StatusHistory, 3)
	assert.Equal(t, domain.DeliveryStatusQueued, sent[0].StatusHistory[0].Status)
	assert.Equal(t, domain.DeliveryStatusSending, sent[0].StatusHistory[1].Status)
	assert.Equal(t, domain.DeliveryStatusSent, sent[0].StatusHistory[2].Status)

	assert.Equal(t, []bool{true}, h.rules.executions[rule.ID.Hex()])
	assert.Equal(t, 1, h.templates.usage["tmpl-1"])
}

func TestProcessTriggerNonMatchingRuleSendsNothing(t *testing.T) {
	rule := ticketCreatedRule("critical tickets", "tmpl-1", 1,
		[]domain.Condition{{Field: "ticket.priority", Operator: domain.OperatorEquals, Value: "critical"}},
		[]domain.RecipientSpec{{Type: domain.RecipientAssignee}},
	)
	h := newHarness([]*domain.NotificationRule{rule}, ticketTemplate("tmpl-1"), []*domain.User{
		{ID: "u-2", OrgID: "org-1", Email: "agent@example.com", IsActive: true},
	})

	h.engine.ProcessTrigger(context.Background(), &domain.TriggerRequest{
		OrgID: "org-1",
		Event: domain.EventTicketCreated,
		Payload: map[string]any{
			"assignedTo": "u-2",
			"ticket":     map[string]any{"number": "TKT-00043", "priority": "medium"},
		},
	})

	assert.Empty(t, h.deliveries.records)
	assert.Empty(t, h.rules.executions)
	assert.Zero(t, h.templates.usage["tmpl-1"])
}

func TestProcessTriggerDisabledSettingsShortCircuits(t *testing.T) {
	rule := ticketCreatedRule("all tickets", "tmpl-1", 1, nil,
		[]domain.RecipientSpec{{Type: domain.RecipientEmail, Value: "ops@example.com"}})
	h := newHarness([]*domain.NotificationRule{rule}, ticketTemplate("tmpl-1"), nil)
	h.settings.settings.IsEnabled = false

	h.engine.ProcessTrigger(context.Background(), &domain.TriggerRequest{
		OrgID:   "org-1",
		Event:   domain.EventTicketCreated,
		Payload: map[string]any{"ticket": map[string]any{"number": "TKT-1"}},
	})

	assert.Empty(t, h.deliveries.records)
}

func TestProcessTriggerFailedRecipientDoesNotStopOthers(t *testing.T) {
	rule := ticketCreatedRule("all tickets", "tmpl-1", 1, nil, []domain.RecipientSpec{
		{Type: domain.RecipientUser, Value: []string{"u-1", "u-2"}},
	})
	h := newHarness([]*domain.NotificationRule{rule}, ticketTemplate("tmpl-1"), []*domain.User{
		{ID: "u-1", OrgID: "org-1", Email: "first@example.com", IsActive: true},
		{ID: "u-2", OrgID: "org-1", Email: "second@example.com", IsActive: true},
	})
	h.provider.fails = map[string]error{
		"first@example.com": apperrors.NewProviderError(apperrors.CodeProviderRejected, "mailbox does not exist", nil),
	}

	h.engine.ProcessTrigger(context.Background(), &domain.TriggerRequest{
		OrgID:   "org-1",
		Event:   domain.EventTicketCreated,
		Payload: map[string]any{"ticket": map[string]any{"number": "TKT-1"}},
	})

	failed := h.deliveries.byStatus(domain.DeliveryStatusFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "first@example.com", failed[0].To)
	assert.Equal(t, apperrors.CodeProviderRejected, failed[0].ErrorCode)
	assert.NotNil(t, failed[0].FailedAt)

	sent := h.deliveries.byStatus(domain.DeliveryStatusSent)
	require.Len(t, sent, 1)
	assert.Equal(t, "second@example.com", sent[0].To)

	// Execution counts once, and counts as a success because one recipient
	// got the email.
	assert.Equal(t, []bool{true}, h.rules.executions[rule.ID.Hex()])
}

func TestProcessTriggerRateLimitStopsRemainingRecipients(t *testing.T) {
	rule := ticketCreatedRule("all tickets", "tmpl-1", 1, nil, []domain.RecipientSpec{
		{Type: domain.RecipientUser, Value: []string{"u-1", "u-2", "u-3"}},
	})
	h := newHarness([]*domain.NotificationRule{rule}, ticketTemplate("tmpl-1"), []*domain.User{
		{ID: "u-1", OrgID: "org-1", Email: "a@example.com", IsActive: true},
		{ID: "u-2", OrgID: "org-1", Email: "b@example.com", IsActive: true},
		{ID: "u-3", OrgID: "org-1", Email: "c@example.com", IsActive: true},
	})
	h.limiter.budget = 1

	h.engine.ProcessTrigger(context.Background(), &domain.TriggerRequest{
		OrgID:   "org-1",
		Event:   domain.EventTicketCreated,
		Payload: map[string]any{"ticket": map[string]any{"number": "TKT-1"}},
	})

	// Only the first recipient got through before the budget ran out, and no
	// further delivery logs were created.
	require.Len(t, h.deliveries.records, 1)
	assert.Equal(t, "a@example.com", h.deliveries.records[0].To)
	assert.Equal(t, []bool{true}, h.rules.executions[rule.ID.Hex()])
}

func TestProcessTriggerPreferencesSuppressResolvedUsersOnly(t *testing.T) {
	until := timePtr()
	rule := ticketCreatedRule("all tickets", "tmpl-1", 1, nil, []domain.RecipientSpec{
		{Type: domain.RecipientUser, Value: "u-1"},
		{Type: domain.RecipientEmail, Value: "external@example.com"},
	})
	h := newHarness([]*domain.NotificationRule{rule}, ticketTemplate("tmpl-1"), []*domain.User{
		{ID: "u-1", OrgID: "org-1", Email: "muted@example.com", IsActive: true},
	})
	h.prefs.prefs["u-1"] = &domain.UserNotificationPreferences{
		UserID:                    "u-1",
		OrgID:                     "org-1",
		EmailNotificationsEnabled: true,
		DoNotDisturb:              true,
		DoNotDisturbUntil:         until,
	}

	h.engine.ProcessTrigger(context.Background(), &domain.TriggerRequest{
		OrgID:   "org-1",
		Event:   domain.EventTicketCreated,
		Payload: map[string]any{"ticket": map[string]any{"number": "TKT-1"}},
	})

	sent := h.deliveries.byStatus(domain.DeliveryStatusSent)
	require.Len(t, sent, 1)
	assert.Equal(t, "external@example.com", sent[0].To)
}

func TestProcessTriggerBrokenTemplateAbortsRuleOnly(t *testing.T) {
	broken := ticketCreatedRule("broken", "tmpl-bad", 1, nil,
		[]domain.RecipientSpec{{Type: domain.RecipientEmail, Value: "a@example.com"}})
	healthy := ticketCreatedRule("healthy", "tmpl-1", 2, nil,
		[]domain.RecipientSpec{{Type: domain.RecipientEmail, Value: "b@example.com"}})

	templates := ticketTemplate("tmpl-1")
	templates["tmpl-bad"] = &domain.NotificationTemplate{
		ID:       primitive.NewObjectID(),
		OrgID:    "org-1",
		Subject:  "Ticket {{ticket.number",
		HTMLBody: "<p>x</p>",
		IsActive: true,
	}

	h := newHarness([]*domain.NotificationRule{broken, healthy}, templates, nil)

	h.engine.ProcessTrigger(context.Background(), &domain.TriggerRequest{
		OrgID:   "org-1",
		Event:   domain.EventTicketCreated,
		Payload: map[string]any{"ticket": map[string]any{"number": "TKT-1"}},
	})

	sent := h.deliveries.byStatus(domain.DeliveryStatusSent)
	require.Len(t, sent, 1)
	assert.Equal(t, "b@example.com", sent[0].To)

	// The broken rule never reached its recipients, so it has no execution.
	assert.Empty(t, h.rules.executions[broken.ID.Hex()])
	assert.Equal(t, []bool{true}, h.rules.executions[healthy.ID.Hex()])
}

func TestRetryDeliveryCreatesFreshAttemptInSameLineage(t *testing.T) {
	h := newHarness(nil, ticketTemplate("tmpl-1"), nil)

	origin := &domain.EmailDeliveryLog{
		OrgID:      "org-1",
		LineageID:  "lineage-1",
		To:         "agent@example.com",
		From:       "support@example.com",
		Subject:    "Ticket TKT-1",
		HTMLBody:   "<p>x</p>",
		Event:      domain.EventTicketCreated,
		Status:     domain.DeliveryStatusFailed,
		RetryCount: 0,
		MaxRetries: domain.DefaultMaxRetries,
	}
	require.NoError(t, h.deliveries.Create(context.Background(), origin))

	require.NoError(t, h.engine.RetryDelivery(context.Background(), origin))

	require.Len(t, h.deliveries.records, 2)
	attempt := h.deliveries.records[1]
	assert.Equal(t, "lineage-1", attempt.LineageID)
	assert.Equal(t, 1, attempt.RetryCount)
	assert.Equal(t, domain.DeliveryStatusSent, attempt.Status)
	assert.Equal(t, 1, origin.RetryCount)
}

func TestRetryDeliveryRejectsExhaustedBudget(t *testing.T) {
	h := newHarness(nil, ticketTemplate("tmpl-1"), nil)

	origin := &domain.EmailDeliveryLog{
		OrgID:      "org-1",
		Status:     domain.DeliveryStatusFailed,
		RetryCount: domain.DefaultMaxRetries,
		MaxRetries: domain.DefaultMaxRetries,
	}

	err := h.engine.RetryDelivery(context.Background(), origin)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func timePtr() *time.Time {
	t := time.Now().Add(time.Hour)
	return &t
}
