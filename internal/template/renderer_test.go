package template

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vhvplatform/go-notification-dispatch/internal/domain"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/logger"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestRenderString(t *testing.T) {
	variables := map[string]any{
		"ticketNumber": "TKT-00042",
		"priority":     "critical",
		"count":        float64(3),
		"client": map[string]any{
			"name": "Acme Corp",
		},
	}

	tests := []struct {
		name     string
		template string
		expected string
	}{
		{"single variable", "Ticket {{ticketNumber}}", "Ticket TKT-00042"},
		{"multiple variables", "{{ticketNumber}} is {{priority}}", "TKT-00042 is critical"},
		{"nested path", "Client: {{client.name}}", "Client: Acme Corp"},
		{"numeric value", "{{count}} updates", "3 updates"},
		{"missing path renders empty", "Hello {{missing.value}}!", "Hello !"},
		{"whitespace tolerated", "Ticket {{ ticketNumber }}", "Ticket TKT-00042"},
		{"no placeholders", "Plain subject", "Plain subject"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, RenderString(tt.template, variables))
		})
	}
}

func TestRenderIdempotence(t *testing.T) {
	variables := map[string]any{"ticketNumber": "TKT-7"}
	first := Preview("Ticket {{ticketNumber}}", "<p>{{ticketNumber}}</p>", "{{ticketNumber}}", variables)
	second := Preview("Ticket {{ticketNumber}}", "<p>{{ticketNumber}}</p>", "{{ticketNumber}}", variables)
	assert.Equal(t, first, second)
}

func TestValidateCollectsErrorsAcrossFields(t *testing.T) {
	result := Validate("Hello {{name", "<p>{{}}</p>", "ok {{valid.path}}")

	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, "subject", result.Errors[0].Field)
	assert.Equal(t, "html_body", result.Errors[1].Field)
}

func TestValidateAcceptsCleanTemplates(t *testing.T) {
	result := Validate("Ticket {{ticketNumber}}", "<b>{{client.name}}</b>", "")
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
}

func TestValidateRejectsStrayClose(t *testing.T) {
	result := Validate("weird }} subject", "fine", "")
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "subject", result.Errors[0].Field)
}

func TestValidateRejectsInvalidPath(t *testing.T) {
	result := Validate("{{ticket number}}", "fine", "")
	assert.False(t, result.Valid)
}

type usageSpy struct {
	calls []string
}

func (u *usageSpy) IncrementUsage(ctx context.Context, templateID string) error {
	u.calls = append(u.calls, templateID)
	return nil
}

func TestRenderRecordsUsage(t *testing.T) {
	spy := &usageSpy{}
	r := NewRenderer(spy, logger.NewNop())

	tmpl := &domain.NotificationTemplate{
		ID:       primitive.NewObjectID(),
		Subject:  "Ticket {{ticketNumber}}",
		HTMLBody: "<p>{{ticketNumber}}</p>",
	}

	rendered, err := r.Render(context.Background(), tmpl, map[string]any{"ticketNumber": "TKT-1"})
	require.NoError(t, err)
	assert.Equal(t, "Ticket TKT-1", rendered.Subject)
	assert.Equal(t, []string{tmpl.ID.Hex()}, spy.calls)
}

func TestRenderRejectsBrokenTemplate(t *testing.T) {
	spy := &usageSpy{}
	r := NewRenderer(spy, logger.NewNop())

	tmpl := &domain.NotificationTemplate{
		ID:       primitive.NewObjectID(),
		Subject:  "Hello {{name",
		HTMLBody: "<p>ok</p>",
	}

	_, err := r.Render(context.Background(), tmpl, nil)
	require.Error(t, err)
	assert.Empty(t, spy.calls, "a failed render must not count as usage")
}

func TestPreviewHasNoSideEffect(t *testing.T) {
	rendered := Preview("{{a}}", "{{b}}", "", map[string]any{"a": "1", "b": "2"})
	assert.Equal(t, "1", rendered.Subject)
	assert.Equal(t, "2", rendered.HTMLBody)
	assert.Equal(t, "", rendered.TextBody)
}
