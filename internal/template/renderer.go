package template

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/vhvplatform/go-notification-dispatch/internal/domain"
	apperrors "github.com/vhvplatform/go-notification-dispatch/internal/shared/errors"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/logger"
)

var (
	placeholderRe = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}`)
	pathRe        = regexp.MustCompile(`^[A-Za-z0-9_$][A-Za-z0-9_$-]*(\.[A-Za-z0-9_$][A-Za-z0-9_$-]*)*$`)
)

// Rendered is the outcome of substituting variables into a template.
type Rendered struct {
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
	TextBody string `json:"text_body,omitempty"`
}

// FieldError is one syntax problem in one template field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult collects the syntax errors of all three template fields.
type ValidationResult struct {
	Valid  bool         `json:"valid"`
	Errors []FieldError `json:"errors,omitempty"`
}

// UsageRecorder persists the usage side effect of a stateful render.
type UsageRecorder interface {
	IncrementUsage(ctx context.Context, templateID string) error
}

// Renderer compiles templates using the {{dot.path}} substitution grammar.
type Renderer struct {
	usage UsageRecorder
	log   *logger.Logger
}

// NewRenderer creates a new template renderer.
func NewRenderer(usage UsageRecorder, log *logger.Logger) *Renderer {
	return &Renderer{usage: usage, log: log}
}

// Render substitutes variables into the template's subject and bodies and
// records the usage side effect. Callers that only want a syntax-checked
// preview must use Preview instead.
func (r *Renderer) Render(ctx context.Context, tmpl *domain.NotificationTemplate, variables map[string]any) (*Rendered, error) {
	result := Validate(tmpl.Subject, tmpl.HTMLBody, tmpl.TextBody)
	if !result.Valid {
		return nil, apperrors.NewTemplateRenderError(
			fmt.Sprintf("template %s has %d syntax errors", tmpl.ID.Hex(), len(result.Errors)), nil)
	}

	rendered := Preview(tmpl.Subject, tmpl.HTMLBody, tmpl.TextBody, variables)

	if err := r.usage.IncrementUsage(ctx, tmpl.ID.Hex()); err != nil {
		// Usage accounting must not fail a send.
		r.log.Warn("Failed to record template usage", "error", err, "template_id", tmpl.ID.Hex())
	}

	return rendered, nil
}

// Preview substitutes variables without any side effect. Missing variable
// paths render as empty strings.
func Preview(subject, htmlBody, textBody string, variables map[string]any) *Rendered {
	return &Rendered{
		Subject:  RenderString(subject, variables),
		HTMLBody: RenderString(htmlBody, variables),
		TextBody: RenderString(textBody, variables),
	}
}

// RenderString replaces every {{dot.path}} placeholder in s with the value
// looked up in variables, or an empty string when the path is missing.
func RenderString(s string, variables map[string]any) string {
	return placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		inner := strings.TrimSpace(match[2 : len(match)-2])
		value, ok := lookupPath(variables, inner)
		if !ok {
			return ""
		}
		return stringify(value)
	})
}

// Validate compiles subject, HTML body and text body independently and
// collects per-field syntax errors without stopping at the first failure.
func Validate(subject, htmlBody, textBody string) *ValidationResult {
	result := &ValidationResult{Valid: true}

	fields := []struct {
		name  string
		value string
	}{
		{"subject", subject},
		{"html_body", htmlBody},
		{"text_body", textBody},
	}

	for _, f := range fields {
		for _, msg := range compile(f.value) {
			result.Valid = false
			result.Errors = append(result.Errors, FieldError{Field: f.name, Message: msg})
		}
	}

	return result
}

// compile scans one template string and returns its syntax errors.
func compile(s string) []string {
	var errs []string

	rest := s
	for {
		open := strings.Index(rest, "{{")
		closeIdx := strings.Index(rest, "}}")

		if open == -1 && closeIdx == -1 {
			break
		}
		if open == -1 || (closeIdx != -1 && closeIdx < open) {
			errs = append(errs, "unexpected '}}' without a matching '{{'")
			rest = rest[closeIdx+2:]
			continue
		}
		if closeIdx == -1 {
			errs = append(errs, "unclosed placeholder: missing '}}'")
			break
		}

		inner := strings.TrimSpace(rest[open+2 : closeIdx])
		if inner == "" {
			errs = append(errs, "empty placeholder")
		} else if strings.Contains(inner, "{{") {
			errs = append(errs, "nested placeholder is not allowed")
		} else if !pathRe.MatchString(inner) {
			errs = append(errs, fmt.Sprintf("invalid variable path %q", inner))
		}
		rest = rest[closeIdx+2:]
	}

	return errs
}

func lookupPath(variables map[string]any, path string) (any, bool) {
	if path == "" || variables == nil {
		return nil, false
	}

	var current any = variables
	for _, segment := range strings.Split(path, ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprintf("%v", t)
	}
}
