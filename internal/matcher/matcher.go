package matcher

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/vhvplatform/go-notification-dispatch/internal/domain"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/logger"
)

// RuleSource provides the enabled rules for an organization and event.
type RuleSource interface {
	FindEnabledByEvent(ctx context.Context, orgID string, event domain.EventType) ([]*domain.NotificationRule, error)
}

// Matcher selects the rules whose conditions hold for an incoming event.
type Matcher struct {
	rules RuleSource
	log   *logger.Logger
}

// NewMatcher creates a new rule matcher.
func NewMatcher(rules RuleSource, log *logger.Logger) *Matcher {
	return &Matcher{rules: rules, log: log}
}

// FindMatchingRules returns the enabled rules for (orgID, event) whose
// conditions all evaluate true against the payload, ordered by ascending
// priority.
func (m *Matcher) FindMatchingRules(ctx context.Context, orgID string, event domain.EventType, payload map[string]any) ([]*domain.NotificationRule, error) {
	rules, err := m.rules.FindEnabledByEvent(ctx, orgID, event)
	if err != nil {
		return nil, err
	}

	matched := make([]*domain.NotificationRule, 0, len(rules))
	for _, rule := range rules {
		if Matches(rule, payload) {
			matched = append(matched, rule)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority < matched[j].Priority
	})

	m.log.Debug("Rule matching complete", "org_id", orgID, "event", event, "candidates", len(rules), "matched", len(matched))
	return matched, nil
}

// Matches reports whether every condition on the rule evaluates true against
// the payload. A rule with no conditions always matches its event.
func Matches(rule *domain.NotificationRule, payload map[string]any) bool {
	for _, cond := range rule.Conditions {
		if !Evaluate(cond, payload) {
			return false
		}
	}
	return true
}

// Evaluate applies a single condition. Unknown operators and unresolvable
// paths never panic; unknown operators fail closed.
func Evaluate(cond domain.Condition, payload map[string]any) bool {
	actual, found := LookupPath(payload, cond.Field)

	switch cond.Operator {
	case domain.OperatorEquals:
		return found && coerceEqual(actual, cond.Value)
	case domain.OperatorNotEquals:
		return !found || !coerceEqual(actual, cond.Value)
	case domain.OperatorContains:
		return found && strings.Contains(coerceString(actual), coerceString(cond.Value))
	case domain.OperatorNotContains:
		return !found || !strings.Contains(coerceString(actual), coerceString(cond.Value))
	case domain.OperatorGreaterThan:
		a, aok := coerceFloat(actual)
		b, bok := coerceFloat(cond.Value)
		return found && aok && bok && a > b
	case domain.OperatorLessThan:
		a, aok := coerceFloat(actual)
		b, bok := coerceFloat(cond.Value)
		return found && aok && bok && a < b
	case domain.OperatorIsEmpty:
		return !found || isEmptyValue(actual)
	case domain.OperatorIsNotEmpty:
		return found && !isEmptyValue(actual)
	case domain.OperatorIn:
		return found && inList(actual, cond.Value)
	case domain.OperatorNotIn:
		return !found || !inList(actual, cond.Value)
	default:
		return false
	}
}

// LookupPath resolves a dot-path through nested maps. Array indexing is not
// supported.
func LookupPath(payload map[string]any, path string) (any, bool) {
	if path == "" || payload == nil {
		return nil, false
	}

	var current any = payload
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

func coerceEqual(a, b any) bool {
	if af, aok := coerceFloat(a); aok {
		if bf, bok := coerceFloat(b); bok {
			return af == bf
		}
	}
	return coerceString(a) == coerceString(b)
}

func coerceString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

func coerceFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// isEmptyValue mirrors a falsy/empty-collection test: nil, empty string,
// zero, false and zero-length collections are empty.
func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case float64:
		return t == 0
	case int:
		return t == 0
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

// inList expects the condition value to be a literal array and tests
// membership after coercion.
func inList(actual, expected any) bool {
	var list []any
	switch t := expected.(type) {
	case []any:
		list = t
	case []string:
		list = make([]any, len(t))
		for i, s := range t {
			list[i] = s
		}
	default:
		return false
	}

	for _, item := range list {
		if coerceEqual(actual, item) {
			return true
		}
	}
	return false
}
