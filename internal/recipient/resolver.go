package recipient

import (
	"context"

	"github.com/vhvplatform/go-notification-dispatch/internal/domain"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/logger"
)

// UserSource provides read access to the host system's user records.
type UserSource interface {
	FindActiveByIDs(ctx context.Context, orgID string, ids []string) ([]*domain.User, error)
	FindActiveByRoles(ctx context.Context, orgID string, roleIDs []string) ([]*domain.User, error)
}

// Resolver expands a rule's recipient specs into concrete addresses.
type Resolver struct {
	users UserSource
	log   *logger.Logger
}

// NewResolver creates a new recipient resolver.
func NewResolver(users UserSource, log *logger.Logger) *Resolver {
	return &Resolver{users: users, log: log}
}

// Resolve expands every recipient spec on the rule. User-derived entries are
// accumulated into an id set, so each user appears at most once; the
// triggering user is removed after accumulation. Literal email specs bypass
// user resolution entirely and are appended as external addresses; a
// literal address textually identical to a resolved user's email is kept,
// not deduplicated.
func (r *Resolver) Resolve(ctx context.Context, orgID string, rule *domain.NotificationRule, payload map[string]any, triggeredBy string) ([]domain.RecipientAddress, error) {
	ids := newIDSet()
	var roleIDs []string
	var literals []string

	for _, spec := range rule.Recipients {
		switch spec.Type {
		case domain.RecipientRequester:
			if id := payloadString(payload, "requesterId"); id != "" {
				ids.add(id)
			} else if id := payloadString(payload, "createdBy"); id != "" {
				ids.add(id)
			}
		case domain.RecipientAssignee:
			if id := payloadString(payload, "assignedTo"); id != "" {
				ids.add(id)
			}
		case domain.RecipientUser:
			for _, id := range spec.StringValues() {
				ids.add(id)
			}
		case domain.RecipientRole:
			roleIDs = append(roleIDs, spec.StringValues()...)
		case domain.RecipientEmail:
			literals = append(literals, spec.StringValues()...)
		default:
			r.log.Warn("Unknown recipient spec type", "type", spec.Type, "rule_id", rule.ID.Hex())
		}
	}

	if len(roleIDs) > 0 {
		holders, err := r.users.FindActiveByRoles(ctx, orgID, roleIDs)
		if err != nil {
			return nil, err
		}
		for _, u := range holders {
			ids.add(u.ID)
		}
	}

	// Self-notification suppression applies to every user-derived source,
	// including ids that arrived via role expansion.
	if triggeredBy != "" {
		ids.remove(triggeredBy)
	}

	addresses := make([]domain.RecipientAddress, 0, ids.len()+len(literals))
	if ids.len() > 0 {
		users, err := r.users.FindActiveByIDs(ctx, orgID, ids.ordered())
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			if u.Email == "" {
				continue
			}
			addresses = append(addresses, domain.RecipientAddress{UserID: u.ID, Email: u.Email})
		}
	}

	for _, email := range literals {
		addresses = append(addresses, domain.RecipientAddress{UserID: domain.ExternalUserID, Email: email})
	}

	return addresses, nil
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

// idSet is an insertion-ordered string set.
type idSet struct {
	seen  map[string]struct{}
	order []string
}

func newIDSet() *idSet {
	return &idSet{seen: make(map[string]struct{})}
}

func (s *idSet) add(id string) {
	if _, ok := s.seen[id]; ok {
		return
	}
	s.seen[id] = struct{}{}
	s.order = append(s.order, id)
}

func (s *idSet) remove(id string) {
	if _, ok := s.seen[id]; !ok {
		return
	}
	delete(s.seen, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *idSet) len() int { return len(s.order) }

func (s *idSet) ordered() []string { return s.order }
