package recipient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vhvplatform/go-notification-dispatch/internal/domain"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/logger"
)

type stubUserSource struct {
	users map[string]*domain.User
	roles map[string][]string // role id -> user ids
}

func (s *stubUserSource) FindActiveByIDs(ctx context.Context, orgID string, ids []string) ([]*domain.User, error) {
	var out []*domain.User
	for _, id := range ids {
		if u, ok := s.users[id]; ok && u.IsActive {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *stubUserSource) FindActiveByRoles(ctx context.Context, orgID string, roleIDs []string) ([]*domain.User, error) {
	seen := make(map[string]struct{})
	var out []*domain.User
	for _, role := range roleIDs {
		for _, id := range s.roles[role] {
			if _, dup := seen[id]; dup {
				continue
			}
			if u, ok := s.users[id]; ok && u.IsActive {
				seen[id] = struct{}{}
				out = append(out, u)
			}
		}
	}
	return out, nil
}

func fixtureUsers() *stubUserSource {
	return &stubUserSource{
		users: map[string]*domain.User{
			"user-1": {ID: "user-1", Email: "alice@example.com", IsActive: true},
			"user-2": {ID: "user-2", Email: "bob@example.com", IsActive: true},
			"user-3": {ID: "user-3", Email: "carol@example.com", IsActive: true},
			"user-4": {ID: "user-4", Email: "dan@example.com", IsActive: false},
		},
		roles: map[string][]string{
			"role-admin": {"user-2", "user-3", "user-4"},
		},
	}
}

func TestResolveDeduplicatesUserDerivedSources(t *testing.T) {
	r := NewResolver(fixtureUsers(), logger.NewNop())

	rule := &domain.NotificationRule{
		Recipients: []domain.RecipientSpec{
			{Type: domain.RecipientRequester},
			{Type: domain.RecipientAssignee},
			{Type: domain.RecipientUser, Value: []any{"user-1", "user-2"}},
			{Type: domain.RecipientRole, Value: "role-admin"},
		},
	}
	payload := map[string]any{"requesterId": "user-1", "assignedTo": "user-2"}

	addresses, err := r.Resolve(context.Background(), "org-1", rule, payload, "")
	require.NoError(t, err)

	emails := make(map[string]int)
	for _, a := range addresses {
		emails[a.Email]++
	}
	// user-1, user-2 and user-3 each appear exactly once; inactive user-4 is
	// dropped during resolution.
	assert.Equal(t, map[string]int{
		"alice@example.com": 1,
		"bob@example.com":   1,
		"carol@example.com": 1,
	}, emails)
}

func TestResolveRemovesTriggeringUser(t *testing.T) {
	r := NewResolver(fixtureUsers(), logger.NewNop())

	rule := &domain.NotificationRule{
		Recipients: []domain.RecipientSpec{
			{Type: domain.RecipientAssignee},
			{Type: domain.RecipientRole, Value: "role-admin"},
		},
	}
	payload := map[string]any{"assignedTo": "user-2"}

	addresses, err := r.Resolve(context.Background(), "org-1", rule, payload, "user-2")
	require.NoError(t, err)

	for _, a := range addresses {
		assert.NotEqual(t, "user-2", a.UserID, "triggering user must be suppressed even when resolvable via role")
	}
	require.Len(t, addresses, 1)
	assert.Equal(t, "carol@example.com", addresses[0].Email)
}

func TestResolveRequesterFallsBackToCreatedBy(t *testing.T) {
	r := NewResolver(fixtureUsers(), logger.NewNop())

	rule := &domain.NotificationRule{
		Recipients: []domain.RecipientSpec{{Type: domain.RecipientRequester}},
	}

	addresses, err := r.Resolve(context.Background(), "org-1", rule, map[string]any{"createdBy": "user-3"}, "")
	require.NoError(t, err)
	require.Len(t, addresses, 1)
	assert.Equal(t, "user-3", addresses[0].UserID)
}

func TestResolveLiteralEmailsBypassDedup(t *testing.T) {
	r := NewResolver(fixtureUsers(), logger.NewNop())

	rule := &domain.NotificationRule{
		Recipients: []domain.RecipientSpec{
			{Type: domain.RecipientUser, Value: "user-1"},
			{Type: domain.RecipientEmail, Value: []any{"alice@example.com", "ops@example.org"}},
		},
	}

	addresses, err := r.Resolve(context.Background(), "org-1", rule, nil, "")
	require.NoError(t, err)

	// The literal entry matching the resolved user's address is kept: three
	// addresses, two of them alice@example.com.
	require.Len(t, addresses, 3)
	external := 0
	for _, a := range addresses {
		if a.UserID == domain.ExternalUserID {
			external++
		}
	}
	assert.Equal(t, 2, external)
}

func TestResolveEmptySpecs(t *testing.T) {
	r := NewResolver(fixtureUsers(), logger.NewNop())

	rule := &domain.NotificationRule{
		Recipients: []domain.RecipientSpec{{Type: domain.RecipientAssignee}},
	}

	addresses, err := r.Resolve(context.Background(), "org-1", rule, map[string]any{}, "")
	require.NoError(t, err)
	assert.Empty(t, addresses)
}
