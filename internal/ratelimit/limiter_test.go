package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vhvplatform/go-notification-dispatch/internal/domain"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/logger"
)

type memoryStateStore struct {
	mu     sync.Mutex
	states map[string]*domain.RateLimitState
}

func newMemoryStateStore() *memoryStateStore {
	return &memoryStateStore{states: make(map[string]*domain.RateLimitState)}
}

func (s *memoryStateStore) Load(ctx context.Context, orgID string) (*domain.RateLimitState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[orgID]
	if !ok {
		return nil, nil
	}
	copied := *state
	return &copied, nil
}

func (s *memoryStateStore) Save(ctx context.Context, state *domain.RateLimitState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *state
	s.states[state.OrgID] = &copied
	return nil
}

func (s *memoryStateStore) IncrementCounters(ctx context.Context, orgID string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[orgID]
	if !ok {
		state = &domain.RateLimitState{OrgID: orgID}
		s.states[orgID] = state
	}
	state.CurrentHourCount += n
	state.CurrentDayCount += n
	return nil
}

func TestCheckAllowsBelowCaps(t *testing.T) {
	store := newMemoryStateStore()
	limiter := NewLimiter(store, logger.NewNop())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, limiter.Increment(ctx, "org-1", 1))
	}

	decision, err := limiter.CheckAndMaybeReset(ctx, "org-1", 5, 50)
	require.NoError(t, err)
	assert.True(t, decision.CanSend)
	assert.Equal(t, 1, decision.HourlyRemaining)
	assert.Equal(t, 46, decision.DailyRemaining)
}

func TestCheckDeniesAtHourlyCap(t *testing.T) {
	store := newMemoryStateStore()
	limiter := NewLimiter(store, logger.NewNop())
	ctx := context.Background()

	require.NoError(t, limiter.Increment(ctx, "org-1", 5))

	decision, err := limiter.CheckAndMaybeReset(ctx, "org-1", 5, 50)
	require.NoError(t, err)
	assert.False(t, decision.CanSend)
	assert.Equal(t, 0, decision.HourlyRemaining)
}

func TestCheckResetsElapsedHourWindow(t *testing.T) {
	store := newMemoryStateStore()
	limiter := NewLimiter(store, logger.NewNop())
	ctx := context.Background()

	// Seed an exhausted hourly window that rolled over 61 minutes ago; the
	// daily window is still current.
	now := time.Now()
	require.NoError(t, store.Save(ctx, &domain.RateLimitState{
		OrgID:            "org-1",
		CurrentHourCount: 99,
		CurrentDayCount:  10,
		LastResetHour:    now.Add(-61 * time.Minute),
		LastResetDay:     now.Add(-2 * time.Hour),
	}))

	decision, err := limiter.CheckAndMaybeReset(ctx, "org-1", 5, 50)
	require.NoError(t, err)

	// The reset is applied before the capacity comparison, so the exhausted
	// hourly counter no longer denies.
	assert.True(t, decision.CanSend)
	assert.Equal(t, 5, decision.HourlyRemaining)
	assert.Equal(t, 40, decision.DailyRemaining)

	persisted, err := store.Load(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, 0, persisted.CurrentHourCount)
	assert.Equal(t, 10, persisted.CurrentDayCount)
	assert.WithinDuration(t, now, persisted.LastResetHour, time.Minute)
}

func TestCheckDailyCapOutlivesHourlyReset(t *testing.T) {
	store := newMemoryStateStore()
	limiter := NewLimiter(store, logger.NewNop())
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, store.Save(ctx, &domain.RateLimitState{
		OrgID:            "org-1",
		CurrentHourCount: 99,
		CurrentDayCount:  50,
		LastResetHour:    now.Add(-2 * time.Hour),
		LastResetDay:     now.Add(-3 * time.Hour),
	}))

	decision, err := limiter.CheckAndMaybeReset(ctx, "org-1", 5, 50)
	require.NoError(t, err)

	// After the hourly reset, the verdict depends only on the daily counter.
	assert.False(t, decision.CanSend)
	assert.Equal(t, 0, decision.DailyRemaining)
}

func TestReserveConsumesOneUnit(t *testing.T) {
	store := newMemoryStateStore()
	limiter := NewLimiter(store, logger.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		decision, err := limiter.Reserve(ctx, "org-1", 3, 50)
		require.NoError(t, err)
		assert.True(t, decision.CanSend)
	}

	decision, err := limiter.Reserve(ctx, "org-1", 3, 50)
	require.NoError(t, err)
	assert.False(t, decision.CanSend)

	persisted, err := store.Load(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, 3, persisted.CurrentHourCount)
	assert.Equal(t, 3, persisted.CurrentDayCount)
}

func TestReserveSerializesConcurrentCallers(t *testing.T) {
	store := newMemoryStateStore()
	limiter := NewLimiter(store, logger.NewNop())
	ctx := context.Background()

	const callers = 20
	allowed := make(chan bool, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := limiter.Reserve(ctx, "org-1", 5, 100)
			if err != nil {
				allowed <- false
				return
			}
			allowed <- decision.CanSend
		}()
	}
	wg.Wait()
	close(allowed)

	granted := 0
	for ok := range allowed {
		if ok {
			granted++
		}
	}
	assert.Equal(t, 5, granted, "exactly the hourly cap may be reserved")
}
