package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/vhvplatform/go-notification-dispatch/internal/domain"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/logger"
)

// Default caps applied when an organization's settings carry none.
const (
	DefaultMaxPerHour = 100
	DefaultMaxPerDay  = 1000
)

// StateStore persists per-organization rate counters.
type StateStore interface {
	// Load returns the state for orgID, or nil when none exists yet.
	Load(ctx context.Context, orgID string) (*domain.RateLimitState, error)
	// Save upserts the full state document.
	Save(ctx context.Context, state *domain.RateLimitState) error
	// IncrementCounters adds n to both window counters.
	IncrementCounters(ctx context.Context, orgID string, n int) error
}

// Limiter gatekeeps sends against rolling hourly/daily windows. All
// mutations for one organization are serialized through a per-org mutex, so
// concurrent triggers for the same organization cannot over-send.
type Limiter struct {
	store StateStore
	log   *logger.Logger

	mu    sync.RWMutex
	locks map[string]*sync.Mutex
}

// NewLimiter creates a new rate limiter over the given state store.
func NewLimiter(store StateStore, log *logger.Logger) *Limiter {
	return &Limiter{
		store: store,
		log:   log,
		locks: make(map[string]*sync.Mutex),
	}
}

func (l *Limiter) orgLock(orgID string) *sync.Mutex {
	l.mu.RLock()
	lock, exists := l.locks[orgID]
	l.mu.RUnlock()

	if !exists {
		l.mu.Lock()
		// Double-check after acquiring write lock
		lock, exists = l.locks[orgID]
		if !exists {
			lock = &sync.Mutex{}
			l.locks[orgID] = lock
		}
		l.mu.Unlock()
	}

	return lock
}

// CheckAndMaybeReset applies any due window resets, persists them, and
// reports whether a send is currently allowed. Resets are applied before the
// capacity comparison, so a rolled-over window immediately lifts an
// exhausted limit.
func (l *Limiter) CheckAndMaybeReset(ctx context.Context, orgID string, maxPerHour, maxPerDay int) (*domain.RateLimitDecision, error) {
	lock := l.orgLock(orgID)
	lock.Lock()
	defer lock.Unlock()

	return l.checkLocked(ctx, orgID, maxPerHour, maxPerDay)
}

// Increment adds n to both window counters.
func (l *Limiter) Increment(ctx context.Context, orgID string, n int) error {
	lock := l.orgLock(orgID)
	lock.Lock()
	defer lock.Unlock()

	return l.store.IncrementCounters(ctx, orgID, n)
}

// Reserve is the atomic check-then-increment used on the dispatch path: when
// the decision allows a send, one unit is consumed under the same org lock,
// so concurrent callers cannot race past the cap.
func (l *Limiter) Reserve(ctx context.Context, orgID string, maxPerHour, maxPerDay int) (*domain.RateLimitDecision, error) {
	lock := l.orgLock(orgID)
	lock.Lock()
	defer lock.Unlock()

	decision, err := l.checkLocked(ctx, orgID, maxPerHour, maxPerDay)
	if err != nil {
		return nil, err
	}
	if !decision.CanSend {
		return decision, nil
	}

	if err := l.store.IncrementCounters(ctx, orgID, 1); err != nil {
		return nil, err
	}
	decision.HourlyRemaining--
	decision.DailyRemaining--
	return decision, nil
}

func (l *Limiter) checkLocked(ctx context.Context, orgID string, maxPerHour, maxPerDay int) (*domain.RateLimitDecision, error) {
	if maxPerHour <= 0 {
		maxPerHour = DefaultMaxPerHour
	}
	if maxPerDay <= 0 {
		maxPerDay = DefaultMaxPerDay
	}

	now := time.Now()

	state, err := l.store.Load(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = &domain.RateLimitState{
			OrgID:         orgID,
			LastResetHour: now,
			LastResetDay:  now,
		}
		state.MaxPerHour = maxPerHour
		state.MaxPerDay = maxPerDay
		if err := l.store.Save(ctx, state); err != nil {
			return nil, err
		}
	}

	dirty := false
	if now.Sub(state.LastResetHour) >= time.Hour {
		state.CurrentHourCount = 0
		state.LastResetHour = now
		dirty = true
	}
	if now.Sub(state.LastResetDay) >= 24*time.Hour {
		state.CurrentDayCount = 0
		state.LastResetDay = now
		dirty = true
	}
	if state.MaxPerHour != maxPerHour || state.MaxPerDay != maxPerDay {
		state.MaxPerHour = maxPerHour
		state.MaxPerDay = maxPerDay
		dirty = true
	}
	if dirty {
		state.UpdatedAt = now
		if err := l.store.Save(ctx, state); err != nil {
			return nil, err
		}
	}

	decision := &domain.RateLimitDecision{
		CanSend:         state.CurrentHourCount < maxPerHour && state.CurrentDayCount < maxPerDay,
		HourlyRemaining: maxPerHour - state.CurrentHourCount,
		DailyRemaining:  maxPerDay - state.CurrentDayCount,
	}
	if decision.HourlyRemaining < 0 {
		decision.HourlyRemaining = 0
	}
	if decision.DailyRemaining < 0 {
		decision.DailyRemaining = 0
	}
	return decision, nil
}
