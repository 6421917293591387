package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vhvplatform/go-notification-dispatch/internal/domain"
)

func TestPriorityQueueOrdersByPriority(t *testing.T) {
	pq := NewPriorityQueue()

	pq.Push(&TriggerJob{ID: "low", Priority: PriorityLow, EnqueuedAt: time.Now()})
	pq.Push(&TriggerJob{ID: "high", Priority: PriorityHigh, EnqueuedAt: time.Now()})
	pq.Push(&TriggerJob{ID: "normal", Priority: PriorityNormal, EnqueuedAt: time.Now()})

	assert.Equal(t, "high", pq.Pop().ID)
	assert.Equal(t, "normal", pq.Pop().ID)
	assert.Equal(t, "low", pq.Pop().ID)
}

func TestPriorityQueueFIFOWithinPriority(t *testing.T) {
	pq := NewPriorityQueue()

	base := time.Now()
	pq.Push(&TriggerJob{ID: "first", Priority: PriorityNormal, EnqueuedAt: base})
	pq.Push(&TriggerJob{ID: "second", Priority: PriorityNormal, EnqueuedAt: base.Add(time.Millisecond)})
	pq.Push(&TriggerJob{ID: "third", Priority: PriorityNormal, EnqueuedAt: base.Add(2 * time.Millisecond)})

	assert.Equal(t, "first", pq.Pop().ID)
	assert.Equal(t, "second", pq.Pop().ID)
	assert.Equal(t, "third", pq.Pop().ID)
}

func TestTryPopEmptyReturnsNil(t *testing.T) {
	pq := NewPriorityQueue()
	assert.Nil(t, pq.TryPop())
	assert.True(t, pq.IsEmpty())

	pq.Push(&TriggerJob{ID: "one", Priority: PriorityNormal, EnqueuedAt: time.Now()})
	job := pq.TryPop()
	require.NotNil(t, job)
	assert.Equal(t, "one", job.ID)
}

func TestPriorityForEvent(t *testing.T) {
	assert.Equal(t, PriorityHigh, PriorityForEvent(domain.EventSLABreached))
	assert.Equal(t, PriorityLow, PriorityForEvent(domain.EventTicketCommentAdded))
	assert.Equal(t, PriorityLow, PriorityForEvent(domain.EventTicketUpdated))
	assert.Equal(t, PriorityNormal, PriorityForEvent(domain.EventTicketCreated))
	assert.Equal(t, PriorityNormal, PriorityForEvent(domain.EventTicketResolved))
}
