package queue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/vhvplatform/go-notification-dispatch/internal/domain"
)

// Priority represents the priority level of a trigger job
type Priority int

const (
	// PriorityHigh for urgent events (SLA breaches)
	PriorityHigh Priority = iota
	// PriorityNormal for lifecycle events
	PriorityNormal
	// PriorityLow for chatter events (comments, field updates)
	PriorityLow
)

// PriorityForEvent maps an event type onto a queue priority.
func PriorityForEvent(event domain.EventType) Priority {
	switch event {
	case domain.EventSLABreached:
		return PriorityHigh
	case domain.EventTicketCommentAdded, domain.EventTicketUpdated:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// TriggerJob represents a pending trigger in the queue
type TriggerJob struct {
	ID         string
	Priority   Priority
	Request    *domain.TriggerRequest
	EnqueuedAt time.Time
	Index      int // Index in the heap
}

// triggerJobHeap implements heap.Interface
type triggerJobHeap []*TriggerJob

func (h triggerJobHeap) Len() int { return len(h) }

func (h triggerJobHeap) Less(i, j int) bool {
	// Lower priority value = higher priority (processed first)
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].EnqueuedAt.Before(h[j].EnqueuedAt)
}

func (h triggerJobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].Index = i
	h[j].Index = j
}

func (h *triggerJobHeap) Push(x interface{}) {
	n := len(*h)
	job := x.(*TriggerJob)
	job.Index = n
	*h = append(*h, job)
}

func (h *triggerJobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil // Avoid memory leak
	job.Index = -1
	*h = old[0 : n-1]
	return job
}

// PriorityQueue is a thread-safe priority queue for trigger jobs
type PriorityQueue struct {
	jobs triggerJobHeap
	mu   sync.Mutex
	cond *sync.Cond
}

// NewPriorityQueue creates a new priority queue
func NewPriorityQueue() *PriorityQueue {
	pq := &PriorityQueue{
		jobs: make(triggerJobHeap, 0),
	}
	pq.cond = sync.NewCond(&pq.mu)
	heap.Init(&pq.jobs)
	return pq
}

// Push adds a job to the queue
func (pq *PriorityQueue) Push(job *TriggerJob) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	heap.Push(&pq.jobs, job)
	pq.cond.Signal() // Wake up a waiting worker
}

// Pop removes and returns the highest priority job.
// Blocks if the queue is empty.
func (pq *PriorityQueue) Pop() *TriggerJob {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	for pq.jobs.Len() == 0 {
		pq.cond.Wait()
	}

	return heap.Pop(&pq.jobs).(*TriggerJob)
}

// TryPop tries to pop a job without blocking.
// Returns nil if the queue is empty.
func (pq *PriorityQueue) TryPop() *TriggerJob {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if pq.jobs.Len() == 0 {
		return nil
	}

	return heap.Pop(&pq.jobs).(*TriggerJob)
}

// Len returns the number of jobs in the queue
func (pq *PriorityQueue) Len() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return pq.jobs.Len()
}

// IsEmpty returns true if the queue is empty
func (pq *PriorityQueue) IsEmpty() bool {
	return pq.Len() == 0
}
