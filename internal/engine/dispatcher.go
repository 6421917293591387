package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vhvplatform/go-notification-dispatch/internal/domain"
	"github.com/vhvplatform/go-notification-dispatch/internal/metrics"
	"github.com/vhvplatform/go-notification-dispatch/internal/queue"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/logger"
)

// Dispatcher owns the trigger queue and the worker pool that drains it.
// Callers hand triggers in and get nothing back; this is the fire-and-forget
// boundary between the host system and the engine.
type Dispatcher struct {
	engine   *Engine
	queue    *queue.PriorityQueue
	workers  int
	capacity int
	log      *logger.Logger
	stopChan chan struct{}
}

// NewDispatcher creates a dispatcher with the given worker count and queue
// capacity. A capacity of zero means unbounded.
func NewDispatcher(engine *Engine, workers, capacity int, log *logger.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 5 // Default to 5 workers
	}

	return &Dispatcher{
		engine:   engine,
		queue:    queue.NewPriorityQueue(),
		workers:  workers,
		capacity: capacity,
		log:      log,
		stopChan: make(chan struct{}),
	}
}

// Start starts the worker pool
func (d *Dispatcher) Start() {
	d.log.Info("Starting dispatch workers", "workers", d.workers)

	for i := 0; i < d.workers; i++ {
		go d.worker(i)
	}
}

// Stop stops the worker pool
func (d *Dispatcher) Stop() {
	close(d.stopChan)
}

// worker processes triggers from the queue
func (d *Dispatcher) worker(id int) {
	d.log.Info("Starting dispatch worker", "worker_id", id)

	for {
		select {
		case <-d.stopChan:
			d.log.Info("Stopping dispatch worker", "worker_id", id)
			return
		default:
			job := d.queue.Pop() // Blocks until a job is available

			metrics.TriggerQueueSize.Set(float64(d.queue.Len()))

			d.engine.ProcessTrigger(context.Background(), job.Request)
		}
	}
}

// TriggerNotification enqueues one trigger invocation and returns
// immediately. Invalid events and a full queue are logged and dropped; the
// caller is never failed.
func (d *Dispatcher) TriggerNotification(orgID string, event domain.EventType, payload map[string]any, triggeredBy string) {
	if orgID == "" || !event.Valid() {
		d.log.Warn("Dropping trigger with invalid org or event", "org_id", orgID, "event", event)
		return
	}

	if d.capacity > 0 && d.queue.Len() >= d.capacity {
		metrics.DroppedTriggers.Inc()
		d.log.Warn("Trigger queue full, dropping trigger", "org_id", orgID, "event", event, "capacity", d.capacity)
		return
	}

	d.queue.Push(&queue.TriggerJob{
		ID:       uuid.New().String(),
		Priority: queue.PriorityForEvent(event),
		Request: &domain.TriggerRequest{
			OrgID:       orgID,
			Event:       event,
			Payload:     payload,
			TriggeredBy: triggeredBy,
			Timestamp:   time.Now(),
		},
		EnqueuedAt: time.Now(),
	})

	metrics.TriggerQueueSize.Set(float64(d.queue.Len()))
}

// QueueSize returns the current queue size
func (d *Dispatcher) QueueSize() int {
	return d.queue.Len()
}
