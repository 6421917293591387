package consumer

import (
	"encoding/json"

	"github.com/vhvplatform/go-notification-dispatch/internal/domain"
	"github.com/vhvplatform/go-notification-dispatch/internal/engine"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/logger"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/rabbitmq"
)

const (
	ticketEventsExchange   = "ticket_events"
	dispatchQueue          = "notification_dispatch_queue"
	ticketEventsRoutingKey = "ticket.#"
	consumerTag            = "notification-dispatch"
)

// EventConsumer consumes host-system events from RabbitMQ and hands them to
// the dispatcher. Delivery outcomes never flow back to the publisher.
type EventConsumer struct {
	client     *rabbitmq.RabbitMQClient
	dispatcher *engine.Dispatcher
	log        *logger.Logger
}

// NewEventConsumer creates a new event consumer
func NewEventConsumer(client *rabbitmq.RabbitMQClient, dispatcher *engine.Dispatcher, log *logger.Logger) *EventConsumer {
	return &EventConsumer{
		client:     client,
		dispatcher: dispatcher,
		log:        log,
	}
}

// Start starts consuming events from RabbitMQ
func (c *EventConsumer) Start() error {
	c.log.Info("Starting event consumer", "queue", dispatchQueue)

	// Declare exchange
	if err := c.client.DeclareExchange(ticketEventsExchange, "topic"); err != nil {
		c.log.Error("Failed to declare exchange", "error", err)
		return err
	}

	// Declare queue
	if err := c.client.DeclareQueue(dispatchQueue); err != nil {
		c.log.Error("Failed to declare queue", "error", err)
		return err
	}

	// Bind queue to exchange
	if err := c.client.BindQueue(dispatchQueue, ticketEventsRoutingKey, ticketEventsExchange); err != nil {
		c.log.Error("Failed to bind queue", "error", err)
		return err
	}

	// Start consuming
	messages, err := c.client.Consume(dispatchQueue, consumerTag)
	if err != nil {
		c.log.Error("Failed to start consuming", "error", err)
		return err
	}

	// Process messages
	for msg := range messages {
		c.log.Debug("Received event message", "routing_key", msg.RoutingKey)

		var req domain.TriggerRequest
		if err := json.Unmarshal(msg.Body, &req); err != nil {
			c.log.Error("Failed to unmarshal trigger request", "error", err)
			msg.Nack(false, false) // Don't requeue invalid messages
			continue
		}

		if req.OrgID == "" || !req.Event.Valid() {
			c.log.Warn("Discarding trigger with invalid org or event", "org_id", req.OrgID, "event", req.Event)
			msg.Nack(false, false)
			continue
		}

		// Fire and forget: once enqueued, the message is done. A full queue
		// drops the trigger rather than backing up the broker.
		c.dispatcher.TriggerNotification(req.OrgID, req.Event, req.Payload, req.TriggeredBy)
		msg.Ack(false)
	}

	return nil
}
