package domain

import "time"

// EventType is the closed set of host-system events the engine dispatches
// for. Adding an event means adding a constant here plus matcher coverage,
// not a protocol change.
type EventType string

const (
	EventTicketCreated       EventType = "TICKET_CREATED"
	EventTicketUpdated       EventType = "TICKET_UPDATED"
	EventTicketAssigned      EventType = "TICKET_ASSIGNED"
	EventTicketStatusChanged EventType = "TICKET_STATUS_CHANGED"
	EventTicketCommentAdded  EventType = "TICKET_COMMENT_ADDED"
	EventTicketResolved      EventType = "TICKET_RESOLVED"
	EventTicketClosed        EventType = "TICKET_CLOSED"
	EventSLABreached         EventType = "SLA_BREACHED"
)

var knownEvents = map[EventType]struct{}{
	EventTicketCreated:       {},
	EventTicketUpdated:       {},
	EventTicketAssigned:      {},
	EventTicketStatusChanged: {},
	EventTicketCommentAdded:  {},
	EventTicketResolved:      {},
	EventTicketClosed:        {},
	EventSLABreached:         {},
}

// Valid reports whether the event belongs to the closed set.
func (e EventType) Valid() bool {
	_, ok := knownEvents[e]
	return ok
}

// TriggerRequest is the inbound shape of one trigger invocation, whether it
// arrives over HTTP or from the event exchange.
type TriggerRequest struct {
	OrgID       string         `json:"org_id"`
	Event       EventType      `json:"event"`
	Payload     map[string]any `json:"payload,omitempty"`
	TriggeredBy string         `json:"triggered_by,omitempty"`
	Timestamp   time.Time      `json:"timestamp,omitempty"`
}
