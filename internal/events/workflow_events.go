package events

import (
	"strconv"
	"time"
)

// EventType is the routing key of a workflow event, "copy.<action>".
type EventType string

const (
	EventSource  = "copy-workflow-service"
	EventVersion = "1.0"
)

func TypeForAction(action string) EventType {
	return EventType("copy." + action)
}

// WorkflowEvent mirrors one committed audit row on the event bus.
type WorkflowEvent struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	Version   string                 `json:"version"`
	Data      AuditRecord            `json:"data"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// AuditRecord is the audit sink record shape.
type AuditRecord struct {
	Sequence   uint                   `json:"sequence"`
	CopyID     string                 `json:"copy_id"`
	ActorID    string                 `json:"actor_id"`
	Action     string                 `json:"action"`
	OccurredAt time.Time              `json:"occurred_at"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Hash       string                 `json:"hash"`
}

func NewWorkflowEvent(record AuditRecord, requestID string) *WorkflowEvent {
	event := &WorkflowEvent{
		ID:        record.CopyID + ":" + strconv.FormatUint(uint64(record.Sequence), 10),
		Type:      TypeForAction(record.Action),
		Timestamp: record.OccurredAt,
		Source:    EventSource,
		Version:   EventVersion,
		Data:      record,
	}
	if requestID != "" {
		event.Metadata = map[string]interface{}{"request_id": requestID}
	}
	return event
}
