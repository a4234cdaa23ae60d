package websocket

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType classifies server-initiated envelopes pushed to UI clients.
type EventType string

const (
	EventChat     EventType = "chat"
	EventAction   EventType = "action"
	EventUpdate   EventType = "update"
	EventScene    EventType = "scene"
	EventTimeline EventType = "timeline"
	EventLog      EventType = "log"
	EventError    EventType = "error"
	EventProject  EventType = "project"

	EventPlanGenerated EventType = "plan.generated"
	EventPlanRefined   EventType = "plan.refined"
	EventPlanAccepted  EventType = "plan.accepted"
	EventPlanEdited    EventType = "plan.edited"

	EventTaskStarted   EventType = "task.started"
	EventTaskProgress  EventType = "task.progress"
	EventTaskBlocked   EventType = "task.blocked"
	EventTaskCompleted EventType = "task.completed"

	EventContextUpdated   EventType = "context.updated"
	EventContextGenerated EventType = "context.generated"

	EventArtifactCreated   EventType = "artifact.created"
	EventArtifactValidated EventType = "artifact.validated"
)

// Envelope is the frame for every server-initiated event. Request/response
// traffic uses Message; everything pushed from the backend (chat deltas,
// timeline rows, scene snapshots, plan and task transitions) is an Envelope.
type Envelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	ProjectID     string          `json:"projectId,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// NewEnvelope creates an envelope with a fresh id and current timestamp.
func NewEnvelope(eventType EventType, projectID string, payload interface{}) (*Envelope, error) {
	return NewCorrelatedEnvelope(eventType, projectID, "", payload)
}

// NewCorrelatedEnvelope creates an envelope carrying the correlation id that
// ties it back to the originating chat turn or plan run.
func NewCorrelatedEnvelope(eventType EventType, projectID, correlationID string, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:            uuid.New().String(),
		Type:          eventType,
		ProjectID:     projectID,
		Payload:       data,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// ParsePayload parses the payload into the given struct
func (e *Envelope) ParsePayload(v interface{}) error {
	if e.Payload == nil {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// Encode serializes the envelope for the wire.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
