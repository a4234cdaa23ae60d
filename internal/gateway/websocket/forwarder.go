package websocket

import (
	"context"

	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/agent/session"
	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/events"
	"github.com/agpstudio/agp/internal/events/bus"
	"github.com/agpstudio/agp/internal/project/models"
	ws "github.com/agpstudio/agp/pkg/websocket"
)

// EventForwarder bridges the internal event bus into the hub. Services
// publish domain events once; the forwarder wraps them in envelopes and
// routes them to the right project room.
type EventForwarder struct {
	hub           *Hub
	subscriptions []bus.Subscription
	logger        *logger.Logger
}

// RegisterEventForwarder wires the bus subjects UI clients care about.
func RegisterEventForwarder(ctx context.Context, eventBus bus.EventBus, hub *Hub, log *logger.Logger) *EventForwarder {
	f := &EventForwarder{
		hub:    hub,
		logger: log.WithFields(zap.String("component", "ws-event-forwarder")),
	}
	if eventBus == nil {
		return f
	}

	// Per-project streams
	f.forward(eventBus, events.BuildChatMessageWildcardSubject(), ws.EventChat)
	f.forward(eventBus, events.BuildTimelineWildcardSubject(), ws.EventTimeline)
	f.forward(eventBus, events.BuildSceneWildcardSubject(), ws.EventScene)
	f.forward(eventBus, events.BuildAgentStateWildcardSubject(), ws.EventUpdate)
	f.forward(eventBus, events.BuildAgentOutputWildcardSubject(), ws.EventLog)
	f.forward(eventBus, events.ActionStarted, ws.EventAction)
	f.forward(eventBus, events.ActionCompleted, ws.EventUpdate)
	f.forward(eventBus, events.ErrorRaised, ws.EventError)

	// Plan lifecycle
	f.forward(eventBus, events.PlanGenerated, ws.EventPlanGenerated)
	f.forward(eventBus, events.PlanRefined, ws.EventPlanRefined)
	f.forward(eventBus, events.PlanAccepted, ws.EventPlanAccepted)
	f.forward(eventBus, events.PlanEdited, ws.EventPlanEdited)

	// Task lifecycle
	f.forward(eventBus, events.TaskStarted, ws.EventTaskStarted)
	f.forward(eventBus, events.TaskProgress, ws.EventTaskProgress)
	f.forward(eventBus, events.TaskBlocked, ws.EventTaskBlocked)
	f.forward(eventBus, events.TaskCompleted, ws.EventTaskCompleted)

	// Contexts and artifacts
	f.forward(eventBus, events.ContextUpdated, ws.EventContextUpdated)
	f.forward(eventBus, events.ContextGenerated, ws.EventContextGenerated)
	f.forward(eventBus, events.ArtifactCreated, ws.EventArtifactCreated)
	f.forward(eventBus, events.ArtifactValidated, ws.EventArtifactValidated)

	// Global streams go to every connected client
	f.forwardAll(eventBus, events.ProjectCreated, ws.EventProject)
	f.forwardAll(eventBus, events.ProjectUpdated, ws.EventProject)
	f.forwardAll(eventBus, events.ProjectDeleted, ws.EventProject)
	f.forwardAll(eventBus, events.ProjectActivated, ws.EventProject)
	f.forwardAll(eventBus, events.BuildProcessOutputWildcardSubject(), ws.EventLog)
	f.forwardAll(eventBus, events.BuildProcessStatusWildcardSubject(), ws.EventLog)

	go func() {
		<-ctx.Done()
		f.Close()
	}()

	return f
}

// Close drops all bus subscriptions.
func (f *EventForwarder) Close() {
	for _, sub := range f.subscriptions {
		if sub != nil && sub.IsValid() {
			_ = sub.Unsubscribe()
		}
	}
	f.subscriptions = nil
}

// forward routes a subject into the originating project's room. Events whose
// data carries no projectId fall back to a global broadcast.
func (f *EventForwarder) forward(eventBus bus.EventBus, subject string, eventType ws.EventType) {
	sub, err := eventBus.Subscribe(subject, func(ctx context.Context, event *bus.Event) error {
		projectID, correlationID := frameIDs(event)
		env, err := ws.NewCorrelatedEnvelope(eventType, projectID, correlationID, event.Data)
		if err != nil {
			f.logger.Error("failed to build envelope",
				zap.String("subject", subject), zap.Error(err))
			return nil
		}
		if projectID != "" {
			f.hub.BroadcastProject(projectID, env)
		} else {
			f.hub.BroadcastAll(env)
		}
		return nil
	})
	if err != nil {
		f.logger.Error("failed to subscribe to events",
			zap.String("subject", subject), zap.Error(err))
		return
	}
	f.subscriptions = append(f.subscriptions, sub)
}

// forwardAll routes a subject to every connected client.
func (f *EventForwarder) forwardAll(eventBus bus.EventBus, subject string, eventType ws.EventType) {
	sub, err := eventBus.Subscribe(subject, func(ctx context.Context, event *bus.Event) error {
		_, correlationID := frameIDs(event)
		env, err := ws.NewCorrelatedEnvelope(eventType, "", correlationID, event.Data)
		if err != nil {
			f.logger.Error("failed to build envelope",
				zap.String("subject", subject), zap.Error(err))
			return nil
		}
		f.hub.BroadcastAll(env)
		return nil
	})
	if err != nil {
		f.logger.Error("failed to subscribe to events",
			zap.String("subject", subject), zap.Error(err))
		return
	}
	f.subscriptions = append(f.subscriptions, sub)
}

// frameIDs pulls projectId and correlationId out of event data when present.
func frameIDs(event *bus.Event) (projectID, correlationID string) {
	switch data := event.Data.(type) {
	case map[string]interface{}:
		projectID, _ = data["projectId"].(string)
		correlationID, _ = data["correlationId"].(string)
		return projectID, correlationID
	case *models.TimelineEvent:
		return data.ProjectID, data.CorrelationID
	case *session.ChatEvent:
		if data.Message != nil {
			projectID = data.Message.ProjectID
		}
		return projectID, data.CorrelationID
	case *session.StateEvent:
		return data.ProjectID, ""
	case *session.OutputEvent:
		return data.ProjectID, ""
	default:
		return "", ""
	}
}
