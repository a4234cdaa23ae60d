// Package eventlog mirrors project-scoped domain events into the
// append-only audit table, so a project's history stays queryable after
// the live WebSocket stream is gone.
package eventlog

import (
	"context"

	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/events"
	"github.com/agpstudio/agp/internal/events/bus"
	"github.com/agpstudio/agp/internal/project/models"
)

// Store persists audit rows.
type Store interface {
	AppendEventLog(ctx context.Context, entry *models.EventLogEntry) error
}

// auditedSubjects lists the domain events worth keeping. High-volume
// streams (process output, raw agent output) and events persisted in
// their own tables (chat, timeline) are left out.
func auditedSubjects() []string {
	return []string{
		events.ProjectCreated,
		events.ProjectUpdated,
		events.ProjectDeleted,
		events.ProjectActivated,
		events.PlanGenerated,
		events.PlanRefined,
		events.PlanAccepted,
		events.PlanEdited,
		events.TaskStarted,
		events.TaskProgress,
		events.TaskBlocked,
		events.TaskCompleted,
		events.ContextUpdated,
		events.ContextGenerated,
		events.ArtifactCreated,
		events.ArtifactValidated,
		events.ActionStarted,
		events.ActionCompleted,
		events.ErrorRaised,
	}
}

// Recorder subscribes to the audited subjects and appends one row per
// event that names a project. Write failures are logged and swallowed;
// the audit trail must never break the publishing service.
type Recorder struct {
	store         Store
	subscriptions []bus.Subscription
	logger        *logger.Logger
}

// RegisterRecorder wires the recorder onto the bus. Subscriptions are
// dropped when ctx ends.
func RegisterRecorder(ctx context.Context, eventBus bus.EventBus, store Store, log *logger.Logger) *Recorder {
	r := &Recorder{
		store:  store,
		logger: log.WithFields(zap.String("component", "event-log")),
	}
	if eventBus == nil {
		return r
	}

	for _, subject := range auditedSubjects() {
		sub, err := eventBus.Subscribe(subject, r.handle)
		if err != nil {
			r.logger.Error("failed to subscribe for audit",
				zap.String("subject", subject), zap.Error(err))
			continue
		}
		r.subscriptions = append(r.subscriptions, sub)
	}

	go func() {
		<-ctx.Done()
		r.Close()
	}()

	return r
}

// Close drops all bus subscriptions.
func (r *Recorder) Close() {
	for _, sub := range r.subscriptions {
		if sub != nil && sub.IsValid() {
			_ = sub.Unsubscribe()
		}
	}
	r.subscriptions = nil
}

func (r *Recorder) handle(ctx context.Context, event *bus.Event) error {
	payload, _ := event.Data.(map[string]interface{})
	projectID, _ := payload["projectId"].(string)
	if projectID == "" {
		// The audit table is queried per project; an event that names
		// no project has nowhere to land.
		r.logger.Debug("skipping audit row without project",
			zap.String("event", event.Type))
		return nil
	}

	entry := &models.EventLogEntry{
		ProjectID: projectID,
		EventType: event.Type,
		Payload:   payload,
		CreatedAt: event.Timestamp,
	}
	if err := r.store.AppendEventLog(ctx, entry); err != nil {
		r.logger.Error("failed to append audit row",
			zap.String("event", event.Type),
			zap.String("project_id", projectID),
			zap.Error(err))
	}
	return nil
}
