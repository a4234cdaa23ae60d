package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/events/bus"
	"github.com/agpstudio/agp/internal/project/models"
)

// Repo is the slice of the storage layer the task service needs. The
// project methods are here because start/complete maintain the project's
// current-task marker and lifecycle status.
type Repo interface {
	GetTask(ctx context.Context, id string) (*models.Task, error)
	GetTaskByCode(ctx context.Context, projectID, code string) (*models.Task, error)
	ListTasks(ctx context.Context, projectID string) ([]*models.Task, error)
	SetTaskStatus(ctx context.Context, id string, status models.TaskStatus) error
	NextAvailableTask(ctx context.Context, projectID string) (*models.Task, error)
	CountTasks(ctx context.Context, projectID string) (total, done int, err error)
	SetCurrentTask(ctx context.Context, projectID string, taskID *string) error
	SetProjectStatus(ctx context.Context, id string, status models.ProjectStatus) error
}

// ContextRegenerator refreshes the working context after a task finishes.
// Satisfied by the context service; regeneration failures never fail the
// completing task.
type ContextRegenerator interface {
	GenerateAfterTask(ctx context.Context, projectID, taskID string) error
}

// Service drives task state transitions and the auto-advance loop.
type Service struct {
	repo     Repo
	eventBus bus.EventBus
	logger   *logger.Logger

	contexts ContextRegenerator
}

// NewService creates a task service.
func NewService(repo Repo, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		eventBus: eventBus,
		logger:   log.WithFields(zap.String("component", "task-service")),
	}
}

// SetContextRegenerator wires the context service used after completions.
func (s *Service) SetContextRegenerator(regen ContextRegenerator) {
	s.contexts = regen
}

// publishTaskEvent publishes task events to the event bus
func (s *Service) publishTaskEvent(ctx context.Context, eventType string, task *models.Task) {
	if s.eventBus == nil {
		return
	}

	data := map[string]interface{}{
		"taskId":    task.ID,
		"projectId": task.ProjectID,
		"code":      task.Code,
		"title":     task.Title,
		"status":    string(task.Status),
		"priority":  task.Priority,
	}
	if task.StartedAt != nil {
		data["startedAt"] = task.StartedAt.Format(time.RFC3339)
	}
	if task.CompletedAt != nil {
		data["completedAt"] = task.CompletedAt.Format(time.RFC3339)
	}

	event := bus.NewEvent(eventType, "task-service", data)
	if err := s.eventBus.Publish(ctx, eventType, event); err != nil {
		s.logger.Warn("failed to publish task event",
			zap.String("event_type", eventType),
			zap.String("task_id", task.ID),
			zap.Error(err))
	}
}

// publishProjectStatus announces a lifecycle change made on the project's
// behalf, such as flipping to completed when the last task is done.
func (s *Service) publishProjectStatus(ctx context.Context, eventType, projectID string, status models.ProjectStatus) {
	if s.eventBus == nil {
		return
	}
	data := map[string]interface{}{
		"projectId": projectID,
		"status":    string(status),
	}
	event := bus.NewEvent(eventType, "task-service", data)
	if err := s.eventBus.Publish(ctx, eventType, event); err != nil {
		s.logger.Warn("failed to publish project status event",
			zap.String("project_id", projectID), zap.Error(err))
	}
}
