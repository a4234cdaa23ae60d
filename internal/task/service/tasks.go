package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/common/apperr"
	"github.com/agpstudio/agp/internal/events"
	"github.com/agpstudio/agp/internal/events/bus"
	"github.com/agpstudio/agp/internal/project/models"
)

// CompleteResult reports what a completion set in motion.
type CompleteResult struct {
	Task *models.Task `json:"task"`
	// Next is the task the auto-advance started, when one was runnable.
	Next *models.Task `json:"next,omitempty"`
	// ProjectCompleted is set when this was the last open task.
	ProjectCompleted bool `json:"projectCompleted"`
}

// Get returns one task by id.
func (s *Service) Get(ctx context.Context, id string) (*models.Task, error) {
	return s.repo.GetTask(ctx, id)
}

// GetByCode returns one task by its plan code, e.g. T-003.
func (s *Service) GetByCode(ctx context.Context, projectID, code string) (*models.Task, error) {
	return s.repo.GetTaskByCode(ctx, projectID, code)
}

// List returns all tasks of a project in plan order.
func (s *Service) List(ctx context.Context, projectID string) ([]*models.Task, error) {
	return s.repo.ListTasks(ctx, projectID)
}

// NextAvailable picks the runnable pending task with the best
// (priority, story points, position) rank, or a not-found error when every
// pending task is blocked on unfinished dependencies.
func (s *Service) NextAvailable(ctx context.Context, projectID string) (*models.Task, error) {
	return s.repo.NextAvailableTask(ctx, projectID)
}

// StartTask moves a task to in_progress, points the project's current-task
// marker at it and broadcasts task.started. Starting the task that is
// already running just refreshes the marker; a finished task cannot be
// restarted.
func (s *Service) StartTask(ctx context.Context, taskID string) (*models.Task, error) {
	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status == models.TaskStatusDone {
		return nil, apperr.Conflict("task %s is already done", task.Code)
	}

	if task.Status != models.TaskStatusInProgress {
		if err := s.repo.SetTaskStatus(ctx, taskID, models.TaskStatusInProgress); err != nil {
			return nil, err
		}
		if task, err = s.repo.GetTask(ctx, taskID); err != nil {
			return nil, err
		}
	}

	if err := s.repo.SetCurrentTask(ctx, task.ProjectID, &task.ID); err != nil {
		return nil, err
	}

	s.publishTaskEvent(ctx, events.TaskStarted, task)
	s.logger.Info("task started",
		zap.String("task_id", task.ID),
		zap.String("code", task.Code),
		zap.String("project_id", task.ProjectID))
	return task, nil
}

// CompleteTask moves a task to done, clears the current-task marker,
// refreshes the working context, and auto-starts the next runnable task.
// When no open task remains the project flips to completed.
func (s *Service) CompleteTask(ctx context.Context, taskID string) (*CompleteResult, error) {
	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status == models.TaskStatusDone {
		return nil, apperr.Conflict("task %s is already done", task.Code)
	}

	if err := s.repo.SetTaskStatus(ctx, taskID, models.TaskStatusDone); err != nil {
		return nil, err
	}
	if task, err = s.repo.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	if err := s.repo.SetCurrentTask(ctx, task.ProjectID, nil); err != nil {
		return nil, err
	}

	s.publishTaskEvent(ctx, events.TaskCompleted, task)
	s.logger.Info("task completed",
		zap.String("task_id", task.ID),
		zap.String("code", task.Code),
		zap.String("project_id", task.ProjectID))

	if s.contexts != nil {
		if err := s.contexts.GenerateAfterTask(ctx, task.ProjectID, task.ID); err != nil {
			s.logger.Warn("context regeneration failed",
				zap.String("task_id", task.ID), zap.Error(err))
		}
	}

	result := &CompleteResult{Task: task}
	next, err := s.repo.NextAvailableTask(ctx, task.ProjectID)
	switch {
	case err == nil:
		started, startErr := s.StartTask(ctx, next.ID)
		if startErr != nil {
			s.logger.Warn("failed to auto-start next task",
				zap.String("task_id", next.ID), zap.Error(startErr))
		} else {
			result.Next = started
		}
	case apperr.IsKind(err, apperr.KindNotFound):
		total, done, countErr := s.repo.CountTasks(ctx, task.ProjectID)
		if countErr != nil {
			s.logger.Warn("failed to count tasks", zap.Error(countErr))
			break
		}
		if total > 0 && total == done {
			if err := s.repo.SetProjectStatus(ctx, task.ProjectID, models.ProjectStatusCompleted); err != nil {
				s.logger.Warn("failed to mark project completed", zap.Error(err))
				break
			}
			result.ProjectCompleted = true
			s.publishProjectStatus(ctx, events.ProjectUpdated, task.ProjectID, models.ProjectStatusCompleted)
			s.logger.Info("project completed", zap.String("project_id", task.ProjectID))
		}
	default:
		s.logger.Warn("failed to pick next task", zap.Error(err))
	}

	return result, nil
}

// BlockTask parks a task and broadcasts task.blocked. The reason lands in
// the event payload only; the row keeps no free-text column for it.
func (s *Service) BlockTask(ctx context.Context, taskID, reason string) (*models.Task, error) {
	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status == models.TaskStatusDone {
		return nil, apperr.Conflict("task %s is already done", task.Code)
	}

	if err := s.repo.SetTaskStatus(ctx, taskID, models.TaskStatusBlocked); err != nil {
		return nil, err
	}
	task.Status = models.TaskStatusBlocked

	if s.eventBus != nil {
		data := map[string]interface{}{
			"taskId":    task.ID,
			"projectId": task.ProjectID,
			"code":      task.Code,
			"status":    string(task.Status),
		}
		if reason != "" {
			data["reason"] = reason
		}
		_ = s.eventBus.Publish(ctx, events.TaskBlocked, bus.NewEvent(events.TaskBlocked, "task-service", data))
	}
	return task, nil
}

// UnblockTask returns a blocked task to pending.
func (s *Service) UnblockTask(ctx context.Context, taskID string) (*models.Task, error) {
	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskStatusBlocked {
		return nil, apperr.Conflict("task %s is not blocked", task.Code)
	}

	if err := s.repo.SetTaskStatus(ctx, taskID, models.TaskStatusPending); err != nil {
		return nil, err
	}
	task.Status = models.TaskStatusPending
	s.publishTaskEvent(ctx, events.TaskProgress, task)
	return task, nil
}
