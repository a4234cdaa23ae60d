package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/events/bus"
	"github.com/agpstudio/agp/internal/project/models"
	"github.com/agpstudio/agp/internal/supervisor"
)

// Repo is the slice of the storage layer the project service needs.
type Repo interface {
	CreateProject(ctx context.Context, project *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	GetActiveProject(ctx context.Context) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)
	UpdateProject(ctx context.Context, project *models.Project) error
	SetActiveProject(ctx context.Context, id string) error
	DeleteProject(ctx context.Context, id string) (int64, error)
}

// Sequencer launches the external process chain for an activated project.
// Satisfied by *supervisor.Supervisor.
type Sequencer interface {
	StartSequence(ctx context.Context, projectID, projectDir string) (*supervisor.SequenceReport, error)
}

// Service owns project lifecycle: slug allocation, the on-disk skeleton,
// activation and deletion.
type Service struct {
	repo     Repo
	eventBus bus.EventBus
	logger   *logger.Logger
	rootDir  string

	sequencer Sequencer
}

// NewService creates a project service. rootDir is the directory that
// holds one subdirectory per project.
func NewService(repo Repo, eventBus bus.EventBus, log *logger.Logger, rootDir string) *Service {
	return &Service{
		repo:     repo,
		eventBus: eventBus,
		logger:   log.WithFields(zap.String("component", "project-service")),
		rootDir:  rootDir,
	}
}

// SetSequencer wires the process supervisor used during activation.
func (s *Service) SetSequencer(seq Sequencer) {
	s.sequencer = seq
}

// publishProjectEvent publishes project events to the event bus
func (s *Service) publishProjectEvent(ctx context.Context, eventType string, project *models.Project, extra map[string]interface{}) {
	if s.eventBus == nil {
		return
	}

	data := map[string]interface{}{
		"projectId": project.ID,
		"name":      project.Name,
		"path":      project.Path,
		"status":    string(project.Status),
		"active":    project.Active,
		"createdAt": project.CreatedAt.Format(time.RFC3339),
		"updatedAt": project.UpdatedAt.Format(time.RFC3339),
	}
	if project.ActivePlanID != nil {
		data["activePlanId"] = *project.ActivePlanID
	}
	if project.CurrentTaskID != nil {
		data["currentTaskId"] = *project.CurrentTaskID
	}
	for k, v := range extra {
		data[k] = v
	}

	event := bus.NewEvent(eventType, "project-service", data)
	if err := s.eventBus.Publish(ctx, eventType, event); err != nil {
		s.logger.Warn("failed to publish project event",
			zap.String("event_type", eventType),
			zap.String("project_id", project.ID),
			zap.Error(err))
	}
}
