package contextsvc

import (
	"context"

	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/events/bus"
	"github.com/agpstudio/agp/internal/project/models"
)

// Repo is the slice of the storage layer the context service needs.
type Repo interface {
	CreateContext(ctx context.Context, c *models.Context) error
	GetContext(ctx context.Context, id string) (*models.Context, error)
	GetActiveContext(ctx context.Context, projectID string, scope models.ContextScope, taskID string) (*models.Context, error)
	ActivateContext(ctx context.Context, id string) error
	ListContexts(ctx context.Context, projectID string) ([]*models.Context, error)
	GetProject(ctx context.Context, id string) (*models.Project, error)
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListTasks(ctx context.Context, projectID string) ([]*models.Task, error)
}

// OneShotAsker runs a single out-of-session prompt against an agent CLI.
// Satisfied by a thin wrapper over the session manager's AskOneShot.
type OneShotAsker interface {
	Ask(ctx context.Context, projectID, projectDir, prompt string) (string, error)
}

// Service maintains the versioned working-context documents of a project:
// DB rows, the JSON snapshots under the project directory, and the prompt
// prefix handed to agent sessions.
type Service struct {
	repo     Repo
	eventBus bus.EventBus
	logger   *logger.Logger
	rootDir  string

	asker OneShotAsker
}

// NewService creates a context service. rootDir is the projects root used
// to resolve snapshot paths.
func NewService(repo Repo, eventBus bus.EventBus, log *logger.Logger, rootDir string) *Service {
	return &Service{
		repo:     repo,
		eventBus: eventBus,
		logger:   log.WithFields(zap.String("component", "context-service")),
		rootDir:  rootDir,
	}
}

// SetAsker wires the one-shot agent used for AI context generation. Without
// one, generation always takes the heuristic path.
func (s *Service) SetAsker(asker OneShotAsker) {
	s.asker = asker
}

// publishContextEvent publishes context events to the event bus
func (s *Service) publishContextEvent(ctx context.Context, eventType string, c *models.Context) {
	if s.eventBus == nil {
		return
	}

	data := map[string]interface{}{
		"contextId": c.ID,
		"projectId": c.ProjectID,
		"scope":     string(c.Scope),
		"version":   c.Version,
		"source":    c.Source,
	}
	if c.TaskID != "" {
		data["taskId"] = c.TaskID
	}

	event := bus.NewEvent(eventType, "context-service", data)
	if err := s.eventBus.Publish(ctx, eventType, event); err != nil {
		s.logger.Warn("failed to publish context event",
			zap.String("event_type", eventType),
			zap.String("context_id", c.ID),
			zap.Error(err))
	}
}
