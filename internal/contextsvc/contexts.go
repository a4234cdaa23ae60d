package contextsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/common/apperr"
	"github.com/agpstudio/agp/internal/events"
	"github.com/agpstudio/agp/internal/project/models"
)

// SaveContextRequest contains the data for a manually authored context
// version.
type SaveContextRequest struct {
	ProjectID string                 `json:"projectId"`
	Scope     models.ContextScope    `json:"scope,omitempty"`
	TaskID    string                 `json:"taskId,omitempty"`
	Content   map[string]interface{} `json:"content"`
	CreatedBy string                 `json:"createdBy,omitempty"`
}

// List returns all context versions of a project, newest first.
func (s *Service) List(ctx context.Context, projectID string) ([]*models.Context, error) {
	return s.repo.ListContexts(ctx, projectID)
}

// Get returns one context version by id.
func (s *Service) Get(ctx context.Context, id string) (*models.Context, error) {
	return s.repo.GetContext(ctx, id)
}

// GetActive returns the active context of a scope.
func (s *Service) GetActive(ctx context.Context, projectID string, scope models.ContextScope, taskID string) (*models.Context, error) {
	return s.repo.GetActiveContext(ctx, projectID, scope, taskID)
}

// Save stores a user-edited context document as the next active version
// of its scope.
func (s *Service) Save(ctx context.Context, req *SaveContextRequest) (*models.Context, error) {
	if req.ProjectID == "" {
		return nil, apperr.SchemaViolation("context needs a project id")
	}
	if len(req.Content) == 0 {
		return nil, apperr.SchemaViolation("context content cannot be empty")
	}
	project, err := s.repo.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}

	scope := req.Scope
	if scope == "" {
		scope = models.ContextScopeGlobal
	}
	version, err := s.nextVersion(ctx, req.ProjectID, scope, req.TaskID)
	if err != nil {
		return nil, err
	}

	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = "user"
	}
	row := &models.Context{
		ProjectID: req.ProjectID,
		Scope:     scope,
		TaskID:    req.TaskID,
		Content:   req.Content,
		Version:   version,
		IsActive:  true,
		CreatedBy: createdBy,
		Source:    "manual",
	}
	if err := s.repo.CreateContext(ctx, row); err != nil {
		return nil, err
	}

	if err := s.writeSnapshots(project.Path, row); err != nil {
		s.logger.Warn("failed to write context snapshot",
			zap.String("context_id", row.ID), zap.Error(err))
	}

	s.publishContextEvent(ctx, events.ContextUpdated, row)
	return row, nil
}

// Rollback makes an older context version the active one again and
// refreshes the active snapshot from it.
func (s *Service) Rollback(ctx context.Context, id string) (*models.Context, error) {
	if err := s.repo.ActivateContext(ctx, id); err != nil {
		return nil, err
	}
	row, err := s.repo.GetContext(ctx, id)
	if err != nil {
		return nil, err
	}
	project, err := s.repo.GetProject(ctx, row.ProjectID)
	if err != nil {
		return nil, err
	}

	if err := s.writeSnapshots(project.Path, row); err != nil {
		s.logger.Warn("failed to write context snapshot",
			zap.String("context_id", row.ID), zap.Error(err))
	}

	s.publishContextEvent(ctx, events.ContextUpdated, row)
	return row, nil
}

func (s *Service) projectDir(project *models.Project) string {
	return filepath.Join(s.rootDir, project.Path)
}

// nextVersion computes max(version)+1 within a scope. The active version
// is not necessarily the highest after a rollback, so the whole history
// is consulted.
func (s *Service) nextVersion(ctx context.Context, projectID string, scope models.ContextScope, taskID string) (int, error) {
	if scope == models.ContextScopeGlobal {
		taskID = ""
	}
	rows, err := s.repo.ListContexts(ctx, projectID)
	if err != nil {
		return 0, err
	}
	max := 0
	for _, row := range rows {
		if row.Scope == scope && row.TaskID == taskID && row.Version > max {
			max = row.Version
		}
	}
	return max + 1, nil
}

// writeSnapshots persists the context document under the project's
// context/ directory: the active file for the global scope plus a
// versioned history copy for every scope.
func (s *Service) writeSnapshots(projectPath string, c *models.Context) error {
	base := filepath.Join(s.rootDir, projectPath, "context")
	if err := os.MkdirAll(filepath.Join(base, "history"), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c.Content, "", "  ")
	if err != nil {
		return err
	}

	history := fmt.Sprintf("context_v%d.json", c.Version)
	if c.Scope == models.ContextScopeTask {
		history = fmt.Sprintf("task_%s_v%d.json", c.TaskID, c.Version)
	}
	if err := os.WriteFile(filepath.Join(base, "history", history), data, 0o644); err != nil {
		return err
	}

	if c.Scope == models.ContextScopeGlobal && c.IsActive {
		return os.WriteFile(filepath.Join(base, "active_context.json"), data, 0o644)
	}
	return nil
}
