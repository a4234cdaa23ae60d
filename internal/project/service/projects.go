package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/common/apperr"
	"github.com/agpstudio/agp/internal/events"
	"github.com/agpstudio/agp/internal/project/models"
	"github.com/agpstudio/agp/internal/supervisor"
)

// maxSlugProbes bounds the collision suffix search. Hitting it means a
// hundred projects share one base name.
const maxSlugProbes = 100

// skeletonDirs are created under every new project directory.
var skeletonDirs = []string{".agp", "context", "logs", "artifacts"}

// reservedSlugs are ids the HTTP surface claims for itself, so no
// project may own them.
var reservedSlugs = map[string]bool{"active": true}

// CreateProjectRequest contains the data for creating a new project
type CreateProjectRequest struct {
	Name string `json:"name"`
}

// ActivateResult couples the flipped project row with the outcome of the
// supervisor start sequence, when one is wired.
type ActivateResult struct {
	Project  *models.Project            `json:"project"`
	Sequence *supervisor.SequenceReport `json:"sequence,omitempty"`
}

// Create allocates a slug id, lays down the disk skeleton and inserts the
// DB row. A freshly created directory is removed again when the insert
// fails, so disk and DB stay in step.
func (s *Service) Create(ctx context.Context, req *CreateProjectRequest) (*models.Project, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.SchemaViolation("project name is required")
	}

	slug, err := s.allocateSlug(ctx, slugify(name))
	if err != nil {
		return nil, err
	}

	project := &models.Project{
		ID:     slug,
		Name:   name,
		Path:   slug,
		Status: models.ProjectStatusDraft,
	}

	createdDir, err := s.buildSkeleton(project)
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreateProject(ctx, project); err != nil {
		if createdDir {
			if rmErr := os.RemoveAll(s.ProjectDir(project)); rmErr != nil {
				s.logger.Warn("failed to roll back project directory",
					zap.String("project_id", slug), zap.Error(rmErr))
			}
		}
		s.logger.Error("failed to create project", zap.String("project_id", slug), zap.Error(err))
		return nil, err
	}

	s.publishProjectEvent(ctx, events.ProjectCreated, project, nil)
	s.logger.Info("project created",
		zap.String("project_id", project.ID),
		zap.String("name", project.Name))
	return project, nil
}

// Get returns one project by id.
func (s *Service) Get(ctx context.Context, id string) (*models.Project, error) {
	return s.repo.GetProject(ctx, id)
}

// GetActive returns the currently active project, or a not-found error
// when no project is active.
func (s *Service) GetActive(ctx context.Context) (*models.Project, error) {
	return s.repo.GetActiveProject(ctx)
}

// List returns all projects.
func (s *Service) List(ctx context.Context) ([]*models.Project, error) {
	return s.repo.ListProjects(ctx)
}

// Rename changes the display name. The slug and directory stay put.
func (s *Service) Rename(ctx context.Context, id, name string) (*models.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.SchemaViolation("project name is required")
	}

	project, err := s.repo.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	project.Name = name
	if err := s.repo.UpdateProject(ctx, project); err != nil {
		return nil, err
	}

	s.publishProjectEvent(ctx, events.ProjectUpdated, project, nil)
	return project, nil
}

// Activate flips the single-active marker to the given project and, when a
// sequencer is wired, launches its process chain. A failed sequence does
// not undo the activation; the report carries the per-step errors.
func (s *Service) Activate(ctx context.Context, id string) (*ActivateResult, error) {
	if err := s.repo.SetActiveProject(ctx, id); err != nil {
		return nil, err
	}
	project, err := s.repo.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}

	s.publishProjectEvent(ctx, events.ProjectActivated, project, nil)
	s.logger.Info("project activated", zap.String("project_id", id))

	result := &ActivateResult{Project: project}
	if s.sequencer != nil {
		report, seqErr := s.sequencer.StartSequence(ctx, project.ID, s.ProjectDir(project))
		result.Sequence = report
		if seqErr != nil {
			s.logger.Warn("start sequence failed after activation",
				zap.String("project_id", id), zap.Error(seqErr))
		}
	}
	return result, nil
}

// Delete removes the project and everything it owns from the DB. With
// purge set, the project directory is removed from disk as well.
func (s *Service) Delete(ctx context.Context, id string, purge bool) error {
	project, err := s.repo.GetProject(ctx, id)
	if err != nil {
		return err
	}

	rows, err := s.repo.DeleteProject(ctx, id)
	if err != nil {
		s.logger.Error("failed to delete project", zap.String("project_id", id), zap.Error(err))
		return err
	}

	purged := false
	if purge {
		dir, dirErr := s.containedDir(project)
		if dirErr != nil {
			s.logger.Warn("refusing to purge project directory",
				zap.String("project_id", id), zap.Error(dirErr))
		} else if rmErr := os.RemoveAll(dir); rmErr != nil {
			s.logger.Warn("failed to purge project directory",
				zap.String("project_id", id), zap.Error(rmErr))
		} else {
			purged = true
		}
	}

	s.publishProjectEvent(ctx, events.ProjectDeleted, project, map[string]interface{}{
		"purged":      purged,
		"rowsDeleted": rows,
	})
	s.logger.Info("project deleted",
		zap.String("project_id", id),
		zap.Bool("purged", purged),
		zap.Int64("rows_deleted", rows))
	return nil
}

// ProjectDir resolves the absolute directory of a project.
func (s *Service) ProjectDir(project *models.Project) string {
	return filepath.Join(s.rootDir, project.Path)
}

// containedDir is ProjectDir plus a containment check, used before
// RemoveAll so a row with a mangled path can never reach outside the
// projects root.
func (s *Service) containedDir(project *models.Project) (string, error) {
	root, err := filepath.Abs(s.rootDir)
	if err != nil {
		return "", err
	}
	dir, err := filepath.Abs(s.ProjectDir(project))
	if err != nil {
		return "", err
	}
	if dir == root || !strings.HasPrefix(dir, root+string(filepath.Separator)) {
		return "", fmt.Errorf("project path %q escapes the projects root", project.Path)
	}
	return dir, nil
}

// buildSkeleton creates the project directory layout and writes the
// .agp/project.json marker. It reports whether the top-level directory was
// created by this call, so Create knows what to roll back.
func (s *Service) buildSkeleton(project *models.Project) (bool, error) {
	dir := s.ProjectDir(project)
	created := false
	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return false, fmt.Errorf("failed to stat project directory: %w", err)
		}
		created = true
	}

	for _, sub := range skeletonDirs {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return created, fmt.Errorf("failed to create project directory: %w", err)
		}
	}

	meta := map[string]interface{}{
		"id":        project.ID,
		"name":      project.Name,
		"createdAt": time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return created, err
	}
	if err := os.WriteFile(filepath.Join(dir, ".agp", "project.json"), data, 0o644); err != nil {
		return created, fmt.Errorf("failed to write project marker: %w", err)
	}
	return created, nil
}

// allocateSlug probes the repository for a free id, suffixing -1, -2, ...
// when the base slug is taken.
func (s *Service) allocateSlug(ctx context.Context, base string) (string, error) {
	for i := 0; i < maxSlugProbes; i++ {
		candidate := base
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d", base, i)
		}
		if reservedSlugs[candidate] {
			continue
		}
		_, err := s.repo.GetProject(ctx, candidate)
		if err == nil {
			continue
		}
		if apperr.IsKind(err, apperr.KindNotFound) {
			return candidate, nil
		}
		return "", err
	}
	return "", apperr.Conflict("no free slug for %q after %d attempts", base, maxSlugProbes)
}

// slugify lowers the name and squeezes every run of other characters into
// a single dash. An empty result falls back to "project".
func slugify(name string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(name) {
		isAllowed := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-'
		if !isAllowed {
			pendingDash = b.Len() > 0
			continue
		}
		if pendingDash {
			b.WriteByte('-')
			pendingDash = false
		}
		b.WriteRune(r)
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "project"
	}
	return slug
}
