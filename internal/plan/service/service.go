package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/common/apperr"
	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/events"
	"github.com/agpstudio/agp/internal/events/bus"
	"github.com/agpstudio/agp/internal/project/models"
)

// Repo is the slice of the storage layer the plan service needs.
type Repo interface {
	CreatePlan(ctx context.Context, plan *models.TaskPlan, tasks []*models.Task) error
	GetPlan(ctx context.Context, id string) (*models.TaskPlan, error)
	GetAcceptedPlan(ctx context.Context, projectID string) (*models.TaskPlan, error)
	ListPlans(ctx context.Context, projectID string) ([]*models.TaskPlan, error)
	ListTasksByPlan(ctx context.Context, planID string) ([]*models.Task, error)
	AcceptPlan(ctx context.Context, projectID, planID string) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	SetProjectStatus(ctx context.Context, id string, status models.ProjectStatus) error
}

// Service versions plans, repairs incoming task lists and drives the
// accept flow.
type Service struct {
	repo     Repo
	eventBus bus.EventBus
	logger   *logger.Logger
}

// NewService creates a plan service.
func NewService(repo Repo, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		eventBus: eventBus,
		logger:   log.WithFields(zap.String("component", "plan-service")),
	}
}

// CreatePlanRequest contains the data for creating a new plan version.
type CreatePlanRequest struct {
	ProjectID string             `json:"projectId"`
	Summary   string             `json:"summary,omitempty"`
	CreatedBy models.PlanCreator `json:"createdBy,omitempty"`
	Tasks     []TaskInput        `json:"tasks"`
}

// PlanWithTasks bundles a plan row with its tasks in plan order.
type PlanWithTasks struct {
	Plan  *models.TaskPlan `json:"plan"`
	Tasks []*models.Task   `json:"tasks"`
}

// Create repairs the task list, stores a new plan version and broadcasts
// it. The event kind follows the origin: the first AI plan of a project is
// plan.generated, later AI versions are plan.refined, and user-authored
// versions are plan.edited.
func (s *Service) Create(ctx context.Context, req *CreatePlanRequest) (*PlanWithTasks, error) {
	if req.ProjectID == "" {
		return nil, apperr.SchemaViolation("plan needs a project id")
	}
	if len(req.Tasks) == 0 {
		return nil, apperr.SchemaViolation("plan needs at least one task")
	}
	if _, err := s.repo.GetProject(ctx, req.ProjectID); err != nil {
		return nil, err
	}

	tasks, err := repairTasks(req.Tasks)
	if err != nil {
		return nil, err
	}

	prior, err := s.repo.ListPlans(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}

	plan := &models.TaskPlan{
		ProjectID: req.ProjectID,
		Summary:   req.Summary,
		CreatedBy: req.CreatedBy,
	}
	if err := s.repo.CreatePlan(ctx, plan, tasks); err != nil {
		s.logger.Error("failed to create plan",
			zap.String("project_id", req.ProjectID), zap.Error(err))
		return nil, err
	}

	eventType := events.PlanRefined
	switch {
	case plan.CreatedBy == models.PlanCreatorUser:
		eventType = events.PlanEdited
	case len(prior) == 0:
		eventType = events.PlanGenerated
	}
	s.publishPlanEvent(ctx, eventType, plan, len(tasks))

	s.markConsensus(ctx, req.ProjectID)

	s.logger.Info("plan created",
		zap.String("plan_id", plan.ID),
		zap.String("project_id", plan.ProjectID),
		zap.Int("version", plan.Version),
		zap.Int("tasks", len(tasks)))
	return &PlanWithTasks{Plan: plan, Tasks: tasks}, nil
}

// Accept marks the plan accepted, superseding any other accepted version,
// and moves the project into the active phase.
func (s *Service) Accept(ctx context.Context, projectID, planID string) (*models.TaskPlan, error) {
	if err := s.repo.AcceptPlan(ctx, projectID, planID); err != nil {
		return nil, err
	}
	if err := s.repo.SetProjectStatus(ctx, projectID, models.ProjectStatusActive); err != nil {
		s.logger.Warn("failed to move project to active",
			zap.String("project_id", projectID), zap.Error(err))
	}

	plan, err := s.repo.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	s.publishPlanEvent(ctx, events.PlanAccepted, plan, 0)
	s.logger.Info("plan accepted",
		zap.String("plan_id", planID),
		zap.String("project_id", projectID),
		zap.Int("version", plan.Version))
	return plan, nil
}

// Get returns one plan with its tasks.
func (s *Service) Get(ctx context.Context, planID string) (*PlanWithTasks, error) {
	plan, err := s.repo.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.repo.ListTasksByPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	return &PlanWithTasks{Plan: plan, Tasks: tasks}, nil
}

// GetAccepted returns the project's accepted plan with its tasks.
func (s *Service) GetAccepted(ctx context.Context, projectID string) (*PlanWithTasks, error) {
	plan, err := s.repo.GetAcceptedPlan(ctx, projectID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.repo.ListTasksByPlan(ctx, plan.ID)
	if err != nil {
		return nil, err
	}
	return &PlanWithTasks{Plan: plan, Tasks: tasks}, nil
}

// List returns the plans of a project, newest version first.
func (s *Service) List(ctx context.Context, projectID string) ([]*models.TaskPlan, error) {
	return s.repo.ListPlans(ctx, projectID)
}

// markConsensus moves a draft project into the consensus phase once plan
// versions start landing. Later phases are left alone.
func (s *Service) markConsensus(ctx context.Context, projectID string) {
	project, err := s.repo.GetProject(ctx, projectID)
	if err != nil || project.Status != models.ProjectStatusDraft {
		return
	}
	if err := s.repo.SetProjectStatus(ctx, projectID, models.ProjectStatusConsensus); err != nil {
		s.logger.Warn("failed to move project to consensus",
			zap.String("project_id", projectID), zap.Error(err))
	}
}

// publishPlanEvent publishes plan events to the event bus
func (s *Service) publishPlanEvent(ctx context.Context, eventType string, plan *models.TaskPlan, taskCount int) {
	if s.eventBus == nil {
		return
	}

	data := map[string]interface{}{
		"planId":    plan.ID,
		"projectId": plan.ProjectID,
		"version":   plan.Version,
		"status":    string(plan.Status),
		"createdBy": string(plan.CreatedBy),
	}
	if plan.Summary != "" {
		data["summary"] = plan.Summary
	}
	if taskCount > 0 {
		data["taskCount"] = taskCount
	}

	event := bus.NewEvent(eventType, "plan-service", data)
	if err := s.eventBus.Publish(ctx, eventType, event); err != nil {
		s.logger.Warn("failed to publish plan event",
			zap.String("event_type", eventType),
			zap.String("plan_id", plan.ID),
			zap.Error(err))
	}
}
