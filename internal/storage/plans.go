package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agpstudio/agp/internal/common/apperr"
	"github.com/agpstudio/agp/internal/project/models"
)

// CreatePlan inserts a plan and its tasks in one transaction. The version
// is assigned as the project's highest version plus one unless the caller
// set it already; tasks are positioned in the order given.
func (r *Repository) CreatePlan(ctx context.Context, plan *models.TaskPlan, tasks []*models.Task) error {
	if plan == nil {
		return fmt.Errorf("plan cannot be nil")
	}
	if plan.ID == "" {
		plan.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = now
	}
	if plan.UpdatedAt.IsZero() {
		plan.UpdatedAt = now
	}
	if plan.Status == "" {
		plan.Status = models.PlanStatusProposed
	}
	if plan.CreatedBy == "" {
		plan.CreatedBy = models.PlanCreatorAI
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if plan.Version <= 0 {
		err := tx.QueryRowContext(ctx, tx.Rebind(`
			SELECT COALESCE(MAX(version), 0) + 1 FROM task_plans WHERE project_id = ?
		`), plan.ProjectID).Scan(&plan.Version)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to compute plan version: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO task_plans (id, project_id, version, status, summary, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), plan.ID, plan.ProjectID, plan.Version, plan.Status, plan.Summary,
		plan.CreatedBy, plan.CreatedAt, plan.UpdatedAt); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to create plan: %w", err)
	}

	for i, task := range tasks {
		task.ProjectID = plan.ProjectID
		task.PlanID = plan.ID
		task.Idx = i
		if err := insertTask(ctx, tx, task); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// GetPlan retrieves a plan by ID.
func (r *Repository) GetPlan(ctx context.Context, id string) (*models.TaskPlan, error) {
	plan := &models.TaskPlan{}
	err := r.ro.QueryRowContext(ctx, r.ro.Rebind(`
		SELECT id, project_id, version, status, summary, created_by, created_at, updated_at
		FROM task_plans WHERE id = ?
	`), id).Scan(
		&plan.ID, &plan.ProjectID, &plan.Version, &plan.Status, &plan.Summary,
		&plan.CreatedBy, &plan.CreatedAt, &plan.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("plan not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// GetAcceptedPlan returns the single accepted plan of a project.
func (r *Repository) GetAcceptedPlan(ctx context.Context, projectID string) (*models.TaskPlan, error) {
	plan := &models.TaskPlan{}
	err := r.ro.QueryRowContext(ctx, r.ro.Rebind(`
		SELECT id, project_id, version, status, summary, created_by, created_at, updated_at
		FROM task_plans WHERE project_id = ? AND status = ? LIMIT 1
	`), projectID, models.PlanStatusAccepted).Scan(
		&plan.ID, &plan.ProjectID, &plan.Version, &plan.Status, &plan.Summary,
		&plan.CreatedBy, &plan.CreatedAt, &plan.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("no accepted plan for project: %s", projectID)
	}
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// ListPlans returns the plans of a project, newest version first.
func (r *Repository) ListPlans(ctx context.Context, projectID string) ([]*models.TaskPlan, error) {
	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(`
		SELECT id, project_id, version, status, summary, created_by, created_at, updated_at
		FROM task_plans WHERE project_id = ? ORDER BY version DESC
	`), projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.TaskPlan
	for rows.Next() {
		plan := &models.TaskPlan{}
		if err := rows.Scan(
			&plan.ID, &plan.ProjectID, &plan.Version, &plan.Status, &plan.Summary,
			&plan.CreatedBy, &plan.CreatedAt, &plan.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, plan)
	}
	return result, rows.Err()
}

// AcceptPlan marks a plan accepted, supersedes any other accepted plan of
// the project and points the project at the new plan, all in one
// transaction.
func (r *Repository) AcceptPlan(ctx context.Context, projectID, planID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	now := time.Now().UTC()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE task_plans SET status = ?, updated_at = ? WHERE project_id = ? AND status = ? AND id != ?
	`), models.PlanStatusSuperseded, now, projectID, models.PlanStatusAccepted, planID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to supersede plans: %w", err)
	}

	result, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE task_plans SET status = ?, updated_at = ? WHERE id = ? AND project_id = ?
	`), models.PlanStatusAccepted, now, planID, projectID)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to accept plan: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		_ = tx.Rollback()
		return apperr.NotFound("plan not found: %s", planID)
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE projects SET active_plan_id = ?, updated_at = ? WHERE id = ?
	`), planID, now, projectID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to update project plan: %w", err)
	}
	return tx.Commit()
}
