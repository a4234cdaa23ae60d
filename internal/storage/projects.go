package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/agpstudio/agp/internal/common/apperr"
	commonsqlite "github.com/agpstudio/agp/internal/common/sqlite"
	"github.com/agpstudio/agp/internal/project/models"
)

// CreateProject inserts a new project row. The caller is responsible for
// the slug in project.ID.
func (r *Repository) CreateProject(ctx context.Context, project *models.Project) error {
	if project == nil {
		return fmt.Errorf("project cannot be nil")
	}
	now := time.Now().UTC()
	if project.CreatedAt.IsZero() {
		project.CreatedAt = now
	}
	if project.UpdatedAt.IsZero() {
		project.UpdatedAt = now
	}
	if project.Status == "" {
		project.Status = models.ProjectStatusDraft
	}

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO projects (id, name, path, active, status, active_context_id, active_plan_id, current_task_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), project.ID, project.Name, project.Path, commonsqlite.BoolToInt(project.Active), project.Status,
		project.ActiveContextID, project.ActivePlanID, project.CurrentTaskID,
		project.CreatedAt, project.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// GetProject retrieves a project by ID.
func (r *Repository) GetProject(ctx context.Context, id string) (*models.Project, error) {
	project := &models.Project{}
	var active int
	err := r.ro.QueryRowContext(ctx, r.ro.Rebind(`
		SELECT id, name, path, active, status, active_context_id, active_plan_id, current_task_id, created_at, updated_at
		FROM projects WHERE id = ?
	`), id).Scan(
		&project.ID, &project.Name, &project.Path, &active, &project.Status,
		&project.ActiveContextID, &project.ActivePlanID, &project.CurrentTaskID,
		&project.CreatedAt, &project.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("project not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	project.Active = active == 1
	return project, nil
}

// GetActiveProject retrieves the project currently marked active.
func (r *Repository) GetActiveProject(ctx context.Context) (*models.Project, error) {
	project := &models.Project{}
	var active int
	err := r.ro.QueryRowContext(ctx, `
		SELECT id, name, path, active, status, active_context_id, active_plan_id, current_task_id, created_at, updated_at
		FROM projects WHERE active = 1 LIMIT 1
	`).Scan(
		&project.ID, &project.Name, &project.Path, &active, &project.Status,
		&project.ActiveContextID, &project.ActivePlanID, &project.CurrentTaskID,
		&project.CreatedAt, &project.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("no active project")
	}
	if err != nil {
		return nil, err
	}
	project.Active = active == 1
	return project, nil
}

// ListProjects returns all projects in creation order.
func (r *Repository) ListProjects(ctx context.Context) ([]*models.Project, error) {
	rows, err := r.ro.QueryContext(ctx, `
		SELECT id, name, path, active, status, active_context_id, active_plan_id, current_task_id, created_at, updated_at
		FROM projects ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.Project
	for rows.Next() {
		project := &models.Project{}
		var active int
		if err := rows.Scan(
			&project.ID, &project.Name, &project.Path, &active, &project.Status,
			&project.ActiveContextID, &project.ActivePlanID, &project.CurrentTaskID,
			&project.CreatedAt, &project.UpdatedAt,
		); err != nil {
			return nil, err
		}
		project.Active = active == 1
		result = append(result, project)
	}
	return result, rows.Err()
}

// UpdateProject updates the mutable fields of a project.
func (r *Repository) UpdateProject(ctx context.Context, project *models.Project) error {
	if project == nil {
		return fmt.Errorf("project cannot be nil")
	}
	project.UpdatedAt = time.Now().UTC()
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE projects SET name = ?, path = ?, status = ?, updated_at = ? WHERE id = ?
	`), project.Name, project.Path, project.Status, project.UpdatedAt, project.ID)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperr.NotFound("project not found: %s", project.ID)
	}
	return nil
}

// SetProjectStatus updates only the lifecycle status of a project.
func (r *Repository) SetProjectStatus(ctx context.Context, id string, status models.ProjectStatus) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE projects SET status = ?, updated_at = ? WHERE id = ?
	`), status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update project status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperr.NotFound("project not found: %s", id)
	}
	return nil
}

// SetActiveProject makes the given project the single active one. Both
// updates run in one transaction so readers never observe two active rows,
// and the transaction rolls back when the target does not exist.
func (r *Repository) SetActiveProject(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE projects SET active = 0 WHERE active = 1`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to clear active project: %w", err)
	}

	result, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE projects SET active = 1, updated_at = ? WHERE id = ?
	`), time.Now().UTC(), id)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to set active project: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		_ = tx.Rollback()
		return apperr.NotFound("project not found: %s", id)
	}
	return tx.Commit()
}

// SetCurrentTask records which task the project is working on. A nil
// taskID clears the marker.
func (r *Repository) SetCurrentTask(ctx context.Context, projectID string, taskID *string) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE projects SET current_task_id = ?, updated_at = ? WHERE id = ?
	`), taskID, time.Now().UTC(), projectID)
	if err != nil {
		return fmt.Errorf("failed to update current task: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperr.NotFound("project not found: %s", projectID)
	}
	return nil
}

// DeleteProject removes a project and every row owned by it in one
// transaction. Agent messages and artifacts are reached through their
// session and task ids, everything else is keyed by project id directly.
// Audit rows in event_log are kept so the deletion itself can be logged.
// Returns the number of rows deleted, the project row included.
func (r *Repository) DeleteProject(ctx context.Context, id string) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	sessionIDs, err := txSelectIDs(ctx, tx, `SELECT id FROM agent_sessions WHERE project_id = ?`, id)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to collect session ids: %w", err)
	}
	taskIDs, err := txSelectIDs(ctx, tx, `SELECT id FROM tasks WHERE project_id = ?`, id)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to collect task ids: %w", err)
	}

	var total int64
	for _, chunk := range chunkIDs(sessionIDs, maxParamsPerChunk) {
		n, err := txDeleteIn(ctx, tx, `DELETE FROM agent_messages WHERE session_id IN (?)`, chunk)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("failed to delete agent messages: %w", err)
		}
		total += n
		n, err = txDeleteIn(ctx, tx, `DELETE FROM artifacts WHERE session_id IN (?)`, chunk)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("failed to delete session artifacts: %w", err)
		}
		total += n
	}
	for _, chunk := range chunkIDs(taskIDs, maxParamsPerChunk) {
		n, err := txDeleteIn(ctx, tx, `DELETE FROM artifacts WHERE task_id IN (?)`, chunk)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("failed to delete task artifacts: %w", err)
		}
		total += n
	}

	for _, stmt := range []string{
		`DELETE FROM agent_sessions WHERE project_id = ?`,
		`DELETE FROM chat_messages WHERE project_id = ?`,
		`DELETE FROM timeline_events WHERE project_id = ?`,
		`DELETE FROM tasks WHERE project_id = ?`,
		`DELETE FROM task_plans WHERE project_id = ?`,
		`DELETE FROM contexts WHERE project_id = ?`,
	} {
		result, err := tx.ExecContext(ctx, tx.Rebind(stmt), id)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("failed to delete project rows: %w", err)
		}
		n, _ := result.RowsAffected()
		total += n
	}

	result, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM projects WHERE id = ?`), id)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to delete project: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		_ = tx.Rollback()
		return 0, apperr.NotFound("project not found: %s", id)
	}
	total += rows

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}
