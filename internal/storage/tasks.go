package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agpstudio/agp/internal/common/apperr"
	"github.com/agpstudio/agp/internal/db/dialect"
	"github.com/agpstudio/agp/internal/project/models"
)

func marshalStringList(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func marshalObject(value map[string]interface{}) string {
	if len(value) == 0 {
		return "{}"
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "{}"
	}
	return string(data)
}

const taskColumns = `id, project_id, code, title, description, acceptance, status, deps_json, mcp_tools_json, deliverables_json, estimates_json, priority, plan_id, idx, started_at, completed_at, created_at, updated_at`

func scanTaskRow(row rowScanner) (*models.Task, error) {
	task := &models.Task{}
	var depsJSON, mcpToolsJSON, deliverablesJSON, estimatesJSON string
	if err := row.Scan(
		&task.ID, &task.ProjectID, &task.Code, &task.Title, &task.Description, &task.Acceptance,
		&task.Status, &depsJSON, &mcpToolsJSON, &deliverablesJSON, &estimatesJSON,
		&task.Priority, &task.PlanID, &task.Idx, &task.StartedAt, &task.CompletedAt,
		&task.CreatedAt, &task.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if depsJSON != "" && depsJSON != "[]" {
		if err := json.Unmarshal([]byte(depsJSON), &task.Deps); err != nil {
			return nil, fmt.Errorf("failed to deserialize task deps: %w", err)
		}
	}
	if mcpToolsJSON != "" && mcpToolsJSON != "[]" {
		if err := json.Unmarshal([]byte(mcpToolsJSON), &task.MCPTools); err != nil {
			return nil, fmt.Errorf("failed to deserialize task tools: %w", err)
		}
	}
	if deliverablesJSON != "" && deliverablesJSON != "[]" {
		if err := json.Unmarshal([]byte(deliverablesJSON), &task.Deliverables); err != nil {
			return nil, fmt.Errorf("failed to deserialize task deliverables: %w", err)
		}
	}
	if estimatesJSON != "" && estimatesJSON != "{}" {
		if err := json.Unmarshal([]byte(estimatesJSON), &task.Estimates); err != nil {
			return nil, fmt.Errorf("failed to deserialize task estimates: %w", err)
		}
	}
	return task, nil
}

func insertTask(ctx context.Context, ext sqlx.ExtContext, task *models.Task) error {
	if task == nil {
		return fmt.Errorf("task cannot be nil")
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = now
	}
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	if task.Priority == 0 {
		task.Priority = 3
	}

	_, err := ext.ExecContext(ctx, ext.Rebind(`
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), task.ID, task.ProjectID, task.Code, task.Title, task.Description, task.Acceptance,
		task.Status, marshalStringList(task.Deps), marshalStringList(task.MCPTools),
		marshalStringList(task.Deliverables), marshalObject(task.Estimates),
		task.Priority, task.PlanID, task.Idx, task.StartedAt, task.CompletedAt,
		task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// CreateTask inserts a new task row.
func (r *Repository) CreateTask(ctx context.Context, task *models.Task) error {
	return insertTask(ctx, r.db, task)
}

// GetTask retrieves a task by ID.
func (r *Repository) GetTask(ctx context.Context, id string) (*models.Task, error) {
	task, err := scanTaskRow(r.ro.QueryRowContext(ctx, r.ro.Rebind(`
		SELECT `+taskColumns+` FROM tasks WHERE id = ?
	`), id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("task not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// GetTaskByCode retrieves a task by its per-project code, e.g. T-003.
func (r *Repository) GetTaskByCode(ctx context.Context, projectID, code string) (*models.Task, error) {
	task, err := scanTaskRow(r.ro.QueryRowContext(ctx, r.ro.Rebind(`
		SELECT `+taskColumns+` FROM tasks WHERE project_id = ? AND code = ?
	`), projectID, code))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("task not found: %s", code)
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ListTasks returns all tasks of a project in plan order.
func (r *Repository) ListTasks(ctx context.Context, projectID string) ([]*models.Task, error) {
	return r.listTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE project_id = ? ORDER BY idx ASC, created_at ASC
	`, projectID)
}

// ListTasksByPlan returns the tasks belonging to one plan in plan order.
func (r *Repository) ListTasksByPlan(ctx context.Context, planID string) ([]*models.Task, error) {
	return r.listTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE plan_id = ? ORDER BY idx ASC, created_at ASC
	`, planID)
}

func (r *Repository) listTasks(ctx context.Context, query string, args ...any) ([]*models.Task, error) {
	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.Task
	for rows.Next() {
		task, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, task)
	}
	return result, rows.Err()
}

// SetTaskStatus updates the execution state. Entering in_progress stamps
// startedAt once; entering done stamps completedAt.
func (r *Repository) SetTaskStatus(ctx context.Context, id string, status models.TaskStatus) error {
	now := time.Now().UTC()
	var (
		result sql.Result
		err    error
	)
	switch status {
	case models.TaskStatusInProgress:
		result, err = r.db.ExecContext(ctx, r.db.Rebind(`
			UPDATE tasks SET status = ?, started_at = COALESCE(started_at, ?), updated_at = ? WHERE id = ?
		`), status, now, now, id)
	case models.TaskStatusDone:
		result, err = r.db.ExecContext(ctx, r.db.Rebind(`
			UPDATE tasks SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?
		`), status, now, now, id)
	default:
		result, err = r.db.ExecContext(ctx, r.db.Rebind(`
			UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?
		`), status, now, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperr.NotFound("task not found: %s", id)
	}
	return nil
}

// NextAvailableTask picks the pending task whose dependencies are all done,
// ordered by priority (1 first), then story points (largest first), then
// position. Dependencies reference task codes; ids are accepted as a
// fallback for rows written before code repair existed.
func (r *Repository) NextAvailableTask(ctx context.Context, projectID string) (*models.Task, error) {
	storyPoints := dialect.JSONExtract(r.driver(), "estimates_json", "storyPoints")
	candidates, err := r.listTasks(ctx, fmt.Sprintf(`
		SELECT `+taskColumns+` FROM tasks
		WHERE project_id = ? AND status = ?
		ORDER BY priority ASC, CAST(COALESCE(%s, '0') AS REAL) DESC, idx ASC
	`, storyPoints), projectID, models.TaskStatusPending)
	if err != nil {
		return nil, err
	}

	done := map[string]bool{}
	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(`
		SELECT id, code, status FROM tasks WHERE project_id = ?
	`), projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id, code string
		var status models.TaskStatus
		if err := rows.Scan(&id, &code, &status); err != nil {
			return nil, err
		}
		done[code] = status == models.TaskStatusDone
		done[id] = status == models.TaskStatusDone
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, task := range candidates {
		runnable := true
		for _, dep := range task.Deps {
			if !done[dep] {
				runnable = false
				break
			}
		}
		if runnable {
			return task, nil
		}
	}
	return nil, apperr.NotFound("no runnable task for project: %s", projectID)
}

// CountTasks returns the total and done task counts of a project.
func (r *Repository) CountTasks(ctx context.Context, projectID string) (total, done int, err error) {
	err = r.ro.QueryRowContext(ctx, r.ro.Rebind(`
		SELECT COUNT(*), COUNT(CASE WHEN status = ? THEN 1 END)
		FROM tasks WHERE project_id = ?
	`), models.TaskStatusDone, projectID).Scan(&total, &done)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return total, done, nil
}
