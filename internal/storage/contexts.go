package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agpstudio/agp/internal/common/apperr"
	commonsqlite "github.com/agpstudio/agp/internal/common/sqlite"
	"github.com/agpstudio/agp/internal/project/models"
)

const contextColumns = `id, project_id, scope, task_id, content, version, is_active, created_by, source, created_at`

func scanContextRow(row rowScanner) (*models.Context, error) {
	c := &models.Context{}
	var contentJSON string
	var isActive int
	if err := row.Scan(
		&c.ID, &c.ProjectID, &c.Scope, &c.TaskID, &contentJSON,
		&c.Version, &isActive, &c.CreatedBy, &c.Source, &c.CreatedAt,
	); err != nil {
		return nil, err
	}
	c.IsActive = isActive == 1
	if contentJSON != "" && contentJSON != "{}" {
		if err := json.Unmarshal([]byte(contentJSON), &c.Content); err != nil {
			return nil, fmt.Errorf("failed to deserialize context content: %w", err)
		}
	}
	return c, nil
}

// CreateContext inserts a context version. When the new row is active, any
// previously active row with the same project, scope and task is
// deactivated in the same transaction, so readers always see at most one
// active row per scope. The version is the scope's highest plus one.
func (r *Repository) CreateContext(ctx context.Context, c *models.Context) error {
	if c == nil {
		return fmt.Errorf("context cannot be nil")
	}
	if c.Scope == "" {
		c.Scope = models.ContextScopeGlobal
	}
	if c.Scope == models.ContextScopeTask && c.TaskID == "" {
		return fmt.Errorf("task-scoped context requires a task id")
	}
	if c.Scope == models.ContextScopeGlobal {
		c.TaskID = ""
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if c.Version <= 0 {
		err := tx.QueryRowContext(ctx, tx.Rebind(`
			SELECT COALESCE(MAX(version), 0) + 1 FROM contexts
			WHERE project_id = ? AND scope = ? AND task_id = ?
		`), c.ProjectID, c.Scope, c.TaskID).Scan(&c.Version)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to compute context version: %w", err)
		}
	}

	if c.IsActive {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE contexts SET is_active = 0
			WHERE project_id = ? AND scope = ? AND task_id = ? AND is_active = 1
		`), c.ProjectID, c.Scope, c.TaskID); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to deactivate contexts: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO contexts (`+contextColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), c.ID, c.ProjectID, c.Scope, c.TaskID, marshalObject(c.Content),
		c.Version, commonsqlite.BoolToInt(c.IsActive), c.CreatedBy, c.Source, c.CreatedAt); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to create context: %w", err)
	}

	if c.IsActive && c.Scope == models.ContextScopeGlobal {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE projects SET active_context_id = ?, updated_at = ? WHERE id = ?
		`), c.ID, time.Now().UTC(), c.ProjectID); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update project context: %w", err)
		}
	}
	return tx.Commit()
}

// ActivateContext makes an existing context version the active one for its
// scope, deactivating the rest in the same transaction.
func (r *Repository) ActivateContext(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	var projectID, taskID string
	var scope models.ContextScope
	err = tx.QueryRowContext(ctx, tx.Rebind(`
		SELECT project_id, scope, task_id FROM contexts WHERE id = ?
	`), id).Scan(&projectID, &scope, &taskID)
	if err == sql.ErrNoRows {
		_ = tx.Rollback()
		return apperr.NotFound("context not found: %s", id)
	}
	if err != nil {
		_ = tx.Rollback()
		return err
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE contexts SET is_active = 0
		WHERE project_id = ? AND scope = ? AND task_id = ? AND is_active = 1 AND id != ?
	`), projectID, scope, taskID, id); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to deactivate contexts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE contexts SET is_active = 1 WHERE id = ?
	`), id); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to activate context: %w", err)
	}

	if scope == models.ContextScopeGlobal {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE projects SET active_context_id = ?, updated_at = ? WHERE id = ?
		`), id, time.Now().UTC(), projectID); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update project context: %w", err)
		}
	}
	return tx.Commit()
}

// GetContext retrieves a context by ID.
func (r *Repository) GetContext(ctx context.Context, id string) (*models.Context, error) {
	c, err := scanContextRow(r.ro.QueryRowContext(ctx, r.ro.Rebind(`
		SELECT `+contextColumns+` FROM contexts WHERE id = ?
	`), id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("context not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetActiveContext returns the active context for a scope. taskID is
// ignored for the global scope.
func (r *Repository) GetActiveContext(ctx context.Context, projectID string, scope models.ContextScope, taskID string) (*models.Context, error) {
	if scope == models.ContextScopeGlobal {
		taskID = ""
	}
	c, err := scanContextRow(r.ro.QueryRowContext(ctx, r.ro.Rebind(`
		SELECT `+contextColumns+` FROM contexts
		WHERE project_id = ? AND scope = ? AND task_id = ? AND is_active = 1
		LIMIT 1
	`), projectID, scope, taskID))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("no active context for project: %s", projectID)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListContexts returns all context versions of a project, newest first.
func (r *Repository) ListContexts(ctx context.Context, projectID string) ([]*models.Context, error) {
	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(`
		SELECT `+contextColumns+` FROM contexts
		WHERE project_id = ? ORDER BY created_at DESC, version DESC
	`), projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.Context
	for rows.Next() {
		c, err := scanContextRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}
