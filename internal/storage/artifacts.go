package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agpstudio/agp/internal/common/apperr"
	"github.com/agpstudio/agp/internal/project/models"
)

// CreateArtifact inserts a produced-file record. New artifacts start as
// validation pending.
func (r *Repository) CreateArtifact(ctx context.Context, artifact *models.Artifact) error {
	if artifact == nil {
		return fmt.Errorf("artifact cannot be nil")
	}
	if artifact.ID == "" {
		artifact.ID = uuid.New().String()
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}
	if artifact.ValidationStatus == "" {
		artifact.ValidationStatus = models.ValidationStatusPending
	}

	metaJSON, err := json.Marshal(artifact.Meta)
	if err != nil {
		metaJSON = []byte("{}")
	}

	_, err = r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO artifacts (id, session_id, task_id, type, path, category, meta_json, validation_status, size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), artifact.ID, artifact.SessionID, artifact.TaskID, artifact.Type, artifact.Path,
		artifact.Category, string(metaJSON), artifact.ValidationStatus, artifact.SizeBytes, artifact.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create artifact: %w", err)
	}
	return nil
}

// SetArtifactValidation records the validation outcome and the measured
// file size.
func (r *Repository) SetArtifactValidation(ctx context.Context, id string, status models.ValidationStatus, sizeBytes int64) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE artifacts SET validation_status = ?, size_bytes = ? WHERE id = ?
	`), status, sizeBytes, id)
	if err != nil {
		return fmt.Errorf("failed to update artifact validation: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperr.NotFound("artifact not found: %s", id)
	}
	return nil
}

// GetArtifact retrieves an artifact by ID.
func (r *Repository) GetArtifact(ctx context.Context, id string) (*models.Artifact, error) {
	artifact, err := scanArtifactRow(r.ro.QueryRowContext(ctx, r.ro.Rebind(`
		SELECT id, session_id, task_id, type, path, category, meta_json, validation_status, size_bytes, created_at
		FROM artifacts WHERE id = ?
	`), id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("artifact not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return artifact, nil
}

// ListArtifactsBySession returns the artifacts created during one session,
// newest first.
func (r *Repository) ListArtifactsBySession(ctx context.Context, sessionID string) ([]*models.Artifact, error) {
	return r.listArtifacts(ctx, `
		SELECT id, session_id, task_id, type, path, category, meta_json, validation_status, size_bytes, created_at
		FROM artifacts WHERE session_id = ? ORDER BY created_at DESC
	`, sessionID)
}

// ListArtifactsByTask returns the artifacts attributed to one task, newest
// first.
func (r *Repository) ListArtifactsByTask(ctx context.Context, taskID string) ([]*models.Artifact, error) {
	return r.listArtifacts(ctx, `
		SELECT id, session_id, task_id, type, path, category, meta_json, validation_status, size_bytes, created_at
		FROM artifacts WHERE task_id = ? ORDER BY created_at DESC
	`, taskID)
}

// ListArtifactsByProject returns every artifact reachable from a project
// through its sessions or its tasks, newest first.
func (r *Repository) ListArtifactsByProject(ctx context.Context, projectID string) ([]*models.Artifact, error) {
	return r.listArtifacts(ctx, `
		SELECT id, session_id, task_id, type, path, category, meta_json, validation_status, size_bytes, created_at
		FROM artifacts
		WHERE session_id IN (SELECT id FROM agent_sessions WHERE project_id = ?)
		   OR task_id IN (SELECT id FROM tasks WHERE project_id = ?)
		ORDER BY created_at DESC
	`, projectID, projectID)
}

func (r *Repository) listArtifacts(ctx context.Context, query string, args ...any) ([]*models.Artifact, error) {
	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.Artifact
	for rows.Next() {
		artifact, err := scanArtifactRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, artifact)
	}
	return result, rows.Err()
}

func scanArtifactRow(row rowScanner) (*models.Artifact, error) {
	artifact := &models.Artifact{}
	var metaJSON string
	if err := row.Scan(
		&artifact.ID, &artifact.SessionID, &artifact.TaskID, &artifact.Type, &artifact.Path,
		&artifact.Category, &metaJSON, &artifact.ValidationStatus, &artifact.SizeBytes, &artifact.CreatedAt,
	); err != nil {
		return nil, err
	}
	if metaJSON != "" && metaJSON != "{}" {
		if err := json.Unmarshal([]byte(metaJSON), &artifact.Meta); err != nil {
			return nil, fmt.Errorf("failed to deserialize artifact metadata: %w", err)
		}
	}
	return artifact, nil
}
