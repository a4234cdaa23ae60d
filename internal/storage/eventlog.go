package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agpstudio/agp/internal/db/dialect"
	"github.com/agpstudio/agp/internal/project/models"
)

// AppendEventLog adds one append-only audit row.
func (r *Repository) AppendEventLog(ctx context.Context, entry *models.EventLogEntry) error {
	if entry == nil {
		return fmt.Errorf("entry cannot be nil")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	id, err := dialect.InsertReturningID(ctx, r.db, `
		INSERT INTO event_log (project_id, event_type, payload_json, created_at)
		VALUES (?, ?, ?, ?)
	`, entry.ProjectID, entry.EventType, marshalObject(entry.Payload), entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append event log: %w", err)
	}
	entry.ID = id
	return nil
}

// ListEventLog returns audit rows for a project, newest first. eventType
// filters when non-empty; limit <= 0 defaults to 100.
func (r *Repository) ListEventLog(ctx context.Context, projectID, eventType string, limit int) ([]*models.EventLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, project_id, event_type, payload_json, created_at
		FROM event_log WHERE project_id = ?`
	args := []any{projectID}
	if eventType != "" {
		query += ` AND event_type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.EventLogEntry
	for rows.Next() {
		entry := &models.EventLogEntry{}
		var payloadJSON string
		if err := rows.Scan(&entry.ID, &entry.ProjectID, &entry.EventType, &payloadJSON, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if payloadJSON != "" && payloadJSON != "{}" {
			if err := json.Unmarshal([]byte(payloadJSON), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to deserialize event payload: %w", err)
			}
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}
