package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agpstudio/agp/internal/common/apperr"
	"github.com/agpstudio/agp/internal/db/dialect"
	"github.com/agpstudio/agp/internal/project/models"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTimelineEvent(row rowScanner) (*models.TimelineEvent, error) {
	event := &models.TimelineEvent{}
	var argsJSON, resultJSON string
	if err := row.Scan(
		&event.ID, &event.ProjectID, &event.StepIndex, &event.Tool,
		&argsJSON, &event.Status, &resultJSON, &event.CorrelationID,
		&event.StartedAt, &event.FinishedAt,
	); err != nil {
		return nil, err
	}
	if argsJSON != "" && argsJSON != "{}" {
		if err := json.Unmarshal([]byte(argsJSON), &event.Args); err != nil {
			return nil, fmt.Errorf("failed to deserialize timeline args: %w", err)
		}
	}
	if resultJSON != "" && resultJSON != "{}" {
		if err := json.Unmarshal([]byte(resultJSON), &event.Result); err != nil {
			return nil, fmt.Errorf("failed to deserialize timeline result: %w", err)
		}
	}
	return event, nil
}

// AppendTimelineEvent inserts a timeline row. Running tool steps that carry
// a correlation id and no index yet get the next step index for that
// correlation, assigned under the single writer so concurrent appends
// cannot collide. Generic event rows keep the caller's index and are
// closed immediately.
func (r *Repository) AppendTimelineEvent(ctx context.Context, event *models.TimelineEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if event.StartedAt.IsZero() {
		event.StartedAt = time.Now().UTC()
	}
	if event.Status == "" {
		event.Status = models.TimelineStatusRunning
	}
	if event.Status == models.TimelineStatusEvent && event.FinishedAt == nil {
		event.FinishedAt = &event.StartedAt
	}

	argsJSON, err := json.Marshal(event.Args)
	if err != nil {
		argsJSON = []byte("{}")
	}
	resultJSON := []byte("")
	if event.Result != nil {
		resultJSON, err = json.Marshal(event.Result)
		if err != nil {
			resultJSON = []byte("{}")
		}
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if event.Status == models.TimelineStatusRunning && event.CorrelationID != "" && event.StepIndex < 0 {
		err := tx.QueryRowContext(ctx, tx.Rebind(`
			SELECT COALESCE(MAX(step_index), -1) + 1 FROM timeline_events
			WHERE project_id = ? AND correlation_id = ?
		`), event.ProjectID, event.CorrelationID).Scan(&event.StepIndex)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to compute step index: %w", err)
		}
	}

	id, err := dialect.TxInsertReturningID(ctx, tx, r.driver(), `
		INSERT INTO timeline_events (project_id, step_index, tool, args_json, status, result_json, correlation_id, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, event.ProjectID, event.StepIndex, event.Tool, string(argsJSON), event.Status,
		string(resultJSON), event.CorrelationID, event.StartedAt, event.FinishedAt)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to append timeline event: %w", err)
	}
	event.ID = id
	return tx.Commit()
}

// AppendGenericEvent records an instantaneous domain event on the timeline.
func (r *Repository) AppendGenericEvent(ctx context.Context, projectID, tool string, payload map[string]interface{}, correlationID string) (*models.TimelineEvent, error) {
	event := &models.TimelineEvent{
		ProjectID:     projectID,
		StepIndex:     models.GenericStepIndex,
		Tool:          tool,
		Args:          payload,
		Status:        models.TimelineStatusEvent,
		CorrelationID: correlationID,
	}
	if err := r.AppendTimelineEvent(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// CompleteTimelineEvent closes a step with its terminal status and result
// payload.
func (r *Repository) CompleteTimelineEvent(ctx context.Context, id int64, status models.TimelineStatus, result map[string]interface{}) error {
	resultJSON := []byte("{}")
	if result != nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			resultJSON = []byte("{}")
		}
	}

	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE timeline_events SET status = ?, result_json = ?, finished_at = ? WHERE id = ?
	`), status, string(resultJSON), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to complete timeline event: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return apperr.NotFound("timeline event not found: %d", id)
	}
	return nil
}

// GetTimelineEvent retrieves a timeline row by ID.
func (r *Repository) GetTimelineEvent(ctx context.Context, id int64) (*models.TimelineEvent, error) {
	event, err := scanTimelineEvent(r.ro.QueryRowContext(ctx, r.ro.Rebind(`
		SELECT id, project_id, step_index, tool, args_json, status, result_json, correlation_id, started_at, finished_at
		FROM timeline_events WHERE id = ?
	`), id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("timeline event not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

// ListTimelineEvents returns up to limit rows for a project in insertion
// order, newest last. limit <= 0 returns everything.
func (r *Repository) ListTimelineEvents(ctx context.Context, projectID string, limit int) ([]*models.TimelineEvent, error) {
	query := `
		SELECT id, project_id, step_index, tool, args_json, status, result_json, correlation_id, started_at, finished_at
		FROM timeline_events WHERE project_id = ? ORDER BY id DESC`
	args := []any{projectID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.TimelineEvent
	for rows.Next() {
		event, err := scanTimelineEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result, nil
}

// ListTimelineByCorrelation returns the steps of one correlated run in
// step order.
func (r *Repository) ListTimelineByCorrelation(ctx context.Context, projectID, correlationID string) ([]*models.TimelineEvent, error) {
	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(`
		SELECT id, project_id, step_index, tool, args_json, status, result_json, correlation_id, started_at, finished_at
		FROM timeline_events WHERE project_id = ? AND correlation_id = ?
		ORDER BY step_index ASC, id ASC
	`), projectID, correlationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.TimelineEvent
	for rows.Next() {
		event, err := scanTimelineEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, event)
	}
	return result, rows.Err()
}
