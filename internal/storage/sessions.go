package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agpstudio/agp/internal/common/apperr"
	"github.com/agpstudio/agp/internal/db/dialect"
	"github.com/agpstudio/agp/internal/project/models"
)

// CreateAgentSession inserts a new session row.
func (r *Repository) CreateAgentSession(ctx context.Context, session *models.AgentSession) error {
	if session == nil {
		return fmt.Errorf("session cannot be nil")
	}
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO agent_sessions (id, project_id, provider, started_at, ended_at, summary_text)
		VALUES (?, ?, ?, ?, ?, ?)
	`), session.ID, session.ProjectID, session.Provider, session.StartedAt, session.EndedAt, session.SummaryText)
	if err != nil {
		return fmt.Errorf("failed to create agent session: %w", err)
	}
	return nil
}

// EndAgentSession stamps the end time and stores the closing summary.
func (r *Repository) EndAgentSession(ctx context.Context, id, summary string) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE agent_sessions SET ended_at = ?, summary_text = ? WHERE id = ?
	`), time.Now().UTC(), summary, id)
	if err != nil {
		return fmt.Errorf("failed to end agent session: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperr.NotFound("agent session not found: %s", id)
	}
	return nil
}

// GetAgentSession retrieves a session by ID.
func (r *Repository) GetAgentSession(ctx context.Context, id string) (*models.AgentSession, error) {
	session := &models.AgentSession{}
	err := r.ro.QueryRowContext(ctx, r.ro.Rebind(`
		SELECT id, project_id, provider, started_at, ended_at, summary_text
		FROM agent_sessions WHERE id = ?
	`), id).Scan(
		&session.ID, &session.ProjectID, &session.Provider,
		&session.StartedAt, &session.EndedAt, &session.SummaryText,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("agent session not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// GetOpenAgentSession returns the newest session of a project that has no
// end stamp yet. Used on restart to close sessions orphaned by a crash.
func (r *Repository) GetOpenAgentSession(ctx context.Context, projectID string) (*models.AgentSession, error) {
	session := &models.AgentSession{}
	err := r.ro.QueryRowContext(ctx, r.ro.Rebind(`
		SELECT id, project_id, provider, started_at, ended_at, summary_text
		FROM agent_sessions WHERE project_id = ? AND ended_at IS NULL
		ORDER BY started_at DESC LIMIT 1
	`), projectID).Scan(
		&session.ID, &session.ProjectID, &session.Provider,
		&session.StartedAt, &session.EndedAt, &session.SummaryText,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("no open session for project: %s", projectID)
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ListAgentSessions returns the sessions of a project, newest first.
func (r *Repository) ListAgentSessions(ctx context.Context, projectID string) ([]*models.AgentSession, error) {
	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(`
		SELECT id, project_id, provider, started_at, ended_at, summary_text
		FROM agent_sessions WHERE project_id = ? ORDER BY started_at DESC
	`), projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.AgentSession
	for rows.Next() {
		session := &models.AgentSession{}
		if err := rows.Scan(
			&session.ID, &session.ProjectID, &session.Provider,
			&session.StartedAt, &session.EndedAt, &session.SummaryText,
		); err != nil {
			return nil, err
		}
		result = append(result, session)
	}
	return result, rows.Err()
}

// AddAgentMessage appends one transcript row to a session.
func (r *Repository) AddAgentMessage(ctx context.Context, msg *models.AgentMessage) error {
	if msg == nil {
		return fmt.Errorf("message cannot be nil")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	toolArgsJSON := ""
	if msg.ToolArgs != nil {
		data, err := json.Marshal(msg.ToolArgs)
		if err == nil {
			toolArgsJSON = string(data)
		}
	}
	toolResultJSON := ""
	if msg.ToolResult != nil {
		data, err := json.Marshal(msg.ToolResult)
		if err == nil {
			toolResultJSON = string(data)
		}
	}

	id, err := dialect.InsertReturningID(ctx, r.db, `
		INSERT INTO agent_messages (session_id, role, content, tool_name, tool_args_json, tool_result_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.SessionID, msg.Role, msg.Content, msg.ToolName, toolArgsJSON, toolResultJSON, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add agent message: %w", err)
	}
	msg.ID = id
	return nil
}

// ListAgentMessages returns up to limit transcript rows in order, newest
// last. limit <= 0 returns everything.
func (r *Repository) ListAgentMessages(ctx context.Context, sessionID string, limit int) ([]*models.AgentMessage, error) {
	query := `
		SELECT id, session_id, role, content, tool_name, tool_args_json, tool_result_json, created_at
		FROM agent_messages WHERE session_id = ? ORDER BY id DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.AgentMessage
	for rows.Next() {
		msg := &models.AgentMessage{}
		var toolArgsJSON, toolResultJSON string
		if err := rows.Scan(
			&msg.ID, &msg.SessionID, &msg.Role, &msg.Content,
			&msg.ToolName, &toolArgsJSON, &toolResultJSON, &msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		if toolArgsJSON != "" && toolArgsJSON != "{}" {
			if err := json.Unmarshal([]byte(toolArgsJSON), &msg.ToolArgs); err != nil {
				return nil, fmt.Errorf("failed to deserialize tool args: %w", err)
			}
		}
		if toolResultJSON != "" && toolResultJSON != "{}" {
			if err := json.Unmarshal([]byte(toolResultJSON), &msg.ToolResult); err != nil {
				return nil, fmt.Errorf("failed to deserialize tool result: %w", err)
			}
		}
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result, nil
}

// GetSessionStats returns session counts and the average duration of
// finished sessions.
func (r *Repository) GetSessionStats(ctx context.Context, projectID string) (*models.SessionStats, error) {
	stats := &models.SessionStats{}
	query := fmt.Sprintf(`
		SELECT COUNT(*),
			COUNT(CASE WHEN ended_at IS NULL THEN 1 END),
			COALESCE(AVG(CASE WHEN ended_at IS NOT NULL THEN %s END), 0)
		FROM agent_sessions WHERE project_id = ?
	`, dialect.DurationMs(r.driver(), "ended_at", "started_at"))

	err := r.ro.QueryRowContext(ctx, r.ro.Rebind(query), projectID).Scan(
		&stats.Total, &stats.Open, &stats.AvgDurationMs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load session stats: %w", err)
	}
	return stats, nil
}
