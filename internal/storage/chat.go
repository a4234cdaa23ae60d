package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agpstudio/agp/internal/db/dialect"
	"github.com/agpstudio/agp/internal/project/models"
)

// AddChatMessage appends a chat row. Duplicate msgIds are allowed at write
// time; reads collapse them to the earliest row.
func (r *Repository) AddChatMessage(ctx context.Context, msg *models.ChatMessage) error {
	if msg == nil {
		return fmt.Errorf("message cannot be nil")
	}
	if msg.MsgID == "" {
		msg.MsgID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	id, err := dialect.InsertReturningID(ctx, r.db, `
		INSERT INTO chat_messages (msg_id, project_id, task_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.MsgID, msg.ProjectID, msg.TaskID, msg.Role, msg.Content, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add chat message: %w", err)
	}
	msg.ID = id
	return nil
}

// ListChatMessages returns up to limit messages for a project in
// chronological order, newest last. The UI row and the session transcript
// row can both be written for the same turn, so rows sharing a msgId are
// collapsed to the earliest one. limit <= 0 returns everything.
func (r *Repository) ListChatMessages(ctx context.Context, projectID string, limit int) ([]*models.ChatMessage, error) {
	query := `
		SELECT id, msg_id, project_id, task_id, role, content, created_at
		FROM chat_messages
		WHERE project_id = ? AND id IN (
			SELECT MIN(id) FROM chat_messages WHERE project_id = ? GROUP BY msg_id
		)
		ORDER BY id DESC`
	args := []any{projectID, projectID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.ChatMessage
	for rows.Next() {
		msg := &models.ChatMessage{}
		if err := rows.Scan(
			&msg.ID, &msg.MsgID, &msg.ProjectID, &msg.TaskID,
			&msg.Role, &msg.Content, &msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// The query walks newest-first to apply the limit; flip back to
	// chronological order for the caller.
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result, nil
}

// SearchChatMessages returns messages whose content matches the search
// string, newest first.
func (r *Repository) SearchChatMessages(ctx context.Context, projectID, search string, limit int) ([]*models.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT id, msg_id, project_id, task_id, role, content, created_at
		FROM chat_messages
		WHERE project_id = ? AND content %s ?
		ORDER BY id DESC LIMIT ?`, dialect.Like(r.driver()))

	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(query), projectID, "%"+search+"%", limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.ChatMessage
	for rows.Next() {
		msg := &models.ChatMessage{}
		if err := rows.Scan(
			&msg.ID, &msg.MsgID, &msg.ProjectID, &msg.TaskID,
			&msg.Role, &msg.Content, &msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}
