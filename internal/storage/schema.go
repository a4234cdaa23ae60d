package storage

import (
	"fmt"

	"github.com/agpstudio/agp/internal/db/dialect"
)

// initSchema creates the database tables if they don't exist
func (r *Repository) initSchema() error {
	if err := r.initProjectSchema(); err != nil {
		return err
	}
	if err := r.initConversationSchema(); err != nil {
		return err
	}
	if err := r.initSessionSchema(); err != nil {
		return err
	}
	if err := r.initPlanningSchema(); err != nil {
		return err
	}
	if err := r.initEventLogSchema(); err != nil {
		return err
	}
	if err := r.runMigrations(); err != nil {
		return err
	}
	return r.initIndexes()
}

func (r *Repository) initProjectSchema() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		path TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'draft',
		active_context_id TEXT,
		active_plan_id TEXT,
		current_task_id TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	`)
	if err != nil {
		return fmt.Errorf("failed to create projects table: %w", err)
	}
	return nil
}

func (r *Repository) initConversationSchema() error {
	_, err := r.db.Exec(fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS chat_messages (
		id %s,
		msg_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		task_id TEXT DEFAULT '',
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS timeline_events (
		id %s,
		project_id TEXT NOT NULL,
		step_index INTEGER NOT NULL DEFAULT -1,
		tool TEXT NOT NULL,
		args_json TEXT DEFAULT '{}',
		status TEXT NOT NULL DEFAULT 'running',
		result_json TEXT DEFAULT '',
		correlation_id TEXT DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP
	);
	`, dialect.AutoPK(r.driver()), dialect.AutoPK(r.driver())))
	if err != nil {
		return fmt.Errorf("failed to create conversation tables: %w", err)
	}
	return nil
}

func (r *Repository) initSessionSchema() error {
	_, err := r.db.Exec(fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS agent_sessions (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		ended_at TIMESTAMP,
		summary_text TEXT DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS agent_messages (
		id %s,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		tool_name TEXT DEFAULT '',
		tool_args_json TEXT DEFAULT '',
		tool_result_json TEXT DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS artifacts (
		id TEXT PRIMARY KEY,
		session_id TEXT DEFAULT '',
		task_id TEXT DEFAULT '',
		type TEXT NOT NULL,
		path TEXT NOT NULL,
		category TEXT DEFAULT '',
		meta_json TEXT DEFAULT '{}',
		validation_status TEXT NOT NULL DEFAULT 'pending',
		size_bytes INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);
	`, dialect.AutoPK(r.driver())))
	if err != nil {
		return fmt.Errorf("failed to create session tables: %w", err)
	}
	return nil
}

func (r *Repository) initPlanningSchema() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		code TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT DEFAULT '',
		acceptance TEXT DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		deps_json TEXT DEFAULT '[]',
		mcp_tools_json TEXT DEFAULT '[]',
		deliverables_json TEXT DEFAULT '[]',
		estimates_json TEXT DEFAULT '{}',
		priority INTEGER NOT NULL DEFAULT 3,
		plan_id TEXT DEFAULT '',
		idx INTEGER NOT NULL DEFAULT 0,
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS task_plans (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		status TEXT NOT NULL DEFAULT 'proposed',
		summary TEXT DEFAULT '',
		created_by TEXT NOT NULL DEFAULT 'ai',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS contexts (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		scope TEXT NOT NULL DEFAULT 'global',
		task_id TEXT DEFAULT '',
		content TEXT DEFAULT '{}',
		version INTEGER NOT NULL DEFAULT 1,
		is_active INTEGER NOT NULL DEFAULT 0,
		created_by TEXT DEFAULT '',
		source TEXT DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);
	`)
	if err != nil {
		return fmt.Errorf("failed to create planning tables: %w", err)
	}
	return nil
}

func (r *Repository) initEventLogSchema() error {
	_, err := r.db.Exec(fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS event_log (
		id %s,
		project_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload_json TEXT DEFAULT '{}',
		created_at TIMESTAMP NOT NULL
	);
	`, dialect.AutoPK(r.driver())))
	if err != nil {
		return fmt.Errorf("failed to create event_log table: %w", err)
	}
	return nil
}

func (r *Repository) initIndexes() error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_project_id ON chat_messages(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_msg_id ON chat_messages(msg_id)`,
		`CREATE INDEX IF NOT EXISTS idx_timeline_events_project_id ON timeline_events(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_timeline_events_correlation_id ON timeline_events(correlation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_sessions_project_id ON agent_sessions(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_messages_session_id ON agent_messages(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_session_id ON artifacts(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_task_id ON artifacts(task_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_project_code ON tasks(project_id, code)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_plan_id ON tasks(plan_id)`,
		`CREATE INDEX IF NOT EXISTS idx_task_plans_project_id ON task_plans(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_contexts_project_scope ON contexts(project_id, scope, task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_event_log_project_id ON event_log(project_id)`,
	}
	for _, idx := range indexes {
		if _, err := r.db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// runMigrations applies idempotent ALTER TABLE migrations for schema evolution.
func (r *Repository) runMigrations() error {
	// Add current_task_id to projects (ignore error if already exists)
	_, _ = r.db.Exec(`ALTER TABLE projects ADD COLUMN current_task_id TEXT`)
	// Add task_id to chat_messages (ignore error if already exists)
	_, _ = r.db.Exec(`ALTER TABLE chat_messages ADD COLUMN task_id TEXT DEFAULT ''`)
	// Add summary_text to agent_sessions (ignore error if already exists)
	_, _ = r.db.Exec(`ALTER TABLE agent_sessions ADD COLUMN summary_text TEXT DEFAULT ''`)
	// Add size_bytes to artifacts (ignore error if already exists)
	_, _ = r.db.Exec(`ALTER TABLE artifacts ADD COLUMN size_bytes INTEGER NOT NULL DEFAULT 0`)
	return nil
}
