// Package models defines the entities shared by storage and services.
package models

import "time"

// ProjectStatus represents the lifecycle stage of a project
type ProjectStatus string

const (
	// ProjectStatusDraft is a freshly created project without an accepted plan
	ProjectStatusDraft ProjectStatus = "draft"
	// ProjectStatusConsensus means a plan is being negotiated with the user
	ProjectStatusConsensus ProjectStatus = "consensus"
	// ProjectStatusActive means tasks are being executed
	ProjectStatusActive ProjectStatus = "active"
	// ProjectStatusCompleted means every task is done
	ProjectStatusCompleted ProjectStatus = "completed"
)

// Project represents a managed workspace rooted at a directory on disk.
// At most one project has Active=true at any time.
type Project struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Path            string        `json:"path"` // Relative to the projects root
	Active          bool          `json:"active"`
	Status          ProjectStatus `json:"status"`
	ActiveContextID *string       `json:"active_context_id,omitempty"`
	ActivePlanID    *string       `json:"active_plan_id,omitempty"`
	CurrentTaskID   *string       `json:"current_task_id,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// ChatRole represents who authored a chat message
type ChatRole string

const (
	// ChatRoleUser indicates a message typed by the human
	ChatRoleUser ChatRole = "user"
	// ChatRoleAgent indicates a message produced by the AI CLI
	ChatRoleAgent ChatRole = "agent"
	// ChatRoleSystem indicates a message injected by the backend
	ChatRoleSystem ChatRole = "system"
)

// ChatMessage is one append-only row of the project conversation. MsgID is
// stable across the UI, the broker and the store.
type ChatMessage struct {
	ID        int64     `json:"id"`
	MsgID     string    `json:"msg_id"`
	ProjectID string    `json:"project_id"`
	TaskID    string    `json:"task_id,omitempty"`
	Role      ChatRole  `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// TimelineStatus represents the lifecycle state of a timeline row
type TimelineStatus string

const (
	// TimelineStatusRunning is set when the step starts
	TimelineStatusRunning TimelineStatus = "running"
	// TimelineStatusSuccess is the terminal state of a completed step
	TimelineStatusSuccess TimelineStatus = "success"
	// TimelineStatusError is the terminal state of a failed step
	TimelineStatusError TimelineStatus = "error"
	// TimelineStatusEvent marks a generic domain event row
	TimelineStatusEvent TimelineStatus = "event"
	// TimelineStatusReverted marks a linked row whose original step was undone
	TimelineStatusReverted TimelineStatus = "revert-reverted"
	// TimelineStatusRevertPending marks a linked row for a step with no revert handler
	TimelineStatusRevertPending TimelineStatus = "revert-pending"
)

// GenericStepIndex is the StepIndex sentinel for rows that are not plan steps.
const GenericStepIndex = -1

// TimelineEvent records one tool invocation or domain event. Within one
// correlation id, StepIndex is unique and monotonic.
type TimelineEvent struct {
	ID            int64                  `json:"id"`
	ProjectID     string                 `json:"project_id"`
	StepIndex     int                    `json:"step_index"`
	Tool          string                 `json:"tool"`
	Args          map[string]interface{} `json:"args,omitempty"`
	Status        TimelineStatus         `json:"status"`
	Result        map[string]interface{} `json:"result,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	StartedAt     time.Time              `json:"started_at"`
	FinishedAt    *time.Time             `json:"finished_at,omitempty"`
}

// AgentSession represents one run of the AI CLI subprocess for a project
type AgentSession struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	Provider    string     `json:"provider"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	SummaryText string     `json:"summary_text,omitempty"`
}

// SessionStats summarizes the session history of a project
type SessionStats struct {
	Total         int     `json:"total"`
	Open          int     `json:"open"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// AgentMessageRole represents the direction of an agent transcript entry
type AgentMessageRole string

const (
	// AgentMessageRoleUser is text written to the CLI's stdin
	AgentMessageRoleUser AgentMessageRole = "user"
	// AgentMessageRoleAssistant is text emitted by the CLI
	AgentMessageRoleAssistant AgentMessageRole = "assistant"
	// AgentMessageRoleTool is a tool call or injected tool result
	AgentMessageRoleTool AgentMessageRole = "tool"
)

// AgentMessage is one row of the raw session transcript
type AgentMessage struct {
	ID         int64                  `json:"id"`
	SessionID  string                 `json:"session_id"`
	Role       AgentMessageRole       `json:"role"`
	Content    string                 `json:"content"`
	ToolName   string                 `json:"tool_name,omitempty"`
	ToolArgs   map[string]interface{} `json:"tool_args,omitempty"`
	ToolResult map[string]interface{} `json:"tool_result,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// ArtifactCategory classifies produced files
type ArtifactCategory string

const (
	ArtifactCategoryCode       ArtifactCategory = "code"
	ArtifactCategoryAsset      ArtifactCategory = "asset"
	ArtifactCategoryDocument   ArtifactCategory = "document"
	ArtifactCategoryScreenshot ArtifactCategory = "screenshot"
)

// ValidationStatus tracks whether an artifact passed its checks
type ValidationStatus string

const (
	ValidationStatusPending ValidationStatus = "pending"
	ValidationStatusValid   ValidationStatus = "valid"
	ValidationStatusInvalid ValidationStatus = "invalid"
)

// Artifact records a file produced by a tool run
type Artifact struct {
	ID               string                 `json:"id"`
	SessionID        string                 `json:"session_id,omitempty"`
	TaskID           string                 `json:"task_id,omitempty"`
	Type             string                 `json:"type"`
	Path             string                 `json:"path"`
	Category         ArtifactCategory       `json:"category,omitempty"`
	Meta             map[string]interface{} `json:"meta,omitempty"`
	ValidationStatus ValidationStatus       `json:"validation_status"`
	SizeBytes        int64                  `json:"size_bytes,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

// TaskStatus represents the execution state of a task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusBlocked    TaskStatus = "blocked"
	TaskStatusDone       TaskStatus = "done"
)

// Task is one unit of plan work. Code (`T-001`, ...) is unique per project
// and is how dependencies reference each other.
type Task struct {
	ID           string                 `json:"id"`
	ProjectID    string                 `json:"project_id"`
	Code         string                 `json:"code"`
	Title        string                 `json:"title"`
	Description  string                 `json:"description,omitempty"`
	Acceptance   string                 `json:"acceptance,omitempty"`
	Status       TaskStatus             `json:"status"`
	Deps         []string               `json:"deps,omitempty"`
	MCPTools     []string               `json:"mcp_tools,omitempty"`
	Deliverables []string               `json:"deliverables,omitempty"`
	Estimates    map[string]interface{} `json:"estimates,omitempty"`
	Priority     int                    `json:"priority"`
	PlanID       string                 `json:"plan_id,omitempty"`
	Idx          int                    `json:"idx"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// StoryPoints reads the storyPoints estimate, defaulting to zero.
func (t *Task) StoryPoints() float64 {
	if t.Estimates == nil {
		return 0
	}
	switch v := t.Estimates["storyPoints"].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

// PlanStatus represents the acceptance state of a plan version
type PlanStatus string

const (
	PlanStatusProposed   PlanStatus = "proposed"
	PlanStatusAccepted   PlanStatus = "accepted"
	PlanStatusSuperseded PlanStatus = "superseded"
)

// PlanCreator identifies who produced a plan version
type PlanCreator string

const (
	PlanCreatorAI     PlanCreator = "ai"
	PlanCreatorUser   PlanCreator = "user"
	PlanCreatorSystem PlanCreator = "system"
)

// TaskPlan is one version of a project's plan. At most one plan per project
// has status=accepted.
type TaskPlan struct {
	ID        string      `json:"id"`
	ProjectID string      `json:"project_id"`
	Version   int         `json:"version"`
	Status    PlanStatus  `json:"status"`
	Summary   string      `json:"summary,omitempty"`
	CreatedBy PlanCreator `json:"created_by"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// ContextScope distinguishes project-wide from per-task contexts
type ContextScope string

const (
	ContextScopeGlobal ContextScope = "global"
	ContextScopeTask   ContextScope = "task"
)

// Context is a versioned snapshot of working knowledge. Within
// (project, scope, task) exactly one row is active.
type Context struct {
	ID        string                 `json:"id"`
	ProjectID string                 `json:"project_id"`
	Scope     ContextScope           `json:"scope"`
	TaskID    string                 `json:"task_id,omitempty"` // Required when Scope == task
	Content   map[string]interface{} `json:"content"`
	Version   int                    `json:"version"`
	IsActive  bool                   `json:"is_active"`
	CreatedBy string                 `json:"created_by,omitempty"`
	Source    string                 `json:"source,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// EventLogEntry is one append-only audit row
type EventLogEntry struct {
	ID        int64                  `json:"id"`
	ProjectID string                 `json:"project_id"`
	EventType string                 `json:"event_type"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
