// Package events provides event types and utilities for the AGP event system.
package events

// Event types for projects
const (
	ProjectCreated   = "project.created"
	ProjectUpdated   = "project.updated"
	ProjectDeleted   = "project.deleted"
	ProjectActivated = "project.activated"
)

// Event types for chat
const (
	ChatMessageAdded = "chat.message" // Base subject for chat messages
)

// Event types for the timeline
const (
	TimelineAppended = "timeline.appended" // Base subject for timeline rows
)

// Event types for agent sessions
const (
	AgentStateChanged = "agent.state"  // Base subject for session state transitions
	AgentOutput       = "agent.output" // Base subject for raw provider output
)

// Event types for supervised processes
const (
	ProcessOutput = "process.output" // Process output data
	ProcessStatus = "process.status" // Process status updates
)

// Event types for tool actions
const (
	ActionStarted   = "action.started"
	ActionCompleted = "action.completed"
)

// Event types for user-facing errors
const (
	ErrorRaised = "error.raised"
)

// Event types for scene updates from the bridges
const (
	SceneUpdated = "scene.updated" // Base subject for scene snapshots
)

// Event types for plans
const (
	PlanGenerated = "plan.generated"
	PlanRefined   = "plan.refined"
	PlanAccepted  = "plan.accepted"
	PlanEdited    = "plan.edited"
)

// Event types for tasks
const (
	TaskStarted   = "task.started"
	TaskProgress  = "task.progress"
	TaskBlocked   = "task.blocked"
	TaskCompleted = "task.completed"
)

// Event types for contexts
const (
	ContextUpdated   = "context.updated"
	ContextGenerated = "context.generated"
)

// Event types for artifacts
const (
	ArtifactCreated   = "artifact.created"
	ArtifactValidated = "artifact.validated"
)

// Event types for settings
const (
	SettingsUpdated = "settings.updated"
)

// BuildChatMessageSubject creates a chat message subject for a specific project
func BuildChatMessageSubject(projectID string) string {
	return ChatMessageAdded + "." + projectID
}

// BuildChatMessageWildcardSubject creates a wildcard subscription for all chat messages
func BuildChatMessageWildcardSubject() string {
	return ChatMessageAdded + ".*"
}

// BuildTimelineSubject creates a timeline subject for a specific project
func BuildTimelineSubject(projectID string) string {
	return TimelineAppended + "." + projectID
}

// BuildTimelineWildcardSubject creates a wildcard subscription for all timeline rows
func BuildTimelineWildcardSubject() string {
	return TimelineAppended + ".*"
}

// BuildAgentStateSubject creates an agent state subject for a specific project
func BuildAgentStateSubject(projectID string) string {
	return AgentStateChanged + "." + projectID
}

// BuildAgentStateWildcardSubject creates a wildcard subscription for all agent state events
func BuildAgentStateWildcardSubject() string {
	return AgentStateChanged + ".*"
}

// BuildAgentOutputSubject creates an agent output subject for a specific project
func BuildAgentOutputSubject(projectID string) string {
	return AgentOutput + "." + projectID
}

// BuildAgentOutputWildcardSubject creates a wildcard subscription for all agent output
func BuildAgentOutputWildcardSubject() string {
	return AgentOutput + ".*"
}

// BuildProcessOutputSubject creates a process output subject for a specific process
func BuildProcessOutputSubject(name string) string {
	return ProcessOutput + "." + name
}

// BuildProcessOutputWildcardSubject creates a wildcard subject for all process output events
func BuildProcessOutputWildcardSubject() string {
	return ProcessOutput + ".*"
}

// BuildProcessStatusSubject creates a process status subject for a specific process
func BuildProcessStatusSubject(name string) string {
	return ProcessStatus + "." + name
}

// BuildProcessStatusWildcardSubject creates a wildcard subject for all process status events
func BuildProcessStatusWildcardSubject() string {
	return ProcessStatus + ".*"
}

// BuildSceneSubject creates a scene update subject for a specific project
func BuildSceneSubject(projectID string) string {
	return SceneUpdated + "." + projectID
}

// BuildSceneWildcardSubject creates a wildcard subscription for all scene updates
func BuildSceneWildcardSubject() string {
	return SceneUpdated + ".*"
}
