package websocket

// Action constants for WebSocket messages
const (
	// Health
	ActionHealthCheck = "health.check"

	// Room membership
	ActionProjectSubscribe   = "project.subscribe"
	ActionProjectUnsubscribe = "project.unsubscribe"

	// Chat actions
	ActionChatSend    = "chat.send"
	ActionChatHistory = "chat.history"

	// Plan actions
	ActionPlanExecute = "plan.execute"

	// Session actions
	ActionSessionStatus = "session.status"
	ActionSessionStart  = "session.start"
	ActionSessionStop   = "session.stop"

	// Timeline actions
	ActionTimelineList   = "timeline.list"
	ActionTimelineRevert = "timeline.revert"
)

// Error codes
const (
	ErrorCodeBadRequest    = "BAD_REQUEST"
	ErrorCodeNotFound      = "NOT_FOUND"
	ErrorCodeConflict      = "CONFLICT"
	ErrorCodeNotRunning    = "NOT_RUNNING"
	ErrorCodeInternalError = "INTERNAL_ERROR"
	ErrorCodeForbidden     = "FORBIDDEN"
	ErrorCodeValidation    = "VALIDATION_ERROR"
	ErrorCodeUnknownAction = "UNKNOWN_ACTION"
)
