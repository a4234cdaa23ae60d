// Package apperr defines the error taxonomy shared by services and handlers.
// Services return *Error values (or wrap them); handlers map the Kind to an
// HTTP status and a stable wire code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers and for the wire.
type Kind string

const (
	KindConfigInvalid   Kind = "config_invalid"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindNotRunning      Kind = "not_running"
	KindBridgesNotReady Kind = "bridges_not_ready"
	KindPortInUse       Kind = "port_in_use"
	KindToolNotAllowed  Kind = "tool_not_allowed"
	KindSchemaViolation Kind = "schema_violation"
	KindTimeout         Kind = "timeout"
	KindUpstream        Kind = "upstream"
	KindTransportClosed Kind = "transport_closed"
	KindInternal        Kind = "internal"
)

// Error carries a Kind alongside the message and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error with the given kind and message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an existing error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// ConfigInvalid reports settings validation failures. The message carries
// all collected validation errors.
func ConfigInvalid(format string, args ...any) *Error {
	return New(KindConfigInvalid, format, args...)
}

// NotFound reports a missing entity.
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

// Conflict reports an operation that would violate an invariant.
func Conflict(format string, args ...any) *Error {
	return New(KindConflict, format, args...)
}

// NotRunning reports an operation that requires a running subprocess.
func NotRunning(format string, args ...any) *Error {
	return New(KindNotRunning, format, args...)
}

// BridgesNotReady reports a failed bridge preflight.
func BridgesNotReady(format string, args ...any) *Error {
	return New(KindBridgesNotReady, format, args...)
}

// PortInUse reports a busy TCP port found during preflight.
func PortInUse(format string, args ...any) *Error {
	return New(KindPortInUse, format, args...)
}

// ToolNotAllowed reports a tool absent from the catalog whitelist.
func ToolNotAllowed(format string, args ...any) *Error {
	return New(KindToolNotAllowed, format, args...)
}

// SchemaViolation reports tool arguments failing catalog validation.
func SchemaViolation(format string, args ...any) *Error {
	return New(KindSchemaViolation, format, args...)
}

// Timeout reports an operation exceeding its budget.
func Timeout(format string, args ...any) *Error {
	return New(KindTimeout, format, args...)
}

// Upstream reports a failure reply from the adapter, a bridge or the engine.
func Upstream(format string, args ...any) *Error {
	return New(KindUpstream, format, args...)
}

// KindOf extracts the Kind from an error chain, KindInternal when none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a kind to a response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindConfigInvalid, KindSchemaViolation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindPortInUse:
		return http.StatusConflict
	case KindNotRunning, KindBridgesNotReady:
		return http.StatusPreconditionFailed
	case KindToolNotAllowed:
		return http.StatusForbidden
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindUpstream, KindTransportClosed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
