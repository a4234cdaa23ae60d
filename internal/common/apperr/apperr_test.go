package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorString(t *testing.T) {
	bare := NotFound("project %s not found", "p1")
	if got := bare.Error(); got != "project p1 not found" {
		t.Errorf("Error() = %q", got)
	}

	wrapped := Wrap(KindUpstream, errors.New("connection refused"), "tool %s failed", "unity_play")
	if got := wrapped.Error(); got != "tool unity_play failed: connection refused" {
		t.Errorf("Error() = %q", got)
	}
}

func TestKindOf(t *testing.T) {
	cause := errors.New("disk full")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "constructed", err: Conflict("already running"), want: KindConflict},
		{name: "wrapped cause", err: Wrap(KindTimeout, cause, "budget hit"), want: KindTimeout},
		{name: "nested in fmt chain", err: fmt.Errorf("start: %w", NotRunning("no session")), want: KindNotRunning},
		{name: "plain error", err: cause, want: KindInternal},
		{name: "nil", err: nil, want: KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsKindSeesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("handler: %w", SchemaViolation("args rejected"))
	if !IsKind(err, KindSchemaViolation) {
		t.Errorf("IsKind() = false, want true")
	}
	if IsKind(err, KindNotFound) {
		t.Errorf("IsKind() matched the wrong kind")
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("broken pipe")
	err := Wrap(KindTransportClosed, cause, "stdin write failed")
	if !errors.Is(err, cause) {
		t.Errorf("errors.Is() lost the cause")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindConfigInvalid, http.StatusBadRequest},
		{KindSchemaViolation, http.StatusBadRequest},
		{KindNotFound, http.StatusNotFound},
		{KindConflict, http.StatusConflict},
		{KindPortInUse, http.StatusConflict},
		{KindNotRunning, http.StatusPreconditionFailed},
		{KindBridgesNotReady, http.StatusPreconditionFailed},
		{KindToolNotAllowed, http.StatusForbidden},
		{KindTimeout, http.StatusGatewayTimeout},
		{KindUpstream, http.StatusBadGateway},
		{KindTransportClosed, http.StatusBadGateway},
		{KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := HTTPStatus(New(tt.kind, "x")); got != tt.want {
				t.Errorf("HTTPStatus(%s) = %d, want %d", tt.kind, got, tt.want)
			}
		})
	}

	if got := HTTPStatus(errors.New("anything")); got != http.StatusInternalServerError {
		t.Errorf("HTTPStatus(plain) = %d, want 500", got)
	}
}
