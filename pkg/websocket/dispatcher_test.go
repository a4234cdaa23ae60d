package websocket

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_RoutesToHandler(t *testing.T) {
	d := NewDispatcher()
	d.RegisterFunc(ActionChatSend, func(ctx context.Context, msg *Message) (*Message, error) {
		return NewResponse(msg.ID, msg.Action, map[string]interface{}{"queued": true})
	})

	req, err := NewRequest("req-1", ActionChatSend, map[string]interface{}{"text": "hi"})
	require.NoError(t, err)

	resp, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, MessageTypeResponse, resp.Type)
	assert.Equal(t, "req-1", resp.ID)

	var payload map[string]interface{}
	require.NoError(t, resp.ParsePayload(&payload))
	assert.Equal(t, true, payload["queued"])
}

func TestDispatcher_UnknownAction(t *testing.T) {
	d := NewDispatcher()

	req, err := NewRequest("req-2", "no.such.action", nil)
	require.NoError(t, err)

	resp, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, MessageTypeError, resp.Type)

	var payload ErrorPayload
	require.NoError(t, resp.ParsePayload(&payload))
	assert.Equal(t, ErrorCodeUnknownAction, payload.Code)
}

func TestDispatcher_PanicBecomesErrorResponse(t *testing.T) {
	d := NewDispatcher()
	d.RegisterFunc(ActionPlanExecute, func(ctx context.Context, msg *Message) (*Message, error) {
		panic("boom")
	})

	req, err := NewRequest("req-3", ActionPlanExecute, nil)
	require.NoError(t, err)

	resp, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, MessageTypeError, resp.Type)

	var payload ErrorPayload
	require.NoError(t, resp.ParsePayload(&payload))
	assert.Equal(t, ErrorCodeInternalError, payload.Code)
	assert.Contains(t, payload.Message, "boom")
}

func TestDispatcher_Actions(t *testing.T) {
	d := NewDispatcher()
	d.RegisterFunc(ActionChatSend, func(ctx context.Context, msg *Message) (*Message, error) { return nil, nil })
	d.RegisterFunc(ActionChatHistory, func(ctx context.Context, msg *Message) (*Message, error) { return nil, nil })

	assert.Equal(t, []string{ActionChatHistory, ActionChatSend}, d.Actions())
	assert.True(t, d.HasHandler(ActionChatSend))
	assert.False(t, d.HasHandler(ActionPlanExecute))
}

func TestNewCorrelatedEnvelope(t *testing.T) {
	env, err := NewCorrelatedEnvelope(EventTimeline, "proj-1", "corr-1", map[string]interface{}{
		"eventType": "tool_call.started",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, env.ID)
	assert.Equal(t, EventTimeline, env.Type)
	assert.Equal(t, "proj-1", env.ProjectID)
	assert.Equal(t, "corr-1", env.CorrelationID)
	assert.False(t, env.Timestamp.IsZero())

	// Wire form uses the camelCase names the frontend reads.
	raw, err := env.Encode()
	require.NoError(t, err)
	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &wire))
	assert.Equal(t, "proj-1", wire["projectId"])
	assert.Equal(t, "corr-1", wire["correlationId"])
	assert.Equal(t, "timeline", wire["type"])
}
