package main

import (
	"context"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mark3labs/mcp-go/mcp"
)

// bridgeRequest is the frame sent to a bridge: one tool call per
// connection, correlated by id.
type bridgeRequest struct {
	ID     string         `json:"id"`
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params,omitempty"`
}

// bridgeReply is what a bridge answers with. Frames with a foreign id or
// no status are unsolicited pushes and are skipped.
type bridgeReply struct {
	ID     string         `json:"id"`
	Status string         `json:"status"`
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// callBridge dials the bridge, sends one tool frame and waits for the
// matching reply. The connection is per-call; bridges treat each socket
// as one request.
func callBridge(ctx context.Context, url, tool string, params map[string]any) (*mcp.CallToolResult, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}

	frame := bridgeRequest{ID: uuid.NewString(), Tool: tool, Params: params}
	if err := conn.WriteJSON(frame); err != nil {
		return nil, err
	}

	for {
		var reply bridgeReply
		if err := conn.ReadJSON(&reply); err != nil {
			return nil, err
		}
		if reply.ID != "" && reply.ID != frame.ID {
			continue
		}
		if reply.Status == "" {
			continue
		}
		if reply.Status != "ok" {
			msg := reply.Error
			if msg == "" {
				msg = "bridge reported an error"
			}
			return failResult("%s", msg), nil
		}
		return okResult(reply.Result), nil
	}
}
