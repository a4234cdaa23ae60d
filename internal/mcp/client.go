// Package mcp is the backend's client side of the MCP adapter: a lazy
// streamable HTTP session, per-family call budgets and a normalized
// result envelope for the tool shim and the action orchestrator.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/common/apperr"
	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/common/tracing"
	"github.com/agpstudio/agp/internal/settings"
)

const (
	maxAttempts = 2
	retryDelay  = 200 * time.Millisecond

	defaultBlenderTimeout = 20 * time.Second
	defaultUnityTimeout   = 15 * time.Second
)

// SettingsSource provides the current configuration.
type SettingsSource interface {
	GetAll(maskSecrets bool) (*settings.Settings, error)
}

// ToolResult is the adapter's JSON envelope flattened into one struct.
// Status is "ok" or "error"; Raw keeps the unparsed text for debugging.
type ToolResult struct {
	Status string         `json:"status"`
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
	Raw    string         `json:"raw,omitempty"`
}

// OK reports whether the call succeeded on the adapter side.
func (r *ToolResult) OK() bool { return r.Status == "ok" }

// Client talks to the MCP adapter. The session is built on first use and
// rebuilt when the adapter port changes or the transport drops.
type Client struct {
	settings SettingsSource
	logger   *logger.Logger
	tracer   trace.Tracer

	mu      sync.Mutex
	session *client.Client
	baseURL string
}

func New(settingsSvc SettingsSource, log *logger.Logger) *Client {
	return &Client{
		settings: settingsSvc,
		logger:   log.WithFields(zap.String("component", "mcp-client")),
		tracer:   tracing.Tracer("mcp"),
	}
}

// RunTool invokes one adapter tool and normalizes the response. Transport
// failures get one retry after a short delay; errors the adapter reports
// come back as a result with status "error" and no Go error.
func (c *Client) RunTool(ctx context.Context, name string, args map[string]any, correlationID string) (*ToolResult, error) {
	timeout := c.callTimeout(name)

	ctx, span := c.tracer.Start(ctx, "mcp."+name, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("tool", name))
	if correlationID != "" {
		span.SetAttributes(attribute.String("correlation_id", correlationID))
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			c.dropSession()
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
			case <-time.After(retryDelay):
			}
			if ctx.Err() != nil {
				break
			}
			c.logger.Warn("retrying mcp call", zap.String("tool", name), zap.Error(lastErr))
		}

		res, err := c.callOnce(ctx, name, args, timeout)
		if err == nil {
			span.SetAttributes(attribute.String("status", res.Status))
			return res, nil
		}
		lastErr = err
		if !transient(err) {
			break
		}
	}

	span.RecordError(lastErr)
	if errors.Is(lastErr, context.DeadlineExceeded) {
		return nil, apperr.Timeout("tool %s did not answer within %s", name, timeout)
	}
	return nil, apperr.Wrap(apperr.KindUpstream, lastErr, "tool %s failed", name)
}

// Ping checks that the adapter answers on its MCP endpoint.
func (c *Client) Ping(ctx context.Context) error {
	sess, err := c.ensureSession(ctx)
	if err != nil {
		return err
	}
	if err := sess.Ping(ctx); err != nil {
		c.dropSession()
		return apperr.Wrap(apperr.KindUpstream, err, "mcp adapter did not answer the ping")
	}
	return nil
}

// Close shuts the transport down.
func (c *Client) Close() { c.dropSession() }

func (c *Client) callOnce(ctx context.Context, name string, args map[string]any, timeout time.Duration) (*ToolResult, error) {
	sess, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := sess.CallTool(callCtx, req)
	if err != nil {
		return nil, err
	}
	return normalize(res), nil
}

// ensureSession returns a connected MCP session, dialing the adapter port
// from the current settings on demand.
func (c *Client) ensureSession(ctx context.Context) (*client.Client, error) {
	cfg, err := c.settings.GetAll(false)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("http://127.0.0.1:%d/mcp", cfg.Bridges.MCPAdapterPort)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil && c.baseURL == url {
		return c.session, nil
	}
	if c.session != nil {
		_ = c.session.Close()
		c.session = nil
	}

	sess, err := client.NewStreamableHttpClient(url)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, err, "failed to build the mcp client for %s", url)
	}
	if err := sess.Start(ctx); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, err, "failed to reach the mcp adapter at %s", url)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "agp-backend", Version: "1.0.0"}
	if _, err := sess.Initialize(ctx, initReq); err != nil {
		_ = sess.Close()
		return nil, apperr.Wrap(apperr.KindUpstream, err, "mcp initialize against %s failed", url)
	}

	c.session = sess
	c.baseURL = url
	c.logger.Info("connected to the mcp adapter", zap.String("url", url))
	return sess, nil
}

func (c *Client) dropSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		_ = c.session.Close()
		c.session = nil
	}
}

// callTimeout picks the per-family budget: blender tools wait on the
// add-on, everything else on the engine editor.
func (c *Client) callTimeout(name string) time.Duration {
	blender, unity := defaultBlenderTimeout, defaultUnityTimeout
	if cfg, err := c.settings.GetAll(false); err == nil {
		if cfg.Timeouts.BlenderAddon > 0 {
			blender = time.Duration(cfg.Timeouts.BlenderAddon) * time.Second
		}
		if cfg.Timeouts.UnityEditor > 0 {
			unity = time.Duration(cfg.Timeouts.UnityEditor) * time.Second
		}
	}
	if strings.HasPrefix(name, "blender") {
		return blender
	}
	return unity
}

// transient reports whether an attempt is worth repeating: connection
// level failures and deadline hits, never protocol or validation errors.
func transient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// normalize flattens an MCP result into the adapter envelope. The adapter
// answers with JSON text content {status, result|error, raw?}.
func normalize(res *mcp.CallToolResult) *ToolResult {
	text := textContent(res)

	if res.IsError {
		return &ToolResult{Status: "error", Error: strings.TrimSpace(text), Raw: text}
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return &ToolResult{Status: "error", Error: "adapter returned a non-JSON payload", Raw: text}
	}

	out := &ToolResult{Status: "ok", Raw: text}
	if status, ok := payload["status"].(string); ok && status != "" {
		out.Status = status
	}
	if out.Status != "ok" {
		if msg, ok := payload["error"].(string); ok && msg != "" {
			out.Error = msg
		} else {
			out.Error = "adapter reported an error"
		}
		return out
	}
	if result, ok := payload["result"].(map[string]any); ok {
		out.Result = result
	} else {
		out.Result = payload
	}
	return out
}

func textContent(res *mcp.CallToolResult) string {
	var b strings.Builder
	for _, item := range res.Content {
		if tc, ok := item.(mcp.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}
