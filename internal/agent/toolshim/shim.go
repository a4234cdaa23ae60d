package toolshim

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/agent/session"
	"github.com/agpstudio/agp/internal/artifacts"
	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/events"
	"github.com/agpstudio/agp/internal/events/bus"
	"github.com/agpstudio/agp/internal/mcp"
	"github.com/agpstudio/agp/internal/project/models"
	"github.com/agpstudio/agp/internal/settings"
)

const (
	defaultMaxCallsPerTurn = 4
	defaultToolTimeout     = 15 * time.Second
)

// ToolRunner executes a whitelisted tool against the MCP adapter.
type ToolRunner interface {
	Invoke(ctx context.Context, name string, args map[string]any, correlationID string) (*mcp.ToolResult, error)
}

// TimelineRepo records tool-call markers on the project timeline.
type TimelineRepo interface {
	AppendGenericEvent(ctx context.Context, projectID, tool string, payload map[string]interface{}, correlationID string) (*models.TimelineEvent, error)
}

// SettingsSource yields the current settings snapshot.
type SettingsSource interface {
	GetAll(maskSecrets bool) (*settings.Settings, error)
}

// ArtifactSink registers files left behind by successful tool calls.
type ArtifactSink interface {
	Record(ctx context.Context, out artifacts.ToolOutput)
}

// Deps carries the shim's collaborators. Artifacts is optional.
type Deps struct {
	Catalog   *Catalog
	Runner    ToolRunner
	Repo      TimelineRepo
	Bus       bus.EventBus
	Settings  SettingsSource
	Artifacts ArtifactSink
	Logger    *logger.Logger
}

// turn tracks one agent turn: a stable id plus how many tool calls the
// agent has spent so far.
type turn struct {
	id    string
	calls int
}

// Shim consumes tool calls from agent sessions. Results are injected
// back into the agent's stdin as tool_result lines, mirrored on the
// project timeline and on an in-process queue for awaiters.
type Shim struct {
	catalog   *Catalog
	runner    ToolRunner
	repo      TimelineRepo
	bus       bus.EventBus
	settings  SettingsSource
	artifacts ArtifactSink
	logger    *logger.Logger
	queue     *resultQueue

	mu    sync.Mutex
	turns map[string]*turn
}

var _ session.ToolHandler = (*Shim)(nil)

func New(deps Deps) *Shim {
	return &Shim{
		catalog:   deps.Catalog,
		runner:    deps.Runner,
		repo:      deps.Repo,
		bus:       deps.Bus,
		settings:  deps.Settings,
		artifacts: deps.Artifacts,
		logger:    deps.Logger.WithFields(zap.String("component", "tool-shim")),
		queue:     newResultQueue(defaultQueueDepth, deps.Logger),
		turns:     make(map[string]*turn),
	}
}

// HandleToolCall runs one tool call end to end: budget check, argument
// validation, timeline markers, adapter invocation and stdin injection.
// It never panics the session, whatever the agent sent.
func (s *Shim) HandleToolCall(ctx context.Context, call session.ToolCall) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tool call handling panicked",
				zap.String("tool", call.Name),
				zap.String("session_id", call.SessionID),
				zap.Any("panic", r))
		}
	}()

	maxCalls, timeout := s.limits()

	s.mu.Lock()
	t := s.turns[call.SessionID]
	if t == nil {
		t = &turn{id: uuid.New().String()}
		s.turns[call.SessionID] = t
		s.logger.Debug("opened tool turn",
			zap.String("session_id", call.SessionID),
			zap.String("turn_id", t.id))
	}
	if t.calls >= maxCalls {
		s.mu.Unlock()
		s.logger.Warn("tool call budget exhausted",
			zap.String("session_id", call.SessionID),
			zap.String("tool", call.Name),
			zap.Int("max_calls", maxCalls))
		s.inject(call, "", toolResultLine{OK: false, Error: fmt.Sprintf("maxCallsPerTurn exceeded (%d)", maxCalls)})
		return
	}
	t.calls++
	turnID := t.id
	s.mu.Unlock()

	requestID := uuid.New().String()
	log := s.logger.WithFields(
		zap.String("session_id", call.SessionID),
		zap.String("turn_id", turnID),
		zap.String("tool", call.Name),
		zap.String("request_id", requestID))

	if err := s.catalog.Validate(call.Name, call.Args); err != nil {
		log.Warn("rejected tool call", zap.Error(err))
		s.inject(call, requestID, toolResultLine{Name: call.Name, OK: false, Error: err.Error()})
		return
	}

	s.appendTimeline(ctx, call, "tool_call.started", map[string]interface{}{
		"name":      call.Name,
		"args":      call.Args,
		"requestId": requestID,
	})

	started := time.Now()
	result, runErr := s.run(ctx, call, timeout)
	durationMs := time.Since(started).Milliseconds()

	line := toolResultLine{Name: call.Name}
	finished := map[string]interface{}{
		"durationMs": durationMs,
		"requestId":  requestID,
	}
	switch {
	case runErr != nil:
		line.Error = runErr.Error()
	case !result.OK():
		line.Error = result.Error
	default:
		line.OK = true
		line.Result = result.Result
	}
	finished["ok"] = line.OK
	if line.OK {
		finished["result"] = line.Result
	} else {
		finished["error"] = line.Error
		log.Warn("tool call failed", zap.String("error", line.Error), zap.Int64("duration_ms", durationMs))
	}

	s.inject(call, requestID, line)
	s.appendTimeline(ctx, call, "tool_call.finished", finished)

	if line.OK {
		if s.artifacts != nil {
			s.artifacts.Record(ctx, artifacts.ToolOutput{
				ProjectID:     call.ProjectID,
				SessionID:     call.SessionID,
				CorrelationID: call.CorrelationID,
				Tool:          call.Name,
				Args:          call.Args,
				Result:        line.Result,
			})
		}
		if mcp.SceneAffecting(call.Name) {
			s.publishScene(ctx, call, line.Result)
		}
		log.Info("tool call finished", zap.Int64("duration_ms", durationMs))
	}
}

// EndTurn closes the session's turn so the next tool call starts a
// fresh budget. Fired on final and error provider events.
func (s *Shim) EndTurn(ctx context.Context, sessionID string) {
	s.mu.Lock()
	t := s.turns[sessionID]
	delete(s.turns, sessionID)
	s.mu.Unlock()

	if t != nil {
		s.logger.Debug("closed tool turn",
			zap.String("session_id", sessionID),
			zap.String("turn_id", t.id),
			zap.Int("calls", t.calls))
	}
}

// AwaitResult blocks until a tool result for (name, correlationID)
// lands on the in-process queue or the context ends.
func (s *Shim) AwaitResult(ctx context.Context, name, correlationID string) (QueuedResult, error) {
	return s.queue.await(ctx, name, correlationID)
}

// TakeResult pops the oldest queued result for (name, correlationID).
func (s *Shim) TakeResult(name, correlationID string) (QueuedResult, bool) {
	return s.queue.take(name, correlationID)
}

// run dispatches the call to the adapter. ping is answered locally so
// the loop stays testable with no bridges at all.
func (s *Shim) run(ctx context.Context, call session.ToolCall, timeout time.Duration) (*mcp.ToolResult, error) {
	if call.Name == mcp.ToolPing {
		return &mcp.ToolResult{Status: "ok", Result: map[string]any{"pong": true}}, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.runner.Invoke(runCtx, call.Name, call.Args, call.CorrelationID)
}

type toolResultLine struct {
	Name   string         `json:"name,omitempty"`
	OK     bool           `json:"ok"`
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// inject writes the tool_result line to the agent's stdin and mirrors
// it on the result queue.
func (s *Shim) inject(call session.ToolCall, requestID string, line toolResultLine) {
	raw, err := json.Marshal(map[string]any{"tool_result": line})
	if err != nil {
		s.logger.Error("failed to encode tool result", zap.Error(err))
		return
	}
	if call.Inject == nil {
		s.logger.Warn("tool call has no inject hook, result goes to the queue only",
			zap.String("session_id", call.SessionID),
			zap.String("tool", call.Name))
	} else if err := call.Inject(string(raw)); err != nil {
		s.logger.Warn("failed to inject tool result",
			zap.String("session_id", call.SessionID),
			zap.String("tool", call.Name),
			zap.Error(err))
	}

	s.queue.push(QueuedResult{
		Name:          call.Name,
		CorrelationID: call.CorrelationID,
		RequestID:     requestID,
		OK:            line.OK,
		Result:        line.Result,
		Error:         line.Error,
		At:            time.Now().UTC(),
	})
}

func (s *Shim) appendTimeline(ctx context.Context, call session.ToolCall, marker string, payload map[string]interface{}) {
	row, err := s.repo.AppendGenericEvent(ctx, call.ProjectID, marker, payload, call.CorrelationID)
	if err != nil {
		s.logger.Error("failed to record tool call on the timeline",
			zap.String("marker", marker),
			zap.String("project_id", call.ProjectID),
			zap.Error(err))
		return
	}

	subject := events.BuildTimelineSubject(call.ProjectID)
	ev := bus.NewEvent(events.TimelineAppended, "tool-shim", row)
	if err := s.bus.Publish(ctx, subject, ev); err != nil {
		s.logger.Warn("failed to publish timeline event", zap.Error(err))
	}
}

// publishScene tells scene views to refresh after the agent ran a tool
// that touched the engine scene.
func (s *Shim) publishScene(ctx context.Context, call session.ToolCall, result map[string]any) {
	subject := events.BuildSceneSubject(call.ProjectID)
	ev := bus.NewEvent(events.SceneUpdated, "tool-shim", map[string]interface{}{
		"projectId":     call.ProjectID,
		"tool":          call.Name,
		"data":          result,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"correlationId": call.CorrelationID,
	})
	if err := s.bus.Publish(ctx, subject, ev); err != nil {
		s.logger.Warn("failed to publish scene event", zap.Error(err))
	}
}

func (s *Shim) limits() (int, time.Duration) {
	maxCalls, timeout := defaultMaxCallsPerTurn, defaultToolTimeout
	cfg, err := s.settings.GetAll(false)
	if err != nil {
		s.logger.Warn("failed to load settings, using default tool limits", zap.Error(err))
		return maxCalls, timeout
	}
	if cfg.Agents.MaxCallsPerTurn > 0 {
		maxCalls = cfg.Agents.MaxCallsPerTurn
	}
	if cfg.Agents.ToolTimeoutSeconds > 0 {
		timeout = time.Duration(cfg.Agents.ToolTimeoutSeconds) * time.Second
	}
	return maxCalls, timeout
}
