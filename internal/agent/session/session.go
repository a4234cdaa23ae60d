// Package session runs one AI CLI subprocess per active project. It feeds
// user text to the CLI's stdin, demultiplexes its output into chat
// messages, transcript rows and tool calls, and owns the process
// lifecycle from launch to termination.
package session

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/agent/launcher"
	"github.com/agpstudio/agp/internal/agent/provider"
	"github.com/agpstudio/agp/internal/common/apperr"
	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/events"
	"github.com/agpstudio/agp/internal/events/bus"
	"github.com/agpstudio/agp/internal/project/models"
)

// State is the lifecycle phase of a session.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

const (
	scanBufferSize = 64 * 1024
	scanMaxToken   = 1024 * 1024
	killWait       = 2 * time.Second
)

// Repo is the slice of the storage layer the session writes.
type Repo interface {
	CreateAgentSession(ctx context.Context, s *models.AgentSession) error
	GetOpenAgentSession(ctx context.Context, projectID string) (*models.AgentSession, error)
	EndAgentSession(ctx context.Context, id, summary string) error
	AddAgentMessage(ctx context.Context, m *models.AgentMessage) error
	AddChatMessage(ctx context.Context, m *models.ChatMessage) error
}

// ToolCall is one provider tool_call surrendered to the shim. Inject
// writes a line back to this session's stdin and records it in the
// transcript.
type ToolCall struct {
	SessionID     string
	ProjectID     string
	CorrelationID string
	Name          string
	Args          map[string]any
	Inject        func(line string) error
}

// ToolHandler consumes tool calls. EndTurn fires on a final or error
// provider event so the handler can reset its per-turn budget.
type ToolHandler interface {
	HandleToolCall(ctx context.Context, call ToolCall)
	EndTurn(ctx context.Context, sessionID string)
}

// SendReceipt acknowledges a queued user message. MsgID is the stable
// chat id the UI can correlate on.
type SendReceipt struct {
	Queued bool   `json:"queued"`
	MsgID  string `json:"msgId"`
}

// Status is a point-in-time snapshot of one session.
type Status struct {
	SessionID string    `json:"sessionId,omitempty"`
	ProjectID string    `json:"projectId"`
	Provider  string    `json:"provider,omitempty"`
	State     State     `json:"state"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	Sent      int       `json:"sent"`
	ToolCalls int       `json:"toolCalls"`
}

// ChatEvent is the bus payload for chat.message subjects.
type ChatEvent struct {
	Message       *models.ChatMessage `json:"message"`
	CorrelationID string              `json:"correlationId,omitempty"`
}

// OutputEvent is the bus payload for agent.output subjects.
type OutputEvent struct {
	SessionID string `json:"sessionId"`
	ProjectID string `json:"projectId"`
	Kind      string `json:"kind"`
	Text      string `json:"text"`
}

// StateEvent is the bus payload for agent.state subjects.
type StateEvent struct {
	SessionID  string `json:"sessionId"`
	ProjectID  string `json:"projectId"`
	State      State  `json:"state"`
	ReturnCode int    `json:"returnCode,omitempty"`
}

// Session wraps one running CLI subprocess.
type Session struct {
	id        string
	projectID string
	provider  string

	adapter provider.Adapter
	proc    *launcher.Proc
	repo    Repo
	bus     bus.EventBus
	tools   ToolHandler
	logger  *logger.Logger
	grace   time.Duration

	mu          sync.Mutex
	state       State
	correlation string
	startedAt   time.Time
	sent        int
	toolCalls   int
	assistant   strings.Builder

	stdinMu sync.Mutex

	readers sync.WaitGroup
	done    chan struct{}
}

func newSession(id, projectID, providerName string, adapter provider.Adapter, proc *launcher.Proc, repo Repo, eventBus bus.EventBus, tools ToolHandler, grace time.Duration, log *logger.Logger) *Session {
	s := &Session{
		id:        id,
		projectID: projectID,
		provider:  providerName,
		adapter:   adapter,
		proc:      proc,
		repo:      repo,
		bus:       eventBus,
		tools:     tools,
		logger:    log.WithProjectID(projectID).WithFields(zap.String("session_id", id)),
		grace:     grace,
		state:     StateRunning,
		startedAt: time.Now().UTC(),
		done:      make(chan struct{}),
	}

	s.readers.Add(1)
	go s.readStdout()
	if proc.Stderr != nil {
		s.readers.Add(1)
		go s.readStderr()
	}
	go s.waitForExit()
	return s
}

// Done closes when the CLI has exited and its pipes are drained.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status snapshots the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		SessionID: s.id,
		ProjectID: s.projectID,
		Provider:  s.provider,
		State:     s.state,
		StartedAt: s.startedAt,
		Sent:      s.sent,
		ToolCalls: s.toolCalls,
	}
	if s.proc != nil && s.proc.Cmd.Process != nil {
		st.PID = s.proc.Cmd.Process.Pid
	}
	return st
}

// Send queues one user message on the CLI's stdin, persists it to the
// chat and the transcript, and broadcasts it.
func (s *Session) Send(ctx context.Context, text, correlationID string) (*SendReceipt, error) {
	s.mu.Lock()
	if s.state != StateRunning {
		state := s.state
		s.mu.Unlock()
		return nil, apperr.NotRunning("agent session for project %s is %s", s.projectID, state)
	}
	s.correlation = correlationID
	s.sent++
	s.mu.Unlock()

	if err := s.writeLine(text); err != nil {
		return nil, apperr.Wrap(apperr.KindTransportClosed, err, "failed to write to the agent stdin")
	}

	chat := &models.ChatMessage{
		MsgID:     uuid.NewString(),
		ProjectID: s.projectID,
		Role:      models.ChatRoleUser,
		Content:   strings.TrimRight(text, "\r\n"),
	}
	if err := s.repo.AddChatMessage(ctx, chat); err != nil {
		s.logger.Error("failed to persist chat message", zap.Error(err))
	}
	if err := s.repo.AddAgentMessage(ctx, &models.AgentMessage{
		SessionID: s.id,
		Role:      models.AgentMessageRoleUser,
		Content:   chat.Content,
	}); err != nil {
		s.logger.Error("failed to persist transcript row", zap.Error(err))
	}
	s.publishChat(ctx, chat, correlationID)

	return &SendReceipt{Queued: true, MsgID: chat.MsgID}, nil
}

// Stop terminates the CLI, escalating to kill after the grace period.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRunning && s.state != StateStarting {
		state := s.state
		s.mu.Unlock()
		return apperr.NotRunning("agent session for project %s is %s", s.projectID, state)
	}
	s.state = StateStopping
	s.mu.Unlock()
	s.publishState(ctx, StateStopping, 0)

	// Closing stdin lets well-behaved CLIs finish on their own.
	_ = s.proc.Stdin.Close()
	_ = launcher.Terminate(s.proc.Cmd.Process)

	select {
	case <-s.done:
		return nil
	case <-time.After(s.grace):
	}

	s.logger.Warn("grace period expired, killing agent cli")
	_ = s.proc.Cmd.Process.Kill()

	select {
	case <-s.done:
	case <-time.After(killWait):
		s.logger.Error("agent cli did not exit after kill")
	}
	return nil
}

// writeLine serializes stdin writes; the CLI reads line-delimited input.
func (s *Session) writeLine(line string) error {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	s.stdinMu.Lock()
	defer s.stdinMu.Unlock()
	_, err := s.proc.Stdin.Write([]byte(line))
	return err
}

// injector returns the stdin writer handed to the tool shim. Injected
// lines land in the transcript as tool rows.
func (s *Session) injector() func(string) error {
	return func(line string) error {
		if err := s.writeLine(line); err != nil {
			return err
		}
		if err := s.repo.AddAgentMessage(context.Background(), &models.AgentMessage{
			SessionID: s.id,
			Role:      models.AgentMessageRoleTool,
			Content:   strings.TrimRight(line, "\n"),
		}); err != nil {
			s.logger.Error("failed to persist injected tool result", zap.Error(err))
		}
		return nil
	}
}

func (s *Session) readStdout() {
	defer s.readers.Done()
	scanner := bufio.NewScanner(s.proc.Stdout)
	scanner.Buffer(make([]byte, scanBufferSize), scanMaxToken)
	for scanner.Scan() {
		line := strings.TrimRight(strings.ToValidUTF8(scanner.Text(), "�"), "\r")
		if s.proc.Pty {
			line = stripANSI(line)
		}
		s.handleLine(context.Background(), line)
	}
	if err := scanner.Err(); err != nil {
		// A pty master errors out when the child exits; nothing to do.
		s.logger.Debug("stdout reader closed", zap.Error(err))
	}
}

func (s *Session) readStderr() {
	defer s.readers.Done()
	scanner := bufio.NewScanner(s.proc.Stderr)
	scanner.Buffer(make([]byte, scanBufferSize), scanMaxToken)
	for scanner.Scan() {
		line := strings.TrimRight(strings.ToValidUTF8(scanner.Text(), "�"), "\r")
		if line == "" {
			continue
		}
		if benignStderr(line) {
			s.logger.Debug("agent stderr", zap.String("line", line))
			continue
		}
		s.logger.Info("agent stderr", zap.String("line", line))
		s.publishOutput(context.Background(), "stderr", line)
	}
}

// handleLine parses one stdout line and routes the resulting event.
// Downstream failures are logged and never unwind into the read loop.
func (s *Session) handleLine(ctx context.Context, line string) {
	ev := s.adapter.ParseLine(line)
	if ev == nil {
		return
	}

	switch ev.Kind {
	case provider.EventToken:
		s.mu.Lock()
		s.assistant.WriteString(ev.Text)
		s.assistant.WriteByte('\n')
		s.mu.Unlock()
		s.publishOutput(ctx, "token", ev.Text)

	case provider.EventToolCall:
		s.mu.Lock()
		s.toolCalls++
		correlation := s.correlation
		s.mu.Unlock()

		if err := s.repo.AddAgentMessage(ctx, &models.AgentMessage{
			SessionID: s.id,
			Role:      models.AgentMessageRoleTool,
			Content:   ev.Raw,
			ToolName:  ev.Name,
			ToolArgs:  ev.Args,
		}); err != nil {
			s.logger.Error("failed to persist tool call", zap.Error(err))
		}
		if s.tools != nil {
			s.tools.HandleToolCall(ctx, ToolCall{
				SessionID:     s.id,
				ProjectID:     s.projectID,
				CorrelationID: correlation,
				Name:          ev.Name,
				Args:          ev.Args,
				Inject:        s.injector(),
			})
		}

	case provider.EventFinal:
		s.finishTurn(ctx, ev.Text, "")

	case provider.EventError:
		s.finishTurn(ctx, "", ev.Text)
	}
}

// finishTurn flushes the accumulated assistant text as one chat message
// and closes the tool turn.
func (s *Session) finishTurn(ctx context.Context, finalText, errText string) {
	s.mu.Lock()
	content := strings.TrimSpace(s.assistant.String())
	s.assistant.Reset()
	correlation := s.correlation
	s.mu.Unlock()

	if finalText != "" {
		if content != "" {
			content += "\n"
		}
		content += finalText
	}
	if errText != "" {
		s.logger.Warn("provider reported an error", zap.String("error", errText))
		s.publishOutput(ctx, "error", errText)
		if content == "" {
			content = "agent error: " + errText
		}
	}

	if content != "" {
		chat := &models.ChatMessage{
			MsgID:     uuid.NewString(),
			ProjectID: s.projectID,
			Role:      models.ChatRoleAgent,
			Content:   content,
		}
		if err := s.repo.AddChatMessage(ctx, chat); err != nil {
			s.logger.Error("failed to persist chat message", zap.Error(err))
		}
		if err := s.repo.AddAgentMessage(ctx, &models.AgentMessage{
			SessionID: s.id,
			Role:      models.AgentMessageRoleAssistant,
			Content:   content,
		}); err != nil {
			s.logger.Error("failed to persist transcript row", zap.Error(err))
		}
		s.publishChat(ctx, chat, correlation)
	}

	if s.tools != nil {
		s.tools.EndTurn(ctx, s.id)
	}
}

// waitForExit drains the pipes, reaps the process, closes the session row
// and settles the state back to idle.
func (s *Session) waitForExit() {
	s.readers.Wait()
	err := s.proc.Cmd.Wait()

	code := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	} else if err != nil {
		code = -1
	}

	s.mu.Lock()
	expected := s.state == StateStopping
	s.state = StateIdle
	sent, calls := s.sent, s.toolCalls
	s.mu.Unlock()

	if expected {
		s.logger.Info("agent cli exited", zap.Int("code", code))
	} else {
		s.logger.Warn("agent cli exited on its own", zap.Int("code", code))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	summary := fmt.Sprintf("%d user messages, %d tool calls", sent, calls)
	if err := s.repo.EndAgentSession(ctx, s.id, summary); err != nil {
		s.logger.Error("failed to close session row", zap.Error(err))
	}
	s.publishState(ctx, StateIdle, code)

	// Done closes last so waiters observe the settled session.
	close(s.done)
}

func (s *Session) publishChat(ctx context.Context, msg *models.ChatMessage, correlationID string) {
	subject := events.BuildChatMessageSubject(s.projectID)
	ev := bus.NewEvent(events.ChatMessageAdded, "agent-session", &ChatEvent{Message: msg, CorrelationID: correlationID})
	if err := s.bus.Publish(ctx, subject, ev); err != nil {
		s.logger.Warn("failed to publish chat event", zap.Error(err))
	}
}

func (s *Session) publishOutput(ctx context.Context, kind, text string) {
	subject := events.BuildAgentOutputSubject(s.projectID)
	ev := bus.NewEvent(events.AgentOutput, "agent-session", &OutputEvent{SessionID: s.id, ProjectID: s.projectID, Kind: kind, Text: text})
	if err := s.bus.Publish(ctx, subject, ev); err != nil {
		s.logger.Warn("failed to publish output event", zap.Error(err))
	}
}

func (s *Session) publishState(ctx context.Context, state State, code int) {
	subject := events.BuildAgentStateSubject(s.projectID)
	ev := bus.NewEvent(events.AgentStateChanged, "agent-session", &StateEvent{SessionID: s.id, ProjectID: s.projectID, State: state, ReturnCode: code})
	if err := s.bus.Publish(ctx, subject, ev); err != nil {
		s.logger.Warn("failed to publish state event", zap.Error(err))
	}
}
