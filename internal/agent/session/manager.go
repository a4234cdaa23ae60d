package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/agpstudio/agp/internal/agent/launcher"
	"github.com/agpstudio/agp/internal/agent/provider"
	"github.com/agpstudio/agp/internal/common/apperr"
	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/events"
	"github.com/agpstudio/agp/internal/events/bus"
	"github.com/agpstudio/agp/internal/project/models"
	"github.com/agpstudio/agp/internal/settings"
	"github.com/agpstudio/agp/internal/supervisor"
)

// SettingsSource provides the current configuration.
type SettingsSource interface {
	GetAll(maskSecrets bool) (*settings.Settings, error)
}

// AdapterStatuser reports the supervisor's view of the MCP adapter.
type AdapterStatuser interface {
	AdapterStatus() supervisor.Status
}

// Deps carries the manager's collaborators.
type Deps struct {
	Launcher  *launcher.Launcher
	Providers *provider.Registry
	Settings  SettingsSource
	Repo      Repo
	Bus       bus.EventBus
	Tools     ToolHandler
	Adapter   AdapterStatuser
	Prefix    PrefixSource
	Logger    *logger.Logger
}

// Manager owns at most one session per project.
type Manager struct {
	launcher  *launcher.Launcher
	providers *provider.Registry
	settings  SettingsSource
	repo      Repo
	bus       bus.EventBus
	tools     ToolHandler
	adapter   AdapterStatuser
	prefix    PrefixSource
	logger    *logger.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	prefixMu sync.Mutex
	prefixes map[string]cachedPrefix
	sf       singleflight.Group
}

func NewManager(d Deps) *Manager {
	return &Manager{
		launcher:  d.Launcher,
		providers: d.Providers,
		settings:  d.Settings,
		repo:      d.Repo,
		bus:       d.Bus,
		tools:     d.Tools,
		adapter:   d.Adapter,
		prefix:    d.Prefix,
		logger:    d.Logger.WithFields(zap.String("component", "agent-session")),
		sessions:  make(map[string]*Session),
		prefixes:  make(map[string]cachedPrefix),
	}
}

// Start launches a session for the project. Only one session per project
// runs at a time; the tool path to the engine must be reachable unless
// proceedWithoutBridges is set.
func (m *Manager) Start(ctx context.Context, projectID, projectDir, providerName string) (*Session, error) {
	m.mu.Lock()
	if existing, ok := m.sessions[projectID]; ok && existing.State() != StateIdle {
		state := existing.State()
		m.mu.Unlock()
		return nil, apperr.Conflict("an agent session for project %s is already %s", projectID, state)
	}
	m.mu.Unlock()

	cfg, err := m.settings.GetAll(false)
	if err != nil {
		return nil, err
	}
	prov, ok := cfg.Providers[providerName]
	if !ok {
		return nil, apperr.NotFound("unknown provider: %s", providerName)
	}

	if !cfg.Agents.ProceedWithoutBridges && !m.bridgesReady(ctx, cfg) {
		return nil, apperr.BridgesNotReady(
			"the mcp adapter is not running and the engine bridge did not answer on port %d",
			cfg.Bridges.UnityBridgePort)
	}

	m.publishState(ctx, projectID, StateStarting)

	proc, err := m.launcher.Launch(launcher.Request{
		Provider: prov,
		Command:  cfg.Executables.AgentCLIs[providerName],
		Dir:      projectDir,
		Env: map[string]string{
			"AGP_PROJECT_ID":  projectID,
			"AGP_PROJECT_DIR": projectDir,
		},
	})
	if err != nil {
		m.publishState(ctx, projectID, StateIdle)
		return nil, apperr.Wrap(apperr.KindInternal, err, "failed to launch the %s cli", providerName)
	}

	// A row left open by a previous run of the server has no live
	// process behind it; close it before opening a new one.
	if stale, err := m.repo.GetOpenAgentSession(ctx, projectID); err == nil && stale != nil {
		if err := m.repo.EndAgentSession(ctx, stale.ID, "orphaned by restart"); err != nil {
			m.logger.Warn("failed to close stale session row",
				zap.String("session_id", stale.ID), zap.Error(err))
		}
	}

	row := &models.AgentSession{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Provider:  providerName,
		StartedAt: time.Now().UTC(),
	}
	if err := m.repo.CreateAgentSession(ctx, row); err != nil {
		_ = proc.Cmd.Process.Kill()
		m.publishState(ctx, projectID, StateIdle)
		return nil, fmt.Errorf("failed to persist the session: %w", err)
	}

	grace := time.Duration(cfg.Agents.TerminateGrace) * time.Second
	sess := newSession(row.ID, projectID, providerName, m.providers.Resolve(providerName), proc, m.repo, m.bus, m.tools, grace, m.logger)

	m.mu.Lock()
	m.sessions[projectID] = sess
	m.mu.Unlock()

	sess.publishState(ctx, StateRunning, 0)
	m.logger.Info("agent session started",
		zap.String("project_id", projectID),
		zap.String("provider", providerName),
		zap.String("session_id", row.ID))
	return sess, nil
}

// Stop terminates the project's session and removes it from the registry.
func (m *Manager) Stop(ctx context.Context, projectID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[projectID]
	if ok {
		delete(m.sessions, projectID)
	}
	m.mu.Unlock()

	if !ok {
		return apperr.NotRunning("no agent session for project %s", projectID)
	}
	return sess.Stop(ctx)
}

// Send routes one user message to the project's running session.
func (m *Manager) Send(ctx context.Context, projectID, text, correlationID string) (*SendReceipt, error) {
	sess, ok := m.Get(projectID)
	if !ok {
		return nil, apperr.NotRunning("no agent session for project %s", projectID)
	}
	return sess.Send(ctx, text, correlationID)
}

// Get returns the project's session when present.
func (m *Manager) Get(projectID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[projectID]
	return sess, ok
}

// Status reports the project's session state, idle when none exists.
func (m *Manager) Status(projectID string) Status {
	if sess, ok := m.Get(projectID); ok {
		return sess.Status()
	}
	return Status{ProjectID: projectID, State: StateIdle}
}

// StopAll shuts down every live session.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		all = append(all, sess)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, sess := range all {
		if err := sess.Stop(ctx); err != nil && !apperr.IsKind(err, apperr.KindNotRunning) {
			m.logger.Warn("failed to stop session",
				zap.String("project_id", sess.projectID), zap.Error(err))
		}
	}
}

// bridgesReady reports whether a tool path to the engine exists: either
// the supervisor sees a live adapter or the engine bridge answers a
// websocket handshake.
func (m *Manager) bridgesReady(ctx context.Context, cfg *settings.Settings) bool {
	if m.adapter != nil && m.adapter.AdapterStatus().Running {
		return true
	}
	return probeBridge(ctx, cfg.Bridges.UnityBridgePort)
}

// probeBridge dials the bridge's websocket endpoint and hangs up.
func probeBridge(ctx context.Context, port int) bool {
	if port <= 0 {
		return false
	}
	dialCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, fmt.Sprintf("ws://127.0.0.1:%d/", port), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func (m *Manager) publishState(ctx context.Context, projectID string, state State) {
	subject := events.BuildAgentStateSubject(projectID)
	ev := bus.NewEvent(events.AgentStateChanged, "agent-session", &StateEvent{ProjectID: projectID, State: state})
	if err := m.bus.Publish(ctx, subject, ev); err != nil {
		m.logger.Warn("failed to publish state event", zap.Error(err))
	}
}
