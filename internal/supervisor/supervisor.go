package supervisor

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/common/apperr"
	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/common/portutil"
	"github.com/agpstudio/agp/internal/events"
	"github.com/agpstudio/agp/internal/events/bus"
	"github.com/agpstudio/agp/internal/settings"
)

// SettingsSource provides the current launch configuration.
type SettingsSource interface {
	GetAll(maskSecrets bool) (*settings.Settings, error)
}

// Supervisor owns the lifecycle of the project's external processes. All
// public methods are safe for concurrent use.
type Supervisor struct {
	settings SettingsSource
	logger   *logger.Logger
	bus      bus.EventBus
	lockPath string

	mu          sync.Mutex
	handles     map[string]*Handle
	ownsAdapter bool
}

// New creates a supervisor. dataDir hosts the adapter lockfile. A nil bus
// disables the process.output and process.status streams.
func New(settingsSvc SettingsSource, dataDir string, eventBus bus.EventBus, log *logger.Logger) *Supervisor {
	return &Supervisor{
		settings: settingsSvc,
		logger:   log.WithFields(zap.String("component", "supervisor")),
		bus:      eventBus,
		lockPath: filepath.Join(dataDir, "mcp-adapter.lock"),
		handles:  make(map[string]*Handle),
	}
}

// LockPath returns the location of the adapter ownership lockfile.
func (s *Supervisor) LockPath() string {
	return s.lockPath
}

// StartSequence launches the project's processes in dependency order:
// engine, engine bridge, modeler, modeler bridge. A failed required step
// aborts the sequence; failures of the optional modeler steps are recorded
// in the report and the sequence continues.
func (s *Supervisor) StartSequence(ctx context.Context, projectID, projectDir string) (*SequenceReport, error) {
	cfg, err := s.settings.GetAll(false)
	if err != nil {
		return nil, err
	}

	report := &SequenceReport{ProjectID: projectID}
	for _, spec := range sequenceSpecs(cfg, projectID, projectDir) {
		step := StepResult{Name: spec.Name}
		var stepErr error

		switch {
		case spec.Command == "" && spec.Optional:
			step.Skipped = true
		case spec.Command == "":
			stepErr = apperr.ConfigInvalid("executable for %s is not configured", spec.Name)
			step.Error = stepErr.Error()
		default:
			if stepErr = s.StartProcess(ctx, spec); stepErr != nil {
				step.Error = stepErr.Error()
			} else {
				step.Started = true
			}
		}

		report.Steps = append(report.Steps, step)
		if stepErr != nil {
			if !spec.Optional {
				return report, stepErr
			}
			s.logger.Warn("optional sequence step failed",
				zap.String("process", spec.Name),
				zap.Error(stepErr))
		}
	}

	s.logger.Info("start sequence finished", zap.String("project_id", projectID))
	return report, nil
}

// StartProcess launches one process after preflighting its port with a
// connect probe. A process already running under the same name is left
// alone. When the spec names a port, the call waits for the process to
// accept connections on it before returning.
func (s *Supervisor) StartProcess(ctx context.Context, spec Spec) error {
	s.mu.Lock()
	if h, ok := s.handles[spec.Name]; ok && h.Status().Running {
		s.mu.Unlock()
		s.logger.Debug("process already running", zap.String("process", spec.Name))
		return nil
	}
	s.mu.Unlock()

	if spec.Port > 0 && portutil.IsListening("127.0.0.1", spec.Port, preflightTimeout) {
		return apperr.PortInUse("port %d for %s is already in use", spec.Port, spec.Name)
	}

	h := newHandle(spec, s.logger)
	h.onLine = func(stream, line string) { s.publishOutput(spec.Name, stream, line) }
	h.onExit = func(code int) { s.publishExit(spec.Name, code) }
	if err := h.Start(); err != nil {
		return err
	}

	s.mu.Lock()
	s.handles[spec.Name] = h
	s.mu.Unlock()
	s.publishRunning(h.Status())

	if spec.Port > 0 {
		if err := awaitPort(ctx, h, spec); err != nil {
			h.Stop(spec.StopGrace)
			return err
		}
	}
	return nil
}

// StopProcess stops one managed process and clears it from the registry.
// The adapter is only stoppable when this supervisor owns it; an attached
// adapter has no handle here and reports NotRunning like any other absent
// process.
func (s *Supervisor) StopProcess(name string) error {
	s.mu.Lock()
	h, ok := s.handles[name]
	if ok {
		delete(s.handles, name)
	}
	owned := s.ownsAdapter
	if name == ProcessMCPAdapter {
		s.ownsAdapter = false
	}
	s.mu.Unlock()

	if !ok || !h.Status().Running {
		return apperr.NotRunning("%s is not running", name)
	}

	h.Stop(h.spec.StopGrace)
	if name == ProcessMCPAdapter && owned {
		removeLock(s.lockPath)
	}
	return nil
}

// Shutdown stops everything in reverse dependency order: bridges first,
// then the applications, and the adapter last, only when owned.
func (s *Supervisor) Shutdown() {
	for _, name := range []string{ProcessModelerBridge, ProcessEngineBridge, ProcessModeler, ProcessEngine} {
		s.mu.Lock()
		h, ok := s.handles[name]
		delete(s.handles, name)
		s.mu.Unlock()
		if ok {
			h.Stop(h.spec.StopGrace)
		}
	}

	s.mu.Lock()
	h, ok := s.handles[ProcessMCPAdapter]
	owned := s.ownsAdapter
	delete(s.handles, ProcessMCPAdapter)
	s.ownsAdapter = false
	s.mu.Unlock()

	if ok && owned {
		h.Stop(h.spec.StopGrace)
		removeLock(s.lockPath)
	}
	s.logger.Info("supervisor shut down")
}

// ProcessStatus snapshots one managed process by name.
func (s *Supervisor) ProcessStatus(name string) (Status, error) {
	switch name {
	case ProcessEngine, ProcessEngineBridge, ProcessModeler, ProcessModelerBridge:
	case ProcessMCPAdapter:
		return s.AdapterStatus(), nil
	default:
		return Status{}, apperr.NotFound("unknown process: %s", name)
	}

	s.mu.Lock()
	h, ok := s.handles[name]
	s.mu.Unlock()
	if !ok {
		return Status{Name: name}, nil
	}
	return h.Status(), nil
}

// StatusAll snapshots every managed name, running or not.
func (s *Supervisor) StatusAll() []Status {
	names := []string{ProcessEngine, ProcessEngineBridge, ProcessModeler, ProcessModelerBridge}
	out := make([]Status, 0, len(names)+1)

	s.mu.Lock()
	for _, name := range names {
		if h, ok := s.handles[name]; ok {
			out = append(out, h.Status())
		} else {
			out = append(out, Status{Name: name})
		}
	}
	s.mu.Unlock()

	return append(out, s.AdapterStatus())
}

// EnsureAdapter makes sure an MCP adapter is reachable. Under
// agent_runner_only ownership the supervisor spawns one unless the
// lockfile names a live owner or the port is already served, and records
// ownership in the lockfile. Under external ownership it never spawns and
// only verifies reachability.
func (s *Supervisor) EnsureAdapter(ctx context.Context) error {
	cfg, err := s.settings.GetAll(false)
	if err != nil {
		return err
	}
	port := cfg.Bridges.MCPAdapterPort

	if cfg.Agents.AdapterOwnership != settings.AdapterOwnershipAgentRunnerOnly {
		if portutil.IsListening("127.0.0.1", port, preflightTimeout) {
			return nil
		}
		return apperr.NotRunning("mcp adapter is not reachable on port %d", port)
	}

	lock, err := readLock(s.lockPath)
	if err != nil {
		return err
	}
	if lock != nil {
		if lock.Alive() {
			s.logger.Info("attaching to running mcp adapter", zap.Int("pid", lock.PID))
			return nil
		}
		s.logger.Warn("reclaiming stale adapter lock", zap.Int("pid", lock.PID))
		removeLock(s.lockPath)
	}

	if portutil.IsListening("127.0.0.1", port, preflightTimeout) {
		s.logger.Info("mcp adapter already serving, attaching without ownership", zap.Int("port", port))
		return nil
	}

	if cfg.Executables.MCPAdapter == "" {
		return apperr.ConfigInvalid("executable for %s is not configured", ProcessMCPAdapter)
	}
	if err := s.StartProcess(ctx, adapterSpec(cfg)); err != nil {
		return err
	}

	s.mu.Lock()
	h := s.handles[ProcessMCPAdapter]
	s.ownsAdapter = true
	s.mu.Unlock()

	st := h.Status()
	if err := writeLock(s.lockPath, st.PID, st.StartedAt); err != nil {
		return err
	}
	s.logger.Info("mcp adapter spawned", zap.Int("pid", st.PID))
	return nil
}

// AdapterStatus reports the adapter from the registry when this supervisor
// launched it, otherwise from the lockfile.
func (s *Supervisor) AdapterStatus() Status {
	s.mu.Lock()
	h, ok := s.handles[ProcessMCPAdapter]
	s.mu.Unlock()
	if ok {
		return h.Status()
	}

	st := Status{Name: ProcessMCPAdapter}
	if lock, err := readLock(s.lockPath); err == nil && lock != nil && lock.Alive() {
		st.Running = true
		st.PID = lock.PID
		st.StartedAt = lock.StartedAt
	}
	return st
}

// OwnsAdapter reports whether this supervisor spawned the current adapter.
func (s *Supervisor) OwnsAdapter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ownsAdapter
}

// publishOutput streams one captured line onto the bus for the UI log
// panel. Fire-and-forget: a full or closed bus never blocks the reader.
func (s *Supervisor) publishOutput(name, stream, line string) {
	if s.bus == nil {
		return
	}
	subject := events.BuildProcessOutputSubject(name)
	ev := bus.NewEvent(events.ProcessOutput, "supervisor", &OutputEvent{Process: name, Stream: stream, Line: line})
	if err := s.bus.Publish(context.Background(), subject, ev); err != nil {
		s.logger.Debug("failed to publish process output", zap.Error(err))
	}
}

func (s *Supervisor) publishRunning(st Status) {
	s.publishStatus(&StatusEvent{Process: st.Name, Running: true, PID: st.PID})
}

func (s *Supervisor) publishExit(name string, code int) {
	s.publishStatus(&StatusEvent{Process: name, ReturnCode: &code})
}

func (s *Supervisor) publishStatus(data *StatusEvent) {
	if s.bus == nil {
		return
	}
	subject := events.BuildProcessStatusSubject(data.Process)
	ev := bus.NewEvent(events.ProcessStatus, "supervisor", data)
	if err := s.bus.Publish(context.Background(), subject, ev); err != nil {
		s.logger.Warn("failed to publish process status",
			zap.String("process", data.Process), zap.Error(err))
	}
}

// awaitPort polls until the process accepts connections on its port, the
// process dies, or the start timeout passes.
func awaitPort(ctx context.Context, h *Handle, spec Spec) error {
	timeout := spec.StartTimeout
	if timeout <= 0 {
		timeout = DefaultStartTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.Done():
			tail := strings.TrimSpace(h.Status().LastErrorTail)
			return apperr.NotRunning("%s exited during startup: %s", spec.Name, tail)
		case <-deadline.C:
			return apperr.Timeout("%s did not open port %d within %s", spec.Name, spec.Port, timeout)
		case <-tick.C:
			if portutil.IsListening("127.0.0.1", spec.Port, preflightTimeout) {
				return nil
			}
		}
	}
}

// sequenceSpecs derives the four sequence steps from the settings. Engine
// and engine bridge are required; the modeler pair is optional. Bridge and
// adapter command strings may reference the configured ports through
// placeholders such as $UNITY_BRIDGE_PORT.
func sequenceSpecs(cfg *settings.Settings, projectID, projectDir string) []Spec {
	env := map[string]string{
		"AGP_PROJECT_ID":  projectID,
		"AGP_PROJECT_DIR": projectDir,
	}
	grace := stopGrace(cfg)
	ports := cfg.PortPlaceholderValues()

	engine := Spec{
		Name:         ProcessEngine,
		Env:          env,
		Dir:          projectDir,
		StartTimeout: DefaultStartTimeout,
		StopGrace:    grace,
	}
	if cfg.Executables.Engine != "" {
		engine.Command = cfg.Executables.Engine
		engine.Args = []string{"-projectPath", projectDir}
	}

	modeler := Spec{
		Name:         ProcessModeler,
		Optional:     true,
		Env:          env,
		Dir:          projectDir,
		StartTimeout: DefaultStartTimeout,
		StopGrace:    grace,
	}
	modeler.Command = cfg.Executables.Modeler

	return []Spec{
		engine,
		commandSpec(ProcessEngineBridge, cfg.Executables.EngineBridge, cfg.Bridges.UnityBridgePort, false, env, projectDir, grace, ports),
		modeler,
		commandSpec(ProcessModelerBridge, cfg.Executables.ModelerBridge, cfg.Bridges.BlenderBridgePort, true, env, projectDir, grace, ports),
	}
}

func adapterSpec(cfg *settings.Settings) Spec {
	return commandSpec(ProcessMCPAdapter, cfg.Executables.MCPAdapter, cfg.Bridges.MCPAdapterPort, false, nil, "", stopGrace(cfg), cfg.PortPlaceholderValues())
}

// commandSpec expands port placeholders in a configured command string and
// splits it into the executable and its arguments.
func commandSpec(name, command string, port int, optional bool, env map[string]string, dir string, grace time.Duration, ports map[string]int) Spec {
	spec := Spec{
		Name:         name,
		Port:         port,
		Optional:     optional,
		Env:          env,
		Dir:          dir,
		StartTimeout: DefaultStartTimeout,
		StopGrace:    grace,
	}
	fields := strings.Fields(portutil.ExpandPlaceholders(command, ports))
	if len(fields) > 0 {
		spec.Command = fields[0]
		spec.Args = fields[1:]
	}
	return spec
}

func stopGrace(cfg *settings.Settings) time.Duration {
	if cfg.Agents.TerminateGrace > 0 {
		return time.Duration(cfg.Agents.TerminateGrace) * time.Second
	}
	return DefaultStopGrace
}
