// Package settings persists the user-editable configuration of the gateway:
// tool executables, bridge ports, provider launch commands, credentials and
// agent limits. The store is a single JSON file written atomically; secrets
// are masked on every read path.
package settings

import (
	"os"
	"path/filepath"
)

// Adapter ownership modes. With AdapterOwnershipAgentRunnerOnly the
// supervisor spawns and stops the MCP adapter itself, guarded by the
// lockfile; with AdapterOwnershipExternal it only attaches to one that is
// already running.
const (
	AdapterOwnershipAgentRunnerOnly = "agent_runner_only"
	AdapterOwnershipExternal        = "external"
)

// Settings is the full configuration document as stored on disk. Defaults
// are merged beneath stored values on load, so a partial file is valid.
type Settings struct {
	Executables  Executables            `json:"executables"`
	Bridges      Bridges                `json:"bridges"`
	Providers    map[string]Provider    `json:"providers"`
	Integrations map[string]Integration `json:"integrations"`
	Projects     Projects               `json:"projects"`
	Dependencies Dependencies           `json:"dependencies"`
	Agents       Agents                 `json:"agents"`
	Timeouts     Timeouts               `json:"timeouts"`

	// Legacy mirrors executables and bridges under the flat key layout
	// older UI builds read. It is recomputed on every save and never
	// consulted by the backend.
	Legacy *Legacy `json:"legacy,omitempty"`
}

// Executables holds the resolved paths of the external tools the supervisor
// launches. Engine and Modeler are plain binary paths; the bridge and
// adapter entries are command strings that may carry $PORT placeholders,
// expanded at launch from the Bridges section. Empty values mean "not
// installed"; validation only stats non-empty paths.
type Executables struct {
	Engine        string            `json:"engine"`
	Modeler       string            `json:"modeler"`
	EngineBridge  string            `json:"engineBridge"`
	ModelerBridge string            `json:"modelerBridge"`
	MCPAdapter    string            `json:"mcpAdapter"`
	AgentCLIs     map[string]string `json:"agentClis"`
}

// Bridges holds the loopback TCP ports of the bridge processes and the MCP
// adapter.
type Bridges struct {
	UnityBridgePort   int `json:"unityBridgePort"`
	BlenderBridgePort int `json:"blenderBridgePort"`
	MCPAdapterPort    int `json:"mcpAdapterPort"`
}

// Provider describes how to launch one AI CLI.
type Provider struct {
	Command     string            `json:"command"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	UsePty      bool              `json:"usePty,omitempty"`
	OneShotFlag string            `json:"oneShotFlag,omitempty"`
}

// Integration holds per-provider credentials. APIKey is a secret: read
// paths return it masked, and a masked value on update keeps the stored
// one.
type Integration struct {
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseUrl,omitempty"`
	Model   string `json:"model,omitempty"`
}

// Projects locates the directory new project skeletons are created under.
type Projects struct {
	RootDir string `json:"rootDir"`
}

// Dependencies inventories the external requirements the UI surfaces and
// the package names an agent is allowed to install.
type Dependencies struct {
	Requirements     []Requirement `json:"requirements,omitempty"`
	PackageAllowlist []string      `json:"packageAllowlist,omitempty"`
}

// Requirement is one externally installed prerequisite.
type Requirement struct {
	Name     string `json:"name"`
	Kind     string `json:"kind,omitempty"`
	Version  string `json:"version,omitempty"`
	Optional bool   `json:"optional,omitempty"`
}

// Agents holds the tool-shim limits and supervisor knobs.
type Agents struct {
	MaxCallsPerTurn       int    `json:"maxCallsPerTurn"`
	ToolTimeoutSeconds    int    `json:"toolTimeoutSeconds"`
	TerminateGrace        int    `json:"terminateGrace"`
	AdapterOwnership      string `json:"adapterOwnership"`
	ProceedWithoutBridges bool   `json:"proceedWithoutBridges"`
}

// Timeouts holds the per-family MCP call budgets in seconds.
type Timeouts struct {
	BlenderAddon int `json:"blender_addon"`
	UnityEditor  int `json:"unity_editor"`
}

// Legacy is the flat section kept in sync with Executables and Bridges.
type Legacy struct {
	UnityPath         string `json:"unityPath"`
	BlenderPath       string `json:"blenderPath"`
	UnityBridgePort   int    `json:"unityBridgePort"`
	BlenderBridgePort int    `json:"blenderBridgePort"`
	MCPAdapterPort    int    `json:"mcpAdapterPort"`
}

// Defaults returns the settings used when no file exists yet. Loading
// merges the stored file over these, so adding a default later picks it up
// for existing installations.
func Defaults() *Settings {
	return &Settings{
		Executables: Executables{
			AgentCLIs: map[string]string{},
		},
		Bridges: Bridges{
			UnityBridgePort:   8765,
			BlenderBridgePort: 8766,
			MCPAdapterPort:    8767,
		},
		Providers: map[string]Provider{
			"gemini": {
				Command:     "gemini",
				Args:        []string{"--output-format", "stream-json"},
				OneShotFlag: "-p",
			},
			"mock": {
				Command: "mock-agent",
			},
		},
		Integrations: map[string]Integration{},
		Projects: Projects{
			RootDir: defaultProjectsRoot(),
		},
		Dependencies: Dependencies{
			PackageAllowlist: []string{"numpy", "pillow", "requests"},
		},
		Agents: Agents{
			MaxCallsPerTurn:       4,
			ToolTimeoutSeconds:    15,
			TerminateGrace:        5,
			AdapterOwnership:      AdapterOwnershipAgentRunnerOnly,
			ProceedWithoutBridges: false,
		},
		Timeouts: Timeouts{
			BlenderAddon: 20,
			UnityEditor:  15,
		},
	}
}

func defaultProjectsRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "agp-projects"
	}
	return filepath.Join(home, "agp-projects")
}

// Clone returns a deep copy. Maps and slices are copied so mutating the
// clone never leaks into the receiver.
func (s *Settings) Clone() *Settings {
	out := *s

	out.Providers = make(map[string]Provider, len(s.Providers))
	for name, p := range s.Providers {
		cp := p
		if p.Args != nil {
			cp.Args = append([]string(nil), p.Args...)
		}
		if p.Env != nil {
			cp.Env = make(map[string]string, len(p.Env))
			for k, v := range p.Env {
				cp.Env[k] = v
			}
		}
		out.Providers[name] = cp
	}

	out.Integrations = make(map[string]Integration, len(s.Integrations))
	for name, integ := range s.Integrations {
		out.Integrations[name] = integ
	}

	if s.Executables.AgentCLIs != nil {
		out.Executables.AgentCLIs = make(map[string]string, len(s.Executables.AgentCLIs))
		for k, v := range s.Executables.AgentCLIs {
			out.Executables.AgentCLIs[k] = v
		}
	}

	if s.Dependencies.Requirements != nil {
		out.Dependencies.Requirements = append([]Requirement(nil), s.Dependencies.Requirements...)
	}
	if s.Dependencies.PackageAllowlist != nil {
		out.Dependencies.PackageAllowlist = append([]string(nil), s.Dependencies.PackageAllowlist...)
	}

	if s.Legacy != nil {
		legacy := *s.Legacy
		out.Legacy = &legacy
	}

	return &out
}

// Masked returns a deep copy with every secret replaced by its masked form.
func (s *Settings) Masked() *Settings {
	out := s.Clone()
	for name, integ := range out.Integrations {
		integ.APIKey = MaskSecret(integ.APIKey)
		out.Integrations[name] = integ
	}
	return out
}

// PortPlaceholderValues maps the placeholder names usable in bridge and
// adapter command strings to their configured ports. The supervisor expands
// these at launch; validation rejects commands referencing any other name.
func (s *Settings) PortPlaceholderValues() map[string]int {
	return map[string]int{
		"UNITY_BRIDGE_PORT":   s.Bridges.UnityBridgePort,
		"BLENDER_BRIDGE_PORT": s.Bridges.BlenderBridgePort,
		"UNITY_PORT":          s.Bridges.UnityBridgePort,
		"BLENDER_PORT":        s.Bridges.BlenderBridgePort,
		"MCP_PORT":            s.Bridges.MCPAdapterPort,
	}
}

// syncLegacy recomputes the flat mirror section from the current values.
func (s *Settings) syncLegacy() {
	s.Legacy = &Legacy{
		UnityPath:         s.Executables.Engine,
		BlenderPath:       s.Executables.Modeler,
		UnityBridgePort:   s.Bridges.UnityBridgePort,
		BlenderBridgePort: s.Bridges.BlenderBridgePort,
		MCPAdapterPort:    s.Bridges.MCPAdapterPort,
	}
}
