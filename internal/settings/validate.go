package settings

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/agpstudio/agp/internal/common/portutil"
)

// Integration API keys must carry the provider's documented prefix.
// Providers not listed here are accepted as-is.
var apiKeyPrefixes = map[string]string{
	"openai":    "sk-",
	"anthropic": "sk-ant-",
	"gemini":    "AIza",
}

// Validate checks a settings document and returns one message per problem,
// empty when the document is valid. Four classes of checks run: filesystem
// paths must exist, bridge ports must be bindable on loopback, numeric and
// enum fields must be in range, and integration keys must match the
// provider's shape.
func Validate(cfg *Settings) []string {
	return validateAgainst(cfg, nil)
}

// validateAgainst runs the same checks as Validate, except that ports equal
// to their value in prev are not probed. A port carried over from the
// stored configuration is usually bound by this process's own bridge.
func validateAgainst(cfg, prev *Settings) []string {
	var errs []string
	errs = append(errs, validateShape(cfg)...)
	errs = append(errs, validatePaths(cfg)...)
	errs = append(errs, validatePorts(cfg, prev)...)
	errs = append(errs, validateAPIKeys(cfg)...)
	return errs
}

func validateShape(cfg *Settings) []string {
	var errs []string

	inRange := func(field string, port int) bool {
		if port < 1 || port > 65535 {
			errs = append(errs, fmt.Sprintf("%s must be between 1 and 65535", field))
			return false
		}
		return true
	}
	unityOK := inRange("bridges.unityBridgePort", cfg.Bridges.UnityBridgePort)
	blenderOK := inRange("bridges.blenderBridgePort", cfg.Bridges.BlenderBridgePort)
	mcpOK := inRange("bridges.mcpAdapterPort", cfg.Bridges.MCPAdapterPort)
	if unityOK && blenderOK && mcpOK {
		b := cfg.Bridges
		if b.UnityBridgePort == b.BlenderBridgePort ||
			b.UnityBridgePort == b.MCPAdapterPort ||
			b.BlenderBridgePort == b.MCPAdapterPort {
			errs = append(errs, "bridges ports must be distinct")
		}
	}

	if cfg.Agents.MaxCallsPerTurn < 1 {
		errs = append(errs, "agents.maxCallsPerTurn must be at least 1")
	}
	if cfg.Agents.ToolTimeoutSeconds < 1 {
		errs = append(errs, "agents.toolTimeoutSeconds must be at least 1")
	}
	if cfg.Agents.TerminateGrace < 0 {
		errs = append(errs, "agents.terminateGrace must not be negative")
	}
	switch cfg.Agents.AdapterOwnership {
	case AdapterOwnershipAgentRunnerOnly, AdapterOwnershipExternal:
	default:
		errs = append(errs, "agents.adapterOwnership must be one of: agent_runner_only, external")
	}

	if cfg.Timeouts.BlenderAddon < 1 {
		errs = append(errs, "timeouts.blender_addon must be at least 1")
	}
	if cfg.Timeouts.UnityEditor < 1 {
		errs = append(errs, "timeouts.unity_editor must be at least 1")
	}

	for _, name := range sortedProviderNames(cfg.Providers) {
		if strings.TrimSpace(cfg.Providers[name].Command) == "" {
			errs = append(errs, fmt.Sprintf("providers.%s.command must not be empty", name))
		}
	}

	// A placeholder the supervisor does not substitute would be handed to
	// the process as a literal argument.
	known := cfg.PortPlaceholderValues()
	checkPlaceholders := func(field, command string) {
		for _, name := range portutil.FindPlaceholders(command) {
			if _, ok := known[name]; !ok {
				errs = append(errs, fmt.Sprintf("%s: unknown port placeholder $%s", field, name))
			}
		}
	}
	checkPlaceholders("executables.engineBridge", cfg.Executables.EngineBridge)
	checkPlaceholders("executables.modelerBridge", cfg.Executables.ModelerBridge)
	checkPlaceholders("executables.mcpAdapter", cfg.Executables.MCPAdapter)

	return errs
}

func validatePaths(cfg *Settings) []string {
	var errs []string

	checkExists := func(field, path string) {
		if path == "" {
			return
		}
		if _, err := os.Stat(path); err != nil {
			errs = append(errs, fmt.Sprintf("%s: path does not exist: %s", field, path))
		}
	}

	// Command strings may carry flags and placeholders; only the leading
	// token is a path, and bare names resolve on PATH.
	checkCommand := func(field, command string) {
		fields := strings.Fields(command)
		if len(fields) == 0 {
			return
		}
		if strings.ContainsRune(fields[0], os.PathSeparator) {
			checkExists(field, fields[0])
		}
	}

	checkExists("executables.engine", cfg.Executables.Engine)
	checkExists("executables.modeler", cfg.Executables.Modeler)
	checkCommand("executables.engineBridge", cfg.Executables.EngineBridge)
	checkCommand("executables.modelerBridge", cfg.Executables.ModelerBridge)
	checkCommand("executables.mcpAdapter", cfg.Executables.MCPAdapter)

	cliNames := make([]string, 0, len(cfg.Executables.AgentCLIs))
	for name := range cfg.Executables.AgentCLIs {
		cliNames = append(cliNames, name)
	}
	sort.Strings(cliNames)
	for _, name := range cliNames {
		checkExists("executables.agentClis."+name, cfg.Executables.AgentCLIs[name])
	}

	// Provider commands may be bare names resolved on PATH; only explicit
	// paths are checked.
	for _, name := range sortedProviderNames(cfg.Providers) {
		cmd := cfg.Providers[name].Command
		if strings.ContainsRune(cmd, os.PathSeparator) {
			checkExists("providers."+name+".command", cmd)
		}
	}

	// The projects root is created on demand, so it only fails validation
	// when it exists and is not a directory.
	if root := cfg.Projects.RootDir; root != "" {
		if info, err := os.Stat(root); err == nil && !info.IsDir() {
			errs = append(errs, fmt.Sprintf("projects.rootDir: not a directory: %s", root))
		}
	}

	return errs
}

func validatePorts(cfg, prev *Settings) []string {
	var errs []string

	probe := func(field string, port int, unchanged bool) {
		if port < 1 || port > 65535 || unchanged {
			return
		}
		if err := portutil.CheckFree(port); err != nil {
			errs = append(errs, fmt.Sprintf("%s: port %d is already in use", field, port))
		}
	}

	probe("bridges.unityBridgePort", cfg.Bridges.UnityBridgePort,
		prev != nil && prev.Bridges.UnityBridgePort == cfg.Bridges.UnityBridgePort)
	probe("bridges.blenderBridgePort", cfg.Bridges.BlenderBridgePort,
		prev != nil && prev.Bridges.BlenderBridgePort == cfg.Bridges.BlenderBridgePort)
	probe("bridges.mcpAdapterPort", cfg.Bridges.MCPAdapterPort,
		prev != nil && prev.Bridges.MCPAdapterPort == cfg.Bridges.MCPAdapterPort)

	return errs
}

func validateAPIKeys(cfg *Settings) []string {
	var errs []string

	names := make([]string, 0, len(cfg.Integrations))
	for name := range cfg.Integrations {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		key := cfg.Integrations[name].APIKey
		if key == "" || IsMasked(key) {
			continue
		}
		prefix, known := apiKeyPrefixes[name]
		if known && !strings.HasPrefix(key, prefix) {
			errs = append(errs, fmt.Sprintf("integrations.%s.apiKey must start with %q", name, prefix))
		}
	}

	return errs
}

func sortedProviderNames(providers map[string]Provider) []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
