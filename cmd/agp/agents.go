package main

import (
	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/actions"
	"github.com/agpstudio/agp/internal/agent/launcher"
	"github.com/agpstudio/agp/internal/agent/provider"
	"github.com/agpstudio/agp/internal/agent/session"
	"github.com/agpstudio/agp/internal/agent/toolshim"
	"github.com/agpstudio/agp/internal/artifacts"
	"github.com/agpstudio/agp/internal/common/config"
	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/events/bus"
	"github.com/agpstudio/agp/internal/mcp"
	projectsvc "github.com/agpstudio/agp/internal/project/service"
	"github.com/agpstudio/agp/internal/settings"
	"github.com/agpstudio/agp/internal/storage"
	"github.com/agpstudio/agp/internal/supervisor"
)

// AgentRuntime groups the pieces that talk to agent CLIs and bridges:
// the MCP client, the tool catalog and shim, the session manager and
// the action orchestrator.
type AgentRuntime struct {
	MCP      *mcp.Client
	Catalog  *toolshim.Catalog
	Shim     *toolshim.Shim
	Sessions *session.Manager
	Actions  *actions.Orchestrator
}

func provideAgentRuntime(
	cfg *config.Config,
	log *logger.Logger,
	settingsSvc *settings.Service,
	repo *storage.Repository,
	eventBus bus.EventBus,
	sup *supervisor.Supervisor,
	projects *projectsvc.Service,
	prefix session.PrefixSource,
) (*AgentRuntime, error) {
	mcpClient := mcp.New(settingsSvc, log)

	catalog, err := toolshim.LoadCatalog(cfg.Catalog.Path, log)
	if err != nil {
		return nil, err
	}
	log.Info("Tool catalog loaded", zap.Strings("tools", catalog.Names()))

	recorder := artifacts.NewRecorder(repo, projects, eventBus, log)

	shim := toolshim.New(toolshim.Deps{
		Catalog:   catalog,
		Runner:    mcpClient,
		Repo:      repo,
		Bus:       eventBus,
		Settings:  settingsSvc,
		Artifacts: recorder,
		Logger:    log,
	})

	sessions := session.NewManager(session.Deps{
		Launcher:  launcher.New(log),
		Providers: provider.NewRegistry(),
		Settings:  settingsSvc,
		Repo:      repo,
		Bus:       eventBus,
		Tools:     shim,
		Adapter:   sup,
		Prefix:    prefix,
		Logger:    log,
	})

	orchestrator := actions.New(mcpClient, catalog, repo, eventBus, log)
	orchestrator.SetArtifactRecorder(recorder)

	return &AgentRuntime{
		MCP:      mcpClient,
		Catalog:  catalog,
		Shim:     shim,
		Sessions: sessions,
		Actions:  orchestrator,
	}, nil
}
