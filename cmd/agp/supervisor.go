package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/common/config"
	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/events/bus"
	"github.com/agpstudio/agp/internal/settings"
	"github.com/agpstudio/agp/internal/supervisor"
)

// provideSupervisor builds the process supervisor and, when this gateway
// owns the MCP adapter, makes sure one is running. A missing adapter is
// not fatal at boot: sessions re-check reachability when they start.
func provideSupervisor(ctx context.Context, cfg *config.Config, settingsSvc *settings.Service, eventBus bus.EventBus, log *logger.Logger) *supervisor.Supervisor {
	sup := supervisor.New(settingsSvc, cfg.Data.Dir, eventBus, log)

	if err := sup.EnsureAdapter(ctx); err != nil {
		log.Warn("MCP adapter not available at startup", zap.Error(err))
	}

	return sup
}
