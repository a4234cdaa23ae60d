package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/common/tracing"
	"github.com/agpstudio/agp/internal/events/bus"
	gateways "github.com/agpstudio/agp/internal/gateway/websocket"
	"github.com/agpstudio/agp/internal/httpapi"
	"github.com/agpstudio/agp/internal/mcp"
	"github.com/agpstudio/agp/internal/settings"
	"github.com/agpstudio/agp/internal/storage"
	"github.com/agpstudio/agp/internal/supervisor"
)

// routeParams holds all dependencies needed for HTTP and WebSocket route
// registration.
type routeParams struct {
	router      *gin.Engine
	gateway     *gateways.Gateway
	repo        *storage.Repository
	services    *Services
	settingsSvc *settings.Service
	sup         *supervisor.Supervisor
	runtime     *AgentRuntime
	eventBus    bus.EventBus
	log         *logger.Logger
}

// registerRoutes sets up all HTTP and WebSocket routes on the given router.
func registerRoutes(p routeParams) {
	p.gateway.SetupRoutes(p.router)

	httpapi.RegisterSettingsRoutes(p.router, p.settingsSvc, p.eventBus, p.log)
	httpapi.RegisterProjectRoutes(p.router, p.services.Projects, p.log)
	httpapi.RegisterTaskRoutes(p.router, p.services.Tasks, p.log)
	httpapi.RegisterPlanRoutes(p.router, p.services.Plans, p.log)
	httpapi.RegisterContextRoutes(p.router, p.services.Contexts, p.log)
	httpapi.RegisterSupervisorRoutes(p.router, p.sup, p.services.Projects, p.log)
	httpapi.RegisterSessionRoutes(p.router, p.gateway.Dispatcher, p.runtime.Sessions, p.services.Projects, p.log)
	httpapi.RegisterChatRoutes(p.router, p.gateway.Dispatcher, p.repo, p.runtime.Sessions, p.log)
	httpapi.RegisterTimelineRoutes(p.router, p.gateway.Dispatcher, p.repo, p.runtime.Actions, p.log)
	httpapi.RegisterHistoryRoutes(p.router, p.repo, p.log)
	p.log.Debug("Registered gateway handlers (HTTP + WebSocket)")

	p.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "agp", "mode": "websocket+http"})
	})
}

// runGracefulShutdown stops agent sessions, child processes and the HTTP
// server, then runs cleanups.
func runGracefulShutdown(
	server *http.Server,
	runtime *AgentRuntime,
	sup *supervisor.Supervisor,
	mcpClient *mcp.Client,
	runCleanups func(),
	log *logger.Logger,
) {
	log.Info("Shutting down AGP...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	runtime.Sessions.StopAll(stopCtx)
	stopCancel()

	sup.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	mcpClient.Close()
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Warn("Tracing shutdown error", zap.Error(err))
	}

	runCleanups()

	log.Info("AGP stopped")
	_ = log.Sync()
}
