package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/supervisor"
)

// ProcessSupervisor is the slice of the supervisor the routes consume.
type ProcessSupervisor interface {
	StartSequence(ctx context.Context, projectID, projectDir string) (*supervisor.SequenceReport, error)
	StopProcess(name string) error
	ProcessStatus(name string) (supervisor.Status, error)
	StatusAll() []supervisor.Status
	Shutdown()
}

type SupervisorHandlers struct {
	supervisor ProcessSupervisor
	projects   ProjectDirResolver
	logger     *logger.Logger
}

func NewSupervisorHandlers(sup ProcessSupervisor, projects ProjectDirResolver, log *logger.Logger) *SupervisorHandlers {
	return &SupervisorHandlers{
		supervisor: sup,
		projects:   projects,
		logger:     log.WithFields(zap.String("component", "supervisor-handlers")),
	}
}

func RegisterSupervisorRoutes(router *gin.Engine, sup ProcessSupervisor, projects ProjectDirResolver, log *logger.Logger) {
	handlers := NewSupervisorHandlers(sup, projects, log)
	handlers.registerHTTP(router)
}

func (h *SupervisorHandlers) registerHTTP(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.GET("/processes", h.httpListProcesses)
	api.GET("/processes/:name", h.httpProcessStatus)
	api.POST("/processes/:name/stop", h.httpStopProcess)
	api.POST("/projects/:id/sequence", h.httpStartSequence)
	api.POST("/sequence/stop", h.httpStopSequence)
}

func (h *SupervisorHandlers) httpListProcesses(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"processes": h.supervisor.StatusAll()})
}

func (h *SupervisorHandlers) httpProcessStatus(c *gin.Context) {
	status, err := h.supervisor.ProcessStatus(c.Param("name"))
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *SupervisorHandlers) httpStopProcess(c *gin.Context) {
	name := c.Param("name")
	if err := h.supervisor.StopProcess(name); err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": true, "name": name})
}

// httpStartSequence launches the engine, modeler, bridges and adapter for
// the project. Individual step failures land in the report, not in the
// HTTP status.
func (h *SupervisorHandlers) httpStartSequence(c *gin.Context) {
	projectID := c.Param("id")

	project, err := h.projects.Get(c.Request.Context(), projectID)
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}

	report, err := h.supervisor.StartSequence(c.Request.Context(), projectID, h.projects.ProjectDir(project))
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *SupervisorHandlers) httpStopSequence(c *gin.Context) {
	h.supervisor.Shutdown()
	c.JSON(http.StatusOK, gin.H{"stopped": true})
}
