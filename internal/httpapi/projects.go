package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/project/models"
	projectsvc "github.com/agpstudio/agp/internal/project/service"
)

// ProjectService is the slice of the project service the routes consume.
type ProjectService interface {
	Create(ctx context.Context, req *projectsvc.CreateProjectRequest) (*models.Project, error)
	Get(ctx context.Context, id string) (*models.Project, error)
	GetActive(ctx context.Context) (*models.Project, error)
	List(ctx context.Context) ([]*models.Project, error)
	Rename(ctx context.Context, id, name string) (*models.Project, error)
	Activate(ctx context.Context, id string) (*projectsvc.ActivateResult, error)
	Delete(ctx context.Context, id string, purge bool) error
}

// ProjectDirResolver turns a project id into its absolute directory. The
// session and supervisor routes need it to hand paths to child processes.
type ProjectDirResolver interface {
	Get(ctx context.Context, id string) (*models.Project, error)
	ProjectDir(project *models.Project) string
}

type ProjectHandlers struct {
	projects ProjectService
	logger   *logger.Logger
}

func NewProjectHandlers(projects ProjectService, log *logger.Logger) *ProjectHandlers {
	return &ProjectHandlers{
		projects: projects,
		logger:   log.WithFields(zap.String("component", "project-handlers")),
	}
}

func RegisterProjectRoutes(router *gin.Engine, projects ProjectService, log *logger.Logger) {
	handlers := NewProjectHandlers(projects, log)
	handlers.registerHTTP(router)
}

func (h *ProjectHandlers) registerHTTP(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.GET("/projects", h.httpListProjects)
	api.POST("/projects", h.httpCreateProject)
	api.GET("/projects/:id", h.httpGetProject)
	api.PATCH("/projects/:id", h.httpRenameProject)
	api.DELETE("/projects/:id", h.httpDeleteProject)
	api.POST("/projects/:id/activate", h.httpActivateProject)
}

func (h *ProjectHandlers) httpListProjects(c *gin.Context) {
	projects, err := h.projects.List(c.Request.Context())
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

type httpCreateProjectRequest struct {
	Name string `json:"name"`
}

func (h *ProjectHandlers) httpCreateProject(c *gin.Context) {
	var body httpCreateProjectRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid payload")
		return
	}

	project, err := h.projects.Create(c.Request.Context(), &projectsvc.CreateProjectRequest{Name: body.Name})
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

// httpGetProject resolves one project. The id "active" is reserved and
// resolves to whichever project currently holds the active flag.
func (h *ProjectHandlers) httpGetProject(c *gin.Context) {
	id := c.Param("id")

	var (
		project *models.Project
		err     error
	)
	if id == "active" {
		project, err = h.projects.GetActive(c.Request.Context())
	} else {
		project, err = h.projects.Get(c.Request.Context(), id)
	}
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

type httpRenameProjectRequest struct {
	Name string `json:"name"`
}

func (h *ProjectHandlers) httpRenameProject(c *gin.Context) {
	var body httpRenameProjectRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid payload")
		return
	}

	project, err := h.projects.Rename(c.Request.Context(), c.Param("id"), body.Name)
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (h *ProjectHandlers) httpDeleteProject(c *gin.Context) {
	id := c.Param("id")
	purge := c.Query("purge") == "true"

	if err := h.projects.Delete(c.Request.Context(), id, purge); err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true, "id": id, "purge": purge})
}

func (h *ProjectHandlers) httpActivateProject(c *gin.Context) {
	result, err := h.projects.Activate(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
