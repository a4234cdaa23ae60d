package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/contextsvc"
	"github.com/agpstudio/agp/internal/project/models"
)

// ContextService is the slice of the context service the routes consume.
type ContextService interface {
	List(ctx context.Context, projectID string) ([]*models.Context, error)
	Get(ctx context.Context, id string) (*models.Context, error)
	GetActive(ctx context.Context, projectID string, scope models.ContextScope, taskID string) (*models.Context, error)
	Save(ctx context.Context, req *contextsvc.SaveContextRequest) (*models.Context, error)
	Rollback(ctx context.Context, id string) (*models.Context, error)
}

type ContextHandlers struct {
	contexts ContextService
	logger   *logger.Logger
}

func NewContextHandlers(contexts ContextService, log *logger.Logger) *ContextHandlers {
	return &ContextHandlers{
		contexts: contexts,
		logger:   log.WithFields(zap.String("component", "context-handlers")),
	}
}

func RegisterContextRoutes(router *gin.Engine, contexts ContextService, log *logger.Logger) {
	handlers := NewContextHandlers(contexts, log)
	handlers.registerHTTP(router)
}

func (h *ContextHandlers) registerHTTP(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.GET("/projects/:id/contexts", h.httpListContexts)
	api.GET("/projects/:id/contexts/active", h.httpGetActiveContext)
	api.POST("/projects/:id/contexts", h.httpSaveContext)
	api.GET("/contexts/:id", h.httpGetContext)
	api.POST("/contexts/:id/rollback", h.httpRollbackContext)
}

func (h *ContextHandlers) httpListContexts(c *gin.Context) {
	contexts, err := h.contexts.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contexts": contexts})
}

// httpGetActiveContext returns the active document for the project. The
// scope defaults to global; task scope needs the taskId query parameter.
func (h *ContextHandlers) httpGetActiveContext(c *gin.Context) {
	scope := models.ContextScope(c.DefaultQuery("scope", string(models.ContextScopeGlobal)))
	taskID := c.Query("taskId")

	doc, err := h.contexts.GetActive(c.Request.Context(), c.Param("id"), scope, taskID)
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

type httpSaveContextRequest struct {
	Scope   string                 `json:"scope,omitempty"`
	TaskID  string                 `json:"taskId,omitempty"`
	Content map[string]interface{} `json:"content"`
}

func (h *ContextHandlers) httpSaveContext(c *gin.Context) {
	var body httpSaveContextRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid payload")
		return
	}

	doc, err := h.contexts.Save(c.Request.Context(), &contextsvc.SaveContextRequest{
		ProjectID: c.Param("id"),
		Scope:     models.ContextScope(body.Scope),
		TaskID:    body.TaskID,
		Content:   body.Content,
	})
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

func (h *ContextHandlers) httpGetContext(c *gin.Context) {
	doc, err := h.contexts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *ContextHandlers) httpRollbackContext(c *gin.Context) {
	doc, err := h.contexts.Rollback(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}
