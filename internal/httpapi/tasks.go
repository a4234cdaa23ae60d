package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/project/models"
	tasksvc "github.com/agpstudio/agp/internal/task/service"
)

// TaskService is the slice of the task service the routes consume.
type TaskService interface {
	Get(ctx context.Context, id string) (*models.Task, error)
	List(ctx context.Context, projectID string) ([]*models.Task, error)
	NextAvailable(ctx context.Context, projectID string) (*models.Task, error)
	StartTask(ctx context.Context, taskID string) (*models.Task, error)
	CompleteTask(ctx context.Context, taskID string) (*tasksvc.CompleteResult, error)
	BlockTask(ctx context.Context, taskID, reason string) (*models.Task, error)
	UnblockTask(ctx context.Context, taskID string) (*models.Task, error)
}

type TaskHandlers struct {
	tasks  TaskService
	logger *logger.Logger
}

func NewTaskHandlers(tasks TaskService, log *logger.Logger) *TaskHandlers {
	return &TaskHandlers{
		tasks:  tasks,
		logger: log.WithFields(zap.String("component", "task-handlers")),
	}
}

func RegisterTaskRoutes(router *gin.Engine, tasks TaskService, log *logger.Logger) {
	handlers := NewTaskHandlers(tasks, log)
	handlers.registerHTTP(router)
}

func (h *TaskHandlers) registerHTTP(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.GET("/projects/:id/tasks", h.httpListTasks)
	api.GET("/projects/:id/tasks/next", h.httpNextTask)
	api.GET("/tasks/:id", h.httpGetTask)
	api.POST("/tasks/:id/start", h.httpStartTask)
	api.POST("/tasks/:id/complete", h.httpCompleteTask)
	api.POST("/tasks/:id/block", h.httpBlockTask)
	api.POST("/tasks/:id/unblock", h.httpUnblockTask)
}

func (h *TaskHandlers) httpListTasks(c *gin.Context) {
	tasks, err := h.tasks.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (h *TaskHandlers) httpNextTask(c *gin.Context) {
	task, err := h.tasks.NextAvailable(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandlers) httpGetTask(c *gin.Context) {
	task, err := h.tasks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandlers) httpStartTask(c *gin.Context) {
	task, err := h.tasks.StartTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandlers) httpCompleteTask(c *gin.Context) {
	result, err := h.tasks.CompleteTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type httpBlockTaskRequest struct {
	Reason string `json:"reason"`
}

func (h *TaskHandlers) httpBlockTask(c *gin.Context) {
	var body httpBlockTaskRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid payload")
		return
	}

	task, err := h.tasks.BlockTask(c.Request.Context(), c.Param("id"), body.Reason)
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandlers) httpUnblockTask(c *gin.Context) {
	task, err := h.tasks.UnblockTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, task)
}
