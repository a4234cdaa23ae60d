package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/project/models"
)

const (
	defaultEventLogLimit   = 200
	defaultTranscriptLimit = 500
)

// HistoryStore reads the append-only records: artifacts, the domain event
// log and agent transcripts.
type HistoryStore interface {
	GetArtifact(ctx context.Context, id string) (*models.Artifact, error)
	ListArtifactsByProject(ctx context.Context, projectID string) ([]*models.Artifact, error)
	ListArtifactsByTask(ctx context.Context, taskID string) ([]*models.Artifact, error)
	ListArtifactsBySession(ctx context.Context, sessionID string) ([]*models.Artifact, error)
	ListEventLog(ctx context.Context, projectID, eventType string, limit int) ([]*models.EventLogEntry, error)
	GetAgentSession(ctx context.Context, id string) (*models.AgentSession, error)
	ListAgentSessions(ctx context.Context, projectID string) ([]*models.AgentSession, error)
	ListAgentMessages(ctx context.Context, sessionID string, limit int) ([]*models.AgentMessage, error)
	GetSessionStats(ctx context.Context, projectID string) (*models.SessionStats, error)
}

type HistoryHandlers struct {
	store  HistoryStore
	logger *logger.Logger
}

func NewHistoryHandlers(store HistoryStore, log *logger.Logger) *HistoryHandlers {
	return &HistoryHandlers{
		store:  store,
		logger: log.WithFields(zap.String("component", "history-handlers")),
	}
}

func RegisterHistoryRoutes(router *gin.Engine, store HistoryStore, log *logger.Logger) {
	handlers := NewHistoryHandlers(store, log)
	handlers.registerHTTP(router)
}

func (h *HistoryHandlers) registerHTTP(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.GET("/artifacts/:id", h.httpGetArtifact)
	api.GET("/projects/:id/artifacts", h.httpProjectArtifacts)
	api.GET("/tasks/:id/artifacts", h.httpTaskArtifacts)
	api.GET("/projects/:id/events", h.httpEventLog)
	api.GET("/projects/:id/agent-sessions", h.httpAgentSessions)
	api.GET("/projects/:id/session-stats", h.httpSessionStats)
	api.GET("/agent-sessions/:id", h.httpGetAgentSession)
	api.GET("/agent-sessions/:id/messages", h.httpAgentMessages)
	api.GET("/agent-sessions/:id/artifacts", h.httpSessionArtifacts)
}

func (h *HistoryHandlers) httpGetArtifact(c *gin.Context) {
	artifact, err := h.store.GetArtifact(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"artifact": artifact})
}

func (h *HistoryHandlers) httpProjectArtifacts(c *gin.Context) {
	artifacts, err := h.store.ListArtifactsByProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"artifacts": artifacts})
}

func (h *HistoryHandlers) httpTaskArtifacts(c *gin.Context) {
	artifacts, err := h.store.ListArtifactsByTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"artifacts": artifacts})
}

func (h *HistoryHandlers) httpEventLog(c *gin.Context) {
	entries, err := h.store.ListEventLog(c.Request.Context(), c.Param("id"), c.Query("type"), limitQuery(c, defaultEventLogLimit))
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": entries})
}

func (h *HistoryHandlers) httpAgentSessions(c *gin.Context) {
	sessions, err := h.store.ListAgentSessions(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *HistoryHandlers) httpSessionStats(c *gin.Context) {
	stats, err := h.store.GetSessionStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

func (h *HistoryHandlers) httpGetAgentSession(c *gin.Context) {
	session, err := h.store.GetAgentSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (h *HistoryHandlers) httpAgentMessages(c *gin.Context) {
	messages, err := h.store.ListAgentMessages(c.Request.Context(), c.Param("id"), limitQuery(c, defaultTranscriptLimit))
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *HistoryHandlers) httpSessionArtifacts(c *gin.Context) {
	artifacts, err := h.store.ListArtifactsBySession(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"artifacts": artifacts})
}
