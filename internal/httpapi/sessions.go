package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/agent/session"
	"github.com/agpstudio/agp/internal/common/logger"
	ws "github.com/agpstudio/agp/pkg/websocket"
)

// SessionManager is the slice of the agent session manager the routes
// consume.
type SessionManager interface {
	Start(ctx context.Context, projectID, projectDir, providerName string) (*session.Session, error)
	Stop(ctx context.Context, projectID string) error
	Send(ctx context.Context, projectID, text, correlationID string) (*session.SendReceipt, error)
	Status(projectID string) session.Status
	AskOneShot(ctx context.Context, projectID, projectDir, providerName, prompt string) (string, error)
}

type SessionHandlers struct {
	sessions SessionManager
	projects ProjectDirResolver
	logger   *logger.Logger
}

func NewSessionHandlers(sessions SessionManager, projects ProjectDirResolver, log *logger.Logger) *SessionHandlers {
	return &SessionHandlers{
		sessions: sessions,
		projects: projects,
		logger:   log.WithFields(zap.String("component", "session-handlers")),
	}
}

func RegisterSessionRoutes(router *gin.Engine, dispatcher *ws.Dispatcher, sessions SessionManager, projects ProjectDirResolver, log *logger.Logger) {
	handlers := NewSessionHandlers(sessions, projects, log)
	handlers.registerHTTP(router)
	handlers.registerWS(dispatcher)
}

func (h *SessionHandlers) registerHTTP(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.GET("/projects/:id/session", h.httpSessionStatus)
	api.POST("/projects/:id/session/start", h.httpStartSession)
	api.POST("/projects/:id/session/stop", h.httpStopSession)
	api.POST("/projects/:id/session/send", h.httpSendToSession)
	api.POST("/projects/:id/session/ask", h.httpAskOneShot)
}

func (h *SessionHandlers) registerWS(dispatcher *ws.Dispatcher) {
	dispatcher.RegisterFunc(ws.ActionSessionStatus, h.wsSessionStatus)
	dispatcher.RegisterFunc(ws.ActionSessionStart, h.wsStartSession)
	dispatcher.RegisterFunc(ws.ActionSessionStop, h.wsStopSession)
}

// projectDir resolves the project row and its working directory.
func (h *SessionHandlers) projectDir(ctx context.Context, projectID string) (string, error) {
	project, err := h.projects.Get(ctx, projectID)
	if err != nil {
		return "", err
	}
	return h.projects.ProjectDir(project), nil
}

// HTTP handlers

func (h *SessionHandlers) httpSessionStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.sessions.Status(c.Param("id")))
}

type httpStartSessionRequest struct {
	Provider string `json:"provider"`
}

func (h *SessionHandlers) httpStartSession(c *gin.Context) {
	var body httpStartSessionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	if body.Provider == "" {
		badRequest(c, "provider is required")
		return
	}

	projectID := c.Param("id")
	dir, err := h.projectDir(c.Request.Context(), projectID)
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}

	if _, err := h.sessions.Start(c.Request.Context(), projectID, dir, body.Provider); err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, h.sessions.Status(projectID))
}

func (h *SessionHandlers) httpStopSession(c *gin.Context) {
	projectID := c.Param("id")
	if err := h.sessions.Stop(c.Request.Context(), projectID); err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": true, "projectId": projectID})
}

type httpSendRequest struct {
	Text          string `json:"text"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func (h *SessionHandlers) httpSendToSession(c *gin.Context) {
	var body httpSendRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	if body.Text == "" {
		badRequest(c, "text is required")
		return
	}

	receipt, err := h.sessions.Send(c.Request.Context(), c.Param("id"), body.Text, body.CorrelationID)
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

type httpAskRequest struct {
	Provider string `json:"provider"`
	Prompt   string `json:"prompt"`
}

// httpAskOneShot runs a single prompt through a throwaway CLI process and
// returns the final output. The interactive session, if any, is untouched.
func (h *SessionHandlers) httpAskOneShot(c *gin.Context) {
	var body httpAskRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	if body.Provider == "" {
		badRequest(c, "provider is required")
		return
	}
	if body.Prompt == "" {
		badRequest(c, "prompt is required")
		return
	}

	projectID := c.Param("id")
	dir, err := h.projectDir(c.Request.Context(), projectID)
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}

	output, err := h.sessions.AskOneShot(c.Request.Context(), projectID, dir, body.Provider, body.Prompt)
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"output": output, "projectId": projectID})
}

// WebSocket handlers

type wsSessionRequest struct {
	ProjectID string `json:"projectId"`
	Provider  string `json:"provider,omitempty"`
}

func (h *SessionHandlers) wsSessionStatus(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsSessionRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.ProjectID == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "projectId is required", nil)
	}
	return ws.NewResponse(msg.ID, msg.Action, h.sessions.Status(req.ProjectID))
}

func (h *SessionHandlers) wsStartSession(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsSessionRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.ProjectID == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "projectId is required", nil)
	}
	if req.Provider == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "provider is required", nil)
	}

	dir, err := h.projectDir(ctx, req.ProjectID)
	if err != nil {
		return wsError(msg, err)
	}
	if _, err := h.sessions.Start(ctx, req.ProjectID, dir, req.Provider); err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, h.sessions.Status(req.ProjectID))
}

func (h *SessionHandlers) wsStopSession(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsSessionRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.ProjectID == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "projectId is required", nil)
	}

	if err := h.sessions.Stop(ctx, req.ProjectID); err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"stopped":   true,
		"projectId": req.ProjectID,
	})
}
