package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/agent/session"
	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/project/models"
	ws "github.com/agpstudio/agp/pkg/websocket"
)

const defaultChatLimit = 100

// ChatStore reads the persisted conversation.
type ChatStore interface {
	ListChatMessages(ctx context.Context, projectID string, limit int) ([]*models.ChatMessage, error)
	SearchChatMessages(ctx context.Context, projectID, search string, limit int) ([]*models.ChatMessage, error)
}

// ChatSender forwards a user message into the running agent session.
type ChatSender interface {
	Send(ctx context.Context, projectID, text, correlationID string) (*session.SendReceipt, error)
}

type ChatHandlers struct {
	store  ChatStore
	sender ChatSender
	logger *logger.Logger
}

func NewChatHandlers(store ChatStore, sender ChatSender, log *logger.Logger) *ChatHandlers {
	return &ChatHandlers{
		store:  store,
		sender: sender,
		logger: log.WithFields(zap.String("component", "chat-handlers")),
	}
}

func RegisterChatRoutes(router *gin.Engine, dispatcher *ws.Dispatcher, store ChatStore, sender ChatSender, log *logger.Logger) {
	handlers := NewChatHandlers(store, sender, log)
	handlers.registerHTTP(router)
	handlers.registerWS(dispatcher)
}

func (h *ChatHandlers) registerHTTP(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.GET("/projects/:id/chat", h.httpChatHistory)
}

func (h *ChatHandlers) registerWS(dispatcher *ws.Dispatcher) {
	dispatcher.RegisterFunc(ws.ActionChatSend, h.wsSendChat)
	dispatcher.RegisterFunc(ws.ActionChatHistory, h.wsChatHistory)
}

func (h *ChatHandlers) history(ctx context.Context, projectID, search string, limit int) ([]*models.ChatMessage, error) {
	if search != "" {
		return h.store.SearchChatMessages(ctx, projectID, search, limit)
	}
	return h.store.ListChatMessages(ctx, projectID, limit)
}

func (h *ChatHandlers) httpChatHistory(c *gin.Context) {
	messages, err := h.history(c.Request.Context(), c.Param("id"), c.Query("search"), limitQuery(c, defaultChatLimit))
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

type wsChatSendRequest struct {
	ProjectID     string `json:"projectId"`
	Text          string `json:"text"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// wsSendChat pushes a user message into the agent session. Persistence
// and the chat.message broadcast happen inside the session, so every
// subscriber sees the message exactly once.
func (h *ChatHandlers) wsSendChat(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsChatSendRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.ProjectID == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "projectId is required", nil)
	}
	if req.Text == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "text is required", nil)
	}

	receipt, err := h.sender.Send(ctx, req.ProjectID, req.Text, req.CorrelationID)
	if err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, receipt)
}

type wsChatHistoryRequest struct {
	ProjectID string `json:"projectId"`
	Search    string `json:"search,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

func (h *ChatHandlers) wsChatHistory(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsChatHistoryRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.ProjectID == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "projectId is required", nil)
	}
	if req.Limit <= 0 {
		req.Limit = defaultChatLimit
	}

	messages, err := h.history(ctx, req.ProjectID, req.Search, req.Limit)
	if err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"projectId": req.ProjectID,
		"messages":  messages,
	})
}
