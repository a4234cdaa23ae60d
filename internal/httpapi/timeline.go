package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/actions"
	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/project/models"
	ws "github.com/agpstudio/agp/pkg/websocket"
)

const defaultTimelineLimit = 200

// TimelineStore reads the persisted action history.
type TimelineStore interface {
	ListTimelineEvents(ctx context.Context, projectID string, limit int) ([]*models.TimelineEvent, error)
	ListTimelineByCorrelation(ctx context.Context, projectID, correlationID string) ([]*models.TimelineEvent, error)
}

// PlanRunner executes tool plans and reverts recorded steps.
type PlanRunner interface {
	ExecutePlan(ctx context.Context, projectID string, steps []actions.Step, correlationID string) (*actions.Summary, error)
	Revert(ctx context.Context, eventID int64) (*actions.RevertOutcome, error)
}

type TimelineHandlers struct {
	store  TimelineStore
	runner PlanRunner
	logger *logger.Logger
}

func NewTimelineHandlers(store TimelineStore, runner PlanRunner, log *logger.Logger) *TimelineHandlers {
	return &TimelineHandlers{
		store:  store,
		runner: runner,
		logger: log.WithFields(zap.String("component", "timeline-handlers")),
	}
}

func RegisterTimelineRoutes(router *gin.Engine, dispatcher *ws.Dispatcher, store TimelineStore, runner PlanRunner, log *logger.Logger) {
	handlers := NewTimelineHandlers(store, runner, log)
	handlers.registerHTTP(router)
	handlers.registerWS(dispatcher)
}

func (h *TimelineHandlers) registerHTTP(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.GET("/projects/:id/timeline", h.httpListTimeline)
	api.POST("/timeline/:id/revert", h.httpRevert)
}

func (h *TimelineHandlers) registerWS(dispatcher *ws.Dispatcher) {
	dispatcher.RegisterFunc(ws.ActionTimelineList, h.wsListTimeline)
	dispatcher.RegisterFunc(ws.ActionTimelineRevert, h.wsRevert)
	dispatcher.RegisterFunc(ws.ActionPlanExecute, h.wsExecutePlan)
}

func (h *TimelineHandlers) list(ctx context.Context, projectID, correlationID string, limit int) ([]*models.TimelineEvent, error) {
	if correlationID != "" {
		return h.store.ListTimelineByCorrelation(ctx, projectID, correlationID)
	}
	return h.store.ListTimelineEvents(ctx, projectID, limit)
}

func (h *TimelineHandlers) httpListTimeline(c *gin.Context) {
	events, err := h.list(c.Request.Context(), c.Param("id"), c.Query("correlationId"), limitQuery(c, defaultTimelineLimit))
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *TimelineHandlers) httpRevert(c *gin.Context) {
	eventID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "event id must be numeric")
		return
	}

	outcome, err := h.runner.Revert(c.Request.Context(), eventID)
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// WebSocket handlers

type wsTimelineListRequest struct {
	ProjectID     string `json:"projectId"`
	CorrelationID string `json:"correlationId,omitempty"`
	Limit         int    `json:"limit,omitempty"`
}

func (h *TimelineHandlers) wsListTimeline(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsTimelineListRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.ProjectID == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "projectId is required", nil)
	}
	if req.Limit <= 0 {
		req.Limit = defaultTimelineLimit
	}

	events, err := h.list(ctx, req.ProjectID, req.CorrelationID, req.Limit)
	if err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"projectId": req.ProjectID,
		"events":    events,
	})
}

type wsRevertRequest struct {
	EventID int64 `json:"eventId"`
}

func (h *TimelineHandlers) wsRevert(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsRevertRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.EventID == 0 {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "eventId is required", nil)
	}

	outcome, err := h.runner.Revert(ctx, req.EventID)
	if err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, outcome)
}

type wsExecutePlanRequest struct {
	ProjectID     string         `json:"projectId"`
	Steps         []actions.Step `json:"steps"`
	CorrelationID string         `json:"correlationId,omitempty"`
}

// wsExecutePlan runs a tool plan step by step. The response carries the
// full summary; per-step progress reaches the room through the
// action.started and action.completed broadcasts.
func (h *TimelineHandlers) wsExecutePlan(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsExecutePlanRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.ProjectID == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "projectId is required", nil)
	}
	if len(req.Steps) == 0 {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "steps must not be empty", nil)
	}

	summary, err := h.runner.ExecutePlan(ctx, req.ProjectID, req.Steps, req.CorrelationID)
	if err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, summary)
}
