package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/common/logger"
	plansvc "github.com/agpstudio/agp/internal/plan/service"
	"github.com/agpstudio/agp/internal/project/models"
)

// PlanService is the slice of the plan service the routes consume.
type PlanService interface {
	Create(ctx context.Context, req *plansvc.CreatePlanRequest) (*plansvc.PlanWithTasks, error)
	Accept(ctx context.Context, projectID, planID string) (*models.TaskPlan, error)
	Get(ctx context.Context, planID string) (*plansvc.PlanWithTasks, error)
	GetAccepted(ctx context.Context, projectID string) (*plansvc.PlanWithTasks, error)
	List(ctx context.Context, projectID string) ([]*models.TaskPlan, error)
}

type PlanHandlers struct {
	plans  PlanService
	logger *logger.Logger
}

func NewPlanHandlers(plans PlanService, log *logger.Logger) *PlanHandlers {
	return &PlanHandlers{
		plans:  plans,
		logger: log.WithFields(zap.String("component", "plan-handlers")),
	}
}

func RegisterPlanRoutes(router *gin.Engine, plans PlanService, log *logger.Logger) {
	handlers := NewPlanHandlers(plans, log)
	handlers.registerHTTP(router)
}

func (h *PlanHandlers) registerHTTP(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.GET("/projects/:id/plans", h.httpListPlans)
	api.POST("/projects/:id/plans", h.httpCreatePlan)
	api.GET("/projects/:id/plans/accepted", h.httpGetAcceptedPlan)
	api.GET("/plans/:id", h.httpGetPlan)
	api.POST("/plans/:id/accept", h.httpAcceptPlan)
}

func (h *PlanHandlers) httpListPlans(c *gin.Context) {
	plans, err := h.plans.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

type httpCreatePlanRequest struct {
	Summary   string              `json:"summary"`
	CreatedBy string              `json:"createdBy"`
	Tasks     []plansvc.TaskInput `json:"tasks"`
}

func (h *PlanHandlers) httpCreatePlan(c *gin.Context) {
	var body httpCreatePlanRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid payload")
		return
	}

	result, err := h.plans.Create(c.Request.Context(), &plansvc.CreatePlanRequest{
		ProjectID: c.Param("id"),
		Summary:   body.Summary,
		CreatedBy: models.PlanCreator(body.CreatedBy),
		Tasks:     body.Tasks,
	})
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *PlanHandlers) httpGetAcceptedPlan(c *gin.Context) {
	result, err := h.plans.GetAccepted(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *PlanHandlers) httpGetPlan(c *gin.Context) {
	result, err := h.plans.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// httpAcceptPlan resolves the plan first so the caller does not have to
// repeat the project id.
func (h *PlanHandlers) httpAcceptPlan(c *gin.Context) {
	planID := c.Param("id")

	existing, err := h.plans.Get(c.Request.Context(), planID)
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}

	plan, err := h.plans.Accept(c.Request.Context(), existing.Plan.ProjectID, planID)
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}
