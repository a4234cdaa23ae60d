package httpapi

import (
	"context"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/events"
	"github.com/agpstudio/agp/internal/events/bus"
	"github.com/agpstudio/agp/internal/settings"
)

// SettingsService is the slice of the settings service the routes consume.
type SettingsService interface {
	GetAll(maskSecrets bool) (*settings.Settings, error)
	Update(ctx context.Context, partial map[string]any) (*settings.Settings, error)
}

type SettingsHandlers struct {
	settings SettingsService
	eventBus bus.EventBus
	logger   *logger.Logger
}

func NewSettingsHandlers(svc SettingsService, eventBus bus.EventBus, log *logger.Logger) *SettingsHandlers {
	return &SettingsHandlers{
		settings: svc,
		eventBus: eventBus,
		logger:   log.WithFields(zap.String("component", "settings-handlers")),
	}
}

func RegisterSettingsRoutes(router *gin.Engine, svc SettingsService, eventBus bus.EventBus, log *logger.Logger) {
	handlers := NewSettingsHandlers(svc, eventBus, log)
	handlers.registerHTTP(router)
}

func (h *SettingsHandlers) registerHTTP(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.GET("/settings", h.httpGetSettings)
	api.PUT("/settings", h.httpUpdateSettings)
}

// httpGetSettings returns the settings with every secret masked. The raw
// values never leave the process.
func (h *SettingsHandlers) httpGetSettings(c *gin.Context) {
	cfg, err := h.settings.GetAll(true)
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (h *SettingsHandlers) httpUpdateSettings(c *gin.Context) {
	var partial map[string]any
	if err := c.ShouldBindJSON(&partial); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	if len(partial) == 0 {
		badRequest(c, "empty settings document")
		return
	}

	updated, err := h.settings.Update(c.Request.Context(), partial)
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}

	h.publishUpdated(c.Request.Context(), partial)
	c.JSON(http.StatusOK, updated)
}

// publishUpdated tells listeners which top-level sections changed. Values
// stay out of the event; secrets must not ride the bus.
func (h *SettingsHandlers) publishUpdated(ctx context.Context, partial map[string]any) {
	sections := make([]string, 0, len(partial))
	for key := range partial {
		sections = append(sections, key)
	}
	sort.Strings(sections)

	event := bus.NewEvent(events.SettingsUpdated, "settings-handlers", map[string]interface{}{
		"sections": sections,
	})
	if err := h.eventBus.Publish(ctx, events.SettingsUpdated, event); err != nil {
		h.logger.Warn("failed to publish settings event", zap.Error(err))
	}
}
