// Package httpapi exposes the domain services over REST routes and
// WebSocket dispatcher actions. Each domain registers both surfaces from
// one handler set, so the two stay in lockstep.
package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/common/apperr"
	"github.com/agpstudio/agp/internal/common/logger"
	ws "github.com/agpstudio/agp/pkg/websocket"
)

// respondErr writes the JSON error body for a failed request. The status
// comes from the error kind; only unexpected failures land in the log.
func respondErr(c *gin.Context, log *logger.Logger, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
	}
	c.JSON(status, gin.H{
		"error": err.Error(),
		"kind":  string(apperr.KindOf(err)),
	})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error": msg,
		"kind":  string(apperr.KindSchemaViolation),
	})
}

// limitQuery reads the limit query parameter, falling back when it is
// absent or unparseable.
func limitQuery(c *gin.Context, fallback int) int {
	raw := c.Query("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}

// wsErrorCode folds the error kinds onto the coarser WebSocket codes.
func wsErrorCode(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return ws.ErrorCodeNotFound
	case apperr.KindConflict, apperr.KindPortInUse:
		return ws.ErrorCodeConflict
	case apperr.KindNotRunning, apperr.KindBridgesNotReady:
		return ws.ErrorCodeNotRunning
	case apperr.KindSchemaViolation, apperr.KindConfigInvalid:
		return ws.ErrorCodeValidation
	case apperr.KindToolNotAllowed:
		return ws.ErrorCodeForbidden
	default:
		return ws.ErrorCodeInternalError
	}
}

// wsError turns a service error into an error frame for the client.
func wsError(msg *ws.Message, err error) (*ws.Message, error) {
	return ws.NewError(msg.ID, msg.Action, wsErrorCode(err), err.Error(), nil)
}
