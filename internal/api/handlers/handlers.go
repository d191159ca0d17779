package handlers

import (
	"context"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/gocomet/ride-dispatch/internal/api/dto"
	"github.com/gocomet/ride-dispatch/internal/maps"
	"github.com/gocomet/ride-dispatch/internal/service/dispatch"
	apperrors "github.com/gocomet/ride-dispatch/pkg/errors"
	"github.com/gocomet/ride-dispatch/pkg/logger"
	"github.com/gocomet/ride-dispatch/pkg/websocket"
	gorilla "github.com/gorilla/websocket"
)

// ReadinessCheck pings one backing service.
type ReadinessCheck func(ctx context.Context) error

// Handlers holds all handler dependencies
type Handlers struct {
	Engine   *dispatch.Engine
	Places   maps.Places // nil when no Maps API key is configured
	Hub      *websocket.Hub
	Upgrader gorilla.Upgrader
	Logger   *logger.Logger
	Checks   map[string]ReadinessCheck
}

// NewHandlers creates a new Handlers instance
func NewHandlers(engine *dispatch.Engine, places maps.Places, hub *websocket.Hub, readBuffer, writeBuffer int, log *logger.Logger) *Handlers {
	return &Handlers{
		Engine: engine,
		Places: places,
		Hub:    hub,
		Upgrader: gorilla.Upgrader{
			ReadBufferSize:  readBuffer,
			WriteBufferSize: writeBuffer,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in development
			},
		},
		Logger: log,
	}
}

// respondError renders err as an AppError body with its HTTP status.
func (h *Handlers) respondError(c *gin.Context, err error) {
	appErr := apperrors.GetAppError(err)
	if appErr.Status >= http.StatusInternalServerError {
		h.Logger.Error("Request failed",
			logger.String("method", c.Request.Method),
			logger.String("path", c.FullPath()),
			logger.Err(err),
		)
	}
	c.JSON(appErr.Status, dto.ErrorResponse{Code: appErr.Code, Message: appErr.Message})
}

// bind decodes a JSON body and answers INVALID_INPUT on failure.
func (h *Handlers) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.respondError(c, apperrors.InvalidInput("Invalid request payload", err))
		return false
	}
	return true
}

// Health handles GET /health
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"connections": h.Hub.ActiveConnections(),
		"riders":      h.Hub.CountByRole("rider"),
		"drivers":     h.Hub.CountByRole("driver"),
	})
}

// Ready handles GET /ready. It answers 503 when any backing service fails.
func (h *Handlers) Ready(c *gin.Context) {
	names := make([]string, 0, len(h.Checks))
	for name := range h.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(gin.H, len(names))
	for _, name := range names {
		if err := h.Checks[name](c.Request.Context()); err != nil {
			h.Logger.Warn("Readiness check failed", logger.String("check", name), logger.Err(err))
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	c.JSON(status, gin.H{"ready": status == http.StatusOK, "checks": results})
}
