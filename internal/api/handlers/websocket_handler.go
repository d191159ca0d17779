package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	apperrors "github.com/gocomet/ride-dispatch/pkg/errors"
	"github.com/gocomet/ride-dispatch/pkg/logger"
	"github.com/gocomet/ride-dispatch/pkg/websocket"
)

// HandleWebSocket handles GET /v1/ws?user_id=&user_type=
func (h *Handlers) HandleWebSocket(c *gin.Context) {
	// Get user info from query params
	userID := c.Query("user_id")
	userType := c.Query("user_type")

	if userID == "" || (userType != ride.RoleRider && userType != ride.RoleDriver) {
		h.Logger.Warn("Rejected WebSocket connection",
			logger.String("user_id", userID),
			logger.String("user_type", userType),
		)
		h.respondError(c, apperrors.InvalidInput("user_id and user_type (rider or driver) are required", nil))
		return
	}

	conn, err := h.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Logger.Error("Failed to upgrade to WebSocket", logger.Err(err))
		return
	}

	// Create client and register with hub
	client := websocket.NewClient(h.Hub, conn, userID, userType, h.Logger.Named("ws-client"))
	h.Hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
