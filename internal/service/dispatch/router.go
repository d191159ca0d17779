package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gocomet/ride-dispatch/internal/domain/event"
	apperrors "github.com/gocomet/ride-dispatch/pkg/errors"
	"github.com/gocomet/ride-dispatch/pkg/logger"
)

const defaultCommandTimeout = 5 * time.Second

// Router turns inbound WebSocket frames into engine commands. Each actor's
// frames are handled on that actor's read loop, so frames from one connection
// are processed in order.
type Router struct {
	engine  *Engine
	logger  *logger.Logger
	timeout time.Duration
}

// NewRouter creates a frame router
func NewRouter(engine *Engine, log *logger.Logger) *Router {
	return &Router{engine: engine, logger: log.Named("router"), timeout: defaultCommandTimeout}
}

// HandleFrame decodes one frame and runs it. Rejections go back to the
// sender as an error event, except lost accept races which were already
// answered with ride-taken.
func (rt *Router) HandleFrame(actorID, role, msgType string, data json.RawMessage) {
	route, ok := commandRoutes[msgType]
	if !ok {
		rt.reject(actorID, msgType, "", apperrors.InvalidInput(fmt.Sprintf("unknown message type %q", msgType), nil))
		return
	}
	if route.role != "" && route.role != role {
		rt.reject(actorID, msgType, "", apperrors.Forbidden(fmt.Sprintf("%s is not allowed for %s connections", msgType, role), nil))
		return
	}

	cmd := route.new()
	if len(data) > 0 {
		if err := json.Unmarshal(data, cmd); err != nil {
			rt.reject(actorID, msgType, "", apperrors.InvalidInput("malformed payload", err))
			return
		}
	}
	if bound, ok := cmd.(actorBound); ok {
		bound.bindActor(actorID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), rt.timeout)
	defer cancel()

	if _, err := rt.engine.Handle(ctx, cmd); err != nil {
		if msgType == CmdAcceptRide && IsLostRace(err) {
			return
		}
		rt.reject(actorID, msgType, rideOf(cmd), err)
	}
}

func (rt *Router) reject(actorID, command, rideID string, err error) {
	appErr := apperrors.GetAppError(err)
	if appErr.Code == apperrors.CodeInternal {
		rt.logger.Error("Command failed",
			logger.String("actor_id", actorID),
			logger.String("command", command),
			logger.Err(err),
		)
	}
	rt.engine.notify(actorID, event.ErrorNotice{
		RideID:  rideID,
		Command: command,
		Code:    appErr.Code,
		Message: appErr.Message,
	})
}

func rideOf(cmd Command) string {
	switch c := cmd.(type) {
	case *AcceptRide:
		return c.RideID
	case *DeclineRide:
		return c.RideID
	case *UpdateRideStatus:
		return c.RideID
	case *CancelRide:
		return c.RideID
	case *RateRide:
		return c.RideID
	}
	return ""
}
