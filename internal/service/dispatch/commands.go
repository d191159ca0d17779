package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gocomet/ride-dispatch/internal/domain/geo"
	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	apperrors "github.com/gocomet/ride-dispatch/pkg/errors"
)

// Inbound command names, as sent in the "type" field of a client frame.
const (
	CmdRequestRide      = "request-ride"
	CmdAcceptRide       = "accept-ride"
	CmdDeclineRide      = "decline-ride"
	CmdUpdateRideStatus = "ride-status-update"
	CmdCancelRide       = "cancel-ride"
	CmdReportLocation   = "location-update"
	CmdSetAvailability  = "driver-status"
	CmdGoOffline        = "go-offline"
	CmdRateRide         = "rate-ride"
)

// Command is an inbound request from a rider or driver.
type Command interface {
	CommandName() string
}

// actorBound commands carry the caller's identity, which the router takes
// from the authenticated connection rather than the payload.
type actorBound interface {
	bindActor(actorID string)
}

// Place is a ride endpoint as a client submits it. Coordinates must be
// present; a missing point is never read as 0,0.
type Place struct {
	Address     string     `json:"address" validate:"max=200"`
	Coordinates *geo.Point `json:"coordinates" validate:"required"`
}

// NewPlace builds a submitted place from resolved coordinates.
func NewPlace(address string, p geo.Point) *Place {
	return &Place{Address: address, Coordinates: &p}
}

func (p *Place) point() geo.Point {
	if p == nil || p.Coordinates == nil {
		return geo.Point{}
	}
	return *p.Coordinates
}

func (p *Place) toRide() ride.Place {
	if p == nil {
		return ride.Place{}
	}
	return ride.Place{Address: p.Address, Coordinates: p.point()}
}

type SubmitRideRequest struct {
	RiderID string `json:"rider_id" validate:"required,max=64"`
	Pickup  *Place `json:"pickup" validate:"required"`
	Dropoff *Place `json:"dropoff" validate:"required"`
}

type AcceptRide struct {
	DriverID string `json:"driver_id" validate:"required,max=64"`
	RideID   string `json:"ride_id" validate:"required"`
}

type DeclineRide struct {
	DriverID string `json:"driver_id" validate:"required,max=64"`
	RideID   string `json:"ride_id" validate:"required"`
}

type UpdateRideStatus struct {
	DriverID string      `json:"driver_id" validate:"required,max=64"`
	RideID   string      `json:"ride_id" validate:"required"`
	Status   ride.Status `json:"status" validate:"required,oneof=arrived started completed cancelled"`
}

type CancelRide struct {
	ActorID string `json:"actor_id" validate:"required,max=64"`
	RideID  string `json:"ride_id" validate:"required"`
	Reason  string `json:"reason" validate:"max=200"`
}

type ReportDriverLocation struct {
	DriverID    string     `json:"driver_id" validate:"required,max=64"`
	Coordinates *geo.Point `json:"coordinates" validate:"required"`
}

// SetDriverAvailability toggles dispatchability. Coordinates are required
// when the driver has no presence yet.
type SetDriverAvailability struct {
	DriverID    string     `json:"driver_id" validate:"required,max=64"`
	Available   bool       `json:"available"`
	Coordinates *geo.Point `json:"coordinates,omitempty"`
}

type GoOffline struct {
	DriverID string `json:"driver_id" validate:"required,max=64"`
}

// RateRide lets either party rate the other once the ride is completed.
type RateRide struct {
	ActorID string `json:"actor_id" validate:"required,max=64"`
	RideID  string `json:"ride_id" validate:"required"`
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
}

func (SubmitRideRequest) CommandName() string     { return CmdRequestRide }
func (AcceptRide) CommandName() string            { return CmdAcceptRide }
func (DeclineRide) CommandName() string           { return CmdDeclineRide }
func (UpdateRideStatus) CommandName() string      { return CmdUpdateRideStatus }
func (CancelRide) CommandName() string            { return CmdCancelRide }
func (ReportDriverLocation) CommandName() string  { return CmdReportLocation }
func (SetDriverAvailability) CommandName() string { return CmdSetAvailability }
func (GoOffline) CommandName() string             { return CmdGoOffline }
func (RateRide) CommandName() string              { return CmdRateRide }

func (c *SubmitRideRequest) bindActor(id string)     { c.RiderID = id }
func (c *AcceptRide) bindActor(id string)            { c.DriverID = id }
func (c *DeclineRide) bindActor(id string)           { c.DriverID = id }
func (c *UpdateRideStatus) bindActor(id string)      { c.DriverID = id }
func (c *CancelRide) bindActor(id string)            { c.ActorID = id }
func (c *ReportDriverLocation) bindActor(id string)  { c.DriverID = id }
func (c *SetDriverAvailability) bindActor(id string) { c.DriverID = id }
func (c *GoOffline) bindActor(id string)             { c.DriverID = id }
func (c *RateRide) bindActor(id string)              { c.ActorID = id }

// commandRoute describes how the router decodes a command and who may send it.
type commandRoute struct {
	role string
	new  func() Command
}

var commandRoutes = map[string]commandRoute{
	CmdRequestRide:      {role: ride.RoleRider, new: func() Command { return &SubmitRideRequest{} }},
	CmdAcceptRide:       {role: ride.RoleDriver, new: func() Command { return &AcceptRide{} }},
	CmdDeclineRide:      {role: ride.RoleDriver, new: func() Command { return &DeclineRide{} }},
	CmdUpdateRideStatus: {role: ride.RoleDriver, new: func() Command { return &UpdateRideStatus{} }},
	CmdCancelRide:       {new: func() Command { return &CancelRide{} }},
	CmdReportLocation:   {role: ride.RoleDriver, new: func() Command { return &ReportDriverLocation{} }},
	CmdSetAvailability:  {role: ride.RoleDriver, new: func() Command { return &SetDriverAvailability{} }},
	CmdGoOffline:        {role: ride.RoleDriver, new: func() Command { return &GoOffline{} }},
	CmdRateRide:         {new: func() Command { return &RateRide{} }},
}

type handlerFunc func(ctx context.Context, cmd Command) (interface{}, error)

// handle adapts a typed operation to the handler table. Commands may arrive
// by value or by pointer.
func handle[C Command](fn func(context.Context, C) (interface{}, error)) handlerFunc {
	return func(ctx context.Context, cmd Command) (interface{}, error) {
		switch c := any(cmd).(type) {
		case C:
			return fn(ctx, c)
		case *C:
			return fn(ctx, *c)
		}
		return nil, apperrors.InvalidInput(fmt.Sprintf("unexpected payload for %s", cmd.CommandName()), nil)
	}
}

func (e *Engine) buildHandlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		CmdRequestRide: handle(func(ctx context.Context, c SubmitRideRequest) (interface{}, error) {
			return e.SubmitRideRequest(ctx, c)
		}),
		CmdAcceptRide: handle(func(ctx context.Context, c AcceptRide) (interface{}, error) {
			return e.AcceptRide(ctx, c)
		}),
		CmdDeclineRide: handle(func(ctx context.Context, c DeclineRide) (interface{}, error) {
			return nil, e.DeclineRide(ctx, c)
		}),
		CmdUpdateRideStatus: handle(func(ctx context.Context, c UpdateRideStatus) (interface{}, error) {
			return e.UpdateRideStatus(ctx, c)
		}),
		CmdCancelRide: handle(func(ctx context.Context, c CancelRide) (interface{}, error) {
			return e.CancelRide(ctx, c)
		}),
		CmdReportLocation: handle(func(ctx context.Context, c ReportDriverLocation) (interface{}, error) {
			return e.ReportDriverLocation(ctx, c)
		}),
		CmdSetAvailability: handle(func(ctx context.Context, c SetDriverAvailability) (interface{}, error) {
			return e.SetDriverAvailability(ctx, c)
		}),
		CmdGoOffline: handle(func(ctx context.Context, c GoOffline) (interface{}, error) {
			return nil, e.GoOffline(ctx, c)
		}),
		CmdRateRide: handle(func(ctx context.Context, c RateRide) (interface{}, error) {
			return e.RateRide(ctx, c)
		}),
	}
}

// Handle runs a command through the handler table.
func (e *Engine) Handle(ctx context.Context, cmd Command) (interface{}, error) {
	if cmd == nil {
		return nil, apperrors.InvalidInput("command is required", nil)
	}
	h, ok := e.handlers[cmd.CommandName()]
	if !ok {
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown command %q", cmd.CommandName()), nil)
	}
	return h(ctx, cmd)
}

// check validates struct tags and maps failures to INVALID_INPUT.
func (e *Engine) check(cmd interface{}) error {
	err := e.validate.Struct(cmd)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return apperrors.InvalidInput("invalid command", err)
	}
	msgs := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		msgs = append(msgs, validationMessage(fe))
	}
	return apperrors.InvalidInput(strings.Join(msgs, "; "), err)
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "min":
		return fe.Field() + " must be at least " + fe.Param()
	case "max":
		return fe.Field() + " must be at most " + fe.Param()
	case "oneof":
		return fe.Field() + " must be one of: " + fe.Param()
	default:
		return fe.Field() + " is invalid"
	}
}
