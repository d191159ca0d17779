package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gocomet/ride-dispatch/internal/api/dto"
	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	"github.com/gocomet/ride-dispatch/internal/service/dispatch"
	"github.com/gocomet/ride-dispatch/pkg/logger"
)

// CreateRide handles POST /v1/rides
func (h *Handlers) CreateRide(c *gin.Context) {
	var req dto.CreateRideRequest
	if !h.bind(c, &req) {
		return
	}

	h.Logger.Info("Ride request received",
		logger.String("rider_id", req.RiderID),
		logger.String("pickup", req.PickupPoint().String()),
	)

	r, err := h.Engine.SubmitRideRequest(c.Request.Context(), dispatch.SubmitRideRequest{
		RiderID: req.RiderID,
		Pickup:  dispatch.NewPlace(req.PickupAddress, req.PickupPoint()),
		Dropoff: dispatch.NewPlace(req.DropoffAddress, req.DropoffPoint()),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	status := http.StatusCreated
	if r.Status == ride.StatusCancelled {
		// Created but nobody was in range.
		status = http.StatusOK
	}
	c.JSON(status, r)
}

// GetRide handles GET /v1/rides/:id?actor_id=
func (h *Handlers) GetRide(c *gin.Context) {
	r, err := h.Engine.GetRide(c.Request.Context(), c.Query("actor_id"), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// AcceptRide handles POST /v1/rides/:id/accept
func (h *Handlers) AcceptRide(c *gin.Context) {
	var req dto.DriverActionRequest
	if !h.bind(c, &req) {
		return
	}

	r, err := h.Engine.AcceptRide(c.Request.Context(), dispatch.AcceptRide{DriverID: req.DriverID, RideID: c.Param("id")})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// DeclineRide handles POST /v1/rides/:id/decline
func (h *Handlers) DeclineRide(c *gin.Context) {
	var req dto.DriverActionRequest
	if !h.bind(c, &req) {
		return
	}

	if err := h.Engine.DeclineRide(c.Request.Context(), dispatch.DeclineRide{DriverID: req.DriverID, RideID: c.Param("id")}); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse{Message: "Offer declined"})
}

// UpdateRideStatus handles POST /v1/rides/:id/status
func (h *Handlers) UpdateRideStatus(c *gin.Context) {
	var req dto.StatusUpdateRequest
	if !h.bind(c, &req) {
		return
	}

	r, err := h.Engine.UpdateRideStatus(c.Request.Context(), dispatch.UpdateRideStatus{
		DriverID: req.DriverID,
		RideID:   c.Param("id"),
		Status:   ride.Status(req.Status),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// CancelRide handles POST /v1/rides/:id/cancel
func (h *Handlers) CancelRide(c *gin.Context) {
	var req dto.CancelRideRequest
	if !h.bind(c, &req) {
		return
	}

	r, err := h.Engine.CancelRide(c.Request.Context(), dispatch.CancelRide{
		ActorID: req.ActorID,
		RideID:  c.Param("id"),
		Reason:  req.Reason,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// RateRide handles POST /v1/rides/:id/rating
func (h *Handlers) RateRide(c *gin.Context) {
	var req dto.RateRideRequest
	if !h.bind(c, &req) {
		return
	}

	r, err := h.Engine.RateRide(c.Request.Context(), dispatch.RateRide{
		ActorID: req.ActorID,
		RideID:  c.Param("id"),
		Rating:  req.Rating,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// RiderHistory handles GET /v1/riders/:id/rides?limit=
func (h *Handlers) RiderHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	rides, err := h.Engine.RideHistory(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rides": rides, "count": len(rides)})
}
