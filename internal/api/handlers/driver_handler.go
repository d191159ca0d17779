package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gocomet/ride-dispatch/internal/api/dto"
	"github.com/gocomet/ride-dispatch/internal/domain/geo"
	"github.com/gocomet/ride-dispatch/internal/service/dispatch"
	apperrors "github.com/gocomet/ride-dispatch/pkg/errors"
	"github.com/gocomet/ride-dispatch/pkg/logger"
)

// UpdateDriverLocation handles POST /v1/drivers/:id/location
func (h *Handlers) UpdateDriverLocation(c *gin.Context) {
	driverID := c.Param("id")

	var req dto.UpdateLocationRequest
	if !h.bind(c, &req) {
		return
	}

	point := req.Point()
	presence, err := h.Engine.ReportDriverLocation(c.Request.Context(), dispatch.ReportDriverLocation{
		DriverID:    driverID,
		Coordinates: &point,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, presence)
}

// SetAvailability handles POST /v1/drivers/:id/availability
func (h *Handlers) SetAvailability(c *gin.Context) {
	driverID := c.Param("id")

	var req dto.AvailabilityRequest
	if !h.bind(c, &req) {
		return
	}

	if (req.Latitude == nil) != (req.Longitude == nil) {
		h.respondError(c, apperrors.InvalidInput("latitude and longitude must be sent together", nil))
		return
	}

	cmd := dispatch.SetDriverAvailability{DriverID: driverID, Available: *req.Available}
	if req.Latitude != nil {
		cmd.Coordinates = &geo.Point{Lat: *req.Latitude, Lng: *req.Longitude}
	}

	presence, err := h.Engine.SetDriverAvailability(c.Request.Context(), cmd)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.Logger.Info("Driver availability updated",
		logger.String("driver_id", driverID),
		logger.Bool("available", presence.Available),
	)
	c.JSON(http.StatusOK, presence)
}

// GoOffline handles POST /v1/drivers/:id/offline
func (h *Handlers) GoOffline(c *gin.Context) {
	if err := h.Engine.GoOffline(c.Request.Context(), dispatch.GoOffline{DriverID: c.Param("id")}); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse{Message: "Driver is offline"})
}

// ActiveRides handles GET /v1/drivers/:id/rides/active
func (h *Handlers) ActiveRides(c *gin.Context) {
	rides, err := h.Engine.ActiveRides(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rides": rides, "count": len(rides)})
}

// NearbyDrivers handles GET /v1/drivers/nearby?lat=&lng=&radius=&limit=
func (h *Handlers) NearbyDrivers(c *gin.Context) {
	lat, latErr := strconv.ParseFloat(c.Query("lat"), 64)
	lng, lngErr := strconv.ParseFloat(c.Query("lng"), 64)
	if latErr != nil || lngErr != nil {
		h.respondError(c, apperrors.InvalidInput("lat and lng query parameters are required", nil))
		return
	}
	radius, _ := strconv.ParseFloat(c.Query("radius"), 64)
	limit, _ := strconv.Atoi(c.Query("limit"))

	drivers, err := h.Engine.NearbyDrivers(c.Request.Context(), geo.Point{Lat: lat, Lng: lng}, radius, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"drivers": drivers, "count": len(drivers)})
}
