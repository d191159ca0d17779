package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gocomet/ride-dispatch/internal/api/dto"
)

// AdminListRides handles GET /v1/admin/rides?status=&limit=
func (h *Handlers) AdminListRides(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	rides, err := h.Engine.ListRides(c.Request.Context(), c.Query("status"), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rides": rides, "count": len(rides)})
}

// AdminActiveRides handles GET /v1/admin/rides/active?limit=
func (h *Handlers) AdminActiveRides(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	rides, err := h.Engine.ListActiveRides(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rides": rides, "count": len(rides)})
}

// AdminGetRide handles GET /v1/admin/rides/:id
func (h *Handlers) AdminGetRide(c *gin.Context) {
	r, err := h.Engine.LookupRide(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// AdminOnlineDrivers handles GET /v1/admin/drivers/online
func (h *Handlers) AdminOnlineDrivers(c *gin.Context) {
	presences := h.Engine.OnlineDrivers()
	drivers := make([]dto.DriverView, len(presences))
	for i, p := range presences {
		drivers[i] = dto.NewDriverView(p)
	}
	c.JSON(http.StatusOK, gin.H{"drivers": drivers, "count": len(drivers)})
}
