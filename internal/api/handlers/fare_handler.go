package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gocomet/ride-dispatch/internal/api/dto"
	"github.com/gocomet/ride-dispatch/internal/domain/geo"
)

// EstimateFare handles POST /v1/fares/estimate
func (h *Handlers) EstimateFare(c *gin.Context) {
	var req dto.FareEstimateRequest
	if !h.bind(c, &req) {
		return
	}

	estimate, err := h.Engine.EstimateFare(c.Request.Context(),
		geo.Point{Lat: *req.PickupLatitude, Lng: *req.PickupLongitude},
		geo.Point{Lat: *req.DropoffLatitude, Lng: *req.DropoffLongitude},
	)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, estimate)
}
