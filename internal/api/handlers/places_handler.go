package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	apperrors "github.com/gocomet/ride-dispatch/pkg/errors"
)

// Autocomplete handles GET /v1/places/autocomplete?input=
func (h *Handlers) Autocomplete(c *gin.Context) {
	if h.Places == nil {
		h.respondError(c, apperrors.ErrPlacesUnavailable)
		return
	}
	input := strings.TrimSpace(c.Query("input"))
	if input == "" {
		h.respondError(c, apperrors.InvalidInput("input query parameter is required", nil))
		return
	}

	predictions, err := h.Places.Predict(c.Request.Context(), input)
	if err != nil {
		h.respondError(c, apperrors.WithCause(apperrors.ErrPlacesUnavailable, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"predictions": predictions})
}

// PlaceDetails handles GET /v1/places/:id
func (h *Handlers) PlaceDetails(c *gin.Context) {
	if h.Places == nil {
		h.respondError(c, apperrors.ErrPlacesUnavailable)
		return
	}

	place, err := h.Places.Details(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, apperrors.WithCause(apperrors.ErrPlacesUnavailable, err))
		return
	}
	c.JSON(http.StatusOK, place)
}
