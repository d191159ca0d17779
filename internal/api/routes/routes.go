package routes

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gocomet/ride-dispatch/internal/api/handlers"
	"github.com/gocomet/ride-dispatch/internal/metrics"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, nrApp *newrelic.Application) {
	// Add New Relic middleware if enabled
	if nrApp != nil {
		r.Use(nrgin.Middleware(nrApp))
	}
	r.Use(prometheusMiddleware())

	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes
	v1 := r.Group("/v1")
	{
		// WebSocket connection
		v1.GET("/ws", h.HandleWebSocket)

		// Ride endpoints
		rides := v1.Group("/rides")
		{
			rides.POST("", h.CreateRide)
			rides.GET("/:id", h.GetRide)
			rides.POST("/:id/accept", h.AcceptRide)
			rides.POST("/:id/decline", h.DeclineRide)
			rides.POST("/:id/status", h.UpdateRideStatus)
			rides.POST("/:id/cancel", h.CancelRide)
			rides.POST("/:id/rating", h.RateRide)
		}

		v1.GET("/riders/:id/rides", h.RiderHistory)

		// Driver endpoints
		drivers := v1.Group("/drivers")
		{
			drivers.GET("/nearby", h.NearbyDrivers)
			drivers.GET("/:id/rides/active", h.ActiveRides)
			drivers.POST("/:id/location", h.UpdateDriverLocation)
			drivers.POST("/:id/availability", h.SetAvailability)
			drivers.POST("/:id/offline", h.GoOffline)
		}

		v1.POST("/fares/estimate", h.EstimateFare)

		places := v1.Group("/places")
		{
			places.GET("/autocomplete", h.Autocomplete)
			places.GET("/:id", h.PlaceDetails)
		}

		// Operator endpoints
		admin := v1.Group("/admin")
		{
			admin.GET("/rides", h.AdminListRides)
			admin.GET("/rides/active", h.AdminActiveRides)
			admin.GET("/rides/:id", h.AdminGetRide)
			admin.GET("/drivers/online", h.AdminOnlineDrivers)
		}
	}
}

// prometheusMiddleware records request counts and latency per route template.
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
	}
}
