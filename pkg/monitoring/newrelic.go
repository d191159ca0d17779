package monitoring

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/gocomet/ride-dispatch/pkg/cache"
	"github.com/newrelic/go-agent/v3/newrelic"
)

// Config holds New Relic configuration
type Config struct {
	LicenseKey string
	AppName    string
	Enabled    bool
	LogLevel   string
}

// NewRelicApp wraps the New Relic application. A nil or disabled app
// accepts every call and records nothing.
type NewRelicApp struct {
	*newrelic.Application
	enabled bool
}

// New creates a new New Relic application
func New(cfg Config) (*NewRelicApp, error) {
	if !cfg.Enabled || cfg.LicenseKey == "" {
		// Return disabled app
		return &NewRelicApp{nil, false}, nil
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.AppName),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigAppLogForwardingEnabled(true),
		newrelic.ConfigDistributedTracerEnabled(true),
	)

	if err != nil {
		return nil, fmt.Errorf("failed to create New Relic application: %w", err)
	}

	return &NewRelicApp{app, true}, nil
}

func (nr *NewRelicApp) active() bool {
	return nr != nil && nr.enabled && nr.Application != nil
}

// StartTransaction starts a new transaction
func (nr *NewRelicApp) StartTransaction(name string) *newrelic.Transaction {
	if !nr.active() {
		return nil
	}
	return nr.Application.StartTransaction(name)
}

// RecordCustomEvent records a custom event
func (nr *NewRelicApp) RecordCustomEvent(eventType string, params map[string]interface{}) {
	if !nr.active() {
		return
	}
	nr.Application.RecordCustomEvent(eventType, params)
}

// RecordCustomMetric records a custom metric
func (nr *NewRelicApp) RecordCustomMetric(name string, value float64) {
	if !nr.active() {
		return
	}
	nr.Application.RecordCustomMetric(name, value)
}

// Shutdown gracefully shuts down the New Relic application
func (nr *NewRelicApp) Shutdown(timeout time.Duration) {
	if !nr.active() {
		return
	}
	nr.Application.Shutdown(timeout)
}

// Dispatch events

// RecordRideRequested records a ride entering dispatch
func (nr *NewRelicApp) RecordRideRequested(rideID string, candidates int, fareTotal int64) {
	nr.RecordCustomEvent("RideRequested", map[string]interface{}{
		"ride_id":    rideID,
		"candidates": candidates,
		"fare":       fareTotal,
		"timestamp":  time.Now().Unix(),
	})
}

// RecordMatchingLatency records time from request to accept
func (nr *NewRelicApp) RecordMatchingLatency(latency time.Duration) {
	nr.RecordCustomMetric("custom/ride/matching_latency_ms", float64(latency.Milliseconds()))
}

// RecordRideCompleted records ride completion
func (nr *NewRelicApp) RecordRideCompleted(rideID string, fareTotal int64, distanceMeters, durationSeconds float64) {
	nr.RecordCustomEvent("RideCompleted", map[string]interface{}{
		"ride_id":  rideID,
		"fare":     fareTotal,
		"distance": distanceMeters,
		"duration": durationSeconds,
	})
}

// RecordRideCancelled records a cancellation and who caused it
func (nr *NewRelicApp) RecordRideCancelled(rideID, reason, cancelledBy string) {
	nr.RecordCustomEvent("RideCancelled", map[string]interface{}{
		"ride_id":      rideID,
		"reason":       reason,
		"cancelled_by": cancelledBy,
	})
}

// RecordLocationUpdate records driver location update
func (nr *NewRelicApp) RecordLocationUpdate() {
	nr.RecordCustomMetric("custom/driver/location_update", 1)
}

// RecordDatabasePoolStats records database connection pool statistics
func (nr *NewRelicApp) RecordDatabasePoolStats(stats sql.DBStats) {
	nr.RecordCustomMetric("custom/db/open_connections", float64(stats.OpenConnections))
	nr.RecordCustomMetric("custom/db/idle_connections", float64(stats.Idle))
	nr.RecordCustomMetric("custom/db/in_use_connections", float64(stats.InUse))
}

// RecordRedisPoolStats records Redis pool statistics
func (nr *NewRelicApp) RecordRedisPoolStats(stats cache.PoolStats) {
	nr.RecordCustomMetric("custom/redis/cache_hits", float64(stats.Hits))
	nr.RecordCustomMetric("custom/redis/cache_misses", float64(stats.Misses))
	nr.RecordCustomMetric("custom/redis/timeouts", float64(stats.Timeouts))
	nr.RecordCustomMetric("custom/redis/total_connections", float64(stats.TotalConns))
}

// IsEnabled returns whether New Relic is enabled
func (nr *NewRelicApp) IsEnabled() bool {
	return nr.active()
}
