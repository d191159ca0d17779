// Package event defines the outbound notifications pushed to riders and drivers.
package event

import (
	"time"

	"github.com/gocomet/ride-dispatch/internal/domain/geo"
	"github.com/gocomet/ride-dispatch/internal/domain/ride"
)

// Wire names of outbound events
const (
	TypeRideRequested     = "ride-requested"
	TypeRideOffer         = "ride-request"
	TypeRideAccepted      = "ride-accepted"
	TypeRideStatusUpdated = "ride-status-updated"
	TypeRideCancelled     = "ride-cancelled"
	TypeLocationUpdate    = "driver-location-update"
	TypeNoDriversFound    = "no-drivers-found"
	TypeRideUnavailable   = "ride-taken"
	TypeRideSnapshot      = "ride-snapshot"
	TypeError             = "error"
)

// Event is implemented by every outbound notification.
type Event interface {
	EventType() string
	RideRef() string
}

// RideRequested acknowledges a request that is now being dispatched.
type RideRequested struct {
	RideID     string    `json:"ride_id"`
	Fare       ride.Fare `json:"fare"`
	Candidates int       `json:"candidates"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// RideOffer is sent to each candidate driver.
type RideOffer struct {
	RideID          string     `json:"ride_id"`
	RiderID         string     `json:"rider_id"`
	Pickup          ride.Place `json:"pickup"`
	Dropoff         ride.Place `json:"dropoff"`
	DistanceMeters  float64    `json:"distance_meters"`
	DurationSeconds float64    `json:"duration_seconds"`
	FareTotal       int64      `json:"fare_total"`
	ExpiresAt       time.Time  `json:"expires_at"`
}

// RideAccepted goes to the rider and the winning driver.
type RideAccepted struct {
	RideID string     `json:"ride_id"`
	Ride   *ride.Ride `json:"ride"`
}

// RideStatusUpdated is broadcast on arrived, started and completed.
type RideStatusUpdated struct {
	RideID string      `json:"ride_id"`
	Status ride.Status `json:"status"`
	At     time.Time   `json:"at"`
}

// RideCancelled goes to the bound parties and any unresponded candidates.
type RideCancelled struct {
	RideID      string    `json:"ride_id"`
	Reason      string    `json:"reason"`
	CancelledBy string    `json:"cancelled_by"`
	At          time.Time `json:"at"`
}

// LocationUpdate forwards a driver position to the rider.
type LocationUpdate struct {
	RideID      string    `json:"ride_id"`
	DriverID    string    `json:"driver_id"`
	Coordinates geo.Point `json:"coordinates"`
	At          time.Time `json:"at"`
}

// NoDriversFound tells the rider dispatch ended without a match.
type NoDriversFound struct {
	RideID string    `json:"ride_id"`
	At     time.Time `json:"at"`
}

// RideUnavailable tells a driver to drop a stale offer.
type RideUnavailable struct {
	RideID string `json:"ride_id"`
	Reason string `json:"reason"`
}

// RideSnapshot carries current ride state to a reconnecting actor.
type RideSnapshot struct {
	RideID string     `json:"ride_id"`
	Ride   *ride.Ride `json:"ride"`
}

// ErrorNotice reports a rejected inbound command to its sender.
type ErrorNotice struct {
	RideID  string `json:"ride_id,omitempty"`
	Command string `json:"command"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (RideRequested) EventType() string     { return TypeRideRequested }
func (RideOffer) EventType() string         { return TypeRideOffer }
func (RideAccepted) EventType() string      { return TypeRideAccepted }
func (RideStatusUpdated) EventType() string { return TypeRideStatusUpdated }
func (RideCancelled) EventType() string     { return TypeRideCancelled }
func (LocationUpdate) EventType() string    { return TypeLocationUpdate }
func (NoDriversFound) EventType() string    { return TypeNoDriversFound }
func (RideUnavailable) EventType() string   { return TypeRideUnavailable }
func (RideSnapshot) EventType() string      { return TypeRideSnapshot }
func (ErrorNotice) EventType() string       { return TypeError }

func (e RideRequested) RideRef() string     { return e.RideID }
func (e RideOffer) RideRef() string         { return e.RideID }
func (e RideAccepted) RideRef() string      { return e.RideID }
func (e RideStatusUpdated) RideRef() string { return e.RideID }
func (e RideCancelled) RideRef() string     { return e.RideID }
func (e LocationUpdate) RideRef() string    { return e.RideID }
func (e NoDriversFound) RideRef() string    { return e.RideID }
func (e RideUnavailable) RideRef() string   { return e.RideID }
func (e RideSnapshot) RideRef() string      { return e.RideID }
func (e ErrorNotice) RideRef() string       { return e.RideID }
