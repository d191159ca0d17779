package dto

import (
	"time"

	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	"github.com/gocomet/ride-dispatch/internal/domain/geo"
)

// CreateRideRequest represents a request to create a new ride. Coordinates
// are pointers so a missing field is told apart from 0.
type CreateRideRequest struct {
	RiderID          string   `json:"rider_id" binding:"required"`
	PickupAddress    string   `json:"pickup_address"`
	PickupLatitude   *float64 `json:"pickup_latitude" binding:"required"`
	PickupLongitude  *float64 `json:"pickup_longitude" binding:"required"`
	DropoffAddress   string   `json:"dropoff_address"`
	DropoffLatitude  *float64 `json:"dropoff_latitude" binding:"required"`
	DropoffLongitude *float64 `json:"dropoff_longitude" binding:"required"`
}

// PickupPoint returns the bound pickup coordinates
func (r CreateRideRequest) PickupPoint() geo.Point {
	return geo.Point{Lat: *r.PickupLatitude, Lng: *r.PickupLongitude}
}

// DropoffPoint returns the bound dropoff coordinates
func (r CreateRideRequest) DropoffPoint() geo.Point {
	return geo.Point{Lat: *r.DropoffLatitude, Lng: *r.DropoffLongitude}
}

// UpdateLocationRequest represents a driver location update
type UpdateLocationRequest struct {
	Latitude  *float64 `json:"latitude" binding:"required"`
	Longitude *float64 `json:"longitude" binding:"required"`
}

// Point returns the bound coordinates
func (r UpdateLocationRequest) Point() geo.Point {
	return geo.Point{Lat: *r.Latitude, Lng: *r.Longitude}
}

// AvailabilityRequest toggles whether a driver receives offers
type AvailabilityRequest struct {
	Available *bool    `json:"available" binding:"required"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// DriverActionRequest identifies the driver acting on a ride
type DriverActionRequest struct {
	DriverID string `json:"driver_id" binding:"required"`
}

// StatusUpdateRequest represents a driver reporting ride progress
type StatusUpdateRequest struct {
	DriverID string `json:"driver_id" binding:"required"`
	Status   string `json:"status" binding:"required"`
}

// CancelRideRequest represents a rider or driver cancelling a ride
type CancelRideRequest struct {
	ActorID string `json:"actor_id" binding:"required"`
	Reason  string `json:"reason"`
}

// RateRideRequest represents a rating of the other party
type RateRideRequest struct {
	ActorID string `json:"actor_id" binding:"required"`
	Rating  int    `json:"rating" binding:"required"`
}

// FareEstimateRequest prices a trip without creating a ride
type FareEstimateRequest struct {
	PickupLatitude   *float64 `json:"pickup_latitude" binding:"required"`
	PickupLongitude  *float64 `json:"pickup_longitude" binding:"required"`
	DropoffLatitude  *float64 `json:"dropoff_latitude" binding:"required"`
	DropoffLongitude *float64 `json:"dropoff_longitude" binding:"required"`
}

// DriverView is a connected driver as listed to operators
type DriverView struct {
	DriverID    string        `json:"driver_id"`
	Status      driver.Status `json:"status"`
	Paused      bool          `json:"paused"`
	Coordinates geo.Point     `json:"coordinates"`
	LastSeenAt  time.Time     `json:"last_seen_at"`
}

// NewDriverView renders a presence for operators
func NewDriverView(p driver.Presence) DriverView {
	return DriverView{
		DriverID:    p.DriverID,
		Status:      p.Status(),
		Paused:      p.Paused,
		Coordinates: p.Coordinates,
		LastSeenAt:  p.LastSeenAt,
	}
}

// Error response
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Success response
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}
