package driver

import (
	"time"

	"github.com/gocomet/ride-dispatch/internal/domain/geo"
)

// Status represents driver availability status
type Status string

const (
	StatusOnline  Status = "online"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

// Presence is the live position and availability of a connected driver.
// Drivers without a presence entry are offline.
type Presence struct {
	DriverID    string    `json:"driver_id"`
	Coordinates geo.Point `json:"coordinates"`
	Available   bool      `json:"available"`
	// Paused records that the driver turned offers off. It outlives a ride,
	// so finishing one does not put a paused driver back in the pool.
	Paused     bool      `json:"paused"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// Status derives the availability status of a present driver
func (p Presence) Status() Status {
	if p.Available {
		return StatusOnline
	}
	return StatusBusy
}
