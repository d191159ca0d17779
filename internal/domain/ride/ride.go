package ride

import (
	"time"

	"github.com/gocomet/ride-dispatch/internal/domain/geo"
)

// Status represents ride status
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusArrived   Status = "arrived"
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Actor roles
const (
	RoleRider  = "rider"
	RoleDriver = "driver"
	RoleSystem = "system"
)

// Cancellation reasons set by the dispatcher
const (
	ReasonNoDriversFound    = "NO_DRIVERS_FOUND"
	ReasonCancelledByRider  = "CANCELLED_BY_RIDER"
	ReasonCancelledByDriver = "CANCELLED_BY_DRIVER"
)

// AllowedTransitions is the ride state machine. COMPLETED and CANCELLED are absorbing.
var AllowedTransitions = map[Status][]Status{
	StatusPending:  {StatusAccepted, StatusCancelled},
	StatusAccepted: {StatusArrived, StatusCancelled},
	StatusArrived:  {StatusStarted, StatusCancelled},
	StatusStarted:  {StatusCompleted},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, next := range AllowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// IsActive reports whether a driver bound to a ride in this status is busy.
func (s Status) IsActive() bool {
	return s == StatusAccepted || s == StatusArrived || s == StatusStarted
}

// ActiveStatuses are the statuses of rides that have not settled yet.
var ActiveStatuses = []Status{StatusPending, StatusAccepted, StatusArrived, StatusStarted}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusArrived, StatusStarted, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Place is an address with its resolved coordinates.
type Place struct {
	Address     string    `json:"address"`
	Coordinates geo.Point `json:"coordinates"`
}

// Fare is locked at request time and never recomputed.
type Fare struct {
	Base              float64 `json:"base"`
	PerKm             float64 `json:"per_km"`
	PerMinute         float64 `json:"per_minute"`
	DistanceComponent float64 `json:"distance_component"`
	TimeComponent     float64 `json:"time_component"`
	Total             int64   `json:"total"`
}

// StatusChange is one entry of a ride's status history.
type StatusChange struct {
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
}

// Request is a rider's immutable ride request.
type Request struct {
	ID          string    `json:"id"`
	RiderID     string    `json:"rider_id"`
	Pickup      Place     `json:"pickup"`
	Dropoff     Place     `json:"dropoff"`
	RequestedAt time.Time `json:"requested_at"`
}

// Ride is the ride aggregate owned by the ledger.
type Ride struct {
	ID                 string         `json:"id"`
	RiderID            string         `json:"rider_id"`
	DriverID           string         `json:"driver_id,omitempty"`
	Status             Status         `json:"status"`
	Pickup             Place          `json:"pickup"`
	Dropoff            Place          `json:"dropoff"`
	DistanceMeters     float64        `json:"distance_meters"`
	DurationSeconds    float64        `json:"duration_seconds"`
	Fare               Fare           `json:"fare"`
	StatusHistory      []StatusChange `json:"status_history"`
	CancellationReason string         `json:"cancellation_reason,omitempty"`
	CancelledBy        string         `json:"cancelled_by,omitempty"`
	DriverRating       *int           `json:"driver_rating,omitempty"`
	RiderRating        *int           `json:"rider_rating,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// New creates a PENDING ride from a request and its locked-in trip metrics.
func New(req Request, distanceMeters, durationSeconds float64, fare Fare) *Ride {
	return &Ride{
		ID:              req.ID,
		RiderID:         req.RiderID,
		Status:          StatusPending,
		Pickup:          req.Pickup,
		Dropoff:         req.Dropoff,
		DistanceMeters:  distanceMeters,
		DurationSeconds: durationSeconds,
		Fare:            fare,
		StatusHistory:   []StatusChange{{Status: StatusPending, At: req.RequestedAt}},
		CreatedAt:       req.RequestedAt,
		UpdatedAt:       req.RequestedAt,
	}
}

// Transition moves the ride to next and records it. It returns false and
// leaves the ride untouched when the edge is not allowed.
func (r *Ride) Transition(next Status, at time.Time) bool {
	if !CanTransition(r.Status, next) {
		return false
	}
	r.Status = next
	r.StatusHistory = append(r.StatusHistory, StatusChange{Status: next, At: at})
	r.UpdatedAt = at
	return true
}

// Bind attaches the accepting driver. A ride is bound at most once.
func (r *Ride) Bind(driverID string) bool {
	if r.DriverID != "" {
		return false
	}
	r.DriverID = driverID
	return true
}

// Cancel transitions to CANCELLED with a reason and the cancelling role.
func (r *Ride) Cancel(reason, by string, at time.Time) bool {
	if !r.Transition(StatusCancelled, at) {
		return false
	}
	r.CancellationReason = reason
	r.CancelledBy = by
	return true
}

// IsParticipant reports whether actorID is the rider or the bound driver.
func (r *Ride) IsParticipant(actorID string) bool {
	return actorID != "" && (actorID == r.RiderID || actorID == r.DriverID)
}

// RoleOf returns the role actorID plays in this ride, or "".
func (r *Ride) RoleOf(actorID string) string {
	switch {
	case actorID == "":
		return ""
	case actorID == r.RiderID:
		return RoleRider
	case actorID == r.DriverID:
		return RoleDriver
	}
	return ""
}

// Clone returns a deep copy safe to hand out of the ledger.
func (r *Ride) Clone() *Ride {
	if r == nil {
		return nil
	}
	c := *r
	c.StatusHistory = append([]StatusChange(nil), r.StatusHistory...)
	if r.DriverRating != nil {
		v := *r.DriverRating
		c.DriverRating = &v
	}
	if r.RiderRating != nil {
		v := *r.RiderRating
		c.RiderRating = &v
	}
	return &c
}
