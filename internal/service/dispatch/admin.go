package dispatch

import (
	"context"
	"fmt"

	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	apperrors "github.com/gocomet/ride-dispatch/pkg/errors"
)

// ListRides lists rides for operators, newest first. An empty status lists
// every ride.
func (e *Engine) ListRides(ctx context.Context, status string, limit int) ([]*ride.Ride, error) {
	if status == "" {
		return e.ledger.ListByStatus(ctx, limit)
	}
	s := ride.Status(status)
	if !s.Valid() {
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown ride status %q", status), nil)
	}
	return e.ledger.ListByStatus(ctx, limit, s)
}

// ListActiveRides lists rides that have not settled yet.
func (e *Engine) ListActiveRides(ctx context.Context, limit int) ([]*ride.Ride, error) {
	return e.ledger.ListActive(ctx, limit)
}

// LookupRide returns any ride by id, without the participant check of GetRide.
func (e *Engine) LookupRide(ctx context.Context, rideID string) (*ride.Ride, error) {
	if rideID == "" {
		return nil, apperrors.InvalidInput("ride_id is required", nil)
	}
	return e.ledger.Get(ctx, rideID)
}

// OnlineDrivers lists every connected driver, available or busy.
func (e *Engine) OnlineDrivers() []driver.Presence {
	return e.geo.List()
}
