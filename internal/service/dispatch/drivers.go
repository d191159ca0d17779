package dispatch

import (
	"context"

	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	"github.com/gocomet/ride-dispatch/internal/domain/event"
	"github.com/gocomet/ride-dispatch/internal/domain/geo"
	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	"github.com/gocomet/ride-dispatch/internal/service/geoindex"
	apperrors "github.com/gocomet/ride-dispatch/pkg/errors"
	"github.com/gocomet/ride-dispatch/pkg/logger"
)

// ReportDriverLocation feeds a position report into the location stream.
func (e *Engine) ReportDriverLocation(ctx context.Context, cmd ReportDriverLocation) (driver.Presence, error) {
	if err := e.check(cmd); err != nil {
		return driver.Presence{}, err
	}
	return e.locations.ReportLocation(ctx, cmd.DriverID, *cmd.Coordinates)
}

// SetDriverAvailability toggles whether a driver receives offers. A driver
// bound to an active ride cannot become available.
func (e *Engine) SetDriverAvailability(ctx context.Context, cmd SetDriverAvailability) (driver.Presence, error) {
	if err := e.check(cmd); err != nil {
		return driver.Presence{}, err
	}
	if cmd.Coordinates != nil {
		if err := validatePoints(*cmd.Coordinates); err != nil {
			return driver.Presence{}, err
		}
	}
	if cmd.Available {
		if _, busy := e.ledger.ActiveRideForDriver(ctx, cmd.DriverID); busy {
			return driver.Presence{}, apperrors.ErrDriverOnRide
		}
	}

	if cmd.Coordinates != nil {
		e.geo.Upsert(driver.Presence{
			DriverID:    cmd.DriverID,
			Coordinates: *cmd.Coordinates,
			Available:   cmd.Available,
			Paused:      !cmd.Available,
			LastSeenAt:  e.now(),
		})
	} else if !e.geo.SetAvailable(cmd.DriverID, cmd.Available) {
		return driver.Presence{}, apperrors.InvalidInput("coordinates are required for a driver without a reported location", nil)
	}

	// An accept may have bound the driver between the check and the write.
	// Claim takes the driver back out of the pool without pausing it.
	if cmd.Available {
		if _, busy := e.ledger.ActiveRideForDriver(ctx, cmd.DriverID); busy {
			e.geo.Claim(cmd.DriverID)
			return driver.Presence{}, apperrors.ErrDriverOnRide
		}
	}

	presence, _ := e.geo.Get(cmd.DriverID)
	e.logger.Debug("Driver availability changed",
		logger.String("driver_id", cmd.DriverID),
		logger.Bool("available", cmd.Available),
	)
	return presence, nil
}

// GoOffline evicts a driver's presence. Any active ride is kept.
func (e *Engine) GoOffline(ctx context.Context, cmd GoOffline) error {
	if err := e.check(cmd); err != nil {
		return err
	}
	e.geo.Remove(cmd.DriverID)
	return nil
}

// NearbyDrivers lists available drivers around p. Non-positive radius and
// limit fall back to the dispatch defaults.
func (e *Engine) NearbyDrivers(ctx context.Context, p geo.Point, radiusMeters float64, limit int) ([]geoindex.Candidate, error) {
	if err := validatePoints(p); err != nil {
		return nil, err
	}
	if radiusMeters <= 0 {
		radiusMeters = e.cfg.SearchRadiusMeters
	}
	if limit <= 0 {
		limit = e.cfg.MaxCandidates
	}
	return e.geo.QueryNearby(p, radiusMeters, limit), nil
}

// HandleConnect resubscribes a (re)connecting actor to its active ride and
// sends the current ride state.
func (e *Engine) HandleConnect(actorID, role string) {
	ctx := context.Background()

	var (
		current *ride.Ride
		ok      bool
	)
	switch role {
	case ride.RoleRider:
		current, ok = e.ledger.ActiveRideForRider(ctx, actorID)
	case ride.RoleDriver:
		current, ok = e.ledger.ActiveRideForDriver(ctx, actorID)
	}
	if !ok {
		return
	}

	e.notifier.Subscribe(actorID, current.ID)
	e.notify(actorID, event.RideSnapshot{RideID: current.ID, Ride: current})
	e.logger.Info("Actor resubscribed to active ride",
		logger.String("actor_id", actorID),
		logger.String("role", role),
		logger.String("ride_id", current.ID),
	)
}

// HandleDisconnect drops a driver's presence. Rides are never cancelled
// because a party lost its connection.
func (e *Engine) HandleDisconnect(actorID, role string) {
	if role != ride.RoleDriver {
		return
	}
	e.geo.Remove(actorID)
}
