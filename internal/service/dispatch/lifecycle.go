package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/gocomet/ride-dispatch/internal/domain/event"
	"github.com/gocomet/ride-dispatch/internal/domain/geo"
	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	"github.com/gocomet/ride-dispatch/internal/maps"
	"github.com/gocomet/ride-dispatch/internal/metrics"
	apperrors "github.com/gocomet/ride-dispatch/pkg/errors"
	"github.com/gocomet/ride-dispatch/pkg/logger"
)

// FareEstimate is a priced trip quote.
type FareEstimate struct {
	DistanceMeters  float64   `json:"distance_meters"`
	DurationSeconds float64   `json:"duration_seconds"`
	Fare            ride.Fare `json:"fare"`
}

// EstimateFare prices a trip without creating a ride.
func (e *Engine) EstimateFare(ctx context.Context, pickup, dropoff geo.Point) (FareEstimate, error) {
	if err := validatePoints(pickup, dropoff); err != nil {
		return FareEstimate{}, err
	}
	est, fare, err := e.quote(ctx, pickup, dropoff)
	if err != nil {
		return FareEstimate{}, err
	}
	return FareEstimate{DistanceMeters: est.DistanceMeters, DurationSeconds: est.DurationSeconds, Fare: fare}, nil
}

func (e *Engine) quote(ctx context.Context, pickup, dropoff geo.Point) (maps.Estimate, ride.Fare, error) {
	est, err := e.estimator.Estimate(ctx, pickup, dropoff)
	if err != nil {
		return maps.Estimate{}, ride.Fare{}, apperrors.WithCause(apperrors.ErrEstimatorUnavailable, err)
	}

	breakdown, err := e.pricing.Quote(est.DistanceMeters, est.DurationSeconds)
	if err != nil {
		return maps.Estimate{}, ride.Fare{}, err
	}
	rates := e.pricing.Rates()
	return est, ride.Fare{
		Base:              breakdown.BaseFare,
		PerKm:             rates.PerKMRate,
		PerMinute:         rates.PerMinuteRate,
		DistanceComponent: breakdown.DistanceFare,
		TimeComponent:     breakdown.TimeFare,
		Total:             breakdown.Total,
	}, nil
}

func validatePoints(points ...geo.Point) error {
	for _, p := range points {
		if err := p.Validate(); err != nil {
			return apperrors.WithCause(apperrors.ErrInvalidCoordinates, err)
		}
	}
	return nil
}

// SubmitRideRequest prices the trip, creates a PENDING ride and offers it to
// the nearest available drivers. With no candidates in range the ride is
// cancelled immediately with NO_DRIVERS_FOUND.
func (e *Engine) SubmitRideRequest(ctx context.Context, cmd SubmitRideRequest) (*ride.Ride, error) {
	if err := e.check(cmd); err != nil {
		return nil, err
	}
	pickup, dropoff := cmd.Pickup.toRide(), cmd.Dropoff.toRide()
	if err := validatePoints(pickup.Coordinates, dropoff.Coordinates); err != nil {
		return nil, err
	}
	if _, busy := e.ledger.ActiveRideForRider(ctx, cmd.RiderID); busy {
		return nil, apperrors.ErrRideInProgress
	}

	est, fare, err := e.quote(ctx, pickup.Coordinates, dropoff.Coordinates)
	if err != nil {
		return nil, err
	}

	now := e.now()
	r := ride.New(ride.Request{
		ID:          e.newID(),
		RiderID:     cmd.RiderID,
		Pickup:      pickup,
		Dropoff:     dropoff,
		RequestedAt: now,
	}, est.DistanceMeters, est.DurationSeconds, fare)
	if err := e.ledger.Create(ctx, r); err != nil {
		return nil, err
	}

	metrics.RideRequestsTotal.Inc()
	e.notifier.Subscribe(r.RiderID, r.ID)
	e.publish(ctx, r, event.TypeRideRequested)

	candidates := e.geo.QueryNearby(pickup.Coordinates, e.cfg.SearchRadiusMeters, e.cfg.MaxCandidates)
	metrics.DispatchCandidates.Observe(float64(len(candidates)))
	e.recorder.RecordRideRequested(r.ID, len(candidates), fare.Total)

	if len(candidates) == 0 {
		e.resolveUnmatched(ctx, r.ID, "no candidates")
		return e.ledger.Get(ctx, r.ID)
	}

	driverIDs := make([]string, len(candidates))
	for i, c := range candidates {
		driverIDs[i] = c.DriverID
	}
	expiresAt := now.Add(e.cfg.Timeout)
	e.openRound(r.ID, driverIDs, expiresAt)

	e.notify(r.RiderID, event.RideRequested{
		RideID:     r.ID,
		Fare:       fare,
		Candidates: len(driverIDs),
		ExpiresAt:  expiresAt,
	})
	delivered := e.broadcast(driverIDs, event.RideOffer{
		RideID:          r.ID,
		RiderID:         r.RiderID,
		Pickup:          r.Pickup,
		Dropoff:         r.Dropoff,
		DistanceMeters:  r.DistanceMeters,
		DurationSeconds: r.DurationSeconds,
		FareTotal:       fare.Total,
		ExpiresAt:       expiresAt,
	})
	e.armRound(r.ID)

	e.logger.Info("Ride offered to drivers",
		logger.String("ride_id", r.ID),
		logger.String("rider_id", r.RiderID),
		logger.Int("candidates", len(driverIDs)),
		logger.Int("delivered", delivered),
		logger.Int64("fare_total", fare.Total),
	)
	return r.Clone(), nil
}

// AcceptRide binds the first accepting driver. Later accepts fail with
// ALREADY_TAKEN, or ALREADY_CANCELLED when the ride ended unmatched.
func (e *Engine) AcceptRide(ctx context.Context, cmd AcceptRide) (*ride.Ride, error) {
	if err := e.check(cmd); err != nil {
		return nil, err
	}

	now := e.now()
	accepted, err := e.ledger.Update(ctx, cmd.RideID, func(r *ride.Ride) error {
		switch r.Status {
		case ride.StatusPending:
		case ride.StatusCancelled:
			if r.DriverID == "" {
				return apperrors.ErrAlreadyCancelled
			}
			return apperrors.ErrAlreadyTaken
		default:
			return apperrors.ErrAlreadyTaken
		}
		if r.RiderID == cmd.DriverID {
			return apperrors.InvalidTransition("Riders cannot accept their own ride")
		}
		if !e.geo.Claim(cmd.DriverID) {
			return apperrors.ErrDriverUnavailable
		}
		r.Bind(cmd.DriverID)
		r.Transition(ride.StatusAccepted, now)
		return nil
	})
	if err != nil {
		e.rejectAccept(ctx, cmd, err)
		return nil, err
	}

	others := e.closeRound(accepted.ID, cmd.DriverID)
	e.notifier.Subscribe(cmd.DriverID, accepted.ID)

	notice := event.RideAccepted{RideID: accepted.ID, Ride: accepted}
	e.notify(accepted.RiderID, notice)
	e.notify(cmd.DriverID, notice)
	e.broadcast(others, event.RideUnavailable{RideID: accepted.ID, Reason: apperrors.CodeAlreadyTaken})

	latency := now.Sub(accepted.CreatedAt)
	metrics.MatchesTotal.Inc()
	metrics.MatchLatency.Observe(latency.Seconds())
	metrics.TransitionsTotal.WithLabelValues(string(ride.StatusAccepted)).Inc()
	e.recorder.RecordMatchingLatency(latency)
	e.publish(ctx, accepted, event.TypeRideAccepted)

	e.logger.Info("Ride accepted",
		logger.String("ride_id", accepted.ID),
		logger.String("driver_id", cmd.DriverID),
		logger.Duration("latency", latency),
	)
	return accepted, nil
}

// rejectAccept answers a failed accept. Drivers who lost a race only get a
// ride-taken notice so their client drops the offer.
func (e *Engine) rejectAccept(ctx context.Context, cmd AcceptRide, err error) {
	appErr := apperrors.GetAppError(err)
	metrics.AcceptRejectionsTotal.WithLabelValues(appErr.Code).Inc()

	switch appErr.Code {
	case apperrors.CodeAlreadyTaken, apperrors.CodeAlreadyCancelled:
		e.notify(cmd.DriverID, event.RideUnavailable{RideID: cmd.RideID, Reason: appErr.Code})
	case apperrors.CodeDriverUnavailable:
		if _, all := e.markResponded(cmd.RideID, cmd.DriverID); all {
			e.resolveUnmatched(ctx, cmd.RideID, "no candidate available")
		}
	}
}

// DeclineRide records a candidate's refusal. When every candidate has
// declined the ride ends with NO_DRIVERS_FOUND without waiting for the
// timeout.
func (e *Engine) DeclineRide(ctx context.Context, cmd DeclineRide) error {
	if err := e.check(cmd); err != nil {
		return err
	}

	r, err := e.ledger.Get(ctx, cmd.RideID)
	if err != nil {
		return err
	}
	if r.Status != ride.StatusPending {
		return nil
	}

	offered, all := e.markResponded(cmd.RideID, cmd.DriverID)
	if !offered {
		return apperrors.ErrNotRideParticipant
	}
	if all {
		e.resolveUnmatched(ctx, cmd.RideID, "all candidates declined")
	}
	return nil
}

// MarkArrived moves ACCEPTED to ARRIVED.
func (e *Engine) MarkArrived(ctx context.Context, driverID, rideID string) (*ride.Ride, error) {
	return e.advance(ctx, driverID, rideID, ride.StatusArrived)
}

// MarkStarted moves ARRIVED to STARTED.
func (e *Engine) MarkStarted(ctx context.Context, driverID, rideID string) (*ride.Ride, error) {
	return e.advance(ctx, driverID, rideID, ride.StatusStarted)
}

// MarkCompleted moves STARTED to COMPLETED and frees the driver.
func (e *Engine) MarkCompleted(ctx context.Context, driverID, rideID string) (*ride.Ride, error) {
	return e.advance(ctx, driverID, rideID, ride.StatusCompleted)
}

// UpdateRideStatus routes a driver status report to the matching transition.
func (e *Engine) UpdateRideStatus(ctx context.Context, cmd UpdateRideStatus) (*ride.Ride, error) {
	if err := e.check(cmd); err != nil {
		return nil, err
	}

	switch cmd.Status {
	case ride.StatusArrived:
		return e.MarkArrived(ctx, cmd.DriverID, cmd.RideID)
	case ride.StatusStarted:
		return e.MarkStarted(ctx, cmd.DriverID, cmd.RideID)
	case ride.StatusCompleted:
		return e.MarkCompleted(ctx, cmd.DriverID, cmd.RideID)
	case ride.StatusCancelled:
		return e.CancelRide(ctx, CancelRide{ActorID: cmd.DriverID, RideID: cmd.RideID})
	}
	return nil, apperrors.InvalidInput(fmt.Sprintf("status %q cannot be reported", cmd.Status), nil)
}

func (e *Engine) advance(ctx context.Context, driverID, rideID string, next ride.Status) (*ride.Ride, error) {
	if driverID == "" || rideID == "" {
		return nil, apperrors.InvalidInput("driver_id and ride_id are required", nil)
	}

	now := e.now()
	updated, err := e.ledger.Update(ctx, rideID, func(r *ride.Ride) error {
		if r.DriverID == "" || r.DriverID != driverID {
			return apperrors.ErrNotBoundDriver
		}
		if !r.Transition(next, now) {
			return apperrors.InvalidTransition(fmt.Sprintf("Cannot move ride from %s to %s", r.Status, next))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	notice := event.RideStatusUpdated{RideID: updated.ID, Status: next, At: now}
	if delivered := e.notifier.BroadcastToRide(updated.ID, notice.EventType(), notice); delivered < 2 {
		e.logger.Debug("Status update reached fewer than both parties",
			logger.String("ride_id", updated.ID),
			logger.Int("delivered", delivered),
		)
	}
	metrics.TransitionsTotal.WithLabelValues(string(next)).Inc()

	if next == ride.StatusCompleted {
		e.release(updated.DriverID)
		e.unsubscribeAll(updated)
		e.recorder.RecordRideCompleted(updated.ID, updated.Fare.Total, updated.DistanceMeters, updated.DurationSeconds)
	}
	e.publish(ctx, updated, event.TypeRideStatusUpdated)

	e.logger.Info("Ride status updated",
		logger.String("ride_id", updated.ID),
		logger.String("driver_id", driverID),
		logger.String("status", string(next)),
	)
	return updated, nil
}

// CancelRide cancels a PENDING, ACCEPTED or ARRIVED ride on behalf of its
// rider or bound driver.
func (e *Engine) CancelRide(ctx context.Context, cmd CancelRide) (*ride.Ride, error) {
	if err := e.check(cmd); err != nil {
		return nil, err
	}

	now := e.now()
	var previous ride.Status
	cancelled, err := e.ledger.Update(ctx, cmd.RideID, func(r *ride.Ride) error {
		role := r.RoleOf(cmd.ActorID)
		if role == "" {
			return apperrors.ErrNotRideParticipant
		}
		if r.Status == ride.StatusCancelled {
			return apperrors.ErrAlreadyCancelled
		}
		previous = r.Status

		reason := cmd.Reason
		if reason == "" {
			reason = ride.ReasonCancelledByRider
			if role == ride.RoleDriver {
				reason = ride.ReasonCancelledByDriver
			}
		}
		if !r.Cancel(reason, role, now) {
			return apperrors.InvalidTransition(fmt.Sprintf("Cannot cancel a ride that is %s", r.Status))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	notice := event.RideCancelled{
		RideID:      cancelled.ID,
		Reason:      cancelled.CancellationReason,
		CancelledBy: cancelled.CancelledBy,
		At:          now,
	}
	if previous == ride.StatusPending {
		e.broadcast(e.closeRound(cancelled.ID, ""), notice)
	}
	e.notify(cancelled.RiderID, notice)
	e.notify(cancelled.DriverID, notice)

	e.release(cancelled.DriverID)
	e.unsubscribeAll(cancelled)
	metrics.TransitionsTotal.WithLabelValues(string(ride.StatusCancelled)).Inc()
	e.recorder.RecordRideCancelled(cancelled.ID, cancelled.CancellationReason, cancelled.CancelledBy)
	e.publish(ctx, cancelled, event.TypeRideCancelled)

	e.logger.Info("Ride cancelled",
		logger.String("ride_id", cancelled.ID),
		logger.String("cancelled_by", cancelled.CancelledBy),
		logger.String("reason", cancelled.CancellationReason),
		logger.String("previous_status", string(previous)),
	)
	return cancelled, nil
}

// RateRide stores the caller's rating of the other party on a completed ride.
// Rating again replaces the earlier rating.
func (e *Engine) RateRide(ctx context.Context, cmd RateRide) (*ride.Ride, error) {
	if err := e.check(cmd); err != nil {
		return nil, err
	}

	now := e.now()
	rated, err := e.ledger.Update(ctx, cmd.RideID, func(r *ride.Ride) error {
		role := r.RoleOf(cmd.ActorID)
		if role == "" {
			return apperrors.ErrNotRideParticipant
		}
		if r.Status != ride.StatusCompleted {
			return apperrors.InvalidTransition("Only completed rides can be rated")
		}

		rating := cmd.Rating
		target := &r.DriverRating
		if role == ride.RoleDriver {
			target = &r.RiderRating
		}
		*target = &rating
		r.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, rated, "ride-rated")
	return rated, nil
}

// GetRide returns a ride to one of its participants.
func (e *Engine) GetRide(ctx context.Context, actorID, rideID string) (*ride.Ride, error) {
	r, err := e.ledger.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !r.IsParticipant(actorID) {
		return nil, apperrors.Forbidden("Only ride participants can view this ride", nil)
	}
	return r, nil
}

// CanObserve reports whether actorID may follow rideID's events.
func (e *Engine) CanObserve(actorID, rideID string) bool {
	r, err := e.ledger.Get(context.Background(), rideID)
	if err != nil {
		return false
	}
	return r.IsParticipant(actorID)
}

// RideHistory lists a rider's rides, newest first.
func (e *Engine) RideHistory(ctx context.Context, riderID string, limit int) ([]*ride.Ride, error) {
	if riderID == "" {
		return nil, apperrors.InvalidInput("rider_id is required", nil)
	}
	return e.ledger.ListByRider(ctx, riderID, limit)
}

// ActiveRides lists the rides a driver is currently working.
func (e *Engine) ActiveRides(ctx context.Context, driverID string) ([]*ride.Ride, error) {
	if driverID == "" {
		return nil, apperrors.InvalidInput("driver_id is required", nil)
	}
	return e.ledger.ListActiveByDriver(ctx, driverID), nil
}

// IsLostRace reports whether err only means another actor got there first.
func IsLostRace(err error) bool {
	return errors.Is(err, apperrors.ErrAlreadyTaken) || errors.Is(err, apperrors.ErrAlreadyCancelled)
}
