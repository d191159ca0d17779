package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/gocomet/ride-dispatch/internal/domain/event"
	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	"github.com/gocomet/ride-dispatch/internal/metrics"
	"github.com/gocomet/ride-dispatch/pkg/logger"
)

// errRoundResolved aborts a no-match cancellation when the ride already left
// PENDING. It never reaches callers.
var errRoundResolved = errors.New("dispatch round already resolved")

// round tracks the offer fan-out of one PENDING ride.
type round struct {
	candidates []string
	responded  map[string]bool
	expiresAt  time.Time
	timer      *time.Timer
}

func (e *Engine) openRound(rideID string, candidates []string, expiresAt time.Time) {
	e.roundsMu.Lock()
	defer e.roundsMu.Unlock()
	e.rounds[rideID] = &round{
		candidates: candidates,
		responded:  make(map[string]bool, len(candidates)),
		expiresAt:  expiresAt,
	}
}

// armRound starts the timeout once offers are out. A round resolved in the
// meantime is left alone.
func (e *Engine) armRound(rideID string) {
	e.roundsMu.Lock()
	defer e.roundsMu.Unlock()

	r, ok := e.rounds[rideID]
	if !ok {
		return
	}
	r.timer = time.AfterFunc(time.Until(r.expiresAt), func() {
		e.resolveUnmatched(context.Background(), rideID, "timeout")
	})
}

// markResponded records a driver's answer. It reports whether the driver was
// offered the ride and whether every candidate has now answered.
func (e *Engine) markResponded(rideID, driverID string) (offered, allResponded bool) {
	e.roundsMu.Lock()
	defer e.roundsMu.Unlock()

	r, ok := e.rounds[rideID]
	if !ok {
		return false, false
	}
	for _, c := range r.candidates {
		if c == driverID {
			offered = true
			break
		}
	}
	if !offered {
		return false, false
	}
	r.responded[driverID] = true
	return true, len(r.responded) == len(r.candidates)
}

// closeRound stops the timer and returns the candidates that never answered,
// excluding skip.
func (e *Engine) closeRound(rideID, skip string) []string {
	e.roundsMu.Lock()
	defer e.roundsMu.Unlock()

	r, ok := e.rounds[rideID]
	if !ok {
		return nil
	}
	delete(e.rounds, rideID)
	if r.timer != nil {
		r.timer.Stop()
	}

	pending := make([]string, 0, len(r.candidates))
	for _, c := range r.candidates {
		if c != skip && !r.responded[c] {
			pending = append(pending, c)
		}
	}
	return pending
}

// openRounds reports how many rides are waiting for an accept.
func (e *Engine) openRounds() int {
	e.roundsMu.Lock()
	defer e.roundsMu.Unlock()
	return len(e.rounds)
}

// resolveUnmatched cancels a still-PENDING ride with NO_DRIVERS_FOUND. The
// rider gets a single notice; candidates that never answered are told to drop
// the offer.
func (e *Engine) resolveUnmatched(ctx context.Context, rideID, cause string) {
	now := e.now()
	cancelled, err := e.ledger.Update(ctx, rideID, func(r *ride.Ride) error {
		if r.Status != ride.StatusPending {
			return errRoundResolved
		}
		r.Cancel(ride.ReasonNoDriversFound, ride.RoleSystem, now)
		return nil
	})
	if errors.Is(err, errRoundResolved) {
		return
	}
	if err != nil {
		e.logger.Error("Failed to cancel unmatched ride",
			logger.String("ride_id", rideID),
			logger.Err(err),
		)
		return
	}

	pending := e.closeRound(rideID, "")
	e.broadcast(pending, event.RideCancelled{
		RideID:      rideID,
		Reason:      ride.ReasonNoDriversFound,
		CancelledBy: ride.RoleSystem,
		At:          now,
	})
	e.notify(cancelled.RiderID, event.NoDriversFound{RideID: rideID, At: now})
	e.notifier.Unsubscribe(cancelled.RiderID, rideID)

	metrics.NoDriversFoundTotal.Inc()
	metrics.TransitionsTotal.WithLabelValues(string(ride.StatusCancelled)).Inc()
	e.recorder.RecordRideCancelled(rideID, ride.ReasonNoDriversFound, ride.RoleSystem)
	e.publish(ctx, cancelled, event.TypeNoDriversFound)

	e.logger.Info("Ride cancelled without a match",
		logger.String("ride_id", rideID),
		logger.String("cause", cause),
		logger.Int("unanswered", len(pending)),
	)
}
