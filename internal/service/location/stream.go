// Package location ingests driver position reports and forwards them to the
// rider of the driver's current ride.
package location

import (
	"context"
	"time"

	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	"github.com/gocomet/ride-dispatch/internal/domain/event"
	"github.com/gocomet/ride-dispatch/internal/domain/geo"
	"github.com/gocomet/ride-dispatch/internal/metrics"
	"github.com/gocomet/ride-dispatch/internal/service/geoindex"
	"github.com/gocomet/ride-dispatch/internal/service/ledger"
	apperrors "github.com/gocomet/ride-dispatch/pkg/errors"
	"github.com/gocomet/ride-dispatch/pkg/logger"
)

// Notifier delivers an event to one actor.
type Notifier interface {
	Send(actorID, eventType string, payload interface{}) error
}

// Publisher records positions for downstream consumers.
type Publisher interface {
	PublishLocation(ctx context.Context, driverID, rideID string, p geo.Point, at time.Time) error
}

// Recorder receives APM counters.
type Recorder interface {
	RecordLocationUpdate()
}

// Stream is the driver location pipeline
type Stream struct {
	geo       *geoindex.Index
	ledger    *ledger.Ledger
	notifier  Notifier
	publisher Publisher
	recorder  Recorder
	logger    *logger.Logger
}

// NewStream creates a new location stream
func NewStream(geo *geoindex.Index, l *ledger.Ledger, notifier Notifier, publisher Publisher, recorder Recorder, log *logger.Logger) *Stream {
	return &Stream{
		geo:       geo,
		ledger:    l,
		notifier:  notifier,
		publisher: publisher,
		recorder:  recorder,
		logger:    log,
	}
}

// ReportLocation moves the driver in the geo index and forwards the position
// to the rider when the driver is on a ride. Reports are applied in arrival
// order; the last one wins.
func (s *Stream) ReportLocation(ctx context.Context, driverID string, p geo.Point) (driver.Presence, error) {
	if driverID == "" {
		return driver.Presence{}, apperrors.InvalidInput("driver_id is required", nil)
	}
	if err := p.Validate(); err != nil {
		return driver.Presence{}, apperrors.WithCause(apperrors.ErrInvalidCoordinates, err)
	}

	presence := s.geo.UpdateLocation(driverID, p)
	metrics.LocationUpdatesTotal.Inc()
	if s.recorder != nil {
		s.recorder.RecordLocationUpdate()
	}

	var rideID string
	if r, ok := s.ledger.ActiveRideForDriver(ctx, driverID); ok {
		rideID = r.ID
		update := event.LocationUpdate{
			RideID:      r.ID,
			DriverID:    driverID,
			Coordinates: p,
			At:          presence.LastSeenAt,
		}
		if err := s.notifier.Send(r.RiderID, update.EventType(), update); err != nil {
			s.logger.Debug("Location update not delivered",
				logger.String("ride_id", r.ID),
				logger.String("rider_id", r.RiderID),
				logger.Err(err),
			)
		}
	}

	if s.publisher != nil {
		if err := s.publisher.PublishLocation(ctx, driverID, rideID, p, presence.LastSeenAt); err != nil {
			s.logger.Warn("Failed to publish driver location",
				logger.String("driver_id", driverID),
				logger.Err(err),
			)
		}
	}
	return presence, nil
}

// LastKnown returns the latest presence reported by a driver.
func (s *Stream) LastKnown(driverID string) (driver.Presence, bool) {
	return s.geo.Get(driverID)
}
