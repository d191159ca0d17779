// Package dispatch matches ride requests to nearby drivers and drives every
// ride through its lifecycle.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gocomet/ride-dispatch/internal/domain/event"
	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	"github.com/gocomet/ride-dispatch/internal/maps"
	"github.com/gocomet/ride-dispatch/internal/service/geoindex"
	"github.com/gocomet/ride-dispatch/internal/service/ledger"
	"github.com/gocomet/ride-dispatch/internal/service/location"
	"github.com/gocomet/ride-dispatch/internal/service/pricing"
	"github.com/gocomet/ride-dispatch/pkg/logger"
	"github.com/google/uuid"
)

// Config holds dispatch tuning
type Config struct {
	SearchRadiusMeters float64
	MaxCandidates      int
	Timeout            time.Duration
}

// Validate checks dispatch tuning values
func (c Config) Validate() error {
	if c.SearchRadiusMeters <= 0 {
		return fmt.Errorf("search radius must be positive, got %v", c.SearchRadiusMeters)
	}
	if c.MaxCandidates <= 0 {
		return fmt.Errorf("max candidates must be positive, got %d", c.MaxCandidates)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("dispatch timeout must be positive, got %v", c.Timeout)
	}
	return nil
}

// Notifier delivers events to connected actors.
type Notifier interface {
	Send(actorID, eventType string, payload interface{}) error
	BroadcastToCandidates(rideID string, actorIDs []string, eventType string, payload interface{}) int
	BroadcastToRide(rideID, eventType string, payload interface{}) int
	Subscribe(actorID, rideID string)
	Unsubscribe(actorID, rideID string)
}

// Publisher records ride lifecycle events for downstream consumers.
type Publisher interface {
	PublishRide(ctx context.Context, r *ride.Ride, eventType string) error
}

// Recorder receives APM events.
type Recorder interface {
	RecordRideRequested(rideID string, candidates int, fareTotal int64)
	RecordMatchingLatency(latency time.Duration)
	RecordRideCompleted(rideID string, fareTotal int64, distanceMeters, durationSeconds float64)
	RecordRideCancelled(rideID, reason, cancelledBy string)
}

// Deps are the collaborators of an Engine. Publisher and Recorder are optional.
type Deps struct {
	Ledger    *ledger.Ledger
	Geo       *geoindex.Index
	Pricing   *pricing.Calculator
	Estimator maps.Estimator
	Notifier  Notifier
	Locations *location.Stream
	Publisher Publisher
	Recorder  Recorder
	Logger    *logger.Logger
}

// Engine is the dispatch and lifecycle coordinator
type Engine struct {
	cfg       Config
	ledger    *ledger.Ledger
	geo       *geoindex.Index
	pricing   *pricing.Calculator
	estimator maps.Estimator
	notifier  Notifier
	locations *location.Stream
	publisher Publisher
	recorder  Recorder
	logger    *logger.Logger
	validate  *validator.Validate

	now   func() time.Time
	newID func() string

	roundsMu sync.Mutex
	rounds   map[string]*round

	handlers map[string]handlerFunc
}

// New creates a dispatch engine
func New(cfg Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Ledger == nil || deps.Geo == nil || deps.Pricing == nil || deps.Estimator == nil || deps.Notifier == nil || deps.Locations == nil {
		return nil, errors.New("dispatch engine is missing a required dependency")
	}

	e := &Engine{
		cfg:       cfg,
		ledger:    deps.Ledger,
		geo:       deps.Geo,
		pricing:   deps.Pricing,
		estimator: deps.Estimator,
		notifier:  deps.Notifier,
		locations: deps.Locations,
		publisher: deps.Publisher,
		recorder:  deps.Recorder,
		logger:    deps.Logger.Named("dispatch"),
		validate:  validator.New(),
		now:       time.Now,
		newID:     uuid.NewString,
		rounds:    make(map[string]*round),
	}
	if e.publisher == nil {
		e.publisher = noopPublisher{}
	}
	if e.recorder == nil {
		e.recorder = noopRecorder{}
	}
	e.handlers = e.buildHandlers()
	return e, nil
}

// Config returns the active dispatch tuning
func (e *Engine) Config() Config {
	return e.cfg
}

// notify sends ev to one actor. Delivery is best effort; an offline actor
// catches up from the ledger on reconnect.
func (e *Engine) notify(actorID string, ev event.Event) {
	if actorID == "" {
		return
	}
	if err := e.notifier.Send(actorID, ev.EventType(), ev); err != nil {
		e.logger.Debug("Notification dropped",
			logger.String("actor_id", actorID),
			logger.String("event", ev.EventType()),
			logger.String("ride_id", ev.RideRef()),
			logger.Err(err),
		)
	}
}

func (e *Engine) broadcast(actorIDs []string, ev event.Event) int {
	if len(actorIDs) == 0 {
		return 0
	}
	return e.notifier.BroadcastToCandidates(ev.RideRef(), actorIDs, ev.EventType(), ev)
}

func (e *Engine) publish(ctx context.Context, r *ride.Ride, eventType string) {
	if err := e.publisher.PublishRide(ctx, r, eventType); err != nil {
		e.logger.Warn("Failed to publish ride event",
			logger.String("ride_id", r.ID),
			logger.String("event", eventType),
			logger.Err(err),
		)
	}
}

// release makes a driver dispatchable again after its ride ended. A driver
// who went offline or paused offers meanwhile stays out of the pool.
func (e *Engine) release(driverID string) {
	if driverID == "" {
		return
	}
	e.geo.Release(driverID)
}

func (e *Engine) unsubscribeAll(r *ride.Ride) {
	e.notifier.Unsubscribe(r.RiderID, r.ID)
	if r.DriverID != "" {
		e.notifier.Unsubscribe(r.DriverID, r.ID)
	}
}

type noopPublisher struct{}

func (noopPublisher) PublishRide(context.Context, *ride.Ride, string) error { return nil }

type noopRecorder struct{}

func (noopRecorder) RecordRideRequested(string, int, int64)              {}
func (noopRecorder) RecordMatchingLatency(time.Duration)                 {}
func (noopRecorder) RecordRideCompleted(string, int64, float64, float64) {}
func (noopRecorder) RecordRideCancelled(string, string, string)          {}
