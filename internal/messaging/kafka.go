// Package messaging publishes ride lifecycle events and driver positions to Kafka.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gocomet/ride-dispatch/internal/domain/geo"
	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	"github.com/gocomet/ride-dispatch/pkg/logger"
	"github.com/segmentio/kafka-go"
)

// Config holds Kafka configuration
type Config struct {
	Brokers       []string
	RideTopic     string
	LocationTopic string
	BatchTimeout  time.Duration
	RequiredAcks  int
}

// RideMessage is the value written for every ride transition.
type RideMessage struct {
	EventType string     `json:"event_type"`
	Ride      *ride.Ride `json:"ride"`
	At        time.Time  `json:"at"`
}

// LocationMessage is the value written for every driver position report.
type LocationMessage struct {
	DriverID    string    `json:"driver_id"`
	RideID      string    `json:"ride_id,omitempty"`
	Coordinates geo.Point `json:"coordinates"`
	At          time.Time `json:"at"`
}

// KafkaPublisher writes asynchronously; delivery failures are logged from
// the writer's completion callback.
type KafkaPublisher struct {
	rides     *kafka.Writer
	locations *kafka.Writer
	logger    *logger.Logger
}

// NewKafkaPublisher creates one writer per topic
func NewKafkaPublisher(cfg Config, log *logger.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher needs at least one broker")
	}

	p := &KafkaPublisher{logger: log.Named("kafka")}
	p.rides = p.newWriter(cfg, cfg.RideTopic)
	p.locations = p.newWriter(cfg, cfg.LocationTopic)
	return p, nil
}

func (p *KafkaPublisher) newWriter(cfg Config, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				p.logger.Warn("Failed to deliver messages",
					logger.String("topic", topic),
					logger.Int("count", len(messages)),
					logger.Err(err),
				)
			}
		},
	}
}

// PublishRide writes a ride snapshot keyed by ride id so a ride's events
// stay on one partition in order.
func (p *KafkaPublisher) PublishRide(ctx context.Context, r *ride.Ride, eventType string) error {
	msg, err := rideMessage(r, eventType, time.Now())
	if err != nil {
		return err
	}
	return p.rides.WriteMessages(ctx, msg)
}

// PublishLocation writes a driver position keyed by driver id.
func (p *KafkaPublisher) PublishLocation(ctx context.Context, driverID, rideID string, point geo.Point, at time.Time) error {
	msg, err := locationMessage(driverID, rideID, point, at)
	if err != nil {
		return err
	}
	return p.locations.WriteMessages(ctx, msg)
}

// Close flushes pending messages
func (p *KafkaPublisher) Close() error {
	rideErr := p.rides.Close()
	locErr := p.locations.Close()
	if rideErr != nil {
		return rideErr
	}
	return locErr
}

func rideMessage(r *ride.Ride, eventType string, at time.Time) (kafka.Message, error) {
	value, err := json.Marshal(RideMessage{EventType: eventType, Ride: r, At: at})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode ride event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(r.ID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "status", Value: []byte(r.Status)},
		},
		Time: at,
	}, nil
}

func locationMessage(driverID, rideID string, point geo.Point, at time.Time) (kafka.Message, error) {
	value, err := json.Marshal(LocationMessage{DriverID: driverID, RideID: rideID, Coordinates: point, At: at})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode location: %w", err)
	}
	return kafka.Message{Key: []byte(driverID), Value: value, Time: at}, nil
}

// NoopPublisher discards everything. Used when no brokers are configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishRide(context.Context, *ride.Ride, string) error { return nil }

func (NoopPublisher) PublishLocation(context.Context, string, string, geo.Point, time.Time) error {
	return nil
}

func (NoopPublisher) Close() error { return nil }
