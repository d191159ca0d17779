package geoindex

import (
	"context"
	"fmt"

	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	"github.com/redis/go-redis/v9"
)

// Redis keys shared with ops tooling
const (
	LocationsKey = "drivers:locations"
	AvailableKey = "drivers:available"
)

// RedisMirror copies presence into a Redis GEO set plus an availability set.
type RedisMirror struct {
	redis *redis.Client
}

// NewRedisMirror creates a presence mirror
func NewRedisMirror(client *redis.Client) *RedisMirror {
	return &RedisMirror{redis: client}
}

// Upsert writes position and availability in one round trip
func (m *RedisMirror) Upsert(ctx context.Context, p driver.Presence) error {
	_, err := m.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.GeoAdd(ctx, LocationsKey, &redis.GeoLocation{
			Name:      p.DriverID,
			Longitude: p.Coordinates.Lng,
			Latitude:  p.Coordinates.Lat,
		})
		if p.Available {
			pipe.SAdd(ctx, AvailableKey, p.DriverID)
		} else {
			pipe.SRem(ctx, AvailableKey, p.DriverID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mirror presence: %w", err)
	}
	return nil
}

// Remove drops a driver from both keys
func (m *RedisMirror) Remove(ctx context.Context, driverID string) error {
	_, err := m.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, LocationsKey, driverID)
		pipe.SRem(ctx, AvailableKey, driverID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove mirrored presence: %w", err)
	}
	return nil
}
