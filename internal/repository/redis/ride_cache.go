// Package redis keeps snapshots of in-flight rides in Redis so dashboards and
// other instances can read current ride state without touching Postgres.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	"github.com/gocomet/ride-dispatch/pkg/cache"
	goredis "github.com/redis/go-redis/v9"
)

const defaultTTL = 2 * time.Hour

// ErrNotCached is returned by Get on a cache miss.
var ErrNotCached = errors.New("ride not cached")

// RideCache implements ride.Cache. Each active ride is stored as JSON under
// ride:{id}, with current_ride pointers for both participants.
type RideCache struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewRideCache creates a ride cache. A non-positive ttl uses two hours.
func NewRideCache(client *goredis.Client, ttl time.Duration) *RideCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RideCache{client: client, ttl: ttl}
}

func rideKey(id string) string { return fmt.Sprintf("ride:%s", id) }

func currentRideKey(role, actorID string) string {
	return fmt.Sprintf("%s:%s:current_ride", role, actorID)
}

// Put refreshes the snapshot and participant pointers.
func (c *RideCache) Put(ctx context.Context, r *ride.Ride) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode ride %s: %w", r.ID, err)
	}

	if err := cache.SetWithExpiry(ctx, c.client, rideKey(r.ID), payload, c.ttl); err != nil {
		return fmt.Errorf("failed to cache ride %s: %w", r.ID, err)
	}
	if err := cache.SetWithExpiry(ctx, c.client, currentRideKey(ride.RoleRider, r.RiderID), r.ID, c.ttl); err != nil {
		return fmt.Errorf("failed to cache rider pointer: %w", err)
	}
	if r.DriverID != "" {
		if err := cache.SetWithExpiry(ctx, c.client, currentRideKey(ride.RoleDriver, r.DriverID), r.ID, c.ttl); err != nil {
			return fmt.Errorf("failed to cache driver pointer: %w", err)
		}
	}
	return nil
}

// Get reads a cached snapshot.
func (c *RideCache) Get(ctx context.Context, id string) (*ride.Ride, error) {
	raw, err := cache.Get(ctx, c.client, rideKey(id))
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotCached
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached ride %s: %w", id, err)
	}

	var r ride.Ride
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("corrupt cached ride %s: %w", id, err)
	}
	return &r, nil
}

// CurrentRideID returns the cached active ride of an actor, if any.
func (c *RideCache) CurrentRideID(ctx context.Context, role, actorID string) (string, bool, error) {
	id, err := cache.Get(ctx, c.client, currentRideKey(role, actorID))
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// Evict drops a ride that reached a terminal state, along with the pointers
// that still reference it.
func (c *RideCache) Evict(ctx context.Context, id string) error {
	keys := []string{rideKey(id)}

	cached, err := c.Get(ctx, id)
	switch {
	case errors.Is(err, ErrNotCached):
	case err != nil:
		return err
	default:
		keys = append(keys, c.ownedPointers(ctx, cached)...)
	}

	if err := cache.Delete(ctx, c.client, keys...); err != nil {
		return fmt.Errorf("failed to evict ride %s: %w", id, err)
	}
	return nil
}

// ownedPointers lists participant pointers still aimed at r. A pointer that
// already moved on to a newer ride is left alone.
func (c *RideCache) ownedPointers(ctx context.Context, r *ride.Ride) []string {
	var keys []string
	for role, actorID := range map[string]string{ride.RoleRider: r.RiderID, ride.RoleDriver: r.DriverID} {
		if actorID == "" {
			continue
		}
		current, ok, err := c.CurrentRideID(ctx, role, actorID)
		if err == nil && ok && current == r.ID {
			keys = append(keys, currentRideKey(role, actorID))
		}
	}
	return keys
}
