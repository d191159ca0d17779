package redis

import (
	"context"
	"testing"
	"time"

	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "ride:r-1", rideKey("r-1"))
	assert.Equal(t, "driver:d-1:current_ride", currentRideKey(ride.RoleDriver, "d-1"))
	assert.Equal(t, "rider:u-1:current_ride", currentRideKey(ride.RoleRider, "u-1"))
}

func TestNewRideCache_DefaultTTL(t *testing.T) {
	assert.Equal(t, defaultTTL, NewRideCache(nil, 0).ttl)
	assert.Equal(t, time.Minute, NewRideCache(nil, time.Minute).ttl)
}

func TestRideCache_UnreachableServer(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	c := NewRideCache(client, time.Minute)
	ctx := context.Background()

	r := ride.New(ride.Request{ID: "ride-1", RiderID: "rider-1", RequestedAt: time.Now()}, 1000, 60, ride.Fare{Total: 70})

	assert.Error(t, c.Put(ctx, r))
	_, err := c.Get(ctx, "ride-1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotCached)
	assert.Error(t, c.Evict(ctx, "ride-1"))
}
