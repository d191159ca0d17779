package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gocomet/ride-dispatch/internal/domain/geo"
	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	apperrors "github.com/gocomet/ride-dispatch/pkg/errors"
	"github.com/gocomet/ride-dispatch/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func newRide(id, riderID string, at time.Time) *ride.Ride {
	return ride.New(ride.Request{
		ID:          id,
		RiderID:     riderID,
		Pickup:      ride.Place{Address: "Thamel", Coordinates: geo.Point{Lat: 27.7172, Lng: 85.3240}},
		Dropoff:     ride.Place{Address: "Patan", Coordinates: geo.Point{Lat: 27.7200, Lng: 85.3300}},
		RequestedAt: at,
	}, 5000, 900, ride.Fare{Base: 50, Total: 155})
}

type memStore struct {
	mu    sync.Mutex
	saved map[string]*ride.Ride
	saves int
	err   error
}

func newMemStore() *memStore {
	return &memStore{saved: make(map[string]*ride.Ride)}
}

func (s *memStore) Save(_ context.Context, r *ride.Ride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.err != nil {
		return s.err
	}
	s.saved[r.ID] = r.Clone()
	return nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*ride.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.saved[id]
	if !ok {
		return nil, apperrors.ErrRideNotFound
	}
	return r.Clone(), nil
}

func (s *memStore) ListByRider(_ context.Context, riderID string, _ int) ([]*ride.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ride.Ride
	for _, r := range s.saved {
		if r.RiderID == riderID {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (s *memStore) ListByStatus(_ context.Context, statuses []ride.Status, _ int) ([]*ride.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ride.Ride
	for _, r := range s.saved {
		for _, st := range statuses {
			if r.Status == st {
				out = append(out, r.Clone())
				break
			}
		}
		if len(statuses) == 0 {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

type memCache struct {
	mu      sync.Mutex
	put     []string
	evicted []string
}

func (c *memCache) Put(_ context.Context, r *ride.Ride) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put = append(c.put, r.ID)
	return nil
}

func (c *memCache) Evict(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evicted = append(c.evicted, id)
	return nil
}

func TestCreate_RejectsDuplicateAndSecondActiveRide(t *testing.T) {
	ctx := context.Background()
	l := New(logger.NewNop())

	require.NoError(t, l.Create(ctx, newRide("r1", "rider-1", t0)))

	err := l.Create(ctx, newRide("r1", "rider-2", t0))
	assert.Equal(t, apperrors.CodeConflict, apperrors.GetAppError(err).Code)

	err = l.Create(ctx, newRide("r2", "rider-1", t0))
	assert.True(t, errors.Is(err, apperrors.ErrRideInProgress))
}

func TestGet_ReturnsIndependentCopy(t *testing.T) {
	ctx := context.Background()
	l := New(logger.NewNop())
	require.NoError(t, l.Create(ctx, newRide("r1", "rider-1", t0)))

	got, err := l.Get(ctx, "r1")
	require.NoError(t, err)
	got.Status = ride.StatusCompleted
	got.StatusHistory[0].Status = ride.StatusCompleted

	again, err := l.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, ride.StatusPending, again.Status)
	assert.Equal(t, ride.StatusPending, again.StatusHistory[0].Status)

	_, err = l.Get(ctx, "missing")
	assert.True(t, errors.Is(err, apperrors.ErrRideNotFound))
}

func TestUpdate_ErrorLeavesRideUntouched(t *testing.T) {
	ctx := context.Background()
	l := New(logger.NewNop())
	require.NoError(t, l.Create(ctx, newRide("r1", "rider-1", t0)))

	_, err := l.Update(ctx, "r1", func(r *ride.Ride) error {
		r.Bind("driver-1")
		r.Transition(ride.StatusAccepted, t0.Add(time.Second))
		return apperrors.ErrDriverUnavailable
	})
	require.ErrorIs(t, err, apperrors.ErrDriverUnavailable)

	got, err := l.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, ride.StatusPending, got.Status)
	assert.Empty(t, got.DriverID)
	assert.Len(t, got.StatusHistory, 1)

	_, err = l.Update(ctx, "missing", func(*ride.Ride) error { return nil })
	assert.True(t, errors.Is(err, apperrors.ErrRideNotFound))
}

func TestUpdate_SerialisesWriters(t *testing.T) {
	ctx := context.Background()
	l := New(logger.NewNop())
	require.NoError(t, l.Create(ctx, newRide("r1", "rider-1", t0)))

	const drivers = 20
	var wg sync.WaitGroup
	start := make(chan struct{})
	wins := make(chan string, drivers)
	for i := 0; i < drivers; i++ {
		driverID := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := l.Update(ctx, "r1", func(r *ride.Ride) error {
				if r.Status != ride.StatusPending {
					return apperrors.ErrAlreadyTaken
				}
				r.Bind(driverID)
				r.Transition(ride.StatusAccepted, t0)
				return nil
			})
			if err == nil {
				wins <- driverID
			}
		}()
	}
	close(start)
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1)

	got, err := l.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, winners[0], got.DriverID)
	assert.Len(t, got.StatusHistory, 2)
}

func TestActiveIndexes_FollowLifecycle(t *testing.T) {
	ctx := context.Background()
	l := New(logger.NewNop())
	require.NoError(t, l.Create(ctx, newRide("r1", "rider-1", t0)))

	active, ok := l.ActiveRideForRider(ctx, "rider-1")
	require.True(t, ok)
	assert.Equal(t, "r1", active.ID)
	_, ok = l.ActiveRideForDriver(ctx, "driver-1")
	assert.False(t, ok, "a pending ride has no bound driver")

	_, err := l.Update(ctx, "r1", func(r *ride.Ride) error {
		r.Bind("driver-1")
		r.Transition(ride.StatusAccepted, t0)
		return nil
	})
	require.NoError(t, err)

	active, ok = l.ActiveRideForDriver(ctx, "driver-1")
	require.True(t, ok)
	assert.Equal(t, "r1", active.ID)
	assert.Len(t, l.ListActiveByDriver(ctx, "driver-1"), 1)

	_, err = l.Update(ctx, "r1", func(r *ride.Ride) error {
		r.Cancel(ride.ReasonCancelledByRider, ride.RoleRider, t0)
		return nil
	})
	require.NoError(t, err)

	_, ok = l.ActiveRideForDriver(ctx, "driver-1")
	assert.False(t, ok)
	_, ok = l.ActiveRideForRider(ctx, "rider-1")
	assert.False(t, ok)
	assert.Empty(t, l.ListActiveByDriver(ctx, "driver-1"))

	assert.NoError(t, l.Create(ctx, newRide("r2", "rider-1", t0.Add(time.Minute))))
}

func TestListByRider_NewestFirst(t *testing.T) {
	ctx := context.Background()
	l := New(logger.NewNop())

	for i, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, l.Create(ctx, newRide(id, "rider-1", t0.Add(time.Duration(i)*time.Minute))))
		_, err := l.Update(ctx, id, func(r *ride.Ride) error {
			r.Cancel(ride.ReasonCancelledByRider, ride.RoleRider, t0)
			return nil
		})
		require.NoError(t, err)
	}
	require.NoError(t, l.Create(ctx, newRide("other", "rider-2", t0)))

	rides, err := l.ListByRider(ctx, "rider-1", 2)
	require.NoError(t, err)
	require.Len(t, rides, 2)
	assert.Equal(t, "r3", rides[0].ID)
	assert.Equal(t, "r2", rides[1].ID)
}

func TestWriteThrough_StoreAndCache(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	cache := &memCache{}
	l := New(logger.NewNop(), WithStore(store), WithCache(cache))

	require.NoError(t, l.Create(ctx, newRide("r1", "rider-1", t0)))
	_, err := l.Update(ctx, "r1", func(r *ride.Ride) error {
		r.Cancel(ride.ReasonNoDriversFound, ride.RoleSystem, t0.Add(time.Second))
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 2, store.saves)
	assert.Equal(t, ride.StatusCancelled, store.saved["r1"].Status)
	assert.Equal(t, []string{"r1"}, cache.put)
	assert.Equal(t, []string{"r1"}, cache.evicted)
}

func TestWriteThrough_StoreFailureDoesNotFailUpdate(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.err = errors.New("connection refused")
	l := New(logger.NewNop(), WithStore(store))

	require.NoError(t, l.Create(ctx, newRide("r1", "rider-1", t0)))
	updated, err := l.Update(ctx, "r1", func(r *ride.Ride) error {
		r.Cancel(ride.ReasonCancelledByRider, ride.RoleRider, t0)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, ride.StatusCancelled, updated.Status)
}

func TestPruneTerminal(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	l := New(logger.NewNop(), WithStore(store))

	require.NoError(t, l.Create(ctx, newRide("old", "rider-1", t0)))
	_, err := l.Update(ctx, "old", func(r *ride.Ride) error {
		r.Cancel(ride.ReasonCancelledByRider, ride.RoleRider, t0)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, l.Create(ctx, newRide("live", "rider-2", t0)))

	assert.Equal(t, 1, l.PruneTerminal(t0.Add(time.Hour)))
	assert.Equal(t, 1, l.Len())

	got, err := l.Get(ctx, "old")
	require.NoError(t, err, "pruned rides stay readable from the store")
	assert.Equal(t, ride.StatusCancelled, got.Status)
	assert.Equal(t, 0, l.PruneTerminal(t0.Add(time.Hour)))

	// A late writer sees the settled ride rather than NOT_FOUND.
	_, err = l.Update(ctx, "old", func(r *ride.Ride) error {
		if r.Status == ride.StatusCancelled {
			return apperrors.ErrAlreadyCancelled
		}
		return nil
	})
	assert.True(t, errors.Is(err, apperrors.ErrAlreadyCancelled))
	assert.Equal(t, 2, l.Len(), "the settled ride is back in memory")
	_, busy := l.ActiveRideForRider(ctx, "rider-1")
	assert.False(t, busy)

	_, err = l.Update(ctx, "never-existed", func(*ride.Ride) error { return nil })
	assert.True(t, errors.Is(err, apperrors.ErrRideNotFound))
}

func TestPruneTerminal_WithoutStoreKeepsRides(t *testing.T) {
	ctx := context.Background()
	l := New(logger.NewNop())

	require.NoError(t, l.Create(ctx, newRide("old", "rider-1", t0)))
	_, err := l.Update(ctx, "old", func(r *ride.Ride) error {
		r.Cancel(ride.ReasonNoDriversFound, ride.RoleSystem, t0)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 0, l.PruneTerminal(t0.Add(24*time.Hour)))
	got, err := l.Get(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, ride.StatusCancelled, got.Status)

	history, err := l.ListByRider(ctx, "rider-1", 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestListByStatus(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	l := New(logger.NewNop(), WithStore(store))

	require.NoError(t, l.Create(ctx, newRide("done", "rider-1", t0)))
	_, err := l.Update(ctx, "done", func(r *ride.Ride) error {
		r.Cancel(ride.ReasonCancelledByRider, ride.RoleRider, t0)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, l.Create(ctx, newRide("waiting", "rider-2", t0.Add(time.Minute))))
	require.NoError(t, l.Create(ctx, newRide("riding", "rider-3", t0.Add(2*time.Minute))))
	_, err = l.Update(ctx, "riding", func(r *ride.Ride) error {
		r.Bind("driver-1")
		r.Transition(ride.StatusAccepted, t0.Add(2*time.Minute))
		return nil
	})
	require.NoError(t, err)

	require.Equal(t, 1, l.PruneTerminal(t0.Add(time.Hour)))

	active, err := l.ListActive(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"riding", "waiting"}, rideIDs(active))

	cancelled, err := l.ListByStatus(ctx, 10, ride.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, []string{"done"}, rideIDs(cancelled), "pruned rides come from the store")

	pending, err := l.ListByStatus(ctx, 10, ride.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, []string{"waiting"}, rideIDs(pending), "accepted rides are excluded")

	all, err := l.ListByStatus(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"riding", "waiting"}, rideIDs(all))
}

func rideIDs(rides []*ride.Ride) []string {
	out := make([]string, len(rides))
	for i, r := range rides {
		out[i] = r.ID
	}
	return out
}
