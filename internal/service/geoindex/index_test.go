package geoindex

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	"github.com/gocomet/ride-dispatch/internal/domain/geo"
	"github.com/gocomet/ride-dispatch/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pickup = geo.Point{Lat: 27.7172, Lng: 85.3240}

func backends() []Config {
	return []Config{
		{Backend: BackendGeohash, GeohashPrecision: 6},
		{Backend: BackendRTree},
	}
}

func newTestIndex(t *testing.T, cfg Config, opts ...Option) *Index {
	t.Helper()
	idx, err := New(cfg, logger.NewNop(), opts...)
	require.NoError(t, err)
	return idx
}

func ids(cs []Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.DriverID
	}
	return out
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(Config{Backend: "quadtree"}, logger.NewNop())
	assert.Error(t, err)
}

func TestQueryNearby_SortedByDistance(t *testing.T) {
	for _, cfg := range backends() {
		t.Run(cfg.Backend, func(t *testing.T) {
			idx := newTestIndex(t, cfg)
			idx.Upsert(driver.Presence{DriverID: "far", Coordinates: geo.Point{Lat: 27.7262, Lng: 85.3240}, Available: true})
			idx.Upsert(driver.Presence{DriverID: "near", Coordinates: geo.Point{Lat: 27.7182, Lng: 85.3240}, Available: true})
			idx.Upsert(driver.Presence{DriverID: "mid", Coordinates: geo.Point{Lat: 27.7212, Lng: 85.3240}, Available: true})
			idx.Upsert(driver.Presence{DriverID: "outside", Coordinates: geo.Point{Lat: 27.8172, Lng: 85.3240}, Available: true})

			got := idx.QueryNearby(pickup, 2000, 10)

			assert.Equal(t, []string{"near", "mid", "far"}, ids(got))
			assert.Less(t, got[0].DistanceMeters, got[1].DistanceMeters)
		})
	}
}

func TestQueryNearby_TieBrokenByFresherPresence(t *testing.T) {
	for _, cfg := range backends() {
		t.Run(cfg.Backend, func(t *testing.T) {
			idx := newTestIndex(t, cfg)
			spot := geo.Point{Lat: 27.7180, Lng: 85.3245}
			now := time.Now()

			idx.Upsert(driver.Presence{DriverID: "stale", Coordinates: spot, Available: true, LastSeenAt: now.Add(-time.Minute)})
			idx.Upsert(driver.Presence{DriverID: "fresh", Coordinates: spot, Available: true, LastSeenAt: now})

			assert.Equal(t, []string{"fresh", "stale"}, ids(idx.QueryNearby(pickup, 1000, 10)))
		})
	}
}

func TestQueryNearby_SkipsUnavailableAndRespectsLimit(t *testing.T) {
	idx := newTestIndex(t, Config{})
	for i := 0; i < 5; i++ {
		idx.Upsert(driver.Presence{
			DriverID:    fmt.Sprintf("d%d", i),
			Coordinates: geo.Point{Lat: pickup.Lat + float64(i)*0.001, Lng: pickup.Lng},
			Available:   i != 0,
		})
	}

	got := idx.QueryNearby(pickup, 5000, 2)

	assert.Equal(t, []string{"d1", "d2"}, ids(got))
}

func TestQueryNearby_EmptyNeverErrors(t *testing.T) {
	idx := newTestIndex(t, Config{})

	assert.Empty(t, idx.QueryNearby(pickup, 5000, 10))
	assert.NotNil(t, idx.QueryNearby(pickup, 0, 10))
	assert.Empty(t, idx.QueryNearby(geo.Point{Lat: 200}, 5000, 10))
}

func TestRemove_NoResurrection(t *testing.T) {
	for _, cfg := range backends() {
		t.Run(cfg.Backend, func(t *testing.T) {
			idx := newTestIndex(t, cfg)
			idx.Upsert(driver.Presence{DriverID: "d1", Coordinates: pickup, Available: true})
			idx.Remove("d1")

			assert.Empty(t, idx.QueryNearby(pickup, 5000, 10))
			_, ok := idx.Get("d1")
			assert.False(t, ok)
			assert.Equal(t, 0, idx.Count())
		})
	}
}

func TestUpsert_IsIdempotentAndMovesDriver(t *testing.T) {
	for _, cfg := range backends() {
		t.Run(cfg.Backend, func(t *testing.T) {
			idx := newTestIndex(t, cfg)
			away := geo.Point{Lat: 28.2096, Lng: 83.9856}

			idx.Upsert(driver.Presence{DriverID: "d1", Coordinates: pickup, Available: true})
			idx.Upsert(driver.Presence{DriverID: "d1", Coordinates: pickup, Available: true})
			assert.Len(t, idx.QueryNearby(pickup, 1000, 10), 1)

			idx.Upsert(driver.Presence{DriverID: "d1", Coordinates: away, Available: true})
			assert.Empty(t, idx.QueryNearby(pickup, 1000, 10))
			assert.Len(t, idx.QueryNearby(away, 1000, 10), 1)
			assert.Equal(t, 1, idx.Count())
		})
	}
}

func TestUpdateLocation_KeepsAvailability(t *testing.T) {
	idx := newTestIndex(t, Config{})
	idx.Upsert(driver.Presence{DriverID: "d1", Coordinates: pickup, Available: true})

	moved := idx.UpdateLocation("d1", geo.Point{Lat: 27.7175, Lng: 85.3241})
	assert.True(t, moved.Available)

	unknown := idx.UpdateLocation("d2", pickup)
	assert.False(t, unknown.Available, "location reports alone do not make a driver dispatchable")
	assert.Equal(t, []string{"d1"}, ids(idx.QueryNearby(pickup, 1000, 10)))
}

func TestClaim_OnlyOnce(t *testing.T) {
	idx := newTestIndex(t, Config{})
	idx.Upsert(driver.Presence{DriverID: "d1", Coordinates: pickup, Available: true})

	const attempts = 16
	var wg sync.WaitGroup
	results := make(chan bool, attempts)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results <- idx.Claim("d1")
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	claimed := 0
	for ok := range results {
		if ok {
			claimed++
		}
	}
	assert.Equal(t, 1, claimed)
	assert.Empty(t, idx.QueryNearby(pickup, 1000, 10))

	assert.True(t, idx.SetAvailable("d1", true))
	assert.True(t, idx.Claim("d1"))
	assert.False(t, idx.Claim("ghost"))
	assert.False(t, idx.SetAvailable("ghost", true))
}

// TestQueryNearby_MatchesBruteForce checks both backends against a linear scan
func TestQueryNearby_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	base := time.Now()
	presences := make([]driver.Presence, 800)
	for i := range presences {
		presences[i] = driver.Presence{
			DriverID: fmt.Sprintf("d%03d", i),
			Coordinates: geo.Point{
				Lat: pickup.Lat + (rng.Float64()-0.5)*0.2,
				Lng: pickup.Lng + (rng.Float64()-0.5)*0.2,
			},
			Available:  rng.Intn(4) != 0,
			LastSeenAt: base.Add(time.Duration(i) * time.Millisecond),
		}
	}

	for _, cfg := range backends() {
		t.Run(cfg.Backend, func(t *testing.T) {
			idx := newTestIndex(t, cfg)
			for _, p := range presences {
				idx.Upsert(p)
			}

			for _, radius := range []float64{300, 1500, 4000} {
				var want []Candidate
				for _, p := range presences {
					d := geo.DistanceMeters(pickup, p.Coordinates)
					if p.Available && d <= radius {
						want = append(want, Candidate{DriverID: p.DriverID, DistanceMeters: d, LastSeenAt: p.LastSeenAt})
					}
				}
				sortCandidates(want)
				if len(want) > 20 {
					want = want[:20]
				}

				got := idx.QueryNearby(pickup, radius, 20)
				assert.Equal(t, ids(want), ids(got), "radius %v", radius)
				assert.True(t, sort.SliceIsSorted(got, func(a, b int) bool {
					return got[a].DistanceMeters < got[b].DistanceMeters
				}))
			}
		})
	}
}

type recordingMirror struct {
	mu      sync.Mutex
	upserts []driver.Presence
	removed []string
}

func (m *recordingMirror) Upsert(_ context.Context, p driver.Presence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts = append(m.upserts, p)
	return nil
}

func (m *recordingMirror) Remove(_ context.Context, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, driverID)
	return nil
}

func TestMirror_ReceivesChanges(t *testing.T) {
	mirror := &recordingMirror{}
	idx := newTestIndex(t, Config{}, WithMirror(mirror))

	idx.Upsert(driver.Presence{DriverID: "d1", Coordinates: pickup, Available: true})
	idx.Claim("d1")
	idx.Remove("d1")
	idx.Remove("d1")
	idx.Close()

	require.Len(t, mirror.upserts, 2)
	assert.True(t, mirror.upserts[0].Available)
	assert.False(t, mirror.upserts[1].Available)
	assert.Equal(t, []string{"d1"}, mirror.removed)
}

// blockingMirror holds every write until release is closed.
type blockingMirror struct {
	release chan struct{}
	writes  chan string
}

func (m *blockingMirror) Upsert(_ context.Context, p driver.Presence) error {
	<-m.release
	m.writes <- "upsert:" + p.DriverID
	return nil
}

func (m *blockingMirror) Remove(_ context.Context, driverID string) error {
	<-m.release
	m.writes <- "remove:" + driverID
	return nil
}

func TestMirror_SlowMirrorDoesNotStallIndex(t *testing.T) {
	mirror := &blockingMirror{release: make(chan struct{}), writes: make(chan string, 8)}
	idx := newTestIndex(t, Config{}, WithMirror(mirror))

	done := make(chan struct{})
	go func() {
		defer close(done)
		idx.Upsert(driver.Presence{DriverID: "d1", Coordinates: pickup, Available: true})
		idx.Claim("d1")
		idx.Remove("d1")
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("index calls waited on the mirror")
	}

	close(mirror.release)
	idx.Close()
	close(mirror.writes)

	var writes []string
	for w := range mirror.writes {
		writes = append(writes, w)
	}
	assert.Equal(t, []string{"upsert:d1", "upsert:d1", "remove:d1"}, writes, "changes reach the mirror in order")
}

func TestRelease_KeepsPausedDriverOutOfPool(t *testing.T) {
	idx := newTestIndex(t, Config{})
	idx.Upsert(driver.Presence{DriverID: "d1", Coordinates: pickup, Available: true})
	idx.Upsert(driver.Presence{DriverID: "d2", Coordinates: pickup, Available: true})
	require.True(t, idx.Claim("d1"))
	require.True(t, idx.Claim("d2"))

	require.True(t, idx.SetAvailable("d2", false))
	assert.True(t, idx.Release("d1"))
	assert.False(t, idx.Release("d2"), "d2 paused offers during the ride")
	assert.Equal(t, []string{"d1"}, ids(idx.QueryNearby(pickup, 1000, 10)))

	p, _ := idx.Get("d2")
	assert.True(t, p.Paused)
	require.True(t, idx.SetAvailable("d2", true))
	p, _ = idx.Get("d2")
	assert.False(t, p.Paused)

	assert.False(t, idx.Release("ghost"))
}

func TestList_IncludesBusyDrivers(t *testing.T) {
	idx := newTestIndex(t, Config{})
	assert.Empty(t, idx.List())

	idx.Upsert(driver.Presence{DriverID: "d2", Coordinates: pickup, Available: true})
	idx.Upsert(driver.Presence{DriverID: "d1", Coordinates: pickup, Available: true})
	idx.Claim("d2")

	got := idx.List()
	require.Len(t, got, 2)
	assert.Equal(t, "d1", got[0].DriverID)
	assert.Equal(t, driver.StatusOnline, got[0].Status())
	assert.Equal(t, driver.StatusBusy, got[1].Status())
}
