// Package geoindex tracks driver presence and answers nearby-driver queries.
package geoindex

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	"github.com/gocomet/ride-dispatch/internal/domain/geo"
	"github.com/gocomet/ride-dispatch/internal/metrics"
	"github.com/gocomet/ride-dispatch/pkg/logger"
)

// Backends
const (
	BackendGeohash = "geohash"
	BackendRTree   = "rtree"
)

const (
	mirrorTimeout   = 500 * time.Millisecond
	mirrorQueueSize = 1024
)

// Config holds geo index configuration
type Config struct {
	Backend          string
	GeohashPrecision uint
}

// Candidate is a driver returned by QueryNearby.
type Candidate struct {
	DriverID       string    `json:"driver_id"`
	Coordinates    geo.Point `json:"coordinates"`
	DistanceMeters float64   `json:"distance_meters"`
	LastSeenAt     time.Time `json:"last_seen_at"`
}

// Mirror receives presence changes for out-of-process readers.
type Mirror interface {
	Upsert(ctx context.Context, p driver.Presence) error
	Remove(ctx context.Context, driverID string) error
}

// spatial is the point structure behind the index. Callers hold the index lock.
type spatial interface {
	insert(driverID string, p geo.Point)
	remove(driverID string)
	// search returns ids whose cell or rectangle may intersect the box.
	search(center geo.Point, minLat, minLng, maxLat, maxLng float64) []string
}

// mirrorOp is one queued presence change for the mirror.
type mirrorOp struct {
	presence driver.Presence
	remove   bool
}

// Index is the in-memory presence index. Mirror writes run on a background
// goroutine so index callers never wait on the mirror.
type Index struct {
	mu        sync.RWMutex
	presences map[string]*driver.Presence
	space     spatial
	logger    *logger.Logger
	now       func() time.Time

	mirror       Mirror
	mirrorMu     sync.RWMutex
	mirrorQueue  chan mirrorOp
	mirrorDone   chan struct{}
	mirrorClosed bool
}

// Option customises an Index
type Option func(*Index)

// WithMirror forwards presence changes to m.
func WithMirror(m Mirror) Option {
	return func(i *Index) { i.mirror = m }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(i *Index) { i.now = now }
}

// New creates a presence index on the configured backend
func New(cfg Config, log *logger.Logger, opts ...Option) (*Index, error) {
	var space spatial
	switch cfg.Backend {
	case "", BackendGeohash:
		precision := cfg.GeohashPrecision
		if precision == 0 {
			precision = 6
		}
		space = newGeohashGrid(precision)
	case BackendRTree:
		space = newRTreeGrid()
	default:
		return nil, fmt.Errorf("unknown geo index backend %q", cfg.Backend)
	}

	idx := &Index{
		presences: make(map[string]*driver.Presence),
		space:     space,
		logger:    log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.mirror != nil {
		idx.mirrorQueue = make(chan mirrorOp, mirrorQueueSize)
		idx.mirrorDone = make(chan struct{})
		go idx.runMirror()
	}
	return idx, nil
}

// Close stops the mirror writer once queued changes are written.
func (i *Index) Close() {
	if i.mirrorQueue == nil {
		return
	}
	i.mirrorMu.Lock()
	if !i.mirrorClosed {
		i.mirrorClosed = true
		close(i.mirrorQueue)
	}
	i.mirrorMu.Unlock()
	<-i.mirrorDone
}

// Upsert replaces the presence for p.DriverID.
func (i *Index) Upsert(p driver.Presence) {
	if p.LastSeenAt.IsZero() {
		p.LastSeenAt = i.now()
	}

	i.mu.Lock()
	stored := p
	i.presences[p.DriverID] = &stored
	i.space.insert(p.DriverID, p.Coordinates)
	count := len(i.presences)
	i.mu.Unlock()

	metrics.DriversOnline.Set(float64(count))
	i.mirrorUpsert(p)
}

// UpdateLocation moves a driver and refreshes lastSeenAt, keeping its
// availability. Unknown drivers are added as unavailable.
func (i *Index) UpdateLocation(driverID string, p geo.Point) driver.Presence {
	i.mu.Lock()
	presence, ok := i.presences[driverID]
	if !ok {
		presence = &driver.Presence{DriverID: driverID}
		i.presences[driverID] = presence
	}
	presence.Coordinates = p
	presence.LastSeenAt = i.now()
	i.space.insert(driverID, p)
	snapshot := *presence
	count := len(i.presences)
	i.mu.Unlock()

	metrics.DriversOnline.Set(float64(count))
	i.mirrorUpsert(snapshot)
	return snapshot
}

// SetAvailable records a driver's own availability choice. It returns false
// when the driver has no presence.
func (i *Index) SetAvailable(driverID string, available bool) bool {
	i.mu.Lock()
	presence, ok := i.presences[driverID]
	var snapshot driver.Presence
	if ok {
		presence.Available = available
		presence.Paused = !available
		snapshot = *presence
	}
	i.mu.Unlock()

	if ok {
		i.mirrorUpsert(snapshot)
	}
	return ok
}

// Claim atomically marks an available driver busy. Only one caller can claim
// a given driver until it is released.
func (i *Index) Claim(driverID string) bool {
	i.mu.Lock()
	presence, ok := i.presences[driverID]
	claimed := ok && presence.Available
	var snapshot driver.Presence
	if claimed {
		presence.Available = false
		snapshot = *presence
	}
	i.mu.Unlock()

	if claimed {
		i.mirrorUpsert(snapshot)
	}
	return claimed
}

// Release ends a claim. The driver becomes available again unless it paused
// offers in the meantime. It reports whether the driver is now available.
func (i *Index) Release(driverID string) bool {
	i.mu.Lock()
	presence, ok := i.presences[driverID]
	var snapshot driver.Presence
	if ok {
		presence.Available = !presence.Paused
		snapshot = *presence
	}
	i.mu.Unlock()

	if !ok {
		return false
	}
	i.mirrorUpsert(snapshot)
	return snapshot.Available
}

// Remove evicts a driver presence.
func (i *Index) Remove(driverID string) {
	i.mu.Lock()
	_, ok := i.presences[driverID]
	if ok {
		delete(i.presences, driverID)
		i.space.remove(driverID)
	}
	count := len(i.presences)
	i.mu.Unlock()

	if !ok {
		return
	}
	metrics.DriversOnline.Set(float64(count))
	i.enqueueMirror(mirrorOp{presence: driver.Presence{DriverID: driverID}, remove: true})
}

// Get returns a copy of a driver presence.
func (i *Index) Get(driverID string) (driver.Presence, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	presence, ok := i.presences[driverID]
	if !ok {
		return driver.Presence{}, false
	}
	return *presence, true
}

// List returns every present driver, available or busy, ordered by id.
func (i *Index) List() []driver.Presence {
	i.mu.RLock()
	out := make([]driver.Presence, 0, len(i.presences))
	for _, p := range i.presences {
		out = append(out, *p)
	}
	i.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool { return out[a].DriverID < out[b].DriverID })
	return out
}

// Count returns the number of present drivers.
func (i *Index) Count() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.presences)
}

// QueryNearby returns up to limit available drivers within radiusMeters of p,
// nearest first, fresher presence first on equal distance. It never errors.
func (i *Index) QueryNearby(p geo.Point, radiusMeters float64, limit int) []Candidate {
	if radiusMeters <= 0 || limit <= 0 || p.Validate() != nil {
		return []Candidate{}
	}

	minLat, minLng, maxLat, maxLng := geo.BoundingBox(p, radiusMeters)

	i.mu.RLock()
	ids := i.space.search(p, minLat, minLng, maxLat, maxLng)
	candidates := make([]Candidate, 0, len(ids))
	for _, id := range ids {
		presence, ok := i.presences[id]
		if !ok || !presence.Available {
			continue
		}
		d := geo.DistanceMeters(p, presence.Coordinates)
		if d > radiusMeters {
			continue
		}
		candidates = append(candidates, Candidate{
			DriverID:       id,
			Coordinates:    presence.Coordinates,
			DistanceMeters: d,
			LastSeenAt:     presence.LastSeenAt,
		})
	}
	i.mu.RUnlock()

	sortCandidates(candidates)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

func sortCandidates(cs []Candidate) {
	sort.Slice(cs, func(a, b int) bool {
		if cs[a].DistanceMeters != cs[b].DistanceMeters {
			return cs[a].DistanceMeters < cs[b].DistanceMeters
		}
		if !cs[a].LastSeenAt.Equal(cs[b].LastSeenAt) {
			return cs[a].LastSeenAt.After(cs[b].LastSeenAt)
		}
		return cs[a].DriverID < cs[b].DriverID
	})
}

func (i *Index) mirrorUpsert(p driver.Presence) {
	i.enqueueMirror(mirrorOp{presence: p})
}

// enqueueMirror hands a change to the mirror writer. A full queue drops the
// change rather than stall the caller.
func (i *Index) enqueueMirror(op mirrorOp) {
	if i.mirrorQueue == nil {
		return
	}
	i.mirrorMu.RLock()
	defer i.mirrorMu.RUnlock()
	if i.mirrorClosed {
		return
	}
	select {
	case i.mirrorQueue <- op:
	default:
		i.logger.Warn("Presence mirror queue full, dropping change",
			logger.String("driver_id", op.presence.DriverID),
			logger.Bool("remove", op.remove),
		)
	}
}

func (i *Index) runMirror() {
	defer close(i.mirrorDone)
	for op := range i.mirrorQueue {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		var err error
		if op.remove {
			err = i.mirror.Remove(ctx, op.presence.DriverID)
		} else {
			err = i.mirror.Upsert(ctx, op.presence)
		}
		cancel()
		if err != nil {
			i.logger.Warn("Failed to mirror driver presence",
				logger.String("driver_id", op.presence.DriverID),
				logger.Bool("remove", op.remove),
				logger.Err(err),
			)
		}
	}
}
