// Package ledger is the authoritative store of ride aggregates. Every write to
// a ride goes through Update, which serialises writers per ride id.
package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	apperrors "github.com/gocomet/ride-dispatch/pkg/errors"
	"github.com/gocomet/ride-dispatch/pkg/logger"
)

type entry struct {
	mu      sync.Mutex
	ride    *ride.Ride
	evicted bool
}

// Ledger holds rides in memory and writes them through to an optional store
// and cache.
type Ledger struct {
	mu             sync.RWMutex
	rides          map[string]*entry
	activeByDriver map[string]string
	activeByRider  map[string]string
	byRider        map[string][]string

	store  ride.Repository
	cache  ride.Cache
	logger *logger.Logger
}

// Option customises a Ledger
type Option func(*Ledger)

// WithStore persists every committed ride snapshot.
func WithStore(store ride.Repository) Option {
	return func(l *Ledger) { l.store = store }
}

// WithCache keeps non-terminal rides in a shared cache.
func WithCache(cache ride.Cache) Option {
	return func(l *Ledger) { l.cache = cache }
}

// New creates an empty ledger
func New(log *logger.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		rides:          make(map[string]*entry),
		activeByDriver: make(map[string]string),
		activeByRider:  make(map[string]string),
		byRider:        make(map[string][]string),
		logger:         log,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Create inserts a new ride. A rider may hold only one non-terminal ride.
func (l *Ledger) Create(ctx context.Context, r *ride.Ride) error {
	stored := r.Clone()

	l.mu.Lock()
	if _, exists := l.rides[r.ID]; exists {
		l.mu.Unlock()
		return apperrors.Conflict("Ride already exists", nil)
	}
	if _, busy := l.activeByRider[r.RiderID]; busy && !r.Status.IsTerminal() {
		l.mu.Unlock()
		return apperrors.ErrRideInProgress
	}
	e := &entry{ride: stored}
	// Lock the entry before publishing it so the first persist is ordered
	// ahead of any Update.
	e.mu.Lock()
	l.rides[r.ID] = e
	l.byRider[r.RiderID] = append(l.byRider[r.RiderID], r.ID)
	l.index(stored)
	l.mu.Unlock()

	l.persist(ctx, stored)
	e.mu.Unlock()
	return nil
}

// Get returns a copy of the ride, falling back to the store for rides no
// longer held in memory.
func (l *Ledger) Get(ctx context.Context, id string) (*ride.Ride, error) {
	l.mu.RLock()
	e, ok := l.rides[id]
	l.mu.RUnlock()

	if ok {
		e.mu.Lock()
		defer e.mu.Unlock()
		if !e.evicted {
			return e.ride.Clone(), nil
		}
	}

	if l.store == nil {
		return nil, apperrors.ErrRideNotFound
	}
	r, err := l.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Update runs fn on a copy of the ride while holding the ride's lock. If fn
// fails the stored ride is left untouched and fn's error is returned;
// otherwise the copy becomes the stored ride and is returned.
func (l *Ledger) Update(ctx context.Context, id string, fn func(*ride.Ride) error) (*ride.Ride, error) {
	e, err := l.lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted {
		return nil, apperrors.ErrRideNotFound
	}

	next := e.ride.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	e.ride = next

	l.mu.Lock()
	l.index(next)
	l.mu.Unlock()

	l.persist(ctx, next)
	return next.Clone(), nil
}

// lookup returns the entry for id. A settled ride that was pruned from memory
// is reloaded from the store so late writers get a precise answer instead of
// NOT_FOUND.
func (l *Ledger) lookup(ctx context.Context, id string) (*entry, error) {
	l.mu.RLock()
	e, ok := l.rides[id]
	l.mu.RUnlock()
	if ok {
		return e, nil
	}
	if l.store == nil {
		return nil, apperrors.ErrRideNotFound
	}

	stored, err := l.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	// Live rides are only ever authoritative in memory.
	if !stored.Status.IsTerminal() {
		return nil, apperrors.ErrRideNotFound
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.rides[id]; ok {
		return e, nil
	}
	e = &entry{ride: stored}
	l.rides[id] = e
	l.byRider[stored.RiderID] = append(l.byRider[stored.RiderID], id)
	return e, nil
}

// index refreshes the active-ride indexes for r. Callers hold l.mu.
func (l *Ledger) index(r *ride.Ride) {
	if r.Status.IsTerminal() {
		if l.activeByRider[r.RiderID] == r.ID {
			delete(l.activeByRider, r.RiderID)
		}
	} else {
		l.activeByRider[r.RiderID] = r.ID
	}

	if r.DriverID == "" {
		return
	}
	if r.Status.IsActive() {
		l.activeByDriver[r.DriverID] = r.ID
	} else if l.activeByDriver[r.DriverID] == r.ID {
		delete(l.activeByDriver, r.DriverID)
	}
}

func (l *Ledger) persist(ctx context.Context, r *ride.Ride) {
	if l.store != nil {
		if err := l.store.Save(ctx, r); err != nil {
			l.logger.Error("Failed to persist ride",
				logger.String("ride_id", r.ID),
				logger.String("status", string(r.Status)),
				logger.Err(err),
			)
		}
	}

	if l.cache == nil {
		return
	}
	var err error
	if r.Status.IsTerminal() {
		err = l.cache.Evict(ctx, r.ID)
	} else {
		err = l.cache.Put(ctx, r)
	}
	if err != nil {
		l.logger.Warn("Failed to refresh ride cache",
			logger.String("ride_id", r.ID),
			logger.Err(err),
		)
	}
}

// ActiveRideForDriver returns the ride a driver is currently bound to.
func (l *Ledger) ActiveRideForDriver(ctx context.Context, driverID string) (*ride.Ride, bool) {
	l.mu.RLock()
	id, ok := l.activeByDriver[driverID]
	l.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return l.activeFromMemory(id)
}

// ActiveRideForRider returns the rider's non-terminal ride, if any.
func (l *Ledger) ActiveRideForRider(ctx context.Context, riderID string) (*ride.Ride, bool) {
	l.mu.RLock()
	id, ok := l.activeByRider[riderID]
	l.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return l.activeFromMemory(id)
}

func (l *Ledger) activeFromMemory(id string) (*ride.Ride, bool) {
	l.mu.RLock()
	e, ok := l.rides[id]
	l.mu.RUnlock()
	if !ok {
		return nil, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted || e.ride.Status.IsTerminal() {
		return nil, false
	}
	return e.ride.Clone(), true
}

// ListActiveByDriver lists the rides a driver is working. A driver holds at
// most one, so the result has zero or one element.
func (l *Ledger) ListActiveByDriver(ctx context.Context, driverID string) []*ride.Ride {
	r, ok := l.ActiveRideForDriver(ctx, driverID)
	if !ok {
		return []*ride.Ride{}
	}
	return []*ride.Ride{r}
}

// ListByRider returns a rider's rides, newest first. Rides in memory take
// precedence over stored snapshots of the same id.
func (l *Ledger) ListByRider(ctx context.Context, riderID string, limit int) ([]*ride.Ride, error) {
	if limit <= 0 {
		limit = 20
	}

	byID := make(map[string]*ride.Ride)
	if l.store != nil {
		stored, err := l.store.ListByRider(ctx, riderID, limit)
		if err != nil {
			return nil, apperrors.ServiceUnavailable("Ride history unavailable", err)
		}
		for _, r := range stored {
			byID[r.ID] = r
		}
	}

	l.mu.RLock()
	ids := append([]string(nil), l.byRider[riderID]...)
	entries := make([]*entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := l.rides[id]; ok {
			entries = append(entries, e)
		}
	}
	l.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		if !e.evicted {
			byID[e.ride.ID] = e.ride.Clone()
		}
		e.mu.Unlock()
	}

	return newestFirst(byID, limit), nil
}

// ListByStatus returns rides in any of statuses, newest first. With no
// statuses every ride is listed. Rides in memory take precedence over stored
// snapshots of the same id.
func (l *Ledger) ListByStatus(ctx context.Context, limit int, statuses ...ride.Status) ([]*ride.Ride, error) {
	if limit <= 0 {
		limit = 20
	}
	wanted := make(map[ride.Status]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}

	byID := make(map[string]*ride.Ride)
	if l.store != nil {
		stored, err := l.store.ListByStatus(ctx, statuses, limit)
		if err != nil {
			return nil, apperrors.ServiceUnavailable("Ride listing unavailable", err)
		}
		for _, r := range stored {
			byID[r.ID] = r
		}
	}

	l.mu.RLock()
	entries := make([]*entry, 0, len(l.rides))
	for _, e := range l.rides {
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		if !e.evicted {
			if len(wanted) == 0 || wanted[e.ride.Status] {
				byID[e.ride.ID] = e.ride.Clone()
			} else {
				// The stored snapshot may predate the ride's current status.
				delete(byID, e.ride.ID)
			}
		}
		e.mu.Unlock()
	}
	return newestFirst(byID, limit), nil
}

// ListActive returns rides that have not settled yet, newest first.
func (l *Ledger) ListActive(ctx context.Context, limit int) ([]*ride.Ride, error) {
	return l.ListByStatus(ctx, limit, ride.ActiveStatuses...)
}

func newestFirst(byID map[string]*ride.Ride, limit int) []*ride.Ride {
	rides := make([]*ride.Ride, 0, len(byID))
	for _, r := range byID {
		rides = append(rides, r)
	}
	sort.Slice(rides, func(i, j int) bool {
		if !rides[i].CreatedAt.Equal(rides[j].CreatedAt) {
			return rides[i].CreatedAt.After(rides[j].CreatedAt)
		}
		return rides[i].ID > rides[j].ID
	})
	if len(rides) > limit {
		rides = rides[:limit]
	}
	return rides
}

// PruneTerminal drops terminal rides last updated before cutoff from memory.
// Pruned rides stay readable through the store. Without a store memory is
// the only record, so nothing is pruned.
func (l *Ledger) PruneTerminal(cutoff time.Time) int {
	if l.store == nil {
		return 0
	}

	l.mu.RLock()
	entries := make([]*entry, 0, len(l.rides))
	for _, e := range l.rides {
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	pruned := 0
	for _, e := range entries {
		e.mu.Lock()
		if !e.evicted && e.ride.Status.IsTerminal() && e.ride.UpdatedAt.Before(cutoff) {
			e.evicted = true
			id, riderID := e.ride.ID, e.ride.RiderID

			l.mu.Lock()
			delete(l.rides, id)
			if rest := without(l.byRider[riderID], id); len(rest) > 0 {
				l.byRider[riderID] = rest
			} else {
				delete(l.byRider, riderID)
			}
			l.mu.Unlock()
			pruned++
		}
		e.mu.Unlock()
	}
	return pruned
}

// Len returns the number of rides held in memory.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.rides)
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
