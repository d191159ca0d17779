package maps

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gocomet/ride-dispatch/internal/domain/geo"
	"github.com/gocomet/ride-dispatch/pkg/logger"
)

// StraightLineEstimator approximates road distance from the great-circle
// distance. Used when no routing API is configured or it is failing.
type StraightLineEstimator struct {
	// RoadFactor scales haversine distance to expected road distance.
	RoadFactor float64
	// SpeedKPH is the assumed average city speed.
	SpeedKPH float64
}

// NewStraightLineEstimator creates an estimator with sane defaults for
// non-positive arguments.
func NewStraightLineEstimator(roadFactor, speedKPH float64) *StraightLineEstimator {
	if roadFactor <= 0 {
		roadFactor = 1.3
	}
	if speedKPH <= 0 {
		speedKPH = 25
	}
	return &StraightLineEstimator{RoadFactor: roadFactor, SpeedKPH: speedKPH}
}

func (s *StraightLineEstimator) Estimate(_ context.Context, origin, destination geo.Point) (Estimate, error) {
	if err := origin.Validate(); err != nil {
		return Estimate{}, err
	}
	if err := destination.Validate(); err != nil {
		return Estimate{}, err
	}

	distance := geo.DistanceMeters(origin, destination) * s.RoadFactor
	metersPerSecond := s.SpeedKPH * 1000 / 3600
	return Estimate{
		DistanceMeters:  math.Round(distance),
		DurationSeconds: math.Round(distance / metersPerSecond),
	}, nil
}

// FallbackEstimator asks Primary first and Secondary when Primary fails.
type FallbackEstimator struct {
	Primary   Estimator
	Secondary Estimator
	logger    *logger.Logger
}

// NewFallbackEstimator chains two estimators
func NewFallbackEstimator(primary, secondary Estimator, log *logger.Logger) *FallbackEstimator {
	return &FallbackEstimator{Primary: primary, Secondary: secondary, logger: log}
}

func (f *FallbackEstimator) Estimate(ctx context.Context, origin, destination geo.Point) (Estimate, error) {
	est, err := f.Primary.Estimate(ctx, origin, destination)
	if err == nil {
		return est, nil
	}

	f.logger.Warn("Primary estimator failed, falling back",
		logger.String("origin", origin.String()),
		logger.String("destination", destination.String()),
		logger.Err(err),
	)
	est, fallbackErr := f.Secondary.Estimate(ctx, origin, destination)
	if fallbackErr != nil {
		return Estimate{}, fmt.Errorf("all estimators failed: %w", fallbackErr)
	}
	return est, nil
}

type cachedEstimate struct {
	estimate  Estimate
	expiresAt time.Time
}

// CachedEstimator memoises estimates for repeated origin/destination pairs.
// Coordinates are rounded to roughly 10 m before keying.
type CachedEstimator struct {
	next    Estimator
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]cachedEstimate
}

// NewCachedEstimator wraps next with a TTL cache holding at most maxSize pairs.
func NewCachedEstimator(next Estimator, ttl time.Duration, maxSize int) *CachedEstimator {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &CachedEstimator{
		next:    next,
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		entries: make(map[string]cachedEstimate),
	}
}

func (c *CachedEstimator) Estimate(ctx context.Context, origin, destination geo.Point) (Estimate, error) {
	key := cacheKey(origin, destination)
	now := c.now()

	c.mu.Lock()
	if hit, ok := c.entries[key]; ok && now.Before(hit.expiresAt) {
		c.mu.Unlock()
		return hit.estimate, nil
	}
	c.mu.Unlock()

	est, err := c.next.Estimate(ctx, origin, destination)
	if err != nil {
		return Estimate{}, err
	}

	c.mu.Lock()
	if len(c.entries) >= c.maxSize {
		c.evictExpired(now)
	}
	if len(c.entries) < c.maxSize {
		c.entries[key] = cachedEstimate{estimate: est, expiresAt: now.Add(c.ttl)}
	}
	c.mu.Unlock()
	return est, nil
}

func (c *CachedEstimator) evictExpired(now time.Time) {
	for k, v := range c.entries {
		if !now.Before(v.expiresAt) {
			delete(c.entries, k)
		}
	}
}

func cacheKey(origin, destination geo.Point) string {
	return fmt.Sprintf("%.4f,%.4f:%.4f,%.4f", origin.Lat, origin.Lng, destination.Lat, destination.Lng)
}
