package maps

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gocomet/ride-dispatch/internal/domain/geo"
	"github.com/gocomet/ride-dispatch/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	thamel = geo.Point{Lat: 27.7172, Lng: 85.3240}
	patan  = geo.Point{Lat: 27.7200, Lng: 85.3300}
)

type countingEstimator struct {
	calls int
	est   Estimate
	err   error
}

func (c *countingEstimator) Estimate(context.Context, geo.Point, geo.Point) (Estimate, error) {
	c.calls++
	return c.est, c.err
}

func TestStraightLineEstimator(t *testing.T) {
	s := NewStraightLineEstimator(0, 0)

	est, err := s.Estimate(context.Background(), thamel, patan)
	require.NoError(t, err)

	straight := geo.DistanceMeters(thamel, patan)
	assert.InDelta(t, straight*1.3, est.DistanceMeters, 1)
	assert.InDelta(t, est.DistanceMeters/(25.0/3.6), est.DurationSeconds, 1)

	same, err := s.Estimate(context.Background(), thamel, thamel)
	require.NoError(t, err)
	assert.Zero(t, same.DistanceMeters)

	_, err = s.Estimate(context.Background(), geo.Point{Lat: 91}, patan)
	assert.Error(t, err)
}

func TestFallbackEstimator(t *testing.T) {
	tests := []struct {
		name      string
		primary   *countingEstimator
		secondary *countingEstimator
		want      Estimate
		wantErr   bool
	}{
		{
			name:      "primary succeeds",
			primary:   &countingEstimator{est: Estimate{DistanceMeters: 1000, DurationSeconds: 120}},
			secondary: &countingEstimator{est: Estimate{DistanceMeters: 9}},
			want:      Estimate{DistanceMeters: 1000, DurationSeconds: 120},
		},
		{
			name:      "primary fails",
			primary:   &countingEstimator{err: errors.New("quota exceeded")},
			secondary: &countingEstimator{est: Estimate{DistanceMeters: 900, DurationSeconds: 100}},
			want:      Estimate{DistanceMeters: 900, DurationSeconds: 100},
		},
		{
			name:      "both fail",
			primary:   &countingEstimator{err: errors.New("quota exceeded")},
			secondary: &countingEstimator{err: errors.New("bad input")},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFallbackEstimator(tt.primary, tt.secondary, logger.NewNop())
			got, err := f.Estimate(context.Background(), thamel, patan)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCachedEstimator(t *testing.T) {
	inner := &countingEstimator{est: Estimate{DistanceMeters: 1200, DurationSeconds: 180}}
	c := NewCachedEstimator(inner, time.Minute, 0)
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		got, err := c.Estimate(context.Background(), thamel, patan)
		require.NoError(t, err)
		assert.Equal(t, 1200.0, got.DistanceMeters)
	}
	assert.Equal(t, 1, inner.calls)

	nearby := geo.Point{Lat: thamel.Lat + 0.00001, Lng: thamel.Lng}
	_, err := c.Estimate(context.Background(), nearby, patan)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls, "points within rounding share an entry")

	now = now.Add(2 * time.Minute)
	_, err = c.Estimate(context.Background(), thamel, patan)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedEstimator_DoesNotCacheErrors(t *testing.T) {
	inner := &countingEstimator{err: errors.New("timeout")}
	c := NewCachedEstimator(inner, time.Minute, 10)

	_, err := c.Estimate(context.Background(), thamel, patan)
	assert.Error(t, err)
	_, err = c.Estimate(context.Background(), thamel, patan)
	assert.Error(t, err)
	assert.Equal(t, 2, inner.calls)
}
