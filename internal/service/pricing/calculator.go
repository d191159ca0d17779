package pricing

import (
	"math"

	apperrors "github.com/gocomet/ride-dispatch/pkg/errors"
)

// Rates holds the tariff applied to a trip
type Rates struct {
	BaseFare      float64
	PerKMRate     float64
	PerMinuteRate float64
	// MinimumFare floors the total when positive.
	MinimumFare float64
}

// FareBreakdown represents the breakdown of a fare
type FareBreakdown struct {
	BaseFare     float64 `json:"base_fare"`
	DistanceFare float64 `json:"distance_fare"`
	TimeFare     float64 `json:"time_fare"`
	Total        int64   `json:"total"`
}

// ComputeFare prices a trip. The total is rounded half-up to whole currency units.
func ComputeFare(distanceMeters, durationSeconds float64, rates Rates) (FareBreakdown, error) {
	if invalid(distanceMeters) || invalid(durationSeconds) {
		return FareBreakdown{}, apperrors.InvalidInput("distance and duration must be non-negative", nil)
	}
	if invalid(rates.BaseFare) || invalid(rates.PerKMRate) || invalid(rates.PerMinuteRate) {
		return FareBreakdown{}, apperrors.InvalidInput("fare rates must be non-negative", nil)
	}

	distanceFare := (distanceMeters / 1000) * rates.PerKMRate
	timeFare := (durationSeconds / 60) * rates.PerMinuteRate
	total := roundHalfUp(rates.BaseFare + distanceFare + timeFare)

	if rates.MinimumFare > 0 && float64(total) < rates.MinimumFare {
		total = roundHalfUp(rates.MinimumFare)
	}

	return FareBreakdown{
		BaseFare:     rates.BaseFare,
		DistanceFare: distanceFare,
		TimeFare:     timeFare,
		Total:        total,
	}, nil
}

func invalid(v float64) bool {
	return v < 0 || math.IsNaN(v) || math.IsInf(v, 0)
}

// roundHalfUp rounds half away from zero, which is half-up for the
// non-negative amounts priced here.
func roundHalfUp(v float64) int64 {
	return int64(math.Round(v))
}

// Calculator prices trips with the configured tariff
type Calculator struct {
	rates Rates
}

// NewCalculator creates a new fare calculator
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Rates returns the configured tariff
func (c *Calculator) Rates() Rates {
	return c.rates
}

// Quote prices a trip with the configured tariff
func (c *Calculator) Quote(distanceMeters, durationSeconds float64) (FareBreakdown, error) {
	return ComputeFare(distanceMeters, durationSeconds, c.rates)
}
