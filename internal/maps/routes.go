// Package maps wraps the external places lookup and trip estimator used
// before a ride is created.
package maps

import (
	"context"
	"fmt"

	"github.com/gocomet/ride-dispatch/internal/domain/geo"
	gmaps "googlemaps.github.io/maps"
)

// Estimate is the road distance and travel time between two points.
type Estimate struct {
	DistanceMeters  float64 `json:"distance_meters"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Estimator computes trip metrics between two points.
type Estimator interface {
	Estimate(ctx context.Context, origin, destination geo.Point) (Estimate, error)
}

// GoogleRoutes estimates trips with the Directions API in driving mode.
type GoogleRoutes struct {
	client   *gmaps.Client
	language string
	region   string
}

// NewGoogleRoutes creates a Directions backed estimator with the given API key.
func NewGoogleRoutes(apiKey, language, region string) (*GoogleRoutes, error) {
	client, err := gmaps.NewClient(gmaps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleRoutes{client: client, language: language, region: region}, nil
}

// Estimate returns the first route's totals across all legs.
func (g *GoogleRoutes) Estimate(ctx context.Context, origin, destination geo.Point) (Estimate, error) {
	r := &gmaps.DirectionsRequest{
		Origin:      origin.String(),
		Destination: destination.String(),
		Mode:        gmaps.TravelModeDriving,
		Language:    g.language,
		Region:      g.region,
	}

	routes, _, err := g.client.Directions(ctx, r)
	if err != nil {
		return Estimate{}, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return Estimate{}, fmt.Errorf("no route found")
	}

	var est Estimate
	for _, leg := range routes[0].Legs {
		est.DistanceMeters += float64(leg.Distance.Meters)
		est.DurationSeconds += leg.Duration.Seconds()
	}
	return est, nil
}
