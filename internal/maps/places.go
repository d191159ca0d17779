package maps

import (
	"context"
	"fmt"

	"github.com/gocomet/ride-dispatch/internal/domain/geo"
	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	gmaps "googlemaps.github.io/maps"
)

// Prediction is one autocomplete candidate.
type Prediction struct {
	PlaceID       string `json:"place_id"`
	Description   string `json:"description"`
	MainText      string `json:"main_text"`
	SecondaryText string `json:"secondary_text"`
}

// Places resolves free text into addresses with coordinates.
type Places interface {
	Predict(ctx context.Context, text string) ([]Prediction, error)
	Details(ctx context.Context, placeID string) (ride.Place, error)
}

var detailFields = []gmaps.PlaceDetailsFieldMask{
	gmaps.PlaceDetailsFieldMaskPlaceID,
	gmaps.PlaceDetailsFieldMaskName,
	gmaps.PlaceDetailsFieldMaskFormattedAddress,
	gmaps.PlaceDetailsFieldMaskGeometry,
}

// GooglePlaces handles interactions with the Google Places API.
type GooglePlaces struct {
	client   *gmaps.Client
	language string
	// countries restricts predictions, e.g. ["np"]
	countries []string
}

// NewGooglePlaces creates a Places client with the given API key.
func NewGooglePlaces(apiKey, language string, countries []string) (*GooglePlaces, error) {
	client, err := gmaps.NewClient(gmaps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GooglePlaces{client: client, language: language, countries: countries}, nil
}

// Predict returns autocomplete candidates for text.
func (p *GooglePlaces) Predict(ctx context.Context, text string) ([]Prediction, error) {
	r := &gmaps.PlaceAutocompleteRequest{
		Input:    text,
		Language: p.language,
	}
	if len(p.countries) > 0 {
		r.Components = map[gmaps.Component][]string{gmaps.ComponentCountry: p.countries}
	}

	resp, err := p.client.PlaceAutocomplete(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("places autocomplete failed: %w", err)
	}

	predictions := make([]Prediction, 0, len(resp.Predictions))
	for _, pr := range resp.Predictions {
		predictions = append(predictions, Prediction{
			PlaceID:       pr.PlaceID,
			Description:   pr.Description,
			MainText:      pr.StructuredFormatting.MainText,
			SecondaryText: pr.StructuredFormatting.SecondaryText,
		})
	}
	return predictions, nil
}

// Details resolves a place id to an address and coordinates.
func (p *GooglePlaces) Details(ctx context.Context, placeID string) (ride.Place, error) {
	res, err := p.client.PlaceDetails(ctx, &gmaps.PlaceDetailsRequest{
		PlaceID:  placeID,
		Language: p.language,
		Fields:   detailFields,
	})
	if err != nil {
		return ride.Place{}, fmt.Errorf("place details failed: %w", err)
	}

	address := res.FormattedAddress
	if address == "" {
		address = res.Name
	}
	return ride.Place{
		Address: address,
		Coordinates: geo.Point{
			Lat: res.Geometry.Location.Lat,
			Lng: res.Geometry.Location.Lng,
		},
	}, nil
}
