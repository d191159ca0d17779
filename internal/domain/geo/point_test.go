package geo

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistanceMeters(t *testing.T) {
	kathmandu := Point{Lat: 27.7172, Lng: 85.3240}

	assert.Equal(t, 0.0, DistanceMeters(kathmandu, kathmandu))

	// ~0.001 deg of latitude is ~111 m
	north := Point{Lat: 27.7182, Lng: 85.3240}
	assert.InDelta(t, 111.2, DistanceMeters(kathmandu, north), 0.5)

	dest := Point{Lat: 27.7200, Lng: 85.3300}
	d := DistanceMeters(kathmandu, dest)
	assert.InDelta(t, d, DistanceMeters(dest, kathmandu), 1e-9, "distance is symmetric")
	assert.InDelta(t, 670, d, 15)
}

func TestPointValidate(t *testing.T) {
	tests := []struct {
		name    string
		point   Point
		wantErr bool
	}{
		{"valid", Point{Lat: 27.7, Lng: 85.3}, false},
		{"poles and antimeridian", Point{Lat: -90, Lng: 180}, false},
		{"latitude too high", Point{Lat: 91, Lng: 0}, true},
		{"longitude too low", Point{Lat: 0, Lng: -181}, true},
		{"NaN", Point{Lat: math.NaN(), Lng: 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.point.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBoundingBox_ContainsCircle(t *testing.T) {
	center := Point{Lat: 27.7172, Lng: 85.3240}
	minLat, minLng, maxLat, maxLng := BoundingBox(center, 1000)

	assert.InDelta(t, 1000, DistanceMeters(center, Point{Lat: maxLat, Lng: center.Lng}), 1)
	assert.InDelta(t, 1000, DistanceMeters(center, Point{Lat: center.Lat, Lng: maxLng}), 5)
	assert.Less(t, minLat, center.Lat)
	assert.Less(t, minLng, center.Lng)
}

func TestPointUnmarshalJSON(t *testing.T) {
	var p Point
	require.NoError(t, json.Unmarshal([]byte(`{"lat": 0, "lng": 85.324}`), &p))
	assert.Equal(t, Point{Lat: 0, Lng: 85.324}, p)

	for _, body := range []string{`{}`, `{"lat": 27.7}`, `{"lng": 85.3}`} {
		var got Point
		assert.Error(t, json.Unmarshal([]byte(body), &got), body)
	}
}
