package model

import (
	"fmt"
	"math"
)

// EarthRadiusKm is the mean earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0088

// Coordinates is a WGS84 position in decimal degrees.
type Coordinates struct {
	Lat float64 `json:"latitude" yaml:"latitude"`
	Lng float64 `json:"longitude" yaml:"longitude"`
}

// IsZero reports whether c is the zero value, which is treated as unknown.
func (c Coordinates) IsZero() bool { return c.Lat == 0 && c.Lng == 0 }

// Validate checks that the coordinates are finite and within range.
func (c Coordinates) Validate() error {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return fmt.Errorf("coordinates must be finite")
	}
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("latitude %f out of range", c.Lat)
	}
	if c.Lng < -180 || c.Lng > 180 {
		return fmt.Errorf("longitude %f out of range", c.Lng)
	}
	return nil
}

// Distance returns the haversine great-circle distance between a and b in km.
func Distance(a, b Coordinates) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// Midpoint returns the point halfway between a and b along a straight
// interpolation of the coordinates. It is accurate enough for the short
// distances an ambulance covers.
func Midpoint(a, b Coordinates) Coordinates {
	return Coordinates{Lat: (a.Lat + b.Lat) / 2, Lng: (a.Lng + b.Lng) / 2}
}

func (c Coordinates) String() string { return fmt.Sprintf("%.5f,%.5f", c.Lat, c.Lng) }
