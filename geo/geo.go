// Package geo provides the coordinate type and the short-range distance
// approximation used to pick the nearest store.
//
// Distances are computed with an equirectangular approximation: the latitude
// and longitude deltas are scaled by fixed kilometres-per-degree factors and
// combined with the Euclidean norm. The longitude factor is fixed for the
// latitude band of southern Ontario, so results are only meaningful for short
// ranges inside that region.
package geo

import (
	"fmt"
	"math"
)

const (
	// KmPerDegreeLat is the length of one degree of latitude in kilometres.
	KmPerDegreeLat = 111.0

	// KmPerDegreeLng is the length of one degree of longitude in kilometres
	// at roughly 45°N.
	KmPerDegreeLng = 78.4
)

// DefaultLocation is the fallback coordinate used when the user's position is
// unknown: the Bay & Front store in downtown Toronto.
var DefaultLocation = Location{Latitude: 43.647219, Longitude: -79.3789987}

// Location is a latitude/longitude pair in decimal degrees.
type Location struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// String returns the location formatted as "lat,lng".
func (l Location) String() string {
	return fmt.Sprintf("%.6f,%.6f", l.Latitude, l.Longitude)
}

// Valid reports whether the location is a finite coordinate within the
// latitude and longitude ranges.
func (l Location) Valid() bool {
	if math.IsNaN(l.Latitude) || math.IsNaN(l.Longitude) {
		return false
	}
	return l.Latitude >= -90 && l.Latitude <= 90 &&
		l.Longitude >= -180 && l.Longitude <= 180
}

// Distance returns the approximate distance between a and b in kilometres.
//
// Distance is symmetric: Distance(a, b) == Distance(b, a) for all inputs.
func Distance(a, b Location) float64 {
	x := KmPerDegreeLat * (a.Latitude - b.Latitude)
	y := KmPerDegreeLng * (a.Longitude - b.Longitude)
	return math.Sqrt(x*x + y*y)
}

// FormatKm renders a distance the way it is shown next to a store.
func FormatKm(km float64) string {
	return fmt.Sprintf("%.1f km", km)
}
