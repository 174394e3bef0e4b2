// Package geo holds the great-circle math shared by ingest, panic and the
// geofence evaluator.
package geo

import (
	"math"

	dErrors "kinwatch/pkg/domain-errors"
)

// EarthRadiusMeters is the mean Earth radius used by DistanceMeters.
const EarthRadiusMeters = 6371000.0

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// ErrCoordinatesOutOfRange rejects latitude outside [-90, 90], longitude
// outside [-180, 180], and NaN.
var ErrCoordinatesOutOfRange = dErrors.New(dErrors.CodeValidation, "coordinates out of range")

// ValidateCoordinates returns ErrCoordinatesOutOfRange for invalid input.
func ValidateCoordinates(lat, lon float64) error {
	if !(lat >= -90 && lat <= 90) || !(lon >= -180 && lon <= 180) {
		return ErrCoordinatesOutOfRange
	}
	return nil
}

// DistanceMeters is the haversine distance between a and b.
func DistanceMeters(a, b Point) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLon := radians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Within reports whether p lies inside the circle, boundary included.
func Within(p, center Point, radiusMeters float64) bool {
	return DistanceMeters(p, center) <= radiusMeters
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
