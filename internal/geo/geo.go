// Package geo holds the spherical geometry used by the fix pipeline.
package geo

import (
	"math"
	"sort"

	"github.com/mmcloughlin/geohash"
)

// EarthRadiusMeters is the mean Earth radius used by the haversine formula.
const EarthRadiusMeters = 6371000.0

// CellPrecision is the geohash length used for location cells (~150m).
const CellPrecision = 7

// DistanceMeters returns the great-circle distance between two coordinates.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// SpeedKmh converts a distance covered in the given number of seconds to km/h.
// A non-positive time difference yields +Inf; a zero distance always yields 0.
func SpeedKmh(distanceMeters, timeDiffSeconds float64) float64 {
	if distanceMeters == 0 {
		return 0
	}
	if timeDiffSeconds <= 0 {
		return math.Inf(1)
	}
	return distanceMeters / timeDiffSeconds * 3.6
}

// Median returns the median of values without modifying the input.
// An empty slice yields 0.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// Cell encodes a coordinate as a geohash at CellPrecision.
func Cell(lat, lon float64) string {
	return geohash.EncodeWithPrecision(lat, lon, CellPrecision)
}
