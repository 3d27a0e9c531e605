package geospatial

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Haversine returns the great-circle distance in meters between two points,
// on the WGS 84 equatorial radius used by orb.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	return geo.DistanceHaversine(orb.Point{lon1, lat1}, orb.Point{lon2, lat2})
}

// DiagonalMeters is the corner to corner length of the box spanned by two
// arbitrary corners.
func DiagonalMeters(lat1, lon1, lat2, lon2 float64) float64 {
	minLat, minLon, maxLat, maxLon := Normalize(lat1, lon1, lat2, lon2)
	return Haversine(minLat, minLon, maxLat, maxLon)
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
