package geospatial

import (
	"math"

	"github.com/paulmach/orb"
)

// DefaultMarginDegrees is the buffer added around a queried box: 0.01 degrees
// of latitude, roughly 1.1 km.
const DefaultMarginDegrees = 0.01

// Normalize orders two arbitrary corners into a (min, max) box.
func Normalize(lat1, lon1, lat2, lon2 float64) (minLat, minLon, maxLat, maxLon float64) {
	return math.Min(lat1, lat2), math.Min(lon1, lon2), math.Max(lat1, lat2), math.Max(lon1, lon2)
}

// ExpandBounds normalizes two corners and widens the resulting box by margin
// degrees of latitude on every side. Longitude margins are divided by the
// cosine of the corner's own unexpanded latitude so that each side moves by
// the same physical distance; the two longitude margins are therefore
// generally different.
//
// Not defined near the poles, where cos(lat) tends to zero, or across the
// anti-meridian.
func ExpandBounds(lat1, lon1, lat2, lon2, margin float64) (minLat, minLon, maxLat, maxLon float64) {
	minLat, minLon, maxLat, maxLon = Normalize(lat1, lon1, lat2, lon2)

	minLon -= LongitudeMargin(minLat, margin)
	maxLon += LongitudeMargin(maxLat, margin)
	minLat -= margin
	maxLat += margin

	return minLat, minLon, maxLat, maxLon
}

// LongitudeMargin converts a latitude-degree margin into the longitude-degree
// margin covering the same distance at lat.
func LongitudeMargin(lat, margin float64) float64 {
	return margin / math.Cos(toRad(lat))
}

// Bound returns the orb bound for a (min, max) box.
func Bound(minLat, minLon, maxLat, maxLon float64) orb.Bound {
	return orb.Bound{
		Min: orb.Point{minLon, minLat},
		Max: orb.Point{maxLon, maxLat},
	}
}

// Contains reports whether (lat, lon) lies inside the box, bounds included.
func Contains(b orb.Bound, lat, lon float64) bool {
	return b.Contains(orb.Point{lon, lat})
}

// ValidLatLon reports whether the point lies within WGS 84 ranges.
func ValidLatLon(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
