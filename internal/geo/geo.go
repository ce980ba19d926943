// Package geo provides the geodesy helpers the harvest pipeline needs:
// great-circle distance and heading normalization.
package geo

import "math"

const earthRadiusMeters = 6371000.0

// Haversine returns the great-circle distance in meters between two WGS84
// points.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// NormalizeHeading wraps h into [0, 2π).
func NormalizeHeading(h float64) float64 {
	h = math.Mod(h, 2*math.Pi)
	if h < 0 {
		h += 2 * math.Pi
	}
	return h
}

// HeadingFromDegrees converts a compass heading in degrees clockwise from
// North to radians in [0, 2π).
func HeadingFromDegrees(deg float64) float64 {
	return NormalizeHeading(toRad(deg))
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
